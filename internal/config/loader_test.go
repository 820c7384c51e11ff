package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parcels.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 13.0, cfg.View.LayerThreshold)
	assert.Equal(t, 100, cfg.View.SampleCap)
	assert.Equal(t, 16.0, cfg.View.GeocodeZoom)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
view:
  sample_cap: 25
  min_zoom: 8
logging:
  level: debug
storage:
  endpoint: localhost:9000
  bucket: tiles
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.View.SampleCap)
	assert.Equal(t, 8.0, cfg.View.MinZoom)
	assert.Equal(t, 20.0, cfg.View.MaxZoom, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Storage.Publishable())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "view:\n  sample_cap: 25\n")
	t.Setenv("PARCELS_VIEW_SAMPLE_CAP", "50")
	t.Setenv("PARCELS_VIEW_LAYER_THRESHOLD", "14")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.View.SampleCap)
	assert.Equal(t, 14.0, cfg.View.LayerThreshold)
}

func TestLoad_Invalid(t *testing.T) {
	path := writeConfig(t, "view:\n  sample_cap: 0\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "sample_cap")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.View.LayerThreshold = 22
	cfg.View.Center = []float64{1}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "layer_threshold")
	assert.ErrorContains(t, err, "center")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "view.layer_threshold", envKey("PARCELS_VIEW_LAYER_THRESHOLD"))
	assert.Equal(t, "storage.bucket", envKey("PARCELS_STORAGE_BUCKET"))
	assert.Equal(t, "debug", envKey("PARCELS_DEBUG"))
}
