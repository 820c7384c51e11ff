// Package config loads the parcel server's tunables from an optional YAML
// file and PARCELS_* environment variables.
package config

import (
	"errors"
	"fmt"

	"github.com/joeblew999/plat-parcels/internal/logging"
	"github.com/joeblew999/plat-parcels/internal/viewport"
)

// Config is the full configuration tree.
type Config struct {
	View    ViewConfig     `koanf:"view"`
	Logging logging.Config `koanf:"logging"`
	Storage StorageConfig  `koanf:"storage"`
}

// ViewConfig tunes the map viewport for every session.
type ViewConfig struct {
	LayerThreshold float64   `koanf:"layer_threshold"`
	SampleCap      int       `koanf:"sample_cap"`
	MinZoom        float64   `koanf:"min_zoom"`
	MaxZoom        float64   `koanf:"max_zoom"`
	GeocodeZoom    float64   `koanf:"geocode_zoom"`
	ClusterRadius  int       `koanf:"cluster_radius"`
	Center         []float64 `koanf:"center"`
	InitialZoom    float64   `koanf:"initial_zoom"`
	Width          int       `koanf:"width"`
	Height         int       `koanf:"height"`
}

// StorageConfig is the S3-compatible target for published tile archives.
type StorageConfig struct {
	Endpoint  string `koanf:"endpoint"`
	Bucket    string `koanf:"bucket"`
	Prefix    string `koanf:"prefix"`
	Region    string `koanf:"region"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	UseSSL    bool   `koanf:"use_ssl"`
}

// Default returns the built-in configuration, centred on North Philadelphia.
func Default() *Config {
	return &Config{
		View: ViewConfig{
			LayerThreshold: viewport.DefaultLayerThreshold,
			SampleCap:      viewport.DefaultSampleCap,
			MinZoom:        10,
			MaxZoom:        20,
			GeocodeZoom:    16,
			ClusterRadius:  2,
			Center:         []float64{-75.15975924194129, 39.9910071520824},
			InitialZoom:    13,
			Width:          1024,
			Height:         768,
		},
		Logging: logging.NewDefaultConfig(),
		Storage: StorageConfig{
			Region: "us-east-1",
			UseSSL: true,
		},
	}
}

// Validate checks config for inconsistent values.
func (c *Config) Validate() error {
	var errs []error
	v := c.View
	if v.MinZoom < 0 || v.MaxZoom > 24 || v.MinZoom > v.MaxZoom {
		errs = append(errs, fmt.Errorf("view: zoom range [%g, %g] is invalid", v.MinZoom, v.MaxZoom))
	}
	if v.LayerThreshold < v.MinZoom || v.LayerThreshold > v.MaxZoom {
		errs = append(errs, fmt.Errorf("view: layer_threshold %g outside zoom range", v.LayerThreshold))
	}
	if v.InitialZoom < v.MinZoom || v.InitialZoom > v.MaxZoom {
		errs = append(errs, fmt.Errorf("view: initial_zoom %g outside zoom range", v.InitialZoom))
	}
	if v.SampleCap <= 0 {
		errs = append(errs, fmt.Errorf("view: sample_cap must be positive, got %d", v.SampleCap))
	}
	if v.ClusterRadius < 0 || v.ClusterRadius > 8 {
		errs = append(errs, fmt.Errorf("view: cluster_radius must be in [0, 8], got %d", v.ClusterRadius))
	}
	if len(v.Center) != 2 {
		errs = append(errs, fmt.Errorf("view: center must be [lon, lat], got %d values", len(v.Center)))
	}
	if v.Width <= 0 || v.Height <= 0 {
		errs = append(errs, errors.New("view: width and height must be positive"))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	return errors.Join(errs...)
}

// Publishable reports whether enough storage settings exist to upload.
func (s StorageConfig) Publishable() bool {
	return s.Endpoint != "" && s.Bucket != ""
}
