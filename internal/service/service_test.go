package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-parcels/internal/mapview"
	"github.com/joeblew999/plat-parcels/internal/parcel"
	"github.com/joeblew999/plat-parcels/internal/tiles"
	"github.com/joeblew999/plat-parcels/internal/viewport"
)

func TestLayerService_Defaults(t *testing.T) {
	s := NewLayerService(t.TempDir(), DefaultLayers(13, 10, 20), nil)

	layers := s.List()
	require.Len(t, layers, 2)
	assert.Equal(t, string(viewport.LayerPolygons), layers[0].ID)
	assert.Equal(t, string(viewport.LayerPoints), layers[1].ID)
	assert.Equal(t, 3.0, layers[1].Radius)
	assert.Equal(t, 0.7, layers[0].Opacity)

	assert.Equal(t, []mapview.LegendItem{
		{Label: "High", Color: "#FF4500"},
		{Label: "Medium", Color: "#FFD700"},
		{Label: "Low", Color: "#B0E57C"},
	}, s.Legend())
}

func TestLayerService_UpdatePersists(t *testing.T) {
	dir := t.TempDir()
	bus := NewEventBus()
	events := bus.Subscribe()
	defer bus.Unsubscribe(events)

	s := NewLayerService(dir, DefaultLayers(13, 10, 20), bus)
	id := string(viewport.LayerPolygons)
	cur, ok := s.Get(id)
	require.True(t, ok)

	cur.ColorStops = []ColorStop{{Value: "High", Color: "#000000"}}
	cur.GeomType = "point"
	updated, err := s.Update(id, cur)
	require.NoError(t, err)
	assert.Equal(t, "polygon", updated.GeomType, "geometry type is fixed")
	assert.Equal(t, []LegendItem{{Label: "High", Color: "#000000"}}, updated.Legend)

	ev := <-events
	assert.Equal(t, Event{Resource: ResourceLayers, Action: ActionUpdated, ID: id}, ev)

	reloaded := NewLayerService(dir, DefaultLayers(13, 10, 20), nil)
	got, _ := reloaded.Get(id)
	assert.Equal(t, "#000000", got.ColorStops[0].Color)
}

func TestLayerService_UpdateErrors(t *testing.T) {
	s := NewLayerService(t.TempDir(), DefaultLayers(13, 10, 20), nil)

	_, err := s.Update("roads", LayerConfig{Name: "Roads"})
	assert.ErrorIs(t, err, ErrLayerNotFound)

	_, err = s.Update(string(viewport.LayerPoints), LayerConfig{Name: "x", MinZoom: 15, MaxZoom: 12})
	assert.Error(t, err)
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe()
	bus.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)

	bus.Publish(Event{Resource: ResourceSessions})
}

const geojson = `{"type":"FeatureCollection","features":[
 {"type":"Feature","id":"a","geometry":{"type":"Polygon","coordinates":[[[-75.16,39.99],[-75.159,39.99],[-75.159,39.991],[-75.16,39.991],[-75.16,39.99]]]},
  "properties":{"priority_level":"High","address":"1 Main St"}}]}`

func TestSourceService(t *testing.T) {
	dir := t.TempDir()
	s := NewSourceService(dir)

	files, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, files)

	require.NoError(t, os.MkdirAll(s.SourcesDir(), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(s.SourcesDir(), "parcels.geojson"), []byte(geojson), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(s.SourcesDir(), "notes.txt"), []byte("x"), 0644))

	files, err = s.List()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "parcels.geojson", files[0].Name)

	parcels, err := s.Load("parcels.geojson")
	require.NoError(t, err)
	assert.Equal(t, "a", parcels[0].ID)

	_, err = s.Load("../parcels.geojson")
	assert.Error(t, err)
}

func TestTileService_Build(t *testing.T) {
	dir := t.TempDir()
	b := tiles.NewBuilder(nil)
	b.MinZoom, b.MaxZoom = 12, 12
	s := NewTileService(dir, b, nil)

	parcels := []parcel.Parcel{{
		ID:         "a",
		Geometry:   orb.Polygon{{{-75.16, 39.99}, {-75.159, 39.99}, {-75.159, 39.991}, {-75.16, 39.991}, {-75.16, 39.99}}},
		Properties: map[string]any{"priority_level": "High"},
	}}
	tf, err := s.Build(context.Background(), "philly", parcels)
	require.NoError(t, err)
	assert.Equal(t, "philly.pmtiles", tf.Name)
	assert.Equal(t, 12, tf.MinZoom)

	files, err := s.List()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, tf.TileCount, files[0].TileCount)

	_, err = s.Build(context.Background(), "../x", parcels)
	assert.Error(t, err)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", formatSize(512))
	assert.Equal(t, "1.5 KB", formatSize(1536))
	assert.Equal(t, "2.0 MB", formatSize(2<<20))
}
