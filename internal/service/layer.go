package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/joeblew999/plat-parcels/internal/mapview"
	"github.com/joeblew999/plat-parcels/internal/viewport"
)

var ErrLayerNotFound = errors.New("layer not found")

// LayerService manages the styles of the two parcel layers. Styles are
// persisted to layers.json in the data directory.
type LayerService struct {
	dataDir string
	bus     *EventBus

	mu     sync.RWMutex
	layers map[string]LayerConfig
}

// NewLayerService seeds the layers with defaults and overlays any styles
// saved earlier. bus may be nil.
func NewLayerService(dataDir string, defaults []LayerConfig, bus *EventBus) *LayerService {
	s := &LayerService{
		dataDir: dataDir,
		bus:     bus,
		layers:  make(map[string]LayerConfig, len(defaults)),
	}
	for _, l := range defaults {
		l.Legend = legendOf(l)
		s.layers[l.ID] = l
	}
	s.loadFromDisk()
	return s
}

// List returns the layers, polygons first.
func (s *LayerService) List() []LayerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]LayerConfig, 0, len(s.layers))
	for _, id := range viewport.Layers() {
		if l, ok := s.layers[string(id)]; ok {
			out = append(out, l)
		}
	}
	return out
}

// Get returns a layer by ID.
func (s *LayerService) Get(id string) (LayerConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	layer, ok := s.layers[id]
	return layer, ok
}

// Update replaces the style of a layer. The ID and geometry type are fixed.
func (s *LayerService) Update(id string, layer LayerConfig) (LayerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.layers[id]
	if !exists {
		return LayerConfig{}, fmt.Errorf("%w: %q", ErrLayerNotFound, id)
	}
	if layer.MaxZoom != 0 && layer.MinZoom > layer.MaxZoom {
		return LayerConfig{}, fmt.Errorf("layer %q: minZoom %.1f above maxZoom %.1f", id, layer.MinZoom, layer.MaxZoom)
	}

	layer.ID = id
	layer.GeomType = cur.GeomType
	layer.Legend = legendOf(layer)
	s.layers[id] = layer
	if err := s.saveToDisk(); err != nil {
		return LayerConfig{}, err
	}
	if s.bus != nil {
		s.bus.Publish(Event{Resource: ResourceLayers, Action: ActionUpdated, ID: id})
	}
	return layer, nil
}

// Legend returns the legend entries of the polygon layer.
func (s *LayerService) Legend() []mapview.LegendItem {
	l, ok := s.Get(string(viewport.LayerPolygons))
	if !ok {
		return nil
	}
	items := make([]mapview.LegendItem, 0, len(l.Legend))
	for _, it := range l.Legend {
		items = append(items, mapview.LegendItem{Label: it.Label, Color: it.Color})
	}
	return items
}

func (s *LayerService) configFile() string {
	return filepath.Join(s.dataDir, "layers.json")
}

// loadFromDisk overlays saved styles onto known layers. Unknown IDs are
// ignored.
func (s *LayerService) loadFromDisk() {
	data, err := os.ReadFile(s.configFile())
	if err != nil {
		return
	}

	var saved map[string]LayerConfig
	if err := json.Unmarshal(data, &saved); err != nil {
		return
	}
	for id, l := range saved {
		cur, ok := s.layers[id]
		if !ok {
			continue
		}
		l.ID = id
		l.GeomType = cur.GeomType
		l.Legend = legendOf(l)
		s.layers[id] = l
	}
}

func (s *LayerService) saveToDisk() error {
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.layers, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.configFile(), data, 0644)
}
