package mapview

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-parcels/internal/filter"
	"github.com/joeblew999/plat-parcels/internal/viewport"
)

// fakeMap records calls and serves canned features per layer.
type fakeMap struct {
	mu       sync.Mutex
	calls    []string
	filters  map[string]filter.Expression
	features map[viewport.Layer][]viewport.Feature
	hits     []viewport.Feature
	hitOrder []string
	queryErr error
	setErr   error
	center   orb.Point
	zoom     float64
	controls []string
}

func newFakeMap(zoom float64) *fakeMap {
	return &fakeMap{
		filters:  make(map[string]filter.Expression),
		features: make(map[viewport.Layer][]viewport.Feature),
		zoom:     zoom,
		center:   orb.Point{-75.16, 39.99},
	}
}

func (f *fakeMap) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeMap) SetFilter(layerID string, expr filter.Expression) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("filter:" + layerID)
	if f.setErr != nil {
		return f.setErr
	}
	f.filters[layerID] = expr
	return nil
}

func (f *fakeMap) QueryRenderedFeatures(region *orb.Bound, layers []string) ([]viewport.Feature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if region != nil {
		f.record("point-query")
		f.hitOrder = layers
		return f.hits, f.queryErr
	}
	f.record("query:" + layers[0])
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.features[viewport.Layer(layers[0])], nil
}

func (f *fakeMap) Zoom() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.zoom
}

func (f *fakeMap) Center() orb.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.center
}

func (f *fakeMap) Bounds() orb.Bound {
	c := f.Center()
	return orb.Bound{Min: c, Max: c}.Pad(0.01)
}

func (f *fakeMap) JumpTo(center orb.Point, zoom float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.center = center
	if !math.IsNaN(zoom) {
		f.zoom = zoom
	}
}

func (f *fakeMap) AddControl(c Control, _ Position) error {
	f.mu.Lock()
	f.record("add:" + c.ID())
	f.controls = append(f.controls, c.ID())
	f.mu.Unlock()
	c.OnAdd(f)
	return nil
}

func (f *fakeMap) RemoveControl(c Control) error {
	f.mu.Lock()
	f.record("remove:" + c.ID())
	f.mu.Unlock()
	c.OnRemove(f)
	return nil
}

func (f *fakeMap) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func (f *fakeMap) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeMap) filterFor(l viewport.Layer) filter.Expression {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filters[string(l)]
}

type fakeGeocoder struct {
	proximity orb.Point
	results   []GeocodeResult
}

func (g *fakeGeocoder) Geocode(_ context.Context, query string, proximity orb.Point, limit int) ([]GeocodeResult, error) {
	g.proximity = proximity
	if query == "fail" {
		return nil, errors.New("geocoder down")
	}
	if len(g.results) > limit {
		return g.results[:limit], nil
	}
	return g.results, nil
}

func pf(id, priority string) viewport.Feature {
	return viewport.Feature{ID: id, Properties: map[string]any{"priority_level": priority}}
}
