package render

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"

	"github.com/joeblew999/plat-parcels/internal/filter"
	"github.com/joeblew999/plat-parcels/internal/mapview"
	"github.com/joeblew999/plat-parcels/internal/viewport"
)

var (
	ErrUnknownLayer    = errors.New("unknown layer")
	ErrControlExists   = errors.New("control already added")
	ErrControlNotFound = errors.New("control not found")
)

const (
	tileSize = 512
	// earthCircumference in web mercator meters.
	earthCircumference = 2 * math.Pi * 6378137
	// hitTolerance is the click radius, in pixels, for point features.
	hitTolerance = 4
)

// Options configures a Map.
type Options struct {
	LayerThreshold float64
	MinZoom        float64
	MaxZoom        float64
	ClusterRadius  int
	Width          int
	Height         int
	Center         orb.Point
	Zoom           float64
}

// ControlInfo describes an attached control.
type ControlInfo struct {
	ID       string           `json:"id"`
	Position mapview.Position `json:"position"`
}

type attached struct {
	control  mapview.Control
	position mapview.Position
}

// Map is one session's view of a Source. It is safe for concurrent use.
type Map struct {
	src  *Source
	opts Options

	mu       sync.RWMutex
	center   orb.Point
	zoom     float64
	filters  map[viewport.Layer]*roaring.Bitmap
	exprs    map[viewport.Layer]filter.Expression
	controls []attached
}

var _ mapview.Map = (*Map)(nil)

// NewMap creates a map over src with the camera at opts.Center/opts.Zoom.
func NewMap(src *Source, opts Options) *Map {
	if opts.MaxZoom <= 0 {
		opts.MaxZoom = 22
	}
	if opts.Width <= 0 {
		opts.Width = 1024
	}
	if opts.Height <= 0 {
		opts.Height = 768
	}
	if opts.LayerThreshold == 0 {
		opts.LayerThreshold = viewport.DefaultLayerThreshold
	}
	m := &Map{
		src:     src,
		opts:    opts,
		center:  opts.Center,
		filters: make(map[viewport.Layer]*roaring.Bitmap),
		exprs:   make(map[viewport.Layer]filter.Expression),
	}
	m.zoom = m.clampZoom(opts.Zoom)
	return m
}

// SetFilter replaces the filter of one layer. The expression is compiled
// and evaluated against every feature of the layer before the call returns.
func (m *Map) SetFilter(layerID string, e filter.Expression) error {
	layer, err := viewport.ParseLayer(layerID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownLayer, layerID)
	}
	src, err := translate(e)
	if err != nil {
		return err
	}
	bm, err := m.src.passSet(layer, src)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.filters[layer] = bm
	m.exprs[layer] = slices.Clone(e)
	m.mu.Unlock()
	return nil
}

// Filter returns the expression last applied to a layer, nil if none.
func (m *Map) Filter(layer viewport.Layer) filter.Expression {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.exprs[layer])
}

// QueryRenderedFeatures returns the filtered features drawn inside region.
// Points are clustered below the layer threshold. Results keep source order.
func (m *Map) QueryRenderedFeatures(region *orb.Bound, layers []string) ([]viewport.Feature, error) {
	wanted, err := parseLayers(layers)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	zoom := m.zoom
	view := m.boundsLocked()
	sets := make(map[viewport.Layer]*roaring.Bitmap, len(wanted))
	for _, l := range wanted {
		sets[l] = m.filters[l]
	}
	m.mu.RUnlock()

	q := view
	if region != nil {
		q = *region
	}

	var out []viewport.Feature
	for _, l := range wanted {
		switch l {
		case viewport.LayerPolygons:
			out = append(out, m.queryPolygons(q, sets[l])...)
		case viewport.LayerPoints:
			out = append(out, m.queryPoints(q, zoom, sets[l])...)
		}
	}
	if out == nil {
		out = []viewport.Feature{}
	}
	return out, nil
}

func parseLayers(layers []string) ([]viewport.Layer, error) {
	if len(layers) == 0 {
		return viewport.Layers(), nil
	}
	out := make([]viewport.Layer, 0, len(layers))
	for _, id := range layers {
		l, err := viewport.ParseLayer(id)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownLayer, id)
		}
		out = append(out, l)
	}
	return out, nil
}

func passes(bm *roaring.Bitmap, i int) bool {
	return bm == nil || bm.Contains(uint32(i))
}

func (m *Map) queryPolygons(q orb.Bound, pass *roaring.Bitmap) []viewport.Feature {
	var out []viewport.Feature
	isPoint := q.Min == q.Max
	for i, f := range m.src.Features(viewport.LayerPolygons) {
		if f.Geometry == nil || !passes(pass, i) {
			continue
		}
		if !f.Geometry.Bound().Intersects(q) {
			continue
		}
		if isPoint && !containsPoint(f.Geometry, q.Min) {
			continue
		}
		out = append(out, copyFeature(f))
	}
	return out
}

func containsPoint(g orb.Geometry, p orb.Point) bool {
	switch t := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(t, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(t, p)
	}
	return g.Bound().Contains(p)
}

func (m *Map) queryPoints(q orb.Bound, zoom float64, pass *roaring.Bitmap) []viewport.Feature {
	if q.Min == q.Max {
		q = q.Pad(degreesPerPixel(zoom) * hitTolerance)
	}
	points := m.src.Features(viewport.LayerPoints)

	if zoom >= m.opts.LayerThreshold {
		var out []viewport.Feature
		for i, f := range points {
			if passes(pass, i) && q.Contains(f.Geometry.(orb.Point)) {
				out = append(out, copyFeature(f))
			}
		}
		return out
	}

	var out []viewport.Feature
	for _, c := range clusterPoints(points, pass, clusterZoom(zoom, m.opts.ClusterRadius)) {
		if q.Contains(c.Center()) {
			out = append(out, c)
		}
	}
	return out
}

func copyFeature(f viewport.Feature) viewport.Feature {
	f.Properties = maps.Clone(f.Properties)
	return f
}

// Zoom returns the camera zoom.
func (m *Map) Zoom() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.zoom
}

// Center returns the camera center.
func (m *Map) Center() orb.Point {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.center
}

// Bounds returns the geographic extent of the viewport.
func (m *Map) Bounds() orb.Bound {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.boundsLocked()
}

func (m *Map) boundsLocked() orb.Bound {
	c := project.Point(m.center, project.WGS84.ToMercator)
	mpp := earthCircumference / (tileSize * math.Exp2(m.zoom))
	dx := float64(m.opts.Width) / 2 * mpp
	dy := float64(m.opts.Height) / 2 * mpp
	lo := project.Point(orb.Point{c[0] - dx, c[1] - dy}, project.Mercator.ToWGS84)
	hi := project.Point(orb.Point{c[0] + dx, c[1] + dy}, project.Mercator.ToWGS84)
	return orb.Bound{Min: lo, Max: hi}
}

// JumpTo moves the camera. The zoom is clamped to the configured range and
// a NaN zoom keeps the current one.
func (m *Map) JumpTo(center orb.Point, zoom float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.center = center
	if !math.IsNaN(zoom) {
		m.zoom = m.clampZoom(zoom)
	}
}

func (m *Map) clampZoom(z float64) float64 {
	return math.Max(m.opts.MinZoom, math.Min(m.opts.MaxZoom, z))
}

// AddControl attaches c at pos and calls its OnAdd hook.
func (m *Map) AddControl(c mapview.Control, pos mapview.Position) error {
	m.mu.Lock()
	for _, a := range m.controls {
		if a.control.ID() == c.ID() {
			m.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrControlExists, c.ID())
		}
	}
	m.controls = append(m.controls, attached{control: c, position: pos})
	m.mu.Unlock()

	c.OnAdd(m)
	return nil
}

// RemoveControl detaches c and calls its OnRemove hook.
func (m *Map) RemoveControl(c mapview.Control) error {
	m.mu.Lock()
	idx := slices.IndexFunc(m.controls, func(a attached) bool { return a.control.ID() == c.ID() })
	if idx < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrControlNotFound, c.ID())
	}
	m.controls = slices.Delete(m.controls, idx, idx+1)
	m.mu.Unlock()

	c.OnRemove(m)
	return nil
}

// Controls lists attached controls in attach order.
func (m *Map) Controls() []ControlInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ControlInfo, len(m.controls))
	for i, a := range m.controls {
		out[i] = ControlInfo{ID: a.control.ID(), Position: a.position}
	}
	return out
}

func degreesPerPixel(zoom float64) float64 {
	return 360 / (tileSize * math.Exp2(zoom))
}
