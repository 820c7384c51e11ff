// Package render is the in-process map engine behind each viewer session.
// It holds the two parcel layers, applies layer filters and answers
// rendered-feature queries for a camera, clustering points at low zoom.
package render

import (
	"maps"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/expr-lang/expr/vm"
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-parcels/internal/parcel"
	"github.com/joeblew999/plat-parcels/internal/viewport"
)

// maxCachedFilters bounds the pass-set cache shared by all sessions.
const maxCachedFilters = 512

// Source is the immutable parcel data every session map draws from.
// Compiled filters and their pass sets are cached and shared.
type Source struct {
	features map[viewport.Layer][]viewport.Feature
	bound    orb.Bound

	mu       sync.Mutex
	programs map[string]*vm.Program
	passSets map[string]*roaring.Bitmap
}

// NewSource builds both layers from parcels: polygons keep the parcel
// geometry, points carry its centroid.
func NewSource(parcels []parcel.Parcel) *Source {
	polygons := make([]viewport.Feature, len(parcels))
	points := make([]viewport.Feature, len(parcels))
	var (
		bound orb.Bound
		seen  bool
	)
	for i, p := range parcels {
		polygons[i] = viewport.Feature{
			ID:         p.ID,
			Layer:      viewport.LayerPolygons,
			Properties: maps.Clone(p.Properties),
			Geometry:   p.Geometry,
		}
		c := p.Centroid()
		points[i] = viewport.Feature{
			ID:         p.ID,
			Layer:      viewport.LayerPoints,
			Properties: maps.Clone(p.Properties),
			Geometry:   c,
		}
		if p.Geometry == nil {
			continue
		}
		if !seen {
			bound, seen = p.Geometry.Bound(), true
		} else {
			bound = bound.Union(p.Geometry.Bound())
		}
	}
	return &Source{
		features: map[viewport.Layer][]viewport.Feature{
			viewport.LayerPolygons: polygons,
			viewport.LayerPoints:   points,
		},
		bound:    bound,
		programs: make(map[string]*vm.Program),
		passSets: make(map[string]*roaring.Bitmap),
	}
}

// Len returns the parcel count.
func (s *Source) Len() int {
	return len(s.features[viewport.LayerPolygons])
}

// Bound returns the extent of all parcels.
func (s *Source) Bound() orb.Bound {
	return s.bound
}

// Features returns the unfiltered features of a layer. Callers must not
// modify them.
func (s *Source) Features(layer viewport.Layer) []viewport.Feature {
	return s.features[layer]
}

// passSet returns the indexes of layer features that satisfy the compiled
// filter program for src.
func (s *Source) passSet(layer viewport.Layer, src string) (*roaring.Bitmap, error) {
	key := string(layer) + "\x00" + src

	s.mu.Lock()
	if bm, ok := s.passSets[key]; ok {
		s.mu.Unlock()
		return bm, nil
	}
	prog, ok := s.programs[src]
	s.mu.Unlock()

	if !ok {
		var err error
		prog, err = compileFilter(src)
		if err != nil {
			return nil, err
		}
	}

	bm := roaring.New()
	for i, f := range s.features[layer] {
		// Attributes the program cannot compare leave the feature out.
		if pass, err := evalFilter(prog, f.Properties); err == nil && pass {
			bm.Add(uint32(i))
		}
	}
	bm.RunOptimize()

	s.mu.Lock()
	if len(s.passSets) >= maxCachedFilters {
		clear(s.passSets)
	}
	if len(s.programs) >= maxCachedFilters {
		clear(s.programs)
	}
	s.programs[src] = prog
	s.passSets[key] = bm
	s.mu.Unlock()
	return bm, nil
}
