package render

import (
	"fmt"
	"maps"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/joeblew999/plat-parcels/internal/viewport"
)

const maxClusterZoom = 22

// clusterZoom is the tile zoom whose cells group points at the given view
// zoom: radius levels finer than the view.
func clusterZoom(zoom float64, radius int) maptile.Zoom {
	z := int(math.Floor(zoom)) + radius
	return maptile.Zoom(max(0, min(maxClusterZoom, z)))
}

type cell struct {
	tile    maptile.Tile
	first   viewport.Feature
	members int
	sum     orb.Point
}

// clusterPoints groups passing points by grid cell. A cell with a single
// member renders the point itself; larger cells render one placeholder
// with the first member's attributes plus clustered and point_count,
// placed at the members' mean position. Output follows source order of
// each cell's first member.
func clusterPoints(points []viewport.Feature, pass *roaring.Bitmap, z maptile.Zoom) []viewport.Feature {
	cells := make(map[maptile.Tile]*cell)
	var order []*cell
	for i, f := range points {
		if !passes(pass, i) {
			continue
		}
		p := f.Geometry.(orb.Point)
		t := maptile.At(p, z)
		c, ok := cells[t]
		if !ok {
			c = &cell{tile: t, first: f}
			cells[t] = c
			order = append(order, c)
		}
		c.members++
		c.sum[0] += p[0]
		c.sum[1] += p[1]
	}

	out := make([]viewport.Feature, 0, len(order))
	for _, c := range order {
		if c.members == 1 {
			out = append(out, copyFeature(c.first))
			continue
		}
		props := maps.Clone(c.first.Properties)
		if props == nil {
			props = map[string]any{}
		}
		props["clustered"] = true
		props["point_count"] = c.members
		n := float64(c.members)
		out = append(out, viewport.Feature{
			ID:         fmt.Sprintf("cluster-%d/%d/%d", c.tile.Z, c.tile.X, c.tile.Y),
			Layer:      viewport.LayerPoints,
			Properties: props,
			Geometry:   orb.Point{c.sum[0] / n, c.sum[1] / n},
		})
	}
	return out
}
