package viewport

import "fmt"

// Layer identifies one of the two parcel feature representations.
type Layer string

const (
	// LayerPoints is the aggregated representation: centroids, clustered
	// at low zoom.
	LayerPoints Layer = "vacant_properties_tiles_points"
	// LayerPolygons is the detailed parcel outline representation.
	LayerPolygons Layer = "vacant_properties_tiles_polygons"
)

// DefaultLayerThreshold is the zoom at which polygons become authoritative.
const DefaultLayerThreshold = 13.0

// Layers lists both parcel layers. Filters are always applied to all of them.
func Layers() []Layer {
	return []Layer{LayerPolygons, LayerPoints}
}

// ParseLayer validates a layer identifier.
func ParseLayer(id string) (Layer, error) {
	switch l := Layer(id); l {
	case LayerPoints, LayerPolygons:
		return l, nil
	}
	return "", fmt.Errorf("unknown layer %q", id)
}

// Detailed reports whether the layer is the polygon representation.
func (l Layer) Detailed() bool {
	return l == LayerPolygons
}

// SelectLayer returns the authoritative layer for a zoom level: polygons at
// or above threshold, points below it. NaN selects points.
func SelectLayer(zoom, threshold float64) Layer {
	if zoom >= threshold {
		return LayerPolygons
	}
	return LayerPoints
}
