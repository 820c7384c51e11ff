// Package parcel loads vacant-property parcels from GeoJSON and mirrors
// them into DuckDB for address search and ad-hoc SQL.
package parcel

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

var ErrNoParcels = errors.New("no parcels in source")

// Parcel is one vacant property.
type Parcel struct {
	ID         string
	Address    string
	Properties map[string]any
	Geometry   orb.Geometry
}

// Centroid returns the area centroid for polygonal parcels, the point itself
// for point parcels and the bound center otherwise.
func (p Parcel) Centroid() orb.Point {
	switch g := p.Geometry.(type) {
	case orb.Point:
		return g
	case orb.Polygon, orb.MultiPolygon:
		c, area := planar.CentroidArea(g)
		if area != 0 {
			return c
		}
	}
	if p.Geometry == nil {
		return orb.Point{}
	}
	return p.Geometry.Bound().Center()
}

// LoadGeoJSON reads a FeatureCollection from path.
func LoadGeoJSON(path string) ([]Parcel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading geojson: %w", err)
	}
	return DecodeGeoJSON(data)
}

// DecodeGeoJSON parses a FeatureCollection. Features without geometry are
// skipped.
func DecodeGeoJSON(data []byte) ([]Parcel, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing geojson: %w", err)
	}

	parcels := make([]Parcel, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		props := map[string]any(f.Properties.Clone())
		if props == nil {
			props = map[string]any{}
		}
		parcels = append(parcels, Parcel{
			ID:         featureID(f, i),
			Address:    f.Properties.MustString("address", ""),
			Properties: props,
			Geometry:   f.Geometry,
		})
	}
	if len(parcels) == 0 {
		return nil, ErrNoParcels
	}
	return parcels, nil
}

func featureID(f *geojson.Feature, index int) string {
	if id := idString(f.ID); id != "" {
		return id
	}
	if id := idString(f.Properties["opa_id"]); id != "" {
		return id
	}
	return strconv.Itoa(index)
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
