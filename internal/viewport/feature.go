// Package viewport derives what the map shows: which parcel layer is
// authoritative at a zoom level, and the count and ordered sample of the
// features rendered in the current view.
package viewport

import (
	"encoding/json"
	"math"

	"github.com/paulmach/orb"
)

// Feature is a rendered parcel feature as reported by the map.
type Feature struct {
	ID         string         `json:"id" doc:"Stable feature identifier"`
	Layer      Layer          `json:"layer" doc:"Layer that produced the feature"`
	Properties map[string]any `json:"properties" doc:"Feature attributes"`
	Geometry   orb.Geometry   `json:"-"`
}

// Clustered reports whether the feature is a cluster placeholder.
// Any truthy "clustered" value counts.
func (f Feature) Clustered() bool {
	return truthy(f.Properties["clustered"])
}

// PointCount returns the cluster weight, or 0 if absent or not a number.
func (f Feature) PointCount() int {
	switch n := f.Properties["point_count"].(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint32:
		return int(n)
	case uint64:
		return int(n)
	case float32:
		return floatCount(float64(n))
	case float64:
		return floatCount(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		if v, err := n.Float64(); err == nil {
			return floatCount(v)
		}
	}
	return 0
}

// Priority returns the feature's priority_level, or "" if missing or not a string.
func (f Feature) Priority() string {
	s, _ := f.Properties["priority_level"].(string)
	return s
}

// Center returns a representative point for the feature geometry.
func (f Feature) Center() orb.Point {
	if f.Geometry == nil {
		return orb.Point{}
	}
	return f.Geometry.Bound().Center()
}

func floatCount(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int(v)
}

// truthy follows the loose truthiness of the tile attribute values:
// false, 0, NaN, "" and nil are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case uint64:
		return t != 0
	case float64:
		return t != 0 && !math.IsNaN(t)
	case float32:
		return t != 0 && !math.IsNaN(float64(t))
	default:
		return true
	}
}
