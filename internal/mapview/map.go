// Package mapview drives one map viewport: it keeps the rendered parcel
// layers filtered to the current selection and re-derives the visible
// count and sample whenever the view or the filter changes.
package mapview

import (
	"context"
	"errors"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-parcels/internal/filter"
	"github.com/joeblew999/plat-parcels/internal/viewport"
)

var (
	ErrClosed          = errors.New("map session closed")
	ErrNotOpen         = errors.New("map session not open")
	ErrSessionNotFound = errors.New("session not found")
)

// Map is the rendering boundary. Implementations own the drawn layers and
// answer what is currently rendered.
type Map interface {
	// SetFilter replaces the inclusion filter of one layer.
	SetFilter(layerID string, expr filter.Expression) error
	// QueryRenderedFeatures returns what is drawn inside region on the given
	// layers. A nil region means the whole viewport; no layers means all.
	QueryRenderedFeatures(region *orb.Bound, layers []string) ([]viewport.Feature, error)

	Zoom() float64
	Center() orb.Point
	Bounds() orb.Bound
	// JumpTo moves the camera; the zoom may be clamped.
	JumpTo(center orb.Point, zoom float64)

	AddControl(c Control, pos Position) error
	RemoveControl(c Control) error
}

// Position places a control on the map chrome.
type Position string

const (
	TopLeft     Position = "top-left"
	TopRight    Position = "top-right"
	BottomLeft  Position = "bottom-left"
	BottomRight Position = "bottom-right"
)

// Control is a UI widget the map hosts. OnAdd and OnRemove are called by
// the map when the control is attached and detached.
type Control interface {
	ID() string
	OnAdd(m Map)
	OnRemove(m Map)
}

// GeocodeResult is one address match.
type GeocodeResult struct {
	ID       string    `json:"id" doc:"Parcel identifier"`
	Address  string    `json:"address" doc:"Matched address"`
	Center   orb.Point `json:"center" doc:"Longitude, latitude"`
	Distance float64   `json:"distance" doc:"Distance in meters from the proximity point"`
}

// Geocoder resolves free-text addresses.
type Geocoder interface {
	Geocode(ctx context.Context, query string, proximity orb.Point, limit int) ([]GeocodeResult, error)
}
