package mapview

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-parcels/internal/filter"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrIgnoredEvent = errors.New("event does not affect the view")
)

// Event is something that requires the view to be re-derived.
type Event interface {
	Trigger() string
}

// FilterChanged carries a new filter state.
type FilterChanged struct {
	State filter.State
}

// Cause says why the viewport settled.
type Cause string

const (
	CauseMoveEnd  Cause = "moveend"
	CauseDataLoad Cause = "data-load"
)

// ViewportChanged reports that the camera stopped moving or layer data
// finished loading. A nil Center keeps the current center.
type ViewportChanged struct {
	Cause  Cause
	Center *orb.Point
	Zoom   float64
}

// Clicked is a point selection on the map.
type Clicked struct {
	Point orb.Point
}

// GeocodeSelected moves the map to a chosen search result.
type GeocodeSelected struct {
	Result GeocodeResult
}

func (FilterChanged) Trigger() string     { return "filter" }
func (e ViewportChanged) Trigger() string { return string(e.Cause) }
func (Clicked) Trigger() string           { return "click" }
func (GeocodeSelected) Trigger() string   { return "geocode" }

// ParseEvent narrows a raw map event payload, as posted by the browser, to
// a typed event. Supported types:
//
//	{"type": "moveend", "zoom": 12.5, "center": [lon, lat]}
//	{"type": "sourcedata", "isSourceLoaded": true, "zoom": 12.5}
//	{"type": "click", "lngLat": [lon, lat]}
//	{"type": "geocode", "result": {"center": [lon, lat], "address": "..."}}
//
// A sourcedata event for a source that is still loading returns
// ErrIgnoredEvent.
func ParseEvent(raw map[string]any) (Event, error) {
	typ, _ := raw["type"].(string)
	switch typ {
	case "moveend":
		return parseViewport(raw, CauseMoveEnd)
	case "sourcedata":
		if loaded, _ := raw["isSourceLoaded"].(bool); !loaded {
			return nil, ErrIgnoredEvent
		}
		return parseViewport(raw, CauseDataLoad)
	case "click":
		p, err := parsePoint(raw["lngLat"])
		if err != nil {
			return nil, fmt.Errorf("click: %w", err)
		}
		return Clicked{Point: p}, nil
	case "geocode":
		res, ok := raw["result"].(map[string]any)
		if !ok {
			return nil, errors.New("geocode: missing result")
		}
		p, err := parsePoint(res["center"])
		if err != nil {
			return nil, fmt.Errorf("geocode: %w", err)
		}
		r := GeocodeResult{Center: p}
		r.ID, _ = res["id"].(string)
		r.Address, _ = res["address"].(string)
		return GeocodeSelected{Result: r}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, typ)
}

func parseViewport(raw map[string]any, cause Cause) (Event, error) {
	ev := ViewportChanged{Cause: cause, Zoom: math.NaN()}
	if z, ok := raw["zoom"].(float64); ok {
		ev.Zoom = z
	}
	if c, ok := raw["center"]; ok {
		p, err := parsePoint(c)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cause, err)
		}
		ev.Center = &p
	}
	return ev, nil
}

func parsePoint(v any) (orb.Point, error) {
	switch t := v.(type) {
	case []any:
		if len(t) == 2 {
			lon, ok1 := t[0].(float64)
			lat, ok2 := t[1].(float64)
			if ok1 && ok2 {
				return orb.Point{lon, lat}, nil
			}
		}
	case []float64:
		if len(t) == 2 {
			return orb.Point{t[0], t[1]}, nil
		}
	case map[string]any:
		lon, ok1 := t["lng"].(float64)
		lat, ok2 := t["lat"].(float64)
		if ok1 && ok2 {
			return orb.Point{lon, lat}, nil
		}
	}
	return orb.Point{}, fmt.Errorf("invalid coordinate %v", v)
}
