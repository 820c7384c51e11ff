package mapview

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"golang.org/x/time/rate"
)

// LegendItem is one legend entry.
type LegendItem struct {
	Label string `json:"label" doc:"Legend label"`
	Color string `json:"color" doc:"Legend color (CSS)"`
}

// LegendControl shows the priority color key.
type LegendControl struct {
	items []LegendItem

	mu       sync.Mutex
	attached bool
}

// NewLegendControl creates a legend with the given entries.
func NewLegendControl(items []LegendItem) *LegendControl {
	return &LegendControl{items: items}
}

func (l *LegendControl) ID() string { return "legend" }

func (l *LegendControl) OnAdd(Map) {
	l.mu.Lock()
	l.attached = true
	l.mu.Unlock()
}

func (l *LegendControl) OnRemove(Map) {
	l.mu.Lock()
	l.attached = false
	l.mu.Unlock()
}

// Attached reports whether the legend is on a map.
func (l *LegendControl) Attached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attached
}

// Items returns the legend entries.
func (l *LegendControl) Items() []LegendItem {
	out := make([]LegendItem, len(l.items))
	copy(out, l.items)
	return out
}

// DefaultGeocodeLimit caps geocoder suggestions.
const DefaultGeocodeLimit = 5

// Search-as-you-type throttle per control.
const (
	geocodeRate  = 5
	geocodeBurst = 5
)

// GeocoderControl is the address search box. Results are biased toward the
// map center captured when the control is attached.
type GeocoderControl struct {
	geocoder Geocoder
	limit    int
	limiter  *rate.Limiter

	mu        sync.Mutex
	attached  bool
	proximity orb.Point
}

// NewGeocoderControl creates a search control backed by g.
func NewGeocoderControl(g Geocoder, limit int) *GeocoderControl {
	if limit <= 0 {
		limit = DefaultGeocodeLimit
	}
	return &GeocoderControl{
		geocoder: g,
		limit:    limit,
		limiter:  rate.NewLimiter(rate.Limit(geocodeRate), geocodeBurst),
	}
}

func (g *GeocoderControl) ID() string { return "geocoder" }

func (g *GeocoderControl) OnAdd(m Map) {
	g.mu.Lock()
	g.attached = true
	g.proximity = m.Center()
	g.mu.Unlock()
}

func (g *GeocoderControl) OnRemove(Map) {
	g.mu.Lock()
	g.attached = false
	g.mu.Unlock()
}

// Proximity returns the bias point.
func (g *GeocoderControl) Proximity() orb.Point {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.proximity
}

// Search looks up query. Blank queries return no results. Lookups are
// throttled; Search waits for its turn or for ctx.
func (g *GeocoderControl) Search(ctx context.Context, query string) ([]GeocodeResult, error) {
	g.mu.Lock()
	attached, proximity := g.attached, g.proximity
	g.mu.Unlock()

	if !attached {
		return nil, ErrNotOpen
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []GeocodeResult{}, nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("geocoder throttled: %w", err)
	}
	return g.geocoder.Geocode(ctx, query, proximity, g.limit)
}
