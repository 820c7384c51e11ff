package viewer

import (
	"github.com/joeblew999/plat-parcels/internal/filter"
	"github.com/joeblew999/plat-parcels/internal/mapview"
	"github.com/joeblew999/plat-parcels/internal/viewport"
)

// view is the template data for one snapshot.
type view struct {
	SessionID string
	Count     int
	Layer     viewport.Layer
	Parcels   []parcelCard
	Selected  *parcelCard
	snap      mapview.Snapshot
}

type parcelCard struct {
	ID        string
	Address   string
	Priority  string
	Clustered bool
	Points    int
	Props     map[string]any
}

func newView(s mapview.Snapshot) view {
	v := view{
		SessionID: s.SessionID,
		Count:     s.Result.Count,
		Layer:     s.Result.Layer,
		Parcels:   make([]parcelCard, 0, len(s.Result.Sample)),
		snap:      s,
	}
	for _, f := range s.Result.Sample {
		v.Parcels = append(v.Parcels, newCard(f))
	}
	if s.Selected != nil {
		c := newCard(*s.Selected)
		v.Selected = &c
	}
	return v
}

func newCard(f viewport.Feature) parcelCard {
	address, _ := f.Properties["address"].(string)
	return parcelCard{
		ID:        f.ID,
		Address:   address,
		Priority:  f.Priority(),
		Clustered: f.Clustered(),
		Points:    f.PointCount(),
		Props:     f.Properties,
	}
}

// signals mirrors the snapshot into Datastar signals.
func (v view) signals() map[string]any {
	selected := ""
	if v.Selected != nil {
		selected = v.Selected.ID
	}
	filters := v.snap.Filters
	if filters == nil {
		filters = map[string][]string{}
	}
	return map[string]any{
		"loading":  v.snap.Loading,
		"count":    v.Count,
		"layer":    string(v.Layer),
		"zoom":     v.snap.Zoom,
		"center":   []float64{v.snap.Center.Lon(), v.snap.Center.Lat()},
		"filters":  filters,
		"filter":   filterOrEmpty(v.snap.Filter),
		"selected": selected,
	}
}

func filterOrEmpty(e filter.Expression) filter.Expression {
	if e == nil {
		return filter.Expression{}
	}
	return e
}
