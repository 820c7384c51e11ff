// Package viewer contains the Datastar SSE handlers for the parcel map UI.
package viewer

import (
	"context"
	"errors"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-parcels/internal/filter"
	"github.com/joeblew999/plat-parcels/internal/humastar"
	"github.com/joeblew999/plat-parcels/internal/mapview"
	"github.com/joeblew999/plat-parcels/internal/service"
)

// Handler streams session state to the viewer and applies its input.
type Handler struct {
	humastar.Handler
	sessions *mapview.Sessions
	layers   *service.LayerService
	bus      *service.EventBus
}

// NewHandler creates the viewer handler. layers and bus may be nil.
func NewHandler(sessions *mapview.Sessions, layers *service.LayerService, bus *service.EventBus, renderer *humastar.Renderer) *Handler {
	return &Handler{
		Handler:  humastar.Handler{Renderer: renderer},
		sessions: sessions,
		layers:   layers,
		bus:      bus,
	}
}

func (h *Handler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags("viewer")
	huma.Get(api, "/api/v1/viewer/{id}/events", h.Events, tags)
	huma.Post(api, "/api/v1/viewer/{id}/filters", h.Filters, tags)
	huma.Post(api, "/api/v1/viewer/{id}/map", h.MapEvent, tags)
	huma.Post(api, "/api/v1/viewer/{id}/search", h.Search, tags)
}

type SessionInput struct {
	ID string `path:"id" doc:"Session ID"`
}

type SignalsInput struct {
	SessionInput
	humastar.SignalsInput
}

// Events pushes a fresh view after every recomputation until the client
// goes away or the session is deleted.
func (h *Handler) Events(ctx context.Context, input *SessionInput) (*huma.StreamResponse, error) {
	c, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		updates := make(chan mapview.Snapshot, 1)
		cancel := c.Subscribe(func(s mapview.Snapshot) {
			// Keep only the newest snapshot for a slow client.
			select {
			case <-updates:
			default:
			}
			updates <- s
		})
		defer cancel()

		var events <-chan service.Event
		if h.bus != nil {
			ch := h.bus.Subscribe()
			defer h.bus.Unsubscribe(ch)
			events = ch
		}

		h.sendView(sse, c.Snapshot())
		h.sendLegend(sse)
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-updates:
				h.sendView(sse, s)
			case ev, ok := <-events:
				if !ok {
					return
				}
				switch {
				case ev.Resource == service.ResourceLayers:
					h.sendLegend(sse)
				case ev.Resource == service.ResourceSessions && ev.Action == service.ActionDeleted && ev.ID == c.ID():
					_ = sse.Signals(map[string]any{"closed": true})
					return
				}
			}
		}
	}), nil
}

// Filters applies every attribute present in the signals. Attribute
// signals carry the list of selected values.
func (h *Handler) Filters(ctx context.Context, input *SignalsInput) (*huma.StreamResponse, error) {
	c, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	filters := signals
	if nested, ok := signals["filters"].(map[string]any); ok {
		filters = nested
	}

	applied := 0
	for _, a := range c.Store().Catalog() {
		if !filters.Has(a.ID) {
			continue
		}
		if err := c.SetSelection(a.ID, filters.Strings(a.ID)); err != nil {
			if errors.Is(err, filter.ErrRejected) {
				return nil, huma.Error500InternalServerError("applying filter", err)
			}
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
		applied++
	}
	if applied == 0 {
		return nil, huma.Error400BadRequest("no filter attributes in request")
	}
	return h.Stream(func(sse humastar.SSE) {
		h.sendView(sse, c.Snapshot())
	}), nil
}

// MapEvent applies a map event the browser put in the "event" signal.
func (h *Handler) MapEvent(ctx context.Context, input *SignalsInput) (*huma.StreamResponse, error) {
	c, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	raw, ok := signals["event"].(map[string]any)
	if !ok {
		return nil, huma.Error400BadRequest("missing event signal")
	}
	ev, err := mapview.ParseEvent(raw)
	switch {
	case errors.Is(err, mapview.ErrIgnoredEvent):
		return h.Stream(func(humastar.SSE) {}), nil
	case err != nil:
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	if err := c.Handle(ctx, ev); err != nil {
		return nil, huma.Error409Conflict(err.Error())
	}
	return h.Stream(func(sse humastar.SSE) {
		h.sendView(sse, c.Snapshot())
	}), nil
}

// Search runs the geocoder for the "query" signal and renders the
// suggestions.
func (h *Handler) Search(ctx context.Context, input *SignalsInput) (*huma.StreamResponse, error) {
	c, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	ctrl, _ := c.Control("geocoder")
	gc, ok := ctrl.(*mapview.GeocoderControl)
	if !ok {
		return nil, huma.Error501NotImplemented("session has no geocoder")
	}
	results, err := gc.Search(ctx, strings.TrimSpace(signals.String("query")))
	if err != nil {
		return nil, huma.Error409Conflict(err.Error())
	}
	return h.Stream(func(sse humastar.SSE) {
		_ = sse.Patch(h.Fragment("geocode-results", map[string]any{
			"SessionID": c.ID(),
			"Results":   results,
		}), "#geocode-results")
	}), nil
}

func (h *Handler) session(id string) (*mapview.Controller, error) {
	c, err := h.sessions.Get(id)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return c, nil
}

func (h *Handler) sendView(sse humastar.SSE, s mapview.Snapshot) {
	v := newView(s)
	_ = sse.Signals(v.signals())
	if s.Loading {
		return
	}
	_ = sse.Patch(h.Fragment("parcel-count", v), "#parcel-count")
	_ = sse.Patch(h.Fragment("parcel-list", v), "#parcel-list")
	_ = sse.Patch(h.Fragment("selected-parcel", v), "#selected-parcel")
}

func (h *Handler) sendLegend(sse humastar.SSE) {
	if h.layers == nil {
		return
	}
	_ = sse.Patch(h.Fragment("legend", h.layers.Legend()), "#legend")
}
