package api

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-parcels/internal/filter"
	"github.com/joeblew999/plat-parcels/internal/humastar"
	"github.com/joeblew999/plat-parcels/internal/mapview"
	"github.com/joeblew999/plat-parcels/internal/service"
	"github.com/joeblew999/plat-parcels/internal/viewport"
)

// SessionHandler exposes map sessions: one controller per viewer.
type SessionHandler struct {
	sessions *mapview.Sessions
	bus      *service.EventBus
}

// NewSessionHandler creates a session handler. bus may be nil.
func NewSessionHandler(sessions *mapview.Sessions, bus *service.EventBus) *SessionHandler {
	return &SessionHandler{sessions: sessions, bus: bus}
}

func (h *SessionHandler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags("sessions")
	huma.Get(api, "/api/v1/sessions", h.ListSessions, tags)
	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        "POST",
		Path:          "/api/v1/sessions",
		Summary:       "Create session",
		Tags:          []string{"sessions"},
		DefaultStatus: 201,
	}, h.CreateSession)
	huma.Get(api, "/api/v1/sessions/{id}", h.GetSession, tags)
	huma.Delete(api, "/api/v1/sessions/{id}", h.DeleteSession, tags)
	huma.Put(api, "/api/v1/sessions/{id}/filters/{attribute}", h.PutFilter, tags)
	huma.Post(api, "/api/v1/sessions/{id}/viewport", h.PostViewport, tags)
	huma.Post(api, "/api/v1/sessions/{id}/click", h.PostClick, tags)
	huma.Get(api, "/api/v1/sessions/{id}/geocode", h.SearchAddress, tags)
	huma.Post(api, "/api/v1/sessions/{id}/geocode", h.PostGeocode, tags)
	huma.Post(api, "/api/v1/sessions/{id}/events", h.PostEvent, tags)
	huma.Get(api, "/api/v1/sessions/{id}/features", h.GetFeatures, tags)
}

// Types

type SessionInput struct {
	ID string `path:"id" doc:"Session ID" format:"uuid"`
}

// SessionBody is the session snapshot plus its action links.
type SessionBody struct {
	mapview.Snapshot
}

func (b SessionBody) Actions() []humastar.Action {
	base := "/api/v1/sessions/" + b.SessionID
	return []humastar.Action{
		{Rel: "self", Href: base},
		{Rel: "delete", Href: base, Method: "DELETE", Title: "Close session"},
		{Rel: "viewport", Href: base + "/viewport", Method: "POST", Title: "Move the camera"},
		{Rel: "features", Href: base + "/features"},
	}
}

type SessionOutput struct {
	Body SessionBody
}

type ViewportBody struct {
	Center []float64 `json:"center,omitempty" minItems:"2" maxItems:"2" doc:"Camera center (lon, lat)"`
	Zoom   *float64  `json:"zoom,omitempty" minimum:"0" maximum:"24" doc:"Camera zoom" example:"13"`
}

func (b ViewportBody) event(cause mapview.Cause) mapview.ViewportChanged {
	ev := mapview.ViewportChanged{Cause: cause, Zoom: math.NaN()}
	if len(b.Center) == 2 {
		p := orb.Point{b.Center[0], b.Center[1]}
		ev.Center = &p
	}
	if b.Zoom != nil {
		ev.Zoom = *b.Zoom
	}
	return ev
}

func (b ViewportBody) empty() bool {
	return len(b.Center) == 0 && b.Zoom == nil
}

type FilterInput struct {
	SessionInput
	Attribute string `path:"attribute" doc:"Filter attribute" example:"priority_level"`
	Body      struct {
		Values []string `json:"values" doc:"Allowed values; empty hides every parcel"`
	}
}

type ClickInput struct {
	SessionInput
	Body struct {
		Lng float64 `json:"lng" minimum:"-180" maximum:"180" doc:"Longitude"`
		Lat float64 `json:"lat" minimum:"-90" maximum:"90" doc:"Latitude"`
	}
}

type SearchInput struct {
	SessionInput
	Query string `query:"q" required:"true" doc:"Address search text" example:"Kensington"`
}

type GeocodeInput struct {
	SessionInput
	Body struct {
		Query    string `json:"query" required:"true" minLength:"1" doc:"Address search text"`
		ResultID string `json:"resultId,omitempty" doc:"Pick this result instead of the first"`
	}
}

type EventInput struct {
	SessionInput
	Body map[string]any `doc:"Map event as emitted by the browser"`
}

type FeaturesInput struct {
	SessionInput
	Offset int `query:"offset" minimum:"0" default:"0" doc:"Page offset"`
	Limit  int `query:"limit" minimum:"1" maximum:"100" default:"25" doc:"Page size"`
}

// Handlers

func (h *SessionHandler) ListSessions(ctx context.Context, input *struct{}) (*struct{ Body []string }, error) {
	return &struct{ Body []string }{Body: h.sessions.IDs()}, nil
}

func (h *SessionHandler) CreateSession(ctx context.Context, input *struct {
	Body ViewportBody `required:"false"`
}) (*SessionOutput, error) {
	var initial []mapview.Event
	if !input.Body.empty() {
		initial = append(initial, input.Body.event(mapview.CauseMoveEnd))
	}
	c, err := h.sessions.Create(ctx, initial...)
	if err != nil {
		return nil, sessionError(err)
	}
	h.publish(service.ActionCreated, c.ID())
	return &SessionOutput{Body: SessionBody{c.Snapshot()}}, nil
}

func (h *SessionHandler) GetSession(ctx context.Context, input *SessionInput) (*SessionOutput, error) {
	c, err := h.sessions.Get(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	return &SessionOutput{Body: SessionBody{c.Snapshot()}}, nil
}

func (h *SessionHandler) DeleteSession(ctx context.Context, input *SessionInput) (*struct{ Body MessageBody }, error) {
	if err := h.sessions.Delete(ctx, input.ID); err != nil {
		return nil, sessionError(err)
	}
	h.publish(service.ActionDeleted, input.ID)
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Session closed"}}, nil
}

func (h *SessionHandler) PutFilter(ctx context.Context, input *FilterInput) (*SessionOutput, error) {
	c, err := h.sessions.Get(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	values := input.Body.Values
	if values == nil {
		values = []string{}
	}
	if err := c.SetSelection(input.Attribute, values); err != nil {
		return nil, sessionError(err)
	}
	return &SessionOutput{Body: SessionBody{c.Snapshot()}}, nil
}

func (h *SessionHandler) PostViewport(ctx context.Context, input *struct {
	SessionInput
	Body ViewportBody
}) (*SessionOutput, error) {
	return h.handle(ctx, input.ID, input.Body.event(mapview.CauseMoveEnd))
}

func (h *SessionHandler) PostClick(ctx context.Context, input *ClickInput) (*SessionOutput, error) {
	return h.handle(ctx, input.ID, mapview.Clicked{Point: orb.Point{input.Body.Lng, input.Body.Lat}})
}

func (h *SessionHandler) SearchAddress(ctx context.Context, input *SearchInput) (*struct{ Body []mapview.GeocodeResult }, error) {
	results, err := h.search(ctx, input.ID, input.Query)
	if err != nil {
		return nil, err
	}
	return &struct{ Body []mapview.GeocodeResult }{Body: results}, nil
}

func (h *SessionHandler) PostGeocode(ctx context.Context, input *GeocodeInput) (*SessionOutput, error) {
	results, err := h.search(ctx, input.ID, input.Body.Query)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, huma.Error404NotFound(fmt.Sprintf("no address matches %q", input.Body.Query))
	}
	pick := results[0]
	if input.Body.ResultID != "" {
		found := false
		for _, r := range results {
			if r.ID == input.Body.ResultID {
				pick, found = r, true
				break
			}
		}
		if !found {
			return nil, huma.Error404NotFound("result not found: " + input.Body.ResultID)
		}
	}
	return h.handle(ctx, input.ID, mapview.GeocodeSelected{Result: pick})
}

func (h *SessionHandler) PostEvent(ctx context.Context, input *EventInput) (*SessionOutput, error) {
	ev, err := mapview.ParseEvent(input.Body)
	if errors.Is(err, mapview.ErrIgnoredEvent) {
		return h.GetSession(ctx, &input.SessionInput)
	}
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	return h.handle(ctx, input.ID, ev)
}

func (h *SessionHandler) GetFeatures(ctx context.Context, input *FeaturesInput) (*struct {
	Body humastar.PageBody[viewport.Feature]
}, error) {
	c, err := h.sessions.Get(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	page := humastar.Page(c.Result().Sample, input.Offset, input.Limit)
	return &struct {
		Body humastar.PageBody[viewport.Feature]
	}{Body: page}, nil
}

func (h *SessionHandler) handle(ctx context.Context, id string, ev mapview.Event) (*SessionOutput, error) {
	c, err := h.sessions.Get(id)
	if err != nil {
		return nil, sessionError(err)
	}
	if err := c.Handle(ctx, ev); err != nil {
		return nil, sessionError(err)
	}
	return &SessionOutput{Body: SessionBody{c.Snapshot()}}, nil
}

func (h *SessionHandler) search(ctx context.Context, id, query string) ([]mapview.GeocodeResult, error) {
	c, err := h.sessions.Get(id)
	if err != nil {
		return nil, sessionError(err)
	}
	ctrl, ok := c.Control("geocoder")
	gc, isGeocoder := ctrl.(*mapview.GeocoderControl)
	if !ok || !isGeocoder {
		return nil, huma.Error501NotImplemented("session has no geocoder")
	}
	results, err := gc.Search(ctx, query)
	if err != nil {
		return nil, sessionError(err)
	}
	return results, nil
}

func (h *SessionHandler) publish(action, id string) {
	if h.bus != nil {
		h.bus.Publish(service.Event{Resource: service.ResourceSessions, Action: action, ID: id})
	}
}

// sessionError maps package errors to HTTP errors.
func sessionError(err error) error {
	switch {
	case errors.Is(err, mapview.ErrSessionNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, filter.ErrUnknownAttribute):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, mapview.ErrClosed), errors.Is(err, mapview.ErrNotOpen):
		return huma.Error409Conflict(err.Error())
	}
	return huma.Error500InternalServerError("session error", err)
}
