// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-parcels/internal/filter"
	"github.com/joeblew999/plat-parcels/internal/parcel"
	"github.com/joeblew999/plat-parcels/internal/service"
)

// Services holds the service dependencies for API handlers.
type Services struct {
	Layer   *service.LayerService
	Tile    *service.TileService
	Source  *service.SourceService
	Catalog filter.Catalog
	// Parcels returns the loaded parcels for tile builds.
	Parcels func() []parcel.Parcel
}

// Types

type IDInput struct {
	ID string `path:"id" doc:"Layer ID" example:"vacant_properties_tiles_polygons"`
}

type LayerOutput struct {
	Body service.LayerConfig
}

type LayersOutput struct {
	Body []service.LayerConfig
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

type BuildTilesInput struct {
	Body struct {
		Name string `json:"name,omitempty" doc:"Archive name" example:"parcels.pmtiles"`
	} `required:"false"`
}

// APIHandler holds the REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterRoutes registers every APIHandler route.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterFilters registers the filter catalog route.
func (h *APIHandler) RegisterFilters(api huma.API) {
	huma.Get(api, "/api/v1/filters", h.GetFilters, huma.OperationTags("filters"))
}

// RegisterLayers registers layer style routes. The layer set is fixed.
func (h *APIHandler) RegisterLayers(api huma.API) {
	huma.Get(api, "/api/v1/layers", h.GetLayers, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/{id}", h.GetLayer, huma.OperationTags("layers"))
	huma.Put(api, "/api/v1/layers/{id}", h.PutLayer, huma.OperationTags("layers"))
}

// RegisterSources registers source listing routes.
func (h *APIHandler) RegisterSources(api huma.API) {
	huma.Get(api, "/api/v1/sources", h.GetSources, huma.OperationTags("sources"))
}

// RegisterTiles registers tile archive routes.
func (h *APIHandler) RegisterTiles(api huma.API) {
	huma.Get(api, "/api/v1/tiles", h.GetTiles, huma.OperationTags("tiles"))
	huma.Post(api, "/api/v1/tiles", h.BuildTiles, huma.OperationTags("tiles"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: "1.0.0"}}, nil
}

func (h *APIHandler) GetFilters(ctx context.Context, input *struct{}) (*struct{ Body filter.Catalog }, error) {
	catalog := filter.DefaultCatalog
	if h.svc != nil && h.svc.Catalog != nil {
		catalog = h.svc.Catalog
	}
	return &struct{ Body filter.Catalog }{Body: catalog}, nil
}

func (h *APIHandler) GetLayers(ctx context.Context, input *struct{}) (*LayersOutput, error) {
	if h.svc == nil || h.svc.Layer == nil {
		return &LayersOutput{Body: []service.LayerConfig{}}, nil
	}
	return &LayersOutput{Body: h.svc.Layer.List()}, nil
}

func (h *APIHandler) GetLayer(ctx context.Context, input *IDInput) (*LayerOutput, error) {
	if h.svc == nil || h.svc.Layer == nil {
		return nil, huma.Error404NotFound("service not available")
	}
	layer, ok := h.svc.Layer.Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	return &LayerOutput{Body: layer}, nil
}

func (h *APIHandler) PutLayer(ctx context.Context, input *struct {
	IDInput
	Body service.LayerConfig
}) (*LayerOutput, error) {
	if h.svc == nil || h.svc.Layer == nil {
		return nil, huma.Error503ServiceUnavailable("service not available")
	}
	updated, err := h.svc.Layer.Update(input.ID, input.Body)
	if err != nil {
		if errors.Is(err, service.ErrLayerNotFound) {
			return nil, huma.Error404NotFound(err.Error())
		}
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	return &LayerOutput{Body: updated}, nil
}

func (h *APIHandler) GetSources(ctx context.Context, input *struct{}) (*struct{ Body []service.SourceFile }, error) {
	if h.svc == nil || h.svc.Source == nil {
		return &struct{ Body []service.SourceFile }{Body: []service.SourceFile{}}, nil
	}
	sources, err := h.svc.Source.List()
	if err != nil {
		return nil, huma.Error500InternalServerError("listing sources", err)
	}
	return &struct{ Body []service.SourceFile }{Body: sources}, nil
}

func (h *APIHandler) GetTiles(ctx context.Context, input *struct{}) (*struct{ Body []service.TileFile }, error) {
	if h.svc == nil || h.svc.Tile == nil {
		return &struct{ Body []service.TileFile }{Body: []service.TileFile{}}, nil
	}
	tiles, err := h.svc.Tile.List()
	if err != nil {
		return nil, huma.Error500InternalServerError("listing tiles", err)
	}
	return &struct{ Body []service.TileFile }{Body: tiles}, nil
}

func (h *APIHandler) BuildTiles(ctx context.Context, input *BuildTilesInput) (*struct{ Body service.TileFile }, error) {
	if h.svc == nil || h.svc.Tile == nil || h.svc.Parcels == nil {
		return nil, huma.Error503ServiceUnavailable("tile building not available")
	}
	parcels := h.svc.Parcels()
	if len(parcels) == 0 {
		return nil, huma.Error409Conflict("no parcels loaded")
	}
	tf, err := h.svc.Tile.Build(ctx, input.Body.Name, parcels)
	if err != nil {
		return nil, huma.Error500InternalServerError("building tiles", err)
	}
	return &struct{ Body service.TileFile }{Body: tf}, nil
}
