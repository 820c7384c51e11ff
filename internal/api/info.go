package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	dataDir string
	dbOK    bool
	parcels func() int
}

// NewInfoHandler creates the info handler. parcels reports the loaded
// parcel count and may be nil.
func NewInfoHandler(dataDir string, dbOK bool, parcels func() int) *InfoHandler {
	return &InfoHandler{dataDir: dataDir, dbOK: dbOK, parcels: parcels}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	DataDir  string   `json:"data_dir" doc:"Data directory path"`
	DB       bool     `json:"db" doc:"Whether database is available"`
	Parcels  int      `json:"parcels" doc:"Number of loaded parcels"`
	Features []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	n := 0
	if h.parcels != nil {
		n = h.parcels()
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "plat-parcels",
		Version:  "0.1.0",
		DataDir:  h.dataDir,
		DB:       h.dbOK,
		Parcels:  n,
		Features: []string{"sessions", "filters", "geocode", "pmtiles", "duckdb"},
	}}, nil
}
