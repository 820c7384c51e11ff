package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-parcels/internal/api"
	"github.com/joeblew999/plat-parcels/internal/api/viewer"
	"github.com/joeblew999/plat-parcels/internal/config"
	"github.com/joeblew999/plat-parcels/internal/db"
	"github.com/joeblew999/plat-parcels/internal/filter"
	"github.com/joeblew999/plat-parcels/internal/humastar"
	"github.com/joeblew999/plat-parcels/internal/logging"
	"github.com/joeblew999/plat-parcels/internal/mapview"
	"github.com/joeblew999/plat-parcels/internal/metrics"
	"github.com/joeblew999/plat-parcels/internal/parcel"
	"github.com/joeblew999/plat-parcels/internal/render"
	"github.com/joeblew999/plat-parcels/internal/service"
	"github.com/joeblew999/plat-parcels/internal/tiles"
)

// DefaultSource is the GeoJSON file loaded from the sources directory.
const DefaultSource = "vacant_properties.geojson"

// Config holds the server configuration.
type Config struct {
	Host       string
	Port       string
	DataDir    string
	WebDir     string // Path to web/ directory for static files and templates
	ConfigFile string // Optional YAML file with view, logging and storage settings
	Source     string // GeoJSON file under DataDir/sources
}

// Server is the parcel HTTP server.
type Server struct {
	config   Config
	settings *config.Config
	log      *logging.Logger
	mux      *http.ServeMux
	humaAPI  huma.API
	db       *sql.DB
	registry *prometheus.Registry
	sessions *mapview.Sessions
	services *api.Services
	renderer *humastar.Renderer
	bus      *service.EventBus
	parcels  []parcel.Parcel
	stop     context.CancelFunc
}

// New loads the parcels, mirrors them into DuckDB and builds the routes.
// A missing source or database degrades the server instead of failing it.
func New(ctx context.Context, cfg Config) (*Server, error) {
	settings, err := config.Load(cfg.ConfigFile)
	if err != nil {
		return nil, err
	}
	log, err := logging.NewLogger(settings.Logging)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	if cfg.Source == "" {
		cfg.Source = DefaultSource
	}

	mux := http.NewServeMux()

	// Create Huma API with humago (pure stdlib) adapter
	humaConfig := huma.DefaultConfig("plat-parcels API", "1.0.0")
	humaConfig.Info.Description = "Vacant property map sessions: filters, viewport counts, geocoding and parcel tiles."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer(), humastar.LinkTransformer())

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{
		config:   cfg,
		settings: settings,
		log:      log,
		mux:      mux,
		humaAPI:  humago.New(mux, humaConfig),
		registry: registry,
		bus:      service.NewEventBus(),
	}

	v := settings.View
	sources := service.NewSourceService(cfg.DataDir)
	s.services = &api.Services{
		Layer:   service.NewLayerService(cfg.DataDir, service.DefaultLayers(v.LayerThreshold, v.MinZoom, v.MaxZoom), s.bus),
		Tile:    service.NewTileService(cfg.DataDir, tiles.NewBuilder(log), s.bus),
		Source:  sources,
		Catalog: filter.DefaultCatalog,
		Parcels: func() []parcel.Parcel { return s.parcels },
	}

	s.parcels, err = sources.Load(cfg.Source)
	if err != nil {
		log.Warn(ctx, "parcel source unavailable, serving an empty map", zap.String("source", cfg.Source), zap.Error(err))
	} else {
		log.Info(ctx, "parcels loaded", zap.String("source", cfg.Source), zap.Int("count", len(s.parcels)))
	}

	var geocoder mapview.Geocoder
	conn, err := db.Open(ctx, db.Config{DataDir: cfg.DataDir, DBName: "parcels"}, log)
	if err != nil {
		log.Warn(ctx, "duckdb unavailable, address search disabled", zap.Error(err))
	} else {
		s.db = conn
		repo := parcel.NewRepository(conn, filter.DefaultCatalog)
		if err := mirror(ctx, repo, s.parcels); err != nil {
			log.Warn(ctx, "mirroring parcels failed, address search disabled", zap.Error(err))
		} else {
			geocoder = repo
		}
	}

	view := metrics.NewView(registry)
	s.sessions = mapview.NewSessions(s.sessionFactory(render.NewSource(s.parcels), geocoder, view), log, view)

	if cfg.WebDir != "" {
		fragmentsDir := filepath.Join(cfg.WebDir, "templates", "fragments")
		if r, err := humastar.NewRenderer(fragmentsDir); err == nil {
			s.renderer = r
			log.Info(ctx, "loaded fragment templates", zap.String("dir", fragmentsDir))
			s.watchFragments()
		} else {
			log.Warn(ctx, "fragment templates unavailable", zap.Error(err))
		}
	}

	s.routes()
	return s, nil
}

// watchFragments hot-reloads the fragment templates until Close.
func (s *Server) watchFragments() {
	ctx, cancel := context.WithCancel(context.Background())
	err := s.renderer.Watch(ctx, func(err error) {
		s.log.Warn(ctx, "reloading fragment templates failed", zap.Error(err))
	})
	if err != nil {
		cancel()
		s.log.Warn(ctx, "fragment templates will not reload", zap.Error(err))
		return
	}
	s.stop = cancel
}

func mirror(ctx context.Context, repo *parcel.Repository, parcels []parcel.Parcel) error {
	if err := repo.EnsureSchema(ctx); err != nil {
		return err
	}
	return repo.Replace(ctx, parcels)
}

// sessionFactory gives every session its own map over the shared source.
func (s *Server) sessionFactory(src *render.Source, geocoder mapview.Geocoder, view *metrics.View) mapview.Factory {
	v := s.settings.View
	return func(id string) (*mapview.Controller, error) {
		m := render.NewMap(src, render.Options{
			LayerThreshold: v.LayerThreshold,
			MinZoom:        v.MinZoom,
			MaxZoom:        v.MaxZoom,
			ClusterRadius:  v.ClusterRadius,
			Width:          v.Width,
			Height:         v.Height,
			Center:         orb.Point{v.Center[0], v.Center[1]},
			Zoom:           v.InitialZoom,
		})
		controls := []mapview.Placement{
			{Control: mapview.NewLegendControl(s.services.Layer.Legend()), Position: mapview.BottomLeft},
		}
		if geocoder != nil {
			controls = append(controls, mapview.Placement{
				Control:  mapview.NewGeocoderControl(geocoder, mapview.DefaultGeocodeLimit),
				Position: mapview.TopRight,
			})
		}
		return mapview.NewController(id, m, filter.NewStore(filter.DefaultCatalog), mapview.Options{
			LayerThreshold: v.LayerThreshold,
			SampleCap:      v.SampleCap,
			GeocodeZoom:    v.GeocodeZoom,
			Controls:       controls,
			Logger:         s.log,
			Metrics:        view,
		}), nil
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Parcels returns the loaded parcels.
func (s *Server) Parcels() []parcel.Parcel {
	return s.parcels
}

// Close ends every session and releases the database.
func (s *Server) Close(ctx context.Context) error {
	if s.stop != nil {
		s.stop()
	}
	s.sessions.CloseAll(ctx)
	var err error
	if s.db != nil {
		err = s.db.Close()
	}
	_ = s.log.Sync()
	return err
}

func (s *Server) routes() {
	// Register Huma REST API routes (OpenAPI-documented JSON endpoints)
	api.RegisterRoutes(s.humaAPI, s.services)
	api.NewSessionHandler(s.sessions, s.bus).RegisterRoutes(s.humaAPI)
	api.NewDBHandler(s.db).RegisterRoutes(s.humaAPI)
	api.NewInfoHandler(s.config.DataDir, s.db != nil, func() int { return len(s.parcels) }).RegisterRoutes(s.humaAPI)

	// Viewer SSE routes using Huma + Datastar SDK
	viewer.NewHandler(s.sessions, s.services.Layer, s.bus, s.renderer).RegisterRoutes(s.humaAPI)

	s.mux.Handle("/tiles/", http.StripPrefix("/tiles/", s.handleTiles(s.services.Tile.TilesDir())))
	s.mux.Handle("/metrics", metrics.Handler(s.registry))

	// Static files and templates
	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	}

	// Page routes
	s.mux.HandleFunc("/viewer", s.handleViewer)
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "plat-parcels",
		"status":  "running",
	})
}

func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	if s.config.WebDir == "" {
		http.NotFound(w, r)
		return
	}
	templatePath := filepath.Join(s.config.WebDir, "templates", "viewer.html")
	http.ServeFile(w, r, templatePath)
}

// handleTiles serves PMTiles archives; browsers read them with Range
// requests, so those headers must pass CORS.
func (s *Server) handleTiles(tilesDir string) http.Handler {
	files := http.FileServer(http.Dir(tilesDir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if filepath.Ext(r.URL.Path) == ".pmtiles" {
			w.Header().Set("Content-Type", tiles.ContentType)
		}
		files.ServeHTTP(w, r)
	})
}
