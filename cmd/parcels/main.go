package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-parcels/internal/config"
	"github.com/joeblew999/plat-parcels/internal/logging"
	"github.com/joeblew999/plat-parcels/internal/server"
	"github.com/joeblew999/plat-parcels/internal/service"
	"github.com/joeblew999/plat-parcels/internal/tiles"
)

// Options defines all CLI flags and env vars for the parcel server.
// Flags: --host, --port, --data-dir, --web-dir, --config, --source
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_WEB_DIR, ...
type Options struct {
	Host    string `doc:"Host to bind to" default:"0.0.0.0"`
	Port    int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir string `doc:"Directory for parcel sources, tiles and the database" default:".data"`
	WebDir  string `doc:"Path to web/ directory" default:"web"`
	Config  string `doc:"Optional YAML config file (view, logging, storage)"`
	Source  string `doc:"GeoJSON file under <data-dir>/sources" default:"vacant_properties.geojson"`
}

func newServer(ctx context.Context, opts *Options) (*server.Server, error) {
	return server.New(ctx, server.Config{
		Host:       opts.Host,
		Port:       fmt.Sprintf("%d", opts.Port),
		DataDir:    opts.DataDir,
		WebDir:     opts.WebDir,
		ConfigFile: opts.Config,
		Source:     opts.Source,
	})
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		srv, err := newServer(context.Background(), opts)
		if err != nil {
			log.Fatalf("Server setup failed: %v", err)
		}
		httpServer := &http.Server{
			Addr:    fmt.Sprintf("%s:%d", opts.Host, opts.Port),
			Handler: srv,
		}

		hooks.OnStart(func() {
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-parcels API server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Data:    %s\n", opts.DataDir)
			fmt.Printf("  Parcels: %d\n", len(srv.Parcels()))
			fmt.Println()
			fmt.Printf("  Pages:   %s/viewer\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics: %s/metrics\n", baseURL)
			fmt.Println()

			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("Server error: %v", err)
			}
		})

		hooks.OnStop(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(ctx)
			_ = srv.Close(ctx)
		})
	})

	cli.Root().Use = "parcels"
	cli.Root().Short = "Vacant property map server"
	cli.Root().Version = "0.1.0"

	cli.Root().AddCommand(specCommand(), tilesCommand(), publishCommand())
	cli.Run()
}

// spec subcommand: export OpenAPI spec
func specCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			ctx := cmd.Context()
			srv, err := newServer(ctx, opts)
			if err != nil {
				fail("Error creating server: %v", err)
			}
			defer srv.Close(ctx)
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fail("Error marshaling spec: %v", err)
			}
			fmt.Println(string(output))
		}),
	}
	cmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	return cmd
}

// tiles subcommand: build the PMTiles archive from the parcel source
func tilesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tiles",
		Short: "Build a PMTiles archive with the polygon and point parcel layers",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			ctx := cmd.Context()
			_, logger := mustSettings(opts)
			defer logger.Sync()

			parcels, err := service.NewSourceService(opts.DataDir).Load(opts.Source)
			if err != nil {
				fail("Error loading parcels: %v", err)
			}

			builder := tiles.NewBuilder(logger)
			builder.MinZoom, _ = cmd.Flags().GetInt("min-zoom")
			builder.MaxZoom, _ = cmd.Flags().GetInt("max-zoom")
			out, _ := cmd.Flags().GetString("output")
			if out == "" {
				out = filepath.Join(opts.DataDir, "tiles", service.DefaultArchive)
			}

			h, err := builder.BuildFile(ctx, parcels, out)
			if err != nil {
				fail("Error building tiles: %v", err)
			}
			fmt.Printf("Wrote %s: %d tiles, zoom %d-%d\n", out, h.TileCount, h.MinZoom, h.MaxZoom)
		}),
	}
	cmd.Flags().Int("min-zoom", tiles.DefaultMinZoom, "Lowest zoom level to cut")
	cmd.Flags().Int("max-zoom", tiles.DefaultMaxZoom, "Highest zoom level to cut")
	cmd.Flags().StringP("output", "o", "", "Archive path (default <data-dir>/tiles/parcels.pmtiles)")
	return cmd
}

// publish subcommand: upload an archive to S3-compatible storage
func publishCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "publish [archive]",
		Short: "Upload a PMTiles archive to the configured object storage",
		Args:  cobra.MaximumNArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			ctx := cmd.Context()
			cfg, logger := mustSettings(opts)
			defer logger.Sync()

			file := filepath.Join(opts.DataDir, "tiles", service.DefaultArchive)
			if len(args) == 1 {
				file = args[0]
			}

			pub, err := tiles.NewPublisher(cfg.Storage, logger)
			if err != nil {
				fail("Error configuring storage: %v", err)
			}
			info, err := pub.Publish(ctx, file)
			if err != nil {
				fail("Error publishing %s: %v", file, err)
			}
			fmt.Printf("Published %s to %s/%s (%d bytes)\n", file, info.Bucket, info.Key, info.Size)
		}),
	}
}

func mustSettings(opts *Options) (*config.Config, *logging.Logger) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		fail("Error loading config: %v", err)
	}
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fail("Error creating logger: %v", err)
	}
	return cfg, logger
}
