package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeblew999/plat-parcels/internal/parcel"
	"github.com/joeblew999/plat-parcels/internal/tiles"
)

// DefaultArchive is the archive the parcel layers are served from.
const DefaultArchive = "parcels.pmtiles"

// TileService manages PMTiles archives in the tiles directory.
type TileService struct {
	tilesDir string
	builder  *tiles.Builder
	bus      *EventBus
}

// NewTileService creates a tile service. builder and bus may be nil; without
// a builder Build fails.
func NewTileService(dataDir string, builder *tiles.Builder, bus *EventBus) *TileService {
	return &TileService{
		tilesDir: filepath.Join(dataDir, "tiles"),
		builder:  builder,
		bus:      bus,
	}
}

// List returns all available archives with their header summary.
func (s *TileService) List() ([]TileFile, error) {
	entries, err := os.ReadDir(s.tilesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []TileFile{}, nil
		}
		return nil, err
	}

	files := []TileFile{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".pmtiles" {
			continue
		}
		f, err := s.describe(entry)
		if err != nil {
			continue
		}
		files = append(files, f)
	}
	return files, nil
}

func (s *TileService) describe(entry os.DirEntry) (TileFile, error) {
	info, err := entry.Info()
	if err != nil {
		return TileFile{}, err
	}
	tf := TileFile{Name: entry.Name(), Size: formatSize(info.Size())}

	f, err := os.Open(filepath.Join(s.tilesDir, entry.Name()))
	if err != nil {
		return TileFile{}, err
	}
	defer f.Close()
	// Archives from other tools are still listed.
	if h, err := tiles.ReadHeader(f); err == nil {
		tf.TileCount = h.TileCount
		tf.MinZoom = int(h.MinZoom)
		tf.MaxZoom = int(h.MaxZoom)
		tf.Bounds = [4]float64{h.Bound.Min.Lon(), h.Bound.Min.Lat(), h.Bound.Max.Lon(), h.Bound.Max.Lat()}
	}
	return tf, nil
}

// Build cuts parcels into the named archive and returns its description.
func (s *TileService) Build(ctx context.Context, name string, parcels []parcel.Parcel) (TileFile, error) {
	if s.builder == nil {
		return TileFile{}, fmt.Errorf("tile builder not configured")
	}
	if name == "" {
		name = DefaultArchive
	}
	if !strings.HasSuffix(name, ".pmtiles") {
		name += ".pmtiles"
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return TileFile{}, fmt.Errorf("invalid archive name %q", name)
	}

	path := filepath.Join(s.tilesDir, name)
	h, err := s.builder.BuildFile(ctx, parcels, path)
	if err != nil {
		return TileFile{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return TileFile{}, err
	}
	if s.bus != nil {
		s.bus.Publish(Event{Resource: ResourceTiles, Action: ActionCreated, ID: name})
	}
	return TileFile{
		Name:      name,
		Size:      formatSize(info.Size()),
		TileCount: h.TileCount,
		MinZoom:   int(h.MinZoom),
		MaxZoom:   int(h.MaxZoom),
		Bounds:    [4]float64{h.Bound.Min.Lon(), h.Bound.Min.Lat(), h.Bound.Max.Lon(), h.Bound.Max.Lat()},
	}, nil
}

// TilesDir returns the path to the tiles directory.
func (s *TileService) TilesDir() string {
	return s.tilesDir
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
