package tiles

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/simplify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joeblew999/plat-parcels/internal/filter"
	"github.com/joeblew999/plat-parcels/internal/logging"
	"github.com/joeblew999/plat-parcels/internal/parcel"
	"github.com/joeblew999/plat-parcels/internal/viewport"
)

// Defaults for the parcel archive.
const (
	DefaultMinZoom = 10
	DefaultMaxZoom = 16
)

// Builder cuts parcels into MVT tiles carrying both parcel layers: the
// polygon outlines and their centroid points.
type Builder struct {
	MinZoom int
	MaxZoom int
	Catalog filter.Catalog
	Logger  *logging.Logger
}

// NewBuilder creates a builder for the default zoom range.
func NewBuilder(log *logging.Logger) *Builder {
	if log == nil {
		log = logging.Nop()
	}
	return &Builder{
		MinZoom: DefaultMinZoom,
		MaxZoom: DefaultMaxZoom,
		Catalog: filter.DefaultCatalog,
		Logger:  log,
	}
}

// Build generates the tile set. Zoom levels are cut concurrently.
func (b *Builder) Build(ctx context.Context, parcels []parcel.Parcel) (map[maptile.Tile][]byte, error) {
	if b.MinZoom < 0 || b.MaxZoom > 22 || b.MinZoom > b.MaxZoom {
		return nil, fmt.Errorf("invalid zoom range %d..%d", b.MinZoom, b.MaxZoom)
	}

	polygons := geojson.NewFeatureCollection()
	points := geojson.NewFeatureCollection()
	for _, p := range parcels {
		if p.Geometry == nil {
			continue
		}
		props := geojson.Properties{"id": p.ID}
		for _, a := range b.Catalog.IDs() {
			if v, ok := p.Properties[a]; ok {
				props[a] = v
			}
		}
		poly := geojson.NewFeature(p.Geometry)
		poly.Properties = props
		polygons.Append(poly)

		pt := geojson.NewFeature(p.Centroid())
		pt.Properties = props.Clone()
		points.Append(pt)
	}

	var (
		mu    sync.Mutex
		tiles = make(map[maptile.Tile][]byte)
	)
	g, ctx := errgroup.WithContext(ctx)
	for z := b.MinZoom; z <= b.MaxZoom; z++ {
		zoom := maptile.Zoom(z)
		g.Go(func() error {
			level, err := b.buildZoom(ctx, zoom, polygons, points)
			if err != nil {
				return err
			}
			mu.Lock()
			for t, data := range level {
				tiles[t] = data
			}
			mu.Unlock()
			b.Logger.Debug(ctx, "zoom level cut", zap.Uint32("zoom", uint32(zoom)), zap.Int("tiles", len(level)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tiles, nil
}

func (b *Builder) buildZoom(ctx context.Context, z maptile.Zoom, polygons, points *geojson.FeatureCollection) (map[maptile.Tile][]byte, error) {
	byTile := make(map[maptile.Tile]*[2][]*geojson.Feature)
	assign := func(layer int, fc *geojson.FeatureCollection) {
		for _, f := range fc.Features {
			for _, t := range tilesInBound(f.Geometry.Bound(), z) {
				bucket, ok := byTile[t]
				if !ok {
					bucket = new([2][]*geojson.Feature)
					byTile[t] = bucket
				}
				bucket[layer] = append(bucket[layer], f)
			}
		}
	}
	assign(0, polygons)
	assign(1, points)

	out := make(map[maptile.Tile][]byte, len(byTile))
	for t, bucket := range byTile {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := encodeTile(t, bucket[0], bucket[1])
		if err != nil {
			return nil, fmt.Errorf("encoding tile %d/%d/%d: %w", t.Z, t.X, t.Y, err)
		}
		if data != nil {
			out[t] = data
		}
	}
	return out, nil
}

// encodeTile clips, projects and gzips both layers of one tile. It returns
// nil when nothing survives clipping.
func encodeTile(t maptile.Tile, polygons, points []*geojson.Feature) ([]byte, error) {
	var layers mvt.Layers
	for _, l := range []struct {
		name     viewport.Layer
		features []*geojson.Feature
	}{
		{viewport.LayerPolygons, polygons},
		{viewport.LayerPoints, points},
	} {
		if len(l.features) == 0 {
			continue
		}
		fc := geojson.NewFeatureCollection()
		for _, f := range l.features {
			// Clip and ProjectToTile mutate geometry in place.
			clone := geojson.NewFeature(orb.Clone(f.Geometry))
			clone.Properties = f.Properties.Clone()
			fc.Append(clone)
		}
		layer := mvt.NewLayer(string(l.name), fc)
		if eps := simplifyEpsilon(t.Z); eps > 0 {
			layer.Simplify(simplify.DouglasPeucker(eps))
		}
		layer.Clip(t.Bound())
		layer.ProjectToTile(t)
		layer.RemoveEmpty(0.5, 0.5)
		if len(layer.Features) > 0 {
			layers = append(layers, layer)
		}
	}
	if len(layers) == 0 {
		return nil, nil
	}
	return mvt.MarshalGzipped(layers)
}

func tilesInBound(bound orb.Bound, z maptile.Zoom) []maptile.Tile {
	lo := maptile.At(orb.Point{bound.Min.Lon(), bound.Max.Lat()}, z)
	hi := maptile.At(orb.Point{bound.Max.Lon(), bound.Min.Lat()}, z)
	var out []maptile.Tile
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			out = append(out, maptile.New(x, y, z))
		}
	}
	return out
}

// simplifyEpsilon is the Douglas-Peucker tolerance in degrees. Parcels are
// small, so detail is kept from zoom 14 up.
func simplifyEpsilon(z maptile.Zoom) float64 {
	switch {
	case z >= 14:
		return 0
	case z >= 12:
		return 0.000005
	default:
		return 0.00001
	}
}

// Metadata describes an archive built by b.
func (b *Builder) Metadata(name string) Metadata {
	fields := map[string]string{"id": "String"}
	for _, a := range b.Catalog.IDs() {
		fields[a] = "String"
	}
	return Metadata{
		Name:        name,
		Format:      "pbf",
		Compression: "gzip",
		MinZoom:     b.MinZoom,
		MaxZoom:     b.MaxZoom,
		VectorLayers: []VectorLayer{
			{ID: string(viewport.LayerPolygons), Fields: fields},
			{ID: string(viewport.LayerPoints), Fields: fields},
		},
	}
}

// BuildFile builds parcels into a PMTiles archive at path.
func (b *Builder) BuildFile(ctx context.Context, parcels []parcel.Parcel, path string) (Header, error) {
	tiles, err := b.Build(ctx, parcels)
	if err != nil {
		return Header{}, err
	}

	bound := boundOf(parcels)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Header{}, fmt.Errorf("creating tiles directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return Header{}, fmt.Errorf("creating archive: %w", err)
	}
	defer f.Close()

	name := filepath.Base(path)
	h, err := WriteArchive(f, tiles, b.Metadata(name), bound)
	if err != nil {
		return Header{}, err
	}
	b.Logger.Info(ctx, "tile archive written",
		zap.String("path", path),
		zap.Uint64("tiles", h.TileCount),
		zap.Int("parcels", len(parcels)),
	)
	return h, f.Close()
}

func boundOf(parcels []parcel.Parcel) orb.Bound {
	var (
		bound orb.Bound
		seen  bool
	)
	for _, p := range parcels {
		if p.Geometry == nil {
			continue
		}
		if !seen {
			bound, seen = p.Geometry.Bound(), true
			continue
		}
		bound = bound.Union(p.Geometry.Bound())
	}
	return bound
}
