// Package tiles builds and publishes the PMTiles archive that carries the
// two parcel vector layers.
package tiles

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// PMTiles v3 constants.
// Format: https://github.com/protomaps/PMTiles/blob/main/spec/v3/spec.md
const (
	headerLen = 127

	compressionGzip = 2
	tileTypeMVT     = 1
)

var (
	ErrNoTiles   = errors.New("no tiles to write")
	ErrBadHeader = errors.New("not a PMTiles v3 archive")
)

// Header is the subset of the PMTiles v3 header the archive writer fills.
type Header struct {
	RootOffset     uint64
	RootLength     uint64
	MetadataOffset uint64
	MetadataLength uint64
	TileDataOffset uint64
	TileDataLength uint64
	TileCount      uint64
	MinZoom        uint8
	MaxZoom        uint8
	Bound          orb.Bound
	CenterZoom     uint8
}

type entry struct {
	tileID uint64
	offset uint64
	length uint32
}

// tileID converts z/x/y to the Hilbert-ordered PMTiles tile ID.
func tileID(z uint8, x, y uint32) uint64 {
	if z == 0 {
		return 0
	}
	acc := (uint64(1)<<(2*uint64(z)) - 1) / 3
	n := uint32(z - 1)
	for s := uint32(1) << n; s > 0; s >>= 1 {
		rx := s & x
		ry := s & y
		acc += uint64((3*rx)^ry) << n
		if ry == 0 {
			if rx != 0 {
				x = s - 1 - x
				y = s - 1 - y
			}
			x, y = y, x
		}
		n--
	}
	return acc
}

// Metadata is the JSON metadata block of the archive.
type Metadata struct {
	Name         string        `json:"name"`
	Format       string        `json:"format"`
	Compression  string        `json:"compression"`
	MinZoom      int           `json:"minzoom"`
	MaxZoom      int           `json:"maxzoom"`
	VectorLayers []VectorLayer `json:"vector_layers"`
}

// VectorLayer describes one MVT layer.
type VectorLayer struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// WriteArchive writes gzip-compressed MVT tiles as a single-directory,
// clustered PMTiles v3 archive.
func WriteArchive(w io.Writer, tiles map[maptile.Tile][]byte, meta Metadata, bound orb.Bound) (Header, error) {
	if len(tiles) == 0 {
		return Header{}, ErrNoTiles
	}

	type pending struct {
		id   uint64
		data []byte
	}
	sorted := make([]pending, 0, len(tiles))
	for t, data := range tiles {
		sorted = append(sorted, pending{id: tileID(uint8(t.Z), t.X, t.Y), data: data})
	}
	slices.SortFunc(sorted, func(a, b pending) int { return cmp.Compare(a.id, b.id) })

	var data bytes.Buffer
	entries := make([]entry, len(sorted))
	for i, p := range sorted {
		entries[i] = entry{tileID: p.id, offset: uint64(data.Len()), length: uint32(len(p.data))}
		data.Write(p.data)
	}

	root, err := gzipBytes(encodeDirectory(entries))
	if err != nil {
		return Header{}, fmt.Errorf("compressing directory: %w", err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return Header{}, fmt.Errorf("encoding metadata: %w", err)
	}
	metaBytes, err := gzipBytes(metaJSON)
	if err != nil {
		return Header{}, fmt.Errorf("compressing metadata: %w", err)
	}

	h := Header{
		RootOffset:     headerLen,
		RootLength:     uint64(len(root)),
		MetadataOffset: headerLen + uint64(len(root)),
		MetadataLength: uint64(len(metaBytes)),
		TileCount:      uint64(len(entries)),
		MinZoom:        uint8(meta.MinZoom),
		MaxZoom:        uint8(meta.MaxZoom),
		Bound:          bound,
		CenterZoom:     uint8(meta.MinZoom),
	}
	h.TileDataOffset = h.MetadataOffset + h.MetadataLength
	h.TileDataLength = uint64(data.Len())

	for _, chunk := range [][]byte{encodeHeader(h), root, metaBytes, data.Bytes()} {
		if _, err := w.Write(chunk); err != nil {
			return Header{}, fmt.Errorf("writing archive: %w", err)
		}
	}
	return h, nil
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeDirectory(entries []entry) []byte {
	var b []byte
	b = binary.AppendUvarint(b, uint64(len(entries)))
	var last uint64
	for _, e := range entries {
		b = binary.AppendUvarint(b, e.tileID-last)
		last = e.tileID
	}
	for range entries {
		b = binary.AppendUvarint(b, 1)
	}
	for _, e := range entries {
		b = binary.AppendUvarint(b, uint64(e.length))
	}
	for i, e := range entries {
		if i > 0 && e.offset == entries[i-1].offset+uint64(entries[i-1].length) {
			b = binary.AppendUvarint(b, 0)
		} else {
			b = binary.AppendUvarint(b, e.offset+1)
		}
	}
	return b
}

func e7(v float64) uint32 {
	return uint32(int32(v * 1e7))
}

func encodeHeader(h Header) []byte {
	b := make([]byte, headerLen)
	copy(b[0:7], "PMTiles")
	b[7] = 3
	le := binary.LittleEndian
	le.PutUint64(b[8:], h.RootOffset)
	le.PutUint64(b[16:], h.RootLength)
	le.PutUint64(b[24:], h.MetadataOffset)
	le.PutUint64(b[32:], h.MetadataLength)
	// no leaf directories at 40..55
	le.PutUint64(b[56:], h.TileDataOffset)
	le.PutUint64(b[64:], h.TileDataLength)
	le.PutUint64(b[72:], h.TileCount)
	le.PutUint64(b[80:], h.TileCount)
	le.PutUint64(b[88:], h.TileCount)
	b[96] = 1
	b[97] = compressionGzip
	b[98] = compressionGzip
	b[99] = tileTypeMVT
	b[100] = h.MinZoom
	b[101] = h.MaxZoom
	le.PutUint32(b[102:], e7(h.Bound.Min.Lon()))
	le.PutUint32(b[106:], e7(h.Bound.Min.Lat()))
	le.PutUint32(b[110:], e7(h.Bound.Max.Lon()))
	le.PutUint32(b[114:], e7(h.Bound.Max.Lat()))
	b[118] = h.CenterZoom
	c := h.Bound.Center()
	le.PutUint32(b[119:], e7(c.Lon()))
	le.PutUint32(b[123:], e7(c.Lat()))
	return b
}

// ReadHeader parses the fixed header of an archive.
func ReadHeader(r io.Reader) (Header, error) {
	b := make([]byte, headerLen)
	if _, err := io.ReadFull(r, b); err != nil {
		return Header{}, fmt.Errorf("reading header: %w", err)
	}
	if string(b[0:7]) != "PMTiles" || b[7] != 3 {
		return Header{}, ErrBadHeader
	}
	le := binary.LittleEndian
	lonlat := func(off int) float64 { return float64(int32(le.Uint32(b[off:]))) / 1e7 }
	return Header{
		RootOffset:     le.Uint64(b[8:]),
		RootLength:     le.Uint64(b[16:]),
		MetadataOffset: le.Uint64(b[24:]),
		MetadataLength: le.Uint64(b[32:]),
		TileDataOffset: le.Uint64(b[56:]),
		TileDataLength: le.Uint64(b[64:]),
		TileCount:      le.Uint64(b[72:]),
		MinZoom:        b[100],
		MaxZoom:        b[101],
		Bound: orb.Bound{
			Min: orb.Point{lonlat(102), lonlat(106)},
			Max: orb.Point{lonlat(110), lonlat(114)},
		},
		CenterZoom: b[118],
	}, nil
}
