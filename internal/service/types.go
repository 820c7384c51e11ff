// Package service contains the stateful business logic behind the parcel
// API: layer styles, tile archives, source files and the session event bus.
package service

import "github.com/joeblew999/plat-parcels/internal/viewport"

// LayerConfig is the style of one of the two parcel layers.
// Huma reads the tags for OpenAPI + validation.
type LayerConfig struct {
	ID            string       `json:"id,omitempty" doc:"Layer identifier" example:"vacant_properties_tiles_polygons" readOnly:"true"`
	Name          string       `json:"name" required:"true" minLength:"1" maxLength:"100" doc:"Display name" example:"Vacant parcels"`
	GeomType      string       `json:"geomType,omitempty" enum:"polygon,point" doc:"Geometry type" example:"polygon" readOnly:"true"`
	File          string       `json:"file,omitempty" doc:"PMTiles archive carrying the layer" example:"parcels.pmtiles"`
	ColorProperty string       `json:"colorProperty" doc:"Attribute the color is matched on" example:"priority_level" default:"priority_level"`
	ColorStops    []ColorStop  `json:"colorStops" doc:"Color per attribute value"`
	DefaultColor  string       `json:"defaultColor" doc:"Color for unmatched values (CSS)" example:"#D3D3D3" default:"#D3D3D3"`
	Opacity       float64      `json:"opacity" minimum:"0" maximum:"1" default:"0.7" doc:"Fill or circle opacity (0-1)" example:"0.7"`
	Radius        float64      `json:"radius,omitempty" minimum:"0" maximum:"50" doc:"Circle radius for point layers" example:"3"`
	MinZoom       float64      `json:"minZoom,omitempty" minimum:"0" maximum:"24" doc:"Zoom the layer becomes visible"`
	MaxZoom       float64      `json:"maxZoom,omitempty" minimum:"0" maximum:"24" doc:"Zoom the layer stops being visible"`
	Legend        []LegendItem `json:"legend,omitempty" readOnly:"true" doc:"Legend entries derived from the color stops"`
}

// ColorStop maps one attribute value to a color.
type ColorStop struct {
	Value string `json:"value" required:"true" doc:"Attribute value" example:"High"`
	Color string `json:"color" required:"true" doc:"Color (CSS)" example:"#FF4500"`
}

// LegendItem defines a legend entry.
type LegendItem struct {
	Label string `json:"label" doc:"Legend label"`
	Color string `json:"color" doc:"Legend color (CSS)"`
}

// SourceFile represents a parcel GeoJSON file.
type SourceFile struct {
	Name     string `json:"name" doc:"File name" example:"vacant_properties.geojson"`
	Size     string `json:"size" doc:"Human-readable file size" example:"1.2 MB"`
	FileType string `json:"fileType" doc:"File type" example:"GeoJSON"`
}

// TileFile represents a PMTiles archive.
type TileFile struct {
	Name      string     `json:"name" doc:"PMTiles file name" example:"parcels.pmtiles"`
	Size      string     `json:"size" doc:"Human-readable file size" example:"5.4 MB"`
	TileCount uint64     `json:"tileCount,omitempty" doc:"Number of addressed tiles"`
	MinZoom   int        `json:"minZoom,omitempty" doc:"Lowest zoom level in the archive"`
	MaxZoom   int        `json:"maxZoom,omitempty" doc:"Highest zoom level in the archive"`
	Bounds    [4]float64 `json:"bounds,omitempty" doc:"west, south, east, north"`
}

// Priority colors of the parcel layers.
var priorityStops = []ColorStop{
	{Value: "High", Color: "#FF4500"},
	{Value: "Medium", Color: "#FFD700"},
	{Value: "Low", Color: "#B0E57C"},
}

const unmatchedColor = "#D3D3D3"

// DefaultLayers returns the styles of the polygon and point layers.
func DefaultLayers(threshold, minZoom, maxZoom float64) []LayerConfig {
	return []LayerConfig{
		{
			ID:            string(viewport.LayerPolygons),
			Name:          "Vacant parcels",
			GeomType:      "polygon",
			File:          DefaultArchive,
			ColorProperty: "priority_level",
			ColorStops:    append([]ColorStop(nil), priorityStops...),
			DefaultColor:  unmatchedColor,
			Opacity:       0.7,
			MinZoom:       threshold,
			MaxZoom:       maxZoom,
		},
		{
			ID:            string(viewport.LayerPoints),
			Name:          "Vacant parcel points",
			GeomType:      "point",
			File:          DefaultArchive,
			ColorProperty: "priority_level",
			ColorStops:    append([]ColorStop(nil), priorityStops...),
			DefaultColor:  unmatchedColor,
			Opacity:       0.7,
			Radius:        3,
			MinZoom:       minZoom,
			MaxZoom:       threshold,
		},
	}
}

func legendOf(l LayerConfig) []LegendItem {
	items := make([]LegendItem, 0, len(l.ColorStops))
	for _, s := range l.ColorStops {
		items = append(items, LegendItem{Label: s.Value, Color: s.Color})
	}
	return items
}
