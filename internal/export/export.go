// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

// Package export renders hotmap query results as GeoJSON and CSV
// artifacts for downstream mapping tools.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/eklind/artgrid/internal/models"
	"github.com/eklind/artgrid/internal/tiles"
)

// Geometry is a GeoJSON polygon. Coordinates are [lon, lat] rings.
type Geometry struct {
	Type        string         `json:"type"`
	Coordinates [][][2]float64 `json:"coordinates"`
}

// Feature is one GeoJSON feature.
type Feature struct {
	Type       string                 `json:"type"`
	Geometry   Geometry               `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// FeatureCollection is the GeoJSON document root.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// HotmapFeatureCollection converts ranked hotmap cells into a GeoJSON
// FeatureCollection. Cell order is preserved, so callers pass cells
// already sorted by coverage and score. Each polygon is a closed
// 5-point ring starting and ending at the tile's top-left corner.
func HotmapFeatureCollection(cells []models.HotmapCell) *FeatureCollection {
	fc := &FeatureCollection{
		Type:     "FeatureCollection",
		Features: make([]Feature, 0, len(cells)),
	}
	for _, c := range cells {
		b := c.BBox
		ring := [][2]float64{
			{b.LeftLon, b.TopLat},
			{b.RightLon, b.TopLat},
			{b.RightLon, b.BottomLat},
			{b.LeftLon, b.BottomLat},
			{b.LeftLon, b.TopLat},
		}
		fc.Features = append(fc.Features, Feature{
			Type:     "Feature",
			Geometry: Geometry{Type: "Polygon", Coordinates: [][][2]float64{ring}},
			Properties: map[string]interface{}{
				"zoom":     c.Zoom,
				"year":     c.Year,
				"slot_id":  c.SlotID,
				"x":        c.X,
				"y":        c.YTile,
				"coverage": c.Coverage,
				"score":    c.Score,
			},
		})
	}
	return fc
}

// WriteHotmapGeoJSON streams the FeatureCollection for cells to w.
func WriteHotmapGeoJSON(w io.Writer, cells []models.HotmapCell) error {
	return json.NewEncoder(w).Encode(HotmapFeatureCollection(cells))
}

// topSitesHeader is the fixed column order of the top-sites CSV.
var topSitesHeader = []string{
	"rank", "zoom", "year", "slot_id", "x", "y",
	"coverage", "score", "centroid_lat", "centroid_lon",
	"topLeft_lat", "topLeft_lon", "bottomRight_lat", "bottomRight_lon",
	"source",
}

// WriteTopSitesCSV writes the ranked top-sites table for cells to w.
// Bounding boxes are recomputed from tile math rather than echoed from
// storage, so exported rows are exact slippy bboxes. A non-positive
// limit exports every cell.
func WriteTopSitesCSV(w io.Writer, cells []models.HotmapCell, limit int) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(topSitesHeader); err != nil {
		return err
	}

	if limit > 0 && limit < len(cells) {
		cells = cells[:limit]
	}
	for i, c := range cells {
		b := tiles.TileBBox(c.Zoom, c.X, c.YTile)
		lat, lon := b.Centroid()
		row := []string{
			strconv.Itoa(i + 1),
			strconv.Itoa(c.Zoom),
			strconv.Itoa(c.Year),
			strconv.Itoa(c.SlotID),
			strconv.Itoa(c.X),
			strconv.Itoa(c.YTile),
			strconv.Itoa(c.Coverage),
			formatFloat(c.Score),
			formatFloat(lat),
			formatFloat(lon),
			formatFloat(b.TopLat),
			formatFloat(b.LeftLon),
			formatFloat(b.BottomLat),
			formatFloat(b.RightLon),
			"grid_hotmap",
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// HotmapGeoJSONName returns the artifact file name for a hotmap export.
func HotmapGeoJSONName(zoom, year, slotID int) string {
	return fmt.Sprintf("hotmap_zoom%d_year%d_slot%d.geojson", zoom, year, slotID)
}

// TopSitesCSVName returns the artifact file name for a top-sites export.
func TopSitesCSVName(zoom, year, slotID int) string {
	return fmt.Sprintf("top_sites_zoom%d_year%d_slot%d.csv", zoom, year, slotID)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
