// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/eklind/artgrid/internal/tiles"
)

// LatLon is a WGS84 coordinate pair in the upstream wire format.
type LatLon struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// CellBBox is the upstream bounding-box wire shape.
type CellBBox struct {
	TopLeft     LatLon `json:"topLeft"`
	BottomRight LatLon `json:"bottomRight"`
}

// GridCell is one aggregated tile as returned by the upstream geogrid
// endpoint. Numeric fields default to zero when the upstream omits them.
type GridCell struct {
	X                 int      `json:"x"`
	Y                 int      `json:"y"`
	Zoom              int      `json:"zoom"`
	ObservationsCount int64    `json:"observationsCount"`
	TaxaCount         int64    `json:"taxaCount"`
	BoundingBox       CellBBox `json:"boundingBox"`
}

// UnmarshalJSON coerces the loosely typed upstream count fields.
// Integers, floats and numeric strings all decode; anything else
// becomes zero instead of failing the whole payload.
func (g *GridCell) UnmarshalJSON(data []byte) error {
	type Plain GridCell
	aux := struct {
		*Plain
		ObservationsCount json.RawMessage `json:"observationsCount"`
		TaxaCount         json.RawMessage `json:"taxaCount"`
	}{Plain: (*Plain)(g)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	g.ObservationsCount = coerceCount(aux.ObservationsCount)
	g.TaxaCount = coerceCount(aux.TaxaCount)
	return nil
}

// coerceCount converts a raw JSON value to an integer count. Fractional
// values truncate toward zero.
func coerceCount(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var i int64
	if err := json.Unmarshal(raw, &i); err == nil {
		return i
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int64(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return int64(f)
		}
	}
	return 0
}

// GeoGridPayload is the upstream geogrid aggregation response. Unknown
// payload keys are ignored on decode and never participate in hashing.
type GeoGridPayload struct {
	Zoom          int        `json:"zoom,omitempty"`
	GridCellCount int        `json:"gridCellCount,omitempty"`
	GridCells     []GridCell `json:"gridCells"`
	BoundingBox   *CellBBox  `json:"boundingBox,omitempty"`
}

// LayerState is the content-hash watermark for one (taxon, zoom, year,
// slot) layer. For derived layers PayloadSHA256 holds a LOCAL_FROM marker
// instead of a content hash.
type LayerState struct {
	TaxonID       int64     `json:"taxon_id"`
	Zoom          int       `json:"zoom"`
	Year          int       `json:"year"`
	SlotID        int       `json:"slot_id"`
	LastFetchUTC  time.Time `json:"last_fetch_utc"`
	PayloadSHA256 string    `json:"payload_sha256"`
	GridCellCount int       `json:"grid_cell_count"`
}

// HotmapCell is one materialized hotspot tile, as read back from the
// hotmap summary view. ObsTotal and TaxaList are zero-valued when the row
// comes from a cross-year aggregation rather than a single bucket.
type HotmapCell struct {
	Zoom        int        `json:"zoom"`
	Year        int        `json:"year"`
	SlotID      int        `json:"slot_id"`
	X           int        `json:"x"`
	YTile       int        `json:"y"`
	Coverage    int        `json:"coverage"`
	Score       float64    `json:"score"`
	BBox        tiles.BBox `json:"bbox"`
	CentroidLat float64    `json:"centroid_lat"`
	CentroidLon float64    `json:"centroid_lon"`
	ObsTotal    int64      `json:"obs_total"`
	TaxaList    string     `json:"taxa_list"`
}

// CellTaxon is one taxon present in a hotmap tile.
type CellTaxon struct {
	TaxonID           int64  `json:"taxon_id"`
	ScientificName    string `json:"scientific_name"`
	SwedishName       string `json:"swedish_name"`
	ObservationsCount int64  `json:"observations_count"`
}

// RankedTile is a hotmap tile scored against a query location.
type RankedTile struct {
	DWScore  float64 `json:"dw_score"`
	DistKm   float64 `json:"dist_km"`
	Zoom     int     `json:"zoom"`
	Year     int     `json:"year"`
	SlotID   int     `json:"slot_id"`
	X        int     `json:"x"`
	YTile    int     `json:"y"`
	Coverage int     `json:"coverage"`
	Score    float64 `json:"score"`
	TaxaList string  `json:"taxa_list"`
	ObsTotal int64   `json:"obs_total"`
}

// TaxonRow is one entry of the configured taxa input list.
type TaxonRow struct {
	TaxonID        int64  `json:"taxon_id"`
	ScientificName string `json:"scientific_name"`
	SwedishName    string `json:"swedish_name"`
}
