// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package sos

import (
	"sort"

	"github.com/eklind/artgrid/internal/models"
	"github.com/eklind/artgrid/internal/tiles"
)

// Filter is the free-form search filter fragment merged into the geogrid
// request body alongside the taxon block. The upstream accepts nested
// JSON objects; keeping this a map lets callers combine date and
// geographic constraints without a type per combination.
type Filter map[string]interface{}

// WorldBBox covers the full Web Mercator latitude range. It is the
// starting bbox for recursive splitting when the caller did not
// constrain the search geographically.
var WorldBBox = tiles.BBox{TopLat: 85, LeftLon: -180, BottomLat: -85, RightLon: 180}

// DateRangeFilter constrains observations to [startDate, endDate], both
// in the upstream's ISO-8601 UTC format.
func DateRangeFilter(startDate, endDate string) Filter {
	return Filter{
		"date": map[string]interface{}{
			"startDate":      startDate,
			"endDate":        endDate,
			"dateFilterType": "BetweenStartDateAndEndDate",
		},
	}
}

// BBoxFilter constrains observations to a geographic bounding box.
func BBoxFilter(b tiles.BBox) Filter {
	return Filter{
		"geographics": map[string]interface{}{
			"boundingBox": map[string]interface{}{
				"topLeft": map[string]interface{}{
					"latitude":  b.TopLat,
					"longitude": b.LeftLon,
				},
				"bottomRight": map[string]interface{}{
					"latitude":  b.BottomLat,
					"longitude": b.RightLon,
				},
			},
		},
	}
}

// withBBox returns a copy of f whose geographics.boundingBox is replaced
// by b. Other filter keys, including other geographics constraints, are
// preserved.
func (f Filter) withBBox(b tiles.BBox) Filter {
	out := make(Filter, len(f)+1)
	for k, v := range f {
		out[k] = v
	}

	geo := map[string]interface{}{}
	if existing, ok := out["geographics"].(map[string]interface{}); ok {
		for k, v := range existing {
			geo[k] = v
		}
	}
	geo["boundingBox"] = BBoxFilter(b)["geographics"].(map[string]interface{})["boundingBox"]
	out["geographics"] = geo
	return out
}

// bboxOf extracts the bounding box constraint from f, or returns
// WorldBBox when the filter has none.
func (f Filter) bboxOf() tiles.BBox {
	geo, ok := f["geographics"].(map[string]interface{})
	if !ok {
		return WorldBBox
	}
	bb, ok := geo["boundingBox"].(map[string]interface{})
	if !ok {
		return WorldBBox
	}

	corner := func(name, axis string) (float64, bool) {
		c, ok := bb[name].(map[string]interface{})
		if !ok {
			return 0, false
		}
		v, ok := c[axis].(float64)
		return v, ok
	}

	topLat, ok1 := corner("topLeft", "latitude")
	leftLon, ok2 := corner("topLeft", "longitude")
	botLat, ok3 := corner("bottomRight", "latitude")
	rightLon, ok4 := corner("bottomRight", "longitude")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return WorldBBox
	}
	return tiles.BBox{TopLat: topLat, LeftLon: leftLon, BottomLat: botLat, RightLon: rightLon}
}

// SplitBBox4 divides a bounding box into its four non-overlapping
// quadrants: NW, NE, SW, SE.
func SplitBBox4(b tiles.BBox) [4]tiles.BBox {
	midLat := (b.TopLat + b.BottomLat) / 2
	midLon := (b.LeftLon + b.RightLon) / 2
	return [4]tiles.BBox{
		{TopLat: b.TopLat, LeftLon: b.LeftLon, BottomLat: midLat, RightLon: midLon},
		{TopLat: b.TopLat, LeftLon: midLon, BottomLat: midLat, RightLon: b.RightLon},
		{TopLat: midLat, LeftLon: b.LeftLon, BottomLat: b.BottomLat, RightLon: midLon},
		{TopLat: midLat, LeftLon: midLon, BottomLat: b.BottomLat, RightLon: b.RightLon},
	}
}

// MergeGeoGridPayloads combines sub-payloads produced by a bbox split
// into one payload. Cells are merged by (x, y): observation and taxa
// counts are summed and bounding boxes unioned. Grid cells of disjoint
// quadrants never overlap, so summing is exact for observation counts.
func MergeGeoGridPayloads(payloads []*models.GeoGridPayload) *models.GeoGridPayload {
	type key struct{ x, y int }
	merged := map[key]models.GridCell{}
	zoom := 0

	for _, p := range payloads {
		if p == nil {
			continue
		}
		if p.Zoom != 0 {
			zoom = p.Zoom
		}
		for _, c := range p.GridCells {
			k := key{c.X, c.Y}
			prev, seen := merged[k]
			if !seen {
				merged[k] = c
				continue
			}
			prev.ObservationsCount += c.ObservationsCount
			prev.TaxaCount += c.TaxaCount
			prev.BoundingBox = unionCellBBox(prev.BoundingBox, c.BoundingBox)
			merged[k] = prev
		}
	}

	cells := make([]models.GridCell, 0, len(merged))
	for _, c := range merged {
		cells = append(cells, c)
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].X != cells[j].X {
			return cells[i].X < cells[j].X
		}
		return cells[i].Y < cells[j].Y
	})

	return &models.GeoGridPayload{
		Zoom:          zoom,
		GridCellCount: len(cells),
		GridCells:     cells,
	}
}

// MergeGridCellsAcrossYears merges per-year cell lists into the all-years
// aggregate: observation counts sum, taxa counts take the maximum (each
// per-year value already counts distinct taxa, so summing would count a
// taxon once per year it was seen), bounding boxes union.
func MergeGridCellsAcrossYears(cellLists [][]models.GridCell) []models.GridCell {
	type key struct{ x, y int }
	merged := map[key]models.GridCell{}

	for _, cells := range cellLists {
		for _, c := range cells {
			k := key{c.X, c.Y}
			prev, seen := merged[k]
			if !seen {
				merged[k] = c
				continue
			}
			prev.ObservationsCount += c.ObservationsCount
			if c.TaxaCount > prev.TaxaCount {
				prev.TaxaCount = c.TaxaCount
			}
			prev.BoundingBox = unionCellBBox(prev.BoundingBox, c.BoundingBox)
			merged[k] = prev
		}
	}

	out := make([]models.GridCell, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Y < out[j].Y
	})
	return out
}

func unionCellBBox(a, b models.CellBBox) models.CellBBox {
	out := a
	if b.TopLeft.Latitude > out.TopLeft.Latitude {
		out.TopLeft.Latitude = b.TopLeft.Latitude
	}
	if b.TopLeft.Longitude < out.TopLeft.Longitude {
		out.TopLeft.Longitude = b.TopLeft.Longitude
	}
	if b.BottomRight.Latitude < out.BottomRight.Latitude {
		out.BottomRight.Latitude = b.BottomRight.Latitude
	}
	if b.BottomRight.Longitude > out.BottomRight.Longitude {
		out.BottomRight.Longitude = b.BottomRight.Longitude
	}
	return out
}
