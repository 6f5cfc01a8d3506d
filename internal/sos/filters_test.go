// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package sos

import (
	"testing"

	"github.com/eklind/artgrid/internal/models"
	"github.com/eklind/artgrid/internal/tiles"
)

func TestSplitBBox4(t *testing.T) {
	t.Parallel()

	b := tiles.BBox{TopLat: 69.6, LeftLon: 10.0, BottomLat: 55.0, RightLon: 25.0}
	quads := SplitBBox4(b)

	midLat, midLon := 62.3, 17.5
	want := [4]tiles.BBox{
		{TopLat: 69.6, LeftLon: 10.0, BottomLat: midLat, RightLon: midLon},
		{TopLat: 69.6, LeftLon: midLon, BottomLat: midLat, RightLon: 25.0},
		{TopLat: midLat, LeftLon: 10.0, BottomLat: 55.0, RightLon: midLon},
		{TopLat: midLat, LeftLon: midLon, BottomLat: 55.0, RightLon: 25.0},
	}

	for i := range want {
		if quads[i] != want[i] {
			t.Errorf("quadrant %d = %+v, want %+v", i, quads[i], want[i])
		}
	}
}

func TestFilter_WithBBoxPreservesOtherKeys(t *testing.T) {
	t.Parallel()

	f := DateRangeFilter("2024-01-01T00:00:00Z", "2024-12-31T23:59:59Z")
	b := tiles.BBox{TopLat: 60, LeftLon: 10, BottomLat: 55, RightLon: 20}

	out := f.withBBox(b)

	if _, ok := out["date"]; !ok {
		t.Error("date filter must survive bbox override")
	}
	if got := out.bboxOf(); got != b {
		t.Errorf("bboxOf = %+v, want %+v", got, b)
	}
	// The original filter must not have been mutated.
	if _, ok := f["geographics"]; ok {
		t.Error("withBBox must not mutate the receiver")
	}
}

func TestFilter_BBoxOfDefaultsToWorld(t *testing.T) {
	t.Parallel()

	if got := (Filter{}).bboxOf(); got != WorldBBox {
		t.Errorf("empty filter bbox = %+v, want world", got)
	}
	if got := DateRangeFilter("a", "b").bboxOf(); got != WorldBBox {
		t.Errorf("date-only filter bbox = %+v, want world", got)
	}
}

func TestMergeGeoGridPayloads_DisjointCells(t *testing.T) {
	t.Parallel()

	p1 := &models.GeoGridPayload{Zoom: 15, GridCells: []models.GridCell{testCell(1, 1, 10), testCell(2, 1, 5)}}
	p2 := &models.GeoGridPayload{Zoom: 15, GridCells: []models.GridCell{testCell(3, 1, 7)}}

	merged := MergeGeoGridPayloads([]*models.GeoGridPayload{p1, p2})

	if merged.GridCellCount != 3 || len(merged.GridCells) != 3 {
		t.Fatalf("merged cell count = %d, want 3", len(merged.GridCells))
	}
	// Disjoint cells keep their per-quadrant counts.
	var total int64
	for _, c := range merged.GridCells {
		total += c.ObservationsCount
	}
	if total != 22 {
		t.Errorf("total observations = %d, want 22", total)
	}
}

func TestMergeGeoGridPayloads_OverlappingCellSums(t *testing.T) {
	t.Parallel()

	p1 := &models.GeoGridPayload{GridCells: []models.GridCell{testCell(1, 1, 10)}}
	p2 := &models.GeoGridPayload{GridCells: []models.GridCell{testCell(1, 1, 5)}}

	merged := MergeGeoGridPayloads([]*models.GeoGridPayload{p1, p2})

	if len(merged.GridCells) != 1 {
		t.Fatalf("merged cell count = %d, want 1", len(merged.GridCells))
	}
	c := merged.GridCells[0]
	if c.ObservationsCount != 15 {
		t.Errorf("observations = %d, want 15", c.ObservationsCount)
	}
	if c.TaxaCount != 2 {
		t.Errorf("taxa count = %d, want 2 (summed)", c.TaxaCount)
	}
}

func TestMergeGeoGridPayloads_SortedByXY(t *testing.T) {
	t.Parallel()

	p := &models.GeoGridPayload{GridCells: []models.GridCell{
		testCell(5, 1, 1), testCell(1, 9, 1), testCell(1, 2, 1),
	}}
	merged := MergeGeoGridPayloads([]*models.GeoGridPayload{p})

	for i := 1; i < len(merged.GridCells); i++ {
		a, b := merged.GridCells[i-1], merged.GridCells[i]
		if a.X > b.X || (a.X == b.X && a.Y > b.Y) {
			t.Fatalf("cells not sorted by (x, y): %v before %v", a, b)
		}
	}
}

func TestMergeGridCellsAcrossYears(t *testing.T) {
	t.Parallel()

	y2023 := []models.GridCell{
		func() models.GridCell { c := testCell(1, 1, 10); c.TaxaCount = 3; return c }(),
	}
	y2024 := []models.GridCell{
		func() models.GridCell { c := testCell(1, 1, 20); c.TaxaCount = 2; return c }(),
		testCell(2, 2, 5),
	}

	merged := MergeGridCellsAcrossYears([][]models.GridCell{y2023, y2024})

	if len(merged) != 2 {
		t.Fatalf("merged cell count = %d, want 2", len(merged))
	}
	c := merged[0]
	if c.X != 1 || c.Y != 1 {
		t.Fatalf("first cell = (%d, %d), want (1, 1)", c.X, c.Y)
	}
	if c.ObservationsCount != 30 {
		t.Errorf("observations = %d, want 30 (summed across years)", c.ObservationsCount)
	}
	if c.TaxaCount != 3 {
		t.Errorf("taxa count = %d, want 3 (max across years)", c.TaxaCount)
	}
}
