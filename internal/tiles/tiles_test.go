// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package tiles

import (
	"math"
	"testing"
)

func TestTileBBox_WorldTile(t *testing.T) {
	t.Parallel()

	b := TileBBox(0, 0, 0)

	if math.Abs(b.TopLat-MaxLatitude) > 1e-6 {
		t.Errorf("TopLat = %v, want %v", b.TopLat, MaxLatitude)
	}
	if math.Abs(b.BottomLat+MaxLatitude) > 1e-6 {
		t.Errorf("BottomLat = %v, want %v", b.BottomLat, -MaxLatitude)
	}
	if b.LeftLon != -180 || b.RightLon != 180 {
		t.Errorf("lon bounds = (%v, %v), want (-180, 180)", b.LeftLon, b.RightLon)
	}
}

func TestTileBBox_Orientation(t *testing.T) {
	t.Parallel()

	b := TileBBox(15, 17000, 9500)
	if b.TopLat <= b.BottomLat {
		t.Errorf("TopLat %v must exceed BottomLat %v", b.TopLat, b.BottomLat)
	}
	if b.LeftLon >= b.RightLon {
		t.Errorf("LeftLon %v must be below RightLon %v", b.LeftLon, b.RightLon)
	}
}

func TestLonLatToTile_RoundTrip(t *testing.T) {
	t.Parallel()

	// Lund, southern Sweden.
	const lat, lon = 55.7047, 13.1910
	for _, z := range []int{5, 10, 14, 15} {
		x, y := LonLatToTile(z, lon, lat)
		b := TileBBox(z, x, y)
		if lat > b.TopLat || lat < b.BottomLat {
			t.Errorf("zoom %d: lat %v outside tile bbox [%v, %v]", z, lat, b.BottomLat, b.TopLat)
		}
		if lon < b.LeftLon || lon > b.RightLon {
			t.Errorf("zoom %d: lon %v outside tile bbox [%v, %v]", z, lon, b.LeftLon, b.RightLon)
		}
	}
}

func TestLonLatToTile_ClampsPoles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		lat, lon float64
	}{
		{"north pole", 90, 0},
		{"south pole", -90, 0},
		{"beyond cutoff", 89.9, 17.5},
		{"date line east", 45, 180},
		{"date line west", 45, -180},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, z := range []int{0, 3, 10} {
				x, y := LonLatToTile(z, tt.lon, tt.lat)
				max := int(int64(1) << uint(z))
				if x < 0 || x >= max {
					t.Errorf("zoom %d: x = %d out of [0, %d)", z, x, max)
				}
				if y < 0 || y >= max {
					t.Errorf("zoom %d: y = %d out of [0, %d)", z, y, max)
				}
			}
		})
	}
}

func TestParentTile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		x, y             int
		srcZoom, dstZoom int
		wantX, wantY     int
	}{
		{34000, 19000, 15, 14, 17000, 9500},
		{34001, 19000, 15, 14, 17000, 9500},
		{34000, 19000, 15, 12, 4250, 2375},
		{7, 5, 3, 3, 7, 5},
		{1023, 1023, 10, 0, 0, 0},
	}

	for _, tt := range tests {
		px, py := ParentTile(tt.x, tt.y, tt.srcZoom, tt.dstZoom)
		if px != tt.wantX || py != tt.wantY {
			t.Errorf("ParentTile(%d, %d, %d, %d) = (%d, %d), want (%d, %d)",
				tt.x, tt.y, tt.srcZoom, tt.dstZoom, px, py, tt.wantX, tt.wantY)
		}
	}
}

func TestParentBBoxContainsChildren(t *testing.T) {
	t.Parallel()

	child := TileBBox(15, 34000, 19000)
	px, py := ParentTile(34000, 19000, 15, 14)
	parent := TileBBox(14, px, py)

	if child.TopLat > parent.TopLat+1e-9 || child.BottomLat < parent.BottomLat-1e-9 {
		t.Errorf("child lat range [%v, %v] escapes parent [%v, %v]",
			child.BottomLat, child.TopLat, parent.BottomLat, parent.TopLat)
	}
	if child.LeftLon < parent.LeftLon-1e-9 || child.RightLon > parent.RightLon+1e-9 {
		t.Errorf("child lon range [%v, %v] escapes parent [%v, %v]",
			child.LeftLon, child.RightLon, parent.LeftLon, parent.RightLon)
	}
}

func TestCentroid(t *testing.T) {
	t.Parallel()

	b := BBox{TopLat: 56, LeftLon: 13, BottomLat: 55, RightLon: 14}
	lat, lon := b.Centroid()
	if lat != 55.5 || lon != 13.5 {
		t.Errorf("Centroid() = (%v, %v), want (55.5, 13.5)", lat, lon)
	}
}
