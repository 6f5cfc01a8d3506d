// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

// Package tiles provides slippy-map (Web Mercator) tile arithmetic.
//
// Tiles follow the OSM addressing scheme: at zoom z the world is a
// 2^z x 2^z grid with (0,0) at the north-west corner. All functions are
// pure and allocation-free.
package tiles

import "math"

// MaxLatitude is the Web Mercator latitude cutoff. Latitudes beyond it
// cannot be projected and are clamped before conversion.
const MaxLatitude = 85.05112878

// BBox is a geographic bounding box in WGS84 degrees.
// TopLat > BottomLat and LeftLon < RightLon for any valid tile.
type BBox struct {
	TopLat    float64 `json:"top_lat"`
	LeftLon   float64 `json:"left_lon"`
	BottomLat float64 `json:"bottom_lat"`
	RightLon  float64 `json:"right_lon"`
}

// Centroid returns the bbox midpoint.
func (b BBox) Centroid() (lat, lon float64) {
	return (b.TopLat + b.BottomLat) / 2, (b.LeftLon + b.RightLon) / 2
}

// TileBBox returns the WGS84 bounding box of tile (x, y) at zoom z.
func TileBBox(z, x, y int) BBox {
	return BBox{
		TopLat:    tileLat(z, y),
		LeftLon:   tileLon(z, x),
		BottomLat: tileLat(z, y+1),
		RightLon:  tileLon(z, x+1),
	}
}

// tileLat returns the latitude of the top edge of tile row y at zoom z.
func tileLat(z, y int) float64 {
	n := float64(int64(1) << uint(z))
	return math.Atan(math.Sinh(math.Pi*(1-2*float64(y)/n))) * 180 / math.Pi
}

// tileLon returns the longitude of the left edge of tile column x at zoom z.
func tileLon(z, x int) float64 {
	n := float64(int64(1) << uint(z))
	return float64(x)/n*360 - 180
}

// LonLatToTile returns the tile containing (lon, lat) at zoom z.
// Latitude is clamped to +/-MaxLatitude; the result always satisfies
// 0 <= x < 2^z and 0 <= y < 2^z.
func LonLatToTile(z int, lon, lat float64) (x, y int) {
	if lat > MaxLatitude {
		lat = MaxLatitude
	} else if lat < -MaxLatitude {
		lat = -MaxLatitude
	}

	n := float64(int64(1) << uint(z))
	latRad := lat * math.Pi / 180

	x = int(math.Floor((lon + 180) / 360 * n))
	y = int(math.Floor((1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n))

	max := int(int64(1)<<uint(z)) - 1
	if x < 0 {
		x = 0
	} else if x > max {
		x = max
	}
	if y < 0 {
		y = 0
	} else if y > max {
		y = max
	}
	return x, y
}

// ParentTile maps a tile at srcZoom to its ancestor at dstZoom.
// dstZoom must be <= srcZoom.
func ParentTile(x, y, srcZoom, dstZoom int) (px, py int) {
	shift := uint(srcZoom - dstZoom)
	return x >> shift, y >> shift
}
