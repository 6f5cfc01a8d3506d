// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package sos

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/eklind/artgrid/internal/models"
)

// LocalFromPrefix marks layer states that were derived locally from a
// finer zoom instead of fetched from the upstream.
const LocalFromPrefix = "LOCAL_FROM_"

// StableGridCellsHash returns the canonical SHA-256 of a grid cell list.
//
// The hash is invariant under cell reordering and under any upstream
// payload keys outside the canonical projection: cells are sorted by
// (x, y) and reduced to the 9 fields that define layer content before
// hashing their compact JSON serialization.
func StableGridCellsHash(cells []models.GridCell) string {
	sorted := make([]models.GridCell, len(cells))
	copy(sorted, cells)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].X != sorted[j].X {
			return sorted[i].X < sorted[j].X
		}
		return sorted[i].Y < sorted[j].Y
	})

	canonical := make([][]interface{}, len(sorted))
	for i, c := range sorted {
		canonical[i] = []interface{}{
			c.X,
			c.Y,
			c.Zoom,
			c.ObservationsCount,
			c.TaxaCount,
			c.BoundingBox.TopLeft.Latitude,
			c.BoundingBox.TopLeft.Longitude,
			c.BoundingBox.BottomRight.Latitude,
			c.BoundingBox.BottomRight.Longitude,
		}
	}

	// goccy/go-json produces compact output; a marshal failure is
	// impossible for this shape.
	data, err := json.Marshal(canonical)
	if err != nil {
		panic(fmt.Sprintf("sos: canonical marshal failed: %v", err))
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// LocalFromMarker builds the layer-state marker for a zoom derived from
// srcZoom whose source layer hashed to srcSHA.
func LocalFromMarker(srcZoom int, srcSHA string) string {
	return fmt.Sprintf("%s%d:%s", LocalFromPrefix, srcZoom, srcSHA)
}

// IsValidLocalFrom reports whether a stored derived-layer marker still
// matches the current source layer hash.
func IsValidLocalFrom(marker string, srcZoom int, srcSHA string) bool {
	return marker == LocalFromMarker(srcZoom, srcSHA)
}

// IsLocalFrom reports whether a layer-state hash is a derived marker.
func IsLocalFrom(marker string) bool {
	return strings.HasPrefix(marker, LocalFromPrefix)
}
