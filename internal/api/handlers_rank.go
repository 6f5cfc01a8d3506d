// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package api

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/eklind/artgrid/internal/distance"
	"github.com/eklind/artgrid/internal/models"
)

// Default rank_nearby parameters. The fallback location is central
// Skåne, matching the service's primary deployment region.
const (
	defaultRankLat   = 55.667
	defaultRankLon   = 13.350
	defaultRankMaxKm = 250.0
	defaultRankD0Km  = 30.0
	defaultRankGamma = 2.0
	defaultRankLimit = 20
)

// RankNearby scores hotmap tiles around a query location. Tiles beyond
// max_km are dropped; the rest are weighted by distance and sorted by
// dw_score descending, then distance ascending.
func (h *Handler) RankNearby(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseHotmapQuery(r, false)
	if err != nil {
		respondAppError(w, err)
		return
	}

	lat, err := getFloatParam(r, "lat", defaultRankLat)
	if err != nil {
		respondAppError(w, err)
		return
	}
	lon, err := getFloatParam(r, "lon", defaultRankLon)
	if err != nil {
		respondAppError(w, err)
		return
	}
	maxKm, err := getFloatParam(r, "max_km", defaultRankMaxKm)
	if err != nil {
		respondAppError(w, err)
		return
	}
	d0, err := getFloatParam(r, "d0_km", defaultRankD0Km)
	if err != nil {
		respondAppError(w, err)
		return
	}
	gamma, err := getFloatParam(r, "gamma", defaultRankGamma)
	if err != nil {
		respondAppError(w, err)
		return
	}
	limit, err := getIntParam(r, "limit", defaultRankLimit)
	if err != nil {
		respondAppError(w, err)
		return
	}

	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = "rational"
	}
	if mode != "rational" && mode != "exp" {
		respondError(w, http.StatusBadRequest, models.CodeBadRequest,
			fmt.Sprintf("mode %q must be rational or exp", mode), nil)
		return
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		respondError(w, http.StatusBadRequest, models.CodeBadRequest, "lat/lon out of range", nil)
		return
	}

	start := time.Now()
	ranked := []models.RankedTile{}
	if maxKm > 0 {
		candidates, err := h.store.RankCandidates(r.Context(), q.zoom, q.yearFrom, q.yearTo, q.slots)
		if err != nil {
			respondAppError(w, err)
			return
		}
		ranked = rankTiles(candidates, lat, lon, maxKm, mode, d0, gamma, limit)
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   ranked,
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

// rankTiles applies the distance cutoff and weighting to candidate
// hotmap tiles. Candidates are deduplicated by tile key during scoring.
func rankTiles(candidates []models.HotmapCell, lat, lon, maxKm float64, mode string, d0, gamma float64, limit int) []models.RankedTile {
	type tileKey struct {
		zoom, year, slot, x, y int
	}
	seen := make(map[tileKey]bool, len(candidates))

	ranked := make([]models.RankedTile, 0, len(candidates))
	for _, c := range candidates {
		key := tileKey{c.Zoom, c.Year, c.SlotID, c.X, c.YTile}
		if seen[key] {
			continue
		}
		seen[key] = true

		dKm := distance.HaversineKm(lat, lon, c.CentroidLat, c.CentroidLon)
		if dKm > maxKm {
			continue
		}

		var weight float64
		if mode == "exp" {
			weight = distance.WeightExp(dKm, d0)
		} else {
			weight = distance.WeightRational(dKm, d0, gamma)
		}

		ranked = append(ranked, models.RankedTile{
			DWScore:  c.Score * weight,
			DistKm:   dKm,
			Zoom:     c.Zoom,
			Year:     c.Year,
			SlotID:   c.SlotID,
			X:        c.X,
			YTile:    c.YTile,
			Coverage: c.Coverage,
			Score:    c.Score,
			TaxaList: c.TaxaList,
			ObsTotal: c.ObsTotal,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].DWScore != ranked[j].DWScore {
			return ranked[i].DWScore > ranked[j].DWScore
		}
		return ranked[i].DistKm < ranked[j].DistKm
	})

	if limit > 0 && limit < len(ranked) {
		ranked = ranked[:limit]
	}
	return ranked
}
