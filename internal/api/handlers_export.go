// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package api

import (
	"fmt"
	"net/http"

	"github.com/eklind/artgrid/internal/export"
	"github.com/eklind/artgrid/internal/logging"
	"github.com/eklind/artgrid/internal/models"
)

// ExportHotmapGeoJSON serves the hotmap as a downloadable GeoJSON
// artifact with its canonical file name.
func (h *Handler) ExportHotmapGeoJSON(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseHotmapQuery(r, false)
	if err != nil {
		respondAppError(w, err)
		return
	}

	cells, err := h.store.HotmapWindow(r.Context(), q.zoom, q.yearFrom, q.yearTo, q.slots, q.limit)
	if err != nil {
		respondAppError(w, err)
		return
	}

	name := export.HotmapGeoJSONName(q.zoom, q.yearFrom, q.slots[0])
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := export.WriteHotmapGeoJSON(w, cells); err != nil {
		logging.Error().Err(err).Msg("Failed to write GeoJSON export")
	}
}

// ExportTopSitesCSV serves the ranked top-sites table as CSV. The limit
// parameter defaults to the configured top-sites cap.
func (h *Handler) ExportTopSitesCSV(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseHotmapQuery(r, false)
	if err != nil {
		respondAppError(w, err)
		return
	}
	limit := q.limit
	if limit == 0 {
		limit = h.cfg.Export.TopSitesLimit
	}
	if limit < 0 {
		respondError(w, http.StatusBadRequest, models.CodeBadRequest, "limit must not be negative", nil)
		return
	}

	cells, err := h.store.HotmapWindow(r.Context(), q.zoom, q.yearFrom, q.yearTo, q.slots, limit)
	if err != nil {
		respondAppError(w, err)
		return
	}

	name := export.TopSitesCSVName(q.zoom, q.yearFrom, q.slots[0])
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := export.WriteTopSitesCSV(w, cells, limit); err != nil {
		logging.Error().Err(err).Msg("Failed to write CSV export")
	}
}
