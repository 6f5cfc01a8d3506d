// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/eklind/artgrid/internal/export"
	"github.com/eklind/artgrid/internal/logging"
	"github.com/eklind/artgrid/internal/models"
)

// hotmapQuery is the normalized parameter set shared by the hotmap,
// window and export endpoints.
type hotmapQuery struct {
	zoom     int
	yearFrom int
	yearTo   int
	slots    []int
	limit    int
}

// cacheKey is stable across equivalent requests.
func (q hotmapQuery) cacheKey(kind string) string {
	return fmt.Sprintf("%s:z%d:y%d-%d:s%v:l%d", kind, q.zoom, q.yearFrom, q.yearTo, q.slots, q.limit)
}

// parseHotmapQuery reads zoom, year range and either slot_id or a
// slot_ids CSV depending on window.
func (h *Handler) parseHotmapQuery(r *http.Request, window bool) (hotmapQuery, error) {
	var q hotmapQuery
	var err error

	if q.zoom, err = h.parseZoom(r); err != nil {
		return q, err
	}
	if q.yearFrom, q.yearTo, err = parseYearRange(r); err != nil {
		return q, err
	}
	if q.limit, err = getIntParam(r, "limit", 0); err != nil {
		return q, err
	}
	if q.limit < 0 {
		return q, models.NewError(models.CodeBadRequest, "limit must not be negative")
	}

	if window {
		q.slots, err = parseSlotIDs(r.URL.Query().Get("slot_ids"))
		if err != nil {
			return q, err
		}
	} else {
		slot, err := parseSingleSlot(r)
		if err != nil {
			return q, err
		}
		q.slots = []int{slot}
	}
	return q, nil
}

// Hotmap serves the hotspot tiles for one slot as GeoJSON.
func (h *Handler) Hotmap(w http.ResponseWriter, r *http.Request) {
	h.serveHotmapGeoJSON(w, r, false)
}

// HotmapWindow serves hotspot tiles for a slot set as GeoJSON. An empty
// slot set returns an empty collection.
func (h *Handler) HotmapWindow(w http.ResponseWriter, r *http.Request) {
	h.serveHotmapGeoJSON(w, r, true)
}

func (h *Handler) serveHotmapGeoJSON(w http.ResponseWriter, r *http.Request, window bool) {
	q, err := h.parseHotmapQuery(r, window)
	if err != nil {
		respondAppError(w, err)
		return
	}

	key := q.cacheKey("hotmap")
	if body, ok := h.respCache.Get(key); ok {
		writeGeoJSON(w, body, true)
		return
	}

	cells, err := h.store.HotmapWindow(r.Context(), q.zoom, q.yearFrom, q.yearTo, q.slots, q.limit)
	if err != nil {
		respondAppError(w, err)
		return
	}

	body, err := json.Marshal(export.HotmapFeatureCollection(cells))
	if err != nil {
		respondError(w, http.StatusInternalServerError, models.CodeInternal, "failed to render GeoJSON", err)
		return
	}

	h.respCache.Set(key, body)
	writeGeoJSON(w, body, false)
}

func writeGeoJSON(w http.ResponseWriter, body []byte, cached bool) {
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.Header().Set("ETag", generateETag(body))
	if cached {
		w.Header().Set("X-Cache", "HIT")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		logging.Error().Err(err).Msg("Failed to write GeoJSON response")
	}
}

// CellTaxa lists the active taxa present in one tile for a single slot.
func (h *Handler) CellTaxa(w http.ResponseWriter, r *http.Request) {
	h.serveCellTaxa(w, r, false)
}

// CellTaxaWindow lists tile taxa aggregated over a slot set.
func (h *Handler) CellTaxaWindow(w http.ResponseWriter, r *http.Request) {
	h.serveCellTaxa(w, r, true)
}

func (h *Handler) serveCellTaxa(w http.ResponseWriter, r *http.Request, window bool) {
	q, err := h.parseHotmapQuery(r, window)
	if err != nil {
		respondAppError(w, err)
		return
	}

	x, err := getIntParam(r, "x", -1)
	if err != nil {
		respondAppError(w, err)
		return
	}
	y, err := getIntParam(r, "y", -1)
	if err != nil {
		respondAppError(w, err)
		return
	}
	if x < 0 || y < 0 {
		respondError(w, http.StatusBadRequest, models.CodeBadRequest, "x and y tile coordinates are required", nil)
		return
	}

	start := time.Now()
	taxa, err := h.store.CellTaxa(r.Context(), q.zoom, q.yearFrom, q.yearTo, q.slots, x, y, q.limit)
	if err != nil {
		respondAppError(w, err)
		return
	}
	if taxa == nil {
		taxa = []models.CellTaxon{}
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   taxa,
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}
