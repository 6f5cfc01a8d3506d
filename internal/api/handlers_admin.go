// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package api

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/eklind/artgrid/internal/models"
	"github.com/eklind/artgrid/internal/pipeline"
)

// maxBuildBodyBytes bounds the build request body.
const maxBuildBodyBytes = 1 << 20

// PipelineBuild triggers an ingest build. Concurrent invocations get
// BUILD_BUSY (409). A completed build invalidates the response cache.
func (h *Handler) PipelineBuild(w http.ResponseWriter, r *http.Request) {
	var req pipeline.BuildRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBuildBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, models.CodeBadRequest, "failed to read request body", err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			respondError(w, http.StatusBadRequest, models.CodeBadRequest, "invalid JSON body", err)
			return
		}
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	result, err := h.builder.Run(r.Context(), req)
	if err != nil {
		respondAppError(w, err)
		return
	}
	h.respCache.Invalidate()

	writeRawJSON(w, http.StatusOK, map[string]interface{}{
		"ok":             true,
		"build_id":       result.BuildID,
		"slots_built":    result.SlotsBuilt,
		"zooms":          result.Zooms,
		"base_zoom":      result.BaseZoom,
		"n_taxa":         result.NTaxa,
		"alpha":          result.Alpha,
		"beta":           result.Beta,
		"year_from":      result.YearFrom,
		"year_to":        result.YearTo,
		"layers_fetched": result.LayersFetched,
		"layers_skipped": result.LayersSkipped,
		"layers_failed":  result.LayersFailed,
		"elapsed_ms":     result.ElapsedMS,
	})
}

// optionalIntParam returns nil when the parameter is absent.
func optionalIntParam(r *http.Request, name string) (*int, error) {
	if r.URL.Query().Get(name) == "" {
		return nil, nil
	}
	v, err := getIntParam(r, name, 0)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ClearHotmap deletes materialized hotmap rows, optionally narrowed by
// zoom, year and slot_id.
func (h *Handler) ClearHotmap(w http.ResponseWriter, r *http.Request) {
	zoom, err := optionalIntParam(r, "zoom")
	if err != nil {
		respondAppError(w, err)
		return
	}
	year, err := optionalIntParam(r, "year")
	if err != nil {
		respondAppError(w, err)
		return
	}
	slot, err := optionalIntParam(r, "slot_id")
	if err != nil {
		respondAppError(w, err)
		return
	}

	deleted, err := h.store.ClearHotmap(r.Context(), zoom, year, slot)
	if err != nil {
		respondAppError(w, err)
		return
	}
	h.respCache.Invalidate()

	writeRawJSON(w, http.StatusOK, map[string]interface{}{
		"ok":           true,
		"deleted_rows": deleted,
	})
}

// ClearDerived deletes locally derived zoom layers, keeping keep_zoom
// (default: the configured base zoom).
func (h *Handler) ClearDerived(w http.ResponseWriter, r *http.Request) {
	keepZoom, err := getIntParam(r, "keep_zoom", h.cfg.Pipeline.BaseZoom())
	if err != nil {
		respondAppError(w, err)
		return
	}
	year, err := optionalIntParam(r, "year")
	if err != nil {
		respondAppError(w, err)
		return
	}
	slot, err := optionalIntParam(r, "slot_id")
	if err != nil {
		respondAppError(w, err)
		return
	}

	gridRows, stateRows, err := h.store.ClearDerivedZoomCache(r.Context(), keepZoom, year, slot)
	if err != nil {
		respondAppError(w, err)
		return
	}
	h.respCache.Invalidate()

	writeRawJSON(w, http.StatusOK, map[string]interface{}{
		"ok":                 true,
		"keep_zoom":          keepZoom,
		"deleted_grid_rows":  gridRows,
		"deleted_state_rows": stateRows,
	})
}
