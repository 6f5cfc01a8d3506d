// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

// Package api exposes the HTTP surface: hotmap and per-cell reads,
// nearby ranking, exports, the pipeline build trigger and admin
// maintenance.
package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/eklind/artgrid/internal/cache"
	"github.com/eklind/artgrid/internal/config"
	"github.com/eklind/artgrid/internal/database"
	"github.com/eklind/artgrid/internal/logging"
	"github.com/eklind/artgrid/internal/pipeline"
)

// Handler carries the dependencies shared by all endpoints.
type Handler struct {
	store     *database.DB
	builder   *pipeline.Builder
	respCache *cache.ResponseCache
	cfg       *config.Config
	startTime time.Time
}

// NewHandler wires the handler to its store, builder and response cache.
func NewHandler(store *database.DB, builder *pipeline.Builder, respCache *cache.ResponseCache, cfg *config.Config) *Handler {
	return &Handler{
		store:     store,
		builder:   builder,
		respCache: respCache,
		cfg:       cfg,
		startTime: time.Now(),
	}
}

// Health reports liveness plus store reachability and row counts.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{
		"ok":             true,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	}

	stats, err := h.store.Stats(r.Context())
	if err != nil {
		logging.Warn().Err(err).Msg("Health store check failed")
		out["ok"] = false
		out["store_error"] = err.Error()
		writeRawJSON(w, http.StatusServiceUnavailable, out)
		return
	}
	out["store"] = stats
	writeRawJSON(w, http.StatusOK, out)
}

// writeRawJSON writes v without the list-endpoint envelope. Health,
// build and admin responses use the flat shape.
func writeRawJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}
