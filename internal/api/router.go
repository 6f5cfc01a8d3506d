// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eklind/artgrid/internal/middleware"
)

// NewRouter builds the chi route tree. Read endpoints sit behind the
// rate limiter and request metrics; the write group is unthrottled since
// builds serialize on the build mutex anyway.
func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "If-None-Match"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if !h.cfg.Server.RateLimitDisabled {
				r.Use(httprate.LimitByIP(h.cfg.Server.RateLimitReqs, h.cfg.Server.RateLimitWindow))
			}
			r.Use(middleware.PrometheusMetrics)

			r.Get("/health", h.Health)
			r.Get("/hotmap", h.Hotmap)
			r.Get("/hotmap_window", h.HotmapWindow)
			r.Get("/cell/taxa", h.CellTaxa)
			r.Get("/cell/taxa_window", h.CellTaxaWindow)
			r.Get("/rank_nearby", h.RankNearby)
			r.Get("/export/hotmap.geojson", h.ExportHotmapGeoJSON)
			r.Get("/export/top_sites.csv", h.ExportTopSitesCSV)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.PrometheusMetrics)

			r.Post("/pipeline/build", h.PipelineBuild)
			r.Post("/admin/clear_hotmap", h.ClearHotmap)
			r.Post("/admin/clear_derived", h.ClearDerived)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
