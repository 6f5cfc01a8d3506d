// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

// Package middleware provides HTTP middleware shared by the API routes.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/eklind/artgrid/internal/metrics"
)

// PrometheusMetrics instruments a handler with request counters,
// latency histograms and the in-flight gauge.
func PrometheusMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.TrackActiveRequest(true)
		defer metrics.TrackActiveRequest(false)

		start := time.Now()

		wrapper := &metricsResponseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapper, r)

		metrics.RecordAPIRequest(
			r.Method,
			r.URL.Path,
			strconv.Itoa(wrapper.statusCode),
			time.Since(start),
		)
	})
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status
// code.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code.
func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
