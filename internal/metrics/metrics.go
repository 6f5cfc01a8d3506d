// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

// Package metrics defines the Prometheus instrumentation for Artgrid.
// All collectors are registered at package init via promauto and exposed
// on /metrics by the HTTP layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequestsTotal counts HTTP API requests by method, endpoint and
	// response status.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artgrid_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// APIRequestDuration observes HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "artgrid_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// APIActiveRequests gauges in-flight API requests.
	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "artgrid_api_active_requests",
			Help: "Number of API requests currently being served",
		},
	)

	// DBQueryDuration observes store operation latency by operation name.
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "artgrid_db_query_duration_seconds",
			Help:    "Store query duration in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
		},
		[]string{"operation"},
	)

	// DBQueryErrors counts failed store operations.
	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artgrid_db_query_errors_total",
			Help: "Total number of failed store operations",
		},
		[]string{"operation"},
	)

	// UpstreamRequestsTotal counts SOS geogrid requests by outcome.
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artgrid_upstream_requests_total",
			Help: "Total number of upstream geogrid requests",
		},
		[]string{"status"},
	)

	// UpstreamRetriesTotal counts 429 backoff retries against the upstream.
	UpstreamRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "artgrid_upstream_retries_total",
			Help: "Total number of upstream retries after throttling responses",
		},
	)

	// UpstreamSplitsTotal counts recursive bbox quadrant splits forced by
	// oversized grid responses.
	UpstreamSplitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "artgrid_upstream_bbox_splits_total",
			Help: "Total number of bounding box splits due to oversized grids",
		},
	)

	// PipelineBuildsTotal counts pipeline builds by result
	// (completed, failed, busy).
	PipelineBuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artgrid_pipeline_builds_total",
			Help: "Total number of pipeline build invocations",
		},
		[]string{"result"},
	)

	// PipelineLayersTotal counts per-layer ingest outcomes
	// (written, skipped, derived).
	PipelineLayersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artgrid_pipeline_layers_total",
			Help: "Total number of layer ingest outcomes",
		},
		[]string{"outcome"},
	)

	// HotmapRebuildsTotal counts hotmap materializations.
	HotmapRebuildsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "artgrid_hotmap_rebuilds_total",
			Help: "Total number of hotmap rebuilds",
		},
	)

	// HotmapCacheHits and HotmapCacheMisses track the response cache.
	HotmapCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "artgrid_hotmap_cache_hits_total",
			Help: "Total number of hotmap response cache hits",
		},
	)
	HotmapCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "artgrid_hotmap_cache_misses_total",
			Help: "Total number of hotmap response cache misses",
		},
	)
)

// RecordAPIRequest records one completed API request.
func RecordAPIRequest(method, endpoint, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// ObserveDBQuery records one store operation.
func ObserveDBQuery(operation string, start time.Time, err error) {
	DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation).Inc()
	}
}
