// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package models

import (
	"time"
)

// APIResponse is the standardized response wrapper used by all HTTP
// endpoints. It provides a consistent structure for both successful and
// error responses, with metadata for observability and caching.
//
// Status field values:
//   - "success": request completed, see Data
//   - "error": request failed, see Error
//
// Example error response:
//
//	{
//	  "status": "error",
//	  "error": {
//	    "code": "BUILD_BUSY",
//	    "message": "a pipeline build is already running"
//	  },
//	  "metadata": {"timestamp": "2026-08-24T12:00:00Z"}
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata contains response metadata for observability.
//
// QueryTimeMS is the store query execution time in milliseconds and is 0
// for cached responses; Cached is set when the response was served from
// the hotmap response cache.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
	Cached      bool      `json:"cached,omitempty"`
}

// APIError carries structured error details with a machine-readable code
// from the taxonomy in errors.go.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
