// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

// Package sos is the client for the Species Observation System geogrid
// aggregation endpoint.
//
// The upstream enforces two operational limits this package absorbs so
// the pipeline never has to: request throttling (429 with a retry hint)
// and a hard cap on returned grid cells. Throttling is handled with a
// minimum inter-request interval plus bounded backoff; the cell cap is
// handled by recursively splitting the search bounding box into
// quadrants and merging the sub-results.
package sos

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/eklind/artgrid/internal/config"
	"github.com/eklind/artgrid/internal/logging"
	"github.com/eklind/artgrid/internal/metrics"
	"github.com/eklind/artgrid/internal/models"
	"github.com/eklind/artgrid/internal/tiles"
)

// geoGridPath is the aggregation endpoint under the configured base URL.
const geoGridPath = "/Observations/GeoGridAggregation"

// maxBackoffWait caps a single backoff sleep regardless of what the
// upstream asks for.
const maxBackoffWait = 120 * time.Second

// bodySnippetLen bounds how much upstream error body is kept in errors
// and logs.
const bodySnippetLen = 500

// tooBigPhrases identify the upstream's oversized-grid refusal. The
// upstream has used both wordings across API versions.
var tooBigPhrases = []string{
	"number of cells that can be returned is too large",
	"limit is 65535 cells",
}

// retryAfterBodyRe extracts the retry hint some throttling responses
// carry in the body instead of the Retry-After header.
var retryAfterBodyRe = regexp.MustCompile(`(?i)try again in\s+(\d+)\s+seconds`)

// Client talks to the SOS geogrid endpoint. A single Client owns the
// process-wide throttle; share one instance per process.
type Client struct {
	cfg     config.SOSConfig
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*http.Response]

	// lastRetryAfter holds the Retry-After header of the most recent
	// throttling response. The single-writer pipeline is the only
	// caller, so plain assignment is safe.
	lastRetryAfter string
}

// NewClient builds a Client from configuration. The rate limiter
// enforces the minimum inter-request interval; the circuit breaker opens
// after sustained transport failures so a dead upstream fails fast
// instead of eating the whole backoff budget.
func NewClient(cfg config.SOSConfig) *Client {
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:    "sos-geogrid",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Upstream circuit breaker state change")
		},
	})

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		breaker: breaker,
	}
}

// GeoGridAggregation POSTs one aggregation request for the given taxa at
// the given zoom. extra carries optional date and geographic filters.
//
// Errors carry models error codes: UPSTREAM_TOO_BIG for the oversized
// grid refusal, UPSTREAM_TRANSIENT when the retry budget is exhausted on
// 429s, UPSTREAM_FATAL for any other non-200.
func (c *Client) GeoGridAggregation(ctx context.Context, taxa []int64, zoom int, extra Filter) (*models.GeoGridPayload, error) {
	body := map[string]interface{}{
		"taxon": map[string]interface{}{
			"ids":                   taxa,
			"includeUnderlyingTaxa": false,
		},
	}
	for k, v := range extra {
		body[k] = v
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, models.WrapError(models.CodeInternal, err, "failed to encode geogrid request")
	}

	status, respBody, err := c.postWithBackoff(ctx, zoom, payload)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		snippet := bodySnippet(respBody)
		if isTooBig(snippet) {
			return nil, models.NewError(models.CodeUpstreamTooBig, "upstream grid too large: %s", snippet)
		}
		metrics.UpstreamRequestsTotal.WithLabelValues("fatal").Inc()
		return nil, models.NewError(models.CodeUpstreamFatal,
			"GeoGridAggregation failed: HTTP %d - %s", status, snippet)
	}

	var out models.GeoGridPayload
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, models.WrapError(models.CodeUpstreamFatal, err, "failed to decode geogrid response")
	}

	metrics.UpstreamRequestsTotal.WithLabelValues("ok").Inc()
	return &out, nil
}

// GeoGridAggregationResilient wraps GeoGridAggregation with recursive
// bounding box splitting. When the upstream refuses an oversized grid,
// the active bbox splits into four quadrants and the sub-payloads merge;
// recursion stops at maxDepth.
//
// Any caller-supplied filter keys are preserved through the recursion;
// only geographics.boundingBox is overridden per quadrant.
func (c *Client) GeoGridAggregationResilient(ctx context.Context, taxa []int64, zoom int, extra Filter, maxDepth int) (*models.GeoGridPayload, error) {
	if extra == nil {
		extra = Filter{}
	}
	return c.resilient(ctx, taxa, zoom, extra, extra.bboxOf(), 0, maxDepth)
}

func (c *Client) resilient(ctx context.Context, taxa []int64, zoom int, extra Filter, bbox tiles.BBox, depth, maxDepth int) (*models.GeoGridPayload, error) {
	payload, err := c.GeoGridAggregation(ctx, taxa, zoom, extra.withBBox(bbox))
	if err == nil {
		return payload, nil
	}

	if models.ErrorCode(err) != models.CodeUpstreamTooBig {
		return nil, err
	}
	if depth >= maxDepth {
		return nil, models.WrapError(models.CodeUpstreamTooBig, err,
			"grid still too large after %d bbox splits", depth)
	}

	metrics.UpstreamSplitsTotal.Inc()
	logging.Info().
		Int("zoom", zoom).
		Int("depth", depth+1).
		Float64("top_lat", bbox.TopLat).
		Float64("left_lon", bbox.LeftLon).
		Float64("bottom_lat", bbox.BottomLat).
		Float64("right_lon", bbox.RightLon).
		Msg("Splitting bbox after oversized grid response")

	quadrants := SplitBBox4(bbox)
	parts := make([]*models.GeoGridPayload, 0, len(quadrants))
	for _, q := range quadrants {
		sub, err := c.resilient(ctx, taxa, zoom, extra, q, depth+1, maxDepth)
		if err != nil {
			return nil, err
		}
		parts = append(parts, sub)
	}
	return MergeGeoGridPayloads(parts), nil
}

// postWithBackoff issues the POST, retrying only on HTTP 429. The retry
// sleep honors the Retry-After header or the body retry hint, with a
// floor of one second and a cap of maxBackoffWait.
func (c *Client) postWithBackoff(ctx context.Context, zoom int, payload []byte) (status int, body []byte, err error) {
	reqURL, err := c.requestURL(zoom)
	if err != nil {
		return 0, nil, models.WrapError(models.CodeInternal, err, "invalid upstream base URL")
	}

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, models.WrapError(models.CodeUpstreamTransient, err, "upstream throttle wait interrupted")
		}

		status, body, err = c.doPost(ctx, reqURL, payload)
		if err != nil {
			return 0, nil, err
		}
		if status != http.StatusTooManyRequests {
			return status, body, nil
		}

		metrics.UpstreamRetriesTotal.Inc()
		metrics.UpstreamRequestsTotal.WithLabelValues("throttled").Inc()

		delay := retryAfterDelay(c.lastRetryAfter, body, c.cfg.MinInterval)
		logging.Warn().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Upstream throttled request, backing off")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, nil, models.WrapError(models.CodeUpstreamTransient, ctx.Err(), "backoff interrupted")
		}
	}

	return 0, nil, models.NewError(models.CodeUpstreamTransient,
		"upstream still throttling after %d retries", c.cfg.MaxRetries)
}

func (c *Client) doPost(ctx context.Context, reqURL string, payload []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, models.WrapError(models.CodeInternal, err, "failed to build upstream request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("X-Api-Version", c.cfg.APIVersion)
	if c.cfg.SubscriptionKey != "" {
		req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.SubscriptionKey)
	}
	if c.cfg.Authorization != "" {
		req.Header.Set("Authorization", c.cfg.Authorization)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.http.Do(req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, nil, models.WrapError(models.CodeUpstreamTransient, err, "upstream circuit open")
		}
		metrics.UpstreamRequestsTotal.WithLabelValues("network_error").Inc()
		return 0, nil, models.WrapError(models.CodeUpstreamTransient, err, "upstream request failed")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, models.WrapError(models.CodeUpstreamTransient, err, "failed to read upstream response")
	}

	c.lastRetryAfter = resp.Header.Get("Retry-After")
	return resp.StatusCode, body, nil
}

func (c *Client) requestURL(zoom int) (string, error) {
	u, err := url.Parse(strings.TrimRight(c.cfg.BaseURL, "/") + geoGridPath)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("zoom", strconv.Itoa(zoom))
	q.Set("validateSearchFilter", "false")
	q.Set("translationCultureCode", "sv-SE")
	q.Set("sensitiveObservations", strconv.FormatBool(c.cfg.Sensitive))
	q.Set("skipCache", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// retryAfterDelay picks the backoff sleep for a 429: the Retry-After
// header if present, else the body hint, else the configured minimum
// interval. The result is clamped to [1s, maxBackoffWait] plus a small
// safety margin.
func retryAfterDelay(header string, body []byte, fallback time.Duration) time.Duration {
	seconds := 0
	if header != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
			seconds = n
		}
	}
	if seconds == 0 {
		if m := retryAfterBodyRe.FindSubmatch(body); m != nil {
			seconds, _ = strconv.Atoi(string(m[1]))
		}
	}

	delay := time.Duration(seconds) * time.Second
	if delay == 0 {
		delay = fallback
	}
	if delay < time.Second {
		delay = time.Second
	}
	if delay > maxBackoffWait {
		delay = maxBackoffWait
	}
	return delay + 500*time.Millisecond
}

func isTooBig(snippet string) bool {
	lower := strings.ToLower(snippet)
	for _, phrase := range tooBigPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func bodySnippet(body []byte) string {
	s := string(body)
	if len(s) > bodySnippetLen {
		s = s[:bodySnippetLen]
	}
	return s
}
