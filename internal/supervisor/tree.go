// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

// Package supervisor provides Suture-based process supervision. The
// tree has a single api layer today; a crashed HTTP server is restarted
// with backoff instead of taking the process down.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree tuning. Zero values fall back to
// suture's documented defaults.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultTreeConfig returns suture's built-in defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the supervisor hierarchy for the Artgrid server process.
type Tree struct {
	root *suture.Supervisor
	api  *suture.Supervisor
}

// NewTree builds the tree. Supervisor events are logged through slog
// via sutureslog; the Handler's MustHook has a pointer receiver.
func NewTree(logger *slog.Logger, config TreeConfig) *Tree {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	handler := &sutureslog.Handler{Logger: logger}
	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("artgrid", rootSpec)
	api := suture.New("api-layer", childSpec)
	root.Add(api)

	return &Tree{root: root, api: api}
}

// AddAPIService adds a service to the api layer.
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve runs the tree until ctx is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine and reports its final
// error on the returned channel.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}
