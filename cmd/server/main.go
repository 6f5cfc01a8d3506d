// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

// Command server runs the Artgrid HTTP service: the hotmap and ranking
// read API, the ingest pipeline trigger and the export endpoints, all
// backed by a single DuckDB file.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/eklind/artgrid/internal/api"
	"github.com/eklind/artgrid/internal/cache"
	"github.com/eklind/artgrid/internal/config"
	"github.com/eklind/artgrid/internal/database"
	"github.com/eklind/artgrid/internal/logging"
	"github.com/eklind/artgrid/internal/pipeline"
	"github.com/eklind/artgrid/internal/sos"
	"github.com/eklind/artgrid/internal/supervisor"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "artgrid: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
		Output: os.Stderr,
	})
	logging.Info().
		Str("version", version).
		Str("db_path", cfg.Database.Path).
		Int("port", cfg.Server.Port).
		Msg("Starting Artgrid")

	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close database")
		}
	}()

	upstream := sos.NewClient(cfg.SOS)
	builder := pipeline.NewBuilder(db, upstream, cfg)
	respCache := cache.New(cfg.Cache.Capacity, cfg.Cache.TTL)
	handler := api.NewHandler(db, builder, respCache, cfg)

	tree := supervisor.NewTree(
		slog.New(slog.NewJSONHandler(os.Stderr, nil)),
		supervisor.DefaultTreeConfig(),
	)
	tree.AddAPIService(supervisor.NewHTTPServerService(cfg.Server, handler.NewRouter()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if err != nil && err != context.Canceled {
		return fmt.Errorf("supervisor exited: %w", err)
	}

	logging.Info().Msg("Artgrid stopped")
	return nil
}
