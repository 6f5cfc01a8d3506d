// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

// Package database is the single-file DuckDB store for Artgrid.
//
// It owns all persisted state: per-taxon tile grids, layer-state
// watermarks, materialized hotmaps, the active taxa sets that produced
// them, and the taxa name dictionary. Every mutator runs inside a
// transaction; readers run plain queries against point-in-time
// snapshots. The ingest pipeline is the only writer, so lock conflicts
// indicate operator error (two processes on one file) and surface as
// STORE_BUSY.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/eklind/artgrid/internal/config"
	"github.com/eklind/artgrid/internal/logging"
	"github.com/eklind/artgrid/internal/metrics"
	"github.com/eklind/artgrid/internal/models"
)

// DB wraps the DuckDB connection pool.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig
}

// New opens (creating if necessary) the database file and initializes
// the schema. Use Path ":memory:" for tests.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "2GB"
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
		cfg.Path, threads, maxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// DuckDB is an embedded engine; a small pool is enough and keeps
	// memory bounded.
	conn.SetMaxOpenConns(threads)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	db := &DB{conn: conn, cfg: cfg}
	if err := db.initialize(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Int("threads", threads).
		Str("max_memory", maxMemory).
		Msg("Database opened")

	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the store is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// initialize creates tables, indexes and views.
func (db *DB) initialize() error {
	if err := db.createTables(); err != nil {
		return err
	}
	if err := db.createIndexes(); err != nil {
		return err
	}
	return db.createViews()
}

// busyPhrases identify DuckDB lock and write-conflict errors that map to
// the STORE_BUSY error class.
var busyPhrases = []string{
	"could not set lock",
	"database is locked",
	"conflict on",
	"write-write conflict",
}

// storeErr wraps a store failure with the proper error code and records
// it in metrics.
func storeErr(op string, err error) error {
	lower := strings.ToLower(err.Error())
	for _, phrase := range busyPhrases {
		if strings.Contains(lower, phrase) {
			return models.WrapError(models.CodeStoreBusy, err, "store busy during %s", op)
		}
	}
	return models.WrapError(models.CodeInternal, err, "store operation %s failed", op)
}

// withTx runs fn inside a transaction, rolling back on error.
func (db *DB) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	start := time.Now()
	err := db.runTx(ctx, fn)
	metrics.ObserveDBQuery(op, start, err)
	if err != nil {
		return storeErr(op, err)
	}
	return nil
}

func (db *DB) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.Error().Err(rbErr).Msg("Transaction rollback failed")
		}
		return err
	}
	return tx.Commit()
}
