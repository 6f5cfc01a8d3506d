// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core tables. All columns are defined in the
// initial CREATE TABLE statements; there are no migrations.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := []string{
		// Per-taxon tile observations. One row per
		// (taxon, zoom, year, slot, tile); year 0 is the all-years
		// bucket and slot 0 the all-time bucket.
		`CREATE TABLE IF NOT EXISTS taxon_grid (
			taxon_id BIGINT NOT NULL,
			zoom INTEGER NOT NULL,
			year INTEGER NOT NULL,
			slot_id INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			observations_count BIGINT NOT NULL DEFAULT 0,
			taxa_count BIGINT NOT NULL DEFAULT 0,
			top_lat DOUBLE NOT NULL,
			left_lon DOUBLE NOT NULL,
			bottom_lat DOUBLE NOT NULL,
			right_lon DOUBLE NOT NULL,
			fetched_at TIMESTAMP NOT NULL,
			PRIMARY KEY (taxon_id, zoom, year, slot_id, x, y)
		)`,

		// Content-hash watermark per layer. Derived layers store a
		// LOCAL_FROM_<zoom>:<sha> marker instead of a content hash.
		`CREATE TABLE IF NOT EXISTS taxon_layer_state (
			taxon_id BIGINT NOT NULL,
			zoom INTEGER NOT NULL,
			year INTEGER NOT NULL,
			slot_id INTEGER NOT NULL,
			last_fetch TIMESTAMP NOT NULL,
			payload_sha256 TEXT NOT NULL,
			grid_cell_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (taxon_id, zoom, year, slot_id)
		)`,

		// Materialized hotspot scores per tile for the active taxa set.
		`CREATE TABLE IF NOT EXISTS grid_hotmap (
			zoom INTEGER NOT NULL,
			year INTEGER NOT NULL,
			slot_id INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			coverage INTEGER NOT NULL,
			score DOUBLE NOT NULL,
			top_lat DOUBLE NOT NULL,
			left_lon DOUBLE NOT NULL,
			bottom_lat DOUBLE NOT NULL,
			right_lon DOUBLE NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (zoom, year, slot_id, x, y)
		)`,

		// Taxa that produced the current hotmap for a key.
		`CREATE TABLE IF NOT EXISTS hotmap_taxa_set (
			zoom INTEGER NOT NULL,
			year INTEGER NOT NULL,
			slot_id INTEGER NOT NULL,
			taxon_id BIGINT NOT NULL,
			PRIMARY KEY (zoom, year, slot_id, taxon_id)
		)`,

		// Human-readable taxon names.
		`CREATE TABLE IF NOT EXISTS taxon_dim (
			taxon_id BIGINT PRIMARY KEY,
			scientific_name TEXT NOT NULL DEFAULT '',
			swedish_name TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}
	return nil
}

// createIndexes creates the secondary indexes backing the query
// patterns: tile lookups within a hotmap key, per-taxon layer scans and
// hotmap ranking order.
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := []string{
		`CREATE INDEX IF NOT EXISTS idx_taxon_grid_key
			ON taxon_grid (zoom, year, slot_id, x, y)`,
		`CREATE INDEX IF NOT EXISTS idx_taxon_grid_layer
			ON taxon_grid (taxon_id, zoom, year, slot_id)`,
		`CREATE INDEX IF NOT EXISTS idx_grid_hotmap_rank
			ON grid_hotmap (zoom, year, slot_id, coverage, score)`,
		`CREATE INDEX IF NOT EXISTS idx_hotmap_taxa_set_key
			ON hotmap_taxa_set (zoom, year, slot_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}
	return nil
}

// createViews creates the logical read views.
func (db *DB) createViews() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := []string{
		// Hotmap tiles enriched with centroid, observation totals and a
		// semicolon-joined taxa list, restricted to the active taxa set.
		// The restriction happens in a derived table: an outer join
		// cannot carry a correlated subquery in its ON clause.
		`CREATE OR REPLACE VIEW grid_hotmap_v AS
			SELECT
				gh.zoom,
				gh.year,
				gh.slot_id,
				gh.x,
				gh.y,
				gh.coverage,
				gh.score,
				gh.top_lat,
				gh.left_lon,
				gh.bottom_lat,
				gh.right_lon,
				(gh.top_lat + gh.bottom_lat) / 2 AS centroid_lat,
				(gh.left_lon + gh.right_lon) / 2 AS centroid_lon,
				COALESCE(SUM(atg.observations_count), 0) AS obs_total,
				COALESCE(STRING_AGG(CAST(atg.taxon_id AS VARCHAR), ';' ORDER BY atg.taxon_id), '') AS taxa_list
			FROM grid_hotmap gh
			LEFT JOIN (
				SELECT tg.zoom, tg.year, tg.slot_id, tg.x, tg.y,
					tg.taxon_id, tg.observations_count
				FROM taxon_grid tg
				JOIN hotmap_taxa_set hts
					ON hts.zoom = tg.zoom
					AND hts.year = tg.year
					AND hts.slot_id = tg.slot_id
					AND hts.taxon_id = tg.taxon_id
			) atg
				ON atg.zoom = gh.zoom
				AND atg.year = gh.year
				AND atg.slot_id = gh.slot_id
				AND atg.x = gh.x
				AND atg.y = gh.y
			GROUP BY gh.zoom, gh.year, gh.slot_id, gh.x, gh.y,
				gh.coverage, gh.score,
				gh.top_lat, gh.left_lon, gh.bottom_lat, gh.right_lon`,

		// Per-tile taxa with names, restricted to the active taxa set.
		`CREATE OR REPLACE VIEW grid_hotmap_taxa_names_v AS
			SELECT
				tg.zoom,
				tg.year,
				tg.slot_id,
				tg.x,
				tg.y,
				tg.taxon_id,
				COALESCE(td.scientific_name, '') AS scientific_name,
				COALESCE(td.swedish_name, '') AS swedish_name,
				tg.observations_count
			FROM taxon_grid tg
			JOIN hotmap_taxa_set hts
				ON hts.zoom = tg.zoom
				AND hts.year = tg.year
				AND hts.slot_id = tg.slot_id
				AND hts.taxon_id = tg.taxon_id
			LEFT JOIN taxon_dim td
				ON td.taxon_id = tg.taxon_id`,
	}

	for _, query := range queries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}
	return nil
}
