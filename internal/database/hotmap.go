// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/eklind/artgrid/internal/logging"
	"github.com/eklind/artgrid/internal/metrics"
)

// RebuildHotmap recomputes the materialized hotmap for one
// (zoom, year, slot) key from the per-taxon grids of activeTaxa.
//
// Per tile, coverage is the number of distinct active taxa present and
// score = coverage^alpha / (obs_total + 1)^beta, so low-effort tiles
// with broad coverage rank highest. The tile bbox is the union of the
// contributing cell bboxes. An empty activeTaxa clears the key.
func (db *DB) RebuildHotmap(ctx context.Context, zoom, year, slotID int, activeTaxa []int64, alpha, beta float64) error {
	start := time.Now()

	err := db.withTx(ctx, "rebuild_hotmap", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM grid_hotmap WHERE zoom = ? AND year = ? AND slot_id = ?`,
			zoom, year, slotID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM hotmap_taxa_set WHERE zoom = ? AND year = ? AND slot_id = ?`,
			zoom, year, slotID); err != nil {
			return err
		}
		if len(activeTaxa) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO hotmap_taxa_set (zoom, year, slot_id, taxon_id) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		for _, id := range activeTaxa {
			if _, err := stmt.ExecContext(ctx, zoom, year, slotID, id); err != nil {
				_ = stmt.Close()
				return err
			}
		}
		_ = stmt.Close()

		placeholders, args := inClause(activeTaxa)
		args = append([]interface{}{alpha, beta, time.Now().UTC(), zoom, year, slotID}, args...)

		_, err = tx.ExecContext(ctx,
			`INSERT INTO grid_hotmap (
				zoom, year, slot_id, x, y, coverage, score,
				top_lat, left_lon, bottom_lat, right_lon, updated_at
			)
			SELECT
				zoom, year, slot_id, x, y,
				COUNT(DISTINCT taxon_id) AS coverage,
				POWER(COUNT(DISTINCT taxon_id), ?) / POWER(SUM(observations_count) + 1, ?) AS score,
				MAX(top_lat), MIN(left_lon), MIN(bottom_lat), MAX(right_lon),
				?
			FROM taxon_grid
			WHERE zoom = ? AND year = ? AND slot_id = ?
				AND taxon_id IN (`+placeholders+`)
			GROUP BY zoom, year, slot_id, x, y`,
			args...)
		return err
	})
	if err != nil {
		return err
	}

	metrics.HotmapRebuildsTotal.Inc()
	logging.Debug().
		Int("zoom", zoom).
		Int("year", year).
		Int("slot_id", slotID).
		Int("active_taxa", len(activeTaxa)).
		Dur("elapsed", time.Since(start)).
		Msg("Hotmap rebuilt")
	return nil
}

// ClearHotmap deletes hotmap rows and their taxa sets. Nil filters match
// everything, so ClearHotmap(ctx, nil, nil, nil) truncates both tables.
// Returns the number of deleted hotmap rows.
func (db *DB) ClearHotmap(ctx context.Context, zoom, year, slotID *int) (int64, error) {
	var deleted int64

	err := db.withTx(ctx, "clear_hotmap", func(tx *sql.Tx) error {
		var conds []string
		var args []interface{}
		if zoom != nil {
			conds = append(conds, "zoom = ?")
			args = append(args, *zoom)
		}
		if year != nil {
			conds = append(conds, "year = ?")
			args = append(args, *year)
		}
		if slotID != nil {
			conds = append(conds, "slot_id = ?")
			args = append(args, *slotID)
		}
		where := ""
		if len(conds) > 0 {
			where = " WHERE " + strings.Join(conds, " AND ")
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM grid_hotmap`+where, args...)
		if err != nil {
			return err
		}
		deleted, _ = res.RowsAffected()

		_, err = tx.ExecContext(ctx, `DELETE FROM hotmap_taxa_set`+where, args...)
		return err
	})
	return deleted, err
}

// inClause builds a placeholder list and argument slice for an IN (...)
// predicate.
func inClause(ids []int64) (string, []interface{}) {
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ", "), args
}
