// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/eklind/artgrid/internal/metrics"
	"github.com/eklind/artgrid/internal/models"
)

// rankCandidateLimit caps the tile set fed into nearby ranking. Scoring
// happens in Go, so the scan has to stay bounded.
const rankCandidateLimit = 4000

// HotmapByKey returns the hotmap tiles for one slot over a year range,
// ordered by coverage then score, both descending. A single-year range
// reads the enriched view (observation totals, taxa list); a multi-year
// range aggregates per tile with MAX semantics and leaves the per-bucket
// fields zeroed.
func (db *DB) HotmapByKey(ctx context.Context, zoom, yearFrom, yearTo, slotID, limit int) ([]models.HotmapCell, error) {
	return db.HotmapWindow(ctx, zoom, yearFrom, yearTo, []int{slotID}, limit)
}

// HotmapWindow is HotmapByKey over several slots at once. Tiles are
// returned per (slot, x, y), not merged across slots.
func (db *DB) HotmapWindow(ctx context.Context, zoom, yearFrom, yearTo int, slotIDs []int, limit int) ([]models.HotmapCell, error) {
	if len(slotIDs) == 0 {
		return nil, nil
	}
	slotPH, slotArgs := intInClause(slotIDs)

	var query string
	var args []interface{}
	if yearFrom == yearTo {
		query = `SELECT zoom, year, slot_id, x, y, coverage, score,
				top_lat, left_lon, bottom_lat, right_lon,
				centroid_lat, centroid_lon, obs_total, taxa_list
			FROM grid_hotmap_v
			WHERE zoom = ? AND year = ? AND slot_id IN (` + slotPH + `)
			ORDER BY coverage DESC, score DESC, slot_id, x, y`
		args = append([]interface{}{zoom, yearFrom}, slotArgs...)
	} else {
		query = `SELECT zoom, CAST(? AS INTEGER) AS year, slot_id, x, y,
				MAX(coverage) AS coverage, MAX(score) AS score,
				top_lat, left_lon, bottom_lat, right_lon,
				(top_lat + bottom_lat) / 2 AS centroid_lat,
				(left_lon + right_lon) / 2 AS centroid_lon,
				CAST(0 AS BIGINT) AS obs_total, '' AS taxa_list
			FROM grid_hotmap
			WHERE zoom = ? AND year BETWEEN ? AND ? AND slot_id IN (` + slotPH + `)
			GROUP BY zoom, slot_id, x, y, top_lat, left_lon, bottom_lat, right_lon
			ORDER BY coverage DESC, score DESC, slot_id, x, y`
		args = append([]interface{}{yearFrom, zoom, yearFrom, yearTo}, slotArgs...)
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	metrics.ObserveDBQuery("hotmap_window", start, err)
	if err != nil {
		return nil, storeErr("hotmap_window", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var cells []models.HotmapCell
	for rows.Next() {
		var c models.HotmapCell
		if err := rows.Scan(
			&c.Zoom, &c.Year, &c.SlotID, &c.X, &c.YTile,
			&c.Coverage, &c.Score,
			&c.BBox.TopLat, &c.BBox.LeftLon, &c.BBox.BottomLat, &c.BBox.RightLon,
			&c.CentroidLat, &c.CentroidLon, &c.ObsTotal, &c.TaxaList); err != nil {
			return nil, storeErr("hotmap_window", err)
		}
		cells = append(cells, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("hotmap_window", err)
	}
	return cells, nil
}

// RankCandidates returns the bounded candidate tile set for nearby
// ranking. Distance weighting happens in the caller.
func (db *DB) RankCandidates(ctx context.Context, zoom, yearFrom, yearTo int, slotIDs []int) ([]models.HotmapCell, error) {
	return db.HotmapWindow(ctx, zoom, yearFrom, yearTo, slotIDs, rankCandidateLimit)
}

// CellTaxa lists the active taxa recorded in one tile across the given
// slots and year range, ordered by observation count descending. Name
// columns come from the taxa dictionary and may be empty.
func (db *DB) CellTaxa(ctx context.Context, zoom, yearFrom, yearTo int, slotIDs []int, x, y, limit int) ([]models.CellTaxon, error) {
	if len(slotIDs) == 0 {
		return nil, nil
	}
	slotPH, slotArgs := intInClause(slotIDs)

	query := `SELECT taxon_id,
			MAX(scientific_name) AS scientific_name,
			MAX(swedish_name) AS swedish_name,
			SUM(observations_count) AS observations_count
		FROM grid_hotmap_taxa_names_v
		WHERE zoom = ? AND year BETWEEN ? AND ?
			AND slot_id IN (` + slotPH + `) AND x = ? AND y = ?
		GROUP BY taxon_id
		ORDER BY observations_count DESC, taxon_id`
	args := append([]interface{}{zoom, yearFrom, yearTo}, slotArgs...)
	args = append(args, x, y)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	metrics.ObserveDBQuery("cell_taxa", start, err)
	if err != nil {
		return nil, storeErr("cell_taxa", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var taxa []models.CellTaxon
	for rows.Next() {
		var t models.CellTaxon
		if err := rows.Scan(&t.TaxonID, &t.ScientificName, &t.SwedishName, &t.ObservationsCount); err != nil {
			return nil, storeErr("cell_taxa", err)
		}
		taxa = append(taxa, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("cell_taxa", err)
	}
	return taxa, nil
}

// StoreStats summarizes the store for the health endpoint.
type StoreStats struct {
	TaxonGridRows int64      `json:"taxon_grid_rows"`
	LayerStates   int64      `json:"layer_states"`
	HotmapRows    int64      `json:"hotmap_rows"`
	DistinctTaxa  int64      `json:"distinct_taxa"`
	LastFetch     *time.Time `json:"last_fetch,omitempty"`
}

// Stats collects store row counts and the most recent upstream fetch.
func (db *DB) Stats(ctx context.Context) (*StoreStats, error) {
	start := time.Now()

	var s StoreStats
	var lastFetch sql.NullTime
	err := db.conn.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM taxon_grid),
			(SELECT COUNT(*) FROM taxon_layer_state),
			(SELECT COUNT(*) FROM grid_hotmap),
			(SELECT COUNT(DISTINCT taxon_id) FROM taxon_grid),
			(SELECT MAX(last_fetch) FROM taxon_layer_state)`).
		Scan(&s.TaxonGridRows, &s.LayerStates, &s.HotmapRows, &s.DistinctTaxa, &lastFetch)
	metrics.ObserveDBQuery("stats", start, err)
	if err != nil {
		return nil, storeErr("stats", err)
	}
	if lastFetch.Valid {
		t := lastFetch.Time
		s.LastFetch = &t
	}
	return &s, nil
}

func intInClause(ids []int) (string, []interface{}) {
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ", "), args
}
