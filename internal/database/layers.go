// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/eklind/artgrid/internal/metrics"
	"github.com/eklind/artgrid/internal/models"
	"github.com/eklind/artgrid/internal/sos"
	"github.com/eklind/artgrid/internal/tiles"
)

// LayerKey identifies one (taxon, zoom, year, slot) layer.
type LayerKey struct {
	TaxonID int64
	Zoom    int
	Year    int
	SlotID  int
}

func (k LayerKey) String() string {
	return fmt.Sprintf("taxon=%d zoom=%d year=%d slot=%d", k.TaxonID, k.Zoom, k.Year, k.SlotID)
}

// GetLayerState returns the watermark for a layer, or (nil, nil) when
// the layer has never been written.
func (db *DB) GetLayerState(ctx context.Context, key LayerKey) (*models.LayerState, error) {
	start := time.Now()

	row := db.conn.QueryRowContext(ctx,
		`SELECT last_fetch, payload_sha256, grid_cell_count
		FROM taxon_layer_state
		WHERE taxon_id = ? AND zoom = ? AND year = ? AND slot_id = ?`,
		key.TaxonID, key.Zoom, key.Year, key.SlotID)

	state := &models.LayerState{
		TaxonID: key.TaxonID,
		Zoom:    key.Zoom,
		Year:    key.Year,
		SlotID:  key.SlotID,
	}
	err := row.Scan(&state.LastFetchUTC, &state.PayloadSHA256, &state.GridCellCount)
	metrics.ObserveDBQuery("get_layer_state", start, err)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get_layer_state", err)
	}
	return state, nil
}

// ReplaceLayer atomically replaces a layer's grid rows and its
// watermark. External readers see either the old rows with the old hash
// or the new rows with the new hash, never a mix.
//
// Cells must be unique in (x, y); the primary key enforces it.
func (db *DB) ReplaceLayer(ctx context.Context, key LayerKey, cells []models.GridCell, sha string) error {
	now := time.Now().UTC()

	return db.withTx(ctx, "replace_layer", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM taxon_grid
			WHERE taxon_id = ? AND zoom = ? AND year = ? AND slot_id = ?`,
			key.TaxonID, key.Zoom, key.Year, key.SlotID); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO taxon_grid (
				taxon_id, zoom, year, slot_id, x, y,
				observations_count, taxa_count,
				top_lat, left_lon, bottom_lat, right_lon, fetched_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer func() {
			_ = stmt.Close()
		}()

		for _, c := range cells {
			if _, err := stmt.ExecContext(ctx,
				key.TaxonID, key.Zoom, key.Year, key.SlotID, c.X, c.Y,
				c.ObservationsCount, c.TaxaCount,
				c.BoundingBox.TopLeft.Latitude, c.BoundingBox.TopLeft.Longitude,
				c.BoundingBox.BottomRight.Latitude, c.BoundingBox.BottomRight.Longitude,
				now); err != nil {
				return err
			}
		}

		return upsertLayerStateTx(ctx, tx, key, sha, len(cells), now)
	})
}

// UpsertLayerState refreshes a layer watermark on its own. Used when an
// unchanged payload only needs its last_fetch timestamp bumped.
func (db *DB) UpsertLayerState(ctx context.Context, key LayerKey, sha string, cellCount int) error {
	return db.withTx(ctx, "upsert_layer_state", func(tx *sql.Tx) error {
		return upsertLayerStateTx(ctx, tx, key, sha, cellCount, time.Now().UTC())
	})
}

func upsertLayerStateTx(ctx context.Context, tx *sql.Tx, key LayerKey, sha string, cellCount int, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO taxon_layer_state (
			taxon_id, zoom, year, slot_id, last_fetch, payload_sha256, grid_cell_count
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (taxon_id, zoom, year, slot_id) DO UPDATE SET
			last_fetch = excluded.last_fetch,
			payload_sha256 = excluded.payload_sha256,
			grid_cell_count = excluded.grid_cell_count`,
		key.TaxonID, key.Zoom, key.Year, key.SlotID, now, sha, cellCount)
	return err
}

// MaterializeParentZoom derives a coarser layer from an already stored
// finer one. Children aggregate onto their parent tile: observation
// counts sum, taxa counts take the maximum child value. The destination
// bbox is the exact slippy bbox of the parent tile, and the layer state
// records a LOCAL_FROM marker binding the derivation to srcSHA.
func (db *DB) MaterializeParentZoom(ctx context.Context, taxonID int64, slotID, year, srcZoom, dstZoom int, srcSHA string) error {
	if dstZoom >= srcZoom {
		return models.NewError(models.CodeBadRequest,
			"destination zoom %d must be coarser than source zoom %d", dstZoom, srcZoom)
	}
	factor := int64(1) << uint(srcZoom-dstZoom)

	type parentAgg struct {
		x, y int
		obs  int64
		taxa int64
	}

	// Floor semantics: a child halfway into the next parent must stay on
	// the lower tile, so plain integer division, not a rounding cast.
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx,
		`SELECT x // ? AS gx, y // ? AS gy,
			SUM(observations_count), MAX(taxa_count)
		FROM taxon_grid
		WHERE taxon_id = ? AND zoom = ? AND year = ? AND slot_id = ?
		GROUP BY gx, gy`,
		factor, factor, taxonID, srcZoom, year, slotID)
	metrics.ObserveDBQuery("materialize_parent_scan", start, err)
	if err != nil {
		return storeErr("materialize_parent_scan", err)
	}

	var parents []parentAgg
	for rows.Next() {
		var p parentAgg
		if err := rows.Scan(&p.x, &p.y, &p.obs, &p.taxa); err != nil {
			_ = rows.Close()
			return storeErr("materialize_parent_scan", err)
		}
		if p.taxa < 1 {
			p.taxa = 1
		}
		parents = append(parents, p)
	}
	if err := rows.Err(); err != nil {
		return storeErr("materialize_parent_scan", err)
	}
	_ = rows.Close()

	sort.Slice(parents, func(i, j int) bool {
		if parents[i].x != parents[j].x {
			return parents[i].x < parents[j].x
		}
		return parents[i].y < parents[j].y
	})

	key := LayerKey{TaxonID: taxonID, Zoom: dstZoom, Year: year, SlotID: slotID}
	now := time.Now().UTC()

	return db.withTx(ctx, "materialize_parent_zoom", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM taxon_grid
			WHERE taxon_id = ? AND zoom = ? AND year = ? AND slot_id = ?`,
			key.TaxonID, key.Zoom, key.Year, key.SlotID); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO taxon_grid (
				taxon_id, zoom, year, slot_id, x, y,
				observations_count, taxa_count,
				top_lat, left_lon, bottom_lat, right_lon, fetched_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer func() {
			_ = stmt.Close()
		}()

		for _, p := range parents {
			bbox := tiles.TileBBox(dstZoom, p.x, p.y)
			if _, err := stmt.ExecContext(ctx,
				key.TaxonID, key.Zoom, key.Year, key.SlotID, p.x, p.y,
				p.obs, p.taxa,
				bbox.TopLat, bbox.LeftLon, bbox.BottomLat, bbox.RightLon,
				now); err != nil {
				return err
			}
		}

		return upsertLayerStateTx(ctx, tx, key, sos.LocalFromMarker(srcZoom, srcSHA), len(parents), now)
	})
}

// HasAnyTaxonGrid reports whether a layer has at least one grid row.
func (db *DB) HasAnyTaxonGrid(ctx context.Context, key LayerKey) (bool, error) {
	start := time.Now()
	var one int
	err := db.conn.QueryRowContext(ctx,
		`SELECT 1 FROM taxon_grid
		WHERE taxon_id = ? AND zoom = ? AND year = ? AND slot_id = ?
		LIMIT 1`,
		key.TaxonID, key.Zoom, key.Year, key.SlotID).Scan(&one)
	metrics.ObserveDBQuery("has_any_taxon_grid", start, err)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storeErr("has_any_taxon_grid", err)
	}
	return true, nil
}

// UpsertTaxonDim refreshes the taxa name dictionary.
func (db *DB) UpsertTaxonDim(ctx context.Context, taxa []models.TaxonRow) error {
	if len(taxa) == 0 {
		return nil
	}
	now := time.Now().UTC()

	return db.withTx(ctx, "upsert_taxon_dim", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO taxon_dim (taxon_id, scientific_name, swedish_name, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (taxon_id) DO UPDATE SET
				scientific_name = excluded.scientific_name,
				swedish_name = excluded.swedish_name,
				updated_at = excluded.updated_at`)
		if err != nil {
			return err
		}
		defer func() {
			_ = stmt.Close()
		}()

		for _, t := range taxa {
			if _, err := stmt.ExecContext(ctx, t.TaxonID, t.ScientificName, t.SwedishName, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClearDerivedZoomCache deletes locally derived layers (grid rows and
// watermarks) at every zoom except keepZoom. Optional year and slot
// filters narrow the sweep. Returns deleted (grid rows, state rows).
func (db *DB) ClearDerivedZoomCache(ctx context.Context, keepZoom int, year, slotID *int) (gridRows, stateRows int64, err error) {
	err = db.withTx(ctx, "clear_derived_zoom_cache", func(tx *sql.Tx) error {
		where := `payload_sha256 LIKE ? AND zoom <> ?`
		args := []interface{}{sos.LocalFromPrefix + "%", keepZoom}
		if year != nil {
			where += ` AND year = ?`
			args = append(args, *year)
		}
		if slotID != nil {
			where += ` AND slot_id = ?`
			args = append(args, *slotID)
		}

		res, err := tx.ExecContext(ctx,
			`DELETE FROM taxon_grid
			WHERE EXISTS (
				SELECT 1 FROM taxon_layer_state s
				WHERE s.taxon_id = taxon_grid.taxon_id
					AND s.zoom = taxon_grid.zoom
					AND s.year = taxon_grid.year
					AND s.slot_id = taxon_grid.slot_id
					AND s.`+where+`
			)`, args...)
		if err != nil {
			return err
		}
		gridRows, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx,
			`DELETE FROM taxon_layer_state WHERE `+where, args...)
		if err != nil {
			return err
		}
		stateRows, _ = res.RowsAffected()
		return nil
	})
	return gridRows, stateRows, err
}
