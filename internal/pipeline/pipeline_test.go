// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/eklind/artgrid/internal/config"
	"github.com/eklind/artgrid/internal/database"
	"github.com/eklind/artgrid/internal/models"
	"github.com/eklind/artgrid/internal/sos"
	"github.com/eklind/artgrid/internal/tiles"
)

// fakeUpstream serves canned payloads and records call counts.
type fakeUpstream struct {
	mu      sync.Mutex
	calls   int
	block   chan struct{}
	payload func(taxa []int64, extra sos.Filter) (*models.GeoGridPayload, error)
}

func (f *fakeUpstream) GeoGridAggregationResilient(ctx context.Context, taxa []int64, zoom int, extra sos.Filter, maxDepth int) (*models.GeoGridPayload, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.payload != nil {
		return f.payload(taxa, extra)
	}
	return &models.GeoGridPayload{Zoom: zoom}, nil
}

func (f *fakeUpstream) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fixedCell(zoom, x, y int, obs int64) models.GridCell {
	b := tiles.TileBBox(zoom, x, y)
	return models.GridCell{
		X: x, Y: y, Zoom: zoom,
		ObservationsCount: obs,
		TaxaCount:         1,
		BoundingBox: models.CellBBox{
			TopLeft:     models.LatLon{Latitude: b.TopLat, Longitude: b.LeftLon},
			BottomRight: models.LatLon{Latitude: b.BottomLat, Longitude: b.RightLon},
		},
	}
}

func writeTaxaList(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taxa.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write taxa list: %v", err)
	}
	return path
}

func setupBuilder(t *testing.T, upstream Fetcher, taxaCSV string) (*Builder, *database.DB) {
	t.Helper()

	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", Threads: 2})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	cfg := &config.Config{
		SOS: config.SOSConfig{MaxSplitDepth: 12},
		Pipeline: config.PipelineConfig{
			Zooms:           []int{15, 14},
			Alpha:           2.0,
			Beta:            0.5,
			TaxaListPath:    writeTaxaList(t, taxaCSV),
			DefaultYearFrom: 2024,
		},
	}
	return NewBuilder(db, upstream, cfg), db
}

func TestLoadTaxaList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    []models.TaxonRow
	}{
		{
			name:    "headered csv",
			content: "taxon_id,scientific_name,swedish_name\n100012,Parus major,talgoxe\n103025,Cyanistes caeruleus,blåmes\n",
			want: []models.TaxonRow{
				{TaxonID: 100012, ScientificName: "Parus major", SwedishName: "talgoxe"},
				{TaxonID: 103025, ScientificName: "Cyanistes caeruleus", SwedishName: "blåmes"},
			},
		},
		{
			name:    "headered tsv",
			content: "taxon_id\tswedish_name\n205\tkungsörn\n",
			want:    []models.TaxonRow{{TaxonID: 205, SwedishName: "kungsörn"}},
		},
		{
			name:    "legacy single column",
			content: "100012\n103025\n",
			want:    []models.TaxonRow{{TaxonID: 100012}, {TaxonID: 103025}},
		},
		{
			name:    "duplicates and junk rows dropped",
			content: "taxon_id\n7\n7\nnot-a-number\n0\n",
			want:    []models.TaxonRow{{TaxonID: 7}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTaxaList(t, tt.content)
			got, err := LoadTaxaList(path)
			if err != nil {
				t.Fatalf("LoadTaxaList: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("rows = %d, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("row %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLoadTaxaList_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadTaxaList(filepath.Join(t.TempDir(), "absent.csv"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if code := models.ErrorCode(err); code != models.CodeMissingInput {
		t.Errorf("error code = %s, want %s", code, models.CodeMissingInput)
	}
}

func TestLoadTaxaList_HeaderWithoutID(t *testing.T) {
	t.Parallel()

	path := writeTaxaList(t, "scientific_name,swedish_name\nParus major,talgoxe\n")
	_, err := LoadTaxaList(path)
	if err == nil {
		t.Fatal("expected error for header without taxon_id")
	}
	if code := models.ErrorCode(err); code != models.CodeBadRequest {
		t.Errorf("error code = %s, want %s", code, models.CodeBadRequest)
	}
}

func TestBuilderRun_IngestsAndDerives(t *testing.T) {
	t.Parallel()

	upstream := &fakeUpstream{
		payload: func(taxa []int64, extra sos.Filter) (*models.GeoGridPayload, error) {
			return &models.GeoGridPayload{
				Zoom:      15,
				GridCells: []models.GridCell{fixedCell(15, 34000, 19000, 10), fixedCell(15, 34001, 19000, 5)},
			}, nil
		},
	}
	b, db := setupBuilder(t, upstream, "taxon_id\n42\n")

	res, err := b.Run(context.Background(), BuildRequest{
		SlotIDs:  []int{0},
		YearFrom: 2024,
		YearTo:   2024,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.BaseZoom != 15 {
		t.Errorf("base zoom = %d, want 15", res.BaseZoom)
	}
	if res.NTaxa != 1 {
		t.Errorf("n_taxa = %d, want 1", res.NTaxa)
	}
	// Year 2024 plus the all-years bucket.
	if res.LayersFetched != 2 {
		t.Errorf("layers fetched = %d, want 2", res.LayersFetched)
	}
	if res.LayersFailed != 0 {
		t.Errorf("layers failed = %d, want 0", res.LayersFailed)
	}

	ctx := context.Background()
	for _, year := range []int{2024, 0} {
		for _, zoom := range []int{15, 14} {
			key := database.LayerKey{TaxonID: 42, Zoom: zoom, Year: year, SlotID: 0}
			has, err := db.HasAnyTaxonGrid(ctx, key)
			if err != nil {
				t.Fatalf("HasAnyTaxonGrid(%s): %v", key, err)
			}
			if !has {
				t.Errorf("missing layer %s", key)
			}
		}
		cells, err := db.HotmapByKey(ctx, 15, year, year, 0, 0)
		if err != nil {
			t.Fatalf("HotmapByKey: %v", err)
		}
		if len(cells) != 2 {
			t.Errorf("hotmap cells for year %d = %d, want 2", year, len(cells))
		}
	}

	// Derived layer carries the LOCAL_FROM marker for the base hash.
	state, err := db.GetLayerState(ctx, database.LayerKey{TaxonID: 42, Zoom: 14, Year: 2024, SlotID: 0})
	if err != nil || state == nil {
		t.Fatalf("derived layer state missing: %v", err)
	}
	if !sos.IsLocalFrom(state.PayloadSHA256) {
		t.Errorf("derived marker = %q", state.PayloadSHA256)
	}
}

func TestBuilderRun_SkipsUnchangedLayers(t *testing.T) {
	t.Parallel()

	upstream := &fakeUpstream{
		payload: func(taxa []int64, extra sos.Filter) (*models.GeoGridPayload, error) {
			return &models.GeoGridPayload{
				Zoom:      15,
				GridCells: []models.GridCell{fixedCell(15, 100, 200, 3)},
			}, nil
		},
	}
	b, _ := setupBuilder(t, upstream, "taxon_id\n42\n")
	req := BuildRequest{SlotIDs: []int{0}, YearFrom: 2024, YearTo: 2024}

	if _, err := b.Run(context.Background(), req); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	res, err := b.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if res.LayersFetched != 0 {
		t.Errorf("second run fetched = %d, want 0", res.LayersFetched)
	}
	if res.LayersSkipped != 2 {
		t.Errorf("second run skipped = %d, want 2", res.LayersSkipped)
	}

	// force overrides the hash comparison.
	req.Force = true
	res, err = b.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("forced Run: %v", err)
	}
	if res.LayersFetched != 2 {
		t.Errorf("forced run fetched = %d, want 2", res.LayersFetched)
	}
}

func TestBuilderRun_SkipsCurrentDerivedZooms(t *testing.T) {
	t.Parallel()

	upstream := &fakeUpstream{
		payload: func(taxa []int64, extra sos.Filter) (*models.GeoGridPayload, error) {
			return &models.GeoGridPayload{
				Zoom:      15,
				GridCells: []models.GridCell{fixedCell(15, 100, 200, 3)},
			}, nil
		},
	}
	b, db := setupBuilder(t, upstream, "taxon_id\n42\n")
	req := BuildRequest{SlotIDs: []int{0}, YearFrom: 2024, YearTo: 2024}
	ctx := context.Background()

	if _, err := b.Run(ctx, req); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	derivedKey := database.LayerKey{TaxonID: 42, Zoom: 14, Year: 2024, SlotID: 0}
	before, err := db.GetLayerState(ctx, derivedKey)
	if err != nil {
		t.Fatalf("GetLayerState: %v", err)
	}
	if before == nil || !sos.IsLocalFrom(before.PayloadSHA256) {
		t.Fatalf("derived state = %+v, want a derived marker", before)
	}

	// An unchanged rerun must leave a valid derived layer untouched.
	if _, err := b.Run(ctx, req); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	after, err := db.GetLayerState(ctx, derivedKey)
	if err != nil {
		t.Fatalf("GetLayerState: %v", err)
	}
	if !after.LastFetchUTC.Equal(before.LastFetchUTC) {
		t.Errorf("derived layer was rederived on unchanged rerun: %v -> %v",
			before.LastFetchUTC, after.LastFetchUTC)
	}

	// A marker bound to a different base hash is stale and gets rebuilt.
	if err := db.UpsertLayerState(ctx, derivedKey, "LOCAL_FROM_15:someoldsha", before.GridCellCount); err != nil {
		t.Fatalf("UpsertLayerState: %v", err)
	}
	if _, err := b.Run(ctx, req); err != nil {
		t.Fatalf("third Run: %v", err)
	}
	repaired, err := db.GetLayerState(ctx, derivedKey)
	if err != nil {
		t.Fatalf("GetLayerState: %v", err)
	}
	if repaired.PayloadSHA256 != before.PayloadSHA256 {
		t.Errorf("marker = %q, want %q restored", repaired.PayloadSHA256, before.PayloadSHA256)
	}
	if repaired.PayloadSHA256 == "LOCAL_FROM_15:someoldsha" {
		t.Error("stale derived marker survived the rerun")
	}
}

func TestBuilderRun_RefusesConcurrentBuilds(t *testing.T) {
	t.Parallel()

	upstream := &fakeUpstream{block: make(chan struct{})}
	b, _ := setupBuilder(t, upstream, "taxon_id\n42\n")
	req := BuildRequest{SlotIDs: []int{0}, YearFrom: 2024, YearTo: 2024}

	firstDone := make(chan error, 1)
	go func() {
		_, err := b.Run(context.Background(), req)
		firstDone <- err
	}()

	// Wait for the first build to reach the upstream call.
	deadline := time.Now().Add(2 * time.Second)
	for upstream.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first build never started")
		}
		time.Sleep(time.Millisecond)
	}

	_, err := b.Run(context.Background(), req)
	if err == nil {
		t.Fatal("expected busy error")
	}
	if code := models.ErrorCode(err); code != models.CodeBuildBusy {
		t.Errorf("error code = %s, want %s", code, models.CodeBuildBusy)
	}

	close(upstream.block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first build: %v", err)
	}
}

func TestBuilderRun_MissingTaxaList(t *testing.T) {
	t.Parallel()

	b, _ := setupBuilder(t, &fakeUpstream{}, "taxon_id\n42\n")
	b.cfg.Pipeline.TaxaListPath = filepath.Join(t.TempDir(), "absent.csv")

	_, err := b.Run(context.Background(), BuildRequest{SlotIDs: []int{0}, YearFrom: 2024, YearTo: 2024})
	if err == nil {
		t.Fatal("expected error")
	}
	if code := models.ErrorCode(err); code != models.CodeMissingInput {
		t.Errorf("error code = %s, want %s", code, models.CodeMissingInput)
	}
}

func TestSlotDateFilter(t *testing.T) {
	t.Parallel()

	dateOf := func(f sos.Filter) (string, string) {
		t.Helper()
		d, ok := f["date"].(map[string]interface{})
		if !ok {
			t.Fatalf("filter missing date block: %v", f)
		}
		return d["startDate"].(string), d["endDate"].(string)
	}

	// Slot 0 with an explicit year covers the whole year.
	f, err := slotDateFilter(0, 2024)
	if err != nil {
		t.Fatalf("slotDateFilter(0, 2024): %v", err)
	}
	start, end := dateOf(f)
	if start != "2024-01-01T00:00:00Z" || end != "2024-12-31T23:59:59Z" {
		t.Errorf("slot 0 window = [%s, %s]", start, end)
	}

	// Slot 8 is February's fourth quartile; 2024 is a leap year.
	f, err = slotDateFilter(8, 2024)
	if err != nil {
		t.Fatalf("slotDateFilter(8, 2024): %v", err)
	}
	start, end = dateOf(f)
	if start != "2024-02-22T00:00:00Z" || end != "2024-02-29T23:59:59Z" {
		t.Errorf("slot 8 window = [%s, %s]", start, end)
	}

	f, err = slotDateFilter(8, 2023)
	if err != nil {
		t.Fatalf("slotDateFilter(8, 2023): %v", err)
	}
	_, end = dateOf(f)
	if end != "2023-02-28T23:59:59Z" {
		t.Errorf("non-leap slot 8 end = %s", end)
	}
}
