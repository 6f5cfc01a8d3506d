// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

// Package pipeline runs the ingest build: per (slot, taxon, year) it
// fetches the base-zoom grid from the upstream, skips unchanged layers
// by content hash, derives coarser zooms locally and finally rebuilds
// the hotmaps for every touched key.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eklind/artgrid/internal/config"
	"github.com/eklind/artgrid/internal/database"
	"github.com/eklind/artgrid/internal/logging"
	"github.com/eklind/artgrid/internal/metrics"
	"github.com/eklind/artgrid/internal/models"
	"github.com/eklind/artgrid/internal/sos"
	"github.com/eklind/artgrid/internal/timeslots"
)

// Fetcher is the upstream aggregation surface the builder depends on.
// *sos.Client implements it.
type Fetcher interface {
	GeoGridAggregationResilient(ctx context.Context, taxa []int64, zoom int, extra sos.Filter, maxDepth int) (*models.GeoGridPayload, error)
}

// Builder executes ingest builds one at a time. The mutex is acquired
// in non-blocking mode; a second concurrent build is refused with
// BUILD_BUSY instead of queuing.
type Builder struct {
	store    *database.DB
	upstream Fetcher
	cfg      *config.Config

	mu sync.Mutex
}

// NewBuilder wires the builder to its store and upstream client.
func NewBuilder(store *database.DB, upstream Fetcher, cfg *config.Config) *Builder {
	return &Builder{store: store, upstream: upstream, cfg: cfg}
}

// BuildRequest selects what one build covers. Zero values fall back to
// the configured defaults.
type BuildRequest struct {
	SlotIDs  []int   `json:"slot_ids" validate:"max=49,dive,slot"`
	SlotID   *int    `json:"slot_id" validate:"omitempty,slot"`
	Zooms    []int   `json:"zooms" validate:"max=10,dive,tilezoom"`
	NTaxa    int     `json:"n" validate:"min=0"`
	Alpha    float64 `json:"alpha" validate:"min=0"`
	Beta     float64 `json:"beta" validate:"min=0"`
	Force    bool    `json:"force"`
	YearFrom int     `json:"year_from" validate:"min=0,max=9999"`
	YearTo   int     `json:"year_to" validate:"min=0,max=9999"`
}

// BuildResult summarizes a finished build.
type BuildResult struct {
	BuildID       string  `json:"build_id"`
	SlotsBuilt    []int   `json:"slots_built"`
	Zooms         []int   `json:"zooms"`
	BaseZoom      int     `json:"base_zoom"`
	NTaxa         int     `json:"n_taxa"`
	Alpha         float64 `json:"alpha"`
	Beta          float64 `json:"beta"`
	YearFrom      int     `json:"year_from"`
	YearTo        int     `json:"year_to"`
	LayersFetched int     `json:"layers_fetched"`
	LayersSkipped int     `json:"layers_skipped"`
	LayersFailed  int     `json:"layers_failed"`
	ElapsedMS     int64   `json:"elapsed_ms"`
}

// Run executes one build. It returns BUILD_BUSY when another build is
// in progress. A failed layer is logged and skipped; prior committed
// layers stay valid, so partial builds are safe to rerun.
func (b *Builder) Run(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	if !b.mu.TryLock() {
		return nil, models.NewError(models.CodeBuildBusy, "a pipeline build is already in progress")
	}
	defer b.mu.Unlock()

	start := time.Now()
	plan, err := b.plan(req)
	if err != nil {
		metrics.PipelineBuildsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	log := logging.With().Str("build_id", plan.buildID).Logger()
	log.Info().
		Ints("slots", plan.slots).
		Ints("zooms", plan.zooms).
		Int("base_zoom", plan.baseZoom).
		Int("n_taxa", len(plan.taxa)).
		Int("year_from", plan.yearFrom).
		Int("year_to", plan.yearTo).
		Bool("force", plan.force).
		Msg("Pipeline build started")

	result := &BuildResult{
		BuildID:    plan.buildID,
		SlotsBuilt: plan.slots,
		Zooms:      plan.zooms,
		BaseZoom:   plan.baseZoom,
		NTaxa:      len(plan.taxa),
		Alpha:      plan.alpha,
		Beta:       plan.beta,
		YearFrom:   plan.yearFrom,
		YearTo:     plan.yearTo,
	}

	for _, slot := range plan.slots {
		if err := b.buildSlot(ctx, plan, slot, result); err != nil {
			metrics.PipelineBuildsTotal.WithLabelValues("failed").Inc()
			return nil, err
		}
	}

	if err := b.store.UpsertTaxonDim(ctx, plan.taxa); err != nil {
		metrics.PipelineBuildsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	for _, slot := range plan.slots {
		for _, year := range append([]int{0}, plan.years()...) {
			for _, zoom := range plan.zooms {
				if err := b.store.RebuildHotmap(ctx, zoom, year, slot, plan.taxonIDs(), plan.alpha, plan.beta); err != nil {
					metrics.PipelineBuildsTotal.WithLabelValues("failed").Inc()
					return nil, err
				}
			}
		}
	}

	result.ElapsedMS = time.Since(start).Milliseconds()
	metrics.PipelineBuildsTotal.WithLabelValues("completed").Inc()
	log.Info().
		Int("layers_fetched", result.LayersFetched).
		Int("layers_skipped", result.LayersSkipped).
		Int("layers_failed", result.LayersFailed).
		Int64("elapsed_ms", result.ElapsedMS).
		Msg("Pipeline build completed")
	return result, nil
}

// buildPlan is a normalized BuildRequest.
type buildPlan struct {
	buildID  string
	slots    []int
	zooms    []int
	baseZoom int
	taxa     []models.TaxonRow
	alpha    float64
	beta     float64
	force    bool
	yearFrom int
	yearTo   int
}

func (p *buildPlan) years() []int {
	years := make([]int, 0, p.yearTo-p.yearFrom+1)
	for y := p.yearFrom; y <= p.yearTo; y++ {
		years = append(years, y)
	}
	return years
}

func (p *buildPlan) taxonIDs() []int64 {
	ids := make([]int64, len(p.taxa))
	for i, t := range p.taxa {
		ids[i] = t.TaxonID
	}
	return ids
}

// plan validates the request and fills defaults from configuration.
func (b *Builder) plan(req BuildRequest) (*buildPlan, error) {
	p := &buildPlan{
		buildID: uuid.NewString(),
		alpha:   req.Alpha,
		beta:    req.Beta,
		force:   req.Force,
	}
	if p.alpha == 0 {
		p.alpha = b.cfg.Pipeline.Alpha
	}
	if p.beta == 0 {
		p.beta = b.cfg.Pipeline.Beta
	}

	p.slots = req.SlotIDs
	if len(p.slots) == 0 && req.SlotID != nil {
		p.slots = []int{*req.SlotID}
	}
	if len(p.slots) == 0 {
		p.slots = []int{timeslots.SlotAll}
	}
	p.slots = uniqueSortedInts(p.slots)
	for _, s := range p.slots {
		if !timeslots.Valid(s) {
			return nil, models.NewError(models.CodeBadRequest, "slot_id %d out of range 0..%d", s, timeslots.SlotMax)
		}
	}

	p.zooms = req.Zooms
	if len(p.zooms) == 0 {
		p.zooms = b.cfg.Pipeline.Zooms
	}
	p.zooms = uniqueSortedIntsDesc(p.zooms)
	for _, z := range p.zooms {
		if z < 0 || z > 20 {
			return nil, models.NewError(models.CodeBadRequest, "zoom %d out of range 0..20", z)
		}
	}
	p.baseZoom = p.zooms[0]

	p.yearFrom, p.yearTo = req.YearFrom, req.YearTo
	if p.yearFrom == 0 && p.yearTo == 0 {
		p.yearFrom = b.cfg.Pipeline.DefaultYearFrom
		p.yearTo = time.Now().UTC().Year()
	} else if p.yearFrom == 0 {
		p.yearFrom = p.yearTo
	} else if p.yearTo == 0 {
		p.yearTo = p.yearFrom
	}
	if p.yearFrom > p.yearTo {
		p.yearFrom, p.yearTo = p.yearTo, p.yearFrom
	}

	taxa, err := LoadTaxaList(b.cfg.Pipeline.TaxaListPath)
	if err != nil {
		return nil, err
	}
	if len(taxa) == 0 {
		return nil, models.NewError(models.CodeMissingInput, "taxa list %s is empty", b.cfg.Pipeline.TaxaListPath)
	}
	if req.NTaxa > 0 && req.NTaxa < len(taxa) {
		taxa = taxa[:req.NTaxa]
	}
	p.taxa = taxa

	return p, nil
}

// buildSlot ingests every taxon of the plan for one slot.
func (b *Builder) buildSlot(ctx context.Context, plan *buildPlan, slot int, result *BuildResult) error {
	log := logging.With().Str("build_id", plan.buildID).Int("slot_id", slot).Logger()

	for i, taxon := range plan.taxa {
		if i > 0 {
			if err := pace(ctx, b.cfg.Pipeline.InterTaxonPacing); err != nil {
				return err
			}
		}
		if err := b.buildTaxon(ctx, plan, slot, taxon.TaxonID, result); err != nil {
			// A failed taxon leaves its previously committed layers
			// intact; the build carries on with the next one.
			result.LayersFailed++
			metrics.PipelineLayersTotal.WithLabelValues("failed").Inc()
			log.Warn().Err(err).Int64("taxon_id", taxon.TaxonID).Msg("Taxon ingest failed, continuing")
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
	return nil
}

// buildTaxon ingests one (slot, taxon) pair across the year span, then
// writes the all-years aggregate and the derived coarser zooms.
func (b *Builder) buildTaxon(ctx context.Context, plan *buildPlan, slot int, taxonID int64, result *BuildResult) error {
	log := logging.With().
		Str("build_id", plan.buildID).
		Int("slot_id", slot).
		Int64("taxon_id", taxonID).
		Logger()

	perYear := make([][]models.GridCell, 0, len(plan.years()))
	for _, year := range plan.years() {
		filter, err := slotDateFilter(slot, year)
		if err != nil {
			return err
		}

		payload, err := b.upstream.GeoGridAggregationResilient(ctx, []int64{taxonID}, plan.baseZoom, filter, b.cfg.SOS.MaxSplitDepth)
		if err != nil {
			return err
		}
		perYear = append(perYear, payload.GridCells)

		if err := b.persistLayer(ctx, plan, slot, taxonID, year, payload.GridCells, result, log); err != nil {
			return err
		}
	}

	// All-years aggregate in the year-0 bucket: observations sum across
	// years, taxa counts take the per-year maximum.
	merged := sos.MergeGridCellsAcrossYears(perYear)
	return b.persistLayer(ctx, plan, slot, taxonID, 0, merged, result, log)
}

// persistLayer writes one base-zoom layer unless its hash is unchanged,
// then refreshes the derived coarser zooms.
func (b *Builder) persistLayer(ctx context.Context, plan *buildPlan, slot int, taxonID int64, year int, cells []models.GridCell, result *BuildResult, log zerolog.Logger) error {
	key := database.LayerKey{TaxonID: taxonID, Zoom: plan.baseZoom, Year: year, SlotID: slot}
	sha := sos.StableGridCellsHash(cells)

	state, err := b.store.GetLayerState(ctx, key)
	if err != nil {
		return err
	}

	if state != nil && state.PayloadSHA256 == sha && !plan.force {
		result.LayersSkipped++
		metrics.PipelineLayersTotal.WithLabelValues("skipped").Inc()
		log.Debug().Int("year", year).Str("sha", sha).Msg("Layer unchanged, bumping watermark")
		if err := b.store.UpsertLayerState(ctx, key, sha, len(cells)); err != nil {
			return err
		}
	} else {
		result.LayersFetched++
		metrics.PipelineLayersTotal.WithLabelValues("fetched").Inc()
		reason := "new"
		if state != nil {
			reason = "changed"
			if plan.force {
				reason = "forced"
			}
		}
		log.Info().
			Int("year", year).
			Int("cells", len(cells)).
			Str("reason", reason).
			Msg("Replacing layer")
		if err := b.store.ReplaceLayer(ctx, key, cells, sha); err != nil {
			return err
		}
	}

	for _, dst := range plan.zooms[1:] {
		rederive, reason, err := b.derivedZoomStale(ctx, plan, slot, taxonID, year, dst, sha)
		if err != nil {
			return err
		}
		if !rederive {
			log.Debug().Int("year", year).Int("zoom", dst).Msg("Derived layer current, skipping")
			continue
		}
		log.Info().
			Int("year", year).
			Int("zoom", dst).
			Str("reason", reason).
			Msg("Deriving zoom")
		if err := b.store.MaterializeParentZoom(ctx, taxonID, slot, year, plan.baseZoom, dst, sha); err != nil {
			return err
		}
	}
	return nil
}

// derivedZoomStale decides whether a derived layer must be rebuilt: its
// marker must bind to the current base-zoom hash and its grid rows must
// actually exist. An empty layer with a valid marker counts as current.
func (b *Builder) derivedZoomStale(ctx context.Context, plan *buildPlan, slot int, taxonID int64, year, dst int, sha string) (bool, string, error) {
	if plan.force {
		return true, "forced", nil
	}

	key := database.LayerKey{TaxonID: taxonID, Zoom: dst, Year: year, SlotID: slot}
	state, err := b.store.GetLayerState(ctx, key)
	if err != nil {
		return false, "", err
	}
	if state == nil {
		return true, "new", nil
	}
	if !sos.IsValidLocalFrom(state.PayloadSHA256, plan.baseZoom, sha) {
		return true, "stale", nil
	}
	if state.GridCellCount > 0 {
		hasRows, err := b.store.HasAnyTaxonGrid(ctx, key)
		if err != nil {
			return false, "", err
		}
		if !hasRows {
			return true, "missing rows", nil
		}
	}
	return false, "", nil
}

// slotDateFilter builds the upstream date filter for a (slot, year)
// pair. Slot 0 with an explicit year collapses to the full-year window;
// slots 1..48 use the exact quartile day bounds for that year.
func slotDateFilter(slot, year int) (sos.Filter, error) {
	if slot == timeslots.SlotAll {
		return sos.DateRangeFilter(
			fmt.Sprintf("%04d-01-01T00:00:00Z", year),
			fmt.Sprintf("%04d-12-31T23:59:59Z", year)), nil
	}

	resolved, err := timeslots.Resolve(slot, year)
	if err != nil {
		return nil, models.WrapError(models.CodeBadRequest, err, "invalid slot %d", slot)
	}
	return sos.DateRangeFilter(
		fmt.Sprintf("%04d-%02d-%02dT00:00:00Z", year, resolved.Month, resolved.StartDay),
		fmt.Sprintf("%04d-%02d-%02dT23:59:59Z", year, resolved.Month, resolved.EndDay)), nil
}

// pace sleeps the inter-taxon interval, honoring cancellation.
func pace(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func uniqueSortedInts(in []int) []int {
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}

func uniqueSortedIntsDesc(in []int) []int {
	out := uniqueSortedInts(in)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
