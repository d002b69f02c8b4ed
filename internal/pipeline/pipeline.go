// Package pipeline orchestrates one full sync: discover the available
// periods, select the ones to fetch, ingest them through the engine, and
// refresh the latest-snapshot slots. Publishing and the watermark are handled
// by the engine after each step that changed the store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/divyekant/subdash/internal/ingest"
	"github.com/divyekant/subdash/internal/ledger"
	"github.com/divyekant/subdash/internal/period"
	"github.com/divyekant/subdash/internal/sources"
	"github.com/divyekant/subdash/internal/watermark"
)

// ErrNoPeriods is recorded when every ledger strategy came back empty.
var ErrNoPeriods = errors.New("pipeline: no periods discovered")

// Discoverer is satisfied by *ledger.Ledger.
type Discoverer interface {
	Discover(ctx context.Context) ledger.Discovery
}

// Mode selects which discovered periods are handed to the engine.
type Mode int

const (
	Incremental Mode = iota // periods newer than the watermark
	All                     // every period; stored ones are skipped
	Force                   // every period, refetched and overwritten
)

func (m Mode) String() string {
	switch m {
	case All:
		return "all"
	case Force:
		return "force"
	default:
		return "incremental"
	}
}

// Config holds all the dependencies the pipeline needs.
type Config struct {
	Ledger     Discoverer
	Engine     *ingest.Engine
	Watermark  *watermark.Store
	Dated      sources.Source   // nil skips period ingestion
	Slots      []sources.Source // Latest sources refreshed after the periods
	Options    ingest.Options
	Mode       Mode
	Logger     *slog.Logger
	ProgressFn func(phase string, done, total int) // optional progress callback
}

// Result holds the output of a full pipeline run.
type Result struct {
	Mode       Mode
	Strategy   string // ledger strategy that produced the periods
	Discovered int
	Selected   []string
	Periods    *ingest.Result // nil when period ingestion did not run
	Slots      *ingest.Result // nil when no slot source was given
	Errors     []error
}

// Changed reports whether the store was written during the run.
func (r *Result) Changed() bool {
	return (r.Periods != nil && r.Periods.Changed()) || (r.Slots != nil && r.Slots.Changed())
}

// Run executes the pipeline in four phases:
//  1. Discover: ask the ledger for the available periods
//  2. Select: filter them against the watermark according to Mode
//  3. Ingest: fetch, merge and checkpoint the selected periods
//  4. Slots: refresh every latest-snapshot source
//
// Discovery and per-period failures are collected in Result.Errors. The
// returned error is non-nil when ctx is cancelled or a store write fails.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.Engine == nil {
		return nil, errors.New("pipeline: engine is required")
	}
	if cfg.Dated != nil && (cfg.Ledger == nil || cfg.Watermark == nil) {
		return nil, errors.New("pipeline: ledger and watermark are required for period ingestion")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	progress := cfg.ProgressFn
	if progress == nil {
		progress = func(string, int, int) {}
	}

	opts := cfg.Options
	if cfg.Mode == Force {
		opts.ForceUpdate = true
	}
	result := &Result{Mode: cfg.Mode}

	if cfg.Dated != nil {
		// ── Phase 1: Discover ───────────────────────────────────────────
		progress("discover", 0, 1)
		d := cfg.Ledger.Discover(ctx)
		result.Strategy = d.Strategy
		result.Discovered = len(d.Periods)
		progress("discover", 1, 1)

		if len(d.Periods) == 0 {
			for name, err := range d.Failures {
				result.Errors = append(result.Errors, fmt.Errorf("ledger %s: %w", name, err))
			}
			result.Errors = append(result.Errors, ErrNoPeriods)
			logger.Warn("pipeline: nothing discovered, skipping period ingestion")
		} else {
			// ── Phase 2: Select ─────────────────────────────────────────
			selected := selectPeriods(d.Periods, cfg.Watermark.Current(), cfg.Mode)
			for _, p := range selected {
				result.Selected = append(result.Selected, p.ID)
			}
			logger.Info("pipeline: selected periods", "mode", cfg.Mode.String(),
				"discovered", result.Discovered, "selected", len(selected), "watermark", cfg.Watermark.Current())

			// ── Phase 3: Ingest ─────────────────────────────────────────
			res, err := cfg.Engine.Ingest(ctx, cfg.Dated, selected, opts)
			result.Periods = res
			if res != nil {
				result.Errors = append(result.Errors, res.Errors...)
			}
			if err != nil {
				return result, fmt.Errorf("pipeline: ingest: %w", err)
			}
		}
	}

	// ── Phase 4: Slots ──────────────────────────────────────────────────
	if len(cfg.Slots) > 0 {
		res, err := cfg.Engine.RefreshSlots(ctx, cfg.Slots, opts)
		result.Slots = res
		if res != nil {
			result.Errors = append(result.Errors, res.Errors...)
		}
		if err != nil {
			return result, fmt.Errorf("pipeline: slots: %w", err)
		}
	}

	return result, nil
}

func selectPeriods(all []period.Period, wm string, mode Mode) []period.Period {
	if mode == Incremental {
		return ingest.ComputeNewPeriods(all, wm)
	}
	return all
}
