// Package ingest is the incremental sync engine. It decides which periods are
// new relative to the watermark, fetches them through a source with bounded
// jittered retry, merges the records into the result store with periodic
// checkpoints, advances the watermark and signals the publisher.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/divyekant/subdash/internal/period"
	"github.com/divyekant/subdash/internal/sources"
	"github.com/divyekant/subdash/internal/store"
	"github.com/divyekant/subdash/internal/watermark"
)

// Publisher regenerates derived output from the full store document.
type Publisher interface {
	Publish(ctx context.Context, doc store.Document) error
}

// Downloader saves the files a record links to.
type Downloader interface {
	Record(ctx context.Context, rec *sources.Record) error
}

// Sleeper pauses between attempts. Sleep returns early with ctx.Err() when
// the context is cancelled.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleepFunc adapts a function to Sleeper.
type SleepFunc func(ctx context.Context, d time.Duration) error

func (f SleepFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// TimerSleeper sleeps on a real timer.
var TimerSleeper Sleeper = SleepFunc(func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
})

// Options tune a single run.
type Options struct {
	ForceUpdate     bool          // refetch periods already in the store
	MaxRetries      int           // attempts per period
	RetryDelay      time.Duration // base delay, jittered by ±50%
	CooldownAfter   int           // consecutive failed periods before a cooldown
	Cooldown        time.Duration
	CheckpointEvery int  // successes between intermediate saves
	Download        bool // hand successful records to the Downloader
}

// DefaultOptions returns the stock retry and checkpoint settings.
func DefaultOptions() Options {
	return Options{
		MaxRetries:      3,
		RetryDelay:      5 * time.Second,
		CooldownAfter:   3,
		Cooldown:        60 * time.Second,
		CheckpointEvery: 3,
		Download:        true,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxRetries <= 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.CooldownAfter <= 0 {
		o.CooldownAfter = d.CooldownAfter
	}
	if o.CheckpointEvery <= 0 {
		o.CheckpointEvery = d.CheckpointEvery
	}
	return o
}

// Config holds the engine's collaborators.
type Config struct {
	Store      *store.Store
	Watermark  *watermark.Store
	Publisher  Publisher  // optional
	Downloader Downloader // optional
	Logger     *slog.Logger
	Sleeper    Sleeper
	Now        func() time.Time
	ProgressFn func(phase string, done, total int) // optional progress callback
}

// Engine runs ingestion batches. It is not safe for concurrent use; runs
// against the same store must be serialized by the caller.
type Engine struct {
	store      *store.Store
	watermark  *watermark.Store
	publisher  Publisher
	downloader Downloader
	logger     *slog.Logger
	sleeper    Sleeper
	now        func() time.Time
	progress   func(string, int, int)
}

// New creates an engine. Store and Watermark are required.
func New(cfg Config) *Engine {
	e := &Engine{
		store:      cfg.Store,
		watermark:  cfg.Watermark,
		publisher:  cfg.Publisher,
		downloader: cfg.Downloader,
		logger:     cfg.Logger,
		sleeper:    cfg.Sleeper,
		now:        cfg.Now,
		progress:   cfg.ProgressFn,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.sleeper == nil {
		e.sleeper = TimerSleeper
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.progress == nil {
		e.progress = func(string, int, int) {}
	}
	return e
}

// Result summarizes one run.
type Result struct {
	RunID       string
	Succeeded   []string // merged plus skipped, in processing order
	Merged      []string
	Skipped     []string
	Failed      []string
	Checkpoints int    // store writes made during the run, final flush included
	Watermark   string // watermark in effect after the run
	Published   bool
	Errors      []error
}

// Changed reports whether the run produced any successful period or slot.
func (r *Result) Changed() bool { return len(r.Succeeded) > 0 }

// ComputeNewPeriods returns the leading run of all (sorted newest first)
// whose ids are greater than wm. Scanning stops at the first id at or below
// wm; an empty wm returns all unchanged.
func ComputeNewPeriods(all []period.Period, wm string) []period.Period {
	if wm == "" {
		return all
	}
	for i, p := range all {
		if p.ID <= wm {
			return all[:i]
		}
	}
	return all
}

// Ingest processes periods in order against a dated source.
//
// A period already present in the store is skipped unless ForceUpdate is
// set; skipped periods count as successes. Each fetch gets up to MaxRetries
// attempts. A period that exhausts its attempts is recorded as failed and the
// batch moves on. After CooldownAfter consecutive failed periods the engine
// pauses for Cooldown before the next one. Every CheckpointEvery successes
// the pending records are saved; a final save, watermark advance and publish
// follow when the run had at least one success. A run with no successes
// writes nothing.
//
// The returned error is non-nil only when ctx was cancelled or the final
// save failed; individual period failures are reported in Result.
func (e *Engine) Ingest(ctx context.Context, src sources.Source, periods []period.Period, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	res := &Result{RunID: uuid.NewString()}
	log := e.logger.With("run_id", res.RunID, "source", src.Name())

	if len(periods) == 0 {
		log.Info("ingest: no periods to process")
		return res, nil
	}
	log.Info("ingest: starting", "periods", len(periods), "force", opts.ForceUpdate)

	existing := e.store.LoadOrEmpty()
	pending := store.Document{}
	consecutive := 0
	var runErr error

	for i, p := range periods {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		plog := log.With("period", p.ID)

		if consecutive >= opts.CooldownAfter {
			plog.Warn("ingest: consecutive failures, cooling down", "failures", consecutive, "pause", opts.Cooldown)
			if err := e.sleeper.Sleep(ctx, opts.Cooldown); err != nil {
				runErr = err
				break
			}
			consecutive = 0
		}

		if existing.Has(p.ID) && !opts.ForceUpdate {
			plog.Debug("ingest: already stored, skipping")
			res.Skipped = append(res.Skipped, p.ID)
			res.Succeeded = append(res.Succeeded, p.ID)
			consecutive = 0
			e.checkpoint(plog, res, pending, opts)
			e.progress("ingest", i+1, len(periods))
			continue
		}

		plog.Info("ingest: fetching", "progress", fmt.Sprintf("%d/%d", i+1, len(periods)))
		rec, err := e.fetchWithRetry(ctx, plog, src, sources.FetchRequest{Period: p}, opts)
		if err == nil {
			err = pending.Put(p.ID, rec)
		}
		if err != nil {
			if ctx.Err() != nil {
				runErr = ctx.Err()
				break
			}
			plog.Warn("ingest: period failed", "error", err)
			res.Failed = append(res.Failed, p.ID)
			res.Errors = append(res.Errors, fmt.Errorf("period %s: %w", p.ID, err))
			consecutive++
			e.progress("ingest", i+1, len(periods))
			continue
		}

		consecutive = 0
		res.Merged = append(res.Merged, p.ID)
		res.Succeeded = append(res.Succeeded, p.ID)
		plog.Info("ingest: fetched", "title", rec.Title, "links", len(rec.AllLinks()))
		e.download(ctx, plog, rec, opts)

		e.checkpoint(plog, res, pending, opts)
		e.progress("ingest", i+1, len(periods))
	}

	if len(res.Succeeded) == 0 {
		log.Warn("ingest: no period succeeded", "failed", len(res.Failed))
		res.Watermark = e.watermark.Current()
		return res, runErr
	}

	// Publishing and the watermark use a fresh context so a cancelled run
	// still records what it finished.
	finishCtx := context.WithoutCancel(ctx)
	doc, err := e.store.MergeAndSave(pending)
	if err != nil {
		log.Error("ingest: final save failed", "error", err)
		res.Errors = append(res.Errors, err)
		return res, errors.Join(runErr, err)
	}
	res.Checkpoints++

	newest := period.Max(res.Succeeded)
	wm, err := e.watermark.Advance(newest, e.now())
	if err != nil {
		log.Error("ingest: watermark save failed", "error", err)
		res.Errors = append(res.Errors, err)
	}
	res.Watermark = wm

	res.Published = e.publish(finishCtx, log, doc)
	log.Info("ingest: done",
		"merged", len(res.Merged), "skipped", len(res.Skipped), "failed", len(res.Failed),
		"watermark", res.Watermark)
	return res, runErr
}

// checkpoint saves pending when the success count has reached a multiple of
// CheckpointEvery. Skipped periods count, so a stored period landing on the
// boundary still flushes what was merged before it. Saved keys are removed
// from pending.
func (e *Engine) checkpoint(log *slog.Logger, res *Result, pending store.Document, opts Options) {
	if len(res.Succeeded)%opts.CheckpointEvery != 0 || len(pending) == 0 {
		return
	}
	if _, err := e.store.MergeAndSave(pending); err != nil {
		log.Error("ingest: checkpoint failed", "error", err)
		res.Errors = append(res.Errors, err)
		return
	}
	res.Checkpoints++
	clear(pending)
	log.Info("ingest: checkpoint saved", "succeeded", len(res.Succeeded))
}

// RefreshSlots fetches each Latest source once (with the same bounded retry)
// and writes every successful record to the slot named after its source. A
// source that fails keeps its previous slot value.
func (e *Engine) RefreshSlots(ctx context.Context, srcs []sources.Source, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	res := &Result{RunID: uuid.NewString()}
	log := e.logger.With("run_id", res.RunID)

	updates := store.Document{}
	for i, src := range srcs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		slotLog := log.With("source", src.Name())
		if src.Kind() != sources.Latest {
			slotLog.Warn("ingest: not a latest source, skipping slot refresh")
			continue
		}

		rec, err := e.fetchWithRetry(ctx, slotLog, src, sources.FetchRequest{}, opts)
		if err == nil {
			err = updates.Put(src.Name(), rec)
		}
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			slotLog.Warn("ingest: slot refresh failed, keeping previous value", "error", err)
			res.Failed = append(res.Failed, src.Name())
			res.Errors = append(res.Errors, fmt.Errorf("slot %s: %w", src.Name(), err))
			e.progress("slots", i+1, len(srcs))
			continue
		}

		res.Merged = append(res.Merged, src.Name())
		res.Succeeded = append(res.Succeeded, src.Name())
		slotLog.Info("ingest: slot refreshed", "title", rec.Title, "links", len(rec.AllLinks()))
		e.download(ctx, slotLog, rec, opts)
		e.progress("slots", i+1, len(srcs))
	}

	if len(updates) == 0 {
		return res, nil
	}
	doc, err := e.store.MergeAndSave(updates)
	if err != nil {
		log.Error("ingest: slot save failed", "error", err)
		res.Errors = append(res.Errors, err)
		return res, err
	}
	res.Checkpoints++
	res.Published = e.publish(context.WithoutCancel(ctx), log, doc)
	return res, nil
}

// fetchWithRetry makes up to opts.MaxRetries attempts. A nil record or one
// without any links counts as a failed attempt. Attempts after the first are preceded by
// a jittered delay in [0.5, 1.5] x RetryDelay.
func (e *Engine) fetchWithRetry(ctx context.Context, log *slog.Logger, src sources.Source, req sources.FetchRequest, opts Options) (*sources.Record, error) {
	var backoff retry.Backoff
	if opts.RetryDelay > 0 {
		backoff = retry.WithJitterPercent(50, retry.NewConstant(opts.RetryDelay))
	}

	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 1 && backoff != nil {
			d, _ := backoff.Next()
			log.Info("ingest: retrying", "attempt", attempt, "wait", d.Round(time.Millisecond))
			if err := e.sleeper.Sleep(ctx, d); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := src.Fetch(ctx, req)
		if err == nil && (rec == nil || !rec.HasLinks()) {
			err = sources.ErrNoData
		}
		if err == nil {
			return rec, nil
		}
		lastErr = err
		log.Warn("ingest: attempt failed", "attempt", attempt, "of", opts.MaxRetries, "error", err)
	}
	return nil, fmt.Errorf("after %d attempts: %w", opts.MaxRetries, lastErr)
}

func (e *Engine) download(ctx context.Context, log *slog.Logger, rec *sources.Record, opts Options) {
	if !opts.Download || e.downloader == nil {
		return
	}
	if err := e.downloader.Record(ctx, rec); err != nil {
		log.Warn("ingest: download failed", "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, log *slog.Logger, doc store.Document) bool {
	if e.publisher == nil {
		return false
	}
	if err := e.publisher.Publish(ctx, doc); err != nil {
		log.Error("ingest: publish failed", "error", err)
		return false
	}
	return true
}
