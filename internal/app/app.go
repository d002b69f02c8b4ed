// Package app builds the explicit run context shared by the CLI, the SDK and
// the preview server: resolved paths, logger, HTTP client, stores, source
// registry, publisher and downloader. Runs through one Env are serialized.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/divyekant/subdash/internal/config"
	"github.com/divyekant/subdash/internal/download"
	"github.com/divyekant/subdash/internal/fetch"
	"github.com/divyekant/subdash/internal/ingest"
	"github.com/divyekant/subdash/internal/ledger"
	"github.com/divyekant/subdash/internal/pipeline"
	"github.com/divyekant/subdash/internal/publish"
	"github.com/divyekant/subdash/internal/scheduler"
	"github.com/divyekant/subdash/internal/sources"
	"github.com/divyekant/subdash/internal/store"
	"github.com/divyekant/subdash/internal/watermark"
)

// ProgressFn receives phase progress from a run.
type ProgressFn func(phase string, done, total int)

// Env is the run context. Fields may be replaced after New and before the
// first run.
type Env struct {
	Config     config.Config
	Logger     *slog.Logger
	Client     *fetch.Client
	Store      *store.Store
	Watermark  *watermark.Store
	Registry   *sources.Registry
	Ledger     pipeline.Discoverer
	Publisher  ingest.Publisher
	Downloader ingest.Downloader
	Sleeper    ingest.Sleeper
	Now        func() time.Time

	mu sync.Mutex
}

// New wires an Env from cfg. The sources file is optional; a malformed one
// is an error.
func New(cfg config.Config, logger *slog.Logger) (*Env, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := fetch.New(fetch.Config{
		Timeout:           cfg.HTTP.Timeout,
		MaxBytes:          cfg.HTTP.MaxBytes,
		UserAgent:         cfg.HTTP.UserAgent,
		RequestsPerSecond: cfg.HTTP.Rate,
	})

	srcCfg, err := sources.LoadSourcesConfig(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}

	pub, err := publish.NewHTML(cfg.WebDir, logger)
	if err != nil {
		return nil, fmt.Errorf("publisher: %w", err)
	}

	return &Env{
		Config:     cfg,
		Logger:     logger,
		Client:     client,
		Store:      store.New(cfg.StorePath(), logger),
		Watermark:  watermark.New(cfg.WatermarkFile, logger),
		Registry:   sources.BuildRegistry(client, srcCfg, logger),
		Ledger:     ledger.Default(client, logger),
		Publisher:  pub,
		Downloader: download.New(cfg.DownloadsDir, client, logger),
		Sleeper:    ingest.TimerSleeper,
		Now:        time.Now,
	}, nil
}

// Options maps the ingest settings onto engine options.
func (e *Env) Options() ingest.Options {
	in := e.Config.Ingest
	return ingest.Options{
		MaxRetries:      in.MaxRetries,
		RetryDelay:      in.RetryDelay,
		CooldownAfter:   in.CooldownAfter,
		Cooldown:        in.Cooldown,
		CheckpointEvery: in.CheckpointEvery,
		Download:        in.Download,
	}
}

func (e *Env) engine(progress ProgressFn) *ingest.Engine {
	return ingest.New(ingest.Config{
		Store:      e.Store,
		Watermark:  e.Watermark,
		Publisher:  e.Publisher,
		Downloader: e.Downloader,
		Logger:     e.Logger,
		Sleeper:    e.Sleeper,
		Now:        e.Now,
		ProgressFn: progress,
	})
}

// Sync runs the full pipeline: dated periods selected by mode, then every
// latest-snapshot slot.
func (e *Env) Sync(ctx context.Context, mode pipeline.Mode, progress ProgressFn) (*pipeline.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return pipeline.Run(ctx, pipeline.Config{
		Ledger:     e.Ledger,
		Engine:     e.engine(progress),
		Watermark:  e.Watermark,
		Dated:      e.Registry.Dated(),
		Slots:      e.Registry.ByKind(sources.Latest),
		Options:    e.Options(),
		Mode:       mode,
		Logger:     e.Logger,
		ProgressFn: progress,
	})
}

// Refresh runs only the named sources. Naming the dated source runs an
// incremental period sync for it; other names refresh their slots.
func (e *Env) Refresh(ctx context.Context, names ...string) (*pipeline.Result, error) {
	if len(names) == 0 {
		return nil, errors.New("refresh: no source named")
	}
	cfg := pipeline.Config{
		Ledger:    e.Ledger,
		Watermark: e.Watermark,
		Options:   e.Options(),
		Mode:      pipeline.Incremental,
		Logger:    e.Logger,
	}
	for _, name := range lo.Uniq(names) {
		src, err := e.Registry.Get(name)
		if err != nil {
			return nil, err
		}
		if src.Kind() == sources.Dated {
			cfg.Dated = src
		} else {
			cfg.Slots = append(cfg.Slots, src)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	cfg.Engine = e.engine(nil)
	return pipeline.Run(ctx, cfg)
}

// Render republishes the stored document without fetching anything. A
// missing or corrupt store renders as empty; the load result says which.
func (e *Env) Render(ctx context.Context) (store.LoadResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := e.Store.Load()
	switch res.Status {
	case store.StatusMissing:
		e.Logger.Warn("render: no store yet, publishing an empty page", "path", e.Store.Path())
	case store.StatusCorrupt:
		e.Logger.Error("render: store unreadable, publishing an empty page", "path", e.Store.Path(), "error", res.Err)
	}
	if e.Publisher == nil {
		return res, errors.New("render: no publisher configured")
	}
	if err := e.Publisher.Publish(ctx, res.Doc); err != nil {
		return res, fmt.Errorf("render: %w", err)
	}
	e.Logger.Info("render: published", "entries", len(res.Doc))
	return res, nil
}

// slotSchedules is the refresh cadence of each latest-snapshot source.
var slotSchedules = map[string]scheduler.Schedule{
	"freev2":    scheduler.DailyAt{Hour: 0, Minute: 0},
	"bestclash": scheduler.Every(6 * time.Hour),
	"shaoyou":   scheduler.Every(2 * time.Hour),
	"ripao":     scheduler.DailyAt{Hour: 2, Minute: 0},
	"v2rayc":    scheduler.DailyAt{Hour: 4, Minute: 0},
}

// Jobs returns the watch-mode jobs: the period sync every schedule.interval
// and one refresh job per registered slot source. Per-source failures are
// logged by the engine; a job only errors when a run could not complete.
func (e *Env) Jobs() []scheduler.Job {
	var jobs []scheduler.Job
	if dated := e.Registry.Dated(); dated != nil {
		name := dated.Name()
		jobs = append(jobs, scheduler.Job{
			Name:     "periods",
			Schedule: scheduler.Every(e.Config.Schedule.Interval),
			Run: func(ctx context.Context) error {
				_, err := e.Refresh(ctx, name)
				return err
			},
		})
	}
	for _, src := range e.Registry.ByKind(sources.Latest) {
		sched, ok := slotSchedules[src.Name()]
		if !ok {
			sched = scheduler.Every(e.Config.Schedule.Interval)
		}
		name := src.Name()
		jobs = append(jobs, scheduler.Job{
			Name:     name,
			Schedule: sched,
			Run: func(ctx context.Context) error {
				_, err := e.Refresh(ctx, name)
				return err
			},
		})
	}
	return jobs
}

// SlotStatus describes one stored latest-snapshot slot.
type SlotStatus struct {
	Name      string    `json:"name"`
	FetchedAt time.Time `json:"scrape_time"`
	Links     int       `json:"links"`
}

// Status summarizes the persisted state.
type Status struct {
	Watermark   string       `json:"watermark"`
	LastUpdate  string       `json:"last_update,omitempty"`
	StorePath   string       `json:"store_path"`
	StoreStatus string       `json:"store_status"`
	Periods     int          `json:"periods"`
	Newest      string       `json:"newest_period,omitempty"`
	Oldest      string       `json:"oldest_period,omitempty"`
	Slots       []SlotStatus `json:"slots"`
	Sources     []string     `json:"sources"`
}

// Status reads the watermark and store without modifying either.
func (e *Env) Status() Status {
	st := Status{
		StorePath: e.Store.Path(),
		Sources:   e.Registry.SourceNames(),
		Slots:     []SlotStatus{},
	}
	if m, ok, err := e.Watermark.Load(); ok {
		st.Watermark = m.LastDate
		st.LastUpdate = m.LastUpdate
	} else if err != nil {
		e.Logger.Warn("status: watermark unreadable", "error", err)
	}

	res := e.Store.Load()
	st.StoreStatus = res.Status.String()
	keys := res.Doc.PeriodKeys()
	st.Periods = len(keys)
	if len(keys) > 0 {
		st.Newest = keys[0]
		st.Oldest = keys[len(keys)-1]
	}
	for _, k := range res.Doc.SlotKeys() {
		var rec sources.Record
		if ok, err := res.Doc.Get(k, &rec); !ok || err != nil {
			continue
		}
		st.Slots = append(st.Slots, SlotStatus{Name: k, FetchedAt: rec.FetchedAt, Links: len(rec.AllLinks())})
	}
	return st
}

// Document loads the stored document as is.
func (e *Env) Document() store.LoadResult { return e.Store.Load() }
