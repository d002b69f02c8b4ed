// Package subdash provides a thin Go SDK for running a sync or re-rendering
// the dashboard programmatically. It wraps the internal packages with a
// stable API and reads settings the same way the CLI does.
package subdash

import (
	"context"

	"github.com/divyekant/subdash/internal/app"
	"github.com/divyekant/subdash/internal/config"
	"github.com/divyekant/subdash/internal/pipeline"
)

// SyncOptions configures a sync run.
type SyncOptions struct {
	ConfigFile string // "" searches the working and user config directories
	All        bool   // consider every discovered period, not only new ones
	Force      bool   // refetch and overwrite stored periods; implies All
}

// SyncResult contains the output of a sync run.
type SyncResult struct {
	Merged    int
	Skipped   int
	Failed    int
	Slots     int
	Watermark string
	Errors    int
}

// Mode maps the options onto a pipeline mode.
func (o SyncOptions) Mode() pipeline.Mode {
	switch {
	case o.Force:
		return pipeline.Force
	case o.All:
		return pipeline.All
	default:
		return pipeline.Incremental
	}
}

// Sync runs the full pipeline once with the configured sources.
func Sync(ctx context.Context, opts SyncOptions) (*SyncResult, error) {
	env, err := open(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	res, err := env.Sync(ctx, opts.Mode(), nil)
	if err != nil {
		return nil, err
	}

	out := &SyncResult{Errors: len(res.Errors)}
	if p := res.Periods; p != nil {
		out.Merged = len(p.Merged)
		out.Skipped = len(p.Skipped)
		out.Failed = len(p.Failed)
		out.Watermark = p.Watermark
	}
	if s := res.Slots; s != nil {
		out.Slots = len(s.Merged)
		out.Failed += len(s.Failed)
	}
	if out.Watermark == "" {
		out.Watermark = env.Watermark.Current()
	}
	return out, nil
}

// Render republishes the dashboard from the stored document and returns the
// number of stored entries.
func Render(ctx context.Context, configFile string) (int, error) {
	env, err := open(configFile)
	if err != nil {
		return 0, err
	}
	res, err := env.Render(ctx)
	if err != nil {
		return 0, err
	}
	return len(res.Doc), nil
}

// Status reports the persisted watermark and store contents.
func Status(configFile string) (app.Status, error) {
	env, err := open(configFile)
	if err != nil {
		return app.Status{}, err
	}
	return env.Status(), nil
}

func open(configFile string) (*app.Env, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	return app.New(cfg, nil)
}
