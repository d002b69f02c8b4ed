// Package ledger discovers which dated periods the upstream has published.
//
// Discovery runs an ordered chain of strategies. Each strategy is tried only
// when every earlier one produced nothing, and the last link of the default
// chain is a static snapshot so a run degrades instead of halting when the
// network is unavailable.
package ledger

import (
	"context"
	"log/slog"

	"github.com/divyekant/subdash/internal/fetch"
	"github.com/divyekant/subdash/internal/period"
)

// Strategy is one way of listing upstream periods.
type Strategy interface {
	Name() string
	Periods(ctx context.Context) ([]period.Period, error)
}

// Discovery is the outcome of Ledger.Discover.
type Discovery struct {
	Periods  []period.Period // de-duplicated, newest first
	Strategy string          // name of the strategy that produced Periods; "" if none did
	Failures map[string]error
}

// Ledger runs strategies in priority order.
type Ledger struct {
	strategies []Strategy
	logger     *slog.Logger
}

// New creates a ledger over the given strategies.
func New(logger *slog.Logger, strategies ...Strategy) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{strategies: strategies, logger: logger}
}

// Default returns the standard chain: raw README, rendered repo page, then
// the static snapshot.
func Default(client *fetch.Client, logger *slog.Logger) *Ledger {
	return New(logger,
		NewReadmeStrategy(client, DefaultReadmeURL),
		NewPageStrategy(client, DefaultPageURL),
		NewStaticStrategy(nil),
	)
}

// Discover returns the periods from the first strategy that yields any.
// Strategy errors are recorded and logged, never returned.
func (l *Ledger) Discover(ctx context.Context) Discovery {
	d := Discovery{Failures: make(map[string]error)}
	for _, s := range l.strategies {
		ps, err := s.Periods(ctx)
		if err != nil {
			d.Failures[s.Name()] = err
			l.logger.Warn("ledger: strategy failed", "strategy", s.Name(), "error", err)
			continue
		}
		ps = period.Normalize(ps)
		if len(ps) == 0 {
			l.logger.Warn("ledger: strategy found no periods", "strategy", s.Name())
			continue
		}
		d.Periods = ps
		d.Strategy = s.Name()
		l.logger.Info("ledger: discovered periods",
			"strategy", s.Name(), "count", len(ps), "newest", ps[0].ID)
		return d
	}
	return d
}
