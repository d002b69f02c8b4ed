// Package scheduler runs named jobs on fixed intervals or at a daily
// wall-clock time. Jobs run one at a time on the scheduler goroutine; a
// failing job is logged and does not stop the loop.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Schedule computes a job's next run time.
type Schedule interface {
	Next(after time.Time) time.Time
	String() string
}

// Every runs a job at a fixed interval after its previous run.
type Every time.Duration

func (e Every) Next(after time.Time) time.Time { return after.Add(time.Duration(e)) }
func (e Every) String() string                 { return "every " + time.Duration(e).String() }

// DailyAt runs a job once a day at Hour:Minute in the clock's location.
type DailyAt struct {
	Hour   int
	Minute int
}

func (d DailyAt) Next(after time.Time) time.Time {
	t := time.Date(after.Year(), after.Month(), after.Day(), d.Hour, d.Minute, 0, 0, after.Location())
	if !t.After(after) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func (d DailyAt) String() string { return fmt.Sprintf("daily at %02d:%02d", d.Hour, d.Minute) }

// Job is a named unit of periodic work.
type Job struct {
	Name     string
	Schedule Schedule
	Run      func(ctx context.Context) error
}

// Entry describes a registered job's state.
type Entry struct {
	Name     string
	Schedule string
	Next     time.Time
	LastRun  time.Time
	LastErr  error
}

type entry struct {
	job     Job
	next    time.Time
	lastRun time.Time
	lastErr error
}

// Scheduler holds jobs and drives them from a ticker.
type Scheduler struct {
	entries []*entry
	logger  *slog.Logger
	now     func() time.Time
	tick    time.Duration
}

// New creates a scheduler that checks for due jobs every minute.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger, now: time.Now, tick: time.Minute}
}

// Add registers a job. Jobs added before Run execute once at start.
func (s *Scheduler) Add(job Job) {
	s.entries = append(s.entries, &entry{job: job})
}

// Entries returns a snapshot of every job, soonest first.
func (s *Scheduler) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Entry{Name: e.job.Name, Schedule: e.job.Schedule.String(), Next: e.next, LastRun: e.lastRun, LastErr: e.lastErr})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Next.Before(out[j].Next) })
	return out
}

// Run executes every job once, then runs due jobs each tick until ctx is
// cancelled. It always returns nil after cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler: starting", "jobs", len(s.entries))
	for _, e := range s.entries {
		if ctx.Err() != nil {
			break
		}
		s.runEntry(ctx, e)
	}

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler: stopped")
			return nil
		case <-ticker.C:
			s.RunPending(ctx)
		}
	}
}

// RunPending runs every job whose next time has arrived, in registration
// order, and returns how many ran.
func (s *Scheduler) RunPending(ctx context.Context) int {
	ran := 0
	for _, e := range s.entries {
		if ctx.Err() != nil {
			break
		}
		if e.next.IsZero() || !s.now().Before(e.next) {
			s.runEntry(ctx, e)
			ran++
		}
	}
	return ran
}

func (s *Scheduler) runEntry(ctx context.Context, e *entry) {
	start := s.now()
	log := s.logger.With("job", e.job.Name)
	log.Info("scheduler: job starting")

	err := safeRun(ctx, e.job.Run)
	e.lastRun = start
	e.lastErr = err
	e.next = e.job.Schedule.Next(s.now())

	if err != nil {
		log.Error("scheduler: job failed", "error", err, "next", e.next)
		return
	}
	log.Info("scheduler: job done", "took", s.now().Sub(start).Round(time.Millisecond), "next", e.next)
}

func safeRun(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
