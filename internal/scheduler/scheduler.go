// Package scheduler runs the settlement jobs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jensholdgaard/auction-settlement/internal/batch"
	"github.com/jensholdgaard/auction-settlement/internal/clock"
)

// Closer closes expired auctions.
type Closer interface {
	CloseExpired(ctx context.Context) (batch.Report, error)
}

// Generator schedules payments for closed auctions.
type Generator interface {
	Generate(ctx context.Context) (int, error)
}

// Run is the outcome of one settlement pass.
type Run struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Closing    batch.Report
	Payments   int
	Err        error
}

// Scheduler runs the Closer and then the Generator, either once or on a
// cron schedule. Scheduled runs never overlap.
type Scheduler struct {
	cron      *cron.Cron
	closer    Closer
	generator Generator
	clock     clock.Clock
	logger    *slog.Logger

	mu    sync.RWMutex
	last  *Run
	entry cron.EntryID
}

// New returns a Scheduler. Cron expressions accept an optional leading
// seconds field.
func New(c Closer, g Generator, clk clock.Clock, logger *slog.Logger) *Scheduler {
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
			cron.WithLogger(cl),
		),
		closer:    c,
		generator: g,
		clock:     clk,
		logger:    logger,
	}
}

// RunOnce closes expired auctions and then schedules payments. The
// generator runs even when closing could not list auctions, so payments
// for auctions closed earlier are not held back.
func (s *Scheduler) RunOnce(ctx context.Context) Run {
	run := Run{StartedAt: s.clock.Now()}

	report, closeErr := s.closer.CloseExpired(ctx)
	if closeErr != nil {
		closeErr = fmt.Errorf("closing auctions: %w", closeErr)
	}
	run.Closing = report

	payments, genErr := s.generator.Generate(ctx)
	if genErr != nil {
		genErr = fmt.Errorf("generating payments: %w", genErr)
	}
	run.Payments = payments

	run.Err = errors.Join(closeErr, genErr)
	run.FinishedAt = s.clock.Now()

	s.mu.Lock()
	s.last = &run
	s.mu.Unlock()

	attrs := []any{
		slog.Int("closed", report.Closed),
		slog.Int("close_failures", len(report.Failures)),
		slog.Int("payments", payments),
		slog.Duration("took", run.FinishedAt.Sub(run.StartedAt)),
	}
	if run.Err != nil {
		s.logger.ErrorContext(ctx, "settlement run failed", append(attrs, slog.Any("error", run.Err))...)
	} else {
		s.logger.InfoContext(ctx, "settlement run finished", attrs...)
	}
	return run
}

// Start schedules RunOnce with the given cron expression. Jobs run with ctx
// until Stop is called. Starting again replaces the previous schedule.
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	id, err := s.cron.AddFunc(spec, func() { s.RunOnce(ctx) })
	if err != nil {
		return fmt.Errorf("parsing schedule %q: %w", spec, err)
	}

	s.mu.Lock()
	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	s.entry = id
	s.mu.Unlock()

	s.cron.Start()
	s.logger.InfoContext(ctx, "scheduler started", slog.String("schedule", spec))
	return nil
}

// Stop halts the schedule and waits for a running pass to finish or ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.entry != 0 {
		s.cron.Remove(s.entry)
		s.entry = 0
	}
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastRun returns the most recent run, if any.
func (s *Scheduler) LastRun() (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return Run{}, false
	}
	return *s.last, true
}

// Check reports the error of the last run. It backs the readiness check.
func (s *Scheduler) Check(context.Context) error {
	run, ok := s.LastRun()
	if !ok || run.Err == nil {
		return nil
	}
	return fmt.Errorf("last run at %s: %w", run.StartedAt.UTC().Format(time.RFC3339), run.Err)
}

// cronLogger routes cron's logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, slog.Any("error", err))...)
}
