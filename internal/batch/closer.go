// Package batch holds the settlement jobs: closing expired auctions and
// scheduling payments for their winners.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jensholdgaard/auction-settlement/internal/auction"
	"github.com/jensholdgaard/auction-settlement/internal/clock"
	"github.com/jensholdgaard/auction-settlement/internal/notify"
	"github.com/jensholdgaard/auction-settlement/internal/store"
)

const instrumentationName = "github.com/jensholdgaard/auction-settlement/internal/batch"

// DefaultMinAgeDays is how many calendar days an auction stays open.
const DefaultMinAgeDays = 7

// Stage names the step of the close sequence an auction failed in.
type Stage string

const (
	StageClose  Stage = "close"
	StageUpdate Stage = "update"
	StageNotify Stage = "notify"
)

// ItemFailure records why a single auction could not be fully processed.
type ItemFailure struct {
	AuctionID string
	Stage     Stage
	Err       error
}

func (f ItemFailure) Error() string {
	return fmt.Sprintf("auction %s: %s: %v", f.AuctionID, f.Stage, f.Err)
}

func (f ItemFailure) Unwrap() error { return f.Err }

// Report summarizes one CloseExpired run.
type Report struct {
	// Closed counts auctions whose closed state was persisted, including
	// those whose notification later failed.
	Closed int
	// Skipped counts open auctions that are not old enough yet.
	Skipped  int
	Failures []ItemFailure
}

// Closer closes open auctions once they have been open for MinAge days,
// persists the change and notifies about it. A failing auction never stops
// the others.
type Closer struct {
	auctions store.AuctionRepository
	notifier notify.Notifier
	clock    clock.Clock
	logger   *slog.Logger
	tracer   trace.Tracer

	minAge  int
	workers int

	total    atomic.Int64
	closed   metric.Int64Counter
	failures metric.Int64Counter
}

// CloserOption configures a Closer.
type CloserOption func(*Closer)

// WithClock sets the clock used to decide eligibility. Defaults to clock.Real.
func WithClock(c clock.Clock) CloserOption {
	return func(cl *Closer) { cl.clock = c }
}

// WithMinAge sets the number of days an auction stays open. Values below
// 1 keep the default, so an auction is never closed on the day it opened.
func WithMinAge(days int) CloserOption {
	return func(cl *Closer) {
		if days >= 1 {
			cl.minAge = days
		}
	}
}

// WithWorkers processes up to n auctions at a time. Values below 2 keep
// the run sequential.
func WithWorkers(n int) CloserOption {
	return func(cl *Closer) { cl.workers = n }
}

// NewCloser returns a Closer.
func NewCloser(
	auctions store.AuctionRepository,
	n notify.Notifier,
	logger *slog.Logger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
	opts ...CloserOption,
) (*Closer, error) {
	c := &Closer{
		auctions: auctions,
		notifier: n,
		clock:    clock.Real{},
		logger:   logger,
		tracer:   tp.Tracer(instrumentationName),
		minAge:   DefaultMinAgeDays,
		workers:  1,
	}
	for _, opt := range opts {
		opt(c)
	}

	meter := mp.Meter(instrumentationName)
	var err error
	c.closed, err = meter.Int64Counter("settlement.auctions.closed",
		metric.WithDescription("Auctions transitioned to closed"))
	if err != nil {
		return nil, fmt.Errorf("creating closed counter: %w", err)
	}
	c.failures, err = meter.Int64Counter("settlement.auctions.close_failures",
		metric.WithDescription("Auctions that failed to close or notify"))
	if err != nil {
		return nil, fmt.Errorf("creating failure counter: %w", err)
	}
	return c, nil
}

// Total returns the number of auctions closed over the Closer's lifetime.
func (c *Closer) Total() int64 {
	return c.total.Load()
}

// CloseExpired runs one closing pass over the open auctions. The returned
// error is non-nil only when the open auctions could not be listed; per
// auction failures are collected in the report.
func (c *Closer) CloseExpired(ctx context.Context) (Report, error) {
	ctx, span := c.tracer.Start(ctx, "Closer.CloseExpired")
	defer span.End()

	open, err := c.auctions.Current(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "listing open auctions")
		return Report{}, fmt.Errorf("listing open auctions: %w", err)
	}

	now := c.clock.Now()
	results := make([]outcome, len(open))

	if c.workers > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.workers)
		for i, a := range open {
			g.Go(func() error {
				results[i] = c.process(gctx, a, now)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, a := range open {
			results[i] = c.process(ctx, a, now)
		}
	}

	var r Report
	for _, res := range results {
		switch {
		case res.skipped:
			r.Skipped++
		case res.closed:
			r.Closed++
		}
		if res.failure != nil {
			r.Failures = append(r.Failures, *res.failure)
		}
	}

	span.SetAttributes(
		attribute.Int("auctions.open", len(open)),
		attribute.Int("auctions.closed", r.Closed),
		attribute.Int("auctions.failed", len(r.Failures)),
	)
	c.logger.InfoContext(ctx, "closing run finished",
		slog.Int("open", len(open)),
		slog.Int("closed", r.Closed),
		slog.Int("skipped", r.Skipped),
		slog.Int("failed", len(r.Failures)),
	)
	return r, nil
}

type outcome struct {
	closed  bool
	skipped bool
	failure *ItemFailure
}

func (c *Closer) process(ctx context.Context, a *auction.Auction, now time.Time) outcome {
	if clock.DaysBetween(a.CreatedAt, now) < c.minAge {
		return outcome{skipped: true}
	}

	ctx, span := c.tracer.Start(ctx, "Closer.close",
		trace.WithAttributes(attribute.String("auction.id", a.ID)),
	)
	defer span.End()

	if err := a.Close(ctx, now); err != nil {
		return c.fail(ctx, span, a, StageClose, err, false)
	}
	if err := c.auctions.Update(ctx, a); err != nil {
		return c.fail(ctx, span, a, StageUpdate, err, false)
	}

	c.total.Add(1)
	c.closed.Add(ctx, 1)

	if err := c.notifier.Notify(ctx, a); err != nil {
		return c.fail(ctx, span, a, StageNotify, err, true)
	}
	return outcome{closed: true}
}

func (c *Closer) fail(ctx context.Context, span trace.Span, a *auction.Auction, stage Stage, err error, closed bool) outcome {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(stage))
	c.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", string(stage))))
	c.logger.ErrorContext(ctx, "failed to close auction",
		slog.String("auction_id", a.ID),
		slog.String("stage", string(stage)),
		slog.Any("error", err),
	)
	return outcome{closed: closed, failure: &ItemFailure{AuctionID: a.ID, Stage: stage, Err: err}}
}
