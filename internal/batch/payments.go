package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auction-settlement/internal/auction"
	"github.com/jensholdgaard/auction-settlement/internal/clock"
	"github.com/jensholdgaard/auction-settlement/internal/store"
)

// PaymentGenerator schedules a payment for the winner of every closed
// auction. Unlike Closer it stops at the first failure.
//
// Runs are not idempotent: running twice over the same closed auctions
// schedules their payments twice.
type PaymentGenerator struct {
	auctions  store.AuctionRepository
	payments  store.PaymentRepository
	evaluator auction.Evaluator
	clock     clock.Clock
	logger    *slog.Logger
	tracer    trace.Tracer
	scheduled metric.Int64Counter
}

// NewPaymentGenerator returns a PaymentGenerator.
func NewPaymentGenerator(
	auctions store.AuctionRepository,
	payments store.PaymentRepository,
	ev auction.Evaluator,
	clk clock.Clock,
	logger *slog.Logger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (*PaymentGenerator, error) {
	scheduled, err := mp.Meter(instrumentationName).Int64Counter("settlement.payments.scheduled",
		metric.WithDescription("Payments scheduled for auction winners"))
	if err != nil {
		return nil, fmt.Errorf("creating payments counter: %w", err)
	}
	return &PaymentGenerator{
		auctions:  auctions,
		payments:  payments,
		evaluator: ev,
		clock:     clk,
		logger:    logger,
		tracer:    tp.Tracer(instrumentationName),
		scheduled: scheduled,
	}, nil
}

// Generate schedules payments for the closed auctions and returns how many
// were saved. Payments saved before a failure stay saved.
func (g *PaymentGenerator) Generate(ctx context.Context) (int, error) {
	ctx, span := g.tracer.Start(ctx, "PaymentGenerator.Generate")
	defer span.End()

	n, err := g.generate(ctx)
	span.SetAttributes(attribute.Int("payments.scheduled", n))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generating payments")
		g.logger.ErrorContext(ctx, "payment run aborted",
			slog.Int("scheduled", n),
			slog.Any("error", err),
		)
		return n, err
	}

	g.logger.InfoContext(ctx, "payment run finished", slog.Int("scheduled", n))
	return n, nil
}

func (g *PaymentGenerator) generate(ctx context.Context) (int, error) {
	closed, err := g.auctions.Closed(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing closed auctions: %w", err)
	}

	due := NextBusinessDay(clock.Today(g.clock))

	saved := 0
	for _, a := range closed {
		if a.BidCount() == 0 {
			continue
		}

		winner, err := g.evaluator.Evaluate(a)
		if errors.Is(err, auction.ErrEmptyAuction) {
			continue
		}
		if err != nil {
			return saved, fmt.Errorf("evaluating auction %s: %w", a.ID, err)
		}

		p := auction.NewPayment(a.ID, winner.Amount, due)
		if err := g.payments.Save(ctx, p); err != nil {
			return saved, fmt.Errorf("saving payment for auction %s: %w", a.ID, err)
		}
		saved++
		g.scheduled.Add(ctx, 1)

		g.logger.DebugContext(ctx, "payment scheduled",
			slog.String("auction_id", a.ID),
			slog.String("payment_id", p.ID),
			slog.String("amount", p.Amount.String()),
			slog.String("due_date", p.DueDate.Format(time.DateOnly)),
		)
	}
	return saved, nil
}

// NextBusinessDay returns day itself on Monday to Friday and the following
// Monday on a weekend. Holidays are not considered.
func NextBusinessDay(day time.Time) time.Time {
	switch day.Weekday() {
	case time.Saturday:
		return day.AddDate(0, 0, 2)
	case time.Sunday:
		return day.AddDate(0, 0, 1)
	default:
		return day
	}
}
