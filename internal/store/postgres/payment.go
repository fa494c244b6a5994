package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/auction-settlement/internal/auction"
	"github.com/jensholdgaard/auction-settlement/internal/clock"
	"github.com/jensholdgaard/auction-settlement/internal/event"
	"github.com/jensholdgaard/auction-settlement/internal/store"
)

// PaymentRepo implements store.PaymentRepository with sqlx. Every saved
// payment also records a payment.scheduled event in the same transaction.
type PaymentRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewPaymentRepo returns a new PaymentRepo.
func NewPaymentRepo(db *sqlx.DB, clk clock.Clock) *PaymentRepo {
	return &PaymentRepo{db: db, clock: clk}
}

func (r *PaymentRepo) Save(ctx context.Context, p auction.Payment) error {
	e, err := event.New(p.ID, event.PaymentScheduled, event.PaymentScheduledData{
		PaymentID: p.ID,
		Amount:    p.Amount.String(),
		DueDate:   p.DueDate,
	}, r.clock.Now().UTC())
	if err != nil {
		return store.Fail("building payment event", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return store.Fail("beginning transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO payments (id, auction_id, amount, due_date) VALUES ($1, $2, $3, $4)`,
		p.ID, p.AuctionID, p.Amount, p.DueDate.Format("2006-01-02"),
	)
	if err != nil {
		return store.Fail("inserting payment", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (aggregate_id, type, data, version, created_at) VALUES ($1, $2, $3, $4, $5)`,
		e.AggregateID, e.Type, string(e.Data), e.Version, e.CreatedAt,
	)
	if err != nil {
		return store.Fail("inserting payment event", err)
	}

	return store.Fail("committing payment", tx.Commit())
}

func (r *PaymentRepo) List(ctx context.Context) ([]auction.Payment, error) {
	var payments []auction.Payment
	err := r.db.SelectContext(ctx, &payments,
		`SELECT id, auction_id, amount, due_date FROM payments ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, store.Fail("listing payments", err)
	}
	return payments, nil
}
