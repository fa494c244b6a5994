package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auction-settlement/internal/auction"
	"github.com/jensholdgaard/auction-settlement/internal/store"
)

// ErrAuctionNotFound is returned by Update when no row matches the auction ID.
var ErrAuctionNotFound = store.ErrAuctionNotFound

type auctionRow struct {
	ID          string     `db:"id"`
	Description string     `db:"description"`
	CreatedAt   time.Time  `db:"created_at"`
	Closed      bool       `db:"closed"`
	ClosedAt    *time.Time `db:"closed_at"`
}

type bidRow struct {
	AuctionID string          `db:"auction_id"`
	Seq       int             `db:"seq"`
	Bidder    string          `db:"bidder"`
	Amount    decimal.Decimal `db:"amount"`
	PlacedAt  time.Time       `db:"placed_at"`
}

// AuctionRepo implements store.AuctionRepository with sqlx.
type AuctionRepo struct {
	db *sqlx.DB
}

// NewAuctionRepo returns a new AuctionRepo.
func NewAuctionRepo(db *sqlx.DB) *AuctionRepo {
	return &AuctionRepo{db: db}
}

func (r *AuctionRepo) Save(ctx context.Context, a *auction.Auction) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return store.Fail("beginning transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO auctions (id, description, created_at, closed, closed_at) VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.Description, a.CreatedAt.UTC(), a.IsClosed(), a.ClosedAt,
	)
	if err != nil {
		return store.Fail("inserting auction", err)
	}

	for i, b := range a.Snapshot() {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO bids (auction_id, seq, bidder, amount, placed_at) VALUES ($1, $2, $3, $4, $5)`,
			a.ID, i, b.Bidder.Name, b.Amount, b.PlacedAt.UTC(),
		)
		if err != nil {
			return store.Fail("inserting bid", err)
		}
	}

	return store.Fail("committing auction", tx.Commit())
}

func (r *AuctionRepo) Current(ctx context.Context) ([]*auction.Auction, error) {
	return r.list(ctx, false)
}

func (r *AuctionRepo) Closed(ctx context.Context) ([]*auction.Auction, error) {
	return r.list(ctx, true)
}

// Update stamps the close of a. Only the open-to-closed transition is
// written, so a stale open copy can never reopen a closed row.
func (r *AuctionRepo) Update(ctx context.Context, a *auction.Auction) error {
	at, ok := a.ClosedTime()
	if !ok {
		return store.Fail("updating auction "+a.ID, store.ErrAuctionOpen)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE auctions SET closed = TRUE, closed_at = $1 WHERE id = $2 AND closed = FALSE`,
		at.UTC(), a.ID,
	)
	if err != nil {
		return store.Fail("updating auction", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return store.Fail("updating auction "+a.ID, err)
	}
	if n > 0 {
		return nil
	}

	var closed bool
	err = r.db.GetContext(ctx, &closed, `SELECT closed FROM auctions WHERE id = $1`, a.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return store.Fail("updating auction "+a.ID, ErrAuctionNotFound)
	case err != nil:
		return store.Fail("updating auction", err)
	default:
		return store.Fail("updating auction", fmt.Errorf("auction %s: %w", a.ID, auction.ErrAuctionClosed))
	}
}

func (r *AuctionRepo) list(ctx context.Context, closed bool) ([]*auction.Auction, error) {
	var rows []auctionRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, description, created_at, closed, closed_at
		 FROM auctions WHERE closed = $1 ORDER BY created_at ASC, id ASC`, closed)
	if err != nil {
		return nil, store.Fail("listing auctions", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}

	var bids []bidRow
	err = r.db.SelectContext(ctx, &bids,
		`SELECT auction_id, seq, bidder, amount, placed_at
		 FROM bids WHERE auction_id = ANY($1) ORDER BY auction_id, seq`, pq.Array(ids))
	if err != nil {
		return nil, store.Fail("listing bids", err)
	}

	byAuction := make(map[string][]auction.Bid, len(rows))
	for _, b := range bids {
		byAuction[b.AuctionID] = append(byAuction[b.AuctionID], auction.Bid{
			Bidder:   auction.User{Name: b.Bidder},
			Amount:   b.Amount,
			PlacedAt: b.PlacedAt,
		})
	}

	auctions := make([]*auction.Auction, 0, len(rows))
	for _, row := range rows {
		a := auction.New(row.ID, row.Description, row.CreatedAt)
		a.Bids = byAuction[row.ID]
		a.Closed = row.Closed
		a.ClosedAt = row.ClosedAt
		auctions = append(auctions, a)
	}
	return auctions, nil
}
