package entstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/jensholdgaard/auction-settlement/internal/auction"
	"github.com/jensholdgaard/auction-settlement/internal/store"
)

// AuctionRepo implements store.AuctionRepository using database/sql.
type AuctionRepo struct {
	db *sql.DB
}

// NewAuctionRepo returns a new AuctionRepo.
func NewAuctionRepo(db *sql.DB) *AuctionRepo {
	return &AuctionRepo{db: db}
}

func (r *AuctionRepo) Save(ctx context.Context, a *auction.Auction) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Fail("beginning transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO auctions (id, description, created_at, closed, closed_at) VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.Description, a.CreatedAt.UTC(), a.IsClosed(), a.ClosedAt,
	); err != nil {
		return store.Fail("inserting auction", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO bids (auction_id, seq, bidder, amount, placed_at) VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return store.Fail("preparing bid insert", err)
	}
	defer stmt.Close()

	for i, b := range a.Snapshot() {
		if _, err := stmt.ExecContext(ctx, a.ID, i, b.Bidder.Name, b.Amount, b.PlacedAt.UTC()); err != nil {
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

// Update writes only the open-to-closed transition of a.
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
	err = r.db.QueryRowContext(ctx, `SELECT closed FROM auctions WHERE id = $1`, a.ID).Scan(&closed)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Fail("updating auction "+a.ID, store.ErrAuctionNotFound)
	}
	if err != nil {
		return store.Fail("updating auction", err)
	}
	return store.Fail("updating auction", fmt.Errorf("auction %s: %w", a.ID, auction.ErrAuctionClosed))
}

func (r *AuctionRepo) list(ctx context.Context, closed bool) ([]*auction.Auction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, description, created_at, closed, closed_at
		 FROM auctions WHERE closed = $1 ORDER BY created_at ASC, id ASC`, closed)
	if err != nil {
		return nil, store.Fail("listing auctions", err)
	}
	defer rows.Close()

	var (
		auctions []*auction.Auction
		ids      []string
		byID     = make(map[string]*auction.Auction)
	)
	for rows.Next() {
		var (
			id, description string
			createdAt       time.Time
			isClosed        bool
			closedAt        *time.Time
		)
		if err := rows.Scan(&id, &description, &createdAt, &isClosed, &closedAt); err != nil {
			return nil, store.Fail("scanning auction row", err)
		}
		a := auction.New(id, description, createdAt)
		a.Closed = isClosed
		a.ClosedAt = closedAt
		auctions = append(auctions, a)
		ids = append(ids, id)
		byID[id] = a
	}
	if err := rows.Err(); err != nil {
		return nil, store.Fail("listing auctions", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	bidRows, err := r.db.QueryContext(ctx,
		`SELECT auction_id, bidder, amount, placed_at
		 FROM bids WHERE auction_id = ANY($1) ORDER BY auction_id, seq`, pq.Array(ids))
	if err != nil {
		return nil, store.Fail("listing bids", err)
	}
	defer bidRows.Close()

	for bidRows.Next() {
		var (
			auctionID string
			b         auction.Bid
		)
		if err := bidRows.Scan(&auctionID, &b.Bidder.Name, &b.Amount, &b.PlacedAt); err != nil {
			return nil, store.Fail("scanning bid row", err)
		}
		if a, ok := byID[auctionID]; ok {
			a.Bids = append(a.Bids, b)
		}
	}
	if err := bidRows.Err(); err != nil {
		return nil, store.Fail("listing bids", err)
	}
	return auctions, nil
}
