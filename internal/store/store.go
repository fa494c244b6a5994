package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jensholdgaard/auction-settlement/internal/auction"
)

// ErrPersistence matches every PersistenceError via errors.Is.
var ErrPersistence = errors.New("persistence failure")

// Update errors. Both arrive wrapped in a PersistenceError.
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrAuctionOpen     = errors.New("auction is still open")
)

// PersistenceError reports a failed repository operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrPersistence) match any PersistenceError.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Fail wraps err in a PersistenceError for op. A nil err stays nil.
func Fail(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// AuctionRepository defines auction persistence operations.
type AuctionRepository interface {
	// Save stores a new auction together with its bids.
	Save(ctx context.Context, a *auction.Auction) error
	// Current returns the auctions that are still open, oldest first.
	Current(ctx context.Context) ([]*auction.Auction, error)
	// Closed returns the closed auctions, oldest first.
	Closed(ctx context.Context) ([]*auction.Auction, error)
	// Update records that an existing open auction has been closed.
	// It never reopens an auction: an open a yields ErrAuctionOpen and an
	// auction already closed in the store yields auction.ErrAuctionClosed.
	Update(ctx context.Context, a *auction.Auction) error
}

// PaymentRepository defines payment persistence operations.
type PaymentRepository interface {
	Save(ctx context.Context, p auction.Payment) error
	List(ctx context.Context) ([]auction.Payment, error)
}
