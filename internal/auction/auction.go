package auction

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/jensholdgaard/auction-settlement/internal/auction")

// Errors returned by auction operations.
var (
	ErrAuctionClosed = errors.New("auction is closed")
	ErrNegativeBid   = errors.New("bid amount must not be negative")
	ErrBidPrecision  = errors.New("bid amount has more than two decimal places")
	ErrEmptyAuction  = errors.New("auction has no bids")
)

// User is a bidder. Users carry no behavior here.
type User struct {
	Name string `json:"name"`
}

// Bid is a single offer on an auction.
type Bid struct {
	Bidder   User            `json:"bidder"`
	Amount   decimal.Decimal `json:"amount"`
	PlacedAt time.Time       `json:"placed_at"`
}

// Auction is the aggregate root for a single item auction.
// Bids are kept in the order they were recorded. Once closed, an auction
// stays closed and its bids can no longer change.
// It is safe for concurrent use.
type Auction struct {
	mu sync.RWMutex

	ID          string
	Description string
	Bids        []Bid
	CreatedAt   time.Time
	Closed      bool
	ClosedAt    *time.Time
}

// New creates an open auction with no bids.
func New(id, description string, createdAt time.Time) *Auction {
	return &Auction{
		ID:          id,
		Description: description,
		CreatedAt:   createdAt,
	}
}

// MoneyPlaces is the number of decimal places a monetary amount may carry.
const MoneyPlaces = 2

// AddBid appends a bid to an open auction.
func (a *Auction) AddBid(b Bid) error {
	if b.Amount.IsNegative() {
		return ErrNegativeBid
	}
	if !b.Amount.Equal(b.Amount.Truncate(MoneyPlaces)) {
		return ErrBidPrecision
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Closed {
		return ErrAuctionClosed
	}
	a.Bids = append(a.Bids, b)
	return nil
}

// Close marks the auction as closed at the given time.
// Closing an already-closed auction returns ErrAuctionClosed.
func (a *Auction) Close(ctx context.Context, at time.Time) error {
	_, span := tracer.Start(ctx, "Auction.Close",
		trace.WithAttributes(attribute.String("auction.id", a.ID)),
	)
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Closed {
		return ErrAuctionClosed
	}
	a.Closed = true
	a.ClosedAt = &at
	return nil
}

// IsClosed reports whether the auction has been closed. Thread-safe.
func (a *Auction) IsClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.Closed
}

// ClosedTime returns when the auction was closed, or false while it is open.
func (a *Auction) ClosedTime() (time.Time, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.Closed || a.ClosedAt == nil {
		return time.Time{}, false
	}
	return *a.ClosedAt, true
}

// BidCount returns the number of recorded bids. Thread-safe.
func (a *Auction) BidCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.Bids)
}

// Snapshot returns a copy of the bid sequence. Thread-safe.
func (a *Auction) Snapshot() []Bid {
	a.mu.RLock()
	defer a.mu.RUnlock()
	bids := make([]Bid, len(a.Bids))
	copy(bids, a.Bids)
	return bids
}
