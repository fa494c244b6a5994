package batch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auction-settlement/internal/auction"
	"github.com/jensholdgaard/auction-settlement/internal/notify"
	"github.com/jensholdgaard/auction-settlement/internal/store"
)

var errBackend = errors.New("backend unavailable")

// callLog records collaborator calls in the order they happen.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) count(call string) int {
	n := 0
	for _, c := range l.snapshot() {
		if c == call {
			n++
		}
	}
	return n
}

func (l *callLog) index(call string) int {
	for i, c := range l.snapshot() {
		if c == call {
			return i
		}
	}
	return -1
}

type fakeAuctions struct {
	log        *callLog
	current    []*auction.Auction
	closed     []*auction.Auction
	listErr    error
	updateErrs map[string]error
}

func (f *fakeAuctions) Save(context.Context, *auction.Auction) error { return nil }

func (f *fakeAuctions) Current(context.Context) ([]*auction.Auction, error) {
	f.log.add("current")
	if f.listErr != nil {
		return nil, store.Fail("listing auctions", f.listErr)
	}
	return f.current, nil
}

func (f *fakeAuctions) Closed(context.Context) ([]*auction.Auction, error) {
	f.log.add("closed")
	if f.listErr != nil {
		return nil, store.Fail("listing auctions", f.listErr)
	}
	return f.closed, nil
}

func (f *fakeAuctions) Update(_ context.Context, a *auction.Auction) error {
	f.log.add("update:" + a.ID)
	if err := f.updateErrs[a.ID]; err != nil {
		return store.Fail("updating auction", err)
	}
	return nil
}

type fakeNotifier struct {
	log  *callLog
	errs map[string]error
}

func (f *fakeNotifier) Notify(_ context.Context, a *auction.Auction) error {
	f.log.add("notify:" + a.ID)
	if err := f.errs[a.ID]; err != nil {
		return &notify.NotificationError{Notifier: "fake", AuctionID: a.ID, Err: err}
	}
	return nil
}

type fakePayments struct {
	mu       sync.Mutex
	saved    []auction.Payment
	attempts int
	// failOn makes the n-th Save call (1-based) fail.
	failOn int
}

func (f *fakePayments) Save(_ context.Context, p auction.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts == f.failOn {
		return store.Fail("inserting payment", errBackend)
	}
	f.saved = append(f.saved, p)
	return nil
}

func (f *fakePayments) List(context.Context) ([]auction.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]auction.Payment(nil), f.saved...), nil
}

func newAuction(t *testing.T, id string, createdAt time.Time, amounts ...int64) *auction.Auction {
	t.Helper()
	a := auction.New(id, "item "+id, createdAt)
	for _, amt := range amounts {
		err := a.AddBid(auction.Bid{
			Bidder: auction.User{Name: "bidder"},
			Amount: decimal.NewFromInt(amt),
		})
		if err != nil {
			t.Fatalf("AddBid: %v", err)
		}
	}
	return a
}

func closedAuction(t *testing.T, id string, amounts ...int64) *auction.Auction {
	t.Helper()
	created := time.Date(2012, 3, 1, 0, 0, 0, 0, time.UTC)
	a := newAuction(t, id, created, amounts...)
	if err := a.Close(context.Background(), created.AddDate(0, 0, 7)); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return a
}
