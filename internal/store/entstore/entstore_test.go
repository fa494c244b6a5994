package entstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jensholdgaard/auction-settlement/internal/auction"
	"github.com/jensholdgaard/auction-settlement/internal/clock"
	"github.com/jensholdgaard/auction-settlement/internal/config"
	"github.com/jensholdgaard/auction-settlement/internal/event"
	"github.com/jensholdgaard/auction-settlement/internal/store"
	_ "github.com/jensholdgaard/auction-settlement/internal/store/entstore"
)

var testClk = clock.Mock{T: time.Date(2012, 4, 7, 9, 0, 0, 0, time.UTC)}

// openRepos starts Postgres and opens it through the "ent" driver.
func openRepos(t *testing.T) *store.Repositories {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("settler_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}

	host, err := ctr.Host(ctx)
	if err != nil {
		t.Fatalf("getting host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("getting port: %v", err)
	}

	repos, err := store.Open(ctx, config.DatabaseConfig{
		Driver:   "ent",
		Host:     host,
		Port:     port.Int(),
		User:     "test",
		Password: "test",
		DBName:   "settler_test",
		SSLMode:  "disable",
	}, testClk)
	if err != nil {
		t.Fatalf("store.Open(ent): %v", err)
	}
	t.Cleanup(func() { repos.Closer.Close() })
	return repos
}

func TestEntStore_Lifecycle(t *testing.T) {
	repos := openRepos(t)
	ctx := context.Background()

	if err := repos.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	a := auction.New("a1", "Playstation", time.Date(2012, 3, 1, 8, 0, 0, 0, time.UTC))
	for _, amt := range []int64{2000, 2500} {
		if err := a.AddBid(auction.Bid{Bidder: auction.User{Name: "jose"}, Amount: decimal.NewFromInt(amt)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := repos.Auctions.Save(ctx, a); err != nil {
		t.Fatalf("Save: %v", err)
	}

	open, err := repos.Auctions.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if len(open) != 1 || open[0].BidCount() != 2 {
		t.Fatalf("Current = %d auctions, want 1 with 2 bids", len(open))
	}
	if !open[0].Snapshot()[1].Amount.Equal(decimal.NewFromInt(2500)) {
		t.Errorf("second bid = %s, want 2500", open[0].Snapshot()[1].Amount)
	}

	if err := open[0].Close(ctx, testClk.Now()); err != nil {
		t.Fatal(err)
	}
	if err := repos.Auctions.Update(ctx, open[0]); err != nil {
		t.Fatalf("Update: %v", err)
	}

	closed, err := repos.Auctions.Closed(ctx)
	if err != nil {
		t.Fatalf("Closed: %v", err)
	}
	if len(closed) != 1 || closed[0].ClosedAt == nil {
		t.Fatalf("Closed = %+v, want one auction with closed_at", closed)
	}
	if rest, _ := repos.Auctions.Current(ctx); len(rest) != 0 {
		t.Errorf("Current after close = %d auctions, want 0", len(rest))
	}

	p := auction.NewPayment("a1", decimal.NewFromInt(2500), time.Date(2012, 4, 9, 0, 0, 0, 0, time.UTC))
	if err := repos.Payments.Save(ctx, p); err != nil {
		t.Fatalf("Save payment: %v", err)
	}
	payments, err := repos.Payments.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(payments) != 1 || payments[0].ID != p.ID {
		t.Errorf("payments = %+v, want %s", payments, p.ID)
	}

	scheduled, err := repos.Events.LoadByType(ctx, event.PaymentScheduled)
	if err != nil {
		t.Fatalf("LoadByType: %v", err)
	}
	if len(scheduled) != 1 || !scheduled[0].CreatedAt.Equal(testClk.Now()) {
		t.Errorf("payment.scheduled events = %+v", scheduled)
	}
}

func TestEntStore_UpdateUnknownAuction(t *testing.T) {
	repos := openRepos(t)

	a := auction.New("ghost", "never saved", testClk.Now())
	if err := a.Close(context.Background(), testClk.Now()); err != nil {
		t.Fatal(err)
	}
	err := repos.Auctions.Update(context.Background(), a)
	if !errors.Is(err, store.ErrPersistence) {
		t.Fatalf("Update() error = %v, want persistence error", err)
	}
	if !errors.Is(err, store.ErrAuctionNotFound) {
		t.Errorf("Update() error = %v, want %v", err, store.ErrAuctionNotFound)
	}
}

func TestEntStore_UpdateIsCloseOnly(t *testing.T) {
	repos := openRepos(t)
	ctx := context.Background()
	created := time.Date(2012, 3, 1, 8, 0, 0, 0, time.UTC)

	if err := repos.Auctions.Save(ctx, auction.New("a1", "TV", created)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	stale, err := repos.Auctions.Current(ctx)
	if err != nil || len(stale) != 1 {
		t.Fatalf("Current = %v, %v; want one auction", stale, err)
	}

	fresh, _ := repos.Auctions.Current(ctx)
	if err := fresh[0].Close(ctx, testClk.Now()); err != nil {
		t.Fatal(err)
	}
	if err := repos.Auctions.Update(ctx, fresh[0]); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := repos.Auctions.Update(ctx, stale[0]); !errors.Is(err, store.ErrAuctionOpen) {
		t.Errorf("Update(open copy) error = %v, want %v", err, store.ErrAuctionOpen)
	}
	if err := repos.Auctions.Update(ctx, fresh[0]); !errors.Is(err, auction.ErrAuctionClosed) {
		t.Errorf("Update(closed twice) error = %v, want %v", err, auction.ErrAuctionClosed)
	}

	closed, err := repos.Auctions.Closed(ctx)
	if err != nil {
		t.Fatalf("Closed: %v", err)
	}
	if len(closed) != 1 || !closed[0].ClosedAt.Equal(testClk.Now()) {
		t.Fatalf("Closed = %+v, want a1 closed at %v", closed, testClk.Now())
	}
}
