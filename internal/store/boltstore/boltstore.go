// Package boltstore provides the "bolt" store driver: an embedded BoltDB
// file holding auctions, payments and events as JSON values. It needs no
// database server and suits single-replica deployments.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/jensholdgaard/auction-settlement/internal/auction"
	"github.com/jensholdgaard/auction-settlement/internal/clock"
	"github.com/jensholdgaard/auction-settlement/internal/config"
	"github.com/jensholdgaard/auction-settlement/internal/event"
	"github.com/jensholdgaard/auction-settlement/internal/store"
)

var (
	auctionsBucket = []byte("auctions")
	paymentsBucket = []byte("payments")
	eventsBucket   = []byte("events")
)

// Errors returned by the bolt repositories.
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

func init() {
	store.Register("bolt", openBolt)
}

func openBolt(_ context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
	s, err := Open(cfg.Path, clk)
	if err != nil {
		return nil, err
	}
	return &store.Repositories{
		Auctions: s.Auctions(),
		Payments: s.Payments(),
		Events:   s.Events(),
		Closer:   s,
		Ping:     s.Ping,
	}, nil
}

// Store wraps a BoltDB database.
type Store struct {
	db    *bolt.DB
	clock clock.Clock
}

// Open opens (or creates) the database file at path and ensures all buckets
// exist.
func Open(path string, clk clock.Clock) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{auctionsBucket, paymentsBucket, eventsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, clock: clk}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is still open.
func (s *Store) Ping(_ context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(auctionsBucket) == nil {
			return fmt.Errorf("bucket %s missing", auctionsBucket)
		}
		return nil
	})
}

// Auctions returns the auction repository.
func (s *Store) Auctions() *AuctionRepo { return &AuctionRepo{s: s} }

// Payments returns the payment repository.
func (s *Store) Payments() *PaymentRepo { return &PaymentRepo{s: s} }

// Events returns the event store.
func (s *Store) Events() *EventStore { return &EventStore{s: s} }

type auctionRecord struct {
	ID          string        `json:"id"`
	Description string        `json:"description"`
	Bids        []auction.Bid `json:"bids"`
	CreatedAt   time.Time     `json:"created_at"`
	Closed      bool          `json:"closed"`
	ClosedAt    *time.Time    `json:"closed_at,omitempty"`
}

func recordOf(a *auction.Auction) auctionRecord {
	return auctionRecord{
		ID:          a.ID,
		Description: a.Description,
		Bids:        a.Snapshot(),
		CreatedAt:   a.CreatedAt,
		Closed:      a.IsClosed(),
		ClosedAt:    a.ClosedAt,
	}
}

func (r auctionRecord) toAuction() *auction.Auction {
	a := auction.New(r.ID, r.Description, r.CreatedAt)
	a.Bids = r.Bids
	a.Closed = r.Closed
	a.ClosedAt = r.ClosedAt
	return a
}

// AuctionRepo implements store.AuctionRepository on bolt.
type AuctionRepo struct {
	s *Store
}

func (r *AuctionRepo) Save(_ context.Context, a *auction.Auction) error {
	data, err := json.Marshal(recordOf(a))
	if err != nil {
		return store.Fail("encoding auction", err)
	}
	err = r.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(auctionsBucket)
		if b.Get([]byte(a.ID)) != nil {
			return fmt.Errorf("auction %s: %w", a.ID, ErrDuplicate)
		}
		return b.Put([]byte(a.ID), data)
	})
	return store.Fail("saving auction", err)
}

func (r *AuctionRepo) Current(_ context.Context) ([]*auction.Auction, error) {
	return r.list(false)
}

func (r *AuctionRepo) Closed(_ context.Context) ([]*auction.Auction, error) {
	return r.list(true)
}

// Update overwrites the stored closed state. Bids are not rewritten.
// Update records the close of a. A record already closed is left as is.
func (r *AuctionRepo) Update(_ context.Context, a *auction.Auction) error {
	at, ok := a.ClosedTime()
	if !ok {
		return store.Fail("updating auction "+a.ID, store.ErrAuctionOpen)
	}

	err := r.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(auctionsBucket)
		existing := b.Get([]byte(a.ID))
		if existing == nil {
			return fmt.Errorf("auction %s: %w", a.ID, ErrNotFound)
		}
		var rec auctionRecord
		if err := json.Unmarshal(existing, &rec); err != nil {
			return fmt.Errorf("decoding auction %s: %w", a.ID, err)
		}
		if rec.Closed {
			return fmt.Errorf("auction %s: %w", a.ID, auction.ErrAuctionClosed)
		}
		rec.Closed = true
		rec.ClosedAt = &at
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(a.ID), data)
	})
	return store.Fail("updating auction", err)
}

func (r *AuctionRepo) list(closed bool) ([]*auction.Auction, error) {
	var records []auctionRecord
	err := r.s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(auctionsBucket).ForEach(func(k, v []byte) error {
			var rec auctionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decoding auction %s: %w", k, err)
			}
			if rec.Closed == closed {
				records = append(records, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, store.Fail("listing auctions", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})

	auctions := make([]*auction.Auction, 0, len(records))
	for _, rec := range records {
		auctions = append(auctions, rec.toAuction())
	}
	return auctions, nil
}

// PaymentRepo implements store.PaymentRepository on bolt. A payment.scheduled
// event is written in the same transaction as the payment.
type PaymentRepo struct {
	s *Store
}

type paymentRecord struct {
	auction.Payment
	CreatedAt time.Time `json:"created_at"`
}

func (r *PaymentRepo) Save(_ context.Context, p auction.Payment) error {
	now := r.s.clock.Now().UTC()
	e, err := event.New(p.ID, event.PaymentScheduled, event.PaymentScheduledData{
		PaymentID: p.ID,
		Amount:    p.Amount.String(),
		DueDate:   p.DueDate,
	}, now)
	if err != nil {
		return store.Fail("building payment event", err)
	}

	data, err := json.Marshal(paymentRecord{Payment: p, CreatedAt: now})
	if err != nil {
		return store.Fail("encoding payment", err)
	}

	err = r.s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(auctionsBucket).Get([]byte(p.AuctionID)) == nil {
			return fmt.Errorf("auction %s: %w", p.AuctionID, ErrNotFound)
		}
		b := tx.Bucket(paymentsBucket)
		if b.Get([]byte(p.ID)) != nil {
			return fmt.Errorf("payment %s: %w", p.ID, ErrDuplicate)
		}
		if err := b.Put([]byte(p.ID), data); err != nil {
			return err
		}
		return appendEvent(tx, e)
	})
	return store.Fail("saving payment", err)
}

func (r *PaymentRepo) List(_ context.Context) ([]auction.Payment, error) {
	var records []paymentRecord
	err := r.s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(paymentsBucket).ForEach(func(_, v []byte) error {
			var rec paymentRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, store.Fail("listing payments", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	payments := make([]auction.Payment, 0, len(records))
	for _, rec := range records {
		payments = append(payments, rec.Payment)
	}
	return payments, nil
}

// EventStore implements event.Store on bolt. Keys are the bucket sequence,
// so iteration order is append order.
type EventStore struct {
	s *Store
}

func (es *EventStore) Append(_ context.Context, events ...event.Event) error {
	return es.s.db.Update(func(tx *bolt.Tx) error {
		for _, e := range events {
			if e.CreatedAt.IsZero() {
				e.CreatedAt = es.s.clock.Now().UTC()
			}
			if err := appendEvent(tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (es *EventStore) Load(_ context.Context, aggregateID string) ([]event.Event, error) {
	events, err := es.filter(func(e event.Event) bool { return e.AggregateID == aggregateID })
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Version < events[j].Version })
	return events, nil
}

func (es *EventStore) LoadByType(_ context.Context, eventType event.Type) ([]event.Event, error) {
	events, err := es.filter(func(e event.Event) bool { return e.Type == eventType })
	if err != nil {
		return nil, fmt.Errorf("loading events by type: %w", err)
	}
	return events, nil
}

func (es *EventStore) filter(keep func(event.Event) bool) ([]event.Event, error) {
	var events []event.Event
	err := es.s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(eventsBucket).ForEach(func(_, v []byte) error {
			var e event.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if keep(e) {
				events = append(events, e)
			}
			return nil
		})
	})
	return events, err
}

func appendEvent(tx *bolt.Tx, e event.Event) error {
	b := tx.Bucket(eventsBucket)
	seq, err := b.NextSequence()
	if err != nil {
		return fmt.Errorf("allocating event id: %w", err)
	}
	e.ID = strconv.FormatUint(seq, 10)

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return b.Put(key, data)
}
