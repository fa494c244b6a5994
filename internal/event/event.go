package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	AuctionClosed    Type = "auction.closed"
	PaymentScheduled Type = "payment.scheduled"
)

// Event represents a single domain event.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	Version     int             `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// AuctionClosedData is the payload for AuctionClosed events.
// Winner and Amount are empty when the auction closed without bids.
type AuctionClosedData struct {
	Description string    `json:"description"`
	Winner      string    `json:"winner,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	Bids        int       `json:"bids"`
	ClosedAt    time.Time `json:"closed_at"`
}

// PaymentScheduledData is the payload for PaymentScheduled events.
type PaymentScheduledData struct {
	PaymentID string    `json:"payment_id"`
	Amount    string    `json:"amount"`
	DueDate   time.Time `json:"due_date"`
}

// Store persists and retrieves events.
type Store interface {
	// Append persists one or more events atomically.
	Append(ctx context.Context, events ...Event) error
	// Load returns all events for an aggregate, ordered by version.
	Load(ctx context.Context, aggregateID string) ([]Event, error)
	// LoadByType returns events filtered by type, oldest first.
	LoadByType(ctx context.Context, eventType Type) ([]Event, error)
}

// New builds an event with data marshalled to JSON.
func New(aggregateID string, t Type, data any, at time.Time) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshalling %s payload: %w", t, err)
	}
	return Event{
		AggregateID: aggregateID,
		Type:        t,
		Data:        raw,
		Version:     1,
		CreatedAt:   at,
	}, nil
}
