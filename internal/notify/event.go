package notify

import (
	"context"

	"github.com/jensholdgaard/auction-settlement/internal/auction"
	"github.com/jensholdgaard/auction-settlement/internal/clock"
	"github.com/jensholdgaard/auction-settlement/internal/event"
)

// Events records an auction.closed event per closing, turning the event
// store into an outbox that downstream consumers read.
type Events struct {
	store     event.Store
	evaluator auction.Evaluator
	clock     clock.Clock
}

// NewEvents returns an Events notifier.
func NewEvents(s event.Store, ev auction.Evaluator, clk clock.Clock) *Events {
	return &Events{store: s, evaluator: ev, clock: clk}
}

func (n *Events) Notify(ctx context.Context, a *auction.Auction) error {
	data := event.AuctionClosedData{
		Description: a.Description,
		Bids:        a.BidCount(),
		ClosedAt:    n.clock.Now().UTC(),
	}
	if a.ClosedAt != nil {
		data.ClosedAt = a.ClosedAt.UTC()
	}
	if w, err := n.evaluator.Evaluate(a); err == nil {
		data.Winner = w.Bidder.Name
		data.Amount = w.Amount.String()
	}

	e, err := event.New(a.ID, event.AuctionClosed, data, n.clock.Now().UTC())
	if err != nil {
		return &NotificationError{Notifier: "event", AuctionID: a.ID, Err: err}
	}
	if err := n.store.Append(ctx, e); err != nil {
		return &NotificationError{Notifier: "event", AuctionID: a.ID, Err: err}
	}
	return nil
}
