// Package notify announces closed auctions to their stakeholders.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jensholdgaard/auction-settlement/internal/auction"
)

// ErrNotification matches every NotificationError via errors.Is.
var ErrNotification = errors.New("notification failure")

// NotificationError reports a failed delivery.
type NotificationError struct {
	Notifier  string
	AuctionID string
	Err       error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notifying %s about auction %s: %v", e.Notifier, e.AuctionID, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotification) match any NotificationError.
func (e *NotificationError) Is(target error) bool { return target == ErrNotification }

// Notifier delivers the news that an auction closed.
type Notifier interface {
	Notify(ctx context.Context, a *auction.Auction) error
}

// Func adapts a function into a Notifier.
type Func func(ctx context.Context, a *auction.Auction) error

func (f Func) Notify(ctx context.Context, a *auction.Auction) error { return f(ctx, a) }

// Log writes one structured log line per closed auction.
type Log struct {
	Logger    *slog.Logger
	Evaluator auction.Evaluator
}

func (l Log) Notify(ctx context.Context, a *auction.Auction) error {
	attrs := []any{
		slog.String("auction_id", a.ID),
		slog.String("description", a.Description),
		slog.Int("bids", a.BidCount()),
	}
	if w, err := l.Evaluator.Evaluate(a); err == nil {
		attrs = append(attrs,
			slog.String("winner", w.Bidder.Name),
			slog.String("amount", w.Amount.String()),
		)
	}
	l.Logger.InfoContext(ctx, "auction closed", attrs...)
	return nil
}

// Multi fans a notification out to every notifier. All of them are tried;
// failures are joined into one NotificationError.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a *auction.Auction) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &NotificationError{Notifier: "multi", AuctionID: a.ID, Err: errors.Join(errs...)}
}
