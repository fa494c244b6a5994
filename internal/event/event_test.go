package event_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jensholdgaard/auction-settlement/internal/event"
)

func TestNew(t *testing.T) {
	at := time.Date(2012, 4, 9, 0, 0, 0, 0, time.UTC)
	e, err := event.New("pay-1", event.PaymentScheduled, event.PaymentScheduledData{
		PaymentID: "pay-1",
		Amount:    "2500",
		DueDate:   at,
	}, at)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if e.AggregateID != "pay-1" {
		t.Errorf("AggregateID = %q, want %q", e.AggregateID, "pay-1")
	}
	if e.Type != event.PaymentScheduled {
		t.Errorf("Type = %q, want %q", e.Type, event.PaymentScheduled)
	}
	if e.Version != 1 {
		t.Errorf("Version = %d, want 1", e.Version)
	}

	var got event.PaymentScheduledData
	if err := json.Unmarshal(e.Data, &got); err != nil {
		t.Fatalf("unmarshalling data: %v", err)
	}
	if got.Amount != "2500" || !got.DueDate.Equal(at) {
		t.Errorf("data = %+v", got)
	}
}

func TestNew_UnmarshallablePayload(t *testing.T) {
	if _, err := event.New("a1", event.AuctionClosed, make(chan int), time.Now()); err == nil {
		t.Fatal("expected error for unmarshallable payload")
	}
}
