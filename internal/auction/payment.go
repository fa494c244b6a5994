package auction

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment is the amount owed by an auction winner and the date it is due.
type Payment struct {
	ID        string          `json:"id" db:"id"`
	AuctionID string          `json:"auction_id" db:"auction_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	DueDate   time.Time       `json:"due_date" db:"due_date"`
}

// NewPayment creates a payment with a fresh identifier.
func NewPayment(auctionID string, amount decimal.Decimal, dueDate time.Time) Payment {
	return Payment{
		ID:        uuid.NewString(),
		AuctionID: auctionID,
		Amount:    amount,
		DueDate:   dueDate,
	}
}
