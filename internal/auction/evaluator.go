package auction

// Evaluator picks the winning bid of an auction.
type Evaluator interface {
	Evaluate(a *Auction) (Bid, error)
}

// HighestBid is the default Evaluator: the highest amount wins and, among
// equal amounts, the bid recorded first.
type HighestBid struct{}

// Evaluate returns the winning bid, or ErrEmptyAuction if there are none.
func (HighestBid) Evaluate(a *Auction) (Bid, error) {
	bids := a.Snapshot()
	if len(bids) == 0 {
		return Bid{}, ErrEmptyAuction
	}

	winner := bids[0]
	for _, b := range bids[1:] {
		// Strictly greater keeps the earliest bid on ties.
		if b.Amount.GreaterThan(winner.Amount) {
			winner = b
		}
	}
	return winner, nil
}
