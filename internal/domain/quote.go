package domain

import (
	"fmt"
	"time"
)

// Quote is the top of book for one pair on one exchange.
type Quote struct {
	Exchange  Exchange
	Pair      Pair
	Bid       float64
	Ask       float64
	BidVolume float64
	AskVolume float64
	Timestamp time.Time
}

// Validate rejects quotes that cannot produce a finite edge weight.
func (q Quote) Validate() error {
	if q.Bid <= 0 || q.Ask <= 0 {
		return fmt.Errorf("domain: quote %s %s bid=%v ask=%v: %w", q.Exchange, q.Pair, q.Bid, q.Ask, ErrInvalidQuote)
	}
	if q.BidVolume < 0 || q.AskVolume < 0 {
		return fmt.Errorf("domain: quote %s %s negative volume: %w", q.Exchange, q.Pair, ErrInvalidQuote)
	}
	return nil
}

// QuoteSide records which side of the book an edge was derived from.
type QuoteSide string

const (
	QuoteSideBid QuoteSide = "bid"
	QuoteSideAsk QuoteSide = "ask"
)
