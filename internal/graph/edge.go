// Package graph models exchange quotes as a directed currency graph and finds
// negative-weight cycles in it.
package graph

import (
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// Meta is the provenance and liquidity attached to an edge.
type Meta struct {
	Volume         float64         // liquidity available at the rate
	VolumeCurrency domain.Currency // currency Volume is denominated in
	Pair           domain.Pair     // market the quote came from
	Side           domain.QuoteSide
	Exchange       domain.Exchange
	Timestamp      time.Time
}

// Edge is an immutable conversion quote from one currency to another. Rate
// and weight are set together by NewEdge and cannot drift apart.
type Edge struct {
	Meta
	rate   float64
	weight float64
}

// NewEdge builds an edge with weight -log2(rate).
func NewEdge(rate float64, meta Meta) (Edge, error) {
	if !(rate > 0) || math.IsInf(rate, 0) {
		return Edge{}, fmt.Errorf("graph: edge rate %v: %w", rate, domain.ErrInvalidQuote)
	}
	return Edge{Meta: meta, rate: rate, weight: -math.Log2(rate)}, nil
}

// Rate is units of destination per unit of source.
func (e Edge) Rate() float64 { return e.rate }

// Weight is -log2(Rate).
func (e Edge) Weight() float64 { return e.weight }

// QuoteEdges derives the two edges a quote contributes. For pair A/B the
// forward edge A->B sells A at the bid; the reverse edge B->A buys A at the
// ask with rate 1/ask. Both volumes are in A.
func QuoteEdges(q domain.Quote, ts time.Time) (forward, reverse Edge, err error) {
	if err := q.Validate(); err != nil {
		return Edge{}, Edge{}, err
	}
	forward, err = NewEdge(q.Bid, Meta{
		Volume:         q.BidVolume,
		VolumeCurrency: q.Pair.Base,
		Pair:           q.Pair,
		Side:           domain.QuoteSideBid,
		Exchange:       q.Exchange,
		Timestamp:      ts,
	})
	if err != nil {
		return Edge{}, Edge{}, err
	}
	reverse, err = NewEdge(1/q.Ask, Meta{
		Volume:         q.AskVolume,
		VolumeCurrency: q.Pair.Base,
		Pair:           q.Pair,
		Side:           domain.QuoteSideAsk,
		Exchange:       q.Exchange,
		Timestamp:      ts,
	})
	if err != nil {
		return Edge{}, Edge{}, err
	}
	return forward, reverse, nil
}
