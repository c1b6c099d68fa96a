package arbitrage

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/cyclearb/internal/domain"
	"github.com/alanyoungcy/cyclearb/internal/graph"
)

// SupportedLegs is the only cycle length executed end to end.
const SupportedLegs = 2

// DefaultPriceOffset is subtracted from every synthesized limit price.
const DefaultPriceOffset = 0.0001

// Synthesizer turns a verified cycle into limit orders sized to the cycle's
// bottleneck volume.
type Synthesizer struct {
	universe *domain.Universe
	offset   float64
	now      func() time.Time
}

// NewSynthesizer creates a synthesizer. Pairs the universe lists as native
// become sells; every other hop is a buy on the reversed pair.
func NewSynthesizer(universe *domain.Universe, priceOffset float64) *Synthesizer {
	return &Synthesizer{universe: universe, offset: priceOffset, now: time.Now}
}

// Synthesize returns one order per leg in cycle order. Any result other than
// SupportedLegs orders is rejected with ErrUnsupportedCycleLength.
func (s *Synthesizer) Synthesize(snap *graph.Snapshot, cycle []domain.Currency) ([]domain.Order, error) {
	if len(cycle) < 3 || cycle[0] != cycle[len(cycle)-1] {
		return nil, fmt.Errorf("arbitrage: synthesize %v: %w", cycle, domain.ErrInvalidCycle)
	}

	edges := make([]graph.Edge, 0, len(cycle)-1)
	bottleneck := math.Inf(1)
	for i := 0; i+1 < len(cycle); i++ {
		e, err := snap.Edge(cycle[i], cycle[i+1])
		if err != nil {
			return nil, fmt.Errorf("arbitrage: synthesize leg %d: %w", i, err)
		}
		edges = append(edges, e)
		bottleneck = math.Min(bottleneck, e.Volume)
	}
	if math.IsNaN(bottleneck) || math.IsInf(bottleneck, 1) {
		return nil, fmt.Errorf("arbitrage: synthesize %v: bottleneck volume %v: %w", cycle, bottleneck, domain.ErrInvalidOrder)
	}
	if bottleneck <= 0 {
		return nil, fmt.Errorf("arbitrage: synthesize %v: no volume on the book: %w", cycle, domain.ErrNoSafeSize)
	}

	now := s.now()
	orders := make([]domain.Order, 0, len(edges))
	for i, e := range edges {
		first, second := cycle[i], cycle[i+1]
		o := domain.Order{
			ID:        uuid.NewString(),
			Exchange:  e.Exchange,
			Type:      domain.OrderTypeLimit,
			Volume:    bottleneck,
			CreatedAt: now,
		}
		if native := (domain.Pair{Base: first, Quote: second}); s.universe.IsNative(native) {
			o.Side = domain.OrderSideSell
			o.Pair = native
			o.Price = e.Rate() - s.offset
		} else {
			o.Side = domain.OrderSideBuy
			o.Pair = domain.Pair{Base: second, Quote: first}
			o.Price = 1/e.Rate() - s.offset
		}
		if o.Price <= 0 {
			return nil, fmt.Errorf("arbitrage: synthesize leg %d price %v after offset: %w", i, o.Price, domain.ErrNoSafeSize)
		}
		orders = append(orders, o)
	}

	if len(orders) != SupportedLegs {
		return nil, fmt.Errorf("arbitrage: %d-leg cycle %v: %w", len(orders), cycle, domain.ErrUnsupportedCycleLength)
	}
	return orders, nil
}
