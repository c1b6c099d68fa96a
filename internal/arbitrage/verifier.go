package arbitrage

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/cyclearb/internal/domain"
	"github.com/alanyoungcy/cyclearb/internal/graph"
)

// TrimCycle drops trailing nodes from a traceback path until it ends on its
// first node. Paths that cannot be closed, or that close on fewer than two
// legs, are rejected with ErrInvalidCycle.
func TrimCycle(path []domain.Currency) ([]domain.Currency, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("arbitrage: trim empty path: %w", domain.ErrInvalidCycle)
	}
	end := len(path) - 1
	for end > 0 && path[end] != path[0] {
		end--
	}
	if end < 2 {
		return nil, fmt.Errorf("arbitrage: trim %v: %w", path, domain.ErrInvalidCycle)
	}
	return append([]domain.Currency(nil), path[:end+1]...), nil
}

// Verifier scores a detected cycle and rejects the unprofitable ones.
type Verifier struct {
	minPct float64
}

// NewVerifier returns a verifier accepting cycles whose percent growth is at
// least minPct.
func NewVerifier(minPct float64) *Verifier {
	return &Verifier{minPct: minPct}
}

// MinPercent returns the acceptance threshold.
func (v *Verifier) MinPercent() float64 { return v.minPct }

// Verify trims the path and walks it over the snapshot. A missing edge
// yields ErrNotFound. Rejections return ErrNotProfitable or ErrBelowThreshold
// together with the scored opportunity so callers can log it.
func (v *Verifier) Verify(s *graph.Snapshot, path []domain.Currency) (domain.Opportunity, error) {
	cycle, err := TrimCycle(path)
	if err != nil {
		return domain.Opportunity{}, err
	}

	opp := domain.Opportunity{
		Source:           cycle[0],
		Cycle:            cycle,
		Exchanges:        make([]domain.Exchange, 0, len(cycle)-1),
		ProductRate:      1,
		BottleneckVolume: math.Inf(1),
	}
	for i := 0; i+1 < len(cycle); i++ {
		e, err := s.Edge(cycle[i], cycle[i+1])
		if err != nil {
			return domain.Opportunity{}, fmt.Errorf("arbitrage: verify leg %d: %w", i, err)
		}
		opp.SumWeight += e.Weight()
		opp.ProductRate *= e.Rate()
		opp.BottleneckVolume = math.Min(opp.BottleneckVolume, e.Volume)
		opp.Exchanges = append(opp.Exchanges, e.Exchange)
	}
	opp.PercentGrowth = (opp.ProductRate - 1) * 100

	if opp.SumWeight >= 0 {
		return opp, fmt.Errorf("arbitrage: cycle %v weight %.6g: %w", cycle, opp.SumWeight, domain.ErrNotProfitable)
	}
	if opp.PercentGrowth < v.minPct {
		return opp, fmt.Errorf("arbitrage: cycle %v growth %.4f%% < %.4f%%: %w",
			cycle, opp.PercentGrowth, v.minPct, domain.ErrBelowThreshold)
	}
	return opp, nil
}
