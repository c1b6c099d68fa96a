package arbitrage

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cyclearb/internal/domain"
	"github.com/alanyoungcy/cyclearb/internal/graph"
)

func TestTrimCycle(t *testing.T) {
	tests := []struct {
		name string
		in   []domain.Currency
		want []domain.Currency
		err  bool
	}{
		{"already closed", []domain.Currency{"A", "B", "A"}, []domain.Currency{"A", "B", "A"}, false},
		{"trailing prefix", []domain.Currency{"A", "B", "C", "A", "D", "E"}, []domain.Currency{"A", "B", "C", "A"}, false},
		{"empty", nil, nil, true},
		{"single", []domain.Currency{"A"}, nil, true},
		{"never closes", []domain.Currency{"A", "B", "C"}, nil, true},
		{"degenerate", []domain.Currency{"A", "A", "B"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TrimCycle(tt.in)
			if tt.err {
				assert.ErrorIs(t, err, domain.ErrInvalidCycle)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerifyScoresCycle(t *testing.T) {
	u := testUniverse(t)
	snap := crossExchange(t, u, 5, 3)

	opp, err := NewVerifier(0.1).Verify(snap, []domain.Currency{"ETH", "USDT", "ETH"})
	require.NoError(t, err)

	assert.InDelta(t, 1.005, opp.ProductRate, 1e-12)
	assert.InDelta(t, 0.5, opp.PercentGrowth, 1e-9)
	assert.InDelta(t, -math.Log2(1.005), opp.SumWeight, 1e-12)
	assert.Equal(t, 3.0, opp.BottleneckVolume)
	assert.Equal(t, []domain.Exchange{"binance", "kraken"}, opp.Exchanges)
	assert.Equal(t, domain.Currency("ETH"), opp.Source)
}

func TestVerifyIsIdempotent(t *testing.T) {
	u := testUniverse(t)
	snap := crossExchange(t, u, 5, 3)
	v := NewVerifier(0.1)

	first, err := v.Verify(snap, []domain.Currency{"ETH", "USDT", "ETH", "BTC"})
	require.NoError(t, err)
	second, err := v.Verify(snap, first.Cycle)
	require.NoError(t, err)
	assert.Equal(t, first.PercentGrowth, second.PercentGrowth)
	assert.Equal(t, first.Cycle, second.Cycle)
}

func TestVerifyRejections(t *testing.T) {
	u := testUniverse(t)

	t.Run("not profitable", func(t *testing.T) {
		snap := snapshotOf(t, u,
			testEdge{"ETH", "USDT", 1990, 1, "binance", ethUSDT},
			testEdge{"USDT", "ETH", 1.0 / 2000, 1, "kraken", ethUSDT},
		)
		_, err := NewVerifier(0).Verify(snap, []domain.Currency{"ETH", "USDT", "ETH"})
		assert.ErrorIs(t, err, domain.ErrNotProfitable)
	})

	t.Run("below threshold", func(t *testing.T) {
		snap := crossExchange(t, u, 1, 1)
		opp, err := NewVerifier(1.0).Verify(snap, []domain.Currency{"ETH", "USDT", "ETH"})
		assert.ErrorIs(t, err, domain.ErrBelowThreshold)
		assert.InDelta(t, 0.5, opp.PercentGrowth, 1e-9)
	})

	t.Run("missing edge", func(t *testing.T) {
		snap := snapshotOf(t, u, testEdge{"ETH", "USDT", 2010, 1, "binance", ethUSDT})
		_, err := NewVerifier(0).Verify(snap, []domain.Currency{"ETH", "USDT", "ETH"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

// Every path the detector reports must trim into a closed cycle the
// verifier can walk, and that cycle must compound to more than 1.
func TestDetectorVerifierProperty(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	nodes := []domain.Currency{"A", "B", "C", "D", "E"}
	det, err := graph.NewDetector(graph.DefaultEpsilon)
	require.NoError(t, err)
	ver := NewVerifier(0)

	for iter := 0; iter < 300; iter++ {
		g := graph.New()
		for _, n := range nodes {
			require.NoError(t, g.AddNode(n))
		}
		for _, s := range nodes {
			for _, d := range nodes {
				if s == d || rng.Float64() < 0.3 {
					continue
				}
				e, err := graph.NewEdge(0.85+rng.Float64()*0.3, graph.Meta{Volume: 1, Timestamp: testTS})
				require.NoError(t, err)
				_, err = g.AddEdge(s, d, e)
				require.NoError(t, err)
			}
		}
		snap := g.Snapshot()
		path, found, err := det.Detect(snap, nodes[rng.IntN(len(nodes))])
		require.NoError(t, err)
		if !found {
			continue
		}

		opp, err := ver.Verify(snap, path)
		require.NoError(t, err, "path %v", path)
		assert.Greater(t, opp.ProductRate, 1.0)
		assert.Equal(t, opp.Cycle[0], opp.Cycle[len(opp.Cycle)-1])
	}
}
