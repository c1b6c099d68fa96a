package arbitrage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cyclearb/internal/domain"
	"github.com/alanyoungcy/cyclearb/internal/graph"
)

var (
	ethUSDT = domain.Pair{Base: "ETH", Quote: "USDT"}
	testTS  = time.Unix(1700000000, 0)
)

func testUniverse(t *testing.T) *domain.Universe {
	t.Helper()
	u, err := domain.NewUniverse(
		[]domain.Currency{"ETH", "USDT", "BTC"},
		[]domain.Exchange{"binance", "kraken"},
		[]domain.Pair{ethUSDT, {Base: "BTC", Quote: "USDT"}, {Base: "ETH", Quote: "BTC"}},
	)
	require.NoError(t, err)
	return u
}

type testEdge struct {
	src, dst domain.Currency
	rate     float64
	volume   float64
	exchange domain.Exchange
	pair     domain.Pair
}

func snapshotOf(t *testing.T, u *domain.Universe, edges ...testEdge) *graph.Snapshot {
	t.Helper()
	g := graph.NewFromUniverse(u)
	for _, te := range edges {
		e, err := graph.NewEdge(te.rate, graph.Meta{
			Volume:         te.volume,
			VolumeCurrency: te.pair.Base,
			Pair:           te.pair,
			Exchange:       te.exchange,
			Timestamp:      testTS,
		})
		require.NoError(t, err)
		_, err = g.AddEdge(te.src, te.dst, e)
		require.NoError(t, err)
	}
	return g.Snapshot()
}

// crossExchange is binance bidding 2010 for ETH while kraken asks 2000.
func crossExchange(t *testing.T, u *domain.Universe, bidVol, askVol float64) *graph.Snapshot {
	return snapshotOf(t, u,
		testEdge{"ETH", "USDT", 2010, bidVol, "binance", ethUSDT},
		testEdge{"USDT", "ETH", 1.0 / 2000, askVol, "kraken", ethUSDT},
	)
}
