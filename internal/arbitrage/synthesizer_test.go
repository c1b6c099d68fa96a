package arbitrage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

func TestSynthesizeBottleneck(t *testing.T) {
	u := testUniverse(t)
	snap := crossExchange(t, u, 50, 30)

	orders, err := NewSynthesizer(u, DefaultPriceOffset).Synthesize(snap, []domain.Currency{"ETH", "USDT", "ETH"})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	for _, o := range orders {
		assert.Equal(t, 30.0, o.Volume)
		assert.Equal(t, domain.OrderTypeLimit, o.Type)
		assert.NotEmpty(t, o.ID)
	}
}

func TestSynthesizeZeroVolumeHasNoSafeSize(t *testing.T) {
	u := testUniverse(t)
	snap := crossExchange(t, u, 50, 0)

	_, err := NewSynthesizer(u, DefaultPriceOffset).Synthesize(snap, []domain.Currency{"ETH", "USDT", "ETH"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoSafeSize)
}

func TestSynthesizeDirection(t *testing.T) {
	u := testUniverse(t)
	snap := crossExchange(t, u, 5, 3)

	orders, err := NewSynthesizer(u, DefaultPriceOffset).Synthesize(snap, []domain.Currency{"ETH", "USDT", "ETH"})
	require.NoError(t, err)

	sell, buy := orders[0], orders[1]
	assert.Equal(t, domain.OrderSideSell, sell.Side)
	assert.Equal(t, ethUSDT, sell.Pair)
	assert.Equal(t, domain.Exchange("binance"), sell.Exchange)
	assert.InDelta(t, 2010-DefaultPriceOffset, sell.Price, 1e-9)

	assert.Equal(t, domain.OrderSideBuy, buy.Side)
	assert.Equal(t, ethUSDT, buy.Pair)
	assert.Equal(t, domain.Exchange("kraken"), buy.Exchange)
	assert.InDelta(t, 2000-DefaultPriceOffset, buy.Price, 1e-9)
}

func TestSynthesizeRejectsUnsupportedLength(t *testing.T) {
	u := testUniverse(t)
	ethBTC := domain.Pair{Base: "ETH", Quote: "BTC"}
	btcUSDT := domain.Pair{Base: "BTC", Quote: "USDT"}
	snap := snapshotOf(t, u,
		testEdge{"ETH", "BTC", 0.05, 10, "binance", ethBTC},
		testEdge{"BTC", "USDT", 41000, 1, "binance", btcUSDT},
		testEdge{"USDT", "ETH", 1.0 / 2000, 10, "binance", ethUSDT},
	)

	_, err := NewSynthesizer(u, DefaultPriceOffset).Synthesize(snap, []domain.Currency{"ETH", "BTC", "USDT", "ETH"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedCycleLength)
}

func TestSynthesizeRejectsOpenPath(t *testing.T) {
	u := testUniverse(t)
	snap := crossExchange(t, u, 5, 3)
	_, err := NewSynthesizer(u, DefaultPriceOffset).Synthesize(snap, []domain.Currency{"ETH", "USDT"})
	assert.ErrorIs(t, err, domain.ErrInvalidCycle)
}

func TestSynthesizeMissingEdge(t *testing.T) {
	u := testUniverse(t)
	snap := snapshotOf(t, u, testEdge{"ETH", "USDT", 2010, 1, "binance", ethUSDT})
	_, err := NewSynthesizer(u, DefaultPriceOffset).Synthesize(snap, []domain.Currency{"ETH", "USDT", "ETH"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
