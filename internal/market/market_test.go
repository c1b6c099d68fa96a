package market

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

var ethUSDT = domain.Pair{Base: "ETH", Quote: "USDT"}

func newMarkets(t *testing.T) *Markets {
	t.Helper()
	u, err := domain.NewUniverse(
		[]domain.Currency{"ETH", "USDT", "BTC"},
		[]domain.Exchange{"binance", "kraken"},
		[]domain.Pair{ethUSDT, {Base: "BTC", Quote: "USDT"}},
	)
	require.NoError(t, err)
	return New(u, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestUpdateAndConvert(t *testing.T) {
	m := newMarkets(t)
	ts := time.Unix(100, 0)

	triples, err := m.Update("binance", map[domain.Pair]domain.Quote{
		ethUSDT: {Bid: 2000, Ask: 2002, BidVolume: 1, AskVolume: 2},
	}, ts)
	require.NoError(t, err)
	require.Len(t, triples, 2)
	assert.Equal(t, domain.Exchange("binance"), triples[0].Edge.Exchange)

	usd, err := m.Convert("binance", 0.5, "ETH", "USDT")
	require.NoError(t, err)
	assert.InDelta(t, 1000, usd, 1e-9)

	eth, err := m.Convert("binance", 2002, "USDT", "ETH")
	require.NoError(t, err)
	assert.InDelta(t, 1, eth, 1e-12)

	same, err := m.Convert("kraken", 7, "BTC", "BTC")
	require.NoError(t, err)
	assert.Equal(t, 7.0, same)
}

func TestConvertErrors(t *testing.T) {
	m := newMarkets(t)

	_, err := m.Convert("binance", 1, "ETH", "USDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = m.Convert("coinbase", 1, "ETH", "USDT")
	assert.ErrorIs(t, err, domain.ErrUnknownExchange)

	_, err = m.Convert("binance", 1, "DOGE", "USDT")
	assert.ErrorIs(t, err, domain.ErrUnknownCurrency)
}

func TestUpdateReplacesPreviousQuotes(t *testing.T) {
	m := newMarkets(t)
	_, err := m.Update("kraken", map[domain.Pair]domain.Quote{
		ethUSDT: {Bid: 2000, Ask: 2002},
	}, time.Unix(100, 0))
	require.NoError(t, err)

	_, err = m.Update("kraken", map[domain.Pair]domain.Quote{}, time.Unix(200, 0))
	require.NoError(t, err)

	_, err = m.Convert("kraken", 1, "ETH", "USDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateSkipsInvalidQuotes(t *testing.T) {
	m := newMarkets(t)
	triples, err := m.Update("binance", map[domain.Pair]domain.Quote{
		ethUSDT: {Bid: 0, Ask: 2002},
		{Base: "BTC", Quote: "USDT"}: {Bid: 40000, Ask: 40010, BidVolume: 1, AskVolume: 1},
	}, time.Unix(100, 0))
	require.NoError(t, err)
	assert.Len(t, triples, 2)
}
