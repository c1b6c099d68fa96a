package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cyclearb/internal/arbitrage"
	"github.com/alanyoungcy/cyclearb/internal/config"
	"github.com/alanyoungcy/cyclearb/internal/crypto"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// paperConfig is a single-pair setup where kraken's ask sits below binance's
// bid, so buying on kraken and selling on binance returns about 0.5%.
func paperConfig(mode string) *config.Config {
	cfg := config.Defaults()
	cfg.Mode = mode
	cfg.Universe = config.UniverseConfig{
		Currencies: []string{"ETH", "USDT"},
		Exchanges:  []string{"binance", "kraken"},
		Pairs:      []string{"ETH/USDT"},
	}
	cfg.Engine.QuoteSource = "paper"
	cfg.Redis.Enabled = false
	cfg.Server.Enabled = false
	cfg.Paper.Balances = map[string]map[string]float64{
		"binance": {"ETH": 1},
		"kraken":  {"USDT": 1000},
	}
	cfg.Paper.Quotes = map[string]map[string]config.PaperQuote{
		"binance": {"ETH/USDT": {Bid: 2000, Ask: 2001, BidVolume: 5, AskVolume: 5}},
		"kraken":  {"ETH/USDT": {Bid: 1989, Ask: 1990, BidVolume: 3, AskVolume: 3}},
	}
	cfg.Safety.MaxOrderValueUSD = 500
	return &cfg
}

func TestWireAndTradeOnPaper(t *testing.T) {
	cfg := paperConfig("trade")
	require.NoError(t, cfg.Validate())

	deps, cleanup, err := Wire(context.Background(), cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.QuoteCache)
	assert.Nil(t, deps.SignalBus)
	assert.Nil(t, deps.Stores)
	assert.Nil(t, deps.Archiver)
	assert.Nil(t, deps.Notifier)

	res, err := deps.Engine.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, arbitrage.OutcomeExecuted, res.Outcome, res.Reason)
	require.NotNil(t, res.Execution)
	assert.InDelta(t, 500, res.Execution.SizeUSD, 1e-6)

	kraken, err := deps.Venue.FetchBalance(context.Background(), "kraken")
	require.NoError(t, err)
	assert.Greater(t, kraken["ETH"], 0.0)
	assert.Less(t, kraken["USDT"], 1000.0)

	st := deps.Engine.Status()
	assert.EqualValues(t, 1, st.Executions)
	assert.NotEmpty(t, deps.Graph.Edges())
}

func TestWireMonitorDoesNotTrade(t *testing.T) {
	cfg := paperConfig("monitor")
	deps, cleanup, err := Wire(context.Background(), cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	res, err := deps.Engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, arbitrage.OutcomeDetected, res.Outcome)

	kraken, err := deps.Venue.FetchBalance(context.Background(), "kraken")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, kraken["USDT"])
}

func TestWireRejectsBadSetup(t *testing.T) {
	cfg := paperConfig("trade")
	cfg.Engine.QuoteSource = "redis"
	_, _, err := Wire(context.Background(), cfg, discard())
	assert.ErrorContains(t, err, "requires redis")

	cfg = paperConfig("trade")
	cfg.Universe.Pairs = []string{"ETHUSDT"}
	_, _, err = Wire(context.Background(), cfg, discard())
	assert.ErrorContains(t, err, "universe")

	cfg = paperConfig("trade")
	cfg.Paper.Balances["coinbase"] = map[string]float64{"USDT": 1}
	_, _, err = Wire(context.Background(), cfg, discard())
	assert.ErrorContains(t, err, "paper venue")

	cfg = paperConfig("trade")
	cfg.Feed.APIKey = "k1"
	cfg.Feed.SecretFile = filepath.Join(t.TempDir(), "missing.json")
	_, _, err = Wire(context.Background(), cfg, discard())
	assert.ErrorContains(t, err, "feed secret")
}

func TestWireFeedAuthFromEncryptedFile(t *testing.T) {
	blob, err := crypto.EncryptSecret("feed-secret", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "feed.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	cfg := paperConfig("monitor")
	cfg.Feed.APIKey = "k1"
	cfg.Feed.SecretFile = path
	cfg.Feed.SecretPassword = "pw"
	require.NoError(t, cfg.Validate())

	deps, cleanup, err := Wire(context.Background(), cfg, discard())
	require.NoError(t, err)
	defer cleanup()
	require.NotNil(t, deps.FeedAuth)
	assert.Equal(t, "k1", deps.FeedAuth.Key)
	assert.Equal(t, "feed-secret", deps.FeedAuth.Secret)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := paperConfig("trade")
	a := New(cfg, discard())
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, a.Run(ctx))
}
