// Package config defines the top-level configuration for the arbitrage
// engine and provides validation helpers.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CYCLEARB_* environment variables.
type Config struct {
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
	Universe UniverseConfig `toml:"universe"`
	Engine   EngineConfig   `toml:"engine"`
	Safety   SafetyConfig   `toml:"safety"`
	Paper    PaperConfig    `toml:"paper"`
	Feed     FeedConfig     `toml:"feed"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
}

// UniverseConfig fixes the currencies, exchanges and native pairs the engine
// trades. Pairs are written "BASE/QUOTE".
type UniverseConfig struct {
	Currencies []string `toml:"currencies"`
	Exchanges  []string `toml:"exchanges"`
	Pairs      []string `toml:"pairs"`
}

// EngineConfig holds detection and polling parameters.
type EngineConfig struct {
	Source           string   `toml:"source"`
	Epsilon          float64  `toml:"epsilon"`
	MinProfitPercent float64  `toml:"min_profit_percent"`
	PriceOffset      float64  `toml:"price_offset"`
	PollInterval     duration `toml:"poll_interval"`
	ErrorBackoff     duration `toml:"error_backoff"`
	SyncEvery        int      `toml:"sync_every"`
	DedupTTL         duration `toml:"dedup_ttl"`
	// MaxQuoteAge drops quotes older than this at refresh; 0 keeps all.
	MaxQuoteAge duration `toml:"max_quote_age"`
	// QuoteSource selects where quotes come from: "redis" reads the quote
	// cache, "paper" reads the static quotes in [paper.quotes].
	QuoteSource string `toml:"quote_source"`
}

// SafetyConfig holds the order sizing limits.
type SafetyConfig struct {
	Valuation         string         `toml:"valuation"`
	MaxOrderValueUSD  float64        `toml:"max_order_value_usd"`
	MinOrderValueUSD  float64        `toml:"min_order_value_usd"`
	BalanceFraction   float64        `toml:"balance_fraction"`
	PriceNudge        float64        `toml:"price_nudge"`
	DefaultPrecision  int            `toml:"default_precision"`
	QuantityPrecision map[string]int `toml:"quantity_precision"`
}

// PaperConfig seeds the in-memory venue. Balances are keyed by exchange then
// currency; quotes by exchange then "BASE/QUOTE".
type PaperConfig struct {
	Balances map[string]map[string]float64    `toml:"balances"`
	Quotes   map[string]map[string]PaperQuote `toml:"quotes"`
}

// PaperQuote is a static top of book used when engine.quote_source is "paper".
type PaperQuote struct {
	Bid       float64 `toml:"bid"`
	Ask       float64 `toml:"ask"`
	BidVolume float64 `toml:"bid_volume"`
	AskVolume float64 `toml:"ask_volume"`
}

// FeedConfig controls what writes quotes into the Redis quote cache. URL is
// a websocket endpoint streaming quote JSON; MirrorPaper copies
// [paper.quotes] into the cache every MirrorInterval.
//
// When APIKey is set the handshake is HMAC signed. The secret comes from
// APISecret, or from SecretFile (written by crypto.EncryptSecret) decrypted
// with SecretPassword.
type FeedConfig struct {
	URL            string   `toml:"url"`
	MirrorPaper    bool     `toml:"mirror_paper"`
	MirrorInterval duration `toml:"mirror_interval"`
	APIKey         string   `toml:"api_key"`
	APISecret      string   `toml:"api_secret"`
	SecretFile     string   `toml:"secret_file"`
	SecretPassword string   `toml:"secret_password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
	KeyPrefix    string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the periodic export of aged records to S3.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  duration `toml:"interval"`
	Retention duration `toml:"retention"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"` // requests per window per client; 0 disables
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with a runnable paper setup.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Mode:     "trade",
		LogLevel: "info",
		Universe: UniverseConfig{
			Currencies: []string{"ETH", "BTC", "USDT"},
			Exchanges:  []string{"binance", "kraken"},
			Pairs:      []string{"ETH/USDT", "BTC/USDT", "ETH/BTC"},
		},
		Engine: EngineConfig{
			Source:           "USDT",
			Epsilon:          1e-4,
			MinProfitPercent: 0.1,
			PriceOffset:      0.0001,
			PollInterval:     duration{5 * time.Second},
			ErrorBackoff:     duration{120 * time.Second},
			SyncEvery:        60,
			DedupTTL:         duration{time.Minute},
			MaxQuoteAge:      duration{15 * time.Second},
			QuoteSource:      "redis",
		},
		Safety: SafetyConfig{
			Valuation:         "USDT",
			MaxOrderValueUSD:  100,
			MinOrderValueUSD:  10,
			BalanceFraction:   0.8,
			PriceNudge:        0.001,
			DefaultPrecision:  6,
			QuantityPrecision: map[string]int{},
		},
		Paper: PaperConfig{
			Balances: map[string]map[string]float64{
				"binance": {"USDT": 1000, "ETH": 0.5, "BTC": 0.02},
				"kraken":  {"USDT": 1000, "ETH": 0.5, "BTC": 0.02},
			},
			Quotes: map[string]map[string]PaperQuote{
				"binance": {
					"ETH/USDT": {Bid: 2000, Ask: 2001, BidVolume: 5, AskVolume: 5},
					"BTC/USDT": {Bid: 60000, Ask: 60010, BidVolume: 0.5, AskVolume: 0.5},
					"ETH/BTC":  {Bid: 0.0333, Ask: 0.03335, BidVolume: 5, AskVolume: 5},
				},
				"kraken": {
					"ETH/USDT": {Bid: 1999, Ask: 2000.5, BidVolume: 3, AskVolume: 3},
					"BTC/USDT": {Bid: 59990, Ask: 60005, BidVolume: 0.4, AskVolume: 0.4},
					"ETH/BTC":  {Bid: 0.03332, Ask: 0.03336, BidVolume: 4, AskVolume: 4},
				},
			},
		},
		Feed: FeedConfig{
			MirrorPaper:    true,
			MirrorInterval: duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "cyclearb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      true,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10_000,
			KeyPrefix:    "cyclearb",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "cyclearb-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:   false,
			Interval:  duration{24 * time.Hour},
			Retention: duration{30 * 24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"execution", "review"},
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validEvents = map[string]bool{
	"opportunity": true,
	"execution":   true,
	"review":      true,
}

// Validate checks Config for invalid or missing values and returns every
// problem found joined into one error.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: trade, monitor)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Universe
	currencies := make(map[string]bool, len(c.Universe.Currencies))
	for _, cur := range c.Universe.Currencies {
		currencies[cur] = true
	}
	if len(currencies) < 2 {
		add("universe: at least two currencies are required")
	}
	if len(c.Universe.Exchanges) == 0 {
		add("universe: at least one exchange is required")
	}
	if len(c.Universe.Pairs) == 0 {
		add("universe: at least one pair is required")
	}
	for _, p := range c.Universe.Pairs {
		base, quote, ok := strings.Cut(p, "/")
		if !ok {
			add("universe: pair %q must be written BASE/QUOTE", p)
			continue
		}
		if !currencies[base] || !currencies[quote] {
			add("universe: pair %q references an unconfigured currency", p)
		}
	}

	// Engine
	if !currencies[c.Engine.Source] {
		add("engine: source %q is not a configured currency", c.Engine.Source)
	}
	if c.Engine.MinProfitPercent <= 0 {
		add("engine: min_profit_percent must be > 0")
	}
	if c.Engine.Epsilon <= 0 {
		add("engine: epsilon must be > 0")
	} else if c.Engine.MinProfitPercent > 0 && c.Engine.Epsilon >= -thresholdWeight(c.Engine.MinProfitPercent) {
		add("engine: epsilon %g must be smaller than the threshold weight %g of min_profit_percent",
			c.Engine.Epsilon, -thresholdWeight(c.Engine.MinProfitPercent))
	}
	if c.Engine.PriceOffset < 0 {
		add("engine: price_offset must be >= 0")
	}
	if c.Engine.PollInterval.Duration <= 0 {
		add("engine: poll_interval must be > 0")
	}
	if c.Engine.ErrorBackoff.Duration <= 0 {
		add("engine: error_backoff must be > 0")
	}
	if c.Engine.SyncEvery < 0 {
		add("engine: sync_every must be >= 0")
	}
	if c.Engine.MaxQuoteAge.Duration < 0 {
		add("engine: max_quote_age must be >= 0")
	}
	if age := c.Engine.MaxQuoteAge.Duration; age > 0 && c.Engine.QuoteSource == "redis" &&
		c.Feed.MirrorPaper && c.Feed.URL == "" && age <= c.Feed.MirrorInterval.Duration {
		add("engine: max_quote_age %s must exceed feed.mirror_interval %s", age, c.Feed.MirrorInterval.Duration)
	}
	switch c.Engine.QuoteSource {
	case "redis":
		if !c.Redis.Enabled {
			add("engine: quote_source redis requires redis.enabled")
		}
	case "paper":
	default:
		add("engine: unknown quote_source %q (valid: redis, paper)", c.Engine.QuoteSource)
	}

	// Paper
	pairs := make(map[string]bool, len(c.Universe.Pairs))
	for _, p := range c.Universe.Pairs {
		pairs[p] = true
	}
	exchanges := make(map[string]bool, len(c.Universe.Exchanges))
	for _, ex := range c.Universe.Exchanges {
		exchanges[ex] = true
	}
	for ex, row := range c.Paper.Balances {
		if !exchanges[ex] {
			add("paper: balances for unconfigured exchange %q", ex)
		}
		for cur := range row {
			if !currencies[cur] {
				add("paper: balance %s %s references an unconfigured currency", ex, cur)
			}
		}
	}
	for ex, row := range c.Paper.Quotes {
		if !exchanges[ex] {
			add("paper: quotes for unconfigured exchange %q", ex)
		}
		for p, q := range row {
			if !pairs[p] {
				add("paper: quote %s %s is not a configured pair", ex, p)
			}
			if q.Bid <= 0 || q.Ask <= 0 {
				add("paper: quote %s %s needs positive bid and ask", ex, p)
			}
		}
	}
	if c.Engine.QuoteSource == "paper" && len(c.Paper.Quotes) == 0 {
		add("paper: quote_source paper requires [paper.quotes]")
	}

	// Feed
	if c.Feed.URL != "" && !strings.HasPrefix(c.Feed.URL, "ws://") && !strings.HasPrefix(c.Feed.URL, "wss://") {
		add("feed: url %q must use ws:// or wss://", c.Feed.URL)
	}
	if c.Feed.APIKey != "" && c.Feed.APISecret == "" && c.Feed.SecretFile == "" {
		add("feed: api_key requires api_secret or secret_file")
	}
	if c.Feed.MirrorPaper && c.Feed.MirrorInterval.Duration <= 0 {
		add("feed: mirror_interval must be > 0 when mirror_paper is set")
	}

	// Safety
	if !currencies[c.Safety.Valuation] {
		add("safety: valuation %q is not a configured currency", c.Safety.Valuation)
	}
	if c.Safety.MinOrderValueUSD < 0 {
		add("safety: min_order_value_usd must be >= 0")
	}
	if c.Safety.MaxOrderValueUSD <= 0 {
		add("safety: max_order_value_usd must be > 0")
	}
	if c.Safety.MinOrderValueUSD > c.Safety.MaxOrderValueUSD {
		add("safety: min_order_value_usd must not exceed max_order_value_usd")
	}
	if c.Safety.BalanceFraction <= 0 || c.Safety.BalanceFraction > 1 {
		add("safety: balance_fraction must be in (0, 1], got %g", c.Safety.BalanceFraction)
	}
	if c.Safety.PriceNudge < 0 || c.Safety.PriceNudge >= 1 {
		add("safety: price_nudge must be in [0, 1), got %g", c.Safety.PriceNudge)
	}
	if c.Safety.DefaultPrecision < 0 {
		add("safety: default_precision must be >= 0")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be in [0, pool_max_conns]")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if !c.Postgres.Enabled {
			add("archive: requires postgres.enabled")
		}
		if c.S3.Endpoint == "" || c.S3.Bucket == "" {
			add("archive: s3 endpoint and bucket must be set")
		}
		if c.Archive.Interval.Duration <= 0 {
			add("archive: interval must be > 0")
		}
		if c.Archive.Retention.Duration <= 0 {
			add("archive: retention must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must be >= 0, got %d", c.Server.RateLimit)
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration < time.Millisecond {
			add("server: rate_window must be at least 1ms when rate_limit is set")
		}
	}

	// Notify
	for _, ev := range c.Notify.Events {
		if !validEvents[ev] {
			add("notify: unknown event %q (valid: opportunity, execution, review)", ev)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// thresholdWeight mirrors graph.ThresholdWeight without importing it, keeping
// config free of domain packages.
func thresholdWeight(pct float64) float64 {
	return -math.Log2(1 + pct/100)
}
