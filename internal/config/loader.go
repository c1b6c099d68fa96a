package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CYCLEARB_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, err
		}
		if err := replacePaperTables(path, md, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// replacePaperTables undoes the map merge the decoder performs for [paper].
// Default seeds describe the default universe, so they are dropped when the
// file defines its own universe, and a table given in the file replaces the
// default one wholesale.
func replacePaperTables(path string, md toml.MetaData, cfg *Config) error {
	if md.IsDefined("universe") {
		cfg.Paper = PaperConfig{
			Balances: map[string]map[string]float64{},
			Quotes:   map[string]map[string]PaperQuote{},
		}
	}
	if !md.IsDefined("paper") {
		return nil
	}
	var file struct {
		Paper PaperConfig `toml:"paper"`
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return err
	}
	if md.IsDefined("paper", "balances") {
		cfg.Paper.Balances = file.Paper.Balances
	}
	if md.IsDefined("paper", "quotes") {
		cfg.Paper.Quotes = file.Paper.Quotes
	}
	return nil
}

// applyEnvOverrides reads well-known CYCLEARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Universe ──
	setStringSlice(&cfg.Universe.Currencies, "CYCLEARB_UNIVERSE_CURRENCIES")
	setStringSlice(&cfg.Universe.Exchanges, "CYCLEARB_UNIVERSE_EXCHANGES")
	setStringSlice(&cfg.Universe.Pairs, "CYCLEARB_UNIVERSE_PAIRS")

	// ── Engine ──
	setStr(&cfg.Engine.Source, "CYCLEARB_ENGINE_SOURCE")
	setFloat64(&cfg.Engine.Epsilon, "CYCLEARB_ENGINE_EPSILON")
	setFloat64(&cfg.Engine.MinProfitPercent, "CYCLEARB_ENGINE_MIN_PROFIT_PERCENT")
	setFloat64(&cfg.Engine.PriceOffset, "CYCLEARB_ENGINE_PRICE_OFFSET")
	setDuration(&cfg.Engine.PollInterval, "CYCLEARB_ENGINE_POLL_INTERVAL")
	setDuration(&cfg.Engine.ErrorBackoff, "CYCLEARB_ENGINE_ERROR_BACKOFF")
	setDuration(&cfg.Engine.MaxQuoteAge, "CYCLEARB_ENGINE_MAX_QUOTE_AGE")
	setInt(&cfg.Engine.SyncEvery, "CYCLEARB_ENGINE_SYNC_EVERY")
	setDuration(&cfg.Engine.DedupTTL, "CYCLEARB_ENGINE_DEDUP_TTL")
	setStr(&cfg.Engine.QuoteSource, "CYCLEARB_ENGINE_QUOTE_SOURCE")

	// ── Feed ──
	setStr(&cfg.Feed.URL, "CYCLEARB_FEED_URL")
	setBool(&cfg.Feed.MirrorPaper, "CYCLEARB_FEED_MIRROR_PAPER")
	setDuration(&cfg.Feed.MirrorInterval, "CYCLEARB_FEED_MIRROR_INTERVAL")
	setStr(&cfg.Feed.APIKey, "CYCLEARB_FEED_API_KEY")
	setStr(&cfg.Feed.APISecret, "CYCLEARB_FEED_API_SECRET")
	setStr(&cfg.Feed.SecretFile, "CYCLEARB_FEED_SECRET_FILE")
	setStr(&cfg.Feed.SecretPassword, "CYCLEARB_FEED_SECRET_PASSWORD")

	// ── Safety ──
	setStr(&cfg.Safety.Valuation, "CYCLEARB_SAFETY_VALUATION")
	setFloat64(&cfg.Safety.MaxOrderValueUSD, "CYCLEARB_SAFETY_MAX_ORDER_VALUE_USD")
	setFloat64(&cfg.Safety.MinOrderValueUSD, "CYCLEARB_SAFETY_MIN_ORDER_VALUE_USD")
	setFloat64(&cfg.Safety.BalanceFraction, "CYCLEARB_SAFETY_BALANCE_FRACTION")
	setFloat64(&cfg.Safety.PriceNudge, "CYCLEARB_SAFETY_PRICE_NUDGE")
	setInt(&cfg.Safety.DefaultPrecision, "CYCLEARB_SAFETY_DEFAULT_PRECISION")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "CYCLEARB_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "CYCLEARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "CYCLEARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CYCLEARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CYCLEARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CYCLEARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CYCLEARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CYCLEARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CYCLEARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CYCLEARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CYCLEARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CYCLEARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CYCLEARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CYCLEARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CYCLEARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CYCLEARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CYCLEARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CYCLEARB_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "CYCLEARB_REDIS_STREAM_MAX_LEN")
	setStr(&cfg.Redis.KeyPrefix, "CYCLEARB_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CYCLEARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CYCLEARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "CYCLEARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CYCLEARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CYCLEARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CYCLEARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CYCLEARB_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "CYCLEARB_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "CYCLEARB_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.Retention, "CYCLEARB_ARCHIVE_RETENTION")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CYCLEARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CYCLEARB_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "CYCLEARB_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "CYCLEARB_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "CYCLEARB_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "CYCLEARB_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CYCLEARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CYCLEARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CYCLEARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CYCLEARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CYCLEARB_MODE")
	setStr(&cfg.LogLevel, "CYCLEARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
