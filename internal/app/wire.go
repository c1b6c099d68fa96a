package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/cyclearb/internal/arbitrage"
	s3blob "github.com/alanyoungcy/cyclearb/internal/blob/s3"
	"github.com/alanyoungcy/cyclearb/internal/cache/redis"
	"github.com/alanyoungcy/cyclearb/internal/config"
	"github.com/alanyoungcy/cyclearb/internal/crypto"
	"github.com/alanyoungcy/cyclearb/internal/domain"
	"github.com/alanyoungcy/cyclearb/internal/executor"
	"github.com/alanyoungcy/cyclearb/internal/graph"
	"github.com/alanyoungcy/cyclearb/internal/ledger"
	"github.com/alanyoungcy/cyclearb/internal/market"
	"github.com/alanyoungcy/cyclearb/internal/notify"
	"github.com/alanyoungcy/cyclearb/internal/platform/paper"
	"github.com/alanyoungcy/cyclearb/internal/service"
	"github.com/alanyoungcy/cyclearb/internal/store/postgres"
)

// Dependencies bundles everything the run loop and the API need. It is built
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Universe *domain.Universe

	// Core
	Markets  *market.Markets
	Graph    *graph.Graph
	Venue    *paper.Venue
	Ledger   *ledger.Ledger
	ArbSvc   *service.ArbService
	Engine   *arbitrage.Engine
	Provider domain.MarketDataProvider

	// Optional infrastructure; nil when disabled.
	PaperQuotes *paper.Quotes
	QuoteCache  *redis.QuoteCache
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter
	Stores      *postgres.Stores
	Archiver    *s3blob.ArchiveImpl
	Notifier    domain.Notifier
	FeedAuth    *crypto.HMACAuth
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(format string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf(format, err)
	}

	universe, err := buildUniverse(cfg.Universe)
	if err != nil {
		return fail("wire: universe: %w", err)
	}
	deps := &Dependencies{Universe: universe}

	// --- PostgreSQL ---
	var (
		auditStore domain.AuditStore
		oppStore   domain.OpportunityStore
		execStore  domain.ArbExecutionStore
		orderStore domain.OrderStore
		snapStore  domain.BalanceStore
	)
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("wire: postgres migrations: %w", err)
			}
		}

		stores := pgClient.Stores()
		deps.Stores = &stores
		auditStore = stores.Audit
		oppStore = stores.Opportunities
		execStore = stores.Executions
		orderStore = stores.Orders
		snapStore = stores.Balances
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
			Logger:     logger,
		})
		if err != nil {
			return fail("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.QuoteCache = redis.NewQuoteCache(redisClient, 0)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled && deps.Stores != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Stores.Audit,
			deps.Stores.Opportunities,
			deps.Stores.Executions,
			logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	// --- Feed credentials ---
	if cfg.Feed.APIKey != "" {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			Raw:           cfg.Feed.APISecret,
			EncryptedPath: cfg.Feed.SecretFile,
			Password:      cfg.Feed.SecretPassword,
		})
		if err != nil {
			return fail("wire: feed secret: %w", err)
		}
		deps.FeedAuth = &crypto.HMACAuth{Key: cfg.Feed.APIKey, Secret: secret}
	}

	// --- Quotes ---
	paperQuotes, err := buildPaperQuotes(universe, cfg.Paper.Quotes)
	if err != nil {
		return fail("wire: paper quotes: %w", err)
	}
	deps.PaperQuotes = paperQuotes
	switch cfg.Engine.QuoteSource {
	case "paper":
		deps.Provider = paperQuotes
	case "redis":
		if deps.QuoteCache == nil {
			return fail("wire: %w", fmt.Errorf("quote_source redis requires redis"))
		}
		deps.Provider = deps.QuoteCache
	default:
		return fail("wire: %w", fmt.Errorf("unknown quote_source %q", cfg.Engine.QuoteSource))
	}

	// --- Core ---
	deps.Markets = market.New(universe, logger)
	deps.Graph = graph.NewFromUniverse(universe)

	detector, err := graph.NewDetector(cfg.Engine.Epsilon)
	if err != nil {
		return fail("wire: %w", err)
	}

	deps.Venue, err = paper.New(universe, buildBalances(cfg.Paper.Balances), logger)
	if err != nil {
		return fail("wire: paper venue: %w", err)
	}

	valuation := domain.Currency(cfg.Safety.Valuation)
	deps.Ledger = ledger.New(universe, deps.Markets, deps.Venue, snapStore, ledger.Config{Valuation: valuation}, logger)
	if err := deps.Ledger.Register(); err != nil {
		return fail("wire: ledger: %w", err)
	}
	if err := deps.Ledger.Restore(ctx); err != nil {
		logger.Warn("ledger restore incomplete, waiting for first sync", slog.String("error", err.Error()))
	}

	deps.ArbSvc = service.NewArbService(service.ArbServiceDeps{
		Opportunities: oppStore,
		Executions:    execStore,
		Orders:        orderStore,
		Audit:         auditStore,
		Bus:           deps.SignalBus,
		Notifier:      deps.Notifier,
	}, logger)

	precision := make(map[domain.Exchange]int, len(cfg.Safety.QuantityPrecision))
	for ex, p := range cfg.Safety.QuantityPrecision {
		precision[domain.Exchange(ex)] = p
	}
	sizer := service.NewSafetyService(deps.Markets, deps.Ledger, service.SafetyConfig{
		Valuation:         valuation,
		MaxOrderValueUSD:  cfg.Safety.MaxOrderValueUSD,
		MinOrderValueUSD:  cfg.Safety.MinOrderValueUSD,
		BalanceFraction:   cfg.Safety.BalanceFraction,
		PriceNudge:        cfg.Safety.PriceNudge,
		QuantityPrecision: precision,
		DefaultPrecision:  cfg.Safety.DefaultPrecision,
	}, logger)

	mode := arbitrage.Mode(strings.ToLower(cfg.Mode))
	var exec arbitrage.PlanExecutor
	if mode == arbitrage.ModeTrade {
		exec = executor.NewExecutor(deps.Venue, deps.Ledger, deps.Markets, deps.ArbSvc,
			executor.NewDedup(cfg.Engine.DedupTTL.Duration), logger)
	}

	deps.Engine = arbitrage.NewEngine(arbitrage.EngineDeps{
		Universe:    universe,
		Provider:    deps.Provider,
		Markets:     deps.Markets,
		Graph:       deps.Graph,
		Detector:    detector,
		Verifier:    arbitrage.NewVerifier(cfg.Engine.MinProfitPercent),
		Synthesizer: arbitrage.NewSynthesizer(universe, cfg.Engine.PriceOffset),
		Sizer:       sizer,
		Executor:    exec,
		Ledger:      deps.Ledger,
		ArbSvc:      deps.ArbSvc,
	}, arbitrage.EngineConfig{
		Mode:         mode,
		Source:       domain.Currency(cfg.Engine.Source),
		PollInterval: cfg.Engine.PollInterval.Duration,
		ErrorBackoff: cfg.Engine.ErrorBackoff.Duration,
		SyncEvery:    cfg.Engine.SyncEvery,
		MaxQuoteAge:  cfg.Engine.MaxQuoteAge.Duration,
	}, logger)

	return deps, cleanup, nil
}

func buildUniverse(cfg config.UniverseConfig) (*domain.Universe, error) {
	currencies := make([]domain.Currency, len(cfg.Currencies))
	for i, c := range cfg.Currencies {
		currencies[i] = domain.Currency(c)
	}
	exchanges := make([]domain.Exchange, len(cfg.Exchanges))
	for i, ex := range cfg.Exchanges {
		exchanges[i] = domain.Exchange(ex)
	}
	pairs := make([]domain.Pair, 0, len(cfg.Pairs))
	for _, s := range cfg.Pairs {
		p, err := domain.ParsePair(s)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return domain.NewUniverse(currencies, exchanges, pairs)
}

func buildBalances(cfg map[string]map[string]float64) map[domain.Exchange]map[domain.Currency]float64 {
	out := make(map[domain.Exchange]map[domain.Currency]float64, len(cfg))
	for ex, row := range cfg {
		r := make(map[domain.Currency]float64, len(row))
		for c, amt := range row {
			r[domain.Currency(c)] = amt
		}
		out[domain.Exchange(ex)] = r
	}
	return out
}

func buildPaperQuotes(u *domain.Universe, cfg map[string]map[string]config.PaperQuote) (*paper.Quotes, error) {
	seed := make(map[domain.Exchange]map[domain.Pair]domain.Quote, len(cfg))
	for ex, row := range cfg {
		r := make(map[domain.Pair]domain.Quote, len(row))
		for s, q := range row {
			p, err := domain.ParsePair(s)
			if err != nil {
				return nil, err
			}
			r[p] = domain.Quote{Bid: q.Bid, Ask: q.Ask, BidVolume: q.BidVolume, AskVolume: q.AskVolume}
		}
		seed[domain.Exchange(ex)] = r
	}
	return paper.NewQuotes(u, seed)
}
