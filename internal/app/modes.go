package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cyclearb/internal/domain"
	"github.com/alanyoungcy/cyclearb/internal/feed"
	"github.com/alanyoungcy/cyclearb/internal/server"
	"github.com/alanyoungcy/cyclearb/internal/server/handler"
	"github.com/alanyoungcy/cyclearb/internal/server/ws"
)

const shutdownTimeout = 5 * time.Second

// runAll starts the engine and every enabled subsystem and blocks until ctx
// is cancelled or one of them fails. Trade and monitor modes share this
// layout; the mode only changes what the engine does with an opportunity.
func (a *App) runAll(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Engine.Run(ctx)
	})

	a.startFeeds(ctx, g, deps)

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchive(ctx, deps.Archiver)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// startFeeds starts the writers of the Redis quote cache: the websocket
// quote feed when feed.url is set, and the paper mirror when enabled.
func (a *App) startFeeds(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.QuoteCache == nil {
		return
	}
	if a.cfg.Feed.URL != "" {
		qf := feed.NewQuoteFeed(a.cfg.Feed.URL, deps.Universe, deps.QuoteCache, a.logger).
			WithAuth(deps.FeedAuth)
		g.Go(func() error {
			return qf.Run(ctx)
		})
	}
	if a.cfg.Feed.MirrorPaper && deps.PaperQuotes != nil && len(deps.PaperQuotes.All()) > 0 {
		m := feed.NewMirror(deps.PaperQuotes, deps.QuoteCache, a.cfg.Feed.MirrorInterval.Duration, a.logger)
		g.Go(func() error {
			return m.Run(ctx)
		})
	}
}

// runArchive moves aged records to object storage every archive.interval.
func (a *App) runArchive(ctx context.Context, archiver domain.Archiver) error {
	ticker := time.NewTicker(a.cfg.Archive.Interval.Duration)
	defer ticker.Stop()
	for {
		a.archiveOnce(ctx, archiver)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *App) archiveOnce(ctx context.Context, archiver domain.Archiver) {
	before := time.Now().UTC().Add(-a.cfg.Archive.Retention.Duration)
	jobs := []struct {
		kind string
		run  func(context.Context, time.Time) (int64, error)
	}{
		{"audit", archiver.ArchiveAudit},
		{"executions", archiver.ArchiveExecutions},
		{"opportunities", archiver.ArchiveOpportunities},
	}
	for _, job := range jobs {
		n, err := job.run(ctx, before)
		if err != nil {
			a.logger.WarnContext(ctx, "archive failed",
				slog.String("kind", job.kind),
				slog.String("error", err.Error()),
			)
			continue
		}
		if n > 0 {
			a.logger.InfoContext(ctx, "archived records",
				slog.String("kind", job.kind),
				slog.Int64("count", n),
			)
		}
	}
}

// startHTTPServer builds the API and websocket hub and shuts both down with
// ctx.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, deps.Engine, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(time.Now()),
		Status: handler.NewStatusHandler(deps.Engine, deps.Ledger, deps.Graph, a.logger),
		Arb:    handler.NewArbHandler(deps.ArbSvc, a.logger),
	}
	if deps.Archiver != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.Archiver, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
