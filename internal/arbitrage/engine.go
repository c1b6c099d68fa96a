package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cyclearb/internal/domain"
	"github.com/alanyoungcy/cyclearb/internal/executor"
	"github.com/alanyoungcy/cyclearb/internal/graph"
	"github.com/alanyoungcy/cyclearb/internal/market"
	"github.com/alanyoungcy/cyclearb/internal/service"
)

// Mode selects how far a cycle goes.
type Mode string

const (
	ModeTrade   Mode = "trade"   // detect, size and execute
	ModeMonitor Mode = "monitor" // detect, verify and record only
)

// Outcome summarizes what a single cycle did.
type Outcome string

const (
	OutcomeNoQuotes      Outcome = "no_quotes"
	OutcomeNoCycle       Outcome = "no_cycle"
	OutcomeRejected      Outcome = "rejected"
	OutcomeDetected      Outcome = "detected"
	OutcomeNotActionable Outcome = "not_actionable"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeExecuted      Outcome = "executed"
)

// Sizer clamps synthesized orders to safe sizes.
type Sizer interface {
	Size(ctx context.Context, orders []domain.Order) (service.Sized, error)
}

// PlanExecutor submits a sized plan.
type PlanExecutor interface {
	Execute(ctx context.Context, plan executor.Plan) (domain.ArbExecution, error)
}

// Syncer reconciles recorded balances with the venues.
type Syncer interface {
	Sync(ctx context.Context) error
}

// EngineConfig configures the polling loop.
type EngineConfig struct {
	Mode         Mode
	Source       domain.Currency
	PollInterval time.Duration
	ErrorBackoff time.Duration
	SyncEvery    int // cycles between ledger syncs; 0 disables
	// MaxQuoteAge drops quotes whose own timestamp is older than this at
	// refresh time. Unstamped quotes are kept. 0 keeps every quote.
	MaxQuoteAge time.Duration
}

// EngineDeps groups the collaborators of the engine.
type EngineDeps struct {
	Universe    *domain.Universe
	Provider    domain.MarketDataProvider
	Markets     *market.Markets
	Graph       *graph.Graph
	Detector    *graph.Detector
	Verifier    *Verifier
	Synthesizer *Synthesizer
	Sizer       Sizer
	Executor    PlanExecutor
	Ledger      Syncer
	ArbSvc      *service.ArbService
}

// CycleResult describes one completed cycle.
type CycleResult struct {
	Outcome     Outcome
	Opportunity *domain.Opportunity
	Execution   *domain.ArbExecution
	Reason      string
}

// Status is a point-in-time view of the engine for the API.
type Status struct {
	Mode            Mode                `json:"mode"`
	Cycles          int64               `json:"cycles"`
	Failures        int64               `json:"failures"`
	Opportunities   int64               `json:"opportunities"`
	Executions      int64               `json:"executions"`
	LastCycleAt     time.Time           `json:"last_cycle_at"`
	LastOutcome     Outcome             `json:"last_outcome"`
	LastError       string              `json:"last_error,omitempty"`
	LastOpportunity *domain.Opportunity `json:"last_opportunity,omitempty"`
}

// Engine runs refresh, detect, verify, size, execute and record in a single
// goroutine, so at most one execution is ever in flight.
type Engine struct {
	deps   EngineDeps
	cfg    EngineConfig
	logger *slog.Logger
	now    func() time.Time

	cycle int64

	mu     sync.RWMutex
	status Status
}

// NewEngine creates an engine.
func NewEngine(deps EngineDeps, cfg EngineConfig, logger *slog.Logger) *Engine {
	if cfg.Mode == "" {
		cfg.Mode = ModeTrade
	}
	return &Engine{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "arb_engine")),
		now:    time.Now,
		status: Status{Mode: cfg.Mode},
	}
}

// Run loops until ctx is cancelled. A running cycle is never interrupted;
// cancellation is observed between cycles.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("arb engine started",
		slog.String("mode", string(e.cfg.Mode)),
		slog.String("source", string(e.cfg.Source)),
		slog.Duration("poll_interval", e.cfg.PollInterval),
	)
	defer e.logger.Info("arb engine stopped")

	for {
		wait := e.cfg.PollInterval
		res, err := e.RunCycle(context.WithoutCancel(ctx))
		if err != nil {
			if needsBackoff(err) {
				wait = e.cfg.ErrorBackoff
			}
			e.logger.Error("cycle failed", slog.String("error", err.Error()), slog.Duration("retry_in", wait))
		} else {
			e.logger.Debug("cycle complete", slog.String("outcome", string(res.Outcome)))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// needsBackoff reports whether a failed cycle should wait the extended
// backoff. Invariant violations and rejected legs are not transient.
func needsBackoff(err error) bool {
	return !domain.IsInvariantViolation(err) && !errors.Is(err, domain.ErrLegFailed)
}

// RunCycle performs one full detection cycle.
func (e *Engine) RunCycle(ctx context.Context) (res CycleResult, err error) {
	e.cycle++
	defer func() { e.finish(res, err) }()

	ts := e.now().UTC()
	if err := e.refresh(ctx, ts); err != nil {
		return CycleResult{Outcome: OutcomeNoQuotes}, err
	}

	if e.cfg.SyncEvery > 0 && (e.cycle-1)%int64(e.cfg.SyncEvery) == 0 {
		if err := e.deps.Ledger.Sync(ctx); err != nil {
			return CycleResult{Outcome: OutcomeNoCycle}, fmt.Errorf("arb engine: ledger sync: %w", err)
		}
	}

	snap := e.deps.Graph.Snapshot()
	path, found, err := e.deps.Detector.Detect(snap, e.cfg.Source)
	if err != nil {
		return CycleResult{Outcome: OutcomeNoCycle}, fmt.Errorf("arb engine: detect: %w", err)
	}
	if !found {
		return CycleResult{Outcome: OutcomeNoCycle}, nil
	}

	opp, err := e.deps.Verifier.Verify(snap, path)
	switch {
	case errors.Is(err, domain.ErrNotProfitable), errors.Is(err, domain.ErrBelowThreshold), errors.Is(err, domain.ErrNotFound):
		e.logger.Info("opportunity rejected", slog.Any("path", path), slog.String("reason", err.Error()))
		return CycleResult{Outcome: OutcomeRejected, Reason: err.Error()}, nil
	case err != nil:
		return CycleResult{Outcome: OutcomeRejected}, fmt.Errorf("arb engine: verify: %w", err)
	}
	opp.DetectedAt = ts
	if e.deps.ArbSvc != nil {
		if err := e.deps.ArbSvc.RecordOpportunity(ctx, &opp); err != nil {
			e.logger.Warn("record opportunity failed", slog.String("error", err.Error()))
		}
	}
	res = CycleResult{Outcome: OutcomeDetected, Opportunity: &opp}

	orders, err := e.deps.Synthesizer.Synthesize(snap, opp.Cycle)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			res.Outcome, res.Reason = OutcomeRejected, err.Error()
			return res, nil
		}
		if errors.Is(err, domain.ErrNoSafeSize) {
			e.logger.Info("opportunity found but not actionable",
				slog.String("opp_id", opp.ID),
				slog.String("reason", err.Error()),
			)
			res.Outcome, res.Reason = OutcomeNotActionable, err.Error()
			return res, nil
		}
		return res, fmt.Errorf("arb engine: synthesize: %w", err)
	}
	if e.cfg.Mode == ModeMonitor {
		return res, nil
	}

	sized, err := e.deps.Sizer.Size(ctx, orders)
	if err != nil {
		if errors.Is(err, domain.ErrNoSafeSize) || errors.Is(err, domain.ErrNotFound) {
			e.logger.Info("opportunity found but not actionable",
				slog.String("opp_id", opp.ID),
				slog.String("reason", err.Error()),
			)
			res.Outcome, res.Reason = OutcomeNotActionable, err.Error()
			return res, nil
		}
		return res, fmt.Errorf("arb engine: size: %w", err)
	}

	exec, err := e.deps.Executor.Execute(ctx, executor.Plan{Opportunity: opp, Orders: sized.Orders, SizeUSD: sized.ValueUSD})
	if errors.Is(err, executor.ErrDuplicate) {
		res.Outcome = OutcomeDuplicate
		return res, nil
	}
	res.Outcome = OutcomeExecuted
	res.Execution = &exec
	if err != nil {
		return res, fmt.Errorf("arb engine: execute: %w", err)
	}
	return res, nil
}

// refresh fetches quotes from every exchange concurrently, then merges them
// into the graph once all fetches have returned. An exchange that fails keeps
// its previous edges; the cycle fails only when every exchange failed.
func (e *Engine) refresh(ctx context.Context, ts time.Time) error {
	exchanges := e.deps.Universe.Exchanges()
	pairs := e.deps.Universe.Pairs()
	quotes := make([]map[domain.Pair]domain.Quote, len(exchanges))
	errs := make([]error, len(exchanges))

	var g errgroup.Group
	for i, ex := range exchanges {
		g.Go(func() error {
			quotes[i], errs[i] = e.deps.Provider.FetchTicker(ctx, ex, pairs)
			return nil
		})
	}
	_ = g.Wait()

	updated := 0
	for i, ex := range exchanges {
		if errs[i] != nil {
			e.logger.Warn("quote refresh failed, keeping previous edges",
				slog.String("exchange", string(ex)),
				slog.String("error", errs[i].Error()),
			)
			continue
		}
		triples, err := e.deps.Markets.Update(ex, e.dropStale(ex, quotes[i], ts), ts)
		if err != nil {
			return fmt.Errorf("arb engine: update %s: %w", ex, err)
		}
		for _, tr := range triples {
			if _, err := e.deps.Graph.AddEdge(tr.Src, tr.Dst, tr.Edge); err != nil {
				return fmt.Errorf("arb engine: add edge: %w", err)
			}
		}
		updated++
	}
	if updated == 0 {
		return fmt.Errorf("arb engine: refresh: %w", errors.Join(append(errs, domain.ErrTransient)...))
	}
	return nil
}

// dropStale removes quotes older than MaxQuoteAge so a quote that sat in the
// cache is not restamped with the cycle time.
func (e *Engine) dropStale(ex domain.Exchange, quotes map[domain.Pair]domain.Quote, ts time.Time) map[domain.Pair]domain.Quote {
	if e.cfg.MaxQuoteAge <= 0 {
		return quotes
	}
	cutoff := ts.Add(-e.cfg.MaxQuoteAge)
	fresh := make(map[domain.Pair]domain.Quote, len(quotes))
	for p, q := range quotes {
		if !q.Timestamp.IsZero() && q.Timestamp.Before(cutoff) {
			e.logger.Debug("stale quote dropped",
				slog.String("exchange", string(ex)),
				slog.String("pair", p.String()),
				slog.Duration("age", ts.Sub(q.Timestamp)),
			)
			continue
		}
		fresh[p] = q
	}
	return fresh
}

func (e *Engine) finish(res CycleResult, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.Cycles = e.cycle
	e.status.LastCycleAt = e.now().UTC()
	e.status.LastOutcome = res.Outcome
	e.status.LastError = ""
	if err != nil {
		e.status.Failures++
		e.status.LastError = err.Error()
	}
	if res.Opportunity != nil {
		e.status.Opportunities++
		opp := *res.Opportunity
		e.status.LastOpportunity = &opp
	}
	if res.Execution != nil {
		e.status.Executions++
	}
}

// Status returns a copy of the engine counters.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}
