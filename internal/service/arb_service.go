package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// ArbService records opportunities and executions. Every dependency is
// optional: a nil store, bus or notifier is skipped so the engine can run
// without persistence.
type ArbService struct {
	opps     domain.OpportunityStore
	execs    domain.ArbExecutionStore
	orders   domain.OrderStore
	audit    domain.AuditStore
	bus      domain.SignalBus
	notifier domain.Notifier
	logger   *slog.Logger
}

// ArbServiceDeps groups the ArbService collaborators.
type ArbServiceDeps struct {
	Opportunities domain.OpportunityStore
	Executions    domain.ArbExecutionStore
	Orders        domain.OrderStore
	Audit         domain.AuditStore
	Bus           domain.SignalBus
	Notifier      domain.Notifier
}

// NewArbService creates an ArbService with the given dependencies.
func NewArbService(deps ArbServiceDeps, logger *slog.Logger) *ArbService {
	return &ArbService{
		opps:     deps.Opportunities,
		execs:    deps.Executions,
		orders:   deps.Orders,
		audit:    deps.Audit,
		bus:      deps.Bus,
		notifier: deps.Notifier,
		logger:   logger.With(slog.String("component", "arb_service")),
	}
}

// RecordOpportunity assigns an id when missing, persists the opportunity and
// publishes it. Only the store insert can fail the call.
func (s *ArbService) RecordOpportunity(ctx context.Context, opp *domain.Opportunity) error {
	if opp.ID == "" {
		opp.ID = uuid.NewString()
	}
	if opp.DetectedAt.IsZero() {
		opp.DetectedAt = time.Now().UTC()
	}
	if s.opps != nil {
		if err := s.opps.Insert(ctx, *opp); err != nil {
			return fmt.Errorf("arb_service: insert opportunity: %w", err)
		}
	}

	s.publish(ctx, domain.ChannelOpportunity, map[string]any{
		"event":          "opportunity",
		"opp_id":         opp.ID,
		"cycle":          opp.Cycle,
		"exchanges":      opp.Exchanges,
		"percent_growth": opp.PercentGrowth,
		"bottleneck":     opp.BottleneckVolume,
	})
	s.log(ctx, "arb.opportunity", map[string]any{
		"opp_id":         opp.ID,
		"cycle":          cycleString(opp.Cycle),
		"sum_weight":     opp.SumWeight,
		"product_rate":   opp.ProductRate,
		"percent_growth": opp.PercentGrowth,
	})
	s.notify(ctx, domain.EventOpportunity, "Arbitrage opportunity",
		fmt.Sprintf("%s  +%.4f%%  bottleneck %.8g", cycleString(opp.Cycle), opp.PercentGrowth, opp.BottleneckVolume))

	s.logger.InfoContext(ctx, "opportunity recorded",
		slog.String("opp_id", opp.ID),
		slog.String("cycle", cycleString(opp.Cycle)),
		slog.Float64("percent_growth", opp.PercentGrowth),
	)
	return nil
}

// RecordOrder stores one submitted order with its outcome.
func (s *ArbService) RecordOrder(ctx context.Context, order domain.Order, receipt domain.Receipt) error {
	if s.orders == nil {
		return nil
	}
	if err := s.orders.Create(ctx, order, receipt); err != nil {
		return fmt.Errorf("arb_service: store order %s: %w", order.ID, err)
	}
	return nil
}

// RecordExecution appends the per-leg and summary audit records, stores the
// execution and raises a review when it ended unbalanced.
func (s *ArbService) RecordExecution(ctx context.Context, exec domain.ArbExecution) error {
	for i, leg := range exec.Legs {
		s.log(ctx, "arb.leg", map[string]any{
			"exec_id":          exec.ID,
			"leg":              i,
			"pair":             leg.Pair.String(),
			"volume":           leg.Volume,
			"reference_volume": leg.ReferenceVolume,
			"reference":        string(exec.Reference),
			"exchange":         string(leg.Exchange),
			"side":             string(leg.Side),
			"status":           string(leg.Status),
		})
	}
	s.log(ctx, "arb.summary", map[string]any{
		"exec_id":        exec.ID,
		"opp_id":         exec.OpportunityID,
		"bottleneck":     exec.BottleneckVolume,
		"size_usd":       exec.SizeUSD,
		"percent_growth": exec.PercentGrowth,
		"profit_usd":     exec.ProfitUSD,
		"status":         string(exec.Status),
	})

	var storeErr error
	if s.execs != nil {
		if err := s.execs.Create(ctx, exec); err != nil {
			storeErr = fmt.Errorf("arb_service: store execution: %w", err)
		}
	}
	if s.opps != nil && exec.OpportunityID != "" && exec.Status == domain.ArbExecFilled {
		if err := s.opps.MarkExecuted(ctx, exec.OpportunityID); err != nil {
			s.logger.WarnContext(ctx, "mark executed failed",
				slog.String("opp_id", exec.OpportunityID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.publish(ctx, domain.ChannelExecution, map[string]any{
		"event":      "execution",
		"exec_id":    exec.ID,
		"status":     exec.Status,
		"size_usd":   exec.SizeUSD,
		"profit_usd": exec.ProfitUSD,
	})

	if exec.Status == domain.ArbExecNeedsReview {
		s.raiseReview(ctx, exec)
	} else {
		s.notify(ctx, domain.EventExecution, "Arbitrage executed",
			fmt.Sprintf("%s  $%.2f  profit $%.4f", exec.Status, exec.SizeUSD, exec.ProfitUSD))
	}

	s.logger.InfoContext(ctx, "execution recorded",
		slog.String("exec_id", exec.ID),
		slog.String("status", string(exec.Status)),
		slog.Float64("profit_usd", exec.ProfitUSD),
	)
	return storeErr
}

// raiseReview flags an unbalanced execution for an operator. Nothing is
// corrected automatically.
func (s *ArbService) raiseReview(ctx context.Context, exec domain.ArbExecution) {
	legs := make([]string, 0, len(exec.Legs))
	for _, l := range exec.Legs {
		legs = append(legs, fmt.Sprintf("%s %s %s %.8g: %s", l.Exchange, l.Side, l.Pair, l.Volume, l.Status))
	}
	s.publish(ctx, domain.ChannelReview, map[string]any{
		"event":   "review",
		"exec_id": exec.ID,
		"legs":    legs,
	})
	s.log(ctx, "arb.review", map[string]any{"exec_id": exec.ID, "legs": legs})
	s.notify(ctx, domain.EventReview, "Execution needs review", strings.Join(legs, "\n"))
	s.logger.ErrorContext(ctx, "execution left unbalanced, flagged for review",
		slog.String("exec_id", exec.ID),
		slog.Any("legs", legs),
	)
}

// ListOpportunities returns the most recent opportunities.
func (s *ArbService) ListOpportunities(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	if s.opps == nil {
		return nil, nil
	}
	opps, err := s.opps.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("arb_service: list opportunities: %w", err)
	}
	return opps, nil
}

// ListExecutions returns the most recent executions.
func (s *ArbService) ListExecutions(ctx context.Context, limit int) ([]domain.ArbExecution, error) {
	if s.execs == nil {
		return nil, nil
	}
	execs, err := s.execs.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("arb_service: list executions: %w", err)
	}
	return execs, nil
}

// GetExecution returns one execution or ErrNotFound.
func (s *ArbService) GetExecution(ctx context.Context, id string) (domain.ArbExecution, error) {
	if s.execs == nil {
		return domain.ArbExecution{}, fmt.Errorf("arb_service: execution %s: %w", id, domain.ErrNotFound)
	}
	exec, err := s.execs.GetByID(ctx, id)
	if err != nil {
		return domain.ArbExecution{}, fmt.Errorf("arb_service: get execution %s: %w", id, err)
	}
	return exec, nil
}

// ProfitSince sums expected profit of executions started after since.
func (s *ArbService) ProfitSince(ctx context.Context, since time.Time) (float64, error) {
	if s.execs == nil {
		return 0, nil
	}
	total, err := s.execs.SumProfit(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("arb_service: sum profit: %w", err)
	}
	return total, nil
}

// auditStreamPage and auditStreamScan bound how much of the audit stream a
// listing reads when there is no audit store.
const (
	auditStreamPage = 500
	auditStreamScan = 10_000
)

// auditRecord is the payload appended to the audit stream.
type auditRecord struct {
	Event  string         `json:"event"`
	Detail map[string]any `json:"detail"`
	At     time.Time      `json:"at"`
}

// ListAudit returns audit entries, newest first. Without an audit store it
// falls back to the audit stream on the bus.
func (s *ArbService) ListAudit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if s.audit == nil {
		if s.bus == nil {
			return nil, nil
		}
		return s.auditFromStream(ctx, opts)
	}
	entries, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("arb_service: list audit: %w", err)
	}
	return entries, nil
}

func (s *ArbService) auditFromStream(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var entries []domain.AuditEntry
	lastID, scanned := "0", 0
	for scanned < auditStreamScan {
		msgs, err := s.bus.StreamRead(ctx, domain.StreamAudit, lastID, auditStreamPage)
		if err != nil {
			return nil, fmt.Errorf("arb_service: read audit stream: %w", err)
		}
		if len(msgs) == 0 {
			break
		}
		for _, m := range msgs {
			lastID = m.ID
			scanned++
			var rec auditRecord
			if err := json.Unmarshal(m.Payload, &rec); err != nil {
				continue
			}
			if opts.Since != nil && rec.At.Before(*opts.Since) {
				continue
			}
			if opts.Until != nil && rec.At.After(*opts.Until) {
				continue
			}
			entries = append(entries, domain.AuditEntry{
				ID:        int64(scanned),
				Event:     rec.Event,
				Detail:    rec.Detail,
				CreatedAt: rec.At,
			})
		}
	}

	slices.Reverse(entries)
	if opts.Offset > 0 {
		entries = entries[min(opts.Offset, len(entries)):]
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// ComputeProfit sets ProfitUSD from the executed size and the cycle's growth.
// Executions that did not fill every leg earn nothing.
func ComputeProfit(exec *domain.ArbExecution) {
	if exec.Status != domain.ArbExecFilled {
		exec.ProfitUSD = 0
		return
	}
	exec.ProfitUSD = exec.SizeUSD * exec.PercentGrowth / 100
}

// log writes to the audit store and mirrors the record onto the audit stream.
func (s *ArbService) log(ctx context.Context, event string, detail map[string]any) {
	if s.audit != nil {
		if err := s.audit.Log(ctx, event, detail); err != nil {
			s.logger.WarnContext(ctx, "audit log failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.bus != nil {
		payload, err := json.Marshal(auditRecord{Event: event, Detail: detail, At: time.Now().UTC()})
		if err == nil {
			err = s.bus.StreamAppend(ctx, domain.StreamAudit, payload)
		}
		if err != nil {
			s.logger.WarnContext(ctx, "audit stream append failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *ArbService) publish(ctx context.Context, channel string, evt map[string]any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err == nil {
		err = s.bus.Publish(ctx, channel, payload)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ArbService) notify(ctx context.Context, event, title, msg string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, msg); err != nil {
		s.logger.WarnContext(ctx, "notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func cycleString(cycle []domain.Currency) string {
	parts := make([]string, len(cycle))
	for i, c := range cycle {
		parts[i] = string(c)
	}
	return strings.Join(parts, "->")
}
