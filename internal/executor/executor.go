// Package executor submits sized arbitrage legs to their venues and records
// the outcome of every attempt.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/cyclearb/internal/domain"
	"github.com/alanyoungcy/cyclearb/internal/service"
)

// ErrDuplicate is returned when the same plan was executed within the dedup
// window.
var ErrDuplicate = errors.New("executor: duplicate plan")

// LegRecorder receives every submitted order with its receipt. The ledger
// implements it and only applies filled legs.
type LegRecorder interface {
	Record(ctx context.Context, order domain.Order, receipt domain.Receipt) error
}

// Plan is a sized opportunity ready for submission.
type Plan struct {
	Opportunity domain.Opportunity
	Orders      []domain.Order
	SizeUSD     float64
}

// Executor places the legs of a plan one after another. The first leg that
// errors or does not fill stops the sequence.
type Executor struct {
	venue     domain.OrderExecutor
	recorder  LegRecorder
	converter domain.CurrencyConverter
	arbSvc    *service.ArbService
	dedup     *Dedup
	logger    *slog.Logger
}

// NewExecutor wires an executor. arbSvc may be nil in tests.
func NewExecutor(
	venue domain.OrderExecutor,
	recorder LegRecorder,
	converter domain.CurrencyConverter,
	arbSvc *service.ArbService,
	dedup *Dedup,
	logger *slog.Logger,
) *Executor {
	if dedup == nil {
		dedup = NewDedup(0)
	}
	return &Executor{
		venue:     venue,
		recorder:  recorder,
		converter: converter,
		arbSvc:    arbSvc,
		dedup:     dedup,
		logger:    logger.With(slog.String("component", "executor")),
	}
}

// Execute submits the plan's orders in leg order and returns the resulting
// execution record. A transport error from the venue is returned wrapped so
// the caller can back off; a rejected leg returns ErrLegFailed. Legs that
// filled before a failure stay recorded and mark the execution for review.
func (e *Executor) Execute(ctx context.Context, plan Plan) (domain.ArbExecution, error) {
	if len(plan.Orders) == 0 {
		return domain.ArbExecution{}, fmt.Errorf("executor: empty plan: %w", domain.ErrInvalidOrder)
	}
	if e.dedup.IsDuplicate(Fingerprint(plan.Orders)) {
		return domain.ArbExecution{}, ErrDuplicate
	}

	exec := domain.ArbExecution{
		ID:               uuid.NewString(),
		OpportunityID:    plan.Opportunity.ID,
		Reference:        plan.Opportunity.Source,
		Legs:             make([]domain.ArbLeg, 0, len(plan.Orders)),
		BottleneckVolume: plan.Opportunity.BottleneckVolume,
		SizeUSD:          plan.SizeUSD,
		PercentGrowth:    plan.Opportunity.PercentGrowth,
		StartedAt:        time.Now().UTC(),
	}

	var legErr error
	filled := 0
	for i, order := range plan.Orders {
		leg := domain.ArbLeg{
			OrderID:  order.ID,
			Exchange: order.Exchange,
			Pair:     order.Pair,
			Side:     order.Side,
			Price:    order.Price,
			Volume:   order.Volume,
			Status:   domain.OrderStatusSkipped,
		}
		leg.ReferenceVolume = e.referenceVolume(order, exec.Reference)

		if legErr != nil {
			exec.Legs = append(exec.Legs, leg)
			continue
		}

		receipt, err := e.venue.Submit(ctx, order)
		if err != nil {
			receipt = domain.Receipt{OrderID: order.ID, Status: domain.OrderStatusFailed, Message: err.Error()}
			legErr = fmt.Errorf("executor: submit leg %d %s: %w", i, order, err)
		} else if !receipt.Filled() {
			legErr = fmt.Errorf("executor: leg %d %s %s: %s: %w", i, order, receipt.Status, receipt.Message, domain.ErrLegFailed)
		}
		leg.Status = receipt.Status
		if receipt.Filled() {
			filled++
			if receipt.FilledVolume > 0 {
				leg.Volume = receipt.FilledVolume
			}
			if receipt.FilledPrice > 0 {
				leg.Price = receipt.FilledPrice
			}
		} else {
			leg.Error = receipt.Message
		}
		exec.Legs = append(exec.Legs, leg)

		if err := e.recorder.Record(ctx, order, receipt); err != nil {
			// The ledger only fails on universe violations, which no retry fixes.
			e.logger.ErrorContext(ctx, "ledger rejected leg",
				slog.String("order_id", order.ID),
				slog.String("error", err.Error()),
			)
			if legErr == nil {
				legErr = err
			}
		}
		if e.arbSvc != nil {
			if err := e.arbSvc.RecordOrder(ctx, order, receipt); err != nil {
				e.logger.WarnContext(ctx, "order record failed",
					slog.String("order_id", order.ID),
					slog.String("error", err.Error()),
				)
			}
		}

		e.logger.InfoContext(ctx, "leg submitted",
			slog.Int("leg", i),
			slog.String("order", order.String()),
			slog.String("status", string(receipt.Status)),
		)
	}

	switch {
	case filled == len(plan.Orders):
		exec.Status = domain.ArbExecFilled
	case filled == 0:
		exec.Status = domain.ArbExecFailed
	default:
		exec.Status = domain.ArbExecNeedsReview
	}
	now := time.Now().UTC()
	exec.CompletedAt = &now
	service.ComputeProfit(&exec)

	if e.arbSvc != nil {
		if err := e.arbSvc.RecordExecution(ctx, exec); err != nil {
			e.logger.WarnContext(ctx, "execution record failed",
				slog.String("exec_id", exec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return exec, legErr
}

func (e *Executor) referenceVolume(o domain.Order, ref domain.Currency) float64 {
	if ref == "" {
		return 0
	}
	v, err := e.converter.Convert(o.Exchange, o.Volume, o.Pair.Base, ref)
	if err != nil {
		e.logger.Debug("reference volume unavailable",
			slog.String("pair", o.Pair.String()),
			slog.String("reference", string(ref)),
			slog.String("error", err.Error()),
		)
		return 0
	}
	return v
}
