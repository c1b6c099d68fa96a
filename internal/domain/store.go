package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// OpportunityStore persists verified opportunities.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	MarkExecuted(ctx context.Context, id string) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
	ListBefore(ctx context.Context, before time.Time) ([]Opportunity, error)
}

// ArbExecutionStore persists arbitrage executions.
type ArbExecutionStore interface {
	Create(ctx context.Context, exec ArbExecution) error
	GetByID(ctx context.Context, id string) (ArbExecution, error)
	ListRecent(ctx context.Context, limit int) ([]ArbExecution, error)
	ListBefore(ctx context.Context, before time.Time) ([]ArbExecution, error)
	SumProfit(ctx context.Context, since time.Time) (float64, error)
}

// OrderStore persists every submitted order with its outcome.
type OrderStore interface {
	Create(ctx context.Context, order Order, receipt Receipt) error
	ListRecent(ctx context.Context, limit int) ([]TradeRecord, error)
}

// BalanceStore persists ledger snapshots.
type BalanceStore interface {
	SaveSnapshot(ctx context.Context, snaps []BalanceSnapshot) error
	Latest(ctx context.Context, exchange Exchange) ([]BalanceSnapshot, error)
}
