package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// ArbExecutionStore implements domain.ArbExecutionStore using PostgreSQL.
type ArbExecutionStore struct {
	pool *pgxpool.Pool
}

// NewArbExecutionStore creates a new ArbExecutionStore.
func NewArbExecutionStore(pool *pgxpool.Pool) *ArbExecutionStore {
	return &ArbExecutionStore{pool: pool}
}

const execSelectCols = `id, opportunity_id, reference, bottleneck_volume, size_usd,
	percent_growth, profit_usd, status, started_at, completed_at`

// Create inserts an arb execution and its legs in one transaction.
func (s *ArbExecutionStore) Create(ctx context.Context, exec domain.ArbExecution) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO arb_executions (id, opportunity_id, reference, bottleneck_volume, size_usd, percent_growth, profit_usd, status, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		exec.ID, exec.OpportunityID, string(exec.Reference), exec.BottleneckVolume,
		exec.SizeUSD, exec.PercentGrowth, exec.ProfitUSD,
		string(exec.Status), exec.StartedAt, exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert arb_execution: %w", err)
	}

	for _, leg := range exec.Legs {
		_, err = tx.Exec(ctx, `
			INSERT INTO arb_execution_legs (execution_id, order_id, exchange, pair, side, price, volume, reference_volume, status, error)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			exec.ID, leg.OrderID, string(leg.Exchange), leg.Pair.String(), string(leg.Side),
			leg.Price, leg.Volume, leg.ReferenceVolume, string(leg.Status), leg.Error,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert arb_execution_leg: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID returns an execution with its legs.
func (s *ArbExecutionStore) GetByID(ctx context.Context, id string) (domain.ArbExecution, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+execSelectCols+` FROM arb_executions WHERE id = $1`, id)
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ArbExecution{}, domain.ErrNotFound
		}
		return domain.ArbExecution{}, fmt.Errorf("postgres: get arb_execution %s: %w", id, err)
	}

	exec.Legs, err = s.legs(ctx, id)
	if err != nil {
		return domain.ArbExecution{}, err
	}
	return exec, nil
}

func (s *ArbExecutionStore) legs(ctx context.Context, id string) ([]domain.ArbLeg, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT order_id, exchange, pair, side, price, volume, reference_volume, status, error
		FROM arb_execution_legs WHERE execution_id = $1 ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: get arb_execution_legs: %w", err)
	}
	defer rows.Close()

	var legs []domain.ArbLeg
	for rows.Next() {
		var leg domain.ArbLeg
		var exchange, pair, side, status string
		if err := rows.Scan(&leg.OrderID, &exchange, &pair, &side, &leg.Price, &leg.Volume,
			&leg.ReferenceVolume, &status, &leg.Error); err != nil {
			return nil, fmt.Errorf("postgres: scan arb_execution_leg: %w", err)
		}
		leg.Exchange = domain.Exchange(exchange)
		if leg.Pair, err = domain.ParsePair(pair); err != nil {
			return nil, fmt.Errorf("postgres: scan arb_execution_leg: %w", err)
		}
		leg.Side = domain.OrderSide(side)
		leg.Status = domain.OrderStatus(status)
		legs = append(legs, leg)
	}
	return legs, rows.Err()
}

// ListRecent returns the most recent executions without their legs.
func (s *ArbExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ArbExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.list(ctx, `SELECT `+execSelectCols+` FROM arb_executions ORDER BY started_at DESC LIMIT $1`, limit)
}

// ListBefore returns executions started before the cutoff, oldest first, with
// their legs.
func (s *ArbExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ArbExecution, error) {
	list, err := s.list(ctx, `SELECT `+execSelectCols+` FROM arb_executions WHERE started_at < $1 ORDER BY started_at ASC`, before)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].Legs, err = s.legs(ctx, list[i].ID); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (s *ArbExecutionStore) list(ctx context.Context, query string, args ...any) ([]domain.ArbExecution, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list arb_executions: %w", err)
	}
	defer rows.Close()

	var list []domain.ArbExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan arb_execution: %w", err)
		}
		list = append(list, exec)
	}
	return list, rows.Err()
}

func scanExecution(row pgx.Row) (domain.ArbExecution, error) {
	var exec domain.ArbExecution
	var reference, status string
	if err := row.Scan(&exec.ID, &exec.OpportunityID, &reference, &exec.BottleneckVolume,
		&exec.SizeUSD, &exec.PercentGrowth, &exec.ProfitUSD, &status,
		&exec.StartedAt, &exec.CompletedAt); err != nil {
		return domain.ArbExecution{}, err
	}
	exec.Reference = domain.Currency(reference)
	exec.Status = domain.ArbExecStatus(status)
	return exec, nil
}

// SumProfit returns the expected profit of executions started since the
// given time.
func (s *ArbExecutionStore) SumProfit(ctx context.Context, since time.Time) (float64, error) {
	var sum float64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(profit_usd), 0) FROM arb_executions WHERE started_at >= $1`, since).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum arb_executions profit: %w", err)
	}
	return sum, nil
}

// Compile-time interface check.
var _ domain.ArbExecutionStore = (*ArbExecutionStore)(nil)
