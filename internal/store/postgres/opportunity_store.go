package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given
// connection pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const oppSelectCols = `id, source, cycle, exchanges, sum_weight, product_rate,
	percent_growth, bottleneck_volume, executed, detected_at`

// Insert stores a verified opportunity.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	const query = `
		INSERT INTO opportunities (
			id, source, cycle, exchanges, sum_weight, product_rate,
			percent_growth, bottleneck_volume, executed, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		opp.ID, string(opp.Source), currencyStrings(opp.Cycle), exchangeStrings(opp.Exchanges),
		opp.SumWeight, opp.ProductRate, opp.PercentGrowth, opp.BottleneckVolume,
		opp.Executed, opp.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// MarkExecuted sets the executed flag and executed_at timestamp.
func (s *OpportunityStore) MarkExecuted(ctx context.Context, id string) error {
	const query = `UPDATE opportunities SET executed = TRUE, executed_at = NOW() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: mark opportunity executed %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecent returns the most recent opportunities ordered by detection time.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	query := `SELECT ` + oppSelectCols + ` FROM opportunities ORDER BY detected_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	return s.query(ctx, query, args...)
}

// ListBefore returns opportunities detected before the cutoff, oldest first.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	query := `SELECT ` + oppSelectCols + ` FROM opportunities WHERE detected_at < $1 ORDER BY detected_at ASC`
	return s.query(ctx, query, before)
}

func (s *OpportunityStore) query(ctx context.Context, query string, args ...any) ([]domain.Opportunity, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	defer rows.Close()

	var opps []domain.Opportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		opps = append(opps, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list opportunities rows: %w", err)
	}
	return opps, nil
}

func scanOpportunity(row pgx.Row) (domain.Opportunity, error) {
	var opp domain.Opportunity
	var source string
	var cycle, exchanges []string
	if err := row.Scan(
		&opp.ID, &source, &cycle, &exchanges, &opp.SumWeight, &opp.ProductRate,
		&opp.PercentGrowth, &opp.BottleneckVolume, &opp.Executed, &opp.DetectedAt,
	); err != nil {
		return domain.Opportunity{}, fmt.Errorf("postgres: scan opportunity: %w", err)
	}
	opp.Source = domain.Currency(source)
	opp.Cycle = make([]domain.Currency, len(cycle))
	for i, c := range cycle {
		opp.Cycle[i] = domain.Currency(c)
	}
	opp.Exchanges = make([]domain.Exchange, len(exchanges))
	for i, ex := range exchanges {
		opp.Exchanges[i] = domain.Exchange(ex)
	}
	return opp, nil
}

func currencyStrings(cs []domain.Currency) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

func exchangeStrings(es []domain.Exchange) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = string(e)
	}
	return out
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*OpportunityStore)(nil)
