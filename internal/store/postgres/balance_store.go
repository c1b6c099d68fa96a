package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// BalanceStore implements domain.BalanceStore using PostgreSQL.
type BalanceStore struct {
	pool *pgxpool.Pool
}

// NewBalanceStore creates a new BalanceStore backed by the given connection pool.
func NewBalanceStore(pool *pgxpool.Pool) *BalanceStore {
	return &BalanceStore{pool: pool}
}

// SaveSnapshot writes a batch of balance rows in one round trip.
func (s *BalanceStore) SaveSnapshot(ctx context.Context, snaps []domain.BalanceSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, sn := range snaps {
		batch.Queue(`
			INSERT INTO balance_snapshots (exchange, currency, amount, amount_usd, source, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			string(sn.Exchange), string(sn.Currency), sn.Balance.Amount, sn.Balance.AmountUSD,
			sn.Source, sn.CreatedAt,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: save balance snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent row per currency for an exchange.
func (s *BalanceStore) Latest(ctx context.Context, exchange domain.Exchange) ([]domain.BalanceSnapshot, error) {
	const query = `
		SELECT DISTINCT ON (currency) exchange, currency, amount, amount_usd, source, created_at
		FROM balance_snapshots
		WHERE exchange = $1
		ORDER BY currency, created_at DESC`

	rows, err := s.pool.Query(ctx, query, string(exchange))
	if err != nil {
		return nil, fmt.Errorf("postgres: latest balances %s: %w", exchange, err)
	}
	defer rows.Close()

	var out []domain.BalanceSnapshot
	for rows.Next() {
		var sn domain.BalanceSnapshot
		var ex, cur string
		if err := rows.Scan(&ex, &cur, &sn.Balance.Amount, &sn.Balance.AmountUSD, &sn.Source, &sn.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan balance snapshot: %w", err)
		}
		sn.Exchange = domain.Exchange(ex)
		sn.Currency = domain.Currency(cur)
		out = append(out, sn)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.BalanceStore = (*BalanceStore)(nil)
