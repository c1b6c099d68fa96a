package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create stores an order together with the venue's receipt. Re-recording an
// order id overwrites the outcome columns.
func (s *OrderStore) Create(ctx context.Context, o domain.Order, r domain.Receipt) error {
	const query = `
		INSERT INTO orders (
			id, exchange, side, order_type, pair, price, volume,
			status, venue_order_id, filled_volume, filled_price, message,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status         = EXCLUDED.status,
			venue_order_id = EXCLUDED.venue_order_id,
			filled_volume  = EXCLUDED.filled_volume,
			filled_price   = EXCLUDED.filled_price,
			message        = EXCLUDED.message,
			updated_at     = NOW()`

	_, err := s.pool.Exec(ctx, query,
		o.ID, string(o.Exchange), string(o.Side), string(o.Type), o.Pair.String(), o.Price, o.Volume,
		string(r.Status), r.VenueOrderID, r.FilledVolume, r.FilledPrice, r.Message,
		o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// orderSelectCols lists the columns selected when reading orders.
const orderSelectCols = `id, exchange, side, order_type, pair, price, volume,
	status, venue_order_id, filled_volume, filled_price, message, created_at, updated_at`

func scanTradeRecord(row pgx.Row) (domain.TradeRecord, error) {
	var rec domain.TradeRecord
	var exchange, side, orderType, pair, status string

	err := row.Scan(
		&rec.Order.ID, &exchange, &side, &orderType, &pair, &rec.Order.Price, &rec.Order.Volume,
		&status, &rec.Receipt.VenueOrderID, &rec.Receipt.FilledVolume, &rec.Receipt.FilledPrice,
		&rec.Receipt.Message, &rec.Order.CreatedAt, &rec.At,
	)
	if err != nil {
		return domain.TradeRecord{}, err
	}

	rec.Order.Exchange = domain.Exchange(exchange)
	rec.Order.Side = domain.OrderSide(side)
	rec.Order.Type = domain.OrderType(orderType)
	if rec.Order.Pair, err = domain.ParsePair(pair); err != nil {
		return domain.TradeRecord{}, err
	}
	rec.Receipt.OrderID = rec.Order.ID
	rec.Receipt.Status = domain.OrderStatus(status)
	rec.Applied = rec.Receipt.Filled()
	return rec, nil
}

// ListRecent returns the most recently created orders with their outcomes.
func (s *OrderStore) ListRecent(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	defer rows.Close()

	var records []domain.TradeRecord
	for rows.Next() {
		rec, err := scanTradeRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
