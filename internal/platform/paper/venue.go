// Package paper is an in-memory venue that fills limit orders against
// simulated balances. It stands in for real exchange connectivity.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// Venue implements BalanceProvider and OrderExecutor for every exchange of
// the universe.
type Venue struct {
	universe *domain.Universe
	logger   *slog.Logger

	mu       sync.Mutex
	balances map[domain.Exchange]map[domain.Currency]decimal.Decimal
}

var (
	_ domain.BalanceProvider = (*Venue)(nil)
	_ domain.OrderExecutor   = (*Venue)(nil)
)

// New seeds a venue with initial balances. Every key must belong to the
// universe.
func New(universe *domain.Universe, initial map[domain.Exchange]map[domain.Currency]float64, logger *slog.Logger) (*Venue, error) {
	v := &Venue{
		universe: universe,
		logger:   logger.With(slog.String("component", "paper_venue")),
		balances: make(map[domain.Exchange]map[domain.Currency]decimal.Decimal),
	}
	for _, ex := range universe.Exchanges() {
		v.balances[ex] = make(map[domain.Currency]decimal.Decimal)
	}
	for ex, row := range initial {
		if !universe.HasExchange(ex) {
			return nil, fmt.Errorf("paper: seed %s: %w", ex, domain.ErrUnknownExchange)
		}
		for c, amt := range row {
			if !universe.HasCurrency(c) {
				return nil, fmt.Errorf("paper: seed %s on %s: %w", c, ex, domain.ErrUnknownCurrency)
			}
			v.balances[ex][c] = decimal.NewFromFloat(amt)
		}
	}
	return v, nil
}

// FetchBalance returns the simulated balances of one exchange.
func (v *Venue) FetchBalance(_ context.Context, ex domain.Exchange) (map[domain.Currency]float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	row, ok := v.balances[ex]
	if !ok {
		return nil, fmt.Errorf("paper: balance %s: %w", ex, domain.ErrUnknownExchange)
	}
	out := make(map[domain.Currency]float64, len(row))
	for c, amt := range row {
		out[c] = amt.InexactFloat64()
	}
	return out, nil
}

// Submit fills the order in full at its limit price when the funding
// balance covers it and returns a rejected receipt otherwise.
func (v *Venue) Submit(ctx context.Context, o domain.Order) (domain.Receipt, error) {
	if err := o.Validate(); err != nil {
		return domain.Receipt{}, fmt.Errorf("paper: submit: %w", err)
	}
	if !v.universe.IsNative(o.Pair) {
		return domain.Receipt{}, fmt.Errorf("paper: submit %s: pair not listed: %w", o.Pair, domain.ErrInvalidOrder)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	row, ok := v.balances[o.Exchange]
	if !ok {
		return domain.Receipt{}, fmt.Errorf("paper: submit: %s: %w", o.Exchange, domain.ErrUnknownExchange)
	}

	volume := decimal.NewFromFloat(o.Volume)
	notional := volume.Mul(decimal.NewFromFloat(o.Price))
	base, quote := o.Pair.Base, o.Pair.Quote

	need, have := notional, row[quote]
	if o.Side == domain.OrderSideSell {
		need, have = volume, row[base]
	}
	if have.LessThan(need) {
		v.logger.InfoContext(ctx, "order rejected",
			slog.String("order", o.String()),
			slog.String("need", need.String()),
			slog.String("have", have.String()),
		)
		return domain.Receipt{
			OrderID: o.ID,
			Status:  domain.OrderStatusRejected,
			Message: domain.ErrInsufficientBalance.Error(),
		}, nil
	}

	if o.Side == domain.OrderSideSell {
		row[base] = row[base].Sub(volume)
		row[quote] = row[quote].Add(notional)
	} else {
		row[base] = row[base].Add(volume)
		row[quote] = row[quote].Sub(notional)
	}

	return domain.Receipt{
		OrderID:      o.ID,
		VenueOrderID: uuid.NewString(),
		Status:       domain.OrderStatusFilled,
		FilledVolume: o.Volume,
		FilledPrice:  o.Price,
	}, nil
}
