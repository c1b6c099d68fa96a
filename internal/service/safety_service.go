package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// SafetyConfig holds the tunable limits applied to synthesized orders.
type SafetyConfig struct {
	Valuation         domain.Currency // common valuation currency, e.g. USDT
	MaxOrderValueUSD  float64
	MinOrderValueUSD  float64
	BalanceFraction   float64                 // share of a funding balance a leg may use
	PriceNudge        float64                 // fraction the price is moved against us
	QuantityPrecision map[domain.Exchange]int // decimal places per venue
	DefaultPrecision  int
}

// SafetyService clamps synthesized orders to configured limits and recorded
// balances.
type SafetyService struct {
	converter domain.CurrencyConverter
	balances  domain.BalanceReader
	cfg       SafetyConfig
	logger    *slog.Logger
}

// NewSafetyService creates a SafetyService with all required dependencies.
func NewSafetyService(
	converter domain.CurrencyConverter,
	balances domain.BalanceReader,
	cfg SafetyConfig,
	logger *slog.Logger,
) *SafetyService {
	return &SafetyService{
		converter: converter,
		balances:  balances,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "safety_service")),
	}
}

// Sized is the outcome of a successful Size call.
type Sized struct {
	Orders   []domain.Order
	ValueUSD float64 // common order value every leg was sized to
}

// Size resizes all legs to one common value and returns ErrNoSafeSize when
// that value is below the configured minimum.
//
// Steps:
//  1. Value every leg's volume in the valuation currency; keep the minimum
//  2. Cap by the maximum order value
//  3. Cap by BalanceFraction of each leg's funding balance
//  4. Reject below the minimum order value
//  5. Convert back per leg, truncate to venue precision, nudge the price
func (s *SafetyService) Size(ctx context.Context, orders []domain.Order) (Sized, error) {
	if len(orders) == 0 {
		return Sized{}, fmt.Errorf("safety_service: no orders: %w", domain.ErrInvalidOrder)
	}

	value := math.Inf(1)
	for _, o := range orders {
		v, err := s.converter.Convert(o.Exchange, o.Volume, o.Pair.Base, s.cfg.Valuation)
		if err != nil {
			return Sized{}, fmt.Errorf("safety_service: value leg %s: %w", o.Pair, err)
		}
		value = math.Min(value, v)
	}

	value = math.Min(value, s.cfg.MaxOrderValueUSD)

	for _, o := range orders {
		funding := o.Funding()
		bal, err := s.balances.Balance(o.Exchange, funding)
		if err != nil {
			return Sized{}, fmt.Errorf("safety_service: funding balance: %w", err)
		}
		limit := bal.AmountUSD * s.cfg.BalanceFraction
		if limit < value {
			s.logger.DebugContext(ctx, "leg capped by balance",
				slog.String("exchange", string(o.Exchange)),
				slog.String("currency", string(funding)),
				slog.Float64("available_usd", bal.AmountUSD),
				slog.Float64("cap_usd", limit),
			)
			value = limit
		}
	}

	if !(value >= s.cfg.MinOrderValueUSD) || value <= 0 {
		return Sized{}, fmt.Errorf("safety_service: order value %.4f below minimum %.4f: %w",
			value, s.cfg.MinOrderValueUSD, domain.ErrNoSafeSize)
	}

	sized := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		native, err := s.converter.Convert(o.Exchange, value, s.cfg.Valuation, o.Pair.Base)
		if err != nil {
			return Sized{}, fmt.Errorf("safety_service: native size %s: %w", o.Pair, err)
		}
		volume := s.truncate(o.Exchange, native)
		if volume <= 0 {
			return Sized{}, fmt.Errorf("safety_service: %s volume rounds to zero: %w", o.Pair, domain.ErrNoSafeSize)
		}
		sized = append(sized, o.WithSize(s.nudge(o), volume))
	}

	return Sized{Orders: sized, ValueUSD: value}, nil
}

// truncate rounds a quantity down to the venue's decimal precision so the
// sized order never exceeds the computed value.
func (s *SafetyService) truncate(ex domain.Exchange, qty float64) float64 {
	places, ok := s.cfg.QuantityPrecision[ex]
	if !ok {
		places = s.cfg.DefaultPrecision
	}
	f, _ := decimal.NewFromFloat(qty).Truncate(int32(places)).Float64()
	return f
}

// nudge moves the limit price toward the other side of the book: sells go
// lower and buys go higher.
func (s *SafetyService) nudge(o domain.Order) float64 {
	if o.Side == domain.OrderSideSell {
		return o.Price * (1 - s.cfg.PriceNudge)
	}
	return o.Price * (1 + s.cfg.PriceNudge)
}
