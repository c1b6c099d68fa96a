package domain

import (
	"fmt"
	"time"
)

// OrderSide indicates whether this is a buy or sell of the pair's base.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the execution style requested from the venue.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusRejected OrderStatus = "rejected"
	OrderStatusFailed   OrderStatus = "failed"
	OrderStatusSkipped  OrderStatus = "skipped"
)

// Order is a synthesized trade instruction. Values are immutable once built;
// use the With* helpers to derive a resized copy.
type Order struct {
	ID        string    `json:"id"`
	Exchange  Exchange  `json:"exchange"`
	Side      OrderSide `json:"side"`
	Type      OrderType `json:"type"`
	Pair      Pair      `json:"pair"`
	Price     float64   `json:"price"`  // quote currency per unit of base
	Volume    float64   `json:"volume"` // base currency units
	CreatedAt time.Time `json:"created_at"`
}

// Funding returns the currency spent by the order: the base for a sell and
// the quote for a buy.
func (o Order) Funding() Currency {
	if o.Side == OrderSideSell {
		return o.Pair.Base
	}
	return o.Pair.Quote
}

// Notional is volume * price in quote currency.
func (o Order) Notional() float64 {
	return o.Volume * o.Price
}

// WithSize returns a copy with a new price and volume.
func (o Order) WithSize(price, volume float64) Order {
	o.Price = price
	o.Volume = volume
	return o
}

// Validate checks the fields a venue needs.
func (o Order) Validate() error {
	switch o.Side {
	case OrderSideBuy, OrderSideSell:
	default:
		return fmt.Errorf("domain: order side %q: %w", o.Side, ErrInvalidOrder)
	}
	switch o.Type {
	case OrderTypeLimit, OrderTypeMarket:
	default:
		return fmt.Errorf("domain: order type %q: %w", o.Type, ErrInvalidOrder)
	}
	if o.Volume <= 0 {
		return fmt.Errorf("domain: order volume %v: %w", o.Volume, ErrInvalidOrder)
	}
	if o.Type == OrderTypeLimit && o.Price <= 0 {
		return fmt.Errorf("domain: order price %v: %w", o.Price, ErrInvalidOrder)
	}
	return nil
}

func (o Order) String() string {
	return fmt.Sprintf("%s %s %s %.8g @ %.8g on %s", o.Type, o.Side, o.Pair, o.Volume, o.Price, o.Exchange)
}

// Receipt is the venue's answer to a submitted order.
type Receipt struct {
	OrderID      string      `json:"order_id"`
	VenueOrderID string      `json:"venue_order_id,omitempty"`
	Status       OrderStatus `json:"status"`
	FilledVolume float64     `json:"filled_volume"`
	FilledPrice  float64     `json:"filled_price"`
	Message      string      `json:"message,omitempty"`
}

// Filled reports whether the order executed.
func (r Receipt) Filled() bool {
	return r.Status == OrderStatusFilled
}

// TradeRecord is one entry of the ledger's order trail.
type TradeRecord struct {
	Order   Order     `json:"order"`
	Receipt Receipt   `json:"receipt"`
	Applied bool      `json:"applied"`
	At      time.Time `json:"at"`
}
