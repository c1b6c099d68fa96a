package domain

import "context"

// MarketDataProvider fetches top-of-book quotes. Pairs without a quote are
// omitted from the result; transport failures should wrap ErrTransient.
type MarketDataProvider interface {
	FetchTicker(ctx context.Context, exchange Exchange, pairs []Pair) (map[Pair]Quote, error)
}

// BalanceProvider fetches live balances from a venue.
type BalanceProvider interface {
	FetchBalance(ctx context.Context, exchange Exchange) (map[Currency]float64, error)
}

// OrderExecutor submits one order to its venue.
type OrderExecutor interface {
	Submit(ctx context.Context, order Order) (Receipt, error)
}

// CurrencyConverter converts an amount between currencies using an
// exchange's current rates.
type CurrencyConverter interface {
	Convert(exchange Exchange, amount float64, from, to Currency) (float64, error)
}

// BalanceReader exposes recorded balances.
type BalanceReader interface {
	Balance(exchange Exchange, currency Currency) (ValuePair, error)
}
