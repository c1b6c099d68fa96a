package domain

import (
	"fmt"
	"strings"
)

// Currency is an asset symbol such as BTC or USDT.
type Currency string

// Exchange identifies a trading venue.
type Exchange string

// Pair is a market quoted on an exchange: Base priced in Quote.
type Pair struct {
	Base  Currency
	Quote Currency
}

// String renders the pair as BASE/QUOTE.
func (p Pair) String() string {
	return string(p.Base) + "/" + string(p.Quote)
}

// Reverse swaps base and quote.
func (p Pair) Reverse() Pair {
	return Pair{Base: p.Quote, Quote: p.Base}
}

// ParsePair parses "BASE/QUOTE".
func ParsePair(s string) (Pair, error) {
	base, quote, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || base == "" || quote == "" {
		return Pair{}, fmt.Errorf("domain: parse pair %q: expected BASE/QUOTE", s)
	}
	return Pair{Base: Currency(strings.ToUpper(base)), Quote: Currency(strings.ToUpper(quote))}, nil
}

// MarshalText implements encoding.TextMarshaler so pairs can key JSON maps.
func (p Pair) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pair) UnmarshalText(b []byte) error {
	parsed, err := ParsePair(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Universe is the closed set of currencies, exchanges and natively quoted
// pairs the engine works with. It is fixed at construction; every lookup
// outside it is rejected with ErrUnknownCurrency or ErrUnknownExchange.
type Universe struct {
	currencies []Currency
	exchanges  []Exchange
	pairs      []Pair

	currencyIdx map[Currency]int
	exchangeIdx map[Exchange]int
	native      map[Pair]struct{}
}

// NewUniverse validates and indexes the configured universe.
func NewUniverse(currencies []Currency, exchanges []Exchange, pairs []Pair) (*Universe, error) {
	u := &Universe{
		currencyIdx: make(map[Currency]int, len(currencies)),
		exchangeIdx: make(map[Exchange]int, len(exchanges)),
		native:      make(map[Pair]struct{}, len(pairs)),
	}
	if len(currencies) < 2 {
		return nil, fmt.Errorf("domain: universe needs at least two currencies, got %d", len(currencies))
	}
	if len(exchanges) == 0 {
		return nil, fmt.Errorf("domain: universe needs at least one exchange")
	}

	for _, c := range currencies {
		if c == "" {
			return nil, fmt.Errorf("domain: empty currency symbol")
		}
		if _, dup := u.currencyIdx[c]; dup {
			return nil, fmt.Errorf("domain: currency %s: %w", c, ErrAlreadyExists)
		}
		u.currencyIdx[c] = len(u.currencies)
		u.currencies = append(u.currencies, c)
	}
	for _, e := range exchanges {
		if e == "" {
			return nil, fmt.Errorf("domain: empty exchange name")
		}
		if _, dup := u.exchangeIdx[e]; dup {
			return nil, fmt.Errorf("domain: exchange %s: %w", e, ErrAlreadyExists)
		}
		u.exchangeIdx[e] = len(u.exchanges)
		u.exchanges = append(u.exchanges, e)
	}
	for _, p := range pairs {
		if p.Base == p.Quote {
			return nil, fmt.Errorf("domain: pair %s: base equals quote", p)
		}
		if _, ok := u.currencyIdx[p.Base]; !ok {
			return nil, fmt.Errorf("domain: pair %s: base %s: %w", p, p.Base, ErrUnknownCurrency)
		}
		if _, ok := u.currencyIdx[p.Quote]; !ok {
			return nil, fmt.Errorf("domain: pair %s: quote %s: %w", p, p.Quote, ErrUnknownCurrency)
		}
		if _, dup := u.native[p]; dup {
			return nil, fmt.Errorf("domain: pair %s: %w", p, ErrAlreadyExists)
		}
		if _, rev := u.native[p.Reverse()]; rev {
			return nil, fmt.Errorf("domain: pair %s conflicts with %s", p, p.Reverse())
		}
		u.native[p] = struct{}{}
		u.pairs = append(u.pairs, p)
	}
	return u, nil
}

// Currencies returns the configured currencies in configuration order.
func (u *Universe) Currencies() []Currency {
	return append([]Currency(nil), u.currencies...)
}

// Exchanges returns the configured exchanges in configuration order.
func (u *Universe) Exchanges() []Exchange {
	return append([]Exchange(nil), u.exchanges...)
}

// Pairs returns the natively quoted pairs.
func (u *Universe) Pairs() []Pair {
	return append([]Pair(nil), u.pairs...)
}

// CurrencyIndex returns the stable index of c.
func (u *Universe) CurrencyIndex(c Currency) (int, error) {
	i, ok := u.currencyIdx[c]
	if !ok {
		return 0, fmt.Errorf("domain: currency %s: %w", c, ErrUnknownCurrency)
	}
	return i, nil
}

// ExchangeIndex returns the stable index of e.
func (u *Universe) ExchangeIndex(e Exchange) (int, error) {
	i, ok := u.exchangeIdx[e]
	if !ok {
		return 0, fmt.Errorf("domain: exchange %s: %w", e, ErrUnknownExchange)
	}
	return i, nil
}

// HasCurrency reports whether c is part of the universe.
func (u *Universe) HasCurrency(c Currency) bool {
	_, ok := u.currencyIdx[c]
	return ok
}

// HasExchange reports whether e is part of the universe.
func (u *Universe) HasExchange(e Exchange) bool {
	_, ok := u.exchangeIdx[e]
	return ok
}

// IsNative reports whether p is quoted as-is (not reversed) by the venues.
func (u *Universe) IsNative(p Pair) bool {
	_, ok := u.native[p]
	return ok
}
