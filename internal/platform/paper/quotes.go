package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// Quotes is a fixed order book used as the market data source in paper
// trading. Every fetch stamps the returned quotes with the current time.
type Quotes struct {
	mu     sync.RWMutex
	quotes map[domain.Exchange]map[domain.Pair]domain.Quote
	now    func() time.Time
}

// NewQuotes validates seed quotes against the universe. Each quote's
// Exchange and Pair fields are taken from its position in the map.
func NewQuotes(universe *domain.Universe, seed map[domain.Exchange]map[domain.Pair]domain.Quote) (*Quotes, error) {
	q := &Quotes{
		quotes: make(map[domain.Exchange]map[domain.Pair]domain.Quote, len(seed)),
		now:    time.Now,
	}
	for ex, row := range seed {
		if !universe.HasExchange(ex) {
			return nil, fmt.Errorf("paper: quotes for %s: %w", ex, domain.ErrUnknownExchange)
		}
		q.quotes[ex] = make(map[domain.Pair]domain.Quote, len(row))
		for p, quote := range row {
			if !universe.IsNative(p) {
				return nil, fmt.Errorf("paper: quote %s %s: pair not listed: %w", ex, p, domain.ErrInvalidQuote)
			}
			quote.Exchange, quote.Pair = ex, p
			if err := quote.Validate(); err != nil {
				return nil, fmt.Errorf("paper: seed quotes: %w", err)
			}
			q.quotes[ex][p] = quote
		}
	}
	return q, nil
}

// Set replaces one quote.
func (q *Quotes) Set(quote domain.Quote) error {
	if err := quote.Validate(); err != nil {
		return fmt.Errorf("paper: set quote: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	row, ok := q.quotes[quote.Exchange]
	if !ok {
		row = make(map[domain.Pair]domain.Quote)
		q.quotes[quote.Exchange] = row
	}
	row[quote.Pair] = quote
	return nil
}

// All returns every seeded quote, for feeders that mirror them elsewhere.
func (q *Quotes) All() []domain.Quote {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var out []domain.Quote
	for _, row := range q.quotes {
		for _, quote := range row {
			out = append(out, quote)
		}
	}
	return out
}

// FetchTicker returns the requested pairs that have a quote on ex.
func (q *Quotes) FetchTicker(_ context.Context, ex domain.Exchange, pairs []domain.Pair) (map[domain.Pair]domain.Quote, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	row := q.quotes[ex]
	ts := q.now()
	out := make(map[domain.Pair]domain.Quote, len(pairs))
	for _, p := range pairs {
		if quote, ok := row[p]; ok {
			quote.Timestamp = ts
			out[p] = quote
		}
	}
	return out, nil
}

var _ domain.MarketDataProvider = (*Quotes)(nil)
