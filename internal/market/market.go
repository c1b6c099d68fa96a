// Package market keeps one quote graph per exchange and converts amounts
// between currencies at each venue's current rates.
package market

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/cyclearb/internal/domain"
	"github.com/alanyoungcy/cyclearb/internal/graph"
)

// Markets holds the latest per-exchange graphs.
type Markets struct {
	universe *domain.Universe
	logger   *slog.Logger

	mu     sync.RWMutex
	graphs []*graph.Graph // indexed by universe exchange index
}

var _ domain.CurrencyConverter = (*Markets)(nil)

// New creates an empty market per configured exchange.
func New(universe *domain.Universe, logger *slog.Logger) *Markets {
	m := &Markets{
		universe: universe,
		logger:   logger.With(slog.String("component", "markets")),
		graphs:   make([]*graph.Graph, len(universe.Exchanges())),
	}
	for i := range m.graphs {
		m.graphs[i] = graph.NewFromUniverse(universe)
	}
	return m
}

// Update rebuilds an exchange's graph from a fresh set of quotes and returns
// the edges it produced so the caller can merge them into the combined
// graph. Invalid quotes are skipped.
func (m *Markets) Update(exchange domain.Exchange, quotes map[domain.Pair]domain.Quote, ts time.Time) ([]graph.Triple, error) {
	idx, err := m.universe.ExchangeIndex(exchange)
	if err != nil {
		return nil, fmt.Errorf("market: update: %w", err)
	}

	g := graph.NewFromUniverse(m.universe)
	triples := make([]graph.Triple, 0, 2*len(quotes))
	for _, pair := range m.universe.Pairs() {
		q, ok := quotes[pair]
		if !ok {
			continue
		}
		q.Exchange = exchange
		q.Pair = pair
		fwd, rev, err := graph.QuoteEdges(q, ts)
		if err != nil {
			m.logger.Warn("skipping quote", slog.String("exchange", string(exchange)),
				slog.String("pair", pair.String()), slog.String("error", err.Error()))
			continue
		}
		if _, err := g.AddEdge(pair.Base, pair.Quote, fwd); err != nil {
			return nil, fmt.Errorf("market: update %s %s: %w", exchange, pair, err)
		}
		if _, err := g.AddEdge(pair.Quote, pair.Base, rev); err != nil {
			return nil, fmt.Errorf("market: update %s %s: %w", exchange, pair, err)
		}
		triples = append(triples,
			graph.Triple{Src: pair.Base, Dst: pair.Quote, Edge: fwd},
			graph.Triple{Src: pair.Quote, Dst: pair.Base, Edge: rev},
		)
	}

	m.mu.Lock()
	m.graphs[idx] = g
	m.mu.Unlock()
	return triples, nil
}

// Graph returns the current graph of one exchange.
func (m *Markets) Graph(exchange domain.Exchange) (*graph.Graph, error) {
	idx, err := m.universe.ExchangeIndex(exchange)
	if err != nil {
		return nil, fmt.Errorf("market: %w", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.graphs[idx], nil
}

// Convert values amount of from in to using the exchange's direct edge.
// Converting a currency to itself is the identity.
func (m *Markets) Convert(exchange domain.Exchange, amount float64, from, to domain.Currency) (float64, error) {
	g, err := m.Graph(exchange)
	if err != nil {
		return 0, err
	}
	if !m.universe.HasCurrency(from) {
		return 0, fmt.Errorf("market: convert from %s: %w", from, domain.ErrUnknownCurrency)
	}
	if !m.universe.HasCurrency(to) {
		return 0, fmt.Errorf("market: convert to %s: %w", to, domain.ErrUnknownCurrency)
	}
	if from == to {
		return amount, nil
	}
	e, err := g.Edge(from, to)
	if err != nil {
		return 0, fmt.Errorf("market: convert %s->%s on %s: %w", from, to, exchange, err)
	}
	return amount * e.Rate(), nil
}
