package handler

import (
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/alanyoungcy/cyclearb/internal/arbitrage"
	"github.com/alanyoungcy/cyclearb/internal/domain"
	"github.com/alanyoungcy/cyclearb/internal/graph"
)

// EngineStatus reports the polling loop's counters.
type EngineStatus interface {
	Status() arbitrage.Status
}

// BalanceSource reports the ledger's balances.
type BalanceSource interface {
	Balances() map[domain.Exchange]map[domain.Currency]domain.ValuePair
}

// EdgeSource reports the live graph's edges.
type EdgeSource interface {
	Edges() []graph.Triple
}

// StatusHandler serves engine, ledger and graph state for the dashboard.
type StatusHandler struct {
	engine   EngineStatus
	balances BalanceSource
	edges    EdgeSource
	logger   *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(engine EngineStatus, balances BalanceSource, edges EdgeSource, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		engine:   engine,
		balances: balances,
		edges:    edges,
		logger:   logHandler(logger, "status"),
	}
}

// GetStatus responds with the engine's mode and cycle counters.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status())
}

type balanceRow struct {
	Exchange  domain.Exchange `json:"exchange"`
	Currency  domain.Currency `json:"currency"`
	Amount    float64         `json:"amount"`
	AmountUSD float64         `json:"amount_usd"`
}

type balancesResponse struct {
	Balances []balanceRow `json:"balances"`
	TotalUSD float64      `json:"total_usd"`
}

// GetBalances responds with every ledger row, sorted by exchange then
// currency, and the valued total.
// GET /api/balances
func (h *StatusHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	resp := balancesResponse{Balances: []balanceRow{}}
	for ex, row := range h.balances.Balances() {
		for c, vp := range row {
			resp.Balances = append(resp.Balances, balanceRow{
				Exchange:  ex,
				Currency:  c,
				Amount:    vp.Amount,
				AmountUSD: vp.AmountUSD,
			})
			resp.TotalUSD += vp.AmountUSD
		}
	}
	sort.Slice(resp.Balances, func(i, j int) bool {
		a, b := resp.Balances[i], resp.Balances[j]
		if a.Exchange != b.Exchange {
			return a.Exchange < b.Exchange
		}
		return a.Currency < b.Currency
	})
	writeJSON(w, http.StatusOK, resp)
}

type edgeRow struct {
	From      domain.Currency `json:"from"`
	To        domain.Currency `json:"to"`
	Rate      float64         `json:"rate"`
	Weight    float64         `json:"weight"`
	Volume    float64         `json:"volume"`
	Exchange  domain.Exchange `json:"exchange"`
	Pair      string          `json:"pair"`
	Side      string          `json:"side"`
	Timestamp string          `json:"timestamp"`
}

// GetEdges responds with the current graph edges in src-major order.
// GET /api/graph/edges
func (h *StatusHandler) GetEdges(w http.ResponseWriter, r *http.Request) {
	triples := h.edges.Edges()
	rows := make([]edgeRow, 0, len(triples))
	for _, t := range triples {
		rows = append(rows, edgeRow{
			From:      t.Src,
			To:        t.Dst,
			Rate:      t.Edge.Rate(),
			Weight:    t.Edge.Weight(),
			Volume:    t.Edge.Volume,
			Exchange:  t.Edge.Exchange,
			Pair:      t.Edge.Pair.String(),
			Side:      string(t.Edge.Side),
			Timestamp: t.Edge.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}
	h.logger.DebugContext(r.Context(), "graph edges served", slog.Int("edges", len(rows)))
	writeJSON(w, http.StatusOK, map[string]any{"edges": rows})
}
