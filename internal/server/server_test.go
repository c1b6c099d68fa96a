package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cyclearb/internal/arbitrage"
	"github.com/alanyoungcy/cyclearb/internal/domain"
	"github.com/alanyoungcy/cyclearb/internal/graph"
	"github.com/alanyoungcy/cyclearb/internal/server/handler"
	"github.com/alanyoungcy/cyclearb/internal/server/ws"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeEngine struct{ status arbitrage.Status }

func (f fakeEngine) Status() arbitrage.Status { return f.status }

type fakeBalances map[domain.Exchange]map[domain.Currency]domain.ValuePair

func (f fakeBalances) Balances() map[domain.Exchange]map[domain.Currency]domain.ValuePair { return f }

type fakeEdges []graph.Triple

func (f fakeEdges) Edges() []graph.Triple { return f }

type fakeArb struct {
	opps      []domain.Opportunity
	execs     map[string]domain.ArbExecution
	profit    float64
	since     time.Time
	audit     []domain.AuditEntry
	auditOpts domain.ListOpts
	err       error
}

func (f *fakeArb) ListOpportunities(_ context.Context, limit int) ([]domain.Opportunity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.opps[:min(limit, len(f.opps))], nil
}

func (f *fakeArb) ListExecutions(context.Context, int) ([]domain.ArbExecution, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.ArbExecution
	for _, e := range f.execs {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeArb) GetExecution(_ context.Context, id string) (domain.ArbExecution, error) {
	e, ok := f.execs[id]
	if !ok {
		return domain.ArbExecution{}, domain.ErrNotFound
	}
	return e, nil
}

func (f *fakeArb) ProfitSince(_ context.Context, since time.Time) (float64, error) {
	f.since = since
	return f.profit, f.err
}

func (f *fakeArb) ListAudit(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	f.auditOpts = opts
	return f.audit, f.err
}

type countingLimiter struct {
	mu    sync.Mutex
	count map[string]int
	err   error
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == nil {
		l.count = map[string]int{}
	}
	l.count[key]++
	return l.count[key] <= limit, nil
}

func testEdges(t *testing.T) fakeEdges {
	t.Helper()
	q := domain.Quote{
		Exchange:  "binance",
		Pair:      domain.Pair{Base: "ETH", Quote: "USDT"},
		Bid:       2000,
		Ask:       2001,
		BidVolume: 2,
		AskVolume: 3,
	}
	fwd, rev, err := graph.QuoteEdges(q, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	return fakeEdges{
		{Src: "ETH", Dst: "USDT", Edge: fwd},
		{Src: "USDT", Dst: "ETH", Edge: rev},
	}
}

func newTestHandler(t *testing.T, cfg Config, arb *fakeArb, limiter domain.RateLimiter) http.Handler {
	t.Helper()
	logger := discard()
	engine := fakeEngine{status: arbitrage.Status{Mode: arbitrage.ModeMonitor, Cycles: 7, LastOutcome: arbitrage.OutcomeNoCycle}}
	balances := fakeBalances{
		"kraken":  {"USDT": {Amount: 500, AmountUSD: 500}},
		"binance": {"ETH": {Amount: 1, AmountUSD: 2000}, "USDT": {Amount: 10, AmountUSD: 10}},
	}
	handlers := Handlers{
		Health: handler.NewHealthHandler(time.Now()),
		Status: handler.NewStatusHandler(engine, balances, testEdges(t), logger),
		Arb:    handler.NewArbHandler(arb, logger),
	}
	return Routes(cfg, handlers, nil, limiter, logger)
}

func get(t *testing.T, h http.Handler, target string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, Config{APIKey: "secret"}, &fakeArb{}, nil)
	rec := get(t, h, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestStatusAndBalances(t *testing.T) {
	h := newTestHandler(t, Config{}, &fakeArb{}, nil)

	rec := get(t, h, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "monitor", body["mode"])
	assert.EqualValues(t, 7, body["cycles"])
	assert.Equal(t, "no_cycle", body["last_outcome"])

	rec = get(t, h, "/api/balances", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bal struct {
		Balances []struct {
			Exchange string  `json:"exchange"`
			Currency string  `json:"currency"`
			Amount   float64 `json:"amount"`
		} `json:"balances"`
		TotalUSD float64 `json:"total_usd"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bal))
	require.Len(t, bal.Balances, 3)
	assert.Equal(t, "binance", bal.Balances[0].Exchange)
	assert.Equal(t, "ETH", bal.Balances[0].Currency)
	assert.Equal(t, "kraken", bal.Balances[2].Exchange)
	assert.InDelta(t, 2510, bal.TotalUSD, 1e-9)
}

func TestGraphEdges(t *testing.T) {
	h := newTestHandler(t, Config{}, &fakeArb{}, nil)
	rec := get(t, h, "/api/graph/edges", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Edges []struct {
			From   string  `json:"from"`
			To     string  `json:"to"`
			Rate   float64 `json:"rate"`
			Weight float64 `json:"weight"`
			Pair   string  `json:"pair"`
			Side   string  `json:"side"`
		} `json:"edges"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Edges, 2)
	assert.Equal(t, "ETH", out.Edges[0].From)
	assert.Equal(t, 2000.0, out.Edges[0].Rate)
	assert.Equal(t, "ETH/USDT", out.Edges[0].Pair)
	assert.Equal(t, "bid", out.Edges[0].Side)
	assert.Equal(t, "ask", out.Edges[1].Side)
	assert.Less(t, out.Edges[0].Weight, 0.0)
	assert.Greater(t, out.Edges[1].Weight, 0.0)
}

func TestOpportunitiesLimitAndEmpty(t *testing.T) {
	arb := &fakeArb{opps: []domain.Opportunity{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	h := newTestHandler(t, Config{}, arb, nil)

	rec := get(t, h, "/api/opportunities?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["opportunities"], 2)

	h = newTestHandler(t, Config{}, &fakeArb{}, nil)
	rec = get(t, h, "/api/opportunities", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"opportunities":[]}`, rec.Body.String())
}

func TestExecutions(t *testing.T) {
	arb := &fakeArb{execs: map[string]domain.ArbExecution{
		"e1": {ID: "e1", Status: domain.ArbExecFilled, SizeUSD: 100},
	}}
	h := newTestHandler(t, Config{}, arb, nil)

	rec := get(t, h, "/api/executions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["executions"], 1)

	rec = get(t, h, "/api/executions/e1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "e1", decode(t, rec)["id"])

	rec = get(t, h, "/api/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProfitSince(t *testing.T) {
	arb := &fakeArb{profit: 12.5}
	h := newTestHandler(t, Config{}, arb, nil)

	rec := get(t, h, "/api/executions/profit?since=2026-03-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 12.5, decode(t, rec)["total_profit_usd"])
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), arb.since)

	rec = get(t, h, "/api/executions/profit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), arb.since, time.Minute)
}

func TestAuditPassesListOpts(t *testing.T) {
	arb := &fakeArb{audit: []domain.AuditEntry{{ID: 1, Event: "opportunity"}}}
	h := newTestHandler(t, Config{}, arb, nil)

	rec := get(t, h, "/api/audit?limit=9999&offset=5&since=2026-01-01T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["entries"], 1)
	assert.Equal(t, 500, arb.auditOpts.Limit)
	assert.Equal(t, 5, arb.auditOpts.Offset)
	require.NotNil(t, arb.auditOpts.Since)
	assert.Nil(t, arb.auditOpts.Until)
}

func TestServiceErrorIs500(t *testing.T) {
	h := newTestHandler(t, Config{}, &fakeArb{err: errors.New("db down")}, nil)
	for _, path := range []string{"/api/opportunities", "/api/executions", "/api/audit", "/api/executions/profit"} {
		rec := get(t, h, path, nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, path)
		assert.NotContains(t, rec.Body.String(), "db down", path)
	}
}

type fakeArchives struct {
	objects map[string]string
}

func (f fakeArchives) ListArchives(_ context.Context, kind string) ([]domain.BlobInfo, error) {
	if kind != "audit" {
		return nil, domain.ErrNotFound
	}
	var out []domain.BlobInfo
	for p, body := range f.objects {
		out = append(out, domain.BlobInfo{Path: p, Size: int64(len(body))})
	}
	return out, nil
}

func (f fakeArchives) OpenArchive(_ context.Context, kind, month string) (io.ReadCloser, error) {
	body, ok := f.objects["archive/"+kind+"/"+month+".jsonl"]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func TestArchiveRoutes(t *testing.T) {
	logger := discard()
	handlers := Handlers{
		Health:  handler.NewHealthHandler(time.Now()),
		Status:  handler.NewStatusHandler(fakeEngine{}, fakeBalances{}, fakeEdges{}, logger),
		Arb:     handler.NewArbHandler(&fakeArb{}, logger),
		Archive: handler.NewArchiveHandler(fakeArchives{objects: map[string]string{"archive/audit/2025-01.jsonl": "{\"id\":1}\n"}}, logger),
	}
	h := Routes(Config{}, handlers, nil, nil, logger)

	rec := get(t, h, "/api/archive/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode(t, rec)["archives"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "2025-01", rows[0].(map[string]any)["month"])

	rec = get(t, h, "/api/archive/audit/2025-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Equal(t, "{\"id\":1}\n", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/archive/orders", nil).Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/archive/audit/2024-12", nil).Code)

	withoutArchive := newTestHandler(t, Config{}, &fakeArb{}, nil)
	assert.Equal(t, http.StatusNotFound, get(t, withoutArchive, "/api/archive/audit", nil).Code)
}

func TestAuth(t *testing.T) {
	h := newTestHandler(t, Config{APIKey: "secret"}, &fakeArb{}, nil)

	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/api/status", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/api/status", map[string]string{"X-API-Key": "wrong"}).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/status", map[string]string{"X-API-Key": "secret"}).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/status", map[string]string{"Authorization": "Bearer secret"}).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/status?api_key=secret", nil).Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(t, Config{APIKey: "secret", CORSOrigins: []string{"http://dash.local"}}, &fakeArb{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	req.Header.Set("Origin", "http://dash.local")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://dash.local", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = get(t, h, "/health", map[string]string{"Origin": "http://evil.local"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	limiter := &countingLimiter{}
	h := newTestHandler(t, Config{RateLimit: 2, RateWindow: time.Minute}, &fakeArb{}, limiter)
	hdr := map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}

	assert.Equal(t, http.StatusOK, get(t, h, "/api/status", hdr).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/status", hdr).Code)
	rec := get(t, h, "/api/status", hdr)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, 3, limiter.count["api:10.0.0.1"])

	other := get(t, h, "/api/status", map[string]string{"X-Real-IP": "10.9.9.9"})
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestRateLimitFailsOpen(t *testing.T) {
	h := newTestHandler(t, Config{RateLimit: 1, RateWindow: time.Second}, &fakeArb{}, &countingLimiter{err: errors.New("redis down")})
	for range 3 {
		assert.Equal(t, http.StatusOK, get(t, h, "/api/status", nil).Code)
	}
}

type chanBus struct {
	mu   sync.Mutex
	subs map[string]chan []byte
}

func newChanBus() *chanBus { return &chanBus{subs: map[string]chan []byte{}} }

func (b *chanBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	ch, ok := b.subs[channel]
	b.mu.Unlock()
	if ok {
		ch <- payload
	}
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 8)
	b.subs[channel] = ch
	return ch, nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *chanBus) ready(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs) == n
}

func TestWebsocketRelaysBusEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newChanBus()
	hub := ws.NewHub(bus, fakeEngine{status: arbitrage.Status{Mode: arbitrage.ModeTrade}}, discard())
	go hub.Run(ctx)
	require.Eventually(t, func() bool { return bus.ready(len(ws.Channels)) }, time.Second, 5*time.Millisecond)

	handlers := Handlers{
		Health: handler.NewHealthHandler(time.Now()),
		Status: handler.NewStatusHandler(fakeEngine{}, fakeBalances{}, fakeEdges{}, discard()),
		Arb:    handler.NewArbHandler(&fakeArb{}, discard()),
	}
	srv := httptest.NewServer(Routes(Config{}, handlers, hub, nil, discard()))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var env ws.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "status", env.Type)
	assert.Contains(t, string(env.Payload), `"mode":"trade"`)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, bus.Publish(ctx, domain.ChannelExecution, []byte(`{"id":"e1"}`)))

	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "event", env.Type)
	assert.Equal(t, domain.ChannelExecution, env.Channel)
	assert.JSONEq(t, `{"id":"e1"}`, string(env.Payload))
}

func TestWebsocketUnsubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newChanBus()
	hub := ws.NewHub(bus, nil, discard())
	go hub.Run(ctx)
	require.Eventually(t, func() bool { return bus.ready(len(ws.Channels)) }, time.Second, 5*time.Millisecond)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "unsubscribe", "channels": []string{domain.ChannelOpportunity}}))
	// subscription changes are applied by the read pump
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, bus.Publish(ctx, domain.ChannelOpportunity, []byte(`{"id":"o1"}`)))
	require.NoError(t, bus.Publish(ctx, domain.ChannelExecution, []byte(`{"id":"e1"}`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env ws.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, domain.ChannelExecution, env.Channel)
}
