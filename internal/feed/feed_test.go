package feed

import (
	"context"
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

	"github.com/alanyoungcy/cyclearb/internal/crypto"
	"github.com/alanyoungcy/cyclearb/internal/domain"
)

var ethUSDT = domain.Pair{Base: "ETH", Quote: "USDT"}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func universe(t *testing.T) *domain.Universe {
	t.Helper()
	u, err := domain.NewUniverse(
		[]domain.Currency{"ETH", "USDT"},
		[]domain.Exchange{"binance", "kraken"},
		[]domain.Pair{ethUSDT},
	)
	require.NoError(t, err)
	return u
}

type memSink struct {
	mu     sync.Mutex
	quotes []domain.Quote
	err    error
}

func (s *memSink) SetQuote(_ context.Context, q domain.Quote) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes = append(s.quotes, q)
	return nil
}

func (s *memSink) snapshot() []domain.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Quote(nil), s.quotes...)
}

func TestHandleFiltersAndDecodes(t *testing.T) {
	sink := &memSink{}
	f := NewQuoteFeed("ws://unused", universe(t), sink, discard())
	ctx := context.Background()

	require.NoError(t, f.handle(ctx, []byte(`{"exchange":"binance","pair":"eth/usdt","bid":2000,"ask":2001,"bid_volume":1,"ask_volume":2,"ts":1767225600000}`)))
	err := f.handle(ctx, []byte(`[
		{"exchange":"kraken","pair":"ETH/USDT","bid":1999,"ask":2000},
		{"exchange":"coinbase","pair":"ETH/USDT","bid":1,"ask":1},
		{"exchange":"kraken","pair":"BTC/USDT","bid":1,"ask":1},
		{"exchange":"kraken","pair":"ETH/USDT","bid":0,"ask":1}
	]`))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownExchange)
	assert.ErrorIs(t, err, domain.ErrInvalidQuote)
	assert.Error(t, f.handle(ctx, []byte(`not json`)))

	got := sink.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, ethUSDT, got[0].Pair)
	assert.Equal(t, time.UnixMilli(1767225600000), got[0].Timestamp)
	assert.Equal(t, domain.Exchange("kraken"), got[1].Exchange)
	assert.False(t, got[1].Timestamp.IsZero())
}

func TestQuoteFeedOverWebsocket(t *testing.T) {
	subscribed := make(chan subscribeCommand, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var cmd subscribeCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		subscribed <- cmd
		conn.WriteMessage(websocket.TextMessage, []byte(`{"exchange":"binance","pair":"ETH/USDT","bid":2000,"ask":2001}`))
		// hold the connection open until the client leaves
		conn.ReadMessage()
	}))
	defer srv.Close()

	sink := &memSink{}
	f := NewQuoteFeed("ws"+strings.TrimPrefix(srv.URL, "http"), universe(t), sink, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	select {
	case cmd := <-subscribed:
		assert.Equal(t, "subscribe", cmd.Action)
		assert.Equal(t, []string{"binance", "kraken"}, cmd.Exchanges)
		assert.Equal(t, []string{"ETH/USDT"}, cmd.Pairs)
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription received")
	}
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop")
	}
}

func TestQuoteFeedSignsHandshake(t *testing.T) {
	verified := make(chan bool, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok := r.Header.Get(crypto.HeaderKey) == "k1" &&
			crypto.Verify([]byte("s3cret"), http.MethodGet, r.URL.Path, r.Header)
		select {
		case verified <- ok:
		default:
		}
		http.Error(w, "no", http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := NewQuoteFeed("ws"+strings.TrimPrefix(srv.URL, "http")+"/quotes", universe(t), &memSink{}, discard()).
		WithAuth(&crypto.HMACAuth{Key: "k1", Secret: "s3cret"})

	_, err := f.runConnection(context.Background())
	require.Error(t, err)
	select {
	case ok := <-verified:
		assert.True(t, ok, "handshake signature should verify")
	case <-time.After(2 * time.Second):
		t.Fatal("no handshake received")
	}
}

type fixedSource []domain.Quote

func (s fixedSource) All() []domain.Quote { return s }

func TestMirrorSyncStampsQuotes(t *testing.T) {
	sink := &memSink{}
	src := fixedSource{
		{Exchange: "binance", Pair: ethUSDT, Bid: 2000, Ask: 2001},
		{Exchange: "kraken", Pair: ethUSDT, Bid: 1999, Ask: 2000},
	}
	m := NewMirror(src, sink, time.Second, discard())
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return at }

	require.NoError(t, m.Sync(context.Background()))
	got := sink.snapshot()
	require.Len(t, got, 2)
	for _, q := range got {
		assert.Equal(t, at, q.Timestamp)
	}

	sink.err = errors.New("redis down")
	assert.ErrorContains(t, m.Sync(context.Background()), "redis down")
}

func TestMirrorRunStopsOnCancel(t *testing.T) {
	sink := &memSink{}
	m := NewMirror(fixedSource{{Exchange: "binance", Pair: ethUSDT, Bid: 1, Ask: 1}}, sink, 10*time.Millisecond, discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sink.snapshot()) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("mirror did not stop")
	}
}
