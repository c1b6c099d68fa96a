// Package feed moves top-of-book quotes from external sources into the quote
// cache the engine polls.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/cyclearb/internal/crypto"
	"github.com/alanyoungcy/cyclearb/internal/domain"
)

const (
	dialTimeout       = 15 * time.Second
	pongWait          = 60 * time.Second
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// QuoteSink receives quotes.
type QuoteSink interface {
	SetQuote(ctx context.Context, q domain.Quote) error
}

// quoteMessage is one quote on the wire. ts is unix milliseconds; zero means
// the receive time.
type quoteMessage struct {
	Exchange  string  `json:"exchange"`
	Pair      string  `json:"pair"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	BidVolume float64 `json:"bid_volume"`
	AskVolume float64 `json:"ask_volume"`
	TS        int64   `json:"ts"`
}

type subscribeCommand struct {
	Action    string   `json:"action"`
	Exchanges []string `json:"exchanges"`
	Pairs     []string `json:"pairs"`
}

// QuoteFeed reads quote messages from a websocket endpoint and writes the
// ones inside the universe to a sink. It reconnects with exponential backoff.
type QuoteFeed struct {
	url      string
	universe *domain.Universe
	sink     QuoteSink
	dialer   *websocket.Dialer
	auth     *crypto.HMACAuth
	logger   *slog.Logger
	now      func() time.Time
}

// NewQuoteFeed creates a feed for the given endpoint.
func NewQuoteFeed(endpoint string, universe *domain.Universe, sink QuoteSink, logger *slog.Logger) *QuoteFeed {
	return &QuoteFeed{
		url:      endpoint,
		universe: universe,
		sink:     sink,
		dialer:   &websocket.Dialer{HandshakeTimeout: dialTimeout},
		logger:   logger.With(slog.String("component", "quote_feed")),
		now:      time.Now,
	}
}

// WithAuth signs every handshake with auth. A nil auth dials anonymously.
func (f *QuoteFeed) WithAuth(auth *crypto.HMACAuth) *QuoteFeed {
	f.auth = auth
	return f
}

// handshakeHeader returns the signed headers for a dial, or nil when the feed
// is anonymous.
func (f *QuoteFeed) handshakeHeader() (http.Header, error) {
	if f.auth == nil {
		return nil, nil
	}
	u, err := url.Parse(f.url)
	if err != nil {
		return nil, fmt.Errorf("feed: parse url: %w", err)
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return f.auth.HeadersAt(http.MethodGet, path, f.now().Unix()), nil
}

// Run connects and consumes messages until ctx is cancelled.
func (f *QuoteFeed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		received, err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if received > 0 {
			delay = reconnectDelay
		}
		f.logger.Warn("quote feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Int("received", received),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (f *QuoteFeed) runConnection(ctx context.Context) (int, error) {
	header, err := f.handshakeHeader()
	if err != nil {
		return 0, err
	}
	conn, _, err := f.dialer.DialContext(ctx, f.url, header)
	if err != nil {
		return 0, fmt.Errorf("feed: dial %s: %w", f.url, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteJSON(f.subscription()); err != nil {
		return 0, fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("quote feed subscribed", slog.String("url", f.url))

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	received := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return received, fmt.Errorf("feed: read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		received++
		if err := f.handle(ctx, data); err != nil {
			f.logger.Debug("quote dropped", slog.String("error", err.Error()))
		}
	}
}

func (f *QuoteFeed) subscription() subscribeCommand {
	cmd := subscribeCommand{Action: "subscribe"}
	for _, ex := range f.universe.Exchanges() {
		cmd.Exchanges = append(cmd.Exchanges, string(ex))
	}
	for _, p := range f.universe.Pairs() {
		cmd.Pairs = append(cmd.Pairs, p.String())
	}
	return cmd
}

// handle accepts a single quote object or an array of them.
func (f *QuoteFeed) handle(ctx context.Context, data []byte) error {
	var batch []quoteMessage
	if err := json.Unmarshal(data, &batch); err != nil {
		var one quoteMessage
		if err := json.Unmarshal(data, &one); err != nil {
			return fmt.Errorf("feed: decode: %w", err)
		}
		batch = []quoteMessage{one}
	}
	var errs []error
	for _, m := range batch {
		q, err := f.toQuote(m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := f.sink.SetQuote(ctx, q); err != nil {
			errs = append(errs, fmt.Errorf("feed: store %s %s: %w", q.Exchange, q.Pair, err))
		}
	}
	return errors.Join(errs...)
}

func (f *QuoteFeed) toQuote(m quoteMessage) (domain.Quote, error) {
	ex := domain.Exchange(m.Exchange)
	if !f.universe.HasExchange(ex) {
		return domain.Quote{}, fmt.Errorf("feed: %s: %w", m.Exchange, domain.ErrUnknownExchange)
	}
	pair, err := domain.ParsePair(m.Pair)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("feed: %w", err)
	}
	if !f.universe.IsNative(pair) {
		return domain.Quote{}, fmt.Errorf("feed: %s %s not listed: %w", ex, pair, domain.ErrInvalidQuote)
	}
	ts := f.now()
	if m.TS > 0 {
		ts = time.UnixMilli(m.TS)
	}
	q := domain.Quote{
		Exchange:  ex,
		Pair:      pair,
		Bid:       m.Bid,
		Ask:       m.Ask,
		BidVolume: m.BidVolume,
		AskVolume: m.AskVolume,
		Timestamp: ts,
	}
	if err := q.Validate(); err != nil {
		return domain.Quote{}, fmt.Errorf("feed: %w", err)
	}
	return q, nil
}
