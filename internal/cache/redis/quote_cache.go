package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes.
// Each quote is stored at "[prefix:]quote:{exchange}:{BASE}/{QUOTE}" with fields
// bid, ask, bid_volume, ask_volume and ts (Unix milliseconds).
type QuoteCache struct {
	c   *Client
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache backed by the given Client. Quotes expire
// after ttl; zero means domain.QuoteTTL.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	if ttl <= 0 {
		ttl = domain.QuoteTTL
	}
	return &QuoteCache{c: c, rdb: c.Underlying(), ttl: ttl}
}

func (qc *QuoteCache) quoteKey(ex domain.Exchange, p domain.Pair) string {
	return qc.c.Key("quote", string(ex), p.String())
}

// SetQuote stores a quote and refreshes its expiry.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	if err := q.Validate(); err != nil {
		return fmt.Errorf("redis: set quote: %w", err)
	}
	ts := q.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	key := qc.quoteKey(q.Exchange, q.Pair)
	fields := map[string]interface{}{
		"bid":        strconv.FormatFloat(q.Bid, 'f', -1, 64),
		"ask":        strconv.FormatFloat(q.Ask, 'f', -1, 64),
		"bid_volume": strconv.FormatFloat(q.BidVolume, 'f', -1, 64),
		"ask_volume": strconv.FormatFloat(q.AskVolume, 'f', -1, 64),
		"ts":         strconv.FormatInt(ts.UnixMilli(), 10),
	}
	_, err := qc.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, qc.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set quote %s: %w", key, err)
	}
	return nil
}

// FetchTicker reads the cached quotes for the given pairs with one pipeline.
// Missing, expired or malformed entries are omitted from the result. A Redis
// failure is reported as domain.ErrTransient.
func (qc *QuoteCache) FetchTicker(ctx context.Context, ex domain.Exchange, pairs []domain.Pair) (map[domain.Pair]domain.Quote, error) {
	if len(pairs) == 0 {
		return map[domain.Pair]domain.Quote{}, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make(map[domain.Pair]*redis.MapStringStringCmd, len(pairs))
	for _, p := range pairs {
		cmds[p] = pipe.HGetAll(ctx, qc.quoteKey(ex, p))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: fetch ticker %s: %w: %w", ex, domain.ErrTransient, err)
	}

	out := make(map[domain.Pair]domain.Quote, len(pairs))
	for p, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		q, err := parseQuote(ex, p, vals)
		if err != nil {
			continue
		}
		out[p] = q
	}
	return out, nil
}

func parseQuote(ex domain.Exchange, p domain.Pair, vals map[string]string) (domain.Quote, error) {
	q := domain.Quote{Exchange: ex, Pair: p}
	var err error
	num := func(field string) float64 {
		if err != nil {
			return 0
		}
		s, ok := vals[field]
		if !ok {
			err = fmt.Errorf("missing %s", field)
			return 0
		}
		var f float64
		f, err = strconv.ParseFloat(s, 64)
		return f
	}
	q.Bid = num("bid")
	q.Ask = num("ask")
	q.BidVolume = num("bid_volume")
	q.AskVolume = num("ask_volume")
	if err != nil {
		return domain.Quote{}, err
	}
	ms, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Quote{}, err
	}
	q.Timestamp = time.UnixMilli(ms)
	return q, q.Validate()
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
