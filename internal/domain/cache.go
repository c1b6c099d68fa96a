package domain

import (
	"context"
	"time"
)

// QuoteCache stores the latest top of book per exchange and pair. It is the
// read side of MarketDataProvider plus a write path for feeders.
type QuoteCache interface {
	MarketDataProvider
	SetQuote(ctx context.Context, q Quote) error
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channel and stream names.
const (
	ChannelOpportunity = "cyclearb:opportunity"
	ChannelExecution   = "cyclearb:execution"
	ChannelReview      = "cyclearb:review"
	StreamAudit        = "cyclearb:audit"
)

// QuoteTTL bounds how long a cached quote is considered usable.
const QuoteTTL = 30 * time.Second

// RateLimiter counts requests per key within a window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
