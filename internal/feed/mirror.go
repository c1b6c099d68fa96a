package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// QuoteSource lists a fixed set of quotes.
type QuoteSource interface {
	All() []domain.Quote
}

// Mirror copies a fixed quote set into a sink on an interval, so cached
// quotes never outlive their TTL while the paper book is in use.
type Mirror struct {
	source   QuoteSource
	sink     QuoteSink
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewMirror creates a Mirror. interval should be shorter than the sink's TTL.
func NewMirror(source QuoteSource, sink QuoteSink, interval time.Duration, logger *slog.Logger) *Mirror {
	return &Mirror{
		source:   source,
		sink:     sink,
		interval: interval,
		logger:   logger.With(slog.String("component", "quote_mirror")),
		now:      time.Now,
	}
}

// Run mirrors once immediately and then every interval until ctx is done.
func (m *Mirror) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		if err := m.Sync(ctx); err != nil {
			m.logger.WarnContext(ctx, "quote mirror failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sync writes every source quote, stamped now.
func (m *Mirror) Sync(ctx context.Context) error {
	ts := m.now()
	for _, q := range m.source.All() {
		q.Timestamp = ts
		if err := m.sink.SetQuote(ctx, q); err != nil {
			return fmt.Errorf("feed: mirror %s %s: %w", q.Exchange, q.Pair, err)
		}
	}
	return nil
}
