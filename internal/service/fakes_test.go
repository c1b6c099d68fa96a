package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (m *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, domain.AuditEntry{ID: int64(len(m.entries) + 1), Event: event, Detail: detail, CreatedAt: time.Now()})
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditEntry(nil), m.entries...), nil
}

func (m *memAudit) ListBefore(context.Context, time.Time) ([]domain.AuditEntry, error) { return nil, nil }
func (m *memAudit) DeleteBefore(context.Context, time.Time) (int64, error)            { return 0, nil }

func (m *memAudit) events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Event
	}
	return out
}

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	stream    map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{published: map[string][][]byte{}, stream: map[string][][]byte{}}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream[stream] = append(b.stream[stream], payload)
	return nil
}

// StreamRead pages through the stream using the entry position as its id.
func (b *memBus) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	start, err := strconv.Atoi(lastID)
	if err != nil {
		return nil, err
	}
	var out []domain.StreamMessage
	for i := start; i < len(b.stream[stream]) && len(out) < count; i++ {
		out = append(out, domain.StreamMessage{ID: strconv.Itoa(i + 1), Payload: b.stream[stream][i]})
	}
	return out, nil
}

type memNotifier struct {
	events []string
}

func (n *memNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.events = append(n.events, event)
	return nil
}

type memOpps struct {
	inserted []domain.Opportunity
	executed []string
}

func (m *memOpps) Insert(_ context.Context, opp domain.Opportunity) error {
	m.inserted = append(m.inserted, opp)
	return nil
}
func (m *memOpps) MarkExecuted(_ context.Context, id string) error {
	m.executed = append(m.executed, id)
	return nil
}
func (m *memOpps) ListRecent(context.Context, int) ([]domain.Opportunity, error) {
	return m.inserted, nil
}
func (m *memOpps) ListBefore(context.Context, time.Time) ([]domain.Opportunity, error) {
	return nil, nil
}

type memExecs struct {
	created []domain.ArbExecution
}

func (m *memExecs) Create(_ context.Context, e domain.ArbExecution) error {
	m.created = append(m.created, e)
	return nil
}
func (m *memExecs) GetByID(_ context.Context, id string) (domain.ArbExecution, error) {
	for _, e := range m.created {
		if e.ID == id {
			return e, nil
		}
	}
	return domain.ArbExecution{}, domain.ErrNotFound
}
func (m *memExecs) ListRecent(context.Context, int) ([]domain.ArbExecution, error) {
	return m.created, nil
}
func (m *memExecs) ListBefore(context.Context, time.Time) ([]domain.ArbExecution, error) {
	return nil, nil
}
func (m *memExecs) SumProfit(context.Context, time.Time) (float64, error) {
	var total float64
	for _, e := range m.created {
		total += e.ProfitUSD
	}
	return total, nil
}
