package executor

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// Dedup stops the same opportunity from being executed again while the
// quotes that produced it are still cached. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // fingerprint -> last execution
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats a fingerprint seen within ttl as a
// duplicate. A zero ttl disables deduplication.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate reports whether key was seen within the TTL window and
// otherwise records it. Expired entries are dropped on the way.
func (d *Dedup) IsDuplicate(key string) bool {
	if d.ttl <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = now
	return false
}

// Fingerprint identifies an execution plan by venue, side, pair and price of
// every leg. Volumes are left out so a resized replay still matches.
func Fingerprint(orders []domain.Order) string {
	parts := make([]string, len(orders))
	for i, o := range orders {
		parts[i] = fmt.Sprintf("%s:%s:%s:%.10g", o.Exchange, o.Side, o.Pair, o.Price)
	}
	return strings.Join(parts, "|")
}
