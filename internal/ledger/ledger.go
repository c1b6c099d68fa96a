// Package ledger keeps the local per-exchange, per-currency balance book.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// DefaultTrailSize bounds the in-memory order trail.
const DefaultTrailSize = 500

// Config holds ledger settings.
type Config struct {
	Valuation domain.Currency // currency AmountUSD is expressed in
	TrailSize int
}

// entry is one book line. Amounts are decimal so repeated fills reconcile
// exactly with the venue; the valuation stays float.
type entry struct {
	amount decimal.Decimal
	usd    float64
}

func newEntry(v domain.ValuePair) entry {
	return entry{amount: decimal.NewFromFloat(v.Amount), usd: v.AmountUSD}
}

func (e entry) value() domain.ValuePair {
	return domain.ValuePair{Amount: e.amount.InexactFloat64(), AmountUSD: e.usd}
}

// Ledger records balances optimistically as orders are reported and
// overwrites them from the venues on Sync. One mutex is the trading turn:
// Sync and ReportOrder never overlap.
type Ledger struct {
	universe  *domain.Universe
	converter domain.CurrencyConverter
	provider  domain.BalanceProvider
	snapshots domain.BalanceStore // optional
	cfg       Config
	logger    *slog.Logger

	mu    sync.Mutex
	book  map[domain.Exchange]map[domain.Currency]entry
	trail []domain.TradeRecord
}

var _ domain.BalanceReader = (*Ledger)(nil)

// New creates an empty ledger. Exchanges and currencies must be registered
// before use; see Register.
func New(
	universe *domain.Universe,
	converter domain.CurrencyConverter,
	provider domain.BalanceProvider,
	snapshots domain.BalanceStore,
	cfg Config,
	logger *slog.Logger,
) *Ledger {
	if cfg.TrailSize <= 0 {
		cfg.TrailSize = DefaultTrailSize
	}
	return &Ledger{
		universe:  universe,
		converter: converter,
		provider:  provider,
		snapshots: snapshots,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "ledger")),
		book:      make(map[domain.Exchange]map[domain.Currency]entry),
	}
}

// Register adds every exchange and currency of the universe at zero.
func (l *Ledger) Register() error {
	for _, ex := range l.universe.Exchanges() {
		if err := l.AddExchange(ex); err != nil {
			return err
		}
		for _, c := range l.universe.Currencies() {
			if err := l.AddCurrency(ex, c, domain.ValuePair{}); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddExchange registers an exchange of the universe.
func (l *Ledger) AddExchange(ex domain.Exchange) error {
	if !l.universe.HasExchange(ex) {
		return fmt.Errorf("ledger: add exchange %s: %w", ex, domain.ErrUnknownExchange)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.book[ex]; ok {
		return fmt.Errorf("ledger: add exchange %s: %w", ex, domain.ErrAlreadyExists)
	}
	l.book[ex] = make(map[domain.Currency]entry)
	return nil
}

// AddCurrency registers a currency on an exchange with an initial value.
func (l *Ledger) AddCurrency(ex domain.Exchange, c domain.Currency, initial domain.ValuePair) error {
	if !l.universe.HasCurrency(c) {
		return fmt.Errorf("ledger: add currency %s: %w", c, domain.ErrUnknownCurrency)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	row, err := l.row(ex)
	if err != nil {
		return fmt.Errorf("ledger: add currency: %w", err)
	}
	if _, ok := row[c]; ok {
		return fmt.Errorf("ledger: add currency %s on %s: %w", c, ex, domain.ErrAlreadyExists)
	}
	row[c] = newEntry(initial)
	return nil
}

// UpdateBalance overwrites several entries of one exchange. Nothing is
// written unless every currency is registered.
func (l *Ledger) UpdateBalance(ex domain.Exchange, values map[domain.Currency]domain.ValuePair) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, err := l.row(ex)
	if err != nil {
		return fmt.Errorf("ledger: update balance: %w", err)
	}
	for c := range values {
		if _, ok := row[c]; !ok {
			return fmt.Errorf("ledger: update balance %s on %s: %w", c, ex, domain.ErrUnknownCurrency)
		}
	}
	for c, v := range values {
		row[c] = newEntry(v)
	}
	return nil
}

// Balance returns one entry. Unregistered exchanges and currencies are
// errors, never a zero balance.
func (l *Ledger) Balance(ex domain.Exchange, c domain.Currency) (domain.ValuePair, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, err := l.row(ex)
	if err != nil {
		return domain.ValuePair{}, fmt.Errorf("ledger: balance: %w", err)
	}
	v, ok := row[c]
	if !ok {
		return domain.ValuePair{}, fmt.Errorf("ledger: balance %s on %s: %w", c, ex, domain.ErrUnknownCurrency)
	}
	return v.value(), nil
}

// Balances returns a copy of the whole book.
func (l *Ledger) Balances() map[domain.Exchange]map[domain.Currency]domain.ValuePair {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[domain.Exchange]map[domain.Currency]domain.ValuePair, len(l.book))
	for ex, row := range l.book {
		cp := make(map[domain.Currency]domain.ValuePair, len(row))
		for c, v := range row {
			cp[c] = v.value()
		}
		out[ex] = cp
	}
	return out
}

// Trail returns the most recent reported attempts, oldest first.
func (l *Ledger) Trail() []domain.TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.TradeRecord(nil), l.trail...)
}

// Record appends an execution attempt to the trail and applies it to the
// balances only when the receipt says it filled.
func (l *Ledger) Record(ctx context.Context, order domain.Order, receipt domain.Receipt) error {
	if !receipt.Filled() {
		l.mu.Lock()
		l.appendTrail(domain.TradeRecord{Order: order, Receipt: receipt, At: time.Now()})
		l.mu.Unlock()
		return nil
	}

	filled := order
	if receipt.FilledVolume > 0 {
		filled = filled.WithSize(filled.Price, receipt.FilledVolume)
	}
	if receipt.FilledPrice > 0 {
		filled = filled.WithSize(receipt.FilledPrice, filled.Volume)
	}
	return l.report(ctx, filled, &receipt)
}

// ReportOrder applies a filled order: a sell gives up Volume of the base and
// receives Volume*Price of the quote, a buy does the opposite. Valuations of
// both currencies are recomputed.
func (l *Ledger) ReportOrder(ctx context.Context, order domain.Order) error {
	return l.report(ctx, order, nil)
}

func (l *Ledger) report(ctx context.Context, order domain.Order, receipt *domain.Receipt) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, err := l.row(order.Exchange)
	if err != nil {
		return fmt.Errorf("ledger: report order: %w", err)
	}
	base, quote := order.Pair.Base, order.Pair.Quote
	baseVal, ok := row[base]
	if !ok {
		return fmt.Errorf("ledger: report order %s on %s: %w", base, order.Exchange, domain.ErrUnknownCurrency)
	}
	quoteVal, ok := row[quote]
	if !ok {
		return fmt.Errorf("ledger: report order %s on %s: %w", quote, order.Exchange, domain.ErrUnknownCurrency)
	}

	acquired := decimal.NewFromFloat(order.Volume)
	paid := acquired.Mul(decimal.NewFromFloat(order.Price))
	if order.Side == domain.OrderSideSell {
		acquired = acquired.Neg()
	} else {
		paid = paid.Neg()
	}

	row[base] = l.revalue(order.Exchange, base, baseVal, baseVal.amount.Add(acquired))
	row[quote] = l.revalue(order.Exchange, quote, quoteVal, quoteVal.amount.Add(paid))

	rec := domain.TradeRecord{Order: order, Applied: true, At: time.Now()}
	if receipt != nil {
		rec.Receipt = *receipt
	} else {
		rec.Receipt = domain.Receipt{OrderID: order.ID, Status: domain.OrderStatusFilled,
			FilledVolume: order.Volume, FilledPrice: order.Price}
	}
	l.appendTrail(rec)

	l.persist(ctx, "order", order.Exchange, map[domain.Currency]entry{base: row[base], quote: row[quote]})
	return nil
}

// Sync replaces the book with live balances from every registered exchange.
// It holds the trading turn for its whole duration. An exchange whose fetch
// fails keeps its previous entries; the failures are returned joined.
func (l *Ledger) Sync(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, ex := range l.universe.Exchanges() {
		row, ok := l.book[ex]
		if !ok {
			continue
		}
		live, err := l.provider.FetchBalance(ctx, ex)
		if err != nil {
			errs = append(errs, fmt.Errorf("ledger: sync %s: %w", ex, err))
			continue
		}
		for c, prev := range row {
			row[c] = l.revalue(ex, c, prev, decimal.NewFromFloat(live[c]))
		}
		l.persist(ctx, "sync", ex, row)
		l.logger.Debug("exchange synced", slog.String("exchange", string(ex)), slog.Int("currencies", len(row)))
	}
	return errors.Join(errs...)
}

// Restore seeds the book from the latest persisted snapshot of each
// exchange, so balances survive a restart until the first Sync. Snapshot
// rows for currencies outside the book are skipped.
func (l *Ledger) Restore(ctx context.Context) error {
	if l.snapshots == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, ex := range l.universe.Exchanges() {
		row, ok := l.book[ex]
		if !ok {
			continue
		}
		snaps, err := l.snapshots.Latest(ctx, ex)
		if err != nil {
			errs = append(errs, fmt.Errorf("ledger: restore %s: %w", ex, err))
			continue
		}
		restored := 0
		for _, sn := range snaps {
			if _, ok := row[sn.Currency]; !ok {
				continue
			}
			row[sn.Currency] = newEntry(sn.Balance)
			restored++
		}
		l.logger.Info("balances restored", slog.String("exchange", string(ex)), slog.Int("currencies", restored))
	}
	return errors.Join(errs...)
}

// revalue builds an entry for a new amount. When the converter has no rate
// the previous unit valuation is carried over.
func (l *Ledger) revalue(ex domain.Exchange, c domain.Currency, prev entry, amount decimal.Decimal) entry {
	usd, err := l.converter.Convert(ex, amount.InexactFloat64(), c, l.cfg.Valuation)
	if err == nil {
		return entry{amount: amount, usd: usd}
	}
	l.logger.Warn("valuation unavailable, keeping previous unit price",
		slog.String("exchange", string(ex)),
		slog.String("currency", string(c)),
		slog.String("error", err.Error()),
	)
	if prev.amount.IsZero() {
		return entry{amount: amount}
	}
	unit := prev.usd / prev.amount.InexactFloat64()
	return entry{amount: amount, usd: amount.InexactFloat64() * unit}
}

func (l *Ledger) row(ex domain.Exchange) (map[domain.Currency]entry, error) {
	row, ok := l.book[ex]
	if !ok {
		return nil, fmt.Errorf("exchange %s: %w", ex, domain.ErrUnknownExchange)
	}
	return row, nil
}

func (l *Ledger) appendTrail(rec domain.TradeRecord) {
	l.trail = append(l.trail, rec)
	if over := len(l.trail) - l.cfg.TrailSize; over > 0 {
		l.trail = append(l.trail[:0:0], l.trail[over:]...)
	}
}

func (l *Ledger) persist(ctx context.Context, source string, ex domain.Exchange, row map[domain.Currency]entry) {
	if l.snapshots == nil {
		return
	}
	now := time.Now().UTC()
	snaps := make([]domain.BalanceSnapshot, 0, len(row))
	for c, v := range row {
		snaps = append(snaps, domain.BalanceSnapshot{Exchange: ex, Currency: c, Balance: v.value(), Source: source, CreatedAt: now})
	}
	if err := l.snapshots.SaveSnapshot(ctx, snaps); err != nil {
		l.logger.Warn("balance snapshot failed", slog.String("exchange", string(ex)), slog.String("error", err.Error()))
	}
}
