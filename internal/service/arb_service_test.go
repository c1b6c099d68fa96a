package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

type arbFixture struct {
	svc      *ArbService
	audit    *memAudit
	bus      *memBus
	notifier *memNotifier
	opps     *memOpps
	execs    *memExecs
}

func newArbFixture() arbFixture {
	f := arbFixture{
		audit:    &memAudit{},
		bus:      newMemBus(),
		notifier: &memNotifier{},
		opps:     &memOpps{},
		execs:    &memExecs{},
	}
	f.svc = NewArbService(ArbServiceDeps{
		Opportunities: f.opps,
		Executions:    f.execs,
		Audit:         f.audit,
		Bus:           f.bus,
		Notifier:      f.notifier,
	}, discardLogger())
	return f
}

func TestRecordOpportunity(t *testing.T) {
	f := newArbFixture()
	opp := domain.Opportunity{Cycle: []domain.Currency{"ETH", "USDT", "ETH"}, PercentGrowth: 0.5}

	require.NoError(t, f.svc.RecordOpportunity(context.Background(), &opp))
	assert.NotEmpty(t, opp.ID)
	assert.False(t, opp.DetectedAt.IsZero())
	require.Len(t, f.opps.inserted, 1)
	assert.Len(t, f.bus.published[domain.ChannelOpportunity], 1)
	assert.Equal(t, []string{"arb.opportunity"}, f.audit.events())
	assert.Equal(t, []string{domain.EventOpportunity}, f.notifier.events)
}

func TestRecordExecutionWritesLegsAndSummary(t *testing.T) {
	f := newArbFixture()
	exec := domain.ArbExecution{
		ID:            "e1",
		OpportunityID: "o1",
		Reference:     "ETH",
		Legs: []domain.ArbLeg{
			{Exchange: "binance", Pair: ethUSDT, Side: domain.OrderSideSell, Volume: 0.2, ReferenceVolume: 0.2, Status: domain.OrderStatusFilled},
			{Exchange: "kraken", Pair: ethUSDT, Side: domain.OrderSideBuy, Volume: 0.2, ReferenceVolume: 0.2, Status: domain.OrderStatusFilled},
		},
		SizeUSD:       400,
		PercentGrowth: 0.5,
		Status:        domain.ArbExecFilled,
	}
	ComputeProfit(&exec)
	assert.InDelta(t, 2.0, exec.ProfitUSD, 1e-12)

	require.NoError(t, f.svc.RecordExecution(context.Background(), exec))
	assert.Equal(t, []string{"arb.leg", "arb.leg", "arb.summary"}, f.audit.events())
	assert.Len(t, f.bus.stream[domain.StreamAudit], 3)
	assert.Equal(t, []string{"o1"}, f.opps.executed)
	assert.Equal(t, []string{domain.EventExecution}, f.notifier.events)
	assert.Empty(t, f.bus.published[domain.ChannelReview])

	profit, err := f.svc.ProfitSince(context.Background(), exec.StartedAt)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, profit, 1e-12)
}

func TestRecordExecutionRaisesReview(t *testing.T) {
	f := newArbFixture()
	exec := domain.ArbExecution{
		ID: "e2",
		Legs: []domain.ArbLeg{
			{Exchange: "binance", Pair: ethUSDT, Side: domain.OrderSideSell, Status: domain.OrderStatusFilled},
			{Exchange: "kraken", Pair: ethUSDT, Side: domain.OrderSideBuy, Status: domain.OrderStatusRejected},
		},
		Status: domain.ArbExecNeedsReview,
	}
	ComputeProfit(&exec)
	assert.Zero(t, exec.ProfitUSD)

	require.NoError(t, f.svc.RecordExecution(context.Background(), exec))
	assert.Len(t, f.bus.published[domain.ChannelReview], 1)
	assert.Contains(t, f.audit.events(), "arb.review")
	assert.Equal(t, []string{domain.EventReview}, f.notifier.events)
}

func TestArbServiceWithoutDependencies(t *testing.T) {
	svc := NewArbService(ArbServiceDeps{}, discardLogger())
	opp := domain.Opportunity{Cycle: []domain.Currency{"ETH", "USDT", "ETH"}}
	require.NoError(t, svc.RecordOpportunity(context.Background(), &opp))
	require.NoError(t, svc.RecordExecution(context.Background(), domain.ArbExecution{ID: "x", Status: domain.ArbExecFailed}))

	_, err := svc.GetExecution(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListAuditFallsBackToStream(t *testing.T) {
	bus := newMemBus()
	svc := NewArbService(ArbServiceDeps{Bus: bus}, discardLogger())
	ctx := context.Background()

	for i := range 3 {
		require.NoError(t, svc.RecordOpportunity(ctx, &domain.Opportunity{
			ID:    fmt.Sprintf("opp-%d", i),
			Cycle: []domain.Currency{"ETH", "USDT", "ETH"},
		}))
	}
	bus.stream[domain.StreamAudit] = append(bus.stream[domain.StreamAudit], []byte("not json"))

	all, err := svc.ListAudit(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].CreatedAt.After(all[i-1].CreatedAt), "newest first")
	}

	page, err := svc.ListAudit(ctx, domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, all[1], page[0])

	future := time.Now().Add(time.Hour)
	none, err := svc.ListAudit(ctx, domain.ListOpts{Since: &future})
	require.NoError(t, err)
	assert.Empty(t, none)
}
