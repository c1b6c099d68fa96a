package domain

import "time"

// Opportunity is a verified profitable cycle.
type Opportunity struct {
	ID               string     `json:"id"`
	Source           Currency   `json:"source"`
	Cycle            []Currency `json:"cycle"`     // first == last
	Exchanges        []Exchange `json:"exchanges"` // one per leg
	SumWeight        float64    `json:"sum_weight"`
	ProductRate      float64    `json:"product_rate"`
	PercentGrowth    float64    `json:"percent_growth"`
	BottleneckVolume float64    `json:"bottleneck_volume"`
	Executed         bool       `json:"executed"`
	DetectedAt       time.Time  `json:"detected_at"`
}

// Legs returns the number of conversions in the cycle.
func (o Opportunity) Legs() int {
	if len(o.Cycle) < 2 {
		return 0
	}
	return len(o.Cycle) - 1
}

// ArbExecStatus is the execution state.
type ArbExecStatus string

const (
	ArbExecPending     ArbExecStatus = "pending"
	ArbExecFilled      ArbExecStatus = "filled"
	ArbExecFailed      ArbExecStatus = "failed"
	ArbExecNeedsReview ArbExecStatus = "needs_review"
)

// ArbExecution records one multi-leg arbitrage attempt and its expected PnL.
type ArbExecution struct {
	ID               string        `json:"id"`
	OpportunityID    string        `json:"opportunity_id"`
	Reference        Currency      `json:"reference"`
	Legs             []ArbLeg      `json:"legs"`
	BottleneckVolume float64       `json:"bottleneck_volume"`
	SizeUSD          float64       `json:"size_usd"`
	PercentGrowth    float64       `json:"percent_growth"`
	ProfitUSD        float64       `json:"profit_usd"`
	Status           ArbExecStatus `json:"status"`
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// ArbLeg is one leg of an arb execution.
type ArbLeg struct {
	OrderID         string      `json:"order_id"`
	Exchange        Exchange    `json:"exchange"`
	Pair            Pair        `json:"pair"`
	Side            OrderSide   `json:"side"`
	Price           float64     `json:"price"`
	Volume          float64     `json:"volume"`
	ReferenceVolume float64     `json:"reference_volume"` // volume expressed in the execution's reference currency
	Status          OrderStatus `json:"status"`
	Error           string      `json:"error,omitempty"`
}
