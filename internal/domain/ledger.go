package domain

import "time"

// ValuePair is a ledger entry: the raw amount held and its valuation in the
// reference currency at the time of the last update.
type ValuePair struct {
	Amount    float64 `json:"amount"`
	AmountUSD float64 `json:"amount_usd"`
}

// BalanceSnapshot is a persisted copy of the ledger after reconciliation.
type BalanceSnapshot struct {
	Exchange  Exchange  `json:"exchange"`
	Currency  Currency  `json:"currency"`
	Balance   ValuePair `json:"balance"`
	Source    string    `json:"source"` // "sync" or "order"
	CreatedAt time.Time `json:"created_at"`
}
