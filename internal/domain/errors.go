package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidQuote  = errors.New("invalid quote")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrTransient     = errors.New("transient provider failure")

	// Universe violations. Asking the ledger or a market for an exchange or
	// currency outside the configured universe is a programming error and is
	// never reported as a zero balance.
	ErrUnknownExchange = errors.New("unknown exchange")
	ErrUnknownCurrency = errors.New("unknown currency")

	// Opportunity pipeline outcomes.
	ErrNotProfitable          = errors.New("cycle not profitable")
	ErrBelowThreshold         = errors.New("opportunity below threshold")
	ErrInvalidCycle           = errors.New("invalid cycle")
	ErrUnsupportedCycleLength = errors.New("unsupported cycle length")
	ErrNoSafeSize             = errors.New("no safe size")

	// Execution.
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrLegFailed           = errors.New("leg failed")
)

// IsInvariantViolation reports whether err signals a broken invariant that
// must not be retried with the same inputs.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrUnsupportedCycleLength) ||
		errors.Is(err, ErrUnknownExchange) ||
		errors.Is(err, ErrUnknownCurrency) ||
		errors.Is(err, ErrInvalidCycle)
}
