package domain

import "context"

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Notification event types.
const (
	EventOpportunity = "opportunity"
	EventExecution   = "execution"
	EventReview      = "review"
)
