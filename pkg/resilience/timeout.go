package resilience

import (
	"context"
	"time"
)

// TimeoutConfig defines timeout values for the reconciliation timeout hierarchy
//
// Timeout Hierarchy (from outermost to innermost):
//
//	Webhook handler (20s)
//	  ↓
//	Event reconciliation (15s)
//	  ↓
//	Gateway call (8s) / Order call (8s)
//	  ↓
//	Ledger query (2s)
//
// Each layer completes before its parent times out, so a slow gateway fails
// the event instead of the whole webhook delivery.
type TimeoutConfig struct {
	WebhookHandler time.Duration // Overall webhook request budget
	Event          time.Duration // One event through the orchestrator
	GatewayCall    time.Duration // Single capture/cancel/refund call
	OrderCall      time.Duration // Single order creation call
	LedgerQuery    time.Duration // Single store read or write
	RedrivePass    time.Duration // One redrive batch
}

// DefaultTimeoutConfig returns production timeout values
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		WebhookHandler: 20 * time.Second,
		Event:          15 * time.Second,
		GatewayCall:    8 * time.Second,
		OrderCall:      8 * time.Second,
		LedgerQuery:    2 * time.Second,
		RedrivePass:    2 * time.Minute,
	}
}

// TestTimeoutConfig returns shorter timeouts for testing
func TestTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		WebhookHandler: 5 * time.Second,
		Event:          4 * time.Second,
		GatewayCall:    1 * time.Second,
		OrderCall:      1 * time.Second,
		LedgerQuery:    500 * time.Millisecond,
		RedrivePass:    10 * time.Second,
	}
}

// WebhookContext creates a context for one webhook request
func (tc *TimeoutConfig) WebhookContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.WebhookHandler)
}

// EventContext creates a context for reconciling one event
func (tc *TimeoutConfig) EventContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Event)
}

// GatewayContext creates a context for one gateway call
func (tc *TimeoutConfig) GatewayContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.GatewayCall)
}

// OrderContext creates a context for one order creation call
func (tc *TimeoutConfig) OrderContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.OrderCall)
}

// LedgerContext creates a context for one store operation
func (tc *TimeoutConfig) LedgerContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.LedgerQuery)
}

// RedriveContext creates a context for one redrive pass
func (tc *TimeoutConfig) RedriveContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.RedrivePass)
}
