package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reconciliation metrics
	eventsReconciledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_events_total",
		Help: "Total payment events handled by the reconciler",
	}, []string{
		"event_type", // authorization-succeeded, charge-refunded, ...
		"stage",      // done, failed
		"outcome",    // applied, deduped, noop, or the error code
	})

	eventReconcileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "reconciler_event_duration_seconds",
		Help: "Time to reconcile one payment event end to end",
		// Buckets: 10ms to 15s (event budget)
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
	}, []string{
		"event_type",
	})

	ledgerTransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_ledger_transactions_total",
		Help: "Ledger transactions recorded or deduplicated",
	}, []string{
		"transaction_type", // Authorization, Charge, Refund, CancelAuthorization
		"state",            // Initial, Pending, Success, Failure
		"apply",            // applied, deduped
	})

	ledgerAmountCents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_ledger_amount_cents_total",
		Help: "Amount in minor units of successful ledger transactions",
	}, []string{
		"transaction_type",
		"currency",
	})

	// Gateway call metrics
	gatewayCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_gateway_calls_total",
		Help: "Payment gateway modification calls",
	}, []string{
		"operation", // capture, cancel, refund
		"status",    // succeeded, pending, failed, error
	})

	gatewayCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reconciler_gateway_call_duration_seconds",
		Help:    "Duration of payment gateway calls",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
	}, []string{
		"operation",
	})

	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reconciler_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{
		"name",
	})

	// Order side effect
	ordersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_orders_total",
		Help: "Order creation attempts triggered by payments",
	}, []string{
		"status", // created, failed
	})

	commerceCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_commerce_calls_total",
		Help: "Calls to the commerce platform API",
	}, []string{
		"operation", // get_cart, find_order, create_order
		"status",    // HTTP status code or error
	})

	commerceCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reconciler_commerce_call_duration_seconds",
		Help:    "Duration of commerce platform API calls",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{
		"operation",
	})

	// Redrive metrics
	redrivenEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_redriven_events_total",
		Help: "Inbox events replayed by the redriver",
	}, []string{
		"stage", // done, failed
	})

	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_webhook_deliveries_total",
		Help: "Webhook deliveries received from the gateway",
	}, []string{
		"status", // accepted, invalid_signature, malformed
	})
)

// RecordEventReconciled records the final stage of one event
func RecordEventReconciled(eventType, stage, outcome string, duration float64) {
	eventsReconciledTotal.WithLabelValues(eventType, stage, outcome).Inc()
	eventReconcileDuration.WithLabelValues(eventType).Observe(duration)
}

// RecordLedgerTransaction records a ledger apply. Only applied successful
// transactions count toward amounts.
func RecordLedgerTransaction(transactionType, state, apply, currency string, amountCents int64) {
	ledgerTransactionsTotal.WithLabelValues(transactionType, state, apply).Inc()

	if apply == "applied" && state == "Success" {
		ledgerAmountCents.WithLabelValues(transactionType, currency).Add(float64(amountCents))
	}
}

// RecordGatewayCall records one gateway modification call
func RecordGatewayCall(operation, status string, duration float64) {
	gatewayCallsTotal.WithLabelValues(operation, status).Inc()
	gatewayCallDuration.WithLabelValues(operation).Observe(duration)
}

// SetCircuitBreakerState publishes a circuit breaker state
func SetCircuitBreakerState(name string, state int) {
	circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordOrderCreation records an order trigger call
func RecordOrderCreation(status string) {
	ordersCreatedTotal.WithLabelValues(status).Inc()
}

// RecordCommerceCall records one commerce platform API call
func RecordCommerceCall(operation, status string, duration float64) {
	commerceCallsTotal.WithLabelValues(operation, status).Inc()
	commerceCallDuration.WithLabelValues(operation).Observe(duration)
}

// RecordRedrive records a replayed inbox event
func RecordRedrive(stage string) {
	redrivenEventsTotal.WithLabelValues(stage).Inc()
}

// RecordWebhookDelivery records an inbound webhook delivery
func RecordWebhookDelivery(status string) {
	webhookDeliveriesTotal.WithLabelValues(status).Inc()
}
