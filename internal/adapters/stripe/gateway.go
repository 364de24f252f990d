// Package stripe adapts the Stripe API to the reconciler's gateway ports and
// decodes Stripe webhook events into domain events.
package stripe

import (
	"cmp"
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/kevin07696/payment-reconciler/internal/domain/ports"
	gwerrors "github.com/kevin07696/payment-reconciler/pkg/errors"
	"github.com/kevin07696/payment-reconciler/pkg/observability"
)

// Config contains configuration for the Stripe gateway adapter
type Config struct {
	SecretKey string

	// APIURL overrides the Stripe API base URL (stripe-mock, tests)
	APIURL string

	// Client-side rate limit, kept under the account's API limit so webhook
	// bursts queue locally instead of drawing 429s
	RequestsPerSecond float64
	Burst             int

	CircuitBreaker CircuitBreakerConfig
}

// DefaultConfig returns default configuration for the Stripe adapter
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 25,
		Burst:             10,
		CircuitBreaker:    DefaultCircuitBreakerConfig(),
	}
}

// Gateway implements ports.PaymentGateway and ports.PaymentIntentCreator.
//
// Capture, Cancel and Refund check the intent first and only perform the
// operation when Stripe has not already done it. Webhooks usually report
// operations that already happened, and a fresh idempotency key would
// otherwise repeat them.
type Gateway struct {
	api     *client.API
	limiter *rate.Limiter
	breaker *CircuitBreaker
	logger  *zap.Logger
}

var (
	_ ports.PaymentGateway       = (*Gateway)(nil)
	_ ports.PaymentIntentCreator = (*Gateway)(nil)
	_ ports.OrderLinker          = (*Gateway)(nil)
)

// NewGateway creates a Stripe gateway adapter
func NewGateway(cfg Config, httpClient *http.Client, logger *zap.Logger) *Gateway {
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		LeveledLogger:     logger.Sugar(),
		MaxNetworkRetries: stripe.Int64(0), // the redriver owns retries
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &Gateway{
		api: client.New(cfg.SecretKey, &stripe.Backends{
			API:     backend,
			Connect: backend,
			Uploads: backend,
		}),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: NewCircuitBreaker(cfg.CircuitBreaker),
		logger:  logger,
	}
}

// Capture captures amount on the payment intent unless it is already captured
func (g *Gateway) Capture(ctx context.Context, paymentReference string, amount domain.Money, idempotencyKey string) (*ports.GatewayResult, error) {
	intent, err := g.getIntent(ctx, paymentReference, false)
	if err != nil {
		return nil, err
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		g.logger.Debug("Payment intent already captured",
			zap.String("payment_intent", intent.ID),
		)
		return captureResult(intent), nil
	case stripe.PaymentIntentStatusProcessing:
		return captureResult(intent), nil
	}

	var captured *stripe.PaymentIntent
	err = g.call(ctx, "capture", func() error {
		params := &stripe.PaymentIntentCaptureParams{
			Params:          stripe.Params{Context: ctx},
			AmountToCapture: stripe.Int64(amount.CentAmount),
		}
		params.SetIdempotencyKey(idempotencyKey)

		var err error
		captured, err = g.api.PaymentIntents.Capture(paymentReference, params)
		return err
	})
	if err != nil {
		return nil, err
	}

	g.logger.Info("Payment intent captured",
		zap.String("payment_intent", captured.ID),
		zap.Int64("amount", amount.CentAmount),
		zap.String("status", string(captured.Status)),
	)
	return captureResult(captured), nil
}

// Cancel cancels the payment intent unless it is already canceled
func (g *Gateway) Cancel(ctx context.Context, paymentReference string, idempotencyKey string) (*ports.GatewayResult, error) {
	intent, err := g.getIntent(ctx, paymentReference, false)
	if err != nil {
		return nil, err
	}
	if intent.Status == stripe.PaymentIntentStatusCanceled {
		return cancelResult(intent), nil
	}

	var canceled *stripe.PaymentIntent
	err = g.call(ctx, "cancel", func() error {
		params := &stripe.PaymentIntentCancelParams{
			Params: stripe.Params{Context: ctx},
		}
		params.SetIdempotencyKey(idempotencyKey)

		var err error
		canceled, err = g.api.PaymentIntents.Cancel(paymentReference, params)
		return err
	})
	if err != nil {
		return nil, err
	}

	g.logger.Info("Payment intent canceled",
		zap.String("payment_intent", canceled.ID),
		zap.String("status", string(canceled.Status)),
	)
	return cancelResult(canceled), nil
}

// Refund reports the refund an event is about, issuing one only when the
// charge has not yet been refunded up to req.RefundedTotal. A known refund id
// is fetched directly. Otherwise the refund whose running total on the charge
// reaches req.RefundedTotal is reported, so equal partial refunds resolve to
// distinct refunds.
func (g *Gateway) Refund(ctx context.Context, req *ports.RefundRequest) (*ports.GatewayResult, error) {
	if req.RefundID != "" {
		refund, err := g.getRefund(ctx, req.RefundID)
		if err != nil {
			return nil, err
		}
		return refundResult(refund), nil
	}

	intent, err := g.getIntent(ctx, req.PaymentReference, true)
	if err != nil {
		return nil, err
	}

	if charge := intent.LatestCharge; charge != nil && req.RefundedTotal > 0 && charge.AmountRefunded >= req.RefundedTotal {
		existing, err := g.refundAtTotal(ctx, charge.ID, req.RefundedTotal)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			// refunded, but no single refund closes at this total
			g.logger.Debug("Refund already recorded on charge",
				zap.String("payment_intent", req.PaymentReference),
				zap.Int64("refunded_total", req.RefundedTotal),
			)
			return &ports.GatewayResult{Status: ports.GatewayStatusSucceeded, Message: "already refunded"}, nil
		}
		g.logger.Debug("Refund already issued",
			zap.String("payment_intent", req.PaymentReference),
			zap.String("refund", existing.ID),
		)
		return refundResult(existing), nil
	}

	var refund *stripe.Refund
	err = g.call(ctx, "refund", func() error {
		params := &stripe.RefundParams{
			Params:        stripe.Params{Context: ctx},
			PaymentIntent: stripe.String(req.PaymentReference),
			Amount:        stripe.Int64(req.Amount.CentAmount),
		}
		params.SetIdempotencyKey(req.IdempotencyKey)

		var err error
		refund, err = g.api.Refunds.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}

	g.logger.Info("Refund issued",
		zap.String("payment_intent", req.PaymentReference),
		zap.String("refund", refund.ID),
		zap.Int64("amount", refund.Amount),
		zap.String("status", string(refund.Status)),
	)
	return refundResult(refund), nil
}

// CreatePaymentIntent opens a payment intent for a cart
func (g *Gateway) CreatePaymentIntent(ctx context.Context, req *ports.CreateIntentRequest) (*ports.CreateIntentResult, error) {
	var intent *stripe.PaymentIntent
	err := g.call(ctx, "create_intent", func() error {
		params := &stripe.PaymentIntentParams{
			Params:        stripe.Params{Context: ctx},
			Amount:        stripe.Int64(req.Amount.CentAmount),
			Currency:      stripe.String(strings.ToLower(req.Amount.CurrencyCode)),
			CaptureMethod: stripe.String(req.CaptureMethod),
		}
		params.AddMetadata("cart_id", req.CartID)
		if req.IdempotencyKey != "" {
			params.SetIdempotencyKey(req.IdempotencyKey)
		}

		var err error
		intent, err = g.api.PaymentIntents.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &ports.CreateIntentResult{
		PaymentReference: intent.ID,
		ClientSecret:     intent.ClientSecret,
	}, nil
}

// AttachPaymentID stores the ledger payment id in the intent metadata so
// webhook events can be resolved without a reference lookup
func (g *Gateway) AttachPaymentID(ctx context.Context, paymentReference, paymentID string) error {
	return g.call(ctx, "attach_payment_id", func() error {
		params := &stripe.PaymentIntentParams{
			Params: stripe.Params{Context: ctx},
		}
		params.AddMetadata(MetadataPaymentID, paymentID)

		_, err := g.api.PaymentIntents.Update(paymentReference, params)
		return err
	})
}

// AttachOrderID stores the commerce order id in the intent metadata
func (g *Gateway) AttachOrderID(ctx context.Context, paymentReference, orderID string) error {
	return g.call(ctx, "attach_order_id", func() error {
		params := &stripe.PaymentIntentParams{
			Params: stripe.Params{Context: ctx},
		}
		params.AddMetadata(MetadataOrderID, orderID)

		_, err := g.api.PaymentIntents.Update(paymentReference, params)
		return err
	})
}

func (g *Gateway) getIntent(ctx context.Context, reference string, expandCharge bool) (*stripe.PaymentIntent, error) {
	var intent *stripe.PaymentIntent
	err := g.call(ctx, "get_intent", func() error {
		params := &stripe.PaymentIntentParams{
			Params: stripe.Params{Context: ctx},
		}
		if expandCharge {
			params.AddExpand("latest_charge")
		}

		var err error
		intent, err = g.api.PaymentIntents.Get(reference, params)
		return err
	})
	return intent, err
}

func (g *Gateway) getRefund(ctx context.Context, id string) (*stripe.Refund, error) {
	var refund *stripe.Refund
	err := g.call(ctx, "get_refund", func() error {
		var err error
		refund, err = g.api.Refunds.Get(id, &stripe.RefundParams{Params: stripe.Params{Context: ctx}})
		return err
	})
	return refund, err
}

// refundAtTotal walks the charge's refunds oldest first and returns the one
// that brings the refunded sum to total. Failed and canceled refunds do not
// count toward the charge's refunded amount and are skipped.
func (g *Gateway) refundAtTotal(ctx context.Context, chargeID string, total int64) (*stripe.Refund, error) {
	var refunds []*stripe.Refund
	err := g.call(ctx, "list_refunds", func() error {
		params := &stripe.RefundListParams{
			ListParams: stripe.ListParams{Context: ctx},
			Charge:     stripe.String(chargeID),
		}
		params.Limit = stripe.Int64(100)

		refunds = refunds[:0]
		iter := g.api.Refunds.List(params)
		for iter.Next() {
			refunds = append(refunds, iter.Refund())
		}
		return iter.Err()
	})
	if err != nil {
		return nil, err
	}

	// Stripe lists newest first
	slices.Reverse(refunds)
	slices.SortStableFunc(refunds, func(a, b *stripe.Refund) int {
		return cmp.Compare(a.Created, b.Created)
	})

	var sum int64
	for _, r := range refunds {
		if r.Status == stripe.RefundStatusFailed || r.Status == stripe.RefundStatusCanceled {
			continue
		}
		sum += r.Amount
		if sum == total {
			return r, nil
		}
		if sum > total {
			break
		}
	}
	return nil, nil
}

// call applies the client-side rate limit and circuit breaker to fn and
// classifies its error
func (g *Gateway) call(ctx context.Context, operation string, fn func() error) error {
	start := time.Now()

	if err := g.limiter.Wait(ctx); err != nil {
		gwErr := gwerrors.NewGatewayError("rate_limit_wait", "gave up waiting for gateway rate limit", gwerrors.CategoryRateLimited, true)
		gwErr.Err = err
		observability.RecordGatewayCall(operation, string(gwErr.Category), time.Since(start).Seconds())
		return gwErr
	}

	err := g.breaker.Call(func() error {
		if err := fn(); err != nil {
			return classifyError(err)
		}
		return nil
	})

	status := "ok"
	if gwErr, ok := gwerrors.AsGatewayError(err); ok {
		status = string(gwErr.Category)
		g.logger.Warn("Stripe call failed",
			zap.String("operation", operation),
			zap.String("code", gwErr.Code),
			zap.String("category", string(gwErr.Category)),
			zap.Bool("retriable", gwErr.IsRetriable),
			zap.Error(err),
		)
	}
	observability.RecordGatewayCall(operation, status, time.Since(start).Seconds())
	return err
}

func captureResult(intent *stripe.PaymentIntent) *ports.GatewayResult {
	reference := intent.ID
	if intent.LatestCharge != nil && intent.LatestCharge.ID != "" {
		reference = intent.LatestCharge.ID
	}

	result := &ports.GatewayResult{ProviderReference: reference, Message: string(intent.Status)}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		result.Status = ports.GatewayStatusSucceeded
	case stripe.PaymentIntentStatusProcessing:
		result.Status = ports.GatewayStatusPending
	default:
		result.Status = ports.GatewayStatusFailed
	}
	return result
}

func cancelResult(intent *stripe.PaymentIntent) *ports.GatewayResult {
	result := &ports.GatewayResult{ProviderReference: intent.ID, Message: string(intent.Status)}
	if intent.Status == stripe.PaymentIntentStatusCanceled {
		result.Status = ports.GatewayStatusSucceeded
	} else {
		result.Status = ports.GatewayStatusFailed
	}
	return result
}

func refundResult(refund *stripe.Refund) *ports.GatewayResult {
	result := &ports.GatewayResult{ProviderReference: refund.ID, Message: string(refund.Status)}
	switch refund.Status {
	case stripe.RefundStatusSucceeded:
		result.Status = ports.GatewayStatusSucceeded
	case stripe.RefundStatusPending, stripe.RefundStatusRequiresAction:
		result.Status = ports.GatewayStatusPending
	default:
		result.Status = ports.GatewayStatusFailed
	}
	return result
}
