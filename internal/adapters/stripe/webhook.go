package stripe

import (
	"time"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

// SignatureHeader carries the webhook signature on Stripe deliveries
const SignatureHeader = "Stripe-Signature"

// WebhookVerifier checks Stripe webhook signatures
type WebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewWebhookVerifier creates a verifier for the endpoint signing secret.
// A zero tolerance uses the SDK default of five minutes.
func NewWebhookVerifier(secret string, tolerance time.Duration) *WebhookVerifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &WebhookVerifier{secret: secret, tolerance: tolerance}
}

// Verify validates the signature header and parses the payload.
// Events pinned to another API version are accepted; DecodeEvent only
// reads fields that are stable across versions.
func (v *WebhookVerifier) Verify(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
}
