package stripe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81/webhook"
)

const testWebhookSecret = "whsec_test_secret"

const refundedPayload = `{"id":"evt_1","object":"event","api_version":"2020-08-27","type":"charge.refunded","created":1736942400,
"data":{"object":{"id":"ch_1","object":"charge","amount":45600,"amount_refunded":34500,"captured":true,"currency":"mxn","payment_intent":"pi_1"},
"previous_attributes":{"amount_refunded":0}}}`

func sign(payload string, secret string, at time.Time) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: at,
	})
	return signed.Header
}

func TestWebhookVerifier_Verify(t *testing.T) {
	verifier := NewWebhookVerifier(testWebhookSecret, 0)

	event, err := verifier.Verify([]byte(refundedPayload), sign(refundedPayload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)

	decoded, err := DecodeEvent(event)
	require.NoError(t, err)
	assert.Equal(t, int64(34500), decoded.AmountRefunded)
	assert.Equal(t, "pi_1", decoded.SubjectID)
}

func TestWebhookVerifier_RejectsBadSignatures(t *testing.T) {
	verifier := NewWebhookVerifier(testWebhookSecret, time.Minute)

	tests := []struct {
		name   string
		header string
	}{
		{"wrong secret", sign(refundedPayload, "whsec_other", time.Now())},
		{"expired", sign(refundedPayload, testWebhookSecret, time.Now().Add(-time.Hour))},
		{"missing header", ""},
		{"garbage header", "t=abc,v1=zzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify([]byte(refundedPayload), tt.header)
			assert.Error(t, err)
		})
	}
}

func TestWebhookVerifier_RejectsTamperedPayload(t *testing.T) {
	verifier := NewWebhookVerifier(testWebhookSecret, 0)
	header := sign(refundedPayload, testWebhookSecret, time.Now())

	tampered := []byte(refundedPayload)
	tampered[len(tampered)-3] = ' '

	_, err := verifier.Verify(tampered, header)
	assert.Error(t, err)
}
