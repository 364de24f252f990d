package stripe

import (
	"errors"
	"net/http"

	stripe "github.com/stripe/stripe-go/v81"

	gwerrors "github.com/kevin07696/payment-reconciler/pkg/errors"
)

// classifyError turns an SDK failure into a GatewayError. Anything that is
// not a *stripe.Error never reached the API and is treated as a network error.
func classifyError(err error) *gwerrors.GatewayError {
	if err == nil {
		return nil
	}
	if gwErr, ok := gwerrors.AsGatewayError(err); ok {
		return gwErr
	}

	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		gwErr := gwerrors.NewGatewayError("network_error", "gateway unreachable", gwerrors.CategoryNetworkError, true)
		gwErr.Err = err
		return gwErr
	}

	category, retriable := categorize(stripeErr)
	code := string(stripeErr.Code)
	if code == "" {
		code = string(stripeErr.Type)
	}

	gwErr := gwerrors.NewGatewayError(code, "gateway rejected request", category, retriable)
	gwErr.Err = err
	gwErr.GatewayMessage = stripeErr.Msg
	gwErr.HTTPStatus = stripeErr.HTTPStatusCode
	if stripeErr.RequestID != "" {
		gwErr.Details["request_id"] = stripeErr.RequestID
	}
	if stripeErr.DeclineCode != "" {
		gwErr.Details["decline_code"] = string(stripeErr.DeclineCode)
	}
	return gwErr
}

func categorize(e *stripe.Error) (gwerrors.ErrorCategory, bool) {
	switch {
	case e.HTTPStatusCode == http.StatusTooManyRequests:
		return gwerrors.CategoryRateLimited, true
	case e.HTTPStatusCode == http.StatusUnauthorized:
		return gwerrors.CategoryAuthentication, false
	case e.Type == stripe.ErrorTypeCard:
		return gwerrors.CategoryDeclined, false
	case e.Type == stripe.ErrorTypeIdempotency:
		return gwerrors.CategoryIdempotency, false
	case e.Type == stripe.ErrorTypeInvalidRequest:
		if e.Code == stripe.ErrorCodePaymentIntentUnexpectedState || e.Code == stripe.ErrorCodeChargeAlreadyRefunded {
			return gwerrors.CategoryInvalidState, false
		}
		return gwerrors.CategoryInvalidRequest, false
	default:
		return gwerrors.CategorySystemError, true
	}
}
