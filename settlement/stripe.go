package settlement

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

const (
	eventCheckoutCompleted    = "checkout.session.completed"
	eventAsyncPaymentSucceeds = "checkout.session.async_payment_succeeded"
)

// HandleStripe verifies and applies a Stripe webhook delivery.
func (r *Reconciler) HandleStripe(ctx context.Context, payload []byte, signature string) int {
	event, err := webhook.ConstructEventWithOptions(payload, signature, r.opts.StripeWebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		r.logger.Warn("stripe signature rejected", zap.Error(err))
		return http.StatusBadRequest
	}

	switch string(event.Type) {
	case eventCheckoutCompleted, eventAsyncPaymentSucceeds:
	default:
		return http.StatusOK
	}

	var cs stripe.CheckoutSession
	if event.Data == nil || json.Unmarshal(event.Data.Raw, &cs) != nil || cs.ID == "" {
		r.logger.Warn("stripe event without session id", zap.String("event_id", event.ID))
		return http.StatusBadRequest
	}
	// completed sessions for delayed methods settle on async_payment_succeeded
	if string(event.Type) == eventCheckoutCompleted && cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		r.logger.Info("stripe session completed without payment", zap.String("session_id", cs.ID))
		return http.StatusOK
	}

	orderID, _ := strconv.ParseInt(cs.Metadata["order_id"], 10, 64)
	return r.settleByReference(ctx, cs.ID, orderID, "stripe")
}
