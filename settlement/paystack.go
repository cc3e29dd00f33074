package settlement

import (
	"context"
	"encoding/json"
	"net/http"

	"dinechain/payment"

	"go.uber.org/zap"
)

const eventChargeSuccess = "charge.success"

type paystackEvent struct {
	Event string              `json:"event"`
	Data  payment.Transaction `json:"data"`
}

// HandlePaystack verifies and applies a Paystack webhook delivery.
func (r *Reconciler) HandlePaystack(ctx context.Context, payload []byte, signature string) int {
	if !payment.ValidSignature(r.opts.PaystackSecretKey, payload, signature) {
		r.logger.Warn("paystack signature rejected")
		return http.StatusBadRequest
	}
	var ev paystackEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return http.StatusBadRequest
	}
	if ev.Event != eventChargeSuccess {
		return http.StatusOK
	}
	if ev.Data.Reference == "" {
		return http.StatusBadRequest
	}
	orderID, _ := ev.Data.OrderID()
	return r.settleByReference(ctx, ev.Data.Reference, orderID, "paystack")
}

// VerifyPaystack handles the customer returning from the hosted page. The transaction is
// confirmed with Paystack before the order is settled.
func (r *Reconciler) VerifyPaystack(ctx context.Context, reference string) int {
	if reference == "" {
		return http.StatusBadRequest
	}
	if r.opts.Paystack == nil {
		return http.StatusNotFound
	}
	tx, err := r.opts.Paystack.Verify(ctx, reference)
	if err != nil {
		r.logger.Warn("paystack verify failed", zap.String("reference", reference), zap.Error(err))
		return http.StatusBadGateway
	}
	if tx.Status != "success" {
		r.logger.Info("paystack transaction not successful",
			zap.String("reference", reference),
			zap.String("status", tx.Status))
		return http.StatusPaymentRequired
	}
	orderID, _ := tx.OrderID()
	return r.settleByReference(ctx, reference, orderID, "paystack_verify")
}
