// Package settlement turns provider confirmations into the single paid transition of an order.
//
// Every entry point resolves a correlation key to an order, then settles it under the
// customer's lock. MarkPaid is conditional, so only the caller that flips the row clears
// the transcript and notifies; replays and races end as no-ops.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"dinechain/keylock"
	"dinechain/lang"
	"dinechain/models"
	"dinechain/payment"
	"dinechain/services"

	"go.uber.org/zap"
)

const (
	defaultChainTimeout  = 15 * time.Second
	defaultDepositWindow = 72 * time.Hour
)

// Store is the persistence the reconciler needs.
type Store interface {
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	FindUnpaidByReference(ctx context.Context, reference string) (*models.Order, error)
	MarkPaid(ctx context.Context, id int64) (bool, error)
	ListAwaitingDeposit(ctx context.Context, since time.Time) ([]models.Order, error)
	ClearConversation(ctx context.Context, platform, customerID string) error
	RecordNotification(ctx context.Context, orderID int64, audience string) (bool, error)
}

type Notifier interface {
	Send(ctx context.Context, platform, customerID, text string)
	Kitchen(ctx context.Context, text string)
}

type PaystackVerifier interface {
	Verify(ctx context.Context, reference string) (*payment.Transaction, error)
}

type BalanceReader interface {
	BalanceOf(ctx context.Context, owner string) (*big.Int, error)
}

type Options struct {
	StripeWebhookSecret string
	PaystackSecretKey   string
	Paystack            PaystackVerifier // nil disables the verify callback
	Balances            BalanceReader    // nil disables deposit polling
	TokenDecimals       int
	ChainTimeout        time.Duration
	DepositWindow       time.Duration // addresses quoted longer ago than this are no longer polled
}

type Reconciler struct {
	store    Store
	locker   *keylock.Locker
	notifier Notifier
	opts     Options
	logger   *zap.Logger
	polling  atomic.Bool
}

func New(store Store, locker *keylock.Locker, notifier Notifier, opts Options, logger *zap.Logger) *Reconciler {
	if opts.TokenDecimals == 0 {
		opts.TokenDecimals = payment.USDCDecimals
	}
	if opts.ChainTimeout <= 0 {
		opts.ChainTimeout = defaultChainTimeout
	}
	if opts.DepositWindow <= 0 {
		opts.DepositWindow = defaultDepositWindow
	}
	return &Reconciler{store: store, locker: locker, notifier: notifier, opts: opts, logger: logger}
}

// MarkPaidByID settles an order by id. It backs the authenticated internal endpoint used by
// external payment watchers.
func (r *Reconciler) MarkPaidByID(ctx context.Context, id int64) int {
	order, err := r.store.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return http.StatusNotFound
		}
		r.logger.Error("load order", zap.Int64("order_id", id), zap.Error(err))
		return http.StatusInternalServerError
	}
	return r.settleStatus(ctx, order, "internal")
}

// settleByReference settles the unpaid order matching reference, falling back to fallbackID
// when the reference was replaced by a later payment attempt.
func (r *Reconciler) settleByReference(ctx context.Context, reference string, fallbackID int64, source string) int {
	order, err := r.store.FindUnpaidByReference(ctx, reference)
	if errors.Is(err, services.ErrNotFound) && fallbackID != 0 {
		order, err = r.store.GetOrder(ctx, fallbackID)
	}
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			r.logger.Info("settlement for unknown reference",
				zap.String("source", source),
				zap.String("reference", reference))
			return http.StatusOK
		}
		r.logger.Error("find order by reference", zap.String("reference", reference), zap.Error(err))
		return http.StatusInternalServerError
	}
	if order.Paid && order.Reference != reference {
		// an earlier session was paid as well; needs a manual refund
		r.logger.Warn("second payment for paid order",
			zap.Int64("order_id", order.ID),
			zap.String("source", source),
			zap.String("reference", reference))
		return http.StatusOK
	}
	return r.settleStatus(ctx, order, source)
}

func (r *Reconciler) settleStatus(ctx context.Context, order *models.Order, source string) int {
	if err := r.Settle(ctx, order, source); err != nil {
		r.logger.Error("settle order", zap.Int64("order_id", order.ID), zap.String("source", source), zap.Error(err))
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

// Settle marks order paid and, if this call made the transition, clears the customer's
// transcript and sends the receipt and kitchen ticket.
func (r *Reconciler) Settle(ctx context.Context, order *models.Order, source string) error {
	unlock, err := r.locker.Lock(ctx, keylock.Key(order.Platform, order.CustomerID))
	if err != nil {
		return fmt.Errorf("acquire customer lock: %w", err)
	}
	defer unlock()

	flipped, err := r.store.MarkPaid(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("mark order %d paid: %w", order.ID, err)
	}
	if !flipped {
		r.logger.Info("order already paid", zap.Int64("order_id", order.ID), zap.String("source", source))
		return nil
	}
	r.logger.Info("order paid",
		zap.Int64("order_id", order.ID),
		zap.String("customer_id", order.CustomerID),
		zap.String("platform", order.Platform),
		zap.String("source", source))

	// a cancelled order's customer may already be negotiating a new one
	if order.CancelledAt == nil {
		if err := r.store.ClearConversation(ctx, order.Platform, order.CustomerID); err != nil {
			r.logger.Error("clear conversation", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}

	items := models.FormatItems(order.Items)
	total := models.FormatMoney(order.Total)
	if r.firstNotification(ctx, order.ID, services.AudienceCustomer) {
		r.notifier.Send(ctx, order.Platform, order.CustomerID, lang.T("receipt", items, total))
	}
	if r.firstNotification(ctx, order.ID, services.AudienceKitchen) {
		delivery := order.Delivery
		if delivery == "" {
			delivery = lang.T("delivery_not_given")
		}
		r.notifier.Kitchen(ctx, lang.T("kitchen_ticket",
			order.CustomerName, order.CustomerID, order.Platform, items, total, delivery))
	}
	return nil
}

func (r *Reconciler) firstNotification(ctx context.Context, orderID int64, audience string) bool {
	first, err := r.store.RecordNotification(ctx, orderID, audience)
	if err != nil {
		// the paid flip already guards against duplicates; prefer delivering
		r.logger.Warn("record notification", zap.Int64("order_id", orderID), zap.String("audience", audience), zap.Error(err))
		return true
	}
	return first
}
