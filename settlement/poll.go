package settlement

import (
	"context"
	"time"

	"dinechain/models"
	"dinechain/payment"

	"go.uber.org/zap"
)

// Poll checks every deposit address quoted within the deposit window for an unpaid order,
// including addresses from attempts the customer later replaced. A run that starts while
// another is still in progress returns immediately.
func (r *Reconciler) Poll(ctx context.Context) {
	if r.opts.Balances == nil {
		return
	}
	if !r.polling.CompareAndSwap(false, true) {
		r.logger.Debug("deposit poll already running")
		return
	}
	defer r.polling.Store(false)

	orders, err := r.store.ListAwaitingDeposit(ctx, time.Now().Add(-r.opts.DepositWindow))
	if err != nil {
		r.logger.Error("list awaiting deposits", zap.Error(err))
		return
	}
	settled := make(map[int64]bool)
	for i := range orders {
		if ctx.Err() != nil {
			return
		}
		if settled[orders[i].ID] {
			continue
		}
		settled[orders[i].ID] = r.checkDeposit(ctx, &orders[i])
	}
}

// checkDeposit reports whether the order was settled from this address.
func (r *Reconciler) checkDeposit(ctx context.Context, order *models.Order) bool {
	cctx, cancel := context.WithTimeout(ctx, r.opts.ChainTimeout)
	defer cancel()

	raw, err := r.opts.Balances.BalanceOf(cctx, order.DepositAddress)
	if err != nil {
		r.logger.Warn("read deposit balance",
			zap.Int64("order_id", order.ID),
			zap.String("address", order.DepositAddress),
			zap.Error(err))
		return false
	}
	received := payment.TokenToMinor(raw, r.opts.TokenDecimals)
	switch {
	case received >= order.Total:
		if err := r.Settle(ctx, order, "chain"); err != nil {
			r.logger.Error("settle deposit", zap.Int64("order_id", order.ID), zap.Error(err))
			return false
		}
		return true
	case received > 0:
		r.logger.Info("partial deposit",
			zap.Int64("order_id", order.ID),
			zap.String("address", order.DepositAddress),
			zap.Int64("received", received),
			zap.Int64("expected", order.Total))
	}
	return false
}

// Run polls on every tick until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	go r.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go r.Poll(ctx)
		}
	}
}
