// Package payment starts payment attempts for orders through interchangeable backends.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dinechain/lang"
	"dinechain/models"

	"go.uber.org/zap"
)

const defaultTimeout = 15 * time.Second

var ErrUnknownMethod = errors.New("unknown payment method")

// Handle describes a started payment attempt. Exactly one of URL or Address is set.
type Handle struct {
	Method    string
	URL       string
	Address   string
	Reference string
	Amount    int64
}

// Text is the customer-facing instruction for completing the payment.
func (h *Handle) Text() string {
	if h.Address != "" {
		return lang.T("crypto_instructions", fmt.Sprintf("%d.%02d", h.Amount/100, h.Amount%100), h.Address)
	}
	return lang.T("payment_link", h.URL)
}

// Backend creates a payment request with one provider.
type Backend interface {
	Method() string
	Begin(ctx context.Context, order *models.Order) (*Handle, error)
}

// Registry maps the keywords a customer may type to backends.
type Registry struct {
	byKeyword map[string]Backend
	methods   []string
}

func NewRegistry() *Registry {
	return &Registry{byKeyword: make(map[string]Backend)}
}

// Register adds b under its method name and any extra keywords.
func (r *Registry) Register(b Backend, keywords ...string) {
	r.methods = append(r.methods, b.Method())
	r.byKeyword[b.Method()] = b
	for _, k := range keywords {
		r.byKeyword[strings.ToLower(k)] = b
	}
}

// Lookup matches text against registered keywords, ignoring case and surrounding space.
func (r *Registry) Lookup(text string) (Backend, error) {
	b, ok := r.byKeyword[strings.ToLower(strings.TrimSpace(text))]
	if !ok {
		return nil, ErrUnknownMethod
	}
	return b, nil
}

// Methods returns the registered method names in registration order.
func (r *Registry) Methods() []string {
	return append([]string(nil), r.methods...)
}

// Ledger is the part of the order store the dispatcher writes to.
type Ledger interface {
	AttachPayment(ctx context.Context, a *models.PaymentAttempt) error
}

// Dispatcher runs a backend for an order and records the attempt.
type Dispatcher struct {
	registry *Registry
	ledger   Ledger
	timeout  time.Duration
	logger   *zap.Logger
}

func NewDispatcher(registry *Registry, ledger Ledger, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{registry: registry, ledger: ledger, timeout: timeout, logger: logger}
}

// Resolve returns the backend selected by text, if any.
func (d *Dispatcher) Resolve(text string) (Backend, bool) {
	b, err := d.registry.Lookup(text)
	return b, err == nil
}

// Prompt asks the customer to pick one of the registered methods.
func (d *Dispatcher) Prompt() string {
	return lang.T("choose_payment", joinChoices(d.registry.Methods()))
}

// PendingPrompt reminds the customer that an unpaid order is waiting.
func (d *Dispatcher) PendingPrompt() string {
	return lang.T("unpaid_order_pending", joinChoices(d.registry.Methods()))
}

// Begin starts a payment for order and returns the message for the customer. A provider
// failure leaves the order untouched and yields an apology; only ledger errors are returned.
// If the order already has a live attempt with the same method, its link or address is
// sent again and no new session is created.
func (d *Dispatcher) Begin(ctx context.Context, order *models.Order, b Backend) (string, error) {
	if h := currentHandle(order); h != nil && h.Method == b.Method() {
		d.logger.Info("payment resent",
			zap.Int64("order_id", order.ID),
			zap.String("method", h.Method),
			zap.String("reference", h.Reference))
		return h.Text(), nil
	}

	pctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	h, err := b.Begin(pctx, order)
	if err != nil {
		d.logger.Warn("payment start failed",
			zap.Int64("order_id", order.ID),
			zap.String("method", b.Method()),
			zap.Error(err))
		return lang.T("payment_start_failed"), nil
	}

	attempt := &models.PaymentAttempt{
		OrderID:        order.ID,
		Method:         h.Method,
		Reference:      h.Reference,
		URL:            h.URL,
		DepositAddress: h.Address,
	}
	if err := d.ledger.AttachPayment(ctx, attempt); err != nil {
		return "", fmt.Errorf("attach payment to order %d: %w", order.ID, err)
	}
	order.PaymentMethod = h.Method
	order.Reference = h.Reference
	order.DepositAddress = h.Address
	order.PaymentURL = h.URL

	d.logger.Info("payment started",
		zap.Int64("order_id", order.ID),
		zap.String("method", h.Method),
		zap.String("reference", h.Reference))
	return h.Text(), nil
}

// currentHandle rebuilds the handle of the order's latest attempt, or returns nil if none.
func currentHandle(order *models.Order) *Handle {
	if order.PaymentMethod == "" || (order.PaymentURL == "" && order.DepositAddress == "") {
		return nil
	}
	return &Handle{
		Method:    order.PaymentMethod,
		URL:       order.PaymentURL,
		Address:   order.DepositAddress,
		Reference: order.Reference,
		Amount:    order.Total,
	}
}

func joinChoices(methods []string) string {
	quoted := make([]string, len(methods))
	for i, m := range methods {
		quoted[i] = "'" + m + "'"
	}
	switch len(quoted) {
	case 0:
		return ""
	case 1:
		return quoted[0]
	}
	return strings.Join(quoted[:len(quoted)-1], ", ") + " or " + quoted[len(quoted)-1]
}
