package payment

import (
	"context"
	"fmt"
	"strconv"

	"dinechain/models"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
)

type checkoutSessions interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeBackend creates Stripe Checkout sessions. The session id is the order reference.
type StripeBackend struct {
	sessions   checkoutSessions
	currency   string
	successURL string
	cancelURL  string
}

func NewStripeBackend(secretKey, currency, publicURL string) *StripeBackend {
	return &StripeBackend{
		sessions:   &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey},
		currency:   currency,
		successURL: publicURL + "/success",
		cancelURL:  publicURL + "/cancel",
	}
}

func (s *StripeBackend) Method() string { return models.MethodCard }

func (s *StripeBackend) Begin(ctx context.Context, order *models.Order) (*Handle, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
	}
	params.Context = ctx
	for _, it := range order.Items {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(s.currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(it.Name),
				},
				UnitAmount: stripe.Int64(it.Price),
			},
			Quantity: stripe.Int64(int64(it.Qty())),
		})
	}
	params.AddMetadata("order_id", strconv.FormatInt(order.ID, 10))
	params.AddMetadata("customer_id", order.CustomerID)
	params.AddMetadata("platform", order.Platform)

	cs, err := s.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if cs.ID == "" || cs.URL == "" {
		return nil, fmt.Errorf("checkout session missing id or url")
	}
	return &Handle{Method: models.MethodCard, URL: cs.URL, Reference: cs.ID, Amount: order.Total}, nil
}
