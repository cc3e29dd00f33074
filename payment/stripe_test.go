package payment

import (
	"context"
	"errors"
	"testing"

	"dinechain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

type fakeSessions struct {
	params *stripe.CheckoutSessionParams
	out    *stripe.CheckoutSession
	err    error
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = params
	return f.out, f.err
}

func TestStripeBackendBegin(t *testing.T) {
	sessions := &fakeSessions{out: &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}}
	b := NewStripeBackend("sk_test", "usd", "https://bot.example")
	b.sessions = sessions

	order := testOrder()
	order.Items[1].Quantity = 2
	order.Total = 220
	h, err := b.Begin(context.Background(), order)
	require.NoError(t, err)

	assert.Equal(t, models.MethodCard, h.Method)
	assert.Equal(t, "cs_test_1", h.Reference)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", h.URL)
	assert.Equal(t, int64(220), h.Amount)

	p := sessions.params
	require.NotNil(t, p)
	assert.Equal(t, "payment", *p.Mode)
	assert.Equal(t, "https://bot.example/success", *p.SuccessURL)
	assert.Equal(t, "https://bot.example/cancel", *p.CancelURL)
	require.Len(t, p.LineItems, 2)
	assert.Equal(t, int64(60), *p.LineItems[1].PriceData.UnitAmount)
	assert.Equal(t, int64(2), *p.LineItems[1].Quantity)
	assert.Equal(t, "Chapman", *p.LineItems[1].PriceData.ProductData.Name)
	assert.Equal(t, "7", p.Metadata["order_id"])
	assert.Equal(t, "42", p.Metadata["customer_id"])
}

func TestStripeBackendBeginError(t *testing.T) {
	b := NewStripeBackend("sk_test", "usd", "https://bot.example")
	b.sessions = &fakeSessions{err: errors.New("card_declined")}
	_, err := b.Begin(context.Background(), testOrder())
	assert.Error(t, err)

	b.sessions = &fakeSessions{out: &stripe.CheckoutSession{ID: "cs_1"}}
	_, err = b.Begin(context.Background(), testOrder())
	assert.Error(t, err)
}
