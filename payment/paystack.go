package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"dinechain/models"

	"github.com/google/uuid"
)

// PaystackClient wraps the two transaction endpoints the bot needs.
type PaystackClient struct {
	api *apiClient
}

func NewPaystackClient(secretKey, baseURL string) *PaystackClient {
	return &PaystackClient{api: newAPIClient("paystack", baseURL, secretKey)}
}

type paystackEnvelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
}

type InitializeRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency,omitempty"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Transaction is the subset of a Paystack transaction the reconciler reads.
type Transaction struct {
	Status    string          `json:"status"`
	Reference string          `json:"reference"`
	Amount    int64           `json:"amount"`
	Metadata  json.RawMessage `json:"metadata"`
}

// OrderID reads the order id stored in the transaction metadata at initialization.
func (t *Transaction) OrderID() (int64, bool) {
	var meta map[string]interface{}
	if len(t.Metadata) == 0 || json.Unmarshal(t.Metadata, &meta) != nil {
		return 0, false
	}
	switch v := meta["order_id"].(type) {
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		return id, err == nil
	case float64:
		return int64(v), true
	}
	return 0, false
}

// Initialize creates a hosted payment page and returns its authorization url.
func (c *PaystackClient) Initialize(ctx context.Context, in InitializeRequest) (string, error) {
	var out struct {
		paystackEnvelope
		Data struct {
			AuthorizationURL string `json:"authorization_url"`
			Reference        string `json:"reference"`
		} `json:"data"`
	}
	if err := c.api.do(ctx, http.MethodPost, "/transaction/initialize", in, &out); err != nil {
		return "", err
	}
	if !out.Status || out.Data.AuthorizationURL == "" {
		return "", fmt.Errorf("paystack initialize: %s", out.Message)
	}
	return out.Data.AuthorizationURL, nil
}

// Verify fetches the transaction for reference.
func (c *PaystackClient) Verify(ctx context.Context, reference string) (*Transaction, error) {
	var out struct {
		paystackEnvelope
		Data Transaction `json:"data"`
	}
	if err := c.api.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &out); err != nil {
		return nil, err
	}
	if !out.Status {
		return nil, fmt.Errorf("paystack verify: %s", out.Message)
	}
	return &out.Data, nil
}

// ValidSignature checks the x-paystack-signature header: hex HMAC-SHA512 of the raw body.
func ValidSignature(secretKey string, body []byte, signature string) bool {
	if secretKey == "" || signature == "" {
		return false
	}
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

type paystackInitializer interface {
	Initialize(ctx context.Context, in InitializeRequest) (string, error)
}

// PaystackBackend issues hosted payment links. The reference is a fresh uuid per attempt.
type PaystackBackend struct {
	client      paystackInitializer
	email       string
	currency    string
	callbackURL string
}

func NewPaystackBackend(client *PaystackClient, email, currency, publicURL string) *PaystackBackend {
	return &PaystackBackend{
		client:      client,
		email:       email,
		currency:    currency,
		callbackURL: publicURL + "/paystack/verify",
	}
}

func (p *PaystackBackend) Method() string { return models.MethodPaystack }

func (p *PaystackBackend) Begin(ctx context.Context, order *models.Order) (*Handle, error) {
	if p.email == "" {
		return nil, errors.New("paystack: customer email not configured")
	}
	reference := uuid.NewString()
	link, err := p.client.Initialize(ctx, InitializeRequest{
		Email:       p.email,
		Amount:      order.Total,
		Currency:    p.currency,
		Reference:   reference,
		CallbackURL: p.callbackURL + "?reference=" + url.QueryEscape(reference),
		Metadata: map[string]string{
			"order_id":    strconv.FormatInt(order.ID, 10),
			"customer_id": order.CustomerID,
			"platform":    order.Platform,
		},
	})
	if err != nil {
		return nil, err
	}
	return &Handle{Method: models.MethodPaystack, URL: link, Reference: reference, Amount: order.Total}, nil
}
