package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"dinechain/models"
	"dinechain/services"

	"github.com/google/uuid"
)

// CircleClient creates developer-controlled wallets and deposit addresses.
type CircleClient struct {
	api        *apiClient
	blockchain string
}

func NewCircleClient(apiKey, baseURL, blockchain string) *CircleClient {
	return &CircleClient{api: newAPIClient("circle", baseURL, apiKey), blockchain: blockchain}
}

// CreateWallet creates a wallet tagged with refID and returns its id.
func (c *CircleClient) CreateWallet(ctx context.Context, refID string) (string, error) {
	in := map[string]interface{}{
		"idempotencyKey": uuid.NewString(),
		"blockchains":    []string{c.blockchain},
		"custodyType":    "DEVELOPER",
		"refId":          refID,
	}
	var out struct {
		Data struct {
			ID      string `json:"id"`
			Wallets []struct {
				ID string `json:"id"`
			} `json:"wallets"`
		} `json:"data"`
	}
	if err := c.api.do(ctx, http.MethodPost, "/v1/w3s/developer/wallets", in, &out); err != nil {
		return "", err
	}
	if out.Data.ID != "" {
		return out.Data.ID, nil
	}
	if len(out.Data.Wallets) > 0 && out.Data.Wallets[0].ID != "" {
		return out.Data.Wallets[0].ID, nil
	}
	return "", errors.New("circle: wallet id missing from response")
}

// CreateDepositAddress returns a fresh address on the configured chain for walletID.
func (c *CircleClient) CreateDepositAddress(ctx context.Context, walletID string) (string, error) {
	in := map[string]interface{}{
		"idempotencyKey": uuid.NewString(),
		"blockchain":     c.blockchain,
	}
	var out struct {
		Data struct {
			Address string `json:"address"`
		} `json:"data"`
	}
	path := "/v1/w3s/developer/wallets/" + url.PathEscape(walletID) + "/addresses"
	if err := c.api.do(ctx, http.MethodPost, path, in, &out); err != nil {
		return "", err
	}
	if out.Data.Address == "" {
		return "", errors.New("circle: address missing from response")
	}
	return out.Data.Address, nil
}

type walletProvider interface {
	CreateWallet(ctx context.Context, refID string) (string, error)
	CreateDepositAddress(ctx context.Context, walletID string) (string, error)
}

// WalletRegistry remembers which wallet belongs to which customer.
type WalletRegistry interface {
	GetWallet(ctx context.Context, platform, customerID string) (string, error)
	SaveWallet(ctx context.Context, platform, customerID, walletID string) (string, error)
}

// CryptoBackend hands out a USDC deposit address per order. Each customer gets one wallet,
// created on first use; the deposit address is the order's correlation key.
type CryptoBackend struct {
	provider walletProvider
	wallets  WalletRegistry
}

func NewCryptoBackend(provider *CircleClient, wallets WalletRegistry) *CryptoBackend {
	return &CryptoBackend{provider: provider, wallets: wallets}
}

func (c *CryptoBackend) Method() string { return models.MethodCrypto }

func (c *CryptoBackend) Begin(ctx context.Context, order *models.Order) (*Handle, error) {
	walletID, err := c.ensureWallet(ctx, order.Platform, order.CustomerID)
	if err != nil {
		return nil, err
	}
	address, err := c.provider.CreateDepositAddress(ctx, walletID)
	if err != nil {
		return nil, err
	}
	return &Handle{Method: models.MethodCrypto, Address: address, Reference: address, Amount: order.Total}, nil
}

func (c *CryptoBackend) ensureWallet(ctx context.Context, platform, customerID string) (string, error) {
	id, err := c.wallets.GetWallet(ctx, platform, customerID)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, services.ErrNotFound) {
		return "", fmt.Errorf("load wallet: %w", err)
	}
	id, err = c.provider.CreateWallet(ctx, platform+":"+customerID)
	if err != nil {
		return "", err
	}
	// a concurrent first use may have stored a wallet already; keep that one
	return c.wallets.SaveWallet(ctx, platform, customerID, id)
}
