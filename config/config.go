package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	AppEnv   string
	Store    string
	NodeID   int64 // snowflake node for order ids
	DB       DBConfig
	Telegram TelegramConfig
	Twilio   TwilioConfig
	LLM      LLMConfig
	Stripe   StripeConfig
	Paystack PaystackConfig
	Circle   CircleConfig
	Chain    ChainConfig
	Server   ServerConfig
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

type TelegramConfig struct {
	Token         string
	KitchenChatID string // telegram chat that receives kitchen tickets
	Mode          string // "webhook" or "polling"
}

type TwilioConfig struct {
	AccountSID     string
	AuthToken      string
	WhatsAppNumber string
}

type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	PromptFile  string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
}

type PaystackConfig struct {
	SecretKey string
	BaseURL   string
	Email     string
	Currency  string
}

type CircleConfig struct {
	APIKey     string
	BaseURL    string
	Blockchain string
}

type ChainConfig struct {
	RPCURL        string
	TokenAddress  string
	PollInterval  time.Duration
	DepositWindow time.Duration // how long quoted deposit addresses are watched
}

type ServerConfig struct {
	Addr           string
	PublicURL      string // externally reachable base url, used for callbacks
	InternalAPIKey string
	RateRPS        float64
	RateBurst      int
	PaymentTimeout time.Duration
	TrustProxy     bool // honour X-Forwarded-For; only behind a proxy that sets it
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port, _ := strconv.Atoi(getEnv("DB_PORT", "5432"))
	nodeID, _ := strconv.ParseInt(getEnv("NODE_ID", "1"), 10, 64)
	maxTokens, _ := strconv.Atoi(getEnv("LLM_MAX_TOKENS", "400"))
	temperature, _ := strconv.ParseFloat(getEnv("LLM_TEMPERATURE", "0.7"), 64)
	rps, _ := strconv.ParseFloat(getEnv("WEBHOOK_RATE_RPS", "5"), 64)
	burst, _ := strconv.Atoi(getEnv("WEBHOOK_RATE_BURST", "10"))

	return &Config{
		AppEnv: getEnv("APP_ENV", "production"),
		Store:  strings.ToLower(getEnv("STORE", StorePostgres)),
		NodeID: nodeID,
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     port,
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "dinechain"),
		},
		Telegram: TelegramConfig{
			Token:         getEnv("TELEGRAM_BOT_TOKEN", ""),
			KitchenChatID: getEnv("KITCHEN_CHAT_ID", ""),
			Mode:          strings.ToLower(getEnv("TELEGRAM_MODE", "webhook")),
		},
		Twilio: TwilioConfig{
			AccountSID:     getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:      getEnv("TWILIO_AUTH_TOKEN", ""),
			WhatsAppNumber: getEnv("TWILIO_WHATSAPP_NUMBER", ""),
		},
		LLM: LLMConfig{
			APIKey:      getEnv("LLM_API_KEY", ""),
			BaseURL:     getEnv("LLM_BASE_URL", "https://api.intelligence.io.solutions/api/v1"),
			Model:       getEnv("LLM_MODEL", "meta-llama/Llama-3.3-70B-Instruct"),
			Temperature: temperature,
			MaxTokens:   maxTokens,
			Timeout:     getDuration("LLM_TIMEOUT", 30*time.Second),
			PromptFile:  getEnv("PROMPT_FILE", ""),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			Currency:      getEnv("STRIPE_CURRENCY", "usd"),
		},
		Paystack: PaystackConfig{
			SecretKey: getEnv("PAYSTACK_SECRET_KEY", ""),
			BaseURL:   getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
			Email:     getEnv("PAYSTACK_EMAIL", "customer@example.com"),
			Currency:  getEnv("PAYSTACK_CURRENCY", "NGN"),
		},
		Circle: CircleConfig{
			APIKey:     getEnv("CIRCLE_API_KEY", ""),
			BaseURL:    getEnv("CIRCLE_API_URL", "https://api-sandbox.circle.com"),
			Blockchain: getEnv("CIRCLE_BLOCKCHAIN", "MATIC-AMOY"),
		},
		Chain: ChainConfig{
			RPCURL:        getEnv("CHAIN_RPC_URL", ""),
			TokenAddress:  getEnv("USDC_TOKEN_ADDRESS", ""),
			PollInterval:  getDuration("POLL_INTERVAL", 30*time.Second),
			DepositWindow: getDuration("DEPOSIT_WINDOW", 72*time.Hour),
		},
		Server: ServerConfig{
			Addr:           getEnv("HTTP_ADDR", ":5000"),
			PublicURL:      strings.TrimRight(getEnv("APP_URL", "http://localhost:5000"), "/"),
			InternalAPIKey: getEnv("INTERNAL_API_KEY", ""),
			RateRPS:        rps,
			RateBurst:      burst,
			PaymentTimeout: getDuration("PAYMENT_TIMEOUT", 15*time.Second),
			TrustProxy:     getEnv("TRUST_PROXY", "false") == "true",
		},
	}, nil
}

// Validate reports missing credentials that make the service unusable. Only these abort startup.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN not set"))
	}
	if c.Telegram.KitchenChatID == "" {
		errs = append(errs, errors.New("KITCHEN_CHAT_ID not set"))
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("LLM_API_KEY not set"))
	}
	if c.Store != StorePostgres && c.Store != StoreMemory {
		errs = append(errs, errors.New("STORE must be postgres or memory"))
	}
	if c.Telegram.Mode != "webhook" && c.Telegram.Mode != "polling" {
		errs = append(errs, errors.New("TELEGRAM_MODE must be webhook or polling"))
	}
	if c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET required when STRIPE_SECRET_KEY is set"))
	}
	if c.Circle.APIKey != "" && (c.Chain.RPCURL == "" || c.Chain.TokenAddress == "") {
		errs = append(errs, errors.New("CHAIN_RPC_URL and USDC_TOKEN_ADDRESS required when CIRCLE_API_KEY is set"))
	}
	if c.Stripe.SecretKey == "" && c.Paystack.SecretKey == "" && c.Circle.APIKey == "" {
		errs = append(errs, errors.New("no payment backend configured"))
	}
	return errors.Join(errs...)
}

// WhatsAppEnabled reports whether Twilio credentials are present.
func (c *Config) WhatsAppEnabled() bool {
	return c.Twilio.AccountSID != "" && c.Twilio.AuthToken != "" && c.Twilio.WhatsAppNumber != ""
}

// NewLogger builds the process logger: JSON in production, console in dev.
func (c *Config) NewLogger() (*zap.Logger, error) {
	if c.AppEnv == "dev" || c.AppEnv == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
