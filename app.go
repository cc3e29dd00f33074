package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dinechain/config"
	"dinechain/db"
	"dinechain/keylock"
	"dinechain/models"
	"dinechain/notify"
	"dinechain/payment"
	"dinechain/services"
	"dinechain/settlement"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// app holds the components shared by the serve and watch commands.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      services.Store
	locker     *keylock.Locker
	telegram   *tgbotapi.BotAPI
	notifier   *notify.Notifier
	registry   *payment.Registry
	paystack   *payment.PaystackClient
	balances   *payment.TokenBalances
	reconciler *settlement.Reconciler
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, logger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, migrate bool) (services.Store, error) {
	ids, err := services.NewIDNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		return services.NewMemoryStore(ids), nil
	}
	if err := db.Init(ctx, cfg.DB); err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	if migrate {
		if err := applyMigrations(ctx, logger); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return services.NewPgStore(db.Pool, ids), nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, autoMigrate bool) (*app, error) {
	store, err := openStore(ctx, cfg, logger, autoMigrate)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, store: store, locker: keylock.New()}

	a.telegram, err = tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("telegram: %w", err)
	}
	telegram := notify.NewTelegramSender(a.telegram)
	a.notifier = notify.New(logger)
	a.notifier.Register(models.PlatformTelegram, telegram)
	a.notifier.SetKitchen(telegram, cfg.Telegram.KitchenChatID)
	if cfg.WhatsAppEnabled() {
		a.notifier.Register(models.PlatformWhatsApp, notify.NewWhatsAppSender(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.WhatsAppNumber))
	} else {
		logger.Info("twilio not configured, whatsapp disabled")
	}

	a.registry = payment.NewRegistry()
	if cfg.Stripe.SecretKey != "" {
		a.registry.Register(payment.NewStripeBackend(cfg.Stripe.SecretKey, cfg.Stripe.Currency, cfg.Server.PublicURL))
	}
	if cfg.Paystack.SecretKey != "" {
		a.paystack = payment.NewPaystackClient(cfg.Paystack.SecretKey, cfg.Paystack.BaseURL)
		a.registry.Register(payment.NewPaystackBackend(a.paystack, cfg.Paystack.Email, cfg.Paystack.Currency, cfg.Server.PublicURL), "link")
	}
	if cfg.Circle.APIKey != "" {
		circle := payment.NewCircleClient(cfg.Circle.APIKey, cfg.Circle.BaseURL, cfg.Circle.Blockchain)
		a.registry.Register(payment.NewCryptoBackend(circle, store), "usdc")
	}
	if cfg.Chain.RPCURL != "" && cfg.Chain.TokenAddress != "" {
		a.balances, err = payment.DialTokenBalances(ctx, cfg.Chain.RPCURL, cfg.Chain.TokenAddress)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("chain: %w", err)
		}
	}

	opts := settlement.Options{
		StripeWebhookSecret: cfg.Stripe.WebhookSecret,
		PaystackSecretKey:   cfg.Paystack.SecretKey,
		DepositWindow:       cfg.Chain.DepositWindow,
	}
	// typed nils must not leak into the interfaces
	if a.paystack != nil {
		opts.Paystack = a.paystack
	}
	if a.balances != nil {
		opts.Balances = a.balances
	}
	a.reconciler = settlement.New(store, a.locker, a.notifier, opts, logger)
	return a, nil
}

func (a *app) close() {
	if a.balances != nil {
		a.balances.Close()
	}
	if a.cfg.Store == config.StorePostgres {
		db.Close()
	}
	_ = a.logger.Sync()
}
