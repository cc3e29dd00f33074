package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"dinechain/bot"
	"dinechain/config"
	"dinechain/db"
	"dinechain/llm"
	"dinechain/orchestrator"
	"dinechain/payment"
	"dinechain/server"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	var autoMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server, deposit poller and (optionally) Telegram polling",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runServe(cfg, logger, autoMigrate)
		},
	}
	cmd.Flags().BoolVar(&autoMigrate, "migrate", false, "apply database migrations before serving")
	return cmd
}

func runServe(cfg *config.Config, logger *zap.Logger, autoMigrate bool) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg, logger, autoMigrate)
	if err != nil {
		return err
	}
	defer a.close()

	seed, err := llm.LoadSeed(cfg.LLM.PromptFile)
	if err != nil {
		return err
	}
	gateway := llm.NewClient(llm.Options{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	})
	dispatcher := payment.NewDispatcher(a.registry, a.store, cfg.Server.PaymentTimeout, logger)
	orch := orchestrator.New(a.store, gateway, dispatcher, a.notifier, a.locker, seed, logger)

	twilioToken := ""
	if cfg.WhatsAppEnabled() {
		twilioToken = cfg.Twilio.AuthToken
	}
	srv := server.New(orch, a.reconciler, server.Options{
		PublicURL:       cfg.Server.PublicURL,
		InternalAPIKey:  cfg.Server.InternalAPIKey,
		TwilioAuthToken: twilioToken,
		RateRPS:         cfg.Server.RateRPS,
		RateBurst:       cfg.Server.RateBurst,
		TrustProxy:      cfg.Server.TrustProxy,
	}, logger)

	logger.Info("starting",
		zap.String("store", cfg.Store),
		zap.String("telegram_mode", cfg.Telegram.Mode),
		zap.Strings("payment_methods", a.registry.Methods()),
		zap.Bool("whatsapp", cfg.WhatsAppEnabled()),
		zap.Bool("deposit_polling", a.balances != nil))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := srv.Run(gctx, cfg.Server.Addr)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	if a.balances != nil {
		g.Go(func() error {
			a.reconciler.Run(gctx, cfg.Chain.PollInterval)
			return nil
		})
	}
	if cfg.Telegram.Mode == "polling" {
		b := bot.New(a.telegram, orch, logger)
		g.Go(func() error {
			return b.Start(gctx)
		})
	}
	return g.Wait()
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			if err := db.Init(ctx, cfg.DB); err != nil {
				return fmt.Errorf("db: %w", err)
			}
			defer db.Close()
			return applyMigrations(ctx, logger)
		},
	}
}

func setWebhookCmd() *cobra.Command {
	var publicURL string
	cmd := &cobra.Command{
		Use:   "set-webhook",
		Short: "Point the Telegram bot at <APP_URL>/webhook/telegram",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Telegram.Token == "" {
				return errors.New("TELEGRAM_BOT_TOKEN not set")
			}
			if publicURL == "" {
				publicURL = cfg.Server.PublicURL
			}
			api, err := bot.NewAPI(cfg.Telegram.Token)
			if err != nil {
				return err
			}
			if err := bot.SetWebhook(api, publicURL); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "webhook set to %s/webhook/telegram\n", publicURL)
			return nil
		},
	}
	cmd.Flags().StringVar(&publicURL, "url", "", "public base url (defaults to APP_URL)")
	return cmd
}

func watchCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll crypto deposit addresses and settle funded orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Chain.RPCURL == "" || cfg.Chain.TokenAddress == "" {
				return errors.New("CHAIN_RPC_URL and USDC_TOKEN_ADDRESS required")
			}
			if cfg.Store == config.StoreMemory {
				return errors.New("watch needs the postgres store")
			}

			ctx, stop := signalContext()
			defer stop()
			a, err := newApp(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.close()

			if once {
				a.reconciler.Poll(ctx)
				return nil
			}
			logger.Info("deposit watcher started", zap.Duration("interval", cfg.Chain.PollInterval))
			a.reconciler.Run(ctx, cfg.Chain.PollInterval)
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single poll cycle and exit")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for the internal API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Server.InternalAPIKey == "" {
				return errors.New("INTERNAL_API_KEY not set")
			}
			token, err := server.IssueInternalToken(cfg.Server.InternalAPIKey, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringVar(&subject, "subject", "watcher", "token subject")
	return cmd
}
