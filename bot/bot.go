// Package bot connects the Telegram Bot API to the order handler.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"dinechain/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const handleTimeout = 2 * time.Minute

// Handler consumes platform-neutral inbound messages.
type Handler interface {
	HandleInbound(ctx context.Context, msg models.InboundMessage) error
}

type Bot struct {
	api     *tgbotapi.BotAPI
	handler Handler
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func NewAPI(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot api: %w", err)
	}
	return api, nil
}

func New(api *tgbotapi.BotAPI, handler Handler, logger *zap.Logger) *Bot {
	return &Bot{api: api, handler: handler, logger: logger}
}

func (b *Bot) setBotCommands() error {
	cfg := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "start", Description: "Start ordering"},
		tgbotapi.BotCommand{Command: "restart", Description: "Cancel the unpaid order and start over"},
	)
	_, err := b.api.Request(cfg)
	return err
}

// Start long-polls for updates until ctx is done. Any webhook is removed first, Telegram
// refuses getUpdates while one is set.
func (b *Bot) Start(ctx context.Context) error {
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if err := b.setBotCommands(); err != nil {
		b.logger.Warn("set bot commands", zap.Error(err))
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("telegram polling started", zap.String("bot", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.wg.Wait()
			return nil
		case update, ok := <-updates:
			if !ok {
				b.wg.Wait()
				return nil
			}
			b.Dispatch(ctx, update)
		}
	}
}

// Dispatch hands a text update to the handler in its own goroutine. Other updates are dropped.
func (b *Bot) Dispatch(ctx context.Context, update tgbotapi.Update) {
	msg, ok := InboundFromUpdate(update)
	if !ok {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handleTimeout)
		defer cancel()
		if err := b.handler.HandleInbound(hctx, msg); err != nil {
			b.logger.Error("handle telegram message", zap.String("customer_id", msg.CustomerID), zap.Error(err))
		}
	}()
}

// Wait blocks until dispatched messages are handled.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// InboundFromUpdate extracts a text message. Bot commands become their plain keyword.
func InboundFromUpdate(update tgbotapi.Update) (models.InboundMessage, bool) {
	m := update.Message
	if m == nil || m.Chat == nil {
		return models.InboundMessage{}, false
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return models.InboundMessage{}, false
	}
	if m.IsCommand() {
		switch m.Command() {
		case "start":
			text = "Hello"
		default:
			text = m.Command()
		}
	}
	return models.InboundMessage{
		Platform:    models.PlatformTelegram,
		CustomerID:  strconv.FormatInt(m.Chat.ID, 10),
		DisplayName: displayName(m.From),
		Text:        text,
	}, true
}

func displayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

// SetWebhook points Telegram at <publicURL>/webhook/telegram.
func SetWebhook(api *tgbotapi.BotAPI, publicURL string) error {
	wh, err := tgbotapi.NewWebhook(strings.TrimRight(publicURL, "/") + "/webhook/telegram")
	if err != nil {
		return fmt.Errorf("build webhook config: %w", err)
	}
	if _, err := api.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	info, err := api.GetWebhookInfo()
	if err != nil {
		return fmt.Errorf("get webhook info: %w", err)
	}
	if info.LastErrorDate != 0 {
		return fmt.Errorf("telegram webhook error: %s", info.LastErrorMessage)
	}
	return nil
}
