// Package orchestrator drives one customer's conversation from inbound text to a committed
// order and a started payment.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dinechain/extractor"
	"dinechain/keylock"
	"dinechain/lang"
	"dinechain/models"
	"dinechain/payment"
	"dinechain/services"

	"go.uber.org/zap"
)

const (
	keywordRestart = "restart"
	keywordAdd     = "add"
)

type Store interface {
	GetConversation(ctx context.Context, platform, customerID string) (*models.Conversation, error)
	SaveConversation(ctx context.Context, conv *models.Conversation) error
	ClearConversation(ctx context.Context, platform, customerID string) error
	CreateOrder(ctx context.Context, o *models.Order) error
	OpenOrder(ctx context.Context, platform, customerID string) (*models.Order, error)
	CancelOrder(ctx context.Context, id int64) error
}

// Gateway produces the assistant's next utterance for a transcript.
type Gateway interface {
	Respond(ctx context.Context, turns []models.Turn) (string, error)
}

type Payments interface {
	Resolve(text string) (payment.Backend, bool)
	Begin(ctx context.Context, order *models.Order, b payment.Backend) (string, error)
	Prompt() string
	PendingPrompt() string
}

type Notifier interface {
	Send(ctx context.Context, platform, customerID, text string)
}

type Orchestrator struct {
	store    Store
	gateway  Gateway
	payments Payments
	notifier Notifier
	locker   *keylock.Locker
	seed     []models.Turn
	logger   *zap.Logger
}

func New(store Store, gateway Gateway, payments Payments, notifier Notifier, locker *keylock.Locker, seed []models.Turn, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		gateway:  gateway,
		payments: payments,
		notifier: notifier,
		locker:   locker,
		seed:     seed,
		logger:   logger,
	}
}

// HandleInbound processes one customer message. Messages from the same customer are handled
// one at a time; the returned error is for logging only, the customer has been answered.
func (o *Orchestrator) HandleInbound(ctx context.Context, msg models.InboundMessage) error {
	text := strings.TrimSpace(msg.Text)
	if text == "" || msg.CustomerID == "" {
		return nil
	}

	unlock, err := o.locker.Lock(ctx, keylock.Key(msg.Platform, msg.CustomerID))
	if err != nil {
		return fmt.Errorf("acquire customer lock: %w", err)
	}
	defer unlock()

	open, err := o.store.OpenOrder(ctx, msg.Platform, msg.CustomerID)
	switch {
	case err == nil:
		return o.handlePending(ctx, msg, open, text)
	case !errors.Is(err, services.ErrNotFound):
		o.reply(ctx, msg, lang.T("storage_error"))
		return fmt.Errorf("load open order: %w", err)
	}

	return o.converse(ctx, msg, text)
}

// handlePending answers a customer who has an unpaid order. Nothing reaches the LLM here.
func (o *Orchestrator) handlePending(ctx context.Context, msg models.InboundMessage, open *models.Order, text string) error {
	if b, ok := o.payments.Resolve(text); ok {
		answer, err := o.payments.Begin(ctx, open, b)
		if err != nil {
			o.reply(ctx, msg, lang.T("storage_error"))
			return err
		}
		o.reply(ctx, msg, answer)
		return nil
	}

	switch strings.ToLower(text) {
	case keywordRestart:
		if err := o.store.CancelOrder(ctx, open.ID); err != nil && !errors.Is(err, services.ErrNotFound) {
			o.reply(ctx, msg, lang.T("storage_error"))
			return fmt.Errorf("cancel order %d: %w", open.ID, err)
		}
		if err := o.store.ClearConversation(ctx, msg.Platform, msg.CustomerID); err != nil {
			o.logger.Error("clear conversation", zap.String("customer_id", msg.CustomerID), zap.Error(err))
		}
		o.logger.Info("order cancelled", zap.Int64("order_id", open.ID), zap.String("reason", keywordRestart))
		o.reply(ctx, msg, lang.T("order_restarted"))
		return nil
	case keywordAdd:
		if err := o.store.CancelOrder(ctx, open.ID); err != nil && !errors.Is(err, services.ErrNotFound) {
			o.reply(ctx, msg, lang.T("storage_error"))
			return fmt.Errorf("cancel order %d: %w", open.ID, err)
		}
		o.logger.Info("order cancelled", zap.Int64("order_id", open.ID), zap.String("reason", keywordAdd))
		o.reply(ctx, msg, lang.T("order_reopened"))
		return nil
	}

	o.reply(ctx, msg, o.payments.PendingPrompt())
	return nil
}

func (o *Orchestrator) converse(ctx context.Context, msg models.InboundMessage, text string) error {
	conv, err := o.store.GetConversation(ctx, msg.Platform, msg.CustomerID)
	if err != nil && !errors.Is(err, services.ErrNotFound) {
		o.reply(ctx, msg, lang.T("storage_error"))
		return fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		conv = models.NewConversation(msg.Platform, msg.CustomerID, o.seed)
	} else if len(conv.Turns) == 0 {
		conv.Turns = append([]models.Turn(nil), o.seed...)
	}

	conv.Turns = append(conv.Turns, models.Turn{Role: models.RoleUser, Content: text})
	answer, err := o.gateway.Respond(ctx, conv.Turns)
	if err != nil {
		o.logger.Warn("llm call failed", zap.String("customer_id", msg.CustomerID), zap.Error(err))
		o.reply(ctx, msg, lang.T("llm_unavailable"))
		return nil
	}
	conv.Turns = append(conv.Turns, models.Turn{Role: models.RoleAssistant, Content: answer})

	result, found := extractor.Extract(answer)
	if !found {
		conv.State = models.StateIdle
		if err := o.store.SaveConversation(ctx, conv); err != nil {
			o.reply(ctx, msg, lang.T("storage_error"))
			return fmt.Errorf("save conversation: %w", err)
		}
		o.reply(ctx, msg, answer)
		return nil
	}

	// order row first, so a transcript ending in a summary always has its order
	order := &models.Order{
		CustomerID:   msg.CustomerID,
		Platform:     msg.Platform,
		CustomerName: msg.DisplayName,
		Items:        result.Payload.Items,
		Total:        result.Payload.Total,
		Delivery:     result.Payload.Delivery,
	}
	if err := o.store.CreateOrder(ctx, order); err != nil {
		o.reply(ctx, msg, lang.T("storage_error"))
		return fmt.Errorf("create order: %w", err)
	}
	conv.State = models.StateAwaitingPaymentMethod
	if err := o.store.SaveConversation(ctx, conv); err != nil {
		o.logger.Error("save conversation", zap.Int64("order_id", order.ID), zap.Error(err))
	}
	o.logger.Info("order created",
		zap.Int64("order_id", order.ID),
		zap.String("customer_id", order.CustomerID),
		zap.String("platform", order.Platform),
		zap.Int64("total", order.Total))

	var sb strings.Builder
	if result.Text != "" {
		sb.WriteString(result.Text)
		sb.WriteString("\n\n")
	}
	sb.WriteString(lang.T("order_summary_header"))
	sb.WriteString("\n")
	sb.WriteString(extractor.Summary(order.Items, order.Total))
	sb.WriteString("\n\n")
	sb.WriteString(o.payments.Prompt())
	o.reply(ctx, msg, sb.String())
	return nil
}

func (o *Orchestrator) reply(ctx context.Context, msg models.InboundMessage, text string) {
	o.notifier.Send(ctx, msg.Platform, msg.CustomerID, text)
}
