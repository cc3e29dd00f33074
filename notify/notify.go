// Package notify delivers outbound texts to customers and to the kitchen channel.
// Delivery is best effort: failures are logged and never returned to the caller.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Sender delivers a text to one recipient on one platform.
type Sender interface {
	Send(ctx context.Context, recipient, text string) error
}

type Notifier struct {
	senders     map[string]Sender
	kitchen     Sender
	kitchenChat string
	logger      *zap.Logger
}

func New(logger *zap.Logger) *Notifier {
	return &Notifier{senders: make(map[string]Sender), logger: logger}
}

// Register routes messages for platform through s.
func (n *Notifier) Register(platform string, s Sender) {
	n.senders[platform] = s
}

// SetKitchen configures where kitchen tickets go.
func (n *Notifier) SetKitchen(s Sender, chatID string) {
	n.kitchen = s
	n.kitchenChat = chatID
}

func (n *Notifier) Send(ctx context.Context, platform, customerID, text string) {
	s, ok := n.senders[platform]
	if !ok {
		n.logger.Warn("no sender for platform", zap.String("platform", platform), zap.String("customer_id", customerID))
		return
	}
	if err := s.Send(ctx, customerID, text); err != nil {
		n.logger.Error("send to customer failed",
			zap.String("platform", platform),
			zap.String("customer_id", customerID),
			zap.Error(err))
	}
}

func (n *Notifier) Kitchen(ctx context.Context, text string) {
	if n.kitchen == nil || n.kitchenChat == "" {
		n.logger.Warn("kitchen channel not configured")
		return
	}
	if err := n.kitchen.Send(ctx, n.kitchenChat, text); err != nil {
		n.logger.Error("send to kitchen failed", zap.String("chat_id", n.kitchenChat), zap.Error(err))
	}
}

// split cuts text into pieces of at most limit runes, preferring line breaks.
func split(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
