package models

import "time"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	StateIdle                  = "idle"
	StateAwaitingPaymentMethod = "awaiting_payment_method"
)

type Turn struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// Conversation is the transcript kept per (customer, platform).
type Conversation struct {
	CustomerID string
	Platform   string
	Turns      []Turn
	State      string
	UpdatedAt  time.Time
}

// NewConversation returns a transcript seeded with a copy of the given turns.
func NewConversation(platform, customerID string, seed []Turn) *Conversation {
	return &Conversation{
		CustomerID: customerID,
		Platform:   platform,
		Turns:      append([]Turn(nil), seed...),
		State:      StateIdle,
	}
}

// InboundMessage is a platform-neutral text message from a customer.
type InboundMessage struct {
	Platform    string
	CustomerID  string
	DisplayName string
	Text        string
}
