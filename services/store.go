package services

import (
	"context"
	"errors"
	"time"

	"dinechain/models"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrOpenOrderExists = errors.New("customer already has an unpaid order")
)

// ConversationStore keeps one transcript per (customer, platform).
type ConversationStore interface {
	// GetConversation returns ErrNotFound when no row exists. A cleared row comes back with no turns.
	GetConversation(ctx context.Context, platform, customerID string) (*models.Conversation, error)
	SaveConversation(ctx context.Context, conv *models.Conversation) error
	ClearConversation(ctx context.Context, platform, customerID string) error
}

// OrderLedger is the append-only order table.
type OrderLedger interface {
	// CreateOrder assigns ID and CreatedAt. Returns ErrOpenOrderExists if the customer has an open order.
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	// OpenOrder returns the customer's unpaid, non-cancelled order or ErrNotFound.
	OpenOrder(ctx context.Context, platform, customerID string) (*models.Order, error)
	// AttachPayment sets the order's current attempt and appends it to the attempt history.
	// ErrNotFound if the order is not open.
	AttachPayment(ctx context.Context, a *models.PaymentAttempt) error
	// FindUnpaidByReference matches a provider correlation key, current or earlier, against unpaid orders.
	FindUnpaidByReference(ctx context.Context, reference string) (*models.Order, error)
	// MarkPaid flips paid false->true. It returns true only for the call that performed the flip.
	MarkPaid(ctx context.Context, id int64) (bool, error)
	CancelOrder(ctx context.Context, id int64) error
	// ListAwaitingDeposit returns one entry per deposit address quoted since the given time for a
	// still unpaid order, with DepositAddress set to that address.
	ListAwaitingDeposit(ctx context.Context, since time.Time) ([]models.Order, error)
}

// WalletRegistry remembers the crypto wallet created for each customer.
type WalletRegistry interface {
	GetWallet(ctx context.Context, platform, customerID string) (string, error)
	// SaveWallet stores walletID unless one exists already; it returns the stored id.
	SaveWallet(ctx context.Context, platform, customerID, walletID string) (string, error)
}

// NotificationLog records delivered paid-order notifications.
type NotificationLog interface {
	// RecordNotification returns true the first time (orderID, audience) is recorded.
	RecordNotification(ctx context.Context, orderID int64, audience string) (bool, error)
}

// Store is everything the bot persists.
type Store interface {
	ConversationStore
	OrderLedger
	WalletRegistry
	NotificationLog
}

// NewIDNode returns the snowflake node used to generate order ids.
func NewIDNode(nodeID int64) (*snowflake.Node, error) {
	return snowflake.NewNode(nodeID)
}
