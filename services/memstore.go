package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dinechain/models"

	"github.com/bwmarrin/snowflake"
)

// MemoryStore implements Store in process memory with the same invariants as PgStore.
// It is meant for local runs (STORE=memory) and tests; state is lost on restart.
type MemoryStore struct {
	mu            sync.Mutex
	ids           *snowflake.Node
	conversations map[string]*models.Conversation
	orders        map[int64]*models.Order
	attempts      []models.PaymentAttempt
	wallets       map[string]string
	notifications map[string]bool
}

func NewMemoryStore(ids *snowflake.Node) *MemoryStore {
	return &MemoryStore{
		ids:           ids,
		conversations: make(map[string]*models.Conversation),
		orders:        make(map[int64]*models.Order),
		wallets:       make(map[string]string),
		notifications: make(map[string]bool),
	}
}

var _ Store = (*MemoryStore)(nil)

func customerKey(platform, customerID string) string {
	return platform + ":" + customerID
}

func (m *MemoryStore) GetConversation(_ context.Context, platform, customerID string) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[customerKey(platform, customerID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	cp.Turns = append([]models.Turn(nil), c.Turns...)
	return &cp, nil
}

func (m *MemoryStore) SaveConversation(_ context.Context, conv *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *conv
	cp.Turns = append([]models.Turn(nil), conv.Turns...)
	if cp.State == "" {
		cp.State = models.StateIdle
	}
	cp.UpdatedAt = time.Now()
	m.conversations[customerKey(conv.Platform, conv.CustomerID)] = &cp
	return nil
}

func (m *MemoryStore) ClearConversation(_ context.Context, platform, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conversations[customerKey(platform, customerID)]; ok {
		c.Turns = nil
		c.State = models.StateIdle
		c.UpdatedAt = time.Now()
	}
	return nil
}

func (m *MemoryStore) CreateOrder(_ context.Context, o *models.Order) error {
	if o.Total != models.SumItems(o.Items) {
		return fmt.Errorf("order total %d does not match items sum %d", o.Total, models.SumItems(o.Items))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.orders {
		if existing.Platform == o.Platform && existing.CustomerID == o.CustomerID && existing.IsOpen() {
			return ErrOpenOrderExists
		}
	}
	o.ID = m.ids.Generate().Int64()
	o.CreatedAt = time.Now()
	o.Paid = false
	o.PaidAt = nil
	o.CancelledAt = nil
	m.orders[o.ID] = o.Clone()
	return nil
}

func (m *MemoryStore) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (m *MemoryStore) OpenOrder(_ context.Context, platform, customerID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Platform == platform && o.CustomerID == customerID && o.IsOpen() {
			return o.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) AttachPayment(_ context.Context, a *models.PaymentAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[a.OrderID]
	if !ok || !o.IsOpen() {
		return ErrNotFound
	}
	o.PaymentMethod = a.Method
	o.Reference = a.Reference
	o.DepositAddress = a.DepositAddress
	o.PaymentURL = a.URL
	if a.Reference == "" {
		return nil
	}
	for _, existing := range m.attempts {
		if existing.Reference == a.Reference {
			a.CreatedAt = existing.CreatedAt
			return nil
		}
	}
	a.CreatedAt = time.Now()
	m.attempts = append(m.attempts, *a)
	return nil
}

func (m *MemoryStore) FindUnpaidByReference(_ context.Context, reference string) (*models.Order, error) {
	if reference == "" {
		return nil, ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Reference == reference && !o.Paid {
			return o.Clone(), nil
		}
	}
	for _, a := range m.attempts {
		if a.Reference != reference {
			continue
		}
		if o, ok := m.orders[a.OrderID]; ok && !o.Paid {
			return o.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) MarkPaid(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Paid {
		return false, nil
	}
	now := time.Now()
	o.Paid = true
	o.PaidAt = &now
	return true, nil
}

func (m *MemoryStore) CancelOrder(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || !o.IsOpen() {
		return ErrNotFound
	}
	now := time.Now()
	o.CancelledAt = &now
	return nil
}

func (m *MemoryStore) ListAwaitingDeposit(_ context.Context, since time.Time) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []models.Order
	for _, a := range m.attempts {
		if a.DepositAddress == "" || a.CreatedAt.Before(since) {
			continue
		}
		o, ok := m.orders[a.OrderID]
		if !ok || o.Paid {
			continue
		}
		entry := o.Clone()
		entry.DepositAddress = a.DepositAddress
		list = append(list, *entry)
	}
	return list, nil
}

func (m *MemoryStore) GetWallet(_ context.Context, platform, customerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.wallets[customerKey(platform, customerID)]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (m *MemoryStore) SaveWallet(_ context.Context, platform, customerID, walletID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := customerKey(platform, customerID)
	if existing, ok := m.wallets[key]; ok {
		return existing, nil
	}
	m.wallets[key] = walletID
	return walletID, nil
}

func (m *MemoryStore) RecordNotification(_ context.Context, orderID int64, audience string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%d:%s", orderID, audience)
	if m.notifications[key] {
		return false, nil
	}
	m.notifications[key] = true
	return true, nil
}
