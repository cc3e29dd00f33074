package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	PlatformTelegram = "telegram"
	PlatformWhatsApp = "whatsapp"
)

const (
	MethodCard     = "card"
	MethodPaystack = "paystack"
	MethodCrypto   = "crypto"
)

// LineItem is one priced entry of an order. Price is in minor currency units (cents).
type LineItem struct {
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

// Qty returns the quantity, treating zero as one portion.
func (li LineItem) Qty() int {
	if li.Quantity <= 0 {
		return 1
	}
	return li.Quantity
}

func (li LineItem) Subtotal() int64 {
	return li.Price * int64(li.Qty())
}

// SumItems returns the sum of price × quantity over items.
func SumItems(items []LineItem) int64 {
	var total int64
	for _, it := range items {
		total += it.Subtotal()
	}
	return total
}

// Order is a row from the orders table. Orders are never deleted: they end paid or cancelled.
type Order struct {
	ID             int64
	CustomerID     string
	Platform       string
	CustomerName   string
	Items          []LineItem
	Total          int64
	Delivery       string
	PaymentMethod  string // empty until a payment attempt begins
	Reference      string // provider correlation key (checkout session id, paystack reference)
	DepositAddress string // crypto only
	PaymentURL     string // hosted checkout link of the current attempt
	Paid           bool
	PaidAt         *time.Time
	CancelledAt    *time.Time
	CreatedAt      time.Time
}

// PaymentAttempt is one payment session started for an order. Attempts are kept after a
// customer switches method so an earlier link or deposit address can still settle the order.
type PaymentAttempt struct {
	OrderID        int64
	Method         string
	Reference      string
	URL            string
	DepositAddress string
	CreatedAt      time.Time
}

// IsOpen reports whether the order still blocks new orders for its customer.
func (o *Order) IsOpen() bool {
	return !o.Paid && o.CancelledAt == nil
}

// Clone returns a deep copy so stores never share item slices with callers.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	if o.CancelledAt != nil {
		t := *o.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}

// FormatMoney renders minor units as dollars, e.g. 160 -> "$1.60".
func FormatMoney(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s$%d.%02d", sign, minor/100, minor%100)
}

// FormatItems renders one "- name xN: $x.yy" line per item.
func FormatItems(items []LineItem) string {
	var sb strings.Builder
	for i, it := range items {
		if i > 0 {
			sb.WriteByte('\n')
		}
		if it.Qty() > 1 {
			fmt.Fprintf(&sb, "- %s x%d: %s", it.Name, it.Qty(), FormatMoney(it.Subtotal()))
		} else {
			fmt.Fprintf(&sb, "- %s: %s", it.Name, FormatMoney(it.Subtotal()))
		}
	}
	return sb.String()
}
