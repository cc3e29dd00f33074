// Package lang holds the customer- and kitchen-facing message texts.
package lang

import "fmt"

var messages = map[string]string{
	"llm_unavailable":      "I'm having trouble thinking right now. Please try again in a moment.",
	"storage_error":        "Something went wrong on our side. Please try again in a moment.",
	"choose_payment":       "How would you like to pay? Reply %s.",
	"unpaid_order_pending": "You have an unpaid order. Reply %s to pay, 'add' to change your order or 'restart' to start over.",
	"payment_start_failed": "Sorry, I couldn't start that payment. Please try again or pick another method.",
	"payment_link":         "Please complete your payment here: %s",
	"crypto_instructions":  "Please send %s USDC to the address below.\n\n%s\n\nI'll let you know once payment is confirmed.",
	"order_restarted":      "Your previous order was cancelled. What would you like to order?",
	"order_reopened":       "No problem, your order is open again. What would you like to add or change?",
	"order_summary_header": "Your order:",
	"receipt":              "✅ Payment successful! Your order is confirmed.\n\nYour receipt:\n%s\n\nTotal: %s",
	"kitchen_ticket":       "🍽️ New Order for %s (%s) on %s:\n%s\nTotal: %s\nDelivery: %s",
	"delivery_not_given":   "Not provided",
}

// T returns the message for key formatted with args. Unknown keys return the key itself.
func T(key string, args ...interface{}) string {
	s, ok := messages[key]
	if !ok {
		return key
	}
	if len(args) == 0 {
		return s
	}
	return fmt.Sprintf(s, args...)
}
