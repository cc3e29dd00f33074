package settlement

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"dinechain/keylock"
	"dinechain/models"
	"dinechain/payment"
	"dinechain/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	stripeSecret   = "whsec_test"
	paystackSecret = "sk_test_paystack"
)

type sentMessage struct {
	platform, customerID, text string
}

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []sentMessage
	kitchen []string
}

func (f *fakeNotifier) Send(_ context.Context, platform, customerID, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{platform, customerID, text})
}

func (f *fakeNotifier) Kitchen(_ context.Context, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kitchen = append(f.kitchen, text)
}

func (f *fakeNotifier) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent), len(f.kitchen)
}

type fixture struct {
	store    *services.MemoryStore
	notifier *fakeNotifier
	rec      *Reconciler
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	node, err := services.NewIDNode(1)
	require.NoError(t, err)
	store := services.NewMemoryStore(node)
	notifier := &fakeNotifier{}
	opts.StripeWebhookSecret = stripeSecret
	opts.PaystackSecretKey = paystackSecret
	return &fixture{
		store:    store,
		notifier: notifier,
		rec:      New(store, keylock.New(), notifier, opts, zap.NewNop()),
	}
}

// pendingOrder creates an order with a payment attempt attached.
func (f *fixture) pendingOrder(t *testing.T, customerID, method, reference, address string) *models.Order {
	t.Helper()
	ctx := context.Background()
	items := []models.LineItem{{Name: "Jollof Rice", Price: 100}, {Name: "Chapman", Price: 60}}
	o := &models.Order{
		CustomerID: customerID, Platform: models.PlatformTelegram, CustomerName: "Ada",
		Items: items, Total: 160, Delivery: "12 Allen Ave",
	}
	require.NoError(t, f.store.CreateOrder(ctx, o))
	f.attach(t, o.ID, method, reference, address)
	conv := models.NewConversation(models.PlatformTelegram, customerID, []models.Turn{{Role: models.RoleSystem, Content: "menu"}})
	conv.Turns = append(conv.Turns, models.Turn{Role: models.RoleUser, Content: "rice please"})
	require.NoError(t, f.store.SaveConversation(ctx, conv))
	return o
}

func (f *fixture) attach(t *testing.T, orderID int64, method, reference, address string) {
	t.Helper()
	a := &models.PaymentAttempt{OrderID: orderID, Method: method, Reference: reference, DepositAddress: address}
	if address == "" {
		a.URL = "https://pay.example/" + reference
	}
	require.NoError(t, f.store.AttachPayment(context.Background(), a))
}

func (f *fixture) isPaid(t *testing.T, id int64) bool {
	t.Helper()
	o, err := f.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o.Paid
}

func signStripe(payload []byte, secret string) string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + string(payload)))
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func stripeEvent(eventType, sessionID, paymentStatus string, orderID int64) []byte {
	return []byte(fmt.Sprintf(`{
  "id": "evt_1",
  "object": "event",
  "api_version": "2020-08-27",
  "type": %q,
  "data": {"object": {"id": %q, "object": "checkout.session", "payment_status": %q, "metadata": {"order_id": "%d"}}}
}`, eventType, sessionID, paymentStatus, orderID))
}

func signPaystack(payload []byte) string {
	mac := hmac.New(sha512.New, []byte(paystackSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHandleStripe_SettlesOnce(t *testing.T) {
	f := newFixture(t, Options{})
	o := f.pendingOrder(t, "42", models.MethodCard, "cs_test_1", "")
	ctx := context.Background()

	payload := stripeEvent("checkout.session.completed", "cs_test_1", "paid", o.ID)
	assert.Equal(t, http.StatusOK, f.rec.HandleStripe(ctx, payload, signStripe(payload, stripeSecret)))
	assert.True(t, f.isPaid(t, o.ID))

	// replayed delivery
	assert.Equal(t, http.StatusOK, f.rec.HandleStripe(ctx, payload, signStripe(payload, stripeSecret)))

	customer, kitchen := f.notifier.counts()
	assert.Equal(t, 1, customer)
	assert.Equal(t, 1, kitchen)
	assert.Contains(t, f.notifier.sent[0].text, "$1.60")
	assert.Contains(t, f.notifier.kitchen[0], "12 Allen Ave")

	conv, err := f.store.GetConversation(ctx, models.PlatformTelegram, "42")
	require.NoError(t, err)
	assert.Empty(t, conv.Turns)
}

func TestHandleStripe_Rejects(t *testing.T) {
	f := newFixture(t, Options{})
	o := f.pendingOrder(t, "42", models.MethodCard, "cs_test_1", "")
	ctx := context.Background()

	payload := stripeEvent("checkout.session.completed", "cs_test_1", "paid", o.ID)
	assert.Equal(t, http.StatusBadRequest, f.rec.HandleStripe(ctx, payload, signStripe(payload, "whsec_other")))
	assert.Equal(t, http.StatusBadRequest, f.rec.HandleStripe(ctx, payload, ""))
	assert.False(t, f.isPaid(t, o.ID))

	noID := stripeEvent("checkout.session.completed", "", "paid", o.ID)
	assert.Equal(t, http.StatusBadRequest, f.rec.HandleStripe(ctx, noID, signStripe(noID, stripeSecret)))

	customer, kitchen := f.notifier.counts()
	assert.Zero(t, customer)
	assert.Zero(t, kitchen)
}

func TestHandleStripe_NoOps(t *testing.T) {
	f := newFixture(t, Options{})
	o := f.pendingOrder(t, "42", models.MethodCard, "cs_test_1", "")
	ctx := context.Background()

	tests := []struct {
		name    string
		payload []byte
	}{
		{"other event", stripeEvent("payment_intent.created", "cs_test_1", "paid", o.ID)},
		{"unpaid session", stripeEvent("checkout.session.completed", "cs_test_1", "unpaid", o.ID)},
		{"unknown session", stripeEvent("checkout.session.completed", "cs_unknown", "paid", 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusOK, f.rec.HandleStripe(ctx, tt.payload, signStripe(tt.payload, stripeSecret)))
			assert.False(t, f.isPaid(t, o.ID))
		})
	}
}

func TestHandleStripe_FallsBackToMetadata(t *testing.T) {
	f := newFixture(t, Options{})
	// a later paystack attempt replaced the checkout session reference
	o := f.pendingOrder(t, "42", models.MethodPaystack, "ps-ref", "")

	payload := stripeEvent("checkout.session.async_payment_succeeded", "cs_old", "paid", o.ID)
	assert.Equal(t, http.StatusOK, f.rec.HandleStripe(context.Background(), payload, signStripe(payload, stripeSecret)))
	assert.True(t, f.isPaid(t, o.ID))
}

func TestHandleStripe_EarlierSessionAfterMethodSwitch(t *testing.T) {
	f := newFixture(t, Options{})
	o := f.pendingOrder(t, "42", models.MethodCard, "cs_first", "")
	f.attach(t, o.ID, models.MethodPaystack, "ps-ref", "")

	// metadata points nowhere; the reference alone must resolve the order
	payload := stripeEvent("checkout.session.completed", "cs_first", "paid", 0)
	assert.Equal(t, http.StatusOK, f.rec.HandleStripe(context.Background(), payload, signStripe(payload, stripeSecret)))
	assert.True(t, f.isPaid(t, o.ID))
}

func TestHandlePaystack(t *testing.T) {
	f := newFixture(t, Options{})
	o := f.pendingOrder(t, "42", models.MethodPaystack, "ps-ref-1", "")
	ctx := context.Background()

	payload := []byte(`{"event":"charge.success","data":{"status":"success","reference":"ps-ref-1","amount":160}}`)
	assert.Equal(t, http.StatusBadRequest, f.rec.HandlePaystack(ctx, payload, "deadbeef"))
	assert.False(t, f.isPaid(t, o.ID))

	other := []byte(`{"event":"transfer.success","data":{"reference":"ps-ref-1"}}`)
	assert.Equal(t, http.StatusOK, f.rec.HandlePaystack(ctx, other, signPaystack(other)))
	assert.False(t, f.isPaid(t, o.ID))

	noRef := []byte(`{"event":"charge.success","data":{"status":"success"}}`)
	assert.Equal(t, http.StatusBadRequest, f.rec.HandlePaystack(ctx, noRef, signPaystack(noRef)))

	assert.Equal(t, http.StatusOK, f.rec.HandlePaystack(ctx, payload, signPaystack(payload)))
	assert.True(t, f.isPaid(t, o.ID))
}

type fakeVerifier struct {
	tx  *payment.Transaction
	err error
}

func (f *fakeVerifier) Verify(_ context.Context, _ string) (*payment.Transaction, error) {
	return f.tx, f.err
}

func TestVerifyPaystack(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, Options{Paystack: &fakeVerifier{err: errors.New("timeout")}})
	o := f.pendingOrder(t, "42", models.MethodPaystack, "ps-ref-1", "")
	assert.Equal(t, http.StatusBadRequest, f.rec.VerifyPaystack(ctx, ""))
	assert.Equal(t, http.StatusBadGateway, f.rec.VerifyPaystack(ctx, "ps-ref-1"))

	f.rec.opts.Paystack = &fakeVerifier{tx: &payment.Transaction{Status: "abandoned", Reference: "ps-ref-1"}}
	assert.Equal(t, http.StatusPaymentRequired, f.rec.VerifyPaystack(ctx, "ps-ref-1"))
	assert.False(t, f.isPaid(t, o.ID))

	f.rec.opts.Paystack = &fakeVerifier{tx: &payment.Transaction{Status: "success", Reference: "ps-ref-1", Amount: 160}}
	assert.Equal(t, http.StatusOK, f.rec.VerifyPaystack(ctx, "ps-ref-1"))
	assert.True(t, f.isPaid(t, o.ID))
}

func TestMarkPaidByID(t *testing.T) {
	f := newFixture(t, Options{})
	o := f.pendingOrder(t, "42", models.MethodCrypto, "0xabc", "0xabc")
	ctx := context.Background()

	assert.Equal(t, http.StatusNotFound, f.rec.MarkPaidByID(ctx, 999))
	assert.Equal(t, http.StatusOK, f.rec.MarkPaidByID(ctx, o.ID))
	assert.Equal(t, http.StatusOK, f.rec.MarkPaidByID(ctx, o.ID))
	customer, kitchen := f.notifier.counts()
	assert.Equal(t, 1, customer)
	assert.Equal(t, 1, kitchen)
}

func TestSettle_ConcurrentSourcesNotifyOnce(t *testing.T) {
	f := newFixture(t, Options{})
	o := f.pendingOrder(t, "42", models.MethodCard, "cs_test_1", "")
	payload := stripeEvent("checkout.session.completed", "cs_test_1", "paid", o.ID)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.Equal(t, http.StatusOK, f.rec.HandleStripe(ctx, payload, signStripe(payload, stripeSecret)))
		}()
		go func() {
			defer wg.Done()
			assert.Equal(t, http.StatusOK, f.rec.MarkPaidByID(ctx, o.ID))
		}()
	}
	wg.Wait()

	customer, kitchen := f.notifier.counts()
	assert.Equal(t, 1, customer)
	assert.Equal(t, 1, kitchen)
}

func TestSettle_CancelledOrderKeepsNewConversation(t *testing.T) {
	f := newFixture(t, Options{})
	o := f.pendingOrder(t, "42", models.MethodCard, "cs_test_1", "")
	ctx := context.Background()
	require.NoError(t, f.store.CancelOrder(ctx, o.ID))

	payload := stripeEvent("checkout.session.completed", "cs_test_1", "paid", o.ID)
	assert.Equal(t, http.StatusOK, f.rec.HandleStripe(ctx, payload, signStripe(payload, stripeSecret)))
	assert.True(t, f.isPaid(t, o.ID))

	conv, err := f.store.GetConversation(ctx, models.PlatformTelegram, "42")
	require.NoError(t, err)
	assert.NotEmpty(t, conv.Turns)
	_, kitchen := f.notifier.counts()
	assert.Equal(t, 1, kitchen)
}

type fakeBalances struct {
	mu       sync.Mutex
	balances map[string]*big.Int
	calls    int
	block    chan struct{}
}

func (f *fakeBalances) BalanceOf(_ context.Context, owner string) (*big.Int, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	b, ok := f.balances[owner]
	if !ok {
		return nil, errors.New("rpc unavailable")
	}
	return b, nil
}

func TestPoll(t *testing.T) {
	balances := &fakeBalances{balances: map[string]*big.Int{
		"0xfull":    big.NewInt(1_600_000),
		"0xpartial": big.NewInt(1_000_000),
	}}
	f := newFixture(t, Options{Balances: balances})
	full := f.pendingOrder(t, "1", models.MethodCrypto, "0xfull", "0xfull")
	partial := f.pendingOrder(t, "2", models.MethodCrypto, "0xpartial", "0xpartial")
	failing := f.pendingOrder(t, "3", models.MethodCrypto, "0xdown", "0xdown")

	f.rec.Poll(context.Background())

	assert.True(t, f.isPaid(t, full.ID))
	assert.False(t, f.isPaid(t, partial.ID))
	assert.False(t, f.isPaid(t, failing.ID))
	customer, _ := f.notifier.counts()
	assert.Equal(t, 1, customer)

	// the settled order drops out of the next cycle
	balances.calls = 0
	f.rec.Poll(context.Background())
	assert.Equal(t, 2, balances.calls)
}

func TestPoll_ReplacedDepositAddressStillSettles(t *testing.T) {
	balances := &fakeBalances{balances: map[string]*big.Int{
		"0xfirst":  big.NewInt(1_600_000),
		"0xsecond": big.NewInt(0),
	}}
	f := newFixture(t, Options{Balances: balances})
	o := f.pendingOrder(t, "1", models.MethodCrypto, "0xfirst", "0xfirst")
	f.attach(t, o.ID, models.MethodCard, "cs_1", "")
	f.attach(t, o.ID, models.MethodCrypto, "0xsecond", "0xsecond")

	f.rec.Poll(context.Background())

	assert.True(t, f.isPaid(t, o.ID))
	assert.Equal(t, 1, balances.calls, "addresses of a settled order are skipped for the rest of the cycle")
	customer, kitchen := f.notifier.counts()
	assert.Equal(t, 1, customer)
	assert.Equal(t, 1, kitchen)
}

func TestPoll_IgnoresAddressesOutsideWindow(t *testing.T) {
	balances := &fakeBalances{balances: map[string]*big.Int{"0xold": big.NewInt(1_600_000)}}
	f := newFixture(t, Options{Balances: balances, DepositWindow: time.Nanosecond})
	o := f.pendingOrder(t, "1", models.MethodCrypto, "0xold", "0xold")
	time.Sleep(time.Millisecond)

	f.rec.Poll(context.Background())

	assert.False(t, f.isPaid(t, o.ID))
	assert.Zero(t, balances.calls)
}

func TestPoll_SkipsOverlappingRuns(t *testing.T) {
	balances := &fakeBalances{balances: map[string]*big.Int{"0xfull": big.NewInt(1_600_000)}, block: make(chan struct{})}
	f := newFixture(t, Options{Balances: balances})
	f.pendingOrder(t, "1", models.MethodCrypto, "0xfull", "0xfull")

	done := make(chan struct{})
	go func() {
		f.rec.Poll(context.Background())
		close(done)
	}()
	require.Eventually(t, func() bool { return f.rec.polling.Load() }, time.Second, time.Millisecond)

	// second run returns at once without touching the chain
	f.rec.Poll(context.Background())
	close(balances.block)
	<-done

	assert.Equal(t, 1, balances.calls)
}
