// Package server exposes the webhook and callback endpoints.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"dinechain/bot"
	"dinechain/models"
	"dinechain/notify"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/twilio/twilio-go/client"
	"go.uber.org/zap"
)

const (
	defaultHandleTimeout = 2 * time.Minute
	emptyTwiML           = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
)

type Inbound interface {
	HandleInbound(ctx context.Context, msg models.InboundMessage) error
}

type Reconciler interface {
	HandleStripe(ctx context.Context, payload []byte, signature string) int
	HandlePaystack(ctx context.Context, payload []byte, signature string) int
	VerifyPaystack(ctx context.Context, reference string) int
	MarkPaidByID(ctx context.Context, id int64) int
}

type Options struct {
	PublicURL       string
	InternalAPIKey  string
	TwilioAuthToken string // empty skips signature validation
	RateRPS         float64
	RateBurst       int
	HandleTimeout   time.Duration
	TrustProxy      bool // take the client address from X-Forwarded-For / X-Real-IP
}

type Server struct {
	inbound    Inbound
	reconciler Reconciler
	opts       Options
	logger     *zap.Logger
	limiters   *limiters
	twilio     *client.RequestValidator
	router     chi.Router
	wg         sync.WaitGroup
}

func New(inbound Inbound, reconciler Reconciler, opts Options, logger *zap.Logger) *Server {
	if opts.HandleTimeout <= 0 {
		opts.HandleTimeout = defaultHandleTimeout
	}
	if opts.RateRPS <= 0 {
		opts.RateRPS = 5
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 10
	}
	s := &Server{
		inbound:    inbound,
		reconciler: reconciler,
		opts:       opts,
		logger:     logger,
		limiters:   newLimiters(opts.RateRPS, opts.RateBurst),
	}
	if opts.TwilioAuthToken != "" {
		v := client.NewRequestValidator(opts.TwilioAuthToken)
		s.twilio = &v
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	if s.opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(limitBody)

	// provider webhooks come from a few shared addresses and are authenticated by signature
	r.Post("/webhook/telegram", s.handleTelegram)
	r.Post("/webhook/twilio", s.handleTwilio)
	r.Post("/webhook/stripe", s.handleStripe)
	r.Post("/webhook/paystack", s.handlePaystack)

	r.Group(func(r chi.Router) {
		r.Use(s.limiters.middleware)
		r.Get("/paystack/verify", s.handlePaystackVerify)
		r.With(jwtAuth(s.opts.InternalAPIKey)).Post("/internal/orders/{id}/paid", s.handleOrderPaid)
	})

	r.Get("/success", staticText("Payment received. You can return to the chat."))
	r.Get("/cancel", staticText("Payment cancelled. Reply in the chat to pick another method."))
	r.Get("/healthz", staticText("ok"))
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves on addr until ctx is done, then shuts down and waits for in-flight messages.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sweep := time.NewTicker(5 * time.Minute)
	defer sweep.Stop()
	s.logger.Info("http server listening", zap.String("addr", addr))
	for {
		select {
		case err := <-errCh:
			return err
		case now := <-sweep.C:
			s.limiters.sweep(now)
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			err := srv.Shutdown(shutdownCtx)
			s.Wait()
			return err
		}
	}
}

// Wait blocks until every accepted inbound message has been handled.
func (s *Server) Wait() {
	s.wg.Wait()
}

// dispatch handles msg after the response is written so providers are acknowledged at once.
func (s *Server) dispatch(r *http.Request, msg models.InboundMessage) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.opts.HandleTimeout)
		defer cancel()
		if err := s.inbound.HandleInbound(ctx, msg); err != nil {
			s.logger.Error("handle inbound message",
				zap.String("platform", msg.Platform),
				zap.String("customer_id", msg.CustomerID),
				zap.Error(err))
		}
	}()
}

func (s *Server) handleTelegram(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		// telegram retries anything but 2xx; a broken envelope would come back forever
		s.logger.Warn("malformed telegram update", zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}
	if msg, ok := bot.InboundFromUpdate(update); ok {
		s.dispatch(r, msg)
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleTwilio(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if s.twilio != nil {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !s.twilio.Validate(s.opts.PublicURL+r.URL.RequestURI(), params, r.Header.Get("X-Twilio-Signature")) {
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	from := notify.StripWhatsApp(r.PostForm.Get("From"))
	if from != "" && r.PostForm.Get("Body") != "" {
		s.dispatch(r, models.InboundMessage{
			Platform:    models.PlatformWhatsApp,
			CustomerID:  from,
			DisplayName: r.PostForm.Get("ProfileName"),
			Text:        r.PostForm.Get("Body"),
		})
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = io.WriteString(w, emptyTwiML)
}

func (s *Server) handleStripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	w.WriteHeader(s.reconciler.HandleStripe(r.Context(), payload, r.Header.Get("Stripe-Signature")))
}

func (s *Server) handlePaystack(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	w.WriteHeader(s.reconciler.HandlePaystack(r.Context(), payload, r.Header.Get("x-paystack-signature")))
}

func (s *Server) handlePaystackVerify(w http.ResponseWriter, r *http.Request) {
	status := s.reconciler.VerifyPaystack(r.Context(), r.URL.Query().Get("reference"))
	var text string
	switch status {
	case http.StatusOK:
		text = "Payment confirmed. You can return to the chat."
	case http.StatusPaymentRequired:
		text = "Payment not completed. Reply in the chat to try again."
	case http.StatusBadRequest:
		text = "Missing payment reference."
	default:
		text = "We could not confirm your payment yet. You will get a message once it is confirmed."
	}
	writeText(w, status, text)
}

func (s *Server) handleOrderPaid(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}
	w.WriteHeader(s.reconciler.MarkPaidByID(r.Context(), id))
}

func staticText(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusOK, text)
	}
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, text)
}
