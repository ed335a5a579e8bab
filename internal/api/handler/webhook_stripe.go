package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/daap14/pagelease/internal/api/middleware"
	"github.com/daap14/pagelease/internal/api/response"
	"github.com/daap14/pagelease/internal/checkout"
	"github.com/daap14/pagelease/internal/metrics"
	"github.com/daap14/pagelease/internal/payment"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// PaymentApplier applies a normalized payment event exactly once.
type PaymentApplier interface {
	Apply(ctx context.Context, ev payment.Event) (payment.ApplyResult, error)
}

type applyResponse struct {
	Outcome   string `json:"outcome"`
	Applied   bool   `json:"applied"`
	PaymentID string `json:"paymentId,omitempty"`
}

func toApplyResponse(res payment.ApplyResult) applyResponse {
	resp := applyResponse{
		Outcome: string(res.Outcome),
		Applied: res.Applied(),
	}
	if res.PaymentID != uuid.Nil {
		resp.PaymentID = res.PaymentID.String()
	}
	return resp
}

// StripeWebhookHandler verifies Stripe webhook signatures and applies
// settled checkout sessions.
type StripeWebhookHandler struct {
	secret   string
	payments PaymentApplier
}

// NewStripeWebhookHandler creates a new StripeWebhookHandler.
func NewStripeWebhookHandler(secret string, payments PaymentApplier) *StripeWebhookHandler {
	return &StripeWebhookHandler{secret: strings.TrimSpace(secret), payments: payments}
}

// ServeHTTP handles POST /webhooks/stripe. The signature is checked against
// the raw body before anything is decoded.
func (h *StripeWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequests.WithLabelValues(string(payment.ProviderStripe), strconv.Itoa(status)).Inc()
	}()

	fail := func(code int, errCode, msg string) {
		status = code
		response.Err(w, code, errCode, msg, requestID)
	}

	if h.secret == "" {
		fail(http.StatusServiceUnavailable, response.CodeNotConfigured, "Stripe webhook secret not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		fail(http.StatusBadRequest, response.CodeInvalidPayload, "Failed to read request body")
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sig) == "" {
		fail(http.StatusUnauthorized, response.CodeUnauthorized, "Missing Stripe signature")
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sig, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		slog.Warn("webhook: stripe signature rejected", "error", err, "requestId", requestID)
		fail(http.StatusUnauthorized, response.CodeUnauthorized, "Invalid Stripe signature")
		return
	}

	eventType := string(event.Type)
	if eventType != checkout.EventSessionCompleted && eventType != checkout.EventAsyncPaymentSettled {
		slog.Debug("webhook: stripe event ignored", "type", eventType, "id", event.ID)
		response.Success(w, http.StatusOK, applyResponse{Outcome: "ignored"}, requestID)
		return
	}

	var ev payment.Event
	session, err := checkout.DecodeSession(event.Data.Raw)
	if err == nil {
		ev, err = session.Event()
	}
	if err != nil {
		slog.Warn("webhook: stripe session not usable", "type", eventType, "id", event.ID, "error", err)
		fail(http.StatusBadRequest, response.CodeInvalidPayload, err.Error())
		return
	}

	res, err := h.payments.Apply(r.Context(), ev)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidEvent) {
			fail(http.StatusBadRequest, response.CodeInvalidPayload, err.Error())
			return
		}
		slog.Error("webhook: applying stripe payment", "session", session.ID, "error", err, "requestId", requestID)
		fail(http.StatusInternalServerError, response.CodeInternal, "Failed to apply payment")
		return
	}

	response.Success(w, http.StatusOK, toApplyResponse(res), requestID)
}
