package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/daap14/pagelease/internal/api/middleware"
	"github.com/daap14/pagelease/internal/api/response"
	"github.com/daap14/pagelease/internal/api/validation"
	"github.com/daap14/pagelease/internal/auth"
	"github.com/daap14/pagelease/internal/metrics"
	"github.com/daap14/pagelease/internal/payment"
	"github.com/daap14/pagelease/internal/plan"
)

// bmcPayment is the Buy Me a Coffee notification body. The payment fields
// may sit at the top level or under "data".
type bmcPayment struct {
	ID          json.RawMessage   `json:"id"`
	ExternalID  string            `json:"external_id"`
	Amount      float64           `json:"amount"`
	Currency    string            `json:"currency"`
	Status      string            `json:"status"`
	Fingerprint string            `json:"fingerprint"`
	Months      int               `json:"months"`
	Metadata    map[string]string `json:"metadata"`
}

type bmcEnvelope struct {
	bmcPayment
	Data *bmcPayment `json:"data"`
}

// event normalizes the notification. Supporter months come from an explicit
// months field (6, otherwise 3) or from the amount paid.
func (p bmcPayment) event() payment.Event {
	ext := strings.TrimSpace(p.ExternalID)
	if ext == "" {
		ext = strings.Trim(string(bytes.TrimSpace(p.ID)), `"`)
		if ext == "null" {
			ext = ""
		}
	}

	fp := strings.TrimSpace(p.Metadata["fingerprint"])
	if fp == "" {
		fp = strings.TrimSpace(p.Fingerprint)
	}
	// An oversized fingerprint is dropped rather than cut, so the payment
	// waits for a manual redemption instead of entitling some other device.
	if !validation.ValidFingerprint(fp) {
		fp = ""
	}

	cents := int64(math.Round(p.Amount * 100))
	months := 3
	switch {
	case p.Months == 6:
		months = 6
	case p.Months == 0 && cents > 0:
		months = plan.MonthsForAmount(plan.TierSupporter, cents)
	}
	if cents == 0 {
		cents, _ = plan.PriceFor(plan.TierSupporter, months)
	}

	status := payment.StatusPaid
	if strings.EqualFold(p.Status, "pending") {
		status = payment.StatusPending
	}

	return payment.Event{
		Provider:    payment.ProviderBMC,
		ExternalID:  ext,
		Fingerprint: fp,
		Tier:        plan.TierSupporter,
		Months:      months,
		AmountCents: cents,
		Currency:    p.Currency,
		Status:      status,
	}
}

// BMCWebhookHandler authenticates Buy Me a Coffee notifications by shared
// secret header or HMAC-SHA256 signature and applies them.
type BMCWebhookHandler struct {
	secret   string
	payments PaymentApplier
}

// NewBMCWebhookHandler creates a new BMCWebhookHandler.
func NewBMCWebhookHandler(secret string, payments PaymentApplier) *BMCWebhookHandler {
	return &BMCWebhookHandler{secret: strings.TrimSpace(secret), payments: payments}
}

// ServeHTTP handles POST /webhooks/bmc.
func (h *BMCWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequests.WithLabelValues(string(payment.ProviderBMC), strconv.Itoa(status)).Inc()
	}()

	fail := func(code int, errCode, msg string) {
		status = code
		response.Err(w, code, errCode, msg, requestID)
	}

	if h.secret == "" {
		fail(http.StatusServiceUnavailable, response.CodeNotConfigured, "BMC webhook secret not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		fail(http.StatusBadRequest, response.CodeInvalidPayload, "Failed to read request body")
		return
	}

	if !h.authenticated(r, payload) {
		fail(http.StatusUnauthorized, response.CodeUnauthorized, "Invalid webhook secret or signature")
		return
	}

	var body bmcEnvelope
	if err := json.Unmarshal(payload, &body); err != nil {
		fail(http.StatusBadRequest, response.CodeInvalidJSON, "Request body must be valid JSON")
		return
	}
	p := body.bmcPayment
	if body.Data != nil {
		p = *body.Data
	}

	res, err := h.payments.Apply(r.Context(), p.event())
	if err != nil {
		if errors.Is(err, payment.ErrInvalidEvent) {
			fail(http.StatusBadRequest, response.CodeInvalidPayload, err.Error())
			return
		}
		slog.Error("webhook: applying bmc payment", "error", err, "requestId", requestID)
		fail(http.StatusInternalServerError, response.CodeInternal, "Failed to apply payment")
		return
	}

	response.Success(w, http.StatusOK, toApplyResponse(res), requestID)
}

func (h *BMCWebhookHandler) authenticated(r *http.Request, payload []byte) bool {
	if presented := r.Header.Get("X-BMC-Secret"); presented != "" {
		return auth.SecretEqual(presented, h.secret)
	}
	if sig := r.Header.Get("X-Signature-Sha256"); sig != "" {
		return auth.VerifyHMACSHA256(payload, sig, h.secret) == nil
	}
	return false
}
