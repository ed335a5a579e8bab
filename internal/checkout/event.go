package checkout

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/daap14/pagelease/internal/payment"
	"github.com/daap14/pagelease/internal/plan"
)

// Stripe event types that settle a checkout.
const (
	EventSessionCompleted    = "checkout.session.completed"
	EventAsyncPaymentSettled = "checkout.session.async_payment_succeeded"
)

// CompletedSession holds the checkout session fields the webhook needs.
type CompletedSession struct {
	ID            string            `json:"id"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

// DecodeSession decodes the raw event object of a checkout session event.
func DecodeSession(raw json.RawMessage) (CompletedSession, error) {
	var s CompletedSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return CompletedSession{}, fmt.Errorf("%w: decoding checkout session: %w", payment.ErrInvalidEvent, err)
	}
	return s, nil
}

// Event normalizes the session into a payment event. Sessions created
// without metadata are treated as business tier purchases sized by amount.
func (s CompletedSession) Event() (payment.Event, error) {
	ev := payment.Event{
		Provider:    payment.ProviderStripe,
		ExternalID:  s.ID,
		Fingerprint: strings.TrimSpace(s.Metadata[MetaFingerprint]),
		AmountCents: s.AmountTotal,
		Currency:    s.Currency,
		Status:      payment.StatusPending,
	}
	if s.PaymentStatus == "paid" || s.PaymentStatus == "no_payment_required" {
		ev.Status = payment.StatusPaid
	}

	ev.Tier = plan.TierBusiness
	if t, ok := plan.ParseTier(s.Metadata[MetaTier]); ok && t.Paid() {
		ev.Tier = t
	}

	ev.Months = plan.MonthsForAmount(ev.Tier, s.AmountTotal)
	if raw := strings.TrimSpace(s.Metadata[MetaMonths]); raw != "" {
		months, err := strconv.Atoi(raw)
		if err != nil || months <= 0 {
			return payment.Event{}, fmt.Errorf("%w: months %q", payment.ErrInvalidEvent, raw)
		}
		ev.Months = months
	}

	if s.Metadata[MetaAction] == ActionExtend {
		id, err := uuid.Parse(s.Metadata[MetaDeploymentID])
		if err != nil {
			return payment.Event{}, fmt.Errorf("%w: deployment id %q", payment.ErrInvalidEvent, s.Metadata[MetaDeploymentID])
		}
		ev.DeploymentID = &id
	}

	return ev, ev.Validate()
}
