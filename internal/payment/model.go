package payment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/daap14/pagelease/internal/plan"
)

// Provider names a payment channel.
type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderBMC    Provider = "bmc"
)

// ParseProvider resolves a channel name. Unknown names report false.
func ParseProvider(s string) (Provider, bool) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderStripe:
		return ProviderStripe, true
	case ProviderBMC:
		return ProviderBMC, true
	}
	return "", false
}

// Status is the settlement state of a payment.
type Status string

const (
	StatusPaid    Status = "paid"
	StatusPending Status = "pending"
)

// Payment represents a row in the append-only payments ledger.
type Payment struct {
	ID           uuid.UUID
	Provider     Provider
	ExternalID   string
	Fingerprint  *string
	Plan         string
	Tier         plan.Tier
	Months       int
	AmountCents  int64
	Currency     string
	Status       Status
	DeploymentID *uuid.UUID
	CreatedAt    time.Time
	ClaimedAt    *time.Time
}

// Event is a payment notification normalized from any channel.
type Event struct {
	Provider     Provider
	ExternalID   string
	Fingerprint  string
	Tier         plan.Tier
	Months       int
	AmountCents  int64
	Currency     string
	Status       Status
	DeploymentID *uuid.UUID
}

// ErrInvalidEvent wraps every event validation failure.
var ErrInvalidEvent = errors.New("invalid payment event")

// Validate checks that an event can be recorded.
func (e Event) Validate() error {
	switch {
	case e.Provider != ProviderStripe && e.Provider != ProviderBMC:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidEvent, e.Provider)
	case strings.TrimSpace(e.ExternalID) == "":
		return fmt.Errorf("%w: missing external id", ErrInvalidEvent)
	case !e.Tier.Paid():
		return fmt.Errorf("%w: tier %q cannot be purchased", ErrInvalidEvent, e.Tier)
	case e.Months <= 0:
		return fmt.Errorf("%w: months must be positive", ErrInvalidEvent)
	case e.Status != StatusPaid && e.Status != StatusPending:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidEvent, e.Status)
	}
	return nil
}

func (e Event) toPayment(id uuid.UUID, now time.Time) *Payment {
	p := &Payment{
		ID:           id,
		Provider:     e.Provider,
		ExternalID:   strings.TrimSpace(e.ExternalID),
		Plan:         plan.Label(e.Tier, e.Months),
		Tier:         e.Tier,
		Months:       e.Months,
		AmountCents:  e.AmountCents,
		Currency:     strings.ToUpper(e.Currency),
		Status:       e.Status,
		DeploymentID: e.DeploymentID,
		CreatedAt:    now,
	}
	if p.Currency == "" {
		p.Currency = plan.Currency
	}
	if fp := strings.TrimSpace(e.Fingerprint); fp != "" {
		p.Fingerprint = &fp
	}
	return p
}

// Outcome tags the result of applying an event or a claim.
type Outcome string

const (
	// OutcomeApplied means this call recorded the payment and extended the entitlement.
	OutcomeApplied Outcome = "applied"
	// OutcomeAlreadyApplied means an earlier call already took effect.
	OutcomeAlreadyApplied Outcome = "already_applied"
	// OutcomeRecorded means the payment was stored without effects: it is
	// pending, or it carries no fingerprint and awaits manual redemption.
	OutcomeRecorded Outcome = "recorded"
)

// ApplyResult reports what Apply or Claim did.
type ApplyResult struct {
	Outcome   Outcome
	PaymentID uuid.UUID
}

// Applied reports whether this call produced the effects.
func (r ApplyResult) Applied() bool {
	return r.Outcome == OutcomeApplied
}

// ClaimRequest attaches a fingerprint to a payment that arrived without one.
// A non-zero Months must equal the months the payment bought.
type ClaimRequest struct {
	Provider    Provider
	Reference   string
	Fingerprint string
	Months      int
}

// ClaimUpdate is the predicate update behind a claim.
type ClaimUpdate struct {
	Provider    Provider
	ExternalID  string
	Fingerprint string
	At          time.Time
}
