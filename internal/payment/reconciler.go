package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/daap14/pagelease/internal/deployment"
	"github.com/daap14/pagelease/internal/entitlement"
	"github.com/daap14/pagelease/internal/metrics"
	"github.com/daap14/pagelease/internal/plan"
)

var (
	// ErrNotPaid is returned when claiming a payment that has not settled.
	ErrNotPaid = errors.New("payment not confirmed as paid")
	// ErrInvalidClaim is returned for a claim missing required inputs.
	ErrInvalidClaim = errors.New("invalid claim")
	// ErrMonthsMismatch is returned when a claim names a plan length other
	// than the one the payment bought.
	ErrMonthsMismatch = errors.New("months do not match the recorded payment")
)

// EntitlementExtender extends a fingerprint's paid horizon.
type EntitlementExtender interface {
	Extend(ctx context.Context, fingerprint string, tier plan.Tier, months int) (entitlement.View, error)
}

// DeploymentExtender extends a single deployment by calendar months.
type DeploymentExtender interface {
	ExtendByMonths(ctx context.Context, id uuid.UUID, months int) (*deployment.Deployment, error)
}

// Transactor runs fn atomically.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Reconciler applies payment events from every channel exactly once. The
// ledger insert and its effects commit together, so a failed effect leaves
// no ledger row behind and the channel's retry applies it again.
type Reconciler struct {
	repo         Repository
	tx           Transactor
	entitlements EntitlementExtender
	deployments  DeploymentExtender
	now          func() time.Time
}

// NewReconciler creates a new Reconciler.
func NewReconciler(repo Repository, tx Transactor, entitlements EntitlementExtender, deployments DeploymentExtender) *Reconciler {
	return &Reconciler{
		repo:         repo,
		tx:           tx,
		entitlements: entitlements,
		deployments:  deployments,
		now:          time.Now,
	}
}

// WithClock returns r using now as its time source.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Apply records ev in the ledger and, the first time a paid event with a
// fingerprint is seen, extends the entitlement and any named deployment.
func (r *Reconciler) Apply(ctx context.Context, ev Event) (ApplyResult, error) {
	if err := ev.Validate(); err != nil {
		return ApplyResult{}, err
	}

	var res ApplyResult
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		p := ev.toPayment(uuid.New(), r.now())

		inserted, err := r.repo.Insert(ctx, p)
		if err != nil {
			return err
		}
		if inserted {
			res.PaymentID = p.ID
			if p.Status != StatusPaid || p.Fingerprint == nil {
				res.Outcome = OutcomeRecorded
				return nil
			}
			res.Outcome = OutcomeApplied
			return r.applyEffects(ctx, p)
		}

		if ev.Status != StatusPaid {
			res.Outcome = OutcomeAlreadyApplied
			return nil
		}

		promoted, ok, err := r.repo.Promote(ctx, p.Provider, p.ExternalID, p.Fingerprint)
		if err != nil {
			return err
		}
		if !ok {
			res.Outcome = OutcomeAlreadyApplied
			return nil
		}

		res.PaymentID = promoted.ID
		if promoted.Fingerprint == nil {
			res.Outcome = OutcomeRecorded
			return nil
		}
		res.Outcome = OutcomeApplied
		return r.applyEffects(ctx, promoted)
	})
	if err != nil {
		return ApplyResult{}, fmt.Errorf("applying %s payment %s: %w", ev.Provider, ev.ExternalID, err)
	}

	metrics.PaymentOutcomes.WithLabelValues(string(ev.Provider), string(res.Outcome)).Inc()
	slog.Info("payment: event reconciled",
		"provider", ev.Provider,
		"externalId", ev.ExternalID,
		"status", ev.Status,
		"outcome", res.Outcome,
	)
	return res, nil
}

// Claim attaches a fingerprint to a paid payment that arrived without one
// and applies its effects. Only the first claim has any effect.
func (r *Reconciler) Claim(ctx context.Context, req ClaimRequest) (ApplyResult, error) {
	provider := req.Provider
	if provider == "" {
		provider = ProviderBMC
	}
	ref := strings.TrimSpace(req.Reference)
	fp := strings.TrimSpace(req.Fingerprint)
	if ref == "" || fp == "" {
		return ApplyResult{}, ErrInvalidClaim
	}

	var res ApplyResult
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := r.repo.GetByExternalID(ctx, provider, ref)
		if err != nil {
			return err
		}
		res.PaymentID = p.ID
		if p.Status != StatusPaid {
			return ErrNotPaid
		}
		if req.Months != 0 && req.Months != p.Months {
			return fmt.Errorf("%w: paid for %d, claimed %d", ErrMonthsMismatch, p.Months, req.Months)
		}
		if p.Fingerprint != nil {
			res.Outcome = OutcomeAlreadyApplied
			return nil
		}

		claimed, ok, err := r.repo.Claim(ctx, ClaimUpdate{
			Provider:    provider,
			ExternalID:  ref,
			Fingerprint: fp,
			At:          r.now(),
		})
		if err != nil {
			return err
		}
		if !ok {
			res.Outcome = OutcomeAlreadyApplied
			return nil
		}
		res.Outcome = OutcomeApplied
		return r.applyEffects(ctx, claimed)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotPaid) || errors.Is(err, ErrMonthsMismatch) {
			return ApplyResult{}, err
		}
		return ApplyResult{}, fmt.Errorf("claiming %s payment %s: %w", provider, ref, err)
	}

	metrics.PaymentOutcomes.WithLabelValues(string(provider), "claim_"+string(res.Outcome)).Inc()
	slog.Info("payment: claim processed", "provider", provider, "reference", ref, "outcome", res.Outcome)
	return res, nil
}

// applyEffects extends the entitlement for p and, when p names a
// deployment, that deployment too. A deployment that is gone or deleted
// does not fail the payment.
func (r *Reconciler) applyEffects(ctx context.Context, p *Payment) error {
	if p.Fingerprint == nil {
		return nil
	}
	months := p.Months
	if months <= 0 {
		months = plan.MonthsForAmount(p.Tier, p.AmountCents)
	}
	if months <= 0 {
		return fmt.Errorf("payment %s has no extension length", p.ExternalID)
	}

	if _, err := r.entitlements.Extend(ctx, *p.Fingerprint, p.Tier, months); err != nil {
		return fmt.Errorf("extending entitlement: %w", err)
	}

	if p.DeploymentID == nil || r.deployments == nil {
		return nil
	}
	_, err := r.deployments.ExtendByMonths(ctx, *p.DeploymentID, months)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, deployment.ErrNotFound), errors.Is(err, deployment.ErrInvalidState):
		slog.Warn("payment: named deployment not extended",
			"payment", p.ExternalID,
			"deployment", *p.DeploymentID,
			"error", err,
		)
		return nil
	default:
		return fmt.Errorf("extending deployment: %w", err)
	}
}
