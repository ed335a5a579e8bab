package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/daap14/pagelease/internal/plan"
)

var (
	// ErrInvalidFingerprint is returned for an empty fingerprint.
	ErrInvalidFingerprint = errors.New("invalid fingerprint")
	// ErrInvalidMonths is returned for a negative extension.
	ErrInvalidMonths = errors.New("months must not be negative")
	// ErrUnsupportedTier is returned when extending a tier that cannot be purchased.
	ErrUnsupportedTier = errors.New("tier cannot be extended")
	// ErrContention is returned when the compare-and-set kept losing to concurrent writers.
	ErrContention = errors.New("entitlement update contention")
)

const defaultMaxAttempts = 5

// Store decides which tier applies to a fingerprint and extends paid horizons.
type Store struct {
	repo        Repository
	now         func() time.Time
	maxAttempts int
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMaxAttempts bounds the compare-and-set retries of Extend.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewStore creates a new Store.
func NewStore(repo Repository, opts ...Option) *Store {
	s := &Store{repo: repo, now: time.Now, maxAttempts: defaultMaxAttempts}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the derived tier and both horizons. An unknown fingerprint is free.
func (s *Store) Get(ctx context.Context, fingerprint string) (View, error) {
	fp := strings.TrimSpace(fingerprint)
	if fp == "" {
		return View{}, ErrInvalidFingerprint
	}

	e, err := s.repo.Get(ctx, fp)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return View{}, fmt.Errorf("loading entitlement: %w", err)
	}
	return viewOf(fp, e, s.now()), nil
}

// TierOf returns only the tier in force for fingerprint.
func (s *Store) TierOf(ctx context.Context, fingerprint string) (plan.Tier, error) {
	v, err := s.Get(ctx, fingerprint)
	if err != nil {
		return "", err
	}
	return v.Tier, nil
}

// Extend pushes the horizon of tier forward by months, compounding with any
// time still remaining. Concurrent extends for the same fingerprint are
// serialized by a compare-and-set on the previous horizon, so each one
// compounds on the result of the other. Zero months writes max(now, horizon).
func (s *Store) Extend(ctx context.Context, fingerprint string, tier plan.Tier, months int) (View, error) {
	fp := strings.TrimSpace(fingerprint)
	if fp == "" {
		return View{}, ErrInvalidFingerprint
	}
	if !tier.Paid() {
		return View{}, ErrUnsupportedTier
	}
	if months < 0 {
		return View{}, ErrInvalidMonths
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		e, err := s.repo.Get(ctx, fp)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return View{}, fmt.Errorf("loading entitlement: %w", err)
		}

		now := s.now()
		expected := e.Horizon(tier)
		base := now
		if expected != nil {
			base = plan.Later(now, *expected)
		}
		next := plan.AddMonths(base, months)

		ok, err := s.repo.CompareAndSetHorizon(ctx, fp, tier, expected, next)
		if err != nil {
			return View{}, fmt.Errorf("extending entitlement: %w", err)
		}
		if ok {
			slog.Info("entitlement: extended",
				"fingerprint", fp,
				"tier", tier,
				"months", months,
				"until", next,
			)
			return viewOf(fp, e.withHorizon(fp, tier, next), now), nil
		}

		slog.Debug("entitlement: horizon changed concurrently, retrying", "fingerprint", fp, "attempt", attempt)
	}

	return View{}, ErrContention
}
