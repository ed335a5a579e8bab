package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/daap14/pagelease/internal/metrics"
	"github.com/daap14/pagelease/internal/plan"
	"github.com/daap14/pagelease/internal/publisher"
)

var (
	// ErrInvalidState is returned when an operation is not allowed from the deployment's status.
	ErrInvalidState = errors.New("operation not allowed in current deployment state")
	// ErrPublishFailed is returned when the publisher could not create the site. No row is recorded.
	ErrPublishFailed = errors.New("publishing failed")
	// ErrInvalidMonths is returned for a negative month extension.
	ErrInvalidMonths = errors.New("months must not be negative")
	// ErrInvalidRequest is returned for a publish request missing required inputs.
	ErrInvalidRequest = errors.New("invalid publish request")
	// ErrContention is returned when an extension kept losing to concurrent writers.
	ErrContention = errors.New("deployment update contention")
)

const (
	defaultExternalTimeout = 30 * time.Second
	defaultMaxAttempts     = 5
)

// TierSource resolves the tier currently in force for a fingerprint.
type TierSource interface {
	TierOf(ctx context.Context, fingerprint string) (plan.Tier, error)
}

// Manager owns the active → archived → deleted lifecycle of deployments.
// Every state change is a predicate update; publisher side effects run after
// a successful change and never gate it.
type Manager struct {
	repo            Repository
	publisher       publisher.Publisher
	tiers           TierSource
	policy          plan.Policy
	now             func() time.Time
	externalTimeout time.Duration
	maxAttempts     int
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithExternalTimeout bounds every publisher call.
func WithExternalTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.externalTimeout = d
		}
	}
}

// NewManager creates a new Manager.
func NewManager(repo Repository, pub publisher.Publisher, tiers TierSource, policy plan.Policy, opts ...Option) *Manager {
	m := &Manager{
		repo:            repo,
		publisher:       pub,
		tiers:           tiers,
		policy:          policy,
		now:             time.Now,
		externalTimeout: defaultExternalTimeout,
		maxAttempts:     defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Publish publishes a new site and records it with an expiry derived from
// the owner's current tier. Free owners are capped on active deployments.
func (m *Manager) Publish(ctx context.Context, req PublishRequest) (*Deployment, error) {
	fp := strings.TrimSpace(req.Fingerprint)
	if fp == "" || strings.TrimSpace(req.Name) == "" || len(req.Files) == 0 {
		return nil, ErrInvalidRequest
	}

	tier, err := m.tiers.TierOf(ctx, fp)
	if err != nil {
		return nil, fmt.Errorf("resolving tier: %w", err)
	}

	limit := 0
	if tier == plan.TierFree {
		limit = m.policy.FreeActiveLimit
	}
	if limit > 0 {
		usage, err := m.repo.CountByStatus(ctx, fp)
		if err != nil {
			return nil, fmt.Errorf("counting active deployments: %w", err)
		}
		if usage.Active >= limit {
			return nil, ErrQuotaExceeded
		}
	}

	id := uuid.New()
	name := RepoName(req.Name, id)

	pubCtx, cancel := context.WithTimeout(ctx, m.externalTimeout)
	artifact, err := m.publisher.Publish(pubCtx, name, req.Files)
	cancel()
	if err != nil {
		slog.Error("deployment: publish failed", "name", name, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	now := m.now()
	d := &Deployment{
		ID:          id,
		Fingerprint: fp,
		RepoName:    artifact.ID,
		PagesURL:    artifact.URL,
		Status:      StatusActive,
		Tier:        tier,
		CreatedAt:   now,
		ExpiresAt:   plan.AddDays(now, m.policy.HostingWindow(tier)),
	}
	if email := strings.TrimSpace(req.NotifyEmail); email != "" {
		d.NotifyEmail = &email
	}

	if err := m.repo.Create(ctx, d, limit); err != nil {
		// The site is live but unrecorded; take it down again.
		m.bestEffort(ctx, "teardown", artifact.ID, m.publisher.Teardown)
		if errors.Is(err, ErrQuotaExceeded) {
			return nil, ErrQuotaExceeded
		}
		return nil, fmt.Errorf("recording deployment: %w", err)
	}

	slog.Info("deployment: published",
		"id", d.ID,
		"repo", d.RepoName,
		"tier", tier,
		"expiresAt", d.ExpiresAt,
	)
	return d, nil
}

// Get returns a deployment by id.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Deployment, error) {
	return m.repo.GetByID(ctx, id)
}

// GetOwned returns a deployment only if it belongs to fingerprint. A
// deployment owned by someone else is reported as not found.
func (m *Manager) GetOwned(ctx context.Context, id uuid.UUID, fingerprint string) (*Deployment, error) {
	d, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Fingerprint != strings.TrimSpace(fingerprint) {
		return nil, ErrNotFound
	}
	return d, nil
}

// List returns a fingerprint's deployments, newest first.
func (m *Manager) List(ctx context.Context, fingerprint string, includeDeleted bool) ([]Deployment, error) {
	return m.repo.ListByFingerprint(ctx, strings.TrimSpace(fingerprint), includeDeleted)
}

// Usage counts a fingerprint's deployments by status.
func (m *Manager) Usage(ctx context.Context, fingerprint string) (Usage, error) {
	return m.repo.CountByStatus(ctx, strings.TrimSpace(fingerprint))
}

// Extend adds the hosting window of the owner's current tier to
// max(now, expires_at) and reactivates an archived deployment.
func (m *Manager) Extend(ctx context.Context, id uuid.UUID) (*Deployment, error) {
	return m.extend(ctx, id, func(ctx context.Context, d *Deployment, base time.Time) (time.Time, plan.Tier, error) {
		tier, err := m.tiers.TierOf(ctx, d.Fingerprint)
		if err != nil {
			return time.Time{}, "", fmt.Errorf("resolving tier: %w", err)
		}
		return plan.AddDays(base, m.policy.HostingWindow(tier)), tier, nil
	})
}

// ExtendByMonths adds calendar months to max(now, expires_at), marks the
// deployment business tier and reactivates it if archived.
func (m *Manager) ExtendByMonths(ctx context.Context, id uuid.UUID, months int) (*Deployment, error) {
	if months < 0 {
		return nil, ErrInvalidMonths
	}
	return m.extend(ctx, id, func(_ context.Context, _ *Deployment, base time.Time) (time.Time, plan.Tier, error) {
		return plan.AddMonths(base, months), plan.TierBusiness, nil
	})
}

type nextExpiryFunc func(ctx context.Context, d *Deployment, base time.Time) (time.Time, plan.Tier, error)

func (m *Manager) extend(ctx context.Context, id uuid.UUID, next nextExpiryFunc) (*Deployment, error) {
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		d, err := m.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if d.Status == StatusDeleted {
			return nil, ErrInvalidState
		}

		now := m.now()
		expiresAt, tier, err := next(ctx, d, plan.Later(now, d.ExpiresAt))
		if err != nil {
			return nil, err
		}

		updated, err := m.repo.UpdateExpiry(ctx, id, ExpiryUpdate{
			ExpectedStatus:    d.Status,
			ExpectedExpiresAt: d.ExpiresAt,
			ExpiresAt:         expiresAt,
			Tier:              tier,
			At:                now,
		})
		if errors.Is(err, ErrStale) {
			slog.Debug("deployment: changed during extend, retrying", "id", id, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}

		slog.Info("deployment: extended", "id", id, "tier", tier, "expiresAt", updated.ExpiresAt)
		if d.Status == StatusArchived {
			metrics.Transitions.WithLabelValues(string(StatusActive)).Inc()
			m.bestEffort(ctx, "unarchive", d.RepoName, m.publisher.Unarchive)
		}
		return updated, nil
	}
	return nil, ErrContention
}

// Archive moves an active deployment to archived and takes the site offline.
func (m *Manager) Archive(ctx context.Context, id uuid.UUID) (*Deployment, error) {
	if err := m.requireStatus(ctx, id, StatusActive); err != nil {
		return nil, err
	}
	d, changed, err := m.transition(ctx, id, []Status{StatusActive}, StatusArchived)
	if err != nil {
		return nil, err
	}
	if changed {
		m.bestEffort(ctx, "archive", d.RepoName, m.publisher.Archive)
	}
	return d, nil
}

// Unarchive moves an archived deployment back to active. The expiry is left
// unchanged.
func (m *Manager) Unarchive(ctx context.Context, id uuid.UUID) (*Deployment, error) {
	if err := m.requireStatus(ctx, id, StatusArchived); err != nil {
		return nil, err
	}
	d, changed, err := m.transition(ctx, id, []Status{StatusArchived}, StatusActive)
	if err != nil {
		return nil, err
	}
	if changed {
		m.bestEffort(ctx, "unarchive", d.RepoName, m.publisher.Unarchive)
	}
	return d, nil
}

// Delete moves an active or archived deployment to deleted and tears the
// site down. Deleting a deleted deployment succeeds without side effects.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) (*Deployment, error) {
	d, changed, err := m.transition(ctx, id, []Status{StatusActive, StatusArchived}, StatusDeleted)
	if err != nil {
		return nil, err
	}
	if changed {
		m.bestEffort(ctx, "teardown", d.RepoName, m.publisher.Teardown)
	}
	return d, nil
}

func (m *Manager) requireStatus(ctx context.Context, id uuid.UUID, want Status) error {
	d, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if d.Status != want {
		return ErrInvalidState
	}
	return nil
}

// transition applies an explicit status change. When the predicate update
// misses, the row is re-read: already in the target state is a no-op
// success, any state outside from is ErrInvalidState.
func (m *Manager) transition(ctx context.Context, id uuid.UUID, from []Status, to Status) (*Deployment, bool, error) {
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		updated, err := m.repo.Transition(ctx, id, Transition{From: from, To: to, At: m.now()})
		if err == nil {
			metrics.Transitions.WithLabelValues(string(to)).Inc()
			slog.Info("deployment: transitioned", "id", id, "to", to)
			return updated, true, nil
		}
		if !errors.Is(err, ErrStale) {
			return nil, false, err
		}

		current, err := m.repo.GetByID(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if current.Status == to {
			return current, false, nil
		}
		if !slices.Contains(from, current.Status) {
			return nil, false, ErrInvalidState
		}
	}
	return nil, false, ErrContention
}

// DueForArchive returns active deployments whose expiry is at or before now.
func (m *Manager) DueForArchive(ctx context.Context, now time.Time, limit int) ([]Deployment, error) {
	return m.repo.ListExpired(ctx, now, limit)
}

// ArchiveExpired archives d if it is still active and still expired at now.
// It reports whether this call made the change.
func (m *Manager) ArchiveExpired(ctx context.Context, d Deployment, now time.Time) (bool, error) {
	updated, err := m.repo.Transition(ctx, d.ID, Transition{
		From:      []Status{StatusActive},
		To:        StatusArchived,
		At:        now,
		ExpiredBy: &now,
	})
	if errors.Is(err, ErrStale) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	metrics.Transitions.WithLabelValues(string(StatusArchived)).Inc()
	m.bestEffort(ctx, "archive", updated.RepoName, m.publisher.Archive)
	return true, nil
}

// DueForDeletion returns archived deployments whose grace period has elapsed.
func (m *Manager) DueForDeletion(ctx context.Context, now time.Time, limit int) ([]Deployment, error) {
	return m.repo.ListArchivedBefore(ctx, now.Add(-m.policy.GracePeriod), limit)
}

// DeleteAfterGrace deletes d if it is still archived past its grace period.
// It reports whether this call made the change; teardown runs only then.
func (m *Manager) DeleteAfterGrace(ctx context.Context, d Deployment, now time.Time) (bool, error) {
	cutoff := now.Add(-m.policy.GracePeriod)
	updated, err := m.repo.Transition(ctx, d.ID, Transition{
		From:       []Status{StatusArchived},
		To:         StatusDeleted,
		At:         now,
		ArchivedBy: &cutoff,
	})
	if errors.Is(err, ErrStale) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	metrics.Transitions.WithLabelValues(string(StatusDeleted)).Inc()
	m.bestEffort(ctx, "teardown", updated.RepoName, m.publisher.Teardown)
	return true, nil
}

// DueForReminder returns active deployments expiring within the reminder
// window that have an address and have not been reminded.
func (m *Manager) DueForReminder(ctx context.Context, now time.Time, limit int) ([]Deployment, error) {
	return m.repo.ListExpiringBetween(ctx, now, now.Add(m.policy.ReminderWindow), limit)
}

// ClaimReminder records that the reminder for d's current expiry is being
// sent. Only one caller wins the claim.
func (m *Manager) ClaimReminder(ctx context.Context, d Deployment, now time.Time) (bool, error) {
	return m.repo.MarkReminded(ctx, d.ID, d.ExpiresAt, now)
}

// bestEffort runs an external call detached from the caller's cancellation
// and bounded by the external timeout. Failures are logged and counted.
func (m *Manager) bestEffort(ctx context.Context, op, id string, fn func(context.Context, string) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.externalTimeout)
	defer cancel()

	if err := fn(ctx, id); err != nil {
		metrics.ExternalEffectFailures.WithLabelValues(op).Inc()
		slog.Warn("deployment: external effect failed", "operation", op, "artifact", id, "error", err)
	}
}
