package deployment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a deployment record is not found.
var ErrNotFound = errors.New("deployment not found")

// ErrQuotaExceeded is returned when the active deployment cap for a fingerprint is reached.
var ErrQuotaExceeded = errors.New("active deployment limit reached")

// ErrStale is returned by predicate updates when the row no longer matches
// the expected state.
var ErrStale = errors.New("deployment changed concurrently")

// Repository provides access to the deployments table. Every mutation is a
// predicate update and never overwrites a row blindly.
type Repository interface {
	// Create inserts d. When activeLimit is positive the insert only succeeds
	// while the fingerprint has fewer active deployments than activeLimit.
	Create(ctx context.Context, d *Deployment, activeLimit int) error
	GetByID(ctx context.Context, id uuid.UUID) (*Deployment, error)
	ListByFingerprint(ctx context.Context, fingerprint string, includeDeleted bool) ([]Deployment, error)
	CountByStatus(ctx context.Context, fingerprint string) (Usage, error)
	UpdateExpiry(ctx context.Context, id uuid.UUID, u ExpiryUpdate) (*Deployment, error)
	Transition(ctx context.Context, id uuid.UUID, t Transition) (*Deployment, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Deployment, error)
	ListArchivedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Deployment, error)
	ListExpiringBetween(ctx context.Context, from, to time.Time, limit int) ([]Deployment, error)
	// MarkReminded claims the reminder for the row's current expiry. It
	// reports false when the reminder was already claimed or the row moved on.
	MarkReminded(ctx context.Context, id uuid.UUID, expiresAt, at time.Time) (bool, error)
}
