package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/daap14/pagelease/internal/plan"
)

// ErrNotFound is returned when no entitlement row exists for a fingerprint.
var ErrNotFound = errors.New("entitlement not found")

// Repository provides access to the entitlements table.
type Repository interface {
	Get(ctx context.Context, fingerprint string) (*Entitlement, error)
	// CompareAndSetHorizon creates the row if needed, then sets the horizon
	// of tier to next only if it still equals expected (nil meaning unset).
	// It reports false when another writer changed the horizon first.
	CompareAndSetHorizon(ctx context.Context, fingerprint string, tier plan.Tier, expected *time.Time, next time.Time) (bool, error)
}
