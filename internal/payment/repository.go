package payment

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no payment matches a provider reference.
var ErrNotFound = errors.New("payment not found")

// Repository provides access to the payments ledger. Rows are only inserted,
// promoted from pending to paid, or claimed.
type Repository interface {
	// Insert records p unless (provider, external_id) already exists, and
	// reports whether the row was inserted.
	Insert(ctx context.Context, p *Payment) (bool, error)
	GetByExternalID(ctx context.Context, provider Provider, externalID string) (*Payment, error)
	// Promote marks a pending row paid, attaching fingerprint if the row has
	// none. It reports false when the row is missing or already paid.
	Promote(ctx context.Context, provider Provider, externalID string, fingerprint *string) (*Payment, bool, error)
	// Claim attaches a fingerprint to a paid row that has none. It reports
	// false when the row does not qualify.
	Claim(ctx context.Context, u ClaimUpdate) (*Payment, bool, error)
}
