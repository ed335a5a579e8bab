package payment

import (
	"context"
	"sync"
)

type ledgerKey struct {
	provider   Provider
	externalID string
}

// MemoryRepository implements Repository in process memory. The map key
// plays the role of the (provider, external_id) unique constraint.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[ledgerKey]Payment
}

// NewMemoryRepository returns an empty in-memory Repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[ledgerKey]Payment)}
}

// Insert records p unless (provider, external_id) already exists.
func (r *MemoryRepository) Insert(_ context.Context, p *Payment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ledgerKey{p.Provider, p.ExternalID}
	if _, exists := r.rows[key]; exists {
		return false, nil
	}
	r.rows[key] = clone(*p)
	return true, nil
}

// GetByExternalID returns the payment with the given provider reference.
func (r *MemoryRepository) GetByExternalID(_ context.Context, provider Provider, externalID string) (*Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.rows[ledgerKey{provider, externalID}]
	if !ok {
		return nil, ErrNotFound
	}
	out := clone(p)
	return &out, nil
}

// Promote marks a pending payment paid, attaching fingerprint if it had none.
func (r *MemoryRepository) Promote(_ context.Context, provider Provider, externalID string, fingerprint *string) (*Payment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ledgerKey{provider, externalID}
	p, ok := r.rows[key]
	if !ok || p.Status == StatusPaid {
		return nil, false, nil
	}
	p.Status = StatusPaid
	if p.Fingerprint == nil && fingerprint != nil {
		fp := *fingerprint
		p.Fingerprint = &fp
	}
	r.rows[key] = p

	out := clone(p)
	return &out, true, nil
}

// Claim attaches a fingerprint to an unclaimed paid payment.
func (r *MemoryRepository) Claim(_ context.Context, u ClaimUpdate) (*Payment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ledgerKey{u.Provider, u.ExternalID}
	p, ok := r.rows[key]
	if !ok || p.Fingerprint != nil || p.Status != StatusPaid {
		return nil, false, nil
	}
	fp, at := u.Fingerprint, u.At
	p.Fingerprint = &fp
	p.ClaimedAt = &at
	r.rows[key] = p

	out := clone(p)
	return &out, true, nil
}

func clone(p Payment) Payment {
	out := p
	if p.Fingerprint != nil {
		fp := *p.Fingerprint
		out.Fingerprint = &fp
	}
	if p.DeploymentID != nil {
		id := *p.DeploymentID
		out.DeploymentID = &id
	}
	if p.ClaimedAt != nil {
		at := *p.ClaimedAt
		out.ClaimedAt = &at
	}
	return out
}
