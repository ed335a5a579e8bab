package entitlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/daap14/pagelease/internal/plan"
)

// MemoryRepository implements Repository in process memory. It keeps the
// compare-and-set semantics of the Postgres implementation.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]Entitlement
	now  func() time.Time
}

// NewMemoryRepository returns an empty in-memory Repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]Entitlement), now: time.Now}
}

// Get returns the entitlement for fingerprint.
func (r *MemoryRepository) Get(_ context.Context, fingerprint string) (*Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.rows[fingerprint]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEntitlement(e), nil
}

// CompareAndSetHorizon sets the tier horizon to next if it still equals expected.
func (r *MemoryRepository) CompareAndSetHorizon(_ context.Context, fingerprint string, tier plan.Tier, expected *time.Time, next time.Time) (bool, error) {
	if !tier.Paid() {
		return false, fmt.Errorf("no horizon for tier %q", tier)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	e, ok := r.rows[fingerprint]
	if !ok {
		e = Entitlement{Fingerprint: fingerprint, CreatedAt: now, UpdatedAt: now}
	}

	current := e.Horizon(tier)
	if !sameInstant(current, expected) {
		r.rows[fingerprint] = e
		return false, nil
	}

	n := next
	if tier == plan.TierBusiness {
		e.BusinessUntil = &n
	} else {
		e.SupporterUntil = &n
	}
	e.UpdatedAt = now
	r.rows[fingerprint] = e
	return true, nil
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func cloneEntitlement(e Entitlement) *Entitlement {
	out := e
	if e.SupporterUntil != nil {
		t := *e.SupporterUntil
		out.SupporterUntil = &t
	}
	if e.BusinessUntil != nil {
		t := *e.BusinessUntil
		out.BusinessUntil = &t
	}
	return &out
}
