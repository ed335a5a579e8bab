package deployment

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository implements Repository in process memory with the same
// predicate semantics as the Postgres implementation.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[uuid.UUID]Deployment
}

// NewMemoryRepository returns an empty in-memory Repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[uuid.UUID]Deployment)}
}

// Create stores d unless the free-tier active limit is already reached.
func (r *MemoryRepository) Create(_ context.Context, d *Deployment, activeLimit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if activeLimit > 0 && r.countLocked(d.Fingerprint, StatusActive) >= activeLimit {
		return ErrQuotaExceeded
	}
	d.UpdatedAt = d.CreatedAt
	r.rows[d.ID] = clone(*d)
	return nil
}

// GetByID returns the deployment with the given id.
func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := clone(d)
	return &out, nil
}

// ListByFingerprint returns the deployments owned by fingerprint, newest first.
func (r *MemoryRepository) ListByFingerprint(_ context.Context, fingerprint string, includeDeleted bool) ([]Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.filterLocked(func(d Deployment) bool {
		return d.Fingerprint == fingerprint && (includeDeleted || d.Status != StatusDeleted)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// CountByStatus counts active and archived deployments for fingerprint.
func (r *MemoryRepository) CountByStatus(_ context.Context, fingerprint string) (Usage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var u Usage
	for _, d := range r.rows {
		if d.Fingerprint == fingerprint {
			u.add(d.Status, 1)
		}
	}
	return u, nil
}

// UpdateExpiry moves the expiry if the row still holds the expected status and expiry.
func (r *MemoryRepository) UpdateExpiry(_ context.Context, id uuid.UUID, u ExpiryUpdate) (*Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.rows[id]
	if !ok || d.Status != u.ExpectedStatus || !d.ExpiresAt.Equal(u.ExpectedExpiresAt) {
		return nil, ErrStale
	}

	at := u.At
	d.ExpiresAt = u.ExpiresAt
	d.Tier = u.Tier
	d.Status = StatusActive
	d.ArchivedAt = nil
	d.LastExtendedAt = &at
	d.RemindedAt = nil
	d.UpdatedAt = at
	r.rows[id] = d

	out := clone(d)
	return &out, nil
}

// Transition moves the row to t.To when its status is one of t.From.
func (r *MemoryRepository) Transition(_ context.Context, id uuid.UUID, t Transition) (*Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.rows[id]
	if !ok || !slices.Contains(t.From, d.Status) {
		return nil, ErrStale
	}
	if t.ExpiredBy != nil && d.ExpiresAt.After(*t.ExpiredBy) {
		return nil, ErrStale
	}
	if t.ArchivedBy != nil && (d.ArchivedAt == nil || d.ArchivedAt.After(*t.ArchivedBy)) {
		return nil, ErrStale
	}

	at := t.At
	d.Status = t.To
	d.UpdatedAt = at
	switch t.To {
	case StatusArchived:
		d.ArchivedAt = &at
	case StatusActive:
		d.ArchivedAt = nil
	case StatusDeleted:
		d.DeletedAt = &at
	}
	r.rows[id] = d

	out := clone(d)
	return &out, nil
}

// ListExpired returns active deployments whose expiry has passed.
func (r *MemoryRepository) ListExpired(_ context.Context, now time.Time, limit int) ([]Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.filterLocked(func(d Deployment) bool {
		return d.Status == StatusActive && !d.ExpiresAt.After(now)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return truncate(out, limit), nil
}

// ListArchivedBefore returns archived deployments archived at or before cutoff.
func (r *MemoryRepository) ListArchivedBefore(_ context.Context, cutoff time.Time, limit int) ([]Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.filterLocked(func(d Deployment) bool {
		return d.Status == StatusArchived && d.ArchivedAt != nil && !d.ArchivedAt.After(cutoff)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].ArchivedAt.Before(*out[j].ArchivedAt) })
	return truncate(out, limit), nil
}

// ListExpiringBetween returns unreminded active deployments with an email
// that expire after from and no later than to.
func (r *MemoryRepository) ListExpiringBetween(_ context.Context, from, to time.Time, limit int) ([]Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.filterLocked(func(d Deployment) bool {
		return d.Status == StatusActive &&
			d.ExpiresAt.After(from) && !d.ExpiresAt.After(to) &&
			d.NotifyEmail != nil && *d.NotifyEmail != "" &&
			d.RemindedAt == nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return truncate(out, limit), nil
}

// MarkReminded claims the reminder for the current expiry.
func (r *MemoryRepository) MarkReminded(_ context.Context, id uuid.UUID, expiresAt, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.rows[id]
	if !ok || d.Status != StatusActive || !d.ExpiresAt.Equal(expiresAt) || d.RemindedAt != nil {
		return false, nil
	}
	d.RemindedAt = &at
	d.UpdatedAt = at
	r.rows[id] = d
	return true, nil
}

func (r *MemoryRepository) countLocked(fingerprint string, status Status) int {
	n := 0
	for _, d := range r.rows {
		if d.Fingerprint == fingerprint && d.Status == status {
			n++
		}
	}
	return n
}

func (r *MemoryRepository) filterLocked(keep func(Deployment) bool) []Deployment {
	var out []Deployment
	for _, d := range r.rows {
		if keep(d) {
			out = append(out, clone(d))
		}
	}
	return out
}

func truncate(ds []Deployment, limit int) []Deployment {
	if limit > 0 && len(ds) > limit {
		return ds[:limit]
	}
	return ds
}

func clone(d Deployment) Deployment {
	out := d
	out.NotifyEmail = clonePtr(d.NotifyEmail)
	out.ArchivedAt = clonePtr(d.ArchivedAt)
	out.DeletedAt = clonePtr(d.DeletedAt)
	out.LastExtendedAt = clonePtr(d.LastExtendedAt)
	out.RemindedAt = clonePtr(d.RemindedAt)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
