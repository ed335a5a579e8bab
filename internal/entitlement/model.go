package entitlement

import (
	"time"

	"github.com/daap14/pagelease/internal/plan"
)

// Entitlement represents a row in the entitlements table. The effective tier
// is never stored; it is derived from the two horizons at read time.
type Entitlement struct {
	Fingerprint    string
	SupporterUntil *time.Time
	BusinessUntil  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TierAt returns the tier in force at now.
func (e *Entitlement) TierAt(now time.Time) plan.Tier {
	if e == nil {
		return plan.TierFree
	}
	if e.BusinessUntil != nil && e.BusinessUntil.After(now) {
		return plan.TierBusiness
	}
	if e.SupporterUntil != nil && e.SupporterUntil.After(now) {
		return plan.TierSupporter
	}
	return plan.TierFree
}

// Horizon returns the stored horizon for a paid tier, or nil.
func (e *Entitlement) Horizon(t plan.Tier) *time.Time {
	if e == nil {
		return nil
	}
	switch t {
	case plan.TierSupporter:
		return e.SupporterUntil
	case plan.TierBusiness:
		return e.BusinessUntil
	}
	return nil
}

// withHorizon returns a copy of e with the horizon of t set to until.
func (e *Entitlement) withHorizon(fp string, t plan.Tier, until time.Time) *Entitlement {
	out := Entitlement{Fingerprint: fp}
	if e != nil {
		out = *e
	}
	switch t {
	case plan.TierSupporter:
		out.SupporterUntil = &until
	case plan.TierBusiness:
		out.BusinessUntil = &until
	}
	return &out
}

// View is the read model returned to callers.
type View struct {
	Fingerprint    string     `json:"fingerprint"`
	Tier           plan.Tier  `json:"tier"`
	SupporterUntil *time.Time `json:"supporterUntil"`
	BusinessUntil  *time.Time `json:"businessUntil"`
}

func viewOf(fp string, e *Entitlement, now time.Time) View {
	v := View{Fingerprint: fp, Tier: e.TierAt(now)}
	if e != nil {
		v.SupporterUntil = e.SupporterUntil
		v.BusinessUntil = e.BusinessUntil
	}
	return v
}
