package plan

import (
	"fmt"
	"strings"
	"time"
)

// Tier is a hosting service level.
type Tier string

const (
	TierFree      Tier = "free"
	TierSupporter Tier = "supporter"
	TierBusiness  Tier = "business"
)

// Currency is the currency all offers are priced in.
const Currency = "GBP"

// ParseTier resolves a tier name. Unknown names report false.
func ParseTier(s string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierFree:
		return TierFree, true
	case TierSupporter:
		return TierSupporter, true
	case TierBusiness:
		return TierBusiness, true
	}
	return "", false
}

// Paid reports whether the tier can be purchased.
func (t Tier) Paid() bool {
	return t == TierSupporter || t == TierBusiness
}

// Offer is a purchasable extension length and its price in minor units.
type Offer struct {
	Months      int   `json:"months"`
	AmountCents int64 `json:"amountCents"`
}

var offers = map[Tier][]Offer{
	TierSupporter: {{Months: 3, AmountCents: 500}, {Months: 6, AmountCents: 1000}},
	TierBusiness:  {{Months: 3, AmountCents: 500}, {Months: 6, AmountCents: 1000}},
}

// Offers returns the extension offers for a paid tier.
func Offers(t Tier) []Offer {
	return offers[t]
}

// PriceFor returns the price of extending tier t by months, or false when
// no such offer exists.
func PriceFor(t Tier, months int) (int64, bool) {
	for _, o := range offers[t] {
		if o.Months == months {
			return o.AmountCents, true
		}
	}
	return 0, false
}

// MonthsForAmount maps a paid amount onto the longest offer it covers.
// Amounts below the cheapest offer fall back to the cheapest offer.
func MonthsForAmount(t Tier, amountCents int64) int {
	list := offers[t]
	if len(list) == 0 {
		return 0
	}
	months := list[0].Months
	for _, o := range list {
		if amountCents >= o.AmountCents && o.Months > months {
			months = o.Months
		}
	}
	return months
}

// Label names a tier purchase for the payment ledger, e.g. "business-6m".
func Label(t Tier, months int) string {
	return fmt.Sprintf("%s-%dm", t, months)
}

// Policy holds the hosting rules applied by the lifecycle engine.
type Policy struct {
	HostingDays     map[Tier]int
	FreeActiveLimit int
	GracePeriod     time.Duration
	ReminderWindow  time.Duration
}

// DefaultPolicy returns the standard hosting rules.
func DefaultPolicy() Policy {
	return Policy{
		HostingDays: map[Tier]int{
			TierFree:      21,
			TierSupporter: 90,
			TierBusiness:  365,
		},
		FreeActiveLimit: 3,
		GracePeriod:     7 * day,
		ReminderWindow:  3 * day,
	}
}

// HostingWindow returns the number of days a deployment stays live for tier t.
// Unknown tiers get the free window.
func (p Policy) HostingWindow(t Tier) int {
	if d, ok := p.HostingDays[t]; ok {
		return d
	}
	return p.HostingDays[TierFree]
}
