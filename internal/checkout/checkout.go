package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"

	"github.com/daap14/pagelease/internal/plan"
)

// Session metadata keys written at checkout and read back by the webhook.
const (
	MetaAction       = "action"
	MetaFingerprint  = "fingerprint"
	MetaTier         = "tier"
	MetaMonths       = "months"
	MetaDeploymentID = "deployment_id"
)

// Checkout actions.
const (
	ActionTier   = "tier"
	ActionExtend = "extend"
)

var (
	ErrNotConfigured   = errors.New("checkout not configured")
	ErrUnsupportedPlan = errors.New("unsupported plan")
	ErrSessionFailed   = errors.New("checkout session creation failed")
)

// Session is the hosted checkout page a buyer is redirected to.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Service creates Stripe Checkout sessions for tier purchases and
// per-deployment extensions.
type Service struct {
	apiKey  string
	siteURL string

	createCheckoutSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewService creates a checkout Service. An empty apiKey leaves it unconfigured.
func NewService(apiKey, siteURL string) *Service {
	return &Service{
		apiKey:                strings.TrimSpace(apiKey),
		siteURL:               strings.TrimRight(strings.TrimSpace(siteURL), "/"),
		createCheckoutSession: stripesession.New,
	}
}

// WithSessionFunc replaces the Stripe session constructor.
func (s *Service) WithSessionFunc(fn func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)) *Service {
	s.createCheckoutSession = fn
	return s
}

// Configured reports whether a Stripe API key is set.
func (s *Service) Configured() bool {
	return s.apiKey != ""
}

// ForTier opens a checkout for months of a paid tier.
func (s *Service) ForTier(ctx context.Context, fingerprint string, tier plan.Tier, months int) (Session, error) {
	amount, ok := plan.PriceFor(tier, months)
	if !ok {
		return Session{}, fmt.Errorf("%w: %s for %d months", ErrUnsupportedPlan, tier, months)
	}

	return s.create(ctx, amount, productName(tier, months), "/deployments?entitlement", map[string]string{
		MetaAction:      ActionTier,
		MetaFingerprint: fingerprint,
		MetaTier:        string(tier),
		MetaMonths:      fmt.Sprint(months),
	})
}

// ForDeployment opens a checkout extending one deployment by months at the
// business rate.
func (s *Service) ForDeployment(ctx context.Context, fingerprint string, deploymentID uuid.UUID, months int) (Session, error) {
	amount, ok := plan.PriceFor(plan.TierBusiness, months)
	if !ok {
		return Session{}, fmt.Errorf("%w: extension of %d months", ErrUnsupportedPlan, months)
	}

	return s.create(ctx, amount, fmt.Sprintf("Extend hosting %d month%s", months, plural(months)), "/deployments?extend", map[string]string{
		MetaAction:       ActionExtend,
		MetaFingerprint:  fingerprint,
		MetaTier:         string(plan.TierBusiness),
		MetaMonths:       fmt.Sprint(months),
		MetaDeploymentID: deploymentID.String(),
	})
}

func (s *Service) create(ctx context.Context, amount int64, name, returnPath string, metadata map[string]string) (Session, error) {
	if !s.Configured() {
		return Session{}, ErrNotConfigured
	}

	stripe.Key = s.apiKey
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(s.siteURL + returnPath + "=success"),
		CancelURL:  stripe.String(s.siteURL + returnPath + "=cancel"),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(plan.Currency)),
					UnitAmount: stripe.Int64(amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(name),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: metadata,
	}
	params.Context = ctx

	session, err := s.createCheckoutSession(params)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrSessionFailed, err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return Session{}, fmt.Errorf("%w: empty session url", ErrSessionFailed)
	}
	return Session{ID: session.ID, URL: session.URL}, nil
}

func productName(tier plan.Tier, months int) string {
	return fmt.Sprintf("%s%s hosting, %d month%s", strings.ToUpper(string(tier[:1])), tier[1:], months, plural(months))
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
