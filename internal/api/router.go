package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daap14/pagelease/internal/api/handler"
	"github.com/daap14/pagelease/internal/api/middleware"
	"github.com/daap14/pagelease/internal/auth"
	"github.com/daap14/pagelease/internal/plan"
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	DBPinger    handler.DBPinger
	Version     string
	OpenAPISpec []byte
	Policy      plan.Policy

	Lifecycle    handler.Lifecycle
	Entitlements handler.EntitlementReader
	Payments     handler.PaymentApplier
	Claims       handler.Claimer
	Sweeper      handler.SweepRunner
	Checkout     handler.CheckoutCreator

	CronToken           *auth.StaticToken
	RedeemSecret        string
	StripeWebhookSecret string
	BMCWebhookSecret    string
}

// NewRouter creates and configures a Chi router with all middleware and routes.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(chimiddleware.Logger)

	healthHandler := handler.NewHealthHandler(deps.DBPinger, deps.Version)
	r.Get("/health", healthHandler.ServeHTTP)
	r.Method("GET", "/metrics", promhttp.Handler())

	if len(deps.OpenAPISpec) > 0 {
		openapiHandler := handler.NewOpenAPIHandler(deps.OpenAPISpec)
		r.Get("/openapi.json", openapiHandler.ServeHTTP)
	}

	if deps.Lifecycle != nil {
		deploymentHandler := handler.NewDeploymentHandler(deps.Lifecycle)
		r.Route("/deployments", func(r chi.Router) {
			r.Use(middleware.Fingerprint)
			r.Post("/", deploymentHandler.Create)
			r.Get("/", deploymentHandler.List)
			r.Get("/{id}", deploymentHandler.GetByID)
			r.Post("/{id}/extend", deploymentHandler.Extend)
			r.Post("/{id}/archive", deploymentHandler.Archive)
			r.Post("/{id}/unarchive", deploymentHandler.Unarchive)
			r.Post("/{id}/delete", deploymentHandler.Delete)
		})
	}

	if deps.Entitlements != nil && deps.Lifecycle != nil {
		entitlementHandler := handler.NewEntitlementHandler(deps.Entitlements, deps.Lifecycle, deps.Policy)
		r.Get("/entitlements/{fingerprint}", entitlementHandler.Get)
	}

	if deps.Payments != nil {
		r.Method("POST", "/webhooks/stripe", handler.NewStripeWebhookHandler(deps.StripeWebhookSecret, deps.Payments))
		r.Method("POST", "/webhooks/bmc", handler.NewBMCWebhookHandler(deps.BMCWebhookSecret, deps.Payments))
	}

	if deps.Claims != nil {
		r.Method("POST", "/redeem", handler.NewRedeemHandler(deps.RedeemSecret, deps.Claims))
	}

	if deps.Sweeper != nil {
		r.With(middleware.BearerToken(deps.CronToken)).
			Method("POST", "/cron/sweep", handler.NewSweepHandler(deps.Sweeper))
	}

	if deps.Checkout != nil && deps.Lifecycle != nil {
		checkoutHandler := handler.NewCheckoutHandler(deps.Checkout, deps.Lifecycle)
		r.Post("/checkout/tier", checkoutHandler.Tier)
		r.With(middleware.Fingerprint).Post("/checkout/extend", checkoutHandler.Extend)
	}

	return r
}
