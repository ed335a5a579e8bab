package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	specpkg "github.com/daap14/pagelease/api"
	"github.com/daap14/pagelease/internal/api"
	"github.com/daap14/pagelease/internal/api/handler"
	"github.com/daap14/pagelease/internal/auth"
	"github.com/daap14/pagelease/internal/checkout"
	"github.com/daap14/pagelease/internal/config"
	"github.com/daap14/pagelease/internal/database"
	"github.com/daap14/pagelease/internal/deployment"
	"github.com/daap14/pagelease/internal/entitlement"
	"github.com/daap14/pagelease/internal/notify"
	"github.com/daap14/pagelease/internal/payment"
	"github.com/daap14/pagelease/internal/publisher"
	"github.com/daap14/pagelease/internal/scheduler"
)

// app is the wired engine: stores, lifecycle manager, payment reconciler
// and sweeper, backed by Postgres when DATABASE_URL is set and by memory
// otherwise.
type app struct {
	cfg *config.Config
	db  *database.DB

	entitlements *entitlement.Store
	deployments  *deployment.Manager
	payments     *payment.Reconciler
	sweeper      *scheduler.Sweeper
	checkout     *checkout.Service
	cronToken    *auth.StaticToken
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	var (
		entRepo entitlement.Repository
		depRepo deployment.Repository
		payRepo payment.Repository
		tx      payment.Transactor
	)

	if cfg.DatabaseURL != "" {
		if cfg.AutoMigrate {
			if err := database.Migrate(cfg.DatabaseURL); err != nil {
				return nil, fmt.Errorf("running migrations: %w", err)
			}
		}

		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		a.db = db

		entRepo = entitlement.NewPostgresRepository(db.Pool())
		depRepo = deployment.NewPostgresRepository(db.Pool())
		payRepo = payment.NewPostgresRepository(db.Pool())
		tx = db
	} else {
		slog.Warn("DATABASE_URL not set; using in-memory storage, state is lost on restart")
		entRepo = entitlement.NewMemoryRepository()
		depRepo = deployment.NewMemoryRepository()
		payRepo = payment.NewMemoryRepository()
		tx = database.Passthrough{}
	}

	policy := cfg.Policy()
	a.entitlements = entitlement.NewStore(entRepo)
	a.deployments = deployment.NewManager(depRepo, newPublisher(cfg), a.entitlements, policy,
		deployment.WithExternalTimeout(cfg.ExternalTimeout()))
	a.payments = payment.NewReconciler(payRepo, tx, a.entitlements, a.deployments)

	// A nil *Mailer must not reach the sweeper as a non-nil interface.
	var notifier scheduler.Notifier
	if mailer := newMailer(cfg); mailer != nil {
		notifier = mailer
	}
	a.sweeper = scheduler.New(a.deployments, notifier, cfg.SweepInterval())

	a.checkout = checkout.NewService(cfg.StripeSecretKey, cfg.SiteURL)
	if !a.checkout.Configured() {
		slog.Info("STRIPE_SECRET_KEY not set; checkout endpoints will report not configured")
	}

	cronToken, err := auth.NewStaticToken(cfg.CronToken, cfg.BcryptCost)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("preparing cron token: %w", err)
	}
	a.cronToken = cronToken

	return a, nil
}

func newPublisher(cfg *config.Config) publisher.Publisher {
	if cfg.GitHubToken != "" {
		slog.Info("publishing sites to GitHub Pages", "org", cfg.GitHubOrg)
		return publisher.NewGitHubPublisher(cfg.GitHubToken, cfg.GitHubOrg)
	}
	slog.Warn("GITHUB_TOKEN not set; sites are only logged, not published")
	return publisher.LogPublisher{BaseURL: cfg.SiteURL + "/sites"}
}

func newMailer(cfg *config.Config) *notify.Mailer {
	if cfg.EmailFrom == "" {
		return nil
	}
	if cfg.PostmarkToken == "" {
		return notify.NewMailer(notify.LogSender{}, cfg.EmailFrom)
	}
	return notify.NewMailer(notify.NewPostmarkSender(cfg.PostmarkToken), cfg.EmailFrom)
}

// Router builds the HTTP handler over the wired engine.
func (a *app) Router() http.Handler {
	var pinger handler.DBPinger
	if a.db != nil {
		pinger = a.db
	}

	return api.NewRouter(api.RouterDeps{
		DBPinger:    pinger,
		Version:     a.cfg.Version,
		OpenAPISpec: specpkg.OpenAPISpec,
		Policy:      a.cfg.Policy(),

		Lifecycle:    a.deployments,
		Entitlements: a.entitlements,
		Payments:     a.payments,
		Claims:       a.payments,
		Sweeper:      a.sweeper,
		Checkout:     a.checkout,

		CronToken:           a.cronToken,
		RedeemSecret:        a.cfg.RedeemSecret,
		StripeWebhookSecret: a.cfg.StripeWebhookSecret,
		BMCWebhookSecret:    a.cfg.BMCWebhookSecret,
	})
}

// Mode names the storage backend.
func (a *app) Mode() string {
	if a.db != nil {
		return "postgres"
	}
	return "memory"
}

// Close releases the database pool, if any.
func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}
