package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/daap14/pagelease/internal/plan"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	Port        int    `envconfig:"PORT" default:"8080"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	DatabaseURL string `envconfig:"DATABASE_URL" default:""`
	AutoMigrate bool   `envconfig:"AUTO_MIGRATE" default:"true"`
	Version     string `envconfig:"VERSION" default:"dev"`

	SweepIntervalSeconds   int `envconfig:"SWEEP_INTERVAL" default:"0"`
	GraceDays              int `envconfig:"GRACE_DAYS" default:"7"`
	ReminderDays           int `envconfig:"REMINDER_DAYS" default:"3"`
	FreeActiveLimit        int `envconfig:"FREE_ACTIVE_LIMIT" default:"3"`
	HostingDaysFree        int `envconfig:"HOSTING_DAYS_FREE" default:"21"`
	HostingDaysSupporter   int `envconfig:"HOSTING_DAYS_SUPPORTER" default:"90"`
	HostingDaysBusiness    int `envconfig:"HOSTING_DAYS_BUSINESS" default:"365"`
	ExternalTimeoutSeconds int `envconfig:"EXTERNAL_TIMEOUT" default:"30"`

	CronToken    string `envconfig:"CRON_TOKEN" default:""`
	RedeemSecret string `envconfig:"REDEEM_SECRET" default:""`
	BcryptCost   int    `envconfig:"BCRYPT_COST" default:"12"`

	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY" default:""`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET" default:""`
	BMCWebhookSecret    string `envconfig:"BMC_WEBHOOK_SECRET" default:""`
	SiteURL             string `envconfig:"SITE_URL" default:"http://localhost:3000"`

	GitHubToken string `envconfig:"GITHUB_TOKEN" default:""`
	GitHubOrg   string `envconfig:"GITHUB_ORG" default:""`

	PostmarkToken string `envconfig:"POSTMARK_TOKEN" default:""`
	EmailFrom     string `envconfig:"EMAIL_FROM" default:""`
}

// Load reads an optional .env file, then configuration from environment
// variables into a Config struct.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	for name, v := range map[string]int{
		"HOSTING_DAYS_FREE":      c.HostingDaysFree,
		"HOSTING_DAYS_SUPPORTER": c.HostingDaysSupporter,
		"HOSTING_DAYS_BUSINESS":  c.HostingDaysBusiness,
		"EXTERNAL_TIMEOUT":       c.ExternalTimeoutSeconds,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	for name, v := range map[string]int{
		"SWEEP_INTERVAL":    c.SweepIntervalSeconds,
		"GRACE_DAYS":        c.GraceDays,
		"REMINDER_DAYS":     c.ReminderDays,
		"FREE_ACTIVE_LIMIT": c.FreeActiveLimit,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", name, v))
		}
	}
	if (c.GitHubToken == "") != (c.GitHubOrg == "") {
		errs = append(errs, errors.New("GITHUB_TOKEN and GITHUB_ORG must be set together"))
	}
	return errors.Join(errs...)
}

// Policy returns the hosting rules described by the configuration.
func (c *Config) Policy() plan.Policy {
	return plan.Policy{
		HostingDays: map[plan.Tier]int{
			plan.TierFree:      c.HostingDaysFree,
			plan.TierSupporter: c.HostingDaysSupporter,
			plan.TierBusiness:  c.HostingDaysBusiness,
		},
		FreeActiveLimit: c.FreeActiveLimit,
		GracePeriod:     time.Duration(c.GraceDays) * 24 * time.Hour,
		ReminderWindow:  time.Duration(c.ReminderDays) * 24 * time.Hour,
	}
}

// SweepInterval is the period of the in-process sweep loop; zero disables it.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// ExternalTimeout bounds each publisher and email call.
func (c *Config) ExternalTimeout() time.Duration {
	return time.Duration(c.ExternalTimeoutSeconds) * time.Second
}
