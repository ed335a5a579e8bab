package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daap14/pagelease/internal/config"
	"github.com/daap14/pagelease/internal/plan"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, "http://localhost:3000", cfg.SiteURL)
	assert.Equal(t, time.Duration(0), cfg.SweepInterval())
	assert.Equal(t, 30*time.Second, cfg.ExternalTimeout())
	assert.Equal(t, plan.DefaultPolicy(), cfg.Policy())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SWEEP_INTERVAL", "60")
	t.Setenv("GRACE_DAYS", "2")
	t.Setenv("FREE_ACTIVE_LIMIT", "1")
	t.Setenv("HOSTING_DAYS_FREE", "7")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, time.Minute, cfg.SweepInterval())

	p := cfg.Policy()
	assert.Equal(t, 2*24*time.Hour, p.GracePeriod)
	assert.Equal(t, 1, p.FreeActiveLimit)
	assert.Equal(t, 7, p.HostingWindow(plan.TierFree))
	assert.Equal(t, 90, p.HostingWindow(plan.TierSupporter))
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "non-numeric port", env: map[string]string{"PORT": "http"}},
		{name: "zero hosting window", env: map[string]string{"HOSTING_DAYS_BUSINESS": "0"}},
		{name: "negative grace", env: map[string]string{"GRACE_DAYS": "-1"}},
		{name: "github org without token", env: map[string]string{"GITHUB_ORG": "pages"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}
