package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WEBHOOK_TIMEOUT_SECONDS", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	t.Setenv("EXPIRY_SWEEP_INTERVAL", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("OTEL_SAMPLING_RATIO", "")

	cfg := Load()
	assert.Equal(t, 10*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, "info", cfg.Telemetry.LogLevel)
	assert.Equal(t, 0.1, cfg.Telemetry.SamplingRatio)
	assert.Equal(t, time.Hour, cfg.Sweep.Interval)
	assert.Empty(t, cfg.Providers.StripeSecret)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WEBHOOK_TIMEOUT_SECONDS", "3")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "  whsec_test ")
	t.Setenv("EXPIRY_SWEEP_INTERVAL", "15m")
	t.Setenv("EXPIRY_SWEEP_GRACE", "120")
	t.Setenv("REDIS_DB", "nope")
	t.Setenv("LOG_LEVEL", " DEBUG ")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.5")

	cfg := Load()
	assert.Equal(t, 3*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, "whsec_test", cfg.Providers.StripeSecret)
	assert.Equal(t, 15*time.Minute, cfg.Sweep.Interval)
	assert.Equal(t, 2*time.Minute, cfg.Sweep.Grace)
	assert.Equal(t, 0, cfg.RedisDB)
	assert.Equal(t, "debug", cfg.Telemetry.LogLevel)
	assert.Equal(t, 0.5, cfg.Telemetry.SamplingRatio)
}

func TestPlanConfigBillingPeriod(t *testing.T) {
	assert.Equal(t, 90*24*time.Hour, DefaultPlanConfig().BillingPeriod())
	assert.Equal(t, 30*24*time.Hour, PlanConfig{BillingPeriodDays: 30}.BillingPeriod())
	assert.Equal(t, 90*24*time.Hour, PlanConfig{}.BillingPeriod())
}

func TestNewPlanConfigHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plan.yml"), []byte("plan:\n  billingPeriodDays: 30\n"), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	holder, err := NewPlanConfigHolder(zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 30, holder.Get().BillingPeriodDays)
}

func TestNewPlanConfigHolderRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plan.yml"), []byte("plan:\n  billingPeriodDays: 0\n"), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	_, err = NewPlanConfigHolder(zap.NewNop())
	assert.Error(t, err)
}
