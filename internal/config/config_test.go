package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("FRAUD_MAX_COMPLETIONS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(1000), cfg.Ledger.CoinRatio)
	assert.Equal(t, "100", cfg.Ledger.MinWithdrawINR.String())
	assert.Equal(t, 5, cfg.Fraud.MaxCompletions)
	assert.Equal(t, time.Minute, cfg.Fraud.Window)
	assert.Equal(t, "@every 24h", cfg.Referral.SweepSchedule)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("FRAUD_MAX_COMPLETIONS", "9")
	t.Setenv("FRAUD_WINDOW", "2m")
	t.Setenv("REFERRAL_SWEEP_SCHEDULE", "0 3 * * *")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Fraud.MaxCompletions)
	assert.Equal(t, 2*time.Minute, cfg.Fraud.Window)
	assert.Equal(t, "0 3 * * *", cfg.Referral.SweepSchedule)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestValidate_Production(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{Env: "production"},
		Fraud:     DefaultFraudConfig(),
		RateLimit: RateLimitConfig{Requests: 60, Window: time.Minute},
	}
	assert.ErrorContains(t, cfg.Validate(), "JWT_SECRET")

	cfg.JWT.Secret = "s"
	assert.ErrorContains(t, cfg.Validate(), "TASK_WEBHOOK_SECRET")

	cfg.Webhook.TaskSecret = "w"
	assert.ErrorContains(t, cfg.Validate(), "RAZORPAY")

	cfg.Razorpay = RazorpayConfig{KeyID: "k", KeySecret: "s"}
	assert.NoError(t, cfg.Validate())
}

func TestValidate_FraudLimits(t *testing.T) {
	cfg := &Config{
		Fraud:     FraudConfig{MaxCompletions: 0, Window: time.Minute},
		RateLimit: RateLimitConfig{Requests: 60},
	}
	assert.Error(t, cfg.Validate())

	cfg.Fraud = FraudConfig{MaxCompletions: 5}
	assert.Error(t, cfg.Validate())

	cfg.Fraud = DefaultFraudConfig()
	assert.NoError(t, cfg.Validate())

	cfg.RateLimit.Requests = 0
	assert.ErrorContains(t, cfg.Validate(), "API_RATE_LIMIT")
}
