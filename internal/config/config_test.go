package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "MIDTRANS_SERVER_KEY", "SB-Mid-server-test")
	setEnv(t, "PORT", "9090")
	setEnv(t, "POINTS_USAGE_COST", "3")
	setEnv(t, "STALE_SWEEP_INTERVAL", "5m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultGateway, cfg.Gateway)
	assert.Equal(t, DefaultMidtransBaseURL, cfg.MidtransBaseURL)
	assert.Equal(t, 3, cfg.UsageCost)
	assert.Equal(t, 5*time.Minute, cfg.StaleSweepEvery)
}

func TestLoad_MissingMidtransKey(t *testing.T) {
	setEnv(t, "PAYMENT_GATEWAY", "midtrans")
	setEnv(t, "MIDTRANS_SERVER_KEY", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "MIDTRANS_SERVER_KEY is required")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid midtrans config",
			config: Config{
				Gateway:           "midtrans",
				MidtransServerKey: "SB-Mid-server-test",
				UsageCost:         1,
			},
			wantErr: "",
		},
		{
			name: "valid stripe config",
			config: Config{
				Gateway:         "stripe",
				StripeSecretKey: "sk_test_123",
				UsageCost:       1,
			},
			wantErr: "",
		},
		{
			name: "stripe without secret key",
			config: Config{
				Gateway:   "stripe",
				UsageCost: 1,
			},
			wantErr: "STRIPE_SECRET_KEY is required",
		},
		{
			name: "unknown gateway",
			config: Config{
				Gateway:   "paypal",
				UsageCost: 1,
			},
			wantErr: "unknown PAYMENT_GATEWAY",
		},
		{
			name: "non-positive usage cost",
			config: Config{
				Gateway:           "midtrans",
				MidtransServerKey: "SB-Mid-server-test",
				UsageCost:         0,
			},
			wantErr: "POINTS_USAGE_COST must be positive",
		},
		{
			name: "notify url without secret",
			config: Config{
				Gateway:           "midtrans",
				MidtransServerKey: "SB-Mid-server-test",
				UsageCost:         1,
				NotifyURL:         "https://main-app.example/hooks/points",
			},
			wantErr: "NOTIFY_SECRET is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvDuration(t *testing.T) {
	setEnv(t, "TEST_DUR", "90s")
	setEnv(t, "TEST_DUR_BAD", "soon")

	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DUR", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("NONEXISTENT_VAR", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("TEST_DUR_BAD", time.Minute))
}
