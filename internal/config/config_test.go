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
	setEnv(t, "ENV", "development")
	setEnv(t, "PORT", "9090")
	setEnv(t, "AUTO_RELEASE_WINDOW", "48h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultMinOrderAmount, cfg.MinOrderAmount)
	assert.Equal(t, 48*time.Hour, cfg.AutoReleaseWindow)
	assert.Equal(t, DefaultOutboxInterval, cfg.OutboxInterval)
}

func TestLoad_ProductionRequiresAdminSecret(t *testing.T) {
	setEnv(t, "ENV", "production")
	setEnv(t, "ADMIN_SECRET", "")
	setEnv(t, "RECEIPT_SIGNING_KEY", "k")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_SECRET is required")
}

func TestLoad_ProductionRequiresSigningKey(t *testing.T) {
	setEnv(t, "ENV", "production")
	setEnv(t, "ADMIN_SECRET", "s3cret")
	setEnv(t, "RECEIPT_SIGNING_KEY", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "RECEIPT_SIGNING_KEY is required")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid development config",
			config: Config{
				Env:               "development",
				AutoReleaseWindow: DefaultAutoReleaseWindow,
				OutboxInterval:    DefaultOutboxInterval,
			},
			wantErr: "",
		},
		{
			name: "valid production config",
			config: Config{
				Env:               "production",
				AdminSecret:       "s3cret",
				ReceiptSigningKey: "k",
				AutoReleaseWindow: DefaultAutoReleaseWindow,
				OutboxInterval:    DefaultOutboxInterval,
			},
			wantErr: "",
		},
		{
			name: "auto-release window too small",
			config: Config{
				Env:               "development",
				AutoReleaseWindow: time.Second,
				OutboxInterval:    DefaultOutboxInterval,
			},
			wantErr: "AUTO_RELEASE_WINDOW",
		},
		{
			name: "outbox interval too small",
			config: Config{
				Env:               "development",
				AutoReleaseWindow: DefaultAutoReleaseWindow,
				OutboxInterval:    time.Millisecond,
			},
			wantErr: "OUTBOX_INTERVAL",
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
	setEnv(t, "TEST_BAD_DUR", "soon")

	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DUR", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("NONEXISTENT_VAR", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("TEST_BAD_DUR", time.Minute))
}
