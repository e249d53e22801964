package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("LEASE_TTL", "")
	t.Setenv("COMMIT_MAX_ATTEMPTS", "")
	t.Setenv("LEASE_BACKEND", "")

	LoadConfig()

	assert.Equal(t, "secret", AppConfig.JWTSecret)
	assert.Equal(t, 15*time.Minute, AppConfig.LeaseTTL)
	assert.Equal(t, 3, AppConfig.CommitMaxAttempts)
	assert.Equal(t, "postgres", AppConfig.LeaseBackend)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("LEASE_TTL", "90")
	t.Setenv("COMMIT_MAX_ATTEMPTS", "5")
	t.Setenv("LEASE_BACKEND", "redis")

	LoadConfig()

	assert.Equal(t, 90*time.Second, AppConfig.LeaseTTL)
	assert.Equal(t, 5, AppConfig.CommitMaxAttempts)
	assert.Equal(t, "redis", AppConfig.LeaseBackend)
}

func TestGetEnvDuration_Invalid(t *testing.T) {
	t.Setenv("AUTOSAVE_INTERVAL", "soon")

	cfg := LoadClientConfig()

	assert.Equal(t, 10*time.Second, cfg.AutosaveInterval)
}

func TestGeneratedSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	LoadConfig()

	assert.Len(t, AppConfig.JWTSecret, 64)
}
