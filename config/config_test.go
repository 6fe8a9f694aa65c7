package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:   ServerConfig{Env: "production"},
			Auth:     AuthConfig{JWTSecret: "s3cr3t-rotated"},
			Business: BusinessConfig{HoldLeaseSeconds: 900, HoldMaxLeaseSeconds: 3600},
		}
	}

	require.NoError(t, base().Validate())

	t.Run("default secret in production", func(t *testing.T) {
		cfg := base()
		cfg.Auth.JWTSecret = DefaultJWTSecret
		assert.Error(t, cfg.Validate())

		cfg.Auth.JWTSecret = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("default secret in development", func(t *testing.T) {
		cfg := base()
		cfg.Server.Env = "development"
		cfg.Auth.JWTSecret = DefaultJWTSecret
		assert.NoError(t, cfg.Validate())
	})

	t.Run("default lease above maximum", func(t *testing.T) {
		cfg := base()
		cfg.Business.HoldLeaseSeconds = 7200
		assert.Error(t, cfg.Validate())
	})
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("HOLD_MAX_LEASE_SECONDS", "")

	cfg := Load()
	assert.Equal(t, DefaultJWTSecret, cfg.Auth.JWTSecret)
	assert.Equal(t, 3600, cfg.Business.HoldMaxLeaseSeconds)
}
