package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, 10, cfg.MaxConcurrentUsers)
	assert.Equal(t, 10*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, 5*time.Minute, cfg.CheckoutTimeout)
	assert.Equal(t, 2*time.Second, cfg.QueuePositionUpdate)
	assert.True(t, cfg.EnableMetrics)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_USERS", "250")
	t.Setenv("SESSION_TIMEOUT", "30m")
	t.Setenv("ENABLE_METRICS", "false")

	cfg := LoadConfig()

	assert.Equal(t, 250, cfg.MaxConcurrentUsers)
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout)
	assert.False(t, cfg.EnableMetrics)
}

func TestGetEnvAsDuration_InvalidFallsBackToDefault(t *testing.T) {
	t.Setenv("CHECKOUT_TIMEOUT", "not-a-duration")

	cfg := LoadConfig()

	assert.Equal(t, 5*time.Minute, cfg.CheckoutTimeout)
}
