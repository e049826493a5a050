package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_RequiresPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, "bot:\n  token: \"123:abc\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Bot.Token)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 15*time.Second, cfg.Initiator.IdleTimeout)
	assert.Equal(t, 180*time.Second, cfg.Initiator.ClaimTTL)
	assert.Equal(t, 10, cfg.RateLimit.UserOperations.MaxRequests)
	assert.Equal(t, time.Hour, cfg.RateLimit.UserOperations.Window)
	assert.Equal(t, time.Minute, cfg.Scheduler.ValidationBuffer)
	assert.Equal(t, "+03:00", cfg.Scheduler.Timezone)
	assert.Equal(t, time.Second, cfg.Scheduler.PastTolerance)
	assert.Same(t, cfg, Get())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "redis:\n  address: \"file:6379\"\n")
	t.Setenv("POSTPLANNER_REDIS_ADDRESS", "env:6379")
	t.Setenv("POSTPLANNER_INITIATOR_IDLE_TIMEOUT", "30s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env:6379", cfg.Redis.Address)
	assert.Equal(t, 30*time.Second, cfg.Initiator.IdleTimeout)
}

func TestLoad_RejectsIdleTimeoutAboveClaimTTL(t *testing.T) {
	path := writeConfig(t, "initiator:\n  idle_timeout: \"5m\"\n  claim_ttl: \"1m\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idle_timeout")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database:  DatabaseConfig{Driver: "mysql"},
			RateLimit: RateLimitConfig{UserOperations: LimitConfig{MaxRequests: 3, Window: time.Minute}},
			Initiator: InitiatorConfig{IdleTimeout: 15 * time.Second, ClaimTTL: 3 * time.Minute},
		}
	}

	require.NoError(t, valid().Validate())

	c := valid()
	c.Database.Driver = "postgres"
	assert.Error(t, c.Validate())

	c = valid()
	c.RateLimit.UserOperations.MaxRequests = 0
	assert.Error(t, c.Validate())

	c = valid()
	c.RateLimit.UserOperations.Window = 0
	assert.Error(t, c.Validate())

	c = valid()
	c.Initiator.ClaimTTL = 0
	assert.Error(t, c.Validate())

	c = valid()
	c.Scheduler.ValidationBuffer = -time.Second
	assert.Error(t, c.Validate())

	c = valid()
	c.Scheduler.PastTolerance = -time.Second
	assert.Error(t, c.Validate())
}
