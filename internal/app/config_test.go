package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.True(t, cfg.CheckClientIP)
	assert.Equal(t, "CN", cfg.DNUsernameComponent)
	assert.Equal(t, "*", cfg.AllowedKrbRealms)
	assert.False(t, cfg.LoginCreatesUser)
	assert.Equal(t, 5*time.Minute, cfg.SessionSweepInterval)
	assert.Equal(t, 48*time.Hour, cfg.SessionMaxIdle)
	assert.Equal(t, 30, cfg.LoginRateLimit)
	assert.Equal(t, ":8081", cfg.WorkerAddr)
	assert.Contains(t, cfg.RetryWhitelist, "host.taskWait")
	assert.Contains(t, cfg.RetryWhitelist, "repoExpire")
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("CHECK_CLIENT_IP", "false")
	t.Setenv("RETRY_WHITELIST", "a.method,b.method")
	t.Setenv("ALLOWED_KRB_REALMS", "EXAMPLE.COM")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.CheckClientIP)
	assert.Equal(t, []string{"a.method", "b.method"}, cfg.RetryWhitelist)
	assert.Equal(t, "EXAMPLE.COM", cfg.AllowedKrbRealms)
}

func TestAuthConfigProjection(t *testing.T) {
	cfg := &Config{
		CheckClientIP:       true,
		DNUsernameComponent: "UID",
		ProxyDNs:            "CN=hub|CN=web",
		AllowedKrbRealms:    "EXAMPLE.COM",
		LoginCreatesUser:    true,
		RetryWhitelist:      []string{"host.updateHost"},
	}
	ac := cfg.AuthConfig()

	assert.True(t, ac.CheckClientIP)
	assert.Equal(t, "UID", ac.DNUsernameComponent)
	assert.Equal(t, "CN=hub|CN=web", ac.ProxyDNs)
	assert.Equal(t, "EXAMPLE.COM", ac.AllowedKrbRealms)
	assert.True(t, ac.LoginCreatesUser)
	assert.Equal(t, []string{"host.updateHost"}, ac.RetryWhitelist)
}
