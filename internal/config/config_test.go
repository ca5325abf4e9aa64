package config

import (
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kinguin-bot/internal/services/kinguin"
)

func setBaseEnv(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("KINGUIN_API_KEY", "key")
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sandbox", cfg.Kinguin.Environment)
	assert.Equal(t, 30*time.Second, cfg.Kinguin.Timeout)
	assert.Equal(t, "data/purchases.db", cfg.Database.Path)
	assert.Equal(t, 5, cfg.Poll.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Poll.Interval)
	assert.Equal(t, "@every 60s", cfg.Poll.Schedule)
	assert.False(t, cfg.Server.Enabled)
	assert.Empty(t, cfg.Telegram.AllowedUsers)
	assert.True(t, cfg.IsUserAllowed(999))

	cred, err := cfg.Kinguin.Credential()
	require.NoError(t, err)
	assert.Equal(t, kinguin.Sandbox, cred.Environment)
	assert.Empty(t, cred.APISecret)
}

func TestLoad_AllowedUsers(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("TELEGRAM_ALLOWED_USERS", "10,20")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20}, cfg.Telegram.AllowedUsers)
	assert.True(t, cfg.IsUserAllowed(20))
	assert.False(t, cfg.IsUserAllowed(30))
}

func TestLoad_RequiredVariables(t *testing.T) {
	setBaseEnv(t)
	require.NoError(t, os.Unsetenv("TELEGRAM_BOT_TOKEN"))

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_InvalidEnvironment(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("KINGUIN_ENVIRONMENT", "staging")

	_, err := Load()
	var cfgErr *kinguin.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestLoad_ServerNeedsJWTSecret(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("HTTP_ENABLED", "true")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", "jwt")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Server.Enabled)
}

func TestLoadKinguin_ProductionWithOverride(t *testing.T) {
	t.Setenv("KINGUIN_API_KEY", "key")
	t.Setenv("KINGUIN_API_SECRET", "secret")
	t.Setenv("KINGUIN_ENVIRONMENT", "production")
	t.Setenv("KINGUIN_BASE_URL", "http://localhost:1234")

	kc, err := LoadKinguin()
	require.NoError(t, err)

	cred, err := kc.Credential()
	require.NoError(t, err)
	assert.Equal(t, kinguin.Production, cred.Environment)
	assert.Equal(t, "http://localhost:1234", cred.BaseURL)
	assert.Equal(t, "secret", cred.APISecret)
}
