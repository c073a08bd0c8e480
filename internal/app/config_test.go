package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		JWTSecret:       "0123456789abcdef0123",
		AccessTokenTTL:  12 * time.Hour,
		RefreshTokenTTL: 168 * time.Hour,
		MailTransport:   "log",
		PurgeTimezone:   "Asia/Shanghai",
		PurgeAfter:      720 * time.Hour,
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 12*time.Hour, cfg.AccessTokenTTL)
	require.Equal(t, 5*time.Minute, cfg.EmailCodeTTL)
	require.Equal(t, 30*24*time.Hour, cfg.PurgeAfter)
	require.False(t, cfg.RBACEnforce)
	require.False(t, cfg.WelcomeMailIncludePassword)
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	short := validConfig()
	short.JWTSecret = "short"
	require.ErrorContains(t, short.Validate(), "jwt secret")

	ttl := validConfig()
	ttl.RefreshTokenTTL = time.Hour
	require.ErrorContains(t, ttl.Validate(), "refresh token ttl")

	transport := validConfig()
	transport.MailTransport = "carrier-pigeon"
	require.ErrorContains(t, transport.Validate(), "mail transport")

	zone := validConfig()
	zone.PurgeTimezone = "Mars/Olympus"
	require.ErrorContains(t, zone.Validate(), "purge timezone")
}

func TestPurgeLocation(t *testing.T) {
	cfg := validConfig()
	loc, err := cfg.PurgeLocation()
	require.NoError(t, err)
	require.Equal(t, "Asia/Shanghai", loc.String())
}
