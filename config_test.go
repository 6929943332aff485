package authgate_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	authgate "github.com/authgate/go-authgate"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := authgate.LoadConfig()

	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 24*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, 15*time.Minute, cfg.ChangeEmailTokenTTL)
	assert.Equal(t, 24*time.Hour, cfg.VerifyTokenTTL)
	assert.Equal(t, 30*time.Minute, cfg.ResetTokenTTL)
	assert.Equal(t, "sid", cfg.SessionCookieName)
	assert.Equal(t, 12, cfg.BcryptCost)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("JWT_ACCESS_TTL", "5m")
	t.Setenv("BCRYPT_COST", "10")
	t.Setenv("SESSION_COOKIE", "session_id")
	t.Setenv("DEBUG", "true")

	cfg := authgate.LoadConfig()

	assert.Equal(t, 5*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 10, cfg.BcryptCost)
	assert.Equal(t, "session_id", cfg.SessionCookieName)
	assert.True(t, cfg.Debug)
}

func TestLoadConfigIgnoresMalformedValues(t *testing.T) {
	t.Setenv("JWT_ACCESS_TTL", "soon")
	t.Setenv("BCRYPT_COST", "many")

	cfg := authgate.LoadConfig()

	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 12, cfg.BcryptCost)
}
