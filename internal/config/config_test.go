package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeys(t *testing.T) {
	t.Parallel()

	keys, err := ParseKeys("k1=alpha, k2=beta")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), keys["k1"])
	assert.Equal(t, []byte("beta"), keys["k2"])

	_, err = ParseKeys("k1=alpha,k1=beta")
	assert.Error(t, err)

	_, err = ParseKeys("nosecret")
	assert.Error(t, err)

	keys, err = ParseKeys("")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestParseNotAfter(t *testing.T) {
	t.Parallel()

	got, err := ParseNotAfter("k1=2025-06-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), got["k1"].UTC())

	_, err = ParseNotAfter("k1=tomorrow")
	assert.Error(t, err)

	_, err = ParseNotAfter("=2025-06-01T00:00:00Z")
	assert.Error(t, err)
}

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEYS", "2024=secret")
	t.Setenv("JWT_ACTIVE_KEY_ID", "")
	t.Setenv("DATABASE_URL", "sqlite::memory:")
	t.Setenv("ACCESS_TOKEN_TTL", "30m")
	t.Setenv("REFRESH_TOKEN_TTL", "")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("SEED_CLIENTS", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "2024", cfg.ActiveKeyID)
	assert.Equal(t, 30*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 14*24*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.SeedClients)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := Config{
		DatabaseURL:     "sqlite::memory:",
		SigningKeys:     map[string][]byte{"k1": []byte("s")},
		ActiveKeyID:     "k1",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 2 * time.Hour,
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no database", mutate: func(c *Config) { c.DatabaseURL = "" }},
		{name: "no keys", mutate: func(c *Config) { c.SigningKeys = nil }},
		{name: "unknown active key", mutate: func(c *Config) { c.ActiveKeyID = "k2" }},
		{name: "retired key unknown", mutate: func(c *Config) { c.KeyNotAfter = map[string]time.Time{"k9": time.Now()} }},
		{name: "active key retired", mutate: func(c *Config) { c.KeyNotAfter = map[string]time.Time{"k1": time.Now()} }},
		{name: "refresh not longer than access", mutate: func(c *Config) { c.RefreshTokenTTL = time.Hour }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			c.SigningKeys = map[string][]byte{"k1": []byte("s")}
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
