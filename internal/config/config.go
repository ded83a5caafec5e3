package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServiceName string
	ServerPort  int
	LogLevel    string

	DatabaseURL string

	Issuer          string
	SigningKeys     map[string][]byte
	ActiveKeyID     string
	KeyNotAfter     map[string]time.Time
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AuthCodeTTL     time.Duration

	LockoutMaxAttempts int
	LockoutDuration    time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	ESURL      string
	ESUser     string
	ESPassword string
	ESIndex    string

	MVCClientSecret string
	SeedClients     bool
}

// Load reads .env when present and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		slog.Debug("env_file_not_found", "error", err)
	}

	keys, err := ParseKeys(os.Getenv("JWT_SIGNING_KEYS"))
	if err != nil {
		return Config{}, err
	}
	notAfter, err := ParseNotAfter(os.Getenv("JWT_KEY_NOT_AFTER"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ServiceName: EnvDefault("SERVICE_NAME", "identity"),
		ServerPort:  EnvIntDefault("SERVER_PORT", 8080),
		LogLevel:    EnvDefault("LOG_LEVEL", "info"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		Issuer:          EnvDefault("ISSUER", "http://localhost:8080"),
		SigningKeys:     keys,
		ActiveKeyID:     os.Getenv("JWT_ACTIVE_KEY_ID"),
		KeyNotAfter:     notAfter,
		AccessTokenTTL:  EnvDurationDefault("ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL: EnvDurationDefault("REFRESH_TOKEN_TTL", 14*24*time.Hour),
		AuthCodeTTL:     EnvDurationDefault("AUTH_CODE_TTL", 5*time.Minute),

		LockoutMaxAttempts: EnvIntDefault("LOCKOUT_MAX_ATTEMPTS", 5),
		LockoutDuration:    EnvDurationDefault("LOCKOUT_DURATION", 5*time.Minute),

		KafkaBrokers: CSV(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   EnvDefault("KAFKA_TOPIC", "identity.events"),

		ESURL:      os.Getenv("ES_URL"),
		ESUser:     os.Getenv("ES_USER"),
		ESPassword: os.Getenv("ES_PASSWORD"),
		ESIndex:    EnvDefault("ES_INDEX", "identity-audit"),

		MVCClientSecret: EnvDefault("MVC_CLIENT_SECRET", "901564A5-E7FE-42CB-B10D-61EF6A8F3654"),
		SeedClients:     EnvBoolDefault("SEED_CLIENTS", true),
	}

	if cfg.ActiveKeyID == "" && len(keys) == 1 {
		for kid := range keys {
			cfg.ActiveKeyID = kid
		}
	}
	return cfg, nil
}

// Validate reports the first setting the server cannot start without.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("missing required env DATABASE_URL")
	}
	if len(c.SigningKeys) == 0 {
		return fmt.Errorf("missing required env JWT_SIGNING_KEYS")
	}
	if _, ok := c.SigningKeys[c.ActiveKeyID]; !ok {
		return fmt.Errorf("JWT_ACTIVE_KEY_ID %q is not one of JWT_SIGNING_KEYS", c.ActiveKeyID)
	}
	for kid := range c.KeyNotAfter {
		if _, ok := c.SigningKeys[kid]; !ok {
			return fmt.Errorf("JWT_KEY_NOT_AFTER: %q is not one of JWT_SIGNING_KEYS", kid)
		}
		if kid == c.ActiveKeyID {
			return fmt.Errorf("JWT_KEY_NOT_AFTER: active key %q cannot be retired", kid)
		}
	}
	if c.RefreshTokenTTL <= c.AccessTokenTTL {
		return fmt.Errorf("REFRESH_TOKEN_TTL must be longer than ACCESS_TOKEN_TTL")
	}
	return nil
}

// ParseKeys reads "kid=secret,kid2=secret2".
func ParseKeys(v string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	for _, pair := range CSV(v) {
		kid, secret, ok := strings.Cut(pair, "=")
		kid = strings.TrimSpace(kid)
		if !ok || kid == "" || secret == "" {
			return nil, fmt.Errorf("JWT_SIGNING_KEYS: malformed entry %q", pair)
		}
		if _, dup := out[kid]; dup {
			return nil, fmt.Errorf("JWT_SIGNING_KEYS: duplicate kid %q", kid)
		}
		out[kid] = []byte(secret)
	}
	return out, nil
}

// ParseNotAfter reads "kid=2025-06-01T00:00:00Z,..." for retired keys.
func ParseNotAfter(v string) (map[string]time.Time, error) {
	out := make(map[string]time.Time)
	for _, pair := range CSV(v) {
		kid, ts, ok := strings.Cut(pair, "=")
		kid = strings.TrimSpace(kid)
		if !ok || kid == "" {
			return nil, fmt.Errorf("JWT_KEY_NOT_AFTER: malformed entry %q", pair)
		}
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(ts))
		if err != nil {
			return nil, fmt.Errorf("JWT_KEY_NOT_AFTER: %q: %w", kid, err)
		}
		out[kid] = at
	}
	return out, nil
}

func CSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func EnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func EnvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func EnvDurationDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func EnvBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
