// Package config loads the handshake core's tunables from the
// environment, with the defaults named in spec.md §6.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port               string
	APIVersionPrefix   string
	AllowedOrigins     []string

	AWSRegion          string
	DynamoEndpoint     string // optional override, e.g. for local DynamoDB

	RedisAddr          string
	RedisPassword      string

	TokenSigningSecret string
	TokenLifetime      time.Duration

	PushVendorEndpoint string
	PushVendorAPIKey   string // empty disables push without error

	ChallengeExpiration time.Duration
	HandshakeTimeout    time.Duration
	MaxRetryAttempts    int
	HeartbeatInterval   time.Duration
	PresenceTTL         time.Duration
	LockTTL             time.Duration

	TerminalRetention time.Duration // how long terminal challenges are kept before pruning
}

func Load() Config {
	return Config{
		Port:             getEnv("PORT", "8080"),
		APIVersionPrefix: getEnv("API_VERSION_PREFIX", "/api"),
		AllowedOrigins:   []string{getEnv("ALLOWED_ORIGIN", "*")},

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		DynamoEndpoint: os.Getenv("DYNAMO_ENDPOINT"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		TokenSigningSecret: getEnv("TOKEN_SIGNING_SECRET", "dev-secret-change-me"),
		TokenLifetime:      getDuration("TOKEN_LIFETIME_SECONDS", 24*time.Hour),

		PushVendorEndpoint: os.Getenv("PUSH_VENDOR_ENDPOINT"),
		PushVendorAPIKey:   os.Getenv("PUSH_VENDOR_API_KEY"),

		ChallengeExpiration: getDuration("CHALLENGE_EXPIRATION_SECONDS", 3600*time.Second),
		HandshakeTimeout:    getDuration("HANDSHAKE_TIMEOUT_SECONDS", 30*time.Second),
		MaxRetryAttempts:    getInt("MAX_RETRY_ATTEMPTS", 3),
		HeartbeatInterval:   getDuration("HEARTBEAT_INTERVAL_SECONDS", 30*time.Second),
		PresenceTTL:         getDuration("PRESENCE_TTL_SECONDS", 60*time.Second),
		LockTTL:             getDuration("LOCK_TTL_SECONDS", 10*time.Second),

		TerminalRetention: time.Duration(getInt("TERMINAL_RETENTION_DAYS", 7)) * 24 * time.Hour,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getDuration reads an environment variable expressed in whole seconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
