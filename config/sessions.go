package config

import (
	"fmt"
	"strings"
)

// SessionBackend selects where authenticated sessions are kept.
type SessionBackend string

const (
	// SessionBackendMemory keeps sessions in process memory (lost on restart).
	SessionBackendMemory SessionBackend = "memory"
	// SessionBackendRedis keeps sessions in Redis with TTLs derived from their expiry.
	SessionBackendRedis SessionBackend = "redis"
	// SessionBackendPostgres keeps sessions in the iiif_auth_sessions table.
	SessionBackendPostgres SessionBackend = "postgres"
)

// UnmarshalText implements encoding.TextUnmarshaler for SessionBackend.
func (b *SessionBackend) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "memory", "redis", "postgres":
		*b = SessionBackend(v)
		return nil
	default:
		return fmt.Errorf("invalid SessionBackend: %q (valid options: memory, redis, postgres)", v)
	}
}

// SessionStoreConfig controls the session store adapter.
type SessionStoreConfig struct {
	Backend   SessionBackend `env:"IIIF_SESSION_STORE"      envDefault:"memory"`
	KeyPrefix string         `env:"IIIF_SESSION_KEY_PREFIX" envDefault:"iiif:session:"`
}

// Sanitize applies guardrails to session store configuration values.
func (c *SessionStoreConfig) Sanitize() {
	if c.Backend == "" {
		c.Backend = SessionBackendMemory
	}
	c.KeyPrefix = strings.TrimSpace(c.KeyPrefix)
	if c.KeyPrefix == "" {
		c.KeyPrefix = "iiif:session:"
	}
}
