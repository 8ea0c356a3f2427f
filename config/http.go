package config

import (
	"strings"
	"time"
)

const defaultMaxBodyBytes int64 = 16 << 20

// HTTPClientConfig contains configuration for outbound requests to IIIF resources
// and their auth services.
type HTTPClientConfig struct {
	// FetchTimeout bounds every individual outbound request.
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT" envDefault:"10s"`

	// UserAgent is sent with every outbound request.
	UserAgent string `env:"USER_AGENT" envDefault:"iiif-mcp/1.1.0"`

	// MaxBodyBytes caps how much of a response body is read into memory.
	MaxBodyBytes int64 `env:"MAX_BODY_BYTES" envDefault:"16777216"`
}

// Sanitize applies guardrails to HTTP client configuration values.
func (h *HTTPClientConfig) Sanitize() {
	if h.FetchTimeout <= 0 {
		h.FetchTimeout = 10 * time.Second
	}
	h.UserAgent = strings.TrimSpace(h.UserAgent)
	if h.MaxBodyBytes <= 0 {
		h.MaxBodyBytes = defaultMaxBodyBytes
	}
}
