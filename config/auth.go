package config

import "time"

const (
	defaultCallbackPortStart = 8080
	defaultCallbackPortEnd   = 8180
	defaultFlowTimeout       = 2 * time.Minute
	defaultSessionTTL        = time.Hour
	defaultPollInterval      = time.Second
	defaultPollGrace         = 5 * time.Second
	defaultPollMaxAttempts   = 120
)

// AuthConfig controls the interactive IIIF authentication flows.
type AuthConfig struct {
	// CallbackHost is the interface the ephemeral callback listener binds to.
	CallbackHost string `env:"CALLBACK_HOST" envDefault:"127.0.0.1"`

	// CallbackPortStart and CallbackPortEnd bound the inclusive port scan range.
	CallbackPortStart int `env:"CALLBACK_PORT_START" envDefault:"8080"`
	CallbackPortEnd   int `env:"CALLBACK_PORT_END"   envDefault:"8180"`

	// FlowTimeout is the hard deadline for a browser-driven flow.
	FlowTimeout time.Duration `env:"FLOW_TIMEOUT" envDefault:"2m"`

	// DefaultSessionTTL applies when the authenticating service does not state an expiry.
	DefaultSessionTTL time.Duration `env:"DEFAULT_SESSION_TTL" envDefault:"1h"`

	// Token polling cadence used alongside the cookie flow.
	PollInterval    time.Duration `env:"POLL_INTERVAL"     envDefault:"1s"`
	PollGrace       time.Duration `env:"POLL_GRACE"        envDefault:"5s"`
	PollMaxAttempts int           `env:"POLL_MAX_ATTEMPTS" envDefault:"120"`

	// OpenBrowser launches the system browser for interactive flows. When false the
	// login URL is only logged.
	OpenBrowser bool `env:"OPEN_BROWSER" envDefault:"true"`
}

// Sanitize applies guardrails to auth flow configuration values.
func (c *AuthConfig) Sanitize() {
	if c.CallbackHost == "" {
		c.CallbackHost = "127.0.0.1"
	}
	if c.CallbackPortStart <= 0 || c.CallbackPortStart > 65535 {
		c.CallbackPortStart = defaultCallbackPortStart
	}
	if c.CallbackPortEnd <= 0 || c.CallbackPortEnd > 65535 {
		c.CallbackPortEnd = defaultCallbackPortEnd
	}
	if c.CallbackPortEnd < c.CallbackPortStart {
		c.CallbackPortStart, c.CallbackPortEnd = c.CallbackPortEnd, c.CallbackPortStart
	}
	if c.FlowTimeout <= 0 {
		c.FlowTimeout = defaultFlowTimeout
	}
	if c.DefaultSessionTTL <= 0 {
		c.DefaultSessionTTL = defaultSessionTTL
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.PollGrace < 0 {
		c.PollGrace = defaultPollGrace
	}
	if c.PollMaxAttempts <= 0 {
		c.PollMaxAttempts = defaultPollMaxAttempts
	}
}
