package auth

// Package auth contains domain-level types for IIIF authentication services and
// the sessions they produce. It is pure and free of framework/adapter concerns.

import (
	"fmt"
	"time"
)

// DefaultSessionTTL is the session lifetime used when the authenticating service
// does not state one. Callers override it through configuration.
const DefaultSessionTTL = time.Hour

// AuthType identifies the flow that produced a session.
type AuthType string

const (
	AuthTypeCookie   AuthType = "cookie"
	AuthTypeToken    AuthType = "token"
	AuthTypeExternal AuthType = "external"
	AuthTypeUnknown  AuthType = "unknown"
)

// Session is the credential material held for one protected resource URL.
// A nil ExpiresAt means the session does not expire.
type Session struct {
	ResourceURL string     `json:"resource_url"         db:"resource_url"`
	AuthType    AuthType   `json:"auth_type"            db:"auth_type"`
	Token       string     `json:"token,omitempty"      db:"token"`
	Cookie      string     `json:"cookie,omitempty"     db:"cookie"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
}

// IsValid reports whether the session is usable at now.
func (s Session) IsValid(now time.Time) bool {
	return s.ExpiresAt == nil || s.ExpiresAt.After(now)
}

// HasToken reports whether the session carries a bearer token.
func (s Session) HasToken() bool { return s.Token != "" }

// HasCookie reports whether the session carries a cookie header value.
func (s Session) HasCookie() bool { return s.Cookie != "" }

// ExpiryAfter returns a pointer to now+ttl, for use as Session.ExpiresAt.
func ExpiryAfter(now time.Time, ttl time.Duration) *time.Time {
	t := now.Add(ttl)
	return &t
}

// SessionCookie formats a bare session identifier as a cookie header value.
func SessionCookie(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	return "session=" + sessionID
}

// CallbackResult is what the browser handed back to the local callback endpoint.
type CallbackResult struct {
	Token        string
	SessionID    string
	CookieHeader string
}

// Empty reports whether the callback carried nothing usable.
func (r CallbackResult) Empty() bool {
	return r.Token == "" && r.SessionID == "" && r.CookieHeader == ""
}

// CallbackMode selects what the local callback page does once the browser lands on it.
type CallbackMode int

const (
	// CallbackModeCookie relays document.cookie back to the listener.
	CallbackModeCookie CallbackMode = iota
	// CallbackModeExternal posts the received token to the opener window.
	CallbackModeExternal
)

// PortRange is an inclusive range of TCP ports probed for the callback listener.
type PortRange struct {
	Start int
	End   int
}

// DefaultPortRange is the callback port range used when none is configured.
var DefaultPortRange = PortRange{Start: 8080, End: 8180}

// Validate checks 0 < Start <= End <= 65535.
func (r PortRange) Validate() error {
	if r.Start <= 0 || r.End > 65535 || r.Start > r.End {
		return fmt.Errorf("invalid port range %d-%d", r.Start, r.End)
	}
	return nil
}

// Credentials are submitted to a login service on the non-interactive path.
type Credentials struct {
	Username string
	Password string
}

// AuthenticateOptions tunes a single Authenticate call.
type AuthenticateOptions struct {
	// Token or SessionID inject credentials obtained out of band; no flow runs.
	Token     string
	SessionID string
	// Interactive forces the browser path even when credentials are supplied.
	Interactive bool
}
