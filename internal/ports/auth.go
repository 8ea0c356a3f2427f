package ports

// Package ports defines interfaces (hexagonal ports) for IIIF auth behavior.
// Implementations live in internal/adapters; orchestration in internal/service.

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	domainauth "github.com/code4history/IIIF-MCP/internal/domain/auth"
)

// ErrSessionNotFound is returned by SessionStore.Get when no session is held for a URL.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore holds at most one session per protected resource URL.
// Set always replaces the previous entry for the same URL.
type SessionStore interface {
	Get(ctx context.Context, resourceURL string) (domainauth.Session, error)
	Set(ctx context.Context, sess domainauth.Session) error
	Delete(ctx context.Context, resourceURL string) error
	List(ctx context.Context) ([]domainauth.Session, error)
}

// HTTPRequest describes one outbound request to a resource or auth service.
type HTTPRequest struct {
	Method string
	URL    string
	Header http.Header
	// Form is sent as an application/x-www-form-urlencoded body when non-nil.
	Form url.Values
	// WithCredentials routes the request through the cookie-jar client so cookies
	// set by earlier responses are replayed.
	WithCredentials bool
	// NoRedirects returns 3xx responses as-is instead of following them.
	NoRedirects bool
}

// HTTPResponse is a fully read response. Non-2xx statuses are not errors.
type HTTPResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HTTPDoer performs outbound requests. Transport failures are returned as errors;
// any received status is returned as a response.
type HTTPDoer interface {
	Do(ctx context.Context, req HTTPRequest) (*HTTPResponse, error)
}

// BrowserOpener launches the user's browser at a URL.
type BrowserOpener interface {
	Open(ctx context.Context, rawURL string) error
}

// PortFinder returns a currently free TCP port within the range.
type PortFinder interface {
	FindAvailablePort(ctx context.Context, r domainauth.PortRange) (int, error)
}

// PollRequest describes one token polling run.
type PollRequest struct {
	TokenURL string
	Origin   string
	// Cookie returns the most recently captured cookie header, or "".
	Cookie func() string
}

// TokenPoller repeatedly asks a token service for an access token.
type TokenPoller interface {
	Poll(ctx context.Context, req PollRequest) (string, error)
}

// CallbackListener is a single-use local HTTP endpoint the browser returns to
// after login. Results delivers at most one value.
type CallbackListener interface {
	Start(port int) error
	Origin() string
	CallbackURL() string
	Results() <-chan domainauth.CallbackResult
	RelayedCookies() string
	Close() error
}

// CallbackListenerFactory builds a fresh listener for each browser flow.
type CallbackListenerFactory interface {
	NewListener(mode domainauth.CallbackMode) CallbackListener
}
