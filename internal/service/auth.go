package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/code4history/IIIF-MCP/config"
	domainauth "github.com/code4history/IIIF-MCP/internal/domain/auth"
	apperrors "github.com/code4history/IIIF-MCP/internal/errors"
	obserrors "github.com/code4history/IIIF-MCP/internal/observability/errors"
	"github.com/code4history/IIIF-MCP/internal/observability/metrics"
	"github.com/code4history/IIIF-MCP/internal/observability/statsd"
	"github.com/code4history/IIIF-MCP/internal/ports"
)

const resourceAccept = "application/ld+json, application/json"

// AuthAdapters groups the outbound collaborators of AuthService.
type AuthAdapters struct {
	HTTP      ports.HTTPDoer                // Required: outbound requests
	Browser   ports.BrowserOpener           // Optional: nil only logs the login URL
	Ports     ports.PortFinder              // Required for browser flows
	Callbacks ports.CallbackListenerFactory // Required for browser flows
	Poller    ports.TokenPoller             // Optional: token polling during the cookie flow
}

// AuthServiceOptions groups dependencies for AuthService.
type AuthServiceOptions struct {
	Sessions ports.SessionStore // Required: session persistence
	Adapters AuthAdapters       // Required: outbound collaborators
	Config   config.AuthConfig  // Required: flow timing and callback range
	Logger   *slog.Logger       // Optional: structured logger
	Metrics  statsd.Sink        // Optional: metrics sink (StatsD-compatible)
	Now      func() time.Time   // Optional: clock override for tests
}

// AuthService discovers IIIF auth services for a resource, runs the matching
// authentication flow and keeps the resulting sessions.
type AuthService struct {
	sessions  ports.SessionStore
	http      ports.HTTPDoer
	browser   ports.BrowserOpener
	ports     ports.PortFinder
	callbacks ports.CallbackListenerFactory
	poller    ports.TokenPoller
	cfg       config.AuthConfig
	logger    *slog.Logger
	metrics   statsd.Sink
	now       func() time.Time

	flights singleflight.Group

	cookieMu sync.Mutex
	cookies  map[string]string
}

// NewAuthService constructs a new AuthService.
func NewAuthService(opts AuthServiceOptions) (*AuthService, error) {
	if opts.Sessions == nil {
		return nil, errors.New("SessionStore is required")
	}
	if opts.Adapters.HTTP == nil {
		return nil, errors.New("HTTPDoer is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	cfg := opts.Config
	cfg.Sanitize()

	return &AuthService{
		sessions:  opts.Sessions,
		http:      opts.Adapters.HTTP,
		browser:   opts.Adapters.Browser,
		ports:     opts.Adapters.Ports,
		callbacks: opts.Adapters.Callbacks,
		poller:    opts.Adapters.Poller,
		cfg:       cfg,
		logger:    logger.With("component", "auth_service"),
		metrics:   opts.Metrics,
		now:       now,
		cookies:   make(map[string]string),
	}, nil
}

// Authenticate returns a usable session for resourceURL.
//
// A still valid stored session is returned without any network call. A token or
// session id in opts is stored directly. Otherwise the resource's auth services are
// discovered and the flow for the first login-capable service runs. Concurrent
// calls for the same URL share one flow and the context of the first caller.
func (s *AuthService) Authenticate(
	ctx context.Context,
	resourceURL string,
	creds *domainauth.Credentials,
	opts domainauth.AuthenticateOptions,
) (domainauth.Session, error) {
	if resourceURL == "" {
		return domainauth.Session{}, apperrors.ValidationField("resourceUrl", "resource URL is required")
	}

	existing, ok, err := s.validSession(ctx, resourceURL)
	if err != nil {
		return domainauth.Session{}, err
	}
	if ok {
		metrics.EmitAuthFlow(s.metrics, metrics.FlowMetric{AuthType: string(existing.AuthType), Result: metrics.ResultReused})
		return existing, nil
	}

	if opts.Token != "" || opts.SessionID != "" {
		return s.injectSession(ctx, resourceURL, opts)
	}

	v, flowErr, shared := s.flights.Do(resourceURL, func() (any, error) {
		return s.runFlow(ctx, resourceURL, creds, opts)
	})
	if shared {
		s.logger.DebugContext(ctx, "joined in-flight authentication", "resource_url", resourceURL)
	}
	if flowErr != nil {
		return domainauth.Session{}, flowErr
	}
	sess, isSession := v.(domainauth.Session)
	if !isSession {
		return domainauth.Session{}, apperrors.Internal("unexpected flow result")
	}
	return sess, nil
}

// Session returns the stored session for resourceURL, if any.
func (s *AuthService) Session(ctx context.Context, resourceURL string) (domainauth.Session, error) {
	sess, err := s.sessions.Get(ctx, resourceURL)
	if errors.Is(err, ports.ErrSessionNotFound) {
		return domainauth.Session{}, apperrors.NotFoundf("no session for %s", resourceURL).
			WithHint("Authenticate with this resource first.")
	}
	if err != nil {
		return domainauth.Session{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "load session")
	}
	return sess, nil
}

// Sessions lists every stored session.
func (s *AuthService) Sessions(ctx context.Context) ([]domainauth.Session, error) {
	list, err := s.sessions.List(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "list sessions")
	}
	return list, nil
}

// validSession returns the stored session when it is still valid. An expired
// session is evicted.
func (s *AuthService) validSession(ctx context.Context, resourceURL string) (domainauth.Session, bool, error) {
	sess, err := s.sessions.Get(ctx, resourceURL)
	if errors.Is(err, ports.ErrSessionNotFound) {
		return domainauth.Session{}, false, nil
	}
	if err != nil {
		return domainauth.Session{}, false, apperrors.Wrap(err, apperrors.ErrCodeInternal, "load session")
	}
	if sess.IsValid(s.now()) {
		return sess, true, nil
	}

	s.evict(ctx, resourceURL, metrics.SessionExpired)
	return domainauth.Session{}, false, nil
}

func (s *AuthService) injectSession(
	ctx context.Context,
	resourceURL string,
	opts domainauth.AuthenticateOptions,
) (domainauth.Session, error) {
	sess := domainauth.Session{
		ResourceURL: resourceURL,
		AuthType:    domainauth.AuthTypeCookie,
		Token:       opts.Token,
		Cookie:      domainauth.SessionCookie(opts.SessionID),
		ExpiresAt:   domainauth.ExpiryAfter(s.now(), s.cfg.DefaultSessionTTL),
	}
	if opts.Token != "" {
		sess.AuthType = domainauth.AuthTypeToken
	}

	if err := s.store(ctx, sess); err != nil {
		return domainauth.Session{}, err
	}
	s.logger.InfoContext(ctx, "stored supplied credentials", "resource_url", resourceURL, "auth_type", sess.AuthType)
	return sess, nil
}

func (s *AuthService) runFlow(
	ctx context.Context,
	resourceURL string,
	creds *domainauth.Credentials,
	opts domainauth.AuthenticateOptions,
) (domainauth.Session, error) {
	start := s.now()

	sess, authType, err := s.selectAndRun(ctx, resourceURL, creds, opts)
	if err != nil {
		metrics.EmitAuthFlow(s.metrics, metrics.FlowMetric{
			AuthType: string(authType),
			Result:   metrics.ResultError,
			Duration: s.now().Sub(start),
			Err:      err,
		})
		s.logger.WarnContext(ctx, "authentication failed",
			"resource_url", resourceURL,
			"auth_type", authType,
			"error", err,
		)
		return domainauth.Session{}, err
	}

	if storeErr := s.store(ctx, sess); storeErr != nil {
		return domainauth.Session{}, storeErr
	}

	metrics.EmitAuthFlow(s.metrics, metrics.FlowMetric{
		AuthType: string(authType),
		Result:   metrics.ResultSuccess,
		Duration: s.now().Sub(start),
	})
	s.logger.InfoContext(ctx, "authentication succeeded",
		"resource_url", resourceURL,
		"auth_type", sess.AuthType,
		"has_token", sess.HasToken(),
		"has_cookie", sess.HasCookie(),
	)
	return sess, nil
}

func (s *AuthService) selectAndRun(
	ctx context.Context,
	resourceURL string,
	creds *domainauth.Credentials,
	opts domainauth.AuthenticateOptions,
) (domainauth.Session, domainauth.AuthType, error) {
	disc, err := s.Discover(ctx, resourceURL)
	if err != nil {
		return domainauth.Session{}, domainauth.AuthTypeUnknown, err
	}
	if !disc.RequiresAuth() {
		return domainauth.Session{}, domainauth.AuthTypeUnknown,
			apperrors.New(apperrors.ErrCodeNoAuthServices, "no authentication services found for this resource")
	}

	svc, ok := disc.LoginService()
	if !ok {
		return domainauth.Session{}, domainauth.AuthTypeUnknown,
			apperrors.New(apperrors.ErrCodeNoLoginService, "no login service found")
	}

	authType := svc.AuthType()
	s.logger.InfoContext(ctx, "starting authentication flow",
		"resource_url", resourceURL,
		"auth_type", authType,
		"service", svc.ID,
		"label", svc.Label.First(),
		"description", svc.Description.First(),
		"api_version", disc.APIVersion,
	)

	var sess domainauth.Session
	switch authType {
	case domainauth.AuthTypeCookie:
		sess, err = s.cookieFlow(ctx, resourceURL, svc, creds, opts)
	case domainauth.AuthTypeToken:
		sess, err = s.tokenFlow(ctx, resourceURL, svc, creds)
	case domainauth.AuthTypeExternal:
		sess, err = s.externalFlow(ctx, resourceURL, svc)
	default:
		err = apperrors.Newf(apperrors.ErrCodeUnsupportedAuthType, "unsupported auth type: %s", authType)
	}
	return sess, authType, err
}

// Discover fetches resourceURL and collects its auth services.
func (s *AuthService) Discover(ctx context.Context, resourceURL string) (Discovery, error) {
	resp, err := s.fetchResource(ctx, resourceURL)
	if err != nil {
		return Discovery{}, err
	}
	doc, err := ParseDocument(resp.Body)
	if err != nil {
		// HTML error pages and other non-object bodies declare no services.
		s.logger.DebugContext(ctx, "resource body is not a JSON object", "resource_url", resourceURL, "status", resp.StatusCode)
		doc = map[string]any{}
	}
	return DiscoverAuthServices(doc)
}

// GetAuthInfo returns the auth relevant document for resourceURL. A 401 or 403
// answer is expected; when it carries a WWW-Authenticate header the header value
// is returned as {"authHeader": ...}, otherwise the response body is. A body
// that is not a JSON object comes back unchanged under "body".
func (s *AuthService) GetAuthInfo(ctx context.Context, resourceURL string) (map[string]any, error) {
	if resourceURL == "" {
		return nil, apperrors.ValidationField("resourceUrl", "resource URL is required")
	}

	resp, err := s.fetchResource(ctx, resourceURL)
	if err != nil {
		return nil, err
	}

	if isAuthStatus(resp.StatusCode) {
		if h := resp.Header.Get("WWW-Authenticate"); h != "" {
			return map[string]any{"authHeader": h}, nil
		}
	}
	if doc, err := ParseDocument(resp.Body); err == nil {
		return doc, nil
	}
	return map[string]any{"body": rawBody(resp.Body)}, nil
}

// rawBody returns a non-object body as its decoded JSON value, or as text when
// it is not JSON at all.
func rawBody(body []byte) any {
	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		return v
	}
	return string(body)
}

// fetchResource GETs a resource document. Any status below 500 is a usable
// answer since auth metadata often rides on 401/403 bodies.
func (s *AuthService) fetchResource(ctx context.Context, resourceURL string) (*ports.HTTPResponse, error) {
	resp, err := s.http.Do(ctx, ports.HTTPRequest{
		Method: http.MethodGet,
		URL:    resourceURL,
		Header: http.Header{"Accept": []string{resourceAccept}},
	})
	if err != nil {
		return nil, networkError(err, "fetch resource")
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, apperrors.Newf(apperrors.ErrCodeNetwork, "fetch resource: unexpected status %d", resp.StatusCode)
	}
	return resp, nil
}

func (s *AuthService) store(ctx context.Context, sess domainauth.Session) error {
	if err := s.sessions.Set(ctx, sess); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "store session")
	}
	metrics.EmitSessionEvent(s.metrics, metrics.SessionStored)
	return nil
}

// evict removes the session and cached cookie for resourceURL. Store failures are
// logged; eviction is never surfaced as an error.
func (s *AuthService) evict(ctx context.Context, resourceURL, event string) {
	if err := s.sessions.Delete(ctx, resourceURL); err != nil {
		s.logger.WarnContext(ctx, "delete session", "resource_url", resourceURL, "error", err)
	}
	s.forgetCookie(resourceURL)
	metrics.EmitSessionEvent(s.metrics, event)
}

func (s *AuthService) rememberCookie(resourceURL, cookie string) {
	if cookie == "" {
		return
	}
	s.cookieMu.Lock()
	defer s.cookieMu.Unlock()
	s.cookies[resourceURL] = cookie
}

// CachedCookie returns the cookie captured for resourceURL during a flow, if any.
func (s *AuthService) CachedCookie(resourceURL string) string {
	s.cookieMu.Lock()
	defer s.cookieMu.Unlock()
	return s.cookies[resourceURL]
}

func (s *AuthService) forgetCookie(resourceURL string) {
	s.cookieMu.Lock()
	defer s.cookieMu.Unlock()
	delete(s.cookies, resourceURL)
}

func isAuthStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

func networkError(err error, op string) error {
	switch obserrors.Classify(err) {
	case obserrors.ClassTimeout:
		return apperrors.Wrap(err, apperrors.ErrCodeTimeout, op)
	case obserrors.ClassCanceled:
		return apperrors.Wrap(err, apperrors.ErrCodeCanceled, op)
	default:
		return apperrors.Wrap(err, apperrors.ErrCodeNetwork, fmt.Sprintf("%s failed", op))
	}
}
