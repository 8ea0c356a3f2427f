package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"
	"golang.org/x/oauth2"

	domainauth "github.com/code4history/IIIF-MCP/internal/domain/auth"
	apperrors "github.com/code4history/IIIF-MCP/internal/errors"
	"github.com/code4history/IIIF-MCP/internal/observability/metrics"
	"github.com/code4history/IIIF-MCP/internal/ports"
)

const (
	probeStatusExpr = "status"

	reauthenticateHint = "Authenticate with this resource again."
)

// GetProtectedResource fetches resourceURL with the credentials of sess, or of the
// stored session when sess is nil. A 401 or 403 evicts the stored session and
// fails with session_expired; there is no automatic retry.
func (s *AuthService) GetProtectedResource(
	ctx context.Context,
	resourceURL string,
	sess *domainauth.Session,
) (map[string]any, error) {
	start := s.now()
	doc, err := s.fetchProtected(ctx, resourceURL, sess)
	s.emitAccess("fetch", start, err)
	return doc, err
}

func (s *AuthService) fetchProtected(
	ctx context.Context,
	resourceURL string,
	sess *domainauth.Session,
) (map[string]any, error) {
	current, err := s.sessionFor(ctx, resourceURL, sess)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, apperrors.NotFoundf("no authentication session for %s", resourceURL).
			WithHint("Authenticate with this resource first.")
	}

	resp, err := s.http.Do(ctx, ports.HTTPRequest{
		Method:          http.MethodGet,
		URL:             resourceURL,
		Header:          authHeaders(current, resourceAccept),
		WithCredentials: current.AuthType == domainauth.AuthTypeCookie,
	})
	if err != nil {
		return nil, networkError(err, "fetch protected resource")
	}

	switch {
	case isAuthStatus(resp.StatusCode):
		s.evict(ctx, resourceURL, metrics.SessionEvicted)
		return nil, apperrors.Newf(apperrors.ErrCodeSessionExpired,
			"authentication rejected with status %d; session may have expired", resp.StatusCode).
			WithHint(reauthenticateHint)
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, apperrors.Newf(apperrors.ErrCodeNetwork, "fetch protected resource: unexpected status %d", resp.StatusCode)
	}

	return ParseDocument(resp.Body)
}

// ProbeAccess reports whether the session (or the stored one) grants access.
// With a probe service the probe answer decides; otherwise a full fetch does.
// Probe failures mean no access rather than an error.
func (s *AuthService) ProbeAccess(
	ctx context.Context,
	resourceURL string,
	sess *domainauth.Session,
) (bool, error) {
	start := s.now()
	ok, err := s.probe(ctx, resourceURL, sess)
	s.emitAccess("probe", start, err)
	return ok, err
}

func (s *AuthService) probe(ctx context.Context, resourceURL string, sess *domainauth.Session) (bool, error) {
	current, err := s.sessionFor(ctx, resourceURL, sess)
	if err != nil {
		return false, err
	}

	disc, err := s.Discover(ctx, resourceURL)
	if err != nil {
		return false, err
	}

	probeSvc, ok := disc.First(domainauth.RoleProbe)
	if !ok {
		if _, fetchErr := s.fetchProtected(ctx, resourceURL, current); fetchErr != nil {
			s.logger.DebugContext(ctx, "probe by fetch denied", "resource_url", resourceURL, "error", fetchErr)
			return false, nil
		}
		return true, nil
	}

	resp, err := s.http.Do(ctx, ports.HTTPRequest{
		Method:          http.MethodGet,
		URL:             probeSvc.ID,
		Header:          authHeaders(current, "application/json"),
		WithCredentials: current != nil && current.AuthType == domainauth.AuthTypeCookie,
	})
	if err != nil {
		s.logger.DebugContext(ctx, "probe request failed", "probe_url", probeSvc.ID, "error", err)
		return false, nil
	}
	return probeGranted(resp), nil
}

func probeGranted(resp *ports.HTTPResponse) bool {
	if resp.StatusCode == http.StatusOK {
		return true
	}
	doc, err := ParseDocument(resp.Body)
	if err != nil {
		return false
	}
	v, err := jmespath.Search(probeStatusExpr, doc)
	if err != nil {
		return false
	}
	status, ok := v.(float64)
	return ok && int(status) == http.StatusOK
}

// Logout calls the resource's logout service on a best-effort basis and then
// evicts the local session and cached cookie regardless of the remote outcome.
func (s *AuthService) Logout(ctx context.Context, resourceURL string) error {
	sess, err := s.sessions.Get(ctx, resourceURL)
	if errors.Is(err, ports.ErrSessionNotFound) {
		s.forgetCookie(resourceURL)
		return nil
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "load session")
	}

	disc, err := s.Discover(ctx, resourceURL)
	if err != nil {
		s.logger.WarnContext(ctx, "logout discovery failed", "resource_url", resourceURL, "error", err)
	} else if logoutSvc, ok := disc.First(domainauth.RoleLogout); ok {
		_, callErr := s.http.Do(ctx, ports.HTTPRequest{
			Method:          http.MethodGet,
			URL:             logoutSvc.ID,
			Header:          authHeaders(&sess, ""),
			WithCredentials: sess.AuthType == domainauth.AuthTypeCookie,
		})
		if callErr != nil {
			s.logger.DebugContext(ctx, "logout service call failed", "logout_url", logoutSvc.ID, "error", callErr)
		}
	}

	s.evict(ctx, resourceURL, metrics.SessionEvicted)
	s.logger.InfoContext(ctx, "logged out", "resource_url", resourceURL)
	return nil
}

// sessionFor resolves the session to use: the explicit one, else the stored one.
// A nil result means no session is known. Expired sessions are evicted.
func (s *AuthService) sessionFor(
	ctx context.Context,
	resourceURL string,
	sess *domainauth.Session,
) (*domainauth.Session, error) {
	if sess == nil {
		stored, err := s.sessions.Get(ctx, resourceURL)
		if errors.Is(err, ports.ErrSessionNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "load session")
		}
		sess = &stored
	}

	if !sess.IsValid(s.now()) {
		s.evict(ctx, resourceURL, metrics.SessionExpired)
		return nil, apperrors.New(apperrors.ErrCodeSessionExpired, "authentication session expired").
			WithHint(reauthenticateHint)
	}
	return sess, nil
}

// authHeaders builds request headers carrying the session credentials: a bearer
// token when present, the cookie when present.
func authHeaders(sess *domainauth.Session, accept string) http.Header {
	h := http.Header{}
	if accept != "" {
		h.Set("Accept", accept)
	}
	if sess == nil {
		return h
	}
	if sess.HasToken() {
		req := &http.Request{Header: h}
		(&oauth2.Token{AccessToken: sess.Token, TokenType: "Bearer"}).SetAuthHeader(req)
	}
	if sess.HasCookie() {
		h.Set("Cookie", sess.Cookie)
	}
	return h
}

func (s *AuthService) emitAccess(op string, start time.Time, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.EmitResourceAccess(s.metrics, metrics.ResourceMetric{
		Operation: op,
		Result:    result,
		Duration:  s.now().Sub(start),
		Err:       err,
	})
}
