package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	domainauth "github.com/code4history/IIIF-MCP/internal/domain/auth"
	apperrors "github.com/code4history/IIIF-MCP/internal/errors"
	"github.com/code4history/IIIF-MCP/internal/ports"
)

const (
	tokenValueExpr   = "accessToken || token"
	tokenExpiryExpr  = "expiresIn"
	tokenErrorExpr   = "error"
	tokenMessageExpr = "description || message"
)

func (s *AuthService) tokenFlow(
	ctx context.Context,
	resourceURL string,
	svc domainauth.ServiceDescriptor,
	creds *domainauth.Credentials,
) (domainauth.Session, error) {
	tokenSvc, ok := svc.NestedService(domainauth.RoleToken)
	if !ok {
		return domainauth.Session{}, apperrors.New(apperrors.ErrCodeNoTokenService, "no token service found")
	}

	if creds != nil {
		// Some services only need the token GET, so a failed login is not fatal.
		_, err := s.http.Do(ctx, ports.HTTPRequest{
			Method: http.MethodPost,
			URL:    svc.ID,
			Form: url.Values{
				"username": []string{creds.Username},
				"password": []string{creds.Password},
			},
			WithCredentials: true,
		})
		if err != nil {
			s.logger.DebugContext(ctx, "login before token request failed", "login_url", svc.ID, "error", err)
		}
	}

	resp, err := s.http.Do(ctx, ports.HTTPRequest{
		Method:          http.MethodGet,
		URL:             tokenSvc.ID,
		Header:          http.Header{"Accept": []string{"application/json"}},
		WithCredentials: true,
	})
	if err != nil {
		return domainauth.Session{}, networkError(err, "token request")
	}

	token, expiresIn, err := parseTokenResponse(resp)
	if err != nil {
		return domainauth.Session{}, err
	}

	ttl := s.cfg.DefaultSessionTTL
	if expiresIn > 0 {
		ttl = expiresIn
	}
	return domainauth.Session{
		ResourceURL: resourceURL,
		AuthType:    domainauth.AuthTypeToken,
		Token:       token,
		ExpiresAt:   domainauth.ExpiryAfter(s.now(), ttl),
	}, nil
}

// parseTokenResponse reads accessToken (or token) and an optional expiresIn in
// seconds from a token service response.
func parseTokenResponse(resp *ports.HTTPResponse) (string, time.Duration, error) {
	var doc any
	decodeErr := json.Unmarshal(resp.Body, &doc)

	if resp.StatusCode >= http.StatusBadRequest {
		msg := "token service returned status %d"
		if decodeErr == nil {
			if reason := searchString(tokenErrorExpr, doc); reason != "" {
				return "", 0, apperrors.Newf(apperrors.ErrCodeTokenService, msg+": %s", resp.StatusCode, reason)
			}
		}
		return "", 0, apperrors.Newf(apperrors.ErrCodeTokenService, msg, resp.StatusCode)
	}
	if decodeErr != nil {
		return "", 0, apperrors.Wrap(decodeErr, apperrors.ErrCodeTokenService, "token service returned invalid JSON")
	}

	token := searchString(tokenValueExpr, doc)
	if token == "" {
		if reason := searchString(tokenErrorExpr, doc); reason != "" {
			detail := searchString(tokenMessageExpr, doc)
			if detail != "" {
				reason += ": " + detail
			}
			return "", 0, apperrors.Newf(apperrors.ErrCodeTokenService, "token service error: %s", reason)
		}
		return "", 0, apperrors.New(apperrors.ErrCodeTokenService, "no token received from token service")
	}

	var expiresIn time.Duration
	if v, err := jmespath.Search(tokenExpiryExpr, doc); err == nil {
		if secs, ok := v.(float64); ok && secs > 0 {
			expiresIn = time.Duration(secs * float64(time.Second))
		}
	}
	return token, expiresIn, nil
}

func searchString(expr string, data any) string {
	v, err := jmespath.Search(expr, data)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
