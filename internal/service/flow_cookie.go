package service

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	domainauth "github.com/code4history/IIIF-MCP/internal/domain/auth"
	apperrors "github.com/code4history/IIIF-MCP/internal/errors"
	"github.com/code4history/IIIF-MCP/internal/ports"
)

const (
	// cookieRelayWait bounds how long a cookie-less callback waits for the page
	// script to relay document.cookie.
	cookieRelayWait     = 1500 * time.Millisecond
	cookieRelayInterval = 100 * time.Millisecond
)

const browserTimeoutHint = "Browser sessions cannot be shared with this process. " +
	"Authenticate directly with username and password (without interactive), " +
	"or supply a token or sessionId obtained manually."

// cookieBox holds the most recent cookie captured during one flow.
type cookieBox struct {
	mu     sync.Mutex
	cookie string
}

func (b *cookieBox) set(c string) {
	if c == "" {
		return
	}
	b.mu.Lock()
	b.cookie = c
	b.mu.Unlock()
}

func (b *cookieBox) get() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cookie
}

func (s *AuthService) cookieFlow(
	ctx context.Context,
	resourceURL string,
	svc domainauth.ServiceDescriptor,
	creds *domainauth.Credentials,
	opts domainauth.AuthenticateOptions,
) (domainauth.Session, error) {
	if creds != nil && creds.Username != "" && creds.Password != "" && !opts.Interactive {
		if sess, ok := s.directLogin(ctx, resourceURL, svc, *creds); ok {
			return sess, nil
		}
		s.logger.InfoContext(ctx, "direct login gave no session cookie; falling back to browser authentication",
			"resource_url", resourceURL,
		)
	}

	tokenSvc, polling := svc.NestedService(domainauth.RoleToken)
	polling = polling && s.poller != nil

	captured := &cookieBox{}
	f := browserFlow{
		resourceURL: resourceURL,
		service:     svc,
		mode:        domainauth.CallbackModeCookie,
		loginURL: func(origin, callbackURL string) (string, error) {
			return cookieLoginURL(svc.ID, origin, callbackURL)
		},
		cookie: func() string {
			if c := captured.get(); c != "" {
				return c
			}
			return s.CachedCookie(resourceURL)
		},
		onCallback: func(ctx context.Context, l ports.CallbackListener, res domainauth.CallbackResult, done *completion[domainauth.Session]) {
			s.handleCookieCallback(ctx, cookieCallback{
				resourceURL: resourceURL,
				listener:    l,
				result:      res,
				captured:    captured,
				polling:     polling,
				done:        done,
			})
		},
		timeout: func() error {
			msg := "browser authentication timed out"
			if !polling {
				msg += "; no token service available"
			}
			return apperrors.New(apperrors.ErrCodeCallbackTimeout, msg).WithHint(browserTimeoutHint)
		},
	}
	if polling {
		f.tokenURL = tokenSvc.ID
	}

	return s.runBrowserFlow(ctx, f)
}

// directLogin posts credentials to the login service without following redirects.
// It succeeds only when the response sets at least one cookie.
func (s *AuthService) directLogin(
	ctx context.Context,
	resourceURL string,
	svc domainauth.ServiceDescriptor,
	creds domainauth.Credentials,
) (domainauth.Session, bool) {
	resp, err := s.http.Do(ctx, ports.HTTPRequest{
		Method: http.MethodPost,
		URL:    svc.ID,
		Header: http.Header{"Accept": []string{"application/json"}},
		Form: url.Values{
			"username": []string{creds.Username},
			"password": []string{creds.Password},
		},
		WithCredentials: true,
		NoRedirects:     true,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "direct login failed", "login_url", svc.ID, "error", err)
		return domainauth.Session{}, false
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		s.logger.WarnContext(ctx, "direct login failed", "login_url", svc.ID, "status", resp.StatusCode)
		return domainauth.Session{}, false
	}

	cookie := joinSetCookies(resp.Header)
	if cookie == "" {
		return domainauth.Session{}, false
	}
	s.rememberCookie(resourceURL, cookie)

	return domainauth.Session{
		ResourceURL: resourceURL,
		AuthType:    domainauth.AuthTypeCookie,
		Cookie:      cookie,
		ExpiresAt:   domainauth.ExpiryAfter(s.now(), s.cfg.DefaultSessionTTL),
	}, true
}

type cookieCallback struct {
	resourceURL string
	listener    ports.CallbackListener
	result      domainauth.CallbackResult
	captured    *cookieBox
	polling     bool
	done        *completion[domainauth.Session]
}

// handleCookieCallback verifies the cookie the browser came back with by
// re-fetching the resource. A cookie set on that response replaces the callback
// cookie. Without any cookie the flow fails unless the poller is still running.
func (s *AuthService) handleCookieCallback(ctx context.Context, cb cookieCallback) {
	cookie := cb.result.CookieHeader
	if cookie == "" {
		cookie = waitForRelayedCookies(ctx, cb.listener)
	}
	cb.captured.set(cookie)

	verified := s.verifyCookie(ctx, cb.resourceURL, cookie)
	if verified == "" {
		if cb.polling {
			s.logger.InfoContext(ctx, "callback carried no cookie; waiting for token service",
				"resource_url", cb.resourceURL,
			)
			return
		}
		cb.done.Reject(apperrors.New(apperrors.ErrCodeMissingCredentials,
			"authentication completed but no session cookie was received").WithHint(browserTimeoutHint))
		return
	}

	s.rememberCookie(cb.resourceURL, verified)
	cb.done.Resolve(domainauth.Session{
		ResourceURL: cb.resourceURL,
		AuthType:    domainauth.AuthTypeCookie,
		Cookie:      verified,
		ExpiresAt:   domainauth.ExpiryAfter(s.now(), s.cfg.DefaultSessionTTL),
	})
}

func (s *AuthService) verifyCookie(ctx context.Context, resourceURL, cookie string) string {
	header := http.Header{"Accept": []string{resourceAccept}}
	if cookie != "" {
		header.Set("Cookie", cookie)
	}
	resp, err := s.http.Do(ctx, ports.HTTPRequest{
		Method:          http.MethodGet,
		URL:             resourceURL,
		Header:          header,
		WithCredentials: true,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "verify callback cookie", "resource_url", resourceURL, "error", err)
		return cookie
	}
	if set := joinSetCookies(resp.Header); set != "" {
		return set
	}
	return cookie
}

func waitForRelayedCookies(ctx context.Context, l ports.CallbackListener) string {
	if c := l.RelayedCookies(); c != "" {
		return c
	}
	deadline := time.NewTimer(cookieRelayWait)
	defer deadline.Stop()
	tick := time.NewTicker(cookieRelayInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ""
		case <-deadline.C:
			return l.RelayedCookies()
		case <-tick.C:
			if c := l.RelayedCookies(); c != "" {
				return c
			}
		}
	}
}

// joinSetCookies renders every Set-Cookie header as name=value pairs joined by "; ".
func joinSetCookies(h http.Header) string {
	cookies := (&http.Response{Header: h}).Cookies()
	if len(cookies) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	return strings.Join(pairs, "; ")
}
