package service

import (
	"context"
	"net/url"

	"golang.org/x/sync/errgroup"

	domainauth "github.com/code4history/IIIF-MCP/internal/domain/auth"
	apperrors "github.com/code4history/IIIF-MCP/internal/errors"
	"github.com/code4history/IIIF-MCP/internal/ports"
)

// browserFlow describes one browser-driven authentication attempt.
type browserFlow struct {
	resourceURL string
	service     domainauth.ServiceDescriptor
	mode        domainauth.CallbackMode

	// loginURL decorates the service URL with the listener's origin and callback URL.
	loginURL func(origin, callbackURL string) (string, error)

	// onCallback consumes the browser's return. It settles done, or leaves it
	// unsettled when the poller may still win.
	onCallback func(ctx context.Context, l ports.CallbackListener, res domainauth.CallbackResult, done *completion[domainauth.Session])

	// tokenURL enables token polling alongside the callback when non-empty.
	tokenURL string
	cookie   func() string

	timeout func() error
}

// runBrowserFlow binds a callback listener, opens the login page and waits for
// the first of: a settled callback, a polled token, or the flow deadline. The
// callback waiter and poller share one errgroup bound to the flow deadline; the
// listener is closed and the group drained before returning.
func (s *AuthService) runBrowserFlow(ctx context.Context, f browserFlow) (domainauth.Session, error) {
	if s.ports == nil || s.callbacks == nil {
		return domainauth.Session{}, apperrors.Internal("browser authentication is not configured")
	}

	port, err := s.ports.FindAvailablePort(ctx, domainauth.PortRange{
		Start: s.cfg.CallbackPortStart,
		End:   s.cfg.CallbackPortEnd,
	})
	if err != nil {
		return domainauth.Session{}, err
	}

	listener := s.callbacks.NewListener(f.mode)
	if startErr := listener.Start(port); startErr != nil {
		// The port can be taken between the scan and this bind.
		return domainauth.Session{}, apperrors.Wrapf(startErr, apperrors.ErrCodeNoPortAvailable,
			"callback port %d is no longer available", port)
	}

	loginURL, err := f.loginURL(listener.Origin(), listener.CallbackURL())
	if err != nil {
		s.closeListener(ctx, listener)
		return domainauth.Session{}, apperrors.Wrapf(err, apperrors.ErrCodeValidation, "invalid login URL %q", f.service.ID)
	}

	flowCtx, cancel := context.WithTimeout(ctx, s.cfg.FlowTimeout)
	defer cancel()

	done := newCompletion[domainauth.Session]()
	g, gctx := errgroup.WithContext(flowCtx)

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case res := <-listener.Results():
			f.onCallback(gctx, listener, res, done)
		}
		return nil
	})

	if f.tokenURL != "" && s.poller != nil {
		g.Go(func() error {
			token, pollErr := s.poller.Poll(gctx, ports.PollRequest{
				TokenURL: f.tokenURL,
				Origin:   listener.Origin(),
				Cookie:   f.cookie,
			})
			if pollErr != nil {
				if gctx.Err() == nil {
					done.Reject(pollErr)
				}
				return nil
			}
			// Only the cookie flow polls; a polled token still yields a cookie-type session.
			done.Resolve(domainauth.Session{
				ResourceURL: f.resourceURL,
				AuthType:    domainauth.AuthTypeCookie,
				Token:       token,
				ExpiresAt:   domainauth.ExpiryAfter(s.now(), s.cfg.DefaultSessionTTL),
			})
			return nil
		})
	}

	s.openBrowser(ctx, loginURL, f)

	select {
	case <-done.Done():
	case <-flowCtx.Done():
	}

	cancel()
	s.closeListener(ctx, listener)
	_ = g.Wait()

	select {
	case <-done.Done():
		return done.Result()
	default:
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domainauth.Session{}, networkError(ctxErr, "authentication")
	}
	return domainauth.Session{}, f.timeout()
}

func (s *AuthService) openBrowser(ctx context.Context, loginURL string, f browserFlow) {
	label := f.service.Label.First()
	if label == "" {
		label = f.service.Header.First()
	}
	s.logger.InfoContext(ctx, "waiting for browser authentication",
		"service", label,
		"description", f.service.Description.First(),
		"login_url", loginURL,
		"timeout", s.cfg.FlowTimeout,
	)

	if !s.cfg.OpenBrowser || s.browser == nil {
		s.logger.InfoContext(ctx, "browser launch disabled; open the login URL manually", "login_url", loginURL)
		return
	}
	if err := s.browser.Open(ctx, loginURL); err != nil {
		s.logger.WarnContext(ctx, "could not open browser; open the login URL manually",
			"login_url", loginURL,
			"error", err,
		)
	}
}

func (s *AuthService) closeListener(ctx context.Context, l ports.CallbackListener) {
	if err := l.Close(); err != nil {
		s.logger.WarnContext(ctx, "close callback listener", "error", err)
	}
}

// Parameter names login pages commonly accept for the return address.
var callbackParamNames = []string{"return_url", "redirect_uri", "callback", "returnTo", "next"}

// cookieLoginURL adds origin and the callback URL under the first parameter name
// the login URL does not already use.
func cookieLoginURL(serviceURL, origin, callbackURL string) (string, error) {
	u, err := url.Parse(serviceURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("origin", origin)
	for _, name := range callbackParamNames {
		if !q.Has(name) {
			q.Set(name, callbackURL)
			break
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// externalLoginURL sets origin, callback and redirect_uri.
func externalLoginURL(serviceURL, origin, callbackURL string) (string, error) {
	u, err := url.Parse(serviceURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("origin", origin)
	q.Set("callback", callbackURL)
	q.Set("redirect_uri", callbackURL)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
