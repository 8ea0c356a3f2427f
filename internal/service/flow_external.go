package service

import (
	"context"

	domainauth "github.com/code4history/IIIF-MCP/internal/domain/auth"
	apperrors "github.com/code4history/IIIF-MCP/internal/errors"
	"github.com/code4history/IIIF-MCP/internal/ports"
)

const manualTokenHint = "Complete the login in your browser, then authenticate again " +
	"with the token or sessionId it returned."

// externalFlow waits for the browser to return a token or session id. There is
// no polling fallback.
func (s *AuthService) externalFlow(
	ctx context.Context,
	resourceURL string,
	svc domainauth.ServiceDescriptor,
) (domainauth.Session, error) {
	return s.runBrowserFlow(ctx, browserFlow{
		resourceURL: resourceURL,
		service:     svc,
		mode:        domainauth.CallbackModeExternal,
		loginURL: func(origin, callbackURL string) (string, error) {
			return externalLoginURL(svc.ID, origin, callbackURL)
		},
		onCallback: func(ctx context.Context, _ ports.CallbackListener, res domainauth.CallbackResult, done *completion[domainauth.Session]) {
			if res.Token == "" && res.SessionID == "" {
				done.Reject(apperrors.New(apperrors.ErrCodeMissingCredentials,
					"no authentication data received from callback").WithHint(manualTokenHint))
				return
			}

			sess := domainauth.Session{
				ResourceURL: resourceURL,
				AuthType:    domainauth.AuthTypeExternal,
				Token:       res.Token,
				Cookie:      domainauth.SessionCookie(res.SessionID),
				ExpiresAt:   domainauth.ExpiryAfter(s.now(), s.cfg.DefaultSessionTTL),
			}
			s.rememberCookie(resourceURL, sess.Cookie)
			s.logger.InfoContext(ctx, "external callback received",
				"resource_url", resourceURL,
				"has_token", sess.HasToken(),
				"has_session_id", res.SessionID != "",
			)
			done.Resolve(sess)
		},
		timeout: func() error {
			return apperrors.New(apperrors.ErrCodeCallbackTimeout, "external authentication timed out").
				WithHint(manualTokenHint)
		},
	})
}
