package service

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/code4history/IIIF-MCP/config"
	domainauth "github.com/code4history/IIIF-MCP/internal/domain/auth"
	apperrors "github.com/code4history/IIIF-MCP/internal/errors"
	"github.com/code4history/IIIF-MCP/internal/mocks"
	"github.com/code4history/IIIF-MCP/internal/ports"
)

// cookieResourceServer serves a manifest protected by a cookie login service.
// A request carrying wantCookie is answered with 200 and Set-Cookie auth=ok.
func cookieResourceServer(t *testing.T, loginPath, wantCookie string, withToken bool) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/manifest", func(w http.ResponseWriter, r *http.Request) {
		if wantCookie != "" && strings.Contains(r.Header.Get("Cookie"), wantCookie) {
			http.SetCookie(w, &http.Cookie{Name: "auth", Value: "ok", Path: "/"})
			writeBody(w, http.StatusOK, `{"id": "granted"}`)
			return
		}
		nested := "[]"
		if withToken {
			nested = fmt.Sprintf(`[{"@id": %q, "profile": %q}]`, srv.URL+"/token", profileV1Token)
		}
		writeBody(w, http.StatusUnauthorized, serviceDoc(srv.URL+"/manifest", fmt.Sprintf(
			`[{"@id": %q, "profile": %q, "label": "Institution login", "service": %s}]`,
			srv.URL+loginPath, profileV1Login, nested)))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCookieFlow_CallbackCookieVerified(t *testing.T) {
	srv := cookieResourceServer(t, "/login", "sid=xyz", false)

	env := newTestEnv(t, envOptions{})
	env.browser.OnOpen = visitCallback(t, "return_url", "", "sid=xyz")

	sess, err := env.svc.Authenticate(context.Background(), srv.URL+"/manifest", nil, domainauth.AuthenticateOptions{})
	env.browser.Wait()
	require.NoError(t, err)

	assert.Equal(t, domainauth.AuthTypeCookie, sess.AuthType)
	assert.Equal(t, "auth=ok", sess.Cookie, "cookie set by the verifying request wins")
	require.NotNil(t, sess.ExpiresAt)
	assert.Equal(t, testNow.Add(time.Hour), *sess.ExpiresAt)

	opened := env.browser.Opened()
	require.Len(t, opened, 1)
	login, err := url.Parse(opened[0])
	require.NoError(t, err)
	assert.Equal(t, "/login", login.Path)
	port := originPort(t, opened[0])
	assert.Equal(t, "http://127.0.0.1:"+port, login.Query().Get("origin"))
	assert.Equal(t, "http://127.0.0.1:"+port+"/callback", login.Query().Get("return_url"))
}

func TestCookieFlow_CredentialsWithoutCookieFallBackToBrowser(t *testing.T) {
	srv := cookieResourceServer(t, "/login", "sid=fallback", false)

	env := newTestEnv(t, envOptions{})
	env.browser.OnOpen = visitCallback(t, "return_url", "", "sid=fallback")

	sess, err := env.svc.Authenticate(context.Background(), srv.URL+"/manifest",
		&domainauth.Credentials{Username: "u", Password: "p"}, domainauth.AuthenticateOptions{})
	env.browser.Wait()
	require.NoError(t, err)
	assert.Equal(t, "auth=ok", sess.Cookie)
	assert.Len(t, env.browser.Opened(), 1)
}

func TestCookieFlow_ExistingReturnParamKept(t *testing.T) {
	srv := cookieResourceServer(t, "/login?return_url=keep", "sid=1", false)

	env := newTestEnv(t, envOptions{})
	env.browser.OnOpen = visitCallback(t, "redirect_uri", "", "sid=1")

	_, err := env.svc.Authenticate(context.Background(), srv.URL+"/manifest", nil, domainauth.AuthenticateOptions{})
	env.browser.Wait()
	require.NoError(t, err)

	opened := env.browser.Opened()
	require.Len(t, opened, 1)
	login, err := url.Parse(opened[0])
	require.NoError(t, err)
	assert.Equal(t, "keep", login.Query().Get("return_url"))
	assert.True(t, strings.HasSuffix(login.Query().Get("redirect_uri"), "/callback"))
}

func TestCookieFlow_EmptyCallbackWithoutPoller(t *testing.T) {
	srv := cookieResourceServer(t, "/login", "", false)

	env := newTestEnv(t, envOptions{})
	env.browser.OnOpen = visitCallback(t, "return_url", "", "")

	_, err := env.svc.Authenticate(context.Background(), srv.URL+"/manifest", nil, domainauth.AuthenticateOptions{})
	env.browser.Wait()
	require.Error(t, err)
	assert.True(t, apperrors.IsMissingCredentials(err))
	assert.Equal(t, browserTimeoutHint, apperrors.GetHint(err))
}

func TestCookieFlow_PolledTokenWins(t *testing.T) {
	srv := cookieResourceServer(t, "/login", "", true)

	ctrl := gomock.NewController(t)
	poller := mocks.NewMockTokenPoller(ctrl)
	poller.EXPECT().Poll(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.PollRequest) (string, error) {
			assert.Equal(t, srv.URL+"/token", req.TokenURL)
			assert.True(t, strings.HasPrefix(req.Origin, "http://127.0.0.1:"))
			if assert.NotNil(t, req.Cookie) {
				assert.Empty(t, req.Cookie())
			}
			return "polled-token", nil
		})

	env := newTestEnv(t, envOptions{poller: poller})

	sess, err := env.svc.Authenticate(context.Background(), srv.URL+"/manifest", nil, domainauth.AuthenticateOptions{})
	require.NoError(t, err)
	assert.Equal(t, domainauth.AuthTypeCookie, sess.AuthType)
	assert.Equal(t, "polled-token", sess.Token)
	assert.Empty(t, sess.Cookie)
}

func TestCookieFlow_EmptyCallbackWaitsForPoller(t *testing.T) {
	srv := cookieResourceServer(t, "/login", "", true)

	visited := make(chan struct{})
	ctrl := gomock.NewController(t)
	poller := mocks.NewMockTokenPoller(ctrl)
	poller.EXPECT().Poll(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ ports.PollRequest) (string, error) {
			select {
			case <-visited:
				return "after-callback", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		})

	env := newTestEnv(t, envOptions{poller: poller})
	visit := visitCallback(t, "return_url", "", "")
	env.browser.OnOpen = func(rawURL string) {
		visit(rawURL)
		close(visited)
	}

	sess, err := env.svc.Authenticate(context.Background(), srv.URL+"/manifest", nil, domainauth.AuthenticateOptions{})
	env.browser.Wait()
	require.NoError(t, err)
	assert.Equal(t, "after-callback", sess.Token)
}

func TestCookieFlow_PollerErrorFailsFlow(t *testing.T) {
	srv := cookieResourceServer(t, "/login", "", true)

	ctrl := gomock.NewController(t)
	poller := mocks.NewMockTokenPoller(ctrl)
	poller.EXPECT().Poll(gomock.Any(), gomock.Any()).
		Return("", apperrors.New(apperrors.ErrCodeTokenService, "token service error: invalidCredentials"))

	env := newTestEnv(t, envOptions{poller: poller})
	_, err := env.svc.Authenticate(context.Background(), srv.URL+"/manifest", nil, domainauth.AuthenticateOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsTokenService(err))
}

func TestCookieFlow_TimeoutReleasesPort(t *testing.T) {
	srv := cookieResourceServer(t, "/login", "", false)

	env := newTestEnv(t, envOptions{config: func(c *config.AuthConfig) {
		c.FlowTimeout = 300 * time.Millisecond
	}})

	start := time.Now()
	_, err := env.svc.Authenticate(context.Background(), srv.URL+"/manifest", nil, domainauth.AuthenticateOptions{})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.True(t, apperrors.IsCallbackTimeout(err))
	assert.Contains(t, err.Error(), "no token service available")
	assert.Equal(t, browserTimeoutHint, apperrors.GetHint(err))

	opened := env.browser.Opened()
	require.Len(t, opened, 1)
	ln, listenErr := net.Listen("tcp", net.JoinHostPort("127.0.0.1", originPort(t, opened[0])))
	require.NoError(t, listenErr, "callback port must be released")
	require.NoError(t, ln.Close())
}

func TestCookieFlow_BrowserDisabledStillWaits(t *testing.T) {
	srv := cookieResourceServer(t, "/login", "", false)

	env := newTestEnv(t, envOptions{config: func(c *config.AuthConfig) {
		c.FlowTimeout = 200 * time.Millisecond
		c.OpenBrowser = false
	}})

	_, err := env.svc.Authenticate(context.Background(), srv.URL+"/manifest", nil, domainauth.AuthenticateOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCallbackTimeout(err))
	assert.Empty(t, env.browser.Opened())
}

func TestCookieFlow_CallerCancellation(t *testing.T) {
	srv := cookieResourceServer(t, "/login", "", false)

	env := newTestEnv(t, envOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	env.browser.OnOpen = func(string) { cancel() }

	_, err := env.svc.Authenticate(ctx, srv.URL+"/manifest", nil, domainauth.AuthenticateOptions{})
	env.browser.Wait()
	require.Error(t, err)
	assert.True(t, apperrors.IsCanceled(err))
}

func TestCookieFlow_NoPortAvailable(t *testing.T) {
	srv := cookieResourceServer(t, "/login", "", false)

	ctrl := gomock.NewController(t)
	finder := mocks.NewMockPortFinder(ctrl)
	finder.EXPECT().FindAvailablePort(gomock.Any(), gomock.Any()).
		Return(0, apperrors.New(apperrors.ErrCodeNoPortAvailable, "no available port found"))

	env := newTestEnv(t, envOptions{})
	env.svc.ports = finder

	_, err := env.svc.Authenticate(context.Background(), srv.URL+"/manifest", nil, domainauth.AuthenticateOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsNoPortAvailable(err))
	assert.Empty(t, env.browser.Opened())
}

func TestCookieFlow_PortTakenAfterScan(t *testing.T) {
	srv := cookieResourceServer(t, "/login", "", false)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	taken := ln.Addr().(*net.TCPAddr).Port

	ctrl := gomock.NewController(t)
	finder := mocks.NewMockPortFinder(ctrl)
	finder.EXPECT().FindAvailablePort(gomock.Any(), gomock.Any()).Return(taken, nil)

	env := newTestEnv(t, envOptions{})
	env.svc.ports = finder

	_, err = env.svc.Authenticate(context.Background(), srv.URL+"/manifest", nil, domainauth.AuthenticateOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsNoPortAvailable(err))
}

func externalResourceServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeBody(w, http.StatusUnauthorized, serviceDoc(srv.URL, fmt.Sprintf(
			`[{"id": %q, "type": "AuthAccessService2", "profile": %q, "label": {"en": ["Campus network"]}}]`,
			srv.URL+"/external", profileV2External)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExternalFlow_Callback(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantToken  string
		wantCookie string
	}{
		{name: "token", query: "token=ext-1", wantToken: "ext-1"},
		{name: "access token alias", query: "access_token=ext-2", wantToken: "ext-2"},
		{name: "session id", query: "sessionId=abc", wantCookie: "session=abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := externalResourceServer(t)
			env := newTestEnv(t, envOptions{})
			env.browser.OnOpen = visitCallback(t, "callback", tt.query, "")

			sess, err := env.svc.Authenticate(context.Background(), srv.URL, nil, domainauth.AuthenticateOptions{})
			env.browser.Wait()
			require.NoError(t, err)

			assert.Equal(t, domainauth.AuthTypeExternal, sess.AuthType)
			assert.Equal(t, tt.wantToken, sess.Token)
			assert.Equal(t, tt.wantCookie, sess.Cookie)
			assert.Equal(t, tt.wantCookie, env.svc.CachedCookie(srv.URL))

			opened := env.browser.Opened()
			require.Len(t, opened, 1)
			login, err := url.Parse(opened[0])
			require.NoError(t, err)
			assert.Equal(t, login.Query().Get("callback"), login.Query().Get("redirect_uri"))
		})
	}
}

func TestExternalFlow_EmptyCallback(t *testing.T) {
	srv := externalResourceServer(t)
	env := newTestEnv(t, envOptions{})
	env.browser.OnOpen = visitCallback(t, "callback", "", "")

	_, err := env.svc.Authenticate(context.Background(), srv.URL, nil, domainauth.AuthenticateOptions{})
	env.browser.Wait()
	require.Error(t, err)
	assert.True(t, apperrors.IsMissingCredentials(err))
	assert.Equal(t, manualTokenHint, apperrors.GetHint(err))
}

func TestExternalFlow_Timeout(t *testing.T) {
	srv := externalResourceServer(t)
	env := newTestEnv(t, envOptions{config: func(c *config.AuthConfig) {
		c.FlowTimeout = 200 * time.Millisecond
	}})

	_, err := env.svc.Authenticate(context.Background(), srv.URL, nil, domainauth.AuthenticateOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCallbackTimeout(err))
	assert.Equal(t, manualTokenHint, apperrors.GetHint(err))
}

func TestLoginURLBuilders(t *testing.T) {
	got, err := cookieLoginURL("https://x/login?return_url=a&redirect_uri=b", "http://localhost:8080", "http://localhost:8080/callback")
	require.NoError(t, err)
	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/callback", u.Query().Get("callback"))
	assert.Equal(t, "a", u.Query().Get("return_url"))

	got, err = externalLoginURL("https://x/ext", "http://localhost:9", "http://localhost:9/callback")
	require.NoError(t, err)
	u, err = url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9", u.Query().Get("origin"))
	assert.Equal(t, "http://localhost:9/callback", u.Query().Get("callback"))
	assert.Equal(t, "http://localhost:9/callback", u.Query().Get("redirect_uri"))

	_, err = cookieLoginURL("://bad", "o", "c")
	require.Error(t, err)
}
