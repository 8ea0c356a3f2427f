package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
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

func TestNewAuthService_RequiresDependencies(t *testing.T) {
	_, err := NewAuthService(AuthServiceOptions{})
	require.Error(t, err)

	ctrl := gomock.NewController(t)
	_, err = NewAuthService(AuthServiceOptions{Sessions: mocks.NewMockSessionStore(ctrl)})
	require.Error(t, err)
}

func TestAuthenticate_DirectCredentialsSetCookie(t *testing.T) {
	var srv *httptest.Server
	var logins atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/manifest", func(w http.ResponseWriter, _ *http.Request) {
		writeBody(w, http.StatusUnauthorized, serviceDoc(srv.URL+"/manifest",
			fmt.Sprintf(`[{"@id": %q, "profile": %q, "label": "Demo login"}]`, srv.URL+"/login", profileV1Login)))
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		logins.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "username", r.PostForm.Get("username"))
		assert.Equal(t, "password", r.PostForm.Get("password"))
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc123", Path: "/", HttpOnly: true})
		http.Redirect(w, r, "/welcome", http.StatusFound)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	env := newTestEnv(t, envOptions{})
	resourceURL := srv.URL + "/manifest"

	sess, err := env.svc.Authenticate(context.Background(), resourceURL,
		&domainauth.Credentials{Username: "username", Password: "password"}, domainauth.AuthenticateOptions{})
	require.NoError(t, err)

	assert.Equal(t, domainauth.AuthTypeCookie, sess.AuthType)
	assert.Equal(t, "session=abc123", sess.Cookie)
	require.NotNil(t, sess.ExpiresAt)
	assert.Equal(t, testNow.Add(time.Hour), *sess.ExpiresAt)
	assert.Empty(t, env.browser.Opened(), "no browser activity on the direct path")
	assert.Equal(t, int32(1), logins.Load())
	assert.Equal(t, "session=abc123", env.svc.CachedCookie(resourceURL))

	stored, err := env.store.Get(context.Background(), resourceURL)
	require.NoError(t, err)
	assert.Equal(t, sess, stored)
}

func TestAuthenticate_TokenFlow(t *testing.T) {
	tests := []struct {
		name       string
		tokenBody  string
		wantToken  string
		wantExpiry time.Time
	}{
		{
			name:       "expiresIn honoured",
			tokenBody:  `{"accessToken": "tok-1", "expiresIn": 120}`,
			wantToken:  "tok-1",
			wantExpiry: testNow.Add(120 * time.Second),
		},
		{
			name:       "token field and default ttl",
			tokenBody:  `{"token": "tok-2"}`,
			wantToken:  "tok-2",
			wantExpiry: testNow.Add(time.Hour),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var srv *httptest.Server
			mux := http.NewServeMux()
			mux.HandleFunc("/manifest", func(w http.ResponseWriter, _ *http.Request) {
				writeBody(w, http.StatusUnauthorized, serviceDoc(srv.URL+"/manifest", fmt.Sprintf(
					`{"id": %q, "profile": %q, "service": [{"id": %q, "profile": %q}]}`,
					srv.URL+"/login", profileV1Token, srv.URL+"/token", profileV1Token)))
			})
			mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "application/json", r.Header.Get("Accept"))
				writeBody(w, http.StatusOK, tt.tokenBody)
			})
			srv = httptest.NewServer(mux)
			t.Cleanup(srv.Close)

			env := newTestEnv(t, envOptions{})
			sess, err := env.svc.Authenticate(context.Background(), srv.URL+"/manifest", nil, domainauth.AuthenticateOptions{})
			require.NoError(t, err)

			assert.Equal(t, domainauth.AuthTypeToken, sess.AuthType)
			assert.Equal(t, tt.wantToken, sess.Token)
			require.NotNil(t, sess.ExpiresAt)
			assert.Equal(t, tt.wantExpiry, *sess.ExpiresAt)
		})
	}
}

func TestAuthenticate_TokenFlowLoginFailureIgnored(t *testing.T) {
	var srv *httptest.Server
	var loginCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/manifest", func(w http.ResponseWriter, _ *http.Request) {
		writeBody(w, http.StatusUnauthorized, serviceDoc(srv.URL+"/manifest", fmt.Sprintf(
			`{"id": %q, "profile": %q, "service": {"id": %q, "profile": %q}}`,
			srv.URL+"/login", profileV1Token, srv.URL+"/token", profileV1Token)))
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, _ *http.Request) {
		loginCalls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		writeBody(w, http.StatusOK, `{"accessToken": "tok-3"}`)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	env := newTestEnv(t, envOptions{})
	sess, err := env.svc.Authenticate(context.Background(), srv.URL+"/manifest",
		&domainauth.Credentials{Username: "u", Password: "p"}, domainauth.AuthenticateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "tok-3", sess.Token)
	assert.Equal(t, int32(1), loginCalls.Load())
}

func TestAuthenticate_TokenFlowErrors(t *testing.T) {
	tests := []struct {
		name     string
		nested   bool
		status   int
		body     string
		wantCode apperrors.ErrorCode
	}{
		{name: "no nested token service", nested: false, wantCode: apperrors.ErrCodeNoTokenService},
		{name: "error status", nested: true, status: http.StatusForbidden, body: `{"error": "invalidCredentials"}`, wantCode: apperrors.ErrCodeTokenService},
		{name: "no token in body", nested: true, status: http.StatusOK, body: `{"messageId": "1"}`, wantCode: apperrors.ErrCodeTokenService},
		{name: "explicit error", nested: true, status: http.StatusOK, body: `{"error": "missingCredentials"}`, wantCode: apperrors.ErrCodeTokenService},
		{name: "not json", nested: true, status: http.StatusOK, body: `<html></html>`, wantCode: apperrors.ErrCodeTokenService},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var srv *httptest.Server
			mux := http.NewServeMux()
			mux.HandleFunc("/manifest", func(w http.ResponseWriter, _ *http.Request) {
				nested := "[]"
				if tt.nested {
					nested = fmt.Sprintf(`[{"id": %q, "profile": %q}]`, srv.URL+"/token", profileV1Token)
				}
				writeBody(w, http.StatusUnauthorized, serviceDoc(srv.URL+"/manifest", fmt.Sprintf(
					`{"id": %q, "profile": %q, "service": %s}`, srv.URL+"/login", profileV1Token, nested)))
			})
			mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
				writeBody(w, tt.status, tt.body)
			})
			srv = httptest.NewServer(mux)
			t.Cleanup(srv.Close)

			env := newTestEnv(t, envOptions{})
			_, err := env.svc.Authenticate(context.Background(), srv.URL+"/manifest", nil, domainauth.AuthenticateOptions{})
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperrors.GetCode(err))

			_, getErr := env.store.Get(context.Background(), srv.URL+"/manifest")
			assert.ErrorIs(t, getErr, ports.ErrSessionNotFound)
		})
	}
}

func TestAuthenticate_ReusesValidSessionWithoutNetwork(t *testing.T) {
	ctrl := gomock.NewController(t)
	doer := mocks.NewMockHTTPDoer(ctrl) // no expectations: any request fails the test

	env := newTestEnv(t, envOptions{http: doer})
	expires := testNow.Add(10 * time.Minute)
	existing := domainauth.Session{
		ResourceURL: "https://example.org/manifest",
		AuthType:    domainauth.AuthTypeToken,
		Token:       "kept",
		ExpiresAt:   &expires,
	}
	require.NoError(t, env.store.Set(context.Background(), existing))

	for range 2 {
		sess, err := env.svc.Authenticate(context.Background(), existing.ResourceURL, nil, domainauth.AuthenticateOptions{})
		require.NoError(t, err)
		assert.Equal(t, existing, sess)
	}
}

func TestAuthenticate_SessionWithoutExpiryIsReused(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, envOptions{http: mocks.NewMockHTTPDoer(ctrl)})

	existing := domainauth.Session{ResourceURL: "https://example.org/m", AuthType: domainauth.AuthTypeCookie, Cookie: "a=b"}
	require.NoError(t, env.store.Set(context.Background(), existing))

	sess, err := env.svc.Authenticate(context.Background(), existing.ResourceURL, nil, domainauth.AuthenticateOptions{})
	require.NoError(t, err)
	assert.Equal(t, existing, sess)
}

func TestAuthenticate_ExpiredSessionEvictedAndFlowRuns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeBody(w, http.StatusOK, `{"id": "open", "type": "Manifest"}`)
	}))
	t.Cleanup(srv.Close)

	env := newTestEnv(t, envOptions{})
	past := testNow.Add(-time.Minute)
	require.NoError(t, env.store.Set(context.Background(), domainauth.Session{
		ResourceURL: srv.URL,
		AuthType:    domainauth.AuthTypeToken,
		Token:       "stale",
		ExpiresAt:   &past,
	}))

	_, err := env.svc.Authenticate(context.Background(), srv.URL, nil, domainauth.AuthenticateOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsNoAuthServices(err))

	_, getErr := env.store.Get(context.Background(), srv.URL)
	assert.ErrorIs(t, getErr, ports.ErrSessionNotFound)
}

func TestAuthenticate_DiscoveryFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode apperrors.ErrorCode
	}{
		{name: "no services", status: http.StatusOK, body: `{"id": "x", "service": {"id": "img", "profile": "level2"}}`, wantCode: apperrors.ErrCodeNoAuthServices},
		{
			name:     "no login service",
			status:   http.StatusForbidden,
			body:     fmt.Sprintf(`{"service": [{"id": "https://x/logout", "profile": %q}, {"id": "https://x/probe", "profile": %q}]}`, profileV1Logout, profileV2Probe),
			wantCode: apperrors.ErrCodeNoLoginService,
		},
		{name: "server error", status: http.StatusServiceUnavailable, body: `{}`, wantCode: apperrors.ErrCodeNetwork},
		{name: "not json", status: http.StatusOK, body: `<html/>`, wantCode: apperrors.ErrCodeNoAuthServices},
		{name: "html 401 page", status: http.StatusUnauthorized, body: `<html><body>Login required</body></html>`, wantCode: apperrors.ErrCodeNoAuthServices},
		{name: "empty 401 body", status: http.StatusUnauthorized, body: ``, wantCode: apperrors.ErrCodeNoAuthServices},
		{name: "json array body", status: http.StatusOK, body: `["a", "b"]`, wantCode: apperrors.ErrCodeNoAuthServices},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeBody(w, tt.status, tt.body)
			}))
			t.Cleanup(srv.Close)

			env := newTestEnv(t, envOptions{})
			_, err := env.svc.Authenticate(context.Background(), srv.URL, nil, domainauth.AuthenticateOptions{})
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperrors.GetCode(err))
			assert.Empty(t, env.browser.Opened())
		})
	}
}

func TestAuthenticate_InjectedCredentials(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, envOptions{http: mocks.NewMockHTTPDoer(ctrl)})

	sess, err := env.svc.Authenticate(context.Background(), "https://x/a", nil, domainauth.AuthenticateOptions{Token: "manual"})
	require.NoError(t, err)
	assert.Equal(t, domainauth.AuthTypeToken, sess.AuthType)
	assert.Equal(t, "manual", sess.Token)
	assert.Empty(t, sess.Cookie)
	require.NotNil(t, sess.ExpiresAt)
	assert.Equal(t, testNow.Add(time.Hour), *sess.ExpiresAt)

	sess, err = env.svc.Authenticate(context.Background(), "https://x/b", nil, domainauth.AuthenticateOptions{SessionID: "sid-1"})
	require.NoError(t, err)
	assert.Equal(t, domainauth.AuthTypeCookie, sess.AuthType)
	assert.Equal(t, "session=sid-1", sess.Cookie)

	list, err := env.svc.Sessions(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestAuthenticate_InjectedTTLOverridable(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, envOptions{
		http:   mocks.NewMockHTTPDoer(ctrl),
		config: func(c *config.AuthConfig) { c.DefaultSessionTTL = 15 * time.Minute },
	})

	sess, err := env.svc.Authenticate(context.Background(), "https://x/a", nil, domainauth.AuthenticateOptions{Token: "t"})
	require.NoError(t, err)
	require.NotNil(t, sess.ExpiresAt)
	assert.Equal(t, testNow.Add(15*time.Minute), *sess.ExpiresAt)
}

func TestAuthenticate_RequiresURL(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	_, err := env.svc.Authenticate(context.Background(), "", nil, domainauth.AuthenticateOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, "resourceUrl", apperrors.GetField(err))
}

func TestAuthenticate_ConcurrentCallsShareOneFlow(t *testing.T) {
	var srv *httptest.Server
	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/manifest", func(w http.ResponseWriter, _ *http.Request) {
		writeBody(w, http.StatusUnauthorized, serviceDoc(srv.URL+"/manifest", fmt.Sprintf(
			`{"id": %q, "profile": %q, "service": [{"id": %q, "profile": %q}]}`,
			srv.URL+"/login", profileV1Token, srv.URL+"/token", profileV1Token)))
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		tokenCalls.Add(1)
		time.Sleep(100 * time.Millisecond)
		writeBody(w, http.StatusOK, `{"accessToken": "shared"}`)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	env := newTestEnv(t, envOptions{})

	var wg sync.WaitGroup
	results := make([]domainauth.Session, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = env.svc.Authenticate(context.Background(), srv.URL+"/manifest", nil, domainauth.AuthenticateOptions{})
		}()
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i].Token)
	}
	assert.Equal(t, int32(1), tokenCalls.Load())
}

func TestAuthenticate_StoreFailureSurfaced(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockSessionStore(ctrl)
	store.EXPECT().Get(gomock.Any(), "https://x/a").Return(domainauth.Session{}, ports.ErrSessionNotFound)
	store.EXPECT().Set(gomock.Any(), gomock.Any()).Return(assert.AnError)

	env := newTestEnv(t, envOptions{store: store, http: mocks.NewMockHTTPDoer(ctrl)})
	_, err := env.svc.Authenticate(context.Background(), "https://x/a", nil, domainauth.AuthenticateOptions{Token: "t"})
	require.Error(t, err)
	assert.True(t, apperrors.IsInternal(err))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestGetAuthInfo(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		header  string
		body    string
		want    map[string]any
		wantErr apperrors.ErrorCode
	}{
		{
			name:   "open resource returned unchanged",
			status: http.StatusOK,
			body:   `{"id": "https://x/m", "type": "Manifest"}`,
			want:   map[string]any{"id": "https://x/m", "type": "Manifest"},
		},
		{
			name:   "www-authenticate header",
			status: http.StatusUnauthorized,
			header: `Bearer realm="iiif"`,
			body:   `{"ignored": true}`,
			want:   map[string]any{"authHeader": `Bearer realm="iiif"`},
		},
		{
			name:   "error body with services",
			status: http.StatusForbidden,
			body:   `{"service": {"id": "https://x/login"}}`,
			want:   map[string]any{"service": map[string]any{"id": "https://x/login"}},
		},
		{
			name:   "html 401 page returned as text",
			status: http.StatusUnauthorized,
			body:   `<html>Login required</html>`,
			want:   map[string]any{"body": "<html>Login required</html>"},
		},
		{name: "empty body", status: http.StatusUnauthorized, body: ``, want: map[string]any{"body": ""}},
		{name: "json array body", status: http.StatusOK, body: `[1, "two"]`, want: map[string]any{"body": []any{float64(1), "two"}}},
		{name: "server error", status: http.StatusInternalServerError, body: `{}`, wantErr: apperrors.ErrCodeNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, resourceAccept, r.Header.Get("Accept"))
				if tt.header != "" {
					w.Header().Set("WWW-Authenticate", tt.header)
				}
				writeBody(w, tt.status, tt.body)
			}))
			t.Cleanup(srv.Close)

			env := newTestEnv(t, envOptions{})
			got, err := env.svc.GetAuthInfo(context.Background(), srv.URL)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, apperrors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetAuthInfo_TransportError(t *testing.T) {
	ctrl := gomock.NewController(t)
	doer := mocks.NewMockHTTPDoer(ctrl)
	doer.EXPECT().Do(gomock.Any(), gomock.Any()).Return(nil, assert.AnError)

	env := newTestEnv(t, envOptions{http: doer})
	_, err := env.svc.GetAuthInfo(context.Background(), "https://x/m")
	require.Error(t, err)
	assert.True(t, apperrors.IsNetwork(err))
}
