package service

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/code4history/IIIF-MCP/config"
	"github.com/code4history/IIIF-MCP/internal/adapters/iiifhttp"
	"github.com/code4history/IIIF-MCP/internal/adapters/memory"
	"github.com/code4history/IIIF-MCP/internal/adapters/portscan"
	httpx "github.com/code4history/IIIF-MCP/internal/http"
	authmocks "github.com/code4history/IIIF-MCP/internal/mocks/auth"
	"github.com/code4history/IIIF-MCP/internal/ports"
)

var testNow = time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

const (
	profileV1Login    = "http://iiif.io/api/auth/1/login"
	profileV1Token    = "http://iiif.io/api/auth/1/token"
	profileV1Logout   = "http://iiif.io/api/auth/1/logout"
	profileV2Probe    = "http://iiif.io/api/auth/2/probe"
	profileV2External = "http://iiif.io/api/auth/2/external"
)

type testEnv struct {
	svc     *AuthService
	store   *memory.SessionStore
	browser *authmocks.RecordingBrowser
}

type envOptions struct {
	http   ports.HTTPDoer
	poller ports.TokenPoller
	store  ports.SessionStore
	config func(*config.AuthConfig)
}

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		CallbackHost:      "127.0.0.1",
		CallbackPortStart: 21000,
		CallbackPortEnd:   21999,
		FlowTimeout:       5 * time.Second,
		DefaultSessionTTL: time.Hour,
		PollInterval:      10 * time.Millisecond,
		PollGrace:         0,
		PollMaxAttempts:   5,
		OpenBrowser:       true,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	doer := opts.http
	if doer == nil {
		client, err := iiifhttp.NewClient(iiifhttp.ClientOptions{Timeout: 5 * time.Second, Logger: discardLogger()})
		require.NoError(t, err)
		doer = client
	}

	mem := memory.NewSessionStore()
	var store ports.SessionStore = mem
	if opts.store != nil {
		store = opts.store
	}

	cfg := testAuthConfig()
	if opts.config != nil {
		opts.config(&cfg)
	}

	browser := &authmocks.RecordingBrowser{}
	svc, err := NewAuthService(AuthServiceOptions{
		Sessions: store,
		Adapters: AuthAdapters{
			HTTP:      doer,
			Browser:   browser,
			Ports:     portscan.NewScanner(portscan.ScannerOptions{Host: cfg.CallbackHost, Logger: discardLogger()}),
			Callbacks: &httpx.CallbackFactory{Host: cfg.CallbackHost, Logger: discardLogger()},
			Poller:    opts.poller,
		},
		Config: cfg,
		Logger: discardLogger(),
		Now:    func() time.Time { return testNow },
	})
	require.NoError(t, err)

	return &testEnv{svc: svc, store: mem, browser: browser}
}

// writeBody writes a JSON body with the given status.
func writeBody(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// serviceDoc renders a resource document declaring the given service JSON.
func serviceDoc(id, services string) string {
	return fmt.Sprintf(`{"id": %q, "type": "Manifest", "label": {"en": ["Protected"]}, "service": %s}`, id, services)
}

// visitCallback returns a browser action that follows the callback URL found in
// param of the login URL, adding query and sending cookie.
func visitCallback(t *testing.T, param, query, cookie string) func(string) {
	return func(rawURL string) {
		u, err := url.Parse(rawURL)
		if err != nil {
			t.Errorf("parse login URL: %v", err)
			return
		}
		target := u.Query().Get(param)
		if target == "" {
			t.Errorf("login URL %s has no %s parameter", rawURL, param)
			return
		}
		if query != "" {
			target += "?" + query
		}
		if _, err := authmocks.VisitCallback(target, cookie); err != nil {
			t.Errorf("visit callback: %v", err)
		}
	}
}

// originPort extracts the callback port from a login URL's origin parameter.
func originPort(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	origin, err := url.Parse(u.Query().Get("origin"))
	require.NoError(t, err)
	return origin.Port()
}
