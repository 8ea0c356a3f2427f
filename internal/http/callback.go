package httpx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	domainauth "github.com/code4history/IIIF-MCP/internal/domain/auth"
	"github.com/code4history/IIIF-MCP/internal/ports"
)

const shutdownTimeout = 2 * time.Second

var (
	_ ports.CallbackListener        = (*CallbackListener)(nil)
	_ ports.CallbackListenerFactory = (*CallbackFactory)(nil)
)

// CallbackFactory builds CallbackListeners sharing one host and logger.
type CallbackFactory struct {
	Host   string
	Logger *slog.Logger
}

// NewListener returns an unstarted listener in the given mode.
func (f *CallbackFactory) NewListener(mode domainauth.CallbackMode) ports.CallbackListener {
	return NewCallbackListener(CallbackListenerOptions{Host: f.Host, Mode: mode, Logger: f.Logger})
}

// CallbackListener is a single-use local HTTP server that receives the browser
// after a login. Only the first /callback request produces a result.
type CallbackListener struct {
	host   string
	mode   domainauth.CallbackMode
	logger *slog.Logger

	results     chan domainauth.CallbackResult
	publishOnce sync.Once

	mu      sync.Mutex
	relayed string

	srv       *http.Server
	port      int
	served    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// CallbackListenerOptions groups dependencies for NewCallbackListener.
type CallbackListenerOptions struct {
	// Host is the interface to bind; defaults to 127.0.0.1.
	Host   string
	Mode   domainauth.CallbackMode
	Logger *slog.Logger
}

// NewCallbackListener constructs a listener. Call Start to bind it.
func NewCallbackListener(opts CallbackListenerOptions) *CallbackListener {
	host := opts.Host
	if host == "" {
		host = "127.0.0.1"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CallbackListener{
		host:    host,
		mode:    opts.Mode,
		logger:  logger.With("component", "callback_listener"),
		results: make(chan domainauth.CallbackResult, 1),
	}
}

// Handler returns the routing for the callback endpoints.
func (l *CallbackListener) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /callback", l.handleCallback)
	mux.HandleFunc("POST /callback/cookies", l.handleCookies)
	// Other methods on the callback paths are unknown routes, not 405s.
	mux.HandleFunc("/callback", http.NotFound)
	mux.HandleFunc("/callback/cookies", http.NotFound)
	mux.HandleFunc("/", http.NotFound)
	return Recover(l.logger)(Logging(l.logger)(NoStore(mux)))
}

// Start binds port and serves in the background. A bind failure is returned as is;
// the port may have been taken after it was scanned.
func (l *CallbackListener) Start(port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(l.host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("bind callback listener on port %d: %w", port, err)
	}

	l.port = port
	l.srv = &http.Server{
		Handler:           l.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	l.served = make(chan struct{})

	go func() {
		defer close(l.served)
		if serveErr := l.srv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			l.logger.Error("callback listener stopped", "error", serveErr)
		}
	}()

	l.logger.Info("callback listener started", "url", l.CallbackURL())
	return nil
}

// Origin is the browser-visible origin of the listener. It names the bound
// address, so the browser never has to guess between IPv4 and IPv6 loopback.
func (l *CallbackListener) Origin() string {
	return "http://" + net.JoinHostPort(advertisedHost(l.host), strconv.Itoa(l.port))
}

// advertisedHost maps a bind host to the host a local browser should dial.
// Wildcard binds are reached through the loopback of the same family.
func advertisedHost(bind string) string {
	switch bind {
	case "", "0.0.0.0":
		return "127.0.0.1"
	case "::":
		return "::1"
	default:
		return bind
	}
}

// CallbackURL is the URL the login page should return the browser to.
func (l *CallbackListener) CallbackURL() string {
	return l.Origin() + "/callback"
}

// Results delivers at most one CallbackResult.
func (l *CallbackListener) Results() <-chan domainauth.CallbackResult {
	return l.results
}

// RelayedCookies returns the last cookie string posted to /callback/cookies.
func (l *CallbackListener) RelayedCookies() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.relayed
}

// Close shuts the server down and waits for it to stop. Safe to call repeatedly.
func (l *CallbackListener) Close() error {
	l.closeOnce.Do(func() {
		if l.srv == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := l.srv.Shutdown(ctx); err != nil {
			l.closeErr = err
			_ = l.srv.Close()
		}
		<-l.served
		l.logger.Info("callback listener closed", "port", l.port)
	})
	return l.closeErr
}

func (l *CallbackListener) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result := domainauth.CallbackResult{
		Token:        firstParam(q.Get("token"), q.Get("access_token")),
		SessionID:    firstParam(q.Get("session"), q.Get("sessionId")),
		CookieHeader: r.Header.Get("Cookie"),
	}

	l.publishOnce.Do(func() {
		l.results <- result
	})

	data := callbackPageData{External: l.mode == domainauth.CallbackModeExternal}
	if data.External {
		data.Token = result.Token
		data.SessionID = result.SessionID
	}
	if err := renderCallbackPage(w, data); err != nil {
		l.logger.Warn("render callback page", "error", err)
	}
}

type relayedCookies struct {
	Cookies string `json:"cookies"`
}

func (l *CallbackListener) handleCookies(w http.ResponseWriter, r *http.Request) {
	var body relayedCookies
	if !DecodeJSON(w, r, &body) {
		return
	}
	cookies := strings.TrimSpace(body.Cookies)
	if cookies == "" {
		WriteError(w, http.StatusBadRequest, "missing_cookies", errors.New("cookies is required"))
		return
	}

	l.mu.Lock()
	l.relayed = cookies
	l.mu.Unlock()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func firstParam(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
