package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/code4history/IIIF-MCP/config"
	"github.com/code4history/IIIF-MCP/internal/adapters/browser"
	"github.com/code4history/IIIF-MCP/internal/adapters/iiifhttp"
	"github.com/code4history/IIIF-MCP/internal/adapters/portscan"
	"github.com/code4history/IIIF-MCP/internal/adapters/tokenpoll"
	httpx "github.com/code4history/IIIF-MCP/internal/http"
	"github.com/code4history/IIIF-MCP/internal/mcp"
	"github.com/code4history/IIIF-MCP/internal/observability/statsd"
	"github.com/code4history/IIIF-MCP/internal/ports"
	"github.com/code4history/IIIF-MCP/internal/service"
)

// Runtime holds the wired application.
type Runtime struct {
	Auth     *service.AuthService
	Server   *mcp.Server
	Sessions *SessionStoreHandle
	Metrics  *statsd.Client

	logger *slog.Logger
}

// RuntimeDeps groups dependencies for BuildRuntime.
type RuntimeDeps struct {
	Config *config.AppConfig
	Logger *slog.Logger
	// Browser overrides the system browser opener (tests).
	Browser ports.BrowserOpener
}

// BuildRuntime connects the session store and wires the auth service and the
// JSON-RPC server.
func BuildRuntime(ctx context.Context, deps RuntimeDeps) (*Runtime, error) {
	if deps.Config == nil {
		return nil, errors.New("config is required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sessions, err := BuildSessionStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Sessions: sessions, logger: logger}
	rt.Metrics = buildMetrics(logger, cfg.Observability.Metrics)
	var sink statsd.Sink
	if rt.Metrics != nil {
		sink = rt.Metrics
	}

	auth, err := BuildAuthService(AuthServiceDeps{
		Config:   cfg,
		Sessions: sessions.Store,
		Browser:  deps.Browser,
		Metrics:  sink,
		Logger:   logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Auth = auth

	server, err := mcp.NewServer(mcp.ServerOptions{Auth: auth, Logger: logger})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("build server: %w", err)
	}
	rt.Server = server
	return rt, nil
}

// Close releases the session store and metrics connections.
func (r *Runtime) Close() {
	if r.Sessions != nil && r.Sessions.Close != nil {
		if err := r.Sessions.Close(); err != nil {
			r.logger.Error("close session store failed", "backend", r.Sessions.Backend, "error", err)
		}
	}
	if r.Metrics != nil {
		if err := r.Metrics.Close(); err != nil {
			r.logger.Error("close metrics client failed", "error", err)
		}
	}
}

// AuthServiceDeps groups dependencies for BuildAuthService.
type AuthServiceDeps struct {
	Config   *config.AppConfig
	Sessions ports.SessionStore
	Browser  ports.BrowserOpener
	Metrics  statsd.Sink
	Logger   *slog.Logger
}

// BuildAuthService wires the outbound adapters into an AuthService.
func BuildAuthService(deps AuthServiceDeps) (*service.AuthService, error) {
	if deps.Config == nil {
		return nil, errors.New("config is required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := iiifhttp.NewClient(iiifhttp.ClientOptions{
		Timeout:      cfg.HTTPClient.FetchTimeout,
		UserAgent:    cfg.HTTPClient.UserAgent,
		MaxBodyBytes: cfg.HTTPClient.MaxBodyBytes,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build http client: %w", err)
	}

	opener := deps.Browser
	if opener == nil {
		opener = browser.NewOpener(browser.OpenerOptions{Logger: logger})
	}

	svc, err := service.NewAuthService(service.AuthServiceOptions{
		Sessions: deps.Sessions,
		Adapters: service.AuthAdapters{
			HTTP:    client,
			Browser: opener,
			Ports:   portscan.NewScanner(portscan.ScannerOptions{Host: cfg.Auth.CallbackHost, Logger: logger}),
			Callbacks: &httpx.CallbackFactory{
				Host:   cfg.Auth.CallbackHost,
				Logger: logger,
			},
			Poller: tokenpoll.NewPoller(tokenpoll.PollerOptions{
				HTTP:        client,
				Interval:    cfg.Auth.PollInterval,
				Grace:       cfg.Auth.PollGrace,
				MaxAttempts: cfg.Auth.PollMaxAttempts,
				Logger:      logger,
			}),
		},
		Config:  cfg.Auth,
		Logger:  logger,
		Metrics: deps.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("build auth service: %w", err)
	}
	return svc, nil
}

// buildMetrics returns a statsd client, or nil when metrics are disabled or the
// client cannot be created.
func buildMetrics(logger *slog.Logger, cfg config.ObservabilityMetricsConfig) *statsd.Client {
	if !cfg.IsEnabled() {
		return nil
	}
	client, err := statsd.New(statsd.Options{
		Address: cfg.StatsdAddress,
		Prefix:  cfg.Prefix,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to initialise statsd client", "error", err)
		return nil
	}
	return client
}
