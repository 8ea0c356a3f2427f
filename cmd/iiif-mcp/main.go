// Command iiif-mcp serves IIIF authentication over JSON-RPC on stdin/stdout.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/code4history/IIIF-MCP/config"
	"github.com/code4history/IIIF-MCP/internal/bootstrap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}

	logger := bootstrap.InitLogger(cfg)
	if err := run(ctx, &cfg, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		stop()
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) error {
	logStartupInfo(ctx, logger, cfg)

	rt, err := bootstrap.BuildRuntime(ctx, bootstrap.RuntimeDeps{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer rt.Close()

	return rt.Server.Run(ctx, os.Stdin, os.Stdout)
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting iiif-mcp",
		"session_store", cfg.Sessions.Backend,
		"callback_host", cfg.Auth.CallbackHost,
		"callback_ports", fmt.Sprintf("%d-%d", cfg.Auth.CallbackPortStart, cfg.Auth.CallbackPortEnd),
		"flow_timeout", cfg.Auth.FlowTimeout,
		"open_browser", cfg.Auth.OpenBrowser,
		"metrics_enabled", cfg.Observability.Metrics.IsEnabled(),
	)
}
