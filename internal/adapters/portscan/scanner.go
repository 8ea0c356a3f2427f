// Package portscan finds a free local TCP port for the auth callback listener.
package portscan

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	domainauth "github.com/code4history/IIIF-MCP/internal/domain/auth"
	"github.com/code4history/IIIF-MCP/internal/errors"
)

// Scanner probes ports sequentially by binding and immediately releasing them.
//
// The port is free when the probe closes but nothing reserves it afterwards, so
// another process can claim it before the callback listener binds. Callers treat
// a bind failure on the returned port as a flow failure.
type Scanner struct {
	host   string
	logger *slog.Logger
}

// ScannerOptions groups dependencies for NewScanner.
type ScannerOptions struct {
	// Host is the interface probed; defaults to 127.0.0.1.
	Host   string
	Logger *slog.Logger
}

// NewScanner constructs a Scanner.
func NewScanner(opts ScannerOptions) *Scanner {
	host := opts.Host
	if host == "" {
		host = "127.0.0.1"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{host: host, logger: logger}
}

// FindAvailablePort returns the lowest port in r that could be bound.
func (s *Scanner) FindAvailablePort(ctx context.Context, r domainauth.PortRange) (int, error) {
	if err := r.Validate(); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeValidation, "callback port range")
	}

	var lc net.ListenConfig
	for port := r.Start; port <= r.End; port++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(s.host, strconv.Itoa(port)))
		if err != nil {
			continue
		}
		if cerr := ln.Close(); cerr != nil {
			s.logger.DebugContext(ctx, "close port probe", "port", port, "error", cerr)
		}
		return port, nil
	}

	return 0, errors.Newf(errors.ErrCodeNoPortAvailable,
		"no available port in range %d-%d", r.Start, r.End).
		WithHint(fmt.Sprintf("free a port between %d and %d or configure IIIF_AUTH_CALLBACK_PORT_START/END", r.Start, r.End))
}
