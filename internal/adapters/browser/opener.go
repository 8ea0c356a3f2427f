// Package browser opens URLs in the user's default browser.
package browser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/pkg/browser"
)

// Opener implements ports.BrowserOpener using github.com/pkg/browser.
type Opener struct {
	openURL func(string) error
	logger  *slog.Logger
}

// OpenerOptions groups dependencies for NewOpener.
type OpenerOptions struct {
	// Output receives anything the launched helper (open, xdg-open) prints.
	// Defaults to stderr; stdout is reserved for the JSON-RPC stream.
	Output io.Writer
	// OpenURL overrides the launcher (tests).
	OpenURL func(string) error
	Logger  *slog.Logger
}

// NewOpener constructs an Opener.
func NewOpener(opts OpenerOptions) *Opener {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	browser.Stdout = out
	browser.Stderr = out

	openURL := opts.OpenURL
	if openURL == nil {
		openURL = browser.OpenURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Opener{openURL: openURL, logger: logger}
}

// Open launches the browser at rawURL.
func (o *Opener) Open(ctx context.Context, rawURL string) error {
	o.logger.InfoContext(ctx, "opening browser for authentication", "url", rawURL)
	if err := o.openURL(rawURL); err != nil {
		return fmt.Errorf("could not open browser: %w", err)
	}
	return nil
}
