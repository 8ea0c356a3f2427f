// Package tokenpoll polls an IIIF token service until it hands out an access token.
package tokenpoll

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/code4history/IIIF-MCP/internal/errors"
	"github.com/code4history/IIIF-MCP/internal/ports"
)

const (
	defaultInterval    = time.Second
	defaultGrace       = 5 * time.Second
	defaultMaxAttempts = 120
	progressEvery      = 10

	errMissingCredentials = "missingCredentials"
)

// The token page is either JSON or an HTML page posting a JSON-like message to
// its opener, so both are matched textually.
var (
	accessTokenPattern = regexp.MustCompile(`["']accessToken["']\s*:\s*["']([^"']+)["']`)
	errorPattern       = regexp.MustCompile(`["']error["']\s*:\s*["']([^"']+)["']`)
)

// Poller implements ports.TokenPoller.
type Poller struct {
	http        ports.HTTPDoer
	interval    time.Duration
	grace       time.Duration
	maxAttempts int
	newID       func() string
	logger      *slog.Logger
}

// PollerOptions groups dependencies for NewPoller.
type PollerOptions struct {
	HTTP ports.HTTPDoer
	// Interval between attempts; Grace before the first attempt; MaxAttempts is inclusive.
	Interval    time.Duration
	Grace       time.Duration
	MaxAttempts int
	// NewMessageID overrides message id generation (tests).
	NewMessageID func() string
	Logger       *slog.Logger
}

// NewPoller constructs a Poller. A negative Grace is treated as zero.
func NewPoller(opts PollerOptions) *Poller {
	p := &Poller{
		http:        opts.HTTP,
		interval:    opts.Interval,
		grace:       max(opts.Grace, 0),
		maxAttempts: opts.MaxAttempts,
		newID:       opts.NewMessageID,
		logger:      opts.Logger,
	}
	if p.interval <= 0 {
		p.interval = defaultInterval
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = defaultMaxAttempts
	}
	if p.newID == nil {
		p.newID = func() string { return uuid.NewString() }
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

var _ ports.TokenPoller = (*Poller)(nil)

// Poll waits out the grace period, then asks the token service once per interval
// until it returns a token, reports an error other than missingCredentials, the
// attempt ceiling is reached, or ctx is done. No request is issued after ctx ends.
func (p *Poller) Poll(ctx context.Context, req ports.PollRequest) (string, error) {
	logger := p.logger.With("token_url", req.TokenURL)

	if p.grace > 0 {
		if err := sleep(ctx, p.grace); err != nil {
			return "", err
		}
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	warned := false
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-ticker.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		token, reason := p.attempt(ctx, req)
		switch {
		case token != "":
			logger.InfoContext(ctx, "token obtained", "attempt", attempt)
			return token, nil
		case reason == errMissingCredentials:
			if !warned {
				warned = true
				logger.InfoContext(ctx, "token service reports missing credentials; complete the login in the browser",
					"attempt", attempt)
			}
		case reason != "":
			return "", errors.Newf(errors.ErrCodeTokenService, "token service error: %s", reason)
		}

		if attempt%progressEvery == 0 {
			logger.InfoContext(ctx, "still waiting for authentication", "attempt", attempt, "max_attempts", p.maxAttempts)
		}
	}

	return "", errors.Newf(errors.ErrCodeTimeout, "no token after %d attempts", p.maxAttempts)
}

// attempt performs one request. It returns a token, or the error string reported
// by the service, or neither when the attempt was inconclusive.
func (p *Poller) attempt(ctx context.Context, req ports.PollRequest) (token, reason string) {
	u, err := url.Parse(req.TokenURL)
	if err != nil {
		return "", ""
	}
	q := u.Query()
	q.Set("messageId", p.newID())
	q.Set("origin", req.Origin)
	u.RawQuery = q.Encode()

	header := http.Header{"Accept": {"text/html, application/json"}}
	if req.Cookie != nil {
		if c := req.Cookie(); c != "" {
			header.Set("Cookie", c)
		}
	}

	resp, err := p.http.Do(ctx, ports.HTTPRequest{
		URL:             u.String(),
		Header:          header,
		WithCredentials: true,
	})
	if err != nil {
		p.logger.DebugContext(ctx, "token poll request failed", "error", err)
		return "", ""
	}
	if resp.StatusCode != http.StatusOK {
		return "", ""
	}

	if m := accessTokenPattern.FindSubmatch(resp.Body); m != nil {
		return string(m[1]), ""
	}
	if m := errorPattern.FindSubmatch(resp.Body); m != nil {
		return "", string(m[1])
	}
	return "", ""
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
