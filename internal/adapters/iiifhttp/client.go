// Package iiifhttp performs outbound requests to IIIF resources and their auth services.
package iiifhttp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/code4history/IIIF-MCP/internal/ports"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxBodyBytes = 16 << 20
)

// Client implements ports.HTTPDoer with two underlying clients: a plain one and a
// credentialed one whose cookie jar replays cookies set by earlier responses.
type Client struct {
	plain        *http.Client
	credentialed *http.Client
	userAgent    string
	maxBodyBytes int64
	logger       *slog.Logger
}

// ClientOptions groups dependencies for NewClient.
type ClientOptions struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	// Transport overrides the default transport (tests).
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// NewClient constructs a Client.
func NewClient(opts ClientOptions) (*Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	return &Client{
		plain:        &http.Client{Timeout: timeout, Transport: transport},
		credentialed: &http.Client{Timeout: timeout, Transport: transport, Jar: jar},
		userAgent:    opts.UserAgent,
		maxBodyBytes: maxBody,
		logger:       logger,
	}, nil
}

var _ ports.HTTPDoer = (*Client)(nil)

// Do issues the request and reads the full body. Any HTTP status is returned as a
// response; only transport failures are errors.
func (c *Client) Do(ctx context.Context, in ports.HTTPRequest) (*ports.HTTPResponse, error) {
	method := in.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if in.Form != nil {
		body = strings.NewReader(in.Form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, in.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range in.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if in.Form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.clientFor(in).Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.DebugContext(ctx, "close response body", "url", in.URL, "error", cerr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &ports.HTTPResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func (c *Client) clientFor(in ports.HTTPRequest) *http.Client {
	base := c.plain
	if in.WithCredentials {
		base = c.credentialed
	}
	if !in.NoRedirects {
		return base
	}
	cp := *base
	cp.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &cp
}
