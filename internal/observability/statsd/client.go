package statsd

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

const dialTimeout = 5 * time.Second

// Sink receives auth flow and resource access metrics.
type Sink interface {
	Count(name string, value int64, tags map[string]string)
	Timing(name string, value time.Duration, tags map[string]string)
}

// Options configures a Client. An empty Address yields a disabled client.
type Options struct {
	Address string
	Prefix  string
	// Tags are appended to every metric; per-call tags win on conflict.
	Tags   map[string]string
	Logger *slog.Logger
}

// Client writes DogStatsD lines over UDP. A nil *Client is a valid no-op sink.
type Client struct {
	prefix string
	tags   map[string]string
	logger *slog.Logger

	mu   sync.Mutex
	conn net.Conn
}

var _ Sink = (*Client)(nil)

// New dials the configured address. Dialing UDP does not contact the peer, so
// errors only surface for unresolvable or malformed addresses.
func New(opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		prefix: strings.Trim(strings.TrimSpace(opts.Prefix), "."),
		tags:   cleanTags(opts.Tags),
		logger: logger.With("component", "statsd"),
	}

	addr := strings.TrimSpace(opts.Address)
	if addr == "" {
		return c, nil
	}
	conn, err := net.DialTimeout("udp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("statsd dial %s: %w", addr, err)
	}
	c.conn = conn
	return c, nil
}

// Enabled reports whether metrics are being sent.
func (c *Client) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) Count(name string, value int64, tags map[string]string) {
	c.send(line{name: name, value: fmt.Sprintf("%d", value), kind: "c", tags: tags})
}

// Timing reports value in fractional milliseconds.
func (c *Client) Timing(name string, value time.Duration, tags map[string]string) {
	ms := float64(value) / float64(time.Millisecond)
	c.send(line{name: name, value: formatMillis(ms), kind: "ms", tags: tags})
}

// Close stops the client. Further calls are no-ops.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *Client) send(l line) {
	if c == nil {
		return
	}
	payload := l.encode(c.prefix, c.tags)
	if payload == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	if _, err := c.conn.Write([]byte(payload)); err != nil {
		c.logger.Debug("statsd write failed", "metric", l.name, "error", err)
	}
}
