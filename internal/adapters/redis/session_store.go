package redis

// Package redis provides a Redis-backed session store for IIIF auth sessions.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	domainauth "github.com/code4history/IIIF-MCP/internal/domain/auth"
	"github.com/code4history/IIIF-MCP/internal/ports"
)

const defaultPrefix = "iiif:session:"

// SessionStore keeps sessions in Redis keyed by resource URL.
// Key TTL follows Session.ExpiresAt; sessions without an expiry never expire.
type SessionStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ ports.SessionStore = (*SessionStore)(nil)

// SessionStoreOptions groups dependencies for NewSessionStore.
type SessionStoreOptions struct {
	Client redis.UniversalClient
	Prefix string
	Now    func() time.Time
}

// NewSessionStore creates a new Redis-based session store.
func NewSessionStore(opts SessionStoreOptions) *SessionStore {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &SessionStore{client: opts.Client, prefix: prefix, now: now}
}

func (s *SessionStore) Set(ctx context.Context, sess domainauth.Session) error {
	if sess.ResourceURL == "" {
		return errors.New("session resource URL cannot be empty")
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	var ttl time.Duration
	if sess.ExpiresAt != nil {
		ttl = sess.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return errors.New("session is expired")
		}
	}

	return s.client.Set(ctx, s.prefix+sess.ResourceURL, data, ttl).Err()
}

func (s *SessionStore) Get(ctx context.Context, resourceURL string) (domainauth.Session, error) {
	if resourceURL == "" {
		return domainauth.Session{}, ports.ErrSessionNotFound
	}

	data, err := s.client.Get(ctx, s.prefix+resourceURL).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domainauth.Session{}, ports.ErrSessionNotFound
		}
		return domainauth.Session{}, fmt.Errorf("redis get: %w", err)
	}

	var sess domainauth.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return domainauth.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return sess, nil
}

func (s *SessionStore) Delete(ctx context.Context, resourceURL string) error {
	if resourceURL == "" {
		return nil
	}
	return s.client.Del(ctx, s.prefix+resourceURL).Err()
}

// List scans the key prefix and returns all sessions ordered by resource URL.
// Keys that expire between the scan and the read are skipped.
func (s *SessionStore) List(ctx context.Context) ([]domainauth.Session, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	out := make([]domainauth.Session, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var sess domainauth.Session
		if err := json.Unmarshal([]byte(str), &sess); err != nil {
			return nil, fmt.Errorf("unmarshal session %s: %w", keys[i], err)
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceURL < out[j].ResourceURL })
	return out, nil
}
