package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/code4history/IIIF-MCP/config"
	"github.com/code4history/IIIF-MCP/internal/adapters/memory"
	"github.com/code4history/IIIF-MCP/internal/adapters/postgres"
	redisstore "github.com/code4history/IIIF-MCP/internal/adapters/redis"
	"github.com/code4history/IIIF-MCP/internal/ports"
)

// SessionStoreHandle is the selected session store and the function that
// releases its connections.
type SessionStoreHandle struct {
	Store   ports.SessionStore
	Backend config.SessionBackend
	Close   func() error
}

// BuildSessionStore connects the configured session store backend. The postgres
// backend applies migrations first when enabled.
func BuildSessionStore(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*SessionStoreHandle, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	noop := func() error { return nil }

	switch cfg.Sessions.Backend {
	case config.SessionBackendMemory, "":
		logger.InfoContext(ctx, "using in-memory session store")
		return &SessionStoreHandle{Store: memory.NewSessionStore(), Backend: config.SessionBackendMemory, Close: noop}, nil

	case config.SessionBackendRedis:
		client, err := ConnectRedis(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		store := redisstore.NewSessionStore(redisstore.SessionStoreOptions{
			Client: client,
			Prefix: cfg.Sessions.KeyPrefix,
		})
		return &SessionStoreHandle{Store: store, Backend: config.SessionBackendRedis, Close: client.Close}, nil

	case config.SessionBackendPostgres:
		db, err := ConnectDB(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("connect db: %w", err)
		}
		if cfg.Postgres.RunMigrationsOnStart {
			if err := RunMigrations(ctx, db, logger); err != nil {
				_ = db.Close()
				return nil, err
			}
		} else {
			logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
		}
		store := postgres.NewSessionStore(db)
		if n, err := store.PurgeExpired(ctx, time.Now()); err != nil {
			logger.WarnContext(ctx, "failed to purge expired sessions", "error", err)
		} else if n > 0 {
			logger.InfoContext(ctx, "purged expired sessions", "count", n)
		}
		return &SessionStoreHandle{Store: store, Backend: config.SessionBackendPostgres, Close: db.Close}, nil

	default:
		return nil, fmt.Errorf("unsupported session store backend %q", cfg.Sessions.Backend)
	}
}
