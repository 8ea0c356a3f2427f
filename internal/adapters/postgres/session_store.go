// Package postgres provides a PostgreSQL-backed session store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/code4history/IIIF-MCP/internal/data/pgxutil"
	domainauth "github.com/code4history/IIIF-MCP/internal/domain/auth"
	apperrors "github.com/code4history/IIIF-MCP/internal/errors"
	"github.com/code4history/IIIF-MCP/internal/ports"
)

const (
	selectSessionSQL = `SELECT resource_url, auth_type, token, cookie, expires_at
		FROM iiif_auth_sessions WHERE resource_url = $1`
	listSessionsSQL = `SELECT resource_url, auth_type, token, cookie, expires_at
		FROM iiif_auth_sessions ORDER BY resource_url`
	upsertSessionSQL = `INSERT INTO iiif_auth_sessions (resource_url, auth_type, token, cookie, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (resource_url) DO UPDATE SET
			auth_type = EXCLUDED.auth_type,
			token = EXCLUDED.token,
			cookie = EXCLUDED.cookie,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()`
	deleteSessionSQL = `DELETE FROM iiif_auth_sessions WHERE resource_url = $1`
	purgeExpiredSQL  = `DELETE FROM iiif_auth_sessions WHERE expires_at IS NOT NULL AND expires_at <= $1`
)

// SessionStore persists sessions in the iiif_auth_sessions table.
type SessionStore struct {
	DB *sql.DB
}

var _ ports.SessionStore = (*SessionStore)(nil)

// NewSessionStore creates a new SessionStore.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{DB: db}
}

func (s *SessionStore) Get(ctx context.Context, resourceURL string) (domainauth.Session, error) {
	var sess domainauth.Session
	err := pgxutil.WithConn(ctx, s.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, selectSessionSQL, resourceURL)
		if err != nil {
			return err
		}
		sess, err = pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[domainauth.Session])
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return domainauth.Session{}, ports.ErrSessionNotFound
	}
	if err != nil {
		return domainauth.Session{}, apperrors.MapDBError(err)
	}
	return sess, nil
}

func (s *SessionStore) Set(ctx context.Context, sess domainauth.Session) error {
	if sess.ResourceURL == "" {
		return apperrors.ValidationField("resource_url", "session resource URL cannot be empty")
	}
	_, err := s.DB.ExecContext(ctx, upsertSessionSQL,
		sess.ResourceURL, string(sess.AuthType), sess.Token, sess.Cookie, sess.ExpiresAt)
	return apperrors.MapDBError(err)
}

func (s *SessionStore) Delete(ctx context.Context, resourceURL string) error {
	_, err := s.DB.ExecContext(ctx, deleteSessionSQL, resourceURL)
	return apperrors.MapDBError(err)
}

func (s *SessionStore) List(ctx context.Context) ([]domainauth.Session, error) {
	var out []domainauth.Session
	err := pgxutil.WithConn(ctx, s.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, listSessionsSQL)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, pgx.RowToStructByName[domainauth.Session])
		return err
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return out, nil
}

// PurgeExpired removes sessions whose expiry is at or before now and returns how many were removed.
func (s *SessionStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, purgeExpiredSQL, now)
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	return res.RowsAffected()
}
