// Package session persists cross-request cache entries in PostgreSQL.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tournevent/shiprate/pkg/shipping/cache"
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS shipping_session_cache (
	session_id TEXT NOT NULL,
	cache_key  TEXT NOT NULL,
	payload    BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (session_id, cache_key)
)`

const loadSQL = `SELECT payload FROM shipping_session_cache WHERE session_id = $1 AND cache_key = $2`

const saveSQL = `
INSERT INTO shipping_session_cache (session_id, cache_key, payload, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (session_id, cache_key)
DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`

const dropSQL = `DELETE FROM shipping_session_cache WHERE session_id = $1`

const expireSQL = `DELETE FROM shipping_session_cache WHERE updated_at < $1`

// PostgresStore is a cache.SessionStore backed by one table. Concurrent
// writers for the same key resolve by last write.
type PostgresStore struct {
	db DB
}

// NewPool opens a connection pool with conservative sizing.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	cfg.MaxConns = 5
	cfg.MinConns = 0
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.ConnConfig.RuntimeParams["application_name"] = "shiprate"
	cfg.ConnConfig.RuntimeParams["statement_timeout"] = "5000"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database pool: %w", err)
	}
	return pool, nil
}

// NewPostgresStore creates the store.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the cache table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating session cache table: %w", err)
	}
	return nil
}

// Load returns the payload stored under key for the session.
func (s *PostgresStore) Load(ctx context.Context, sessionID, key string) ([]byte, bool, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, loadSQL, sessionID, key).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading session cache entry: %w", err)
	}
	return payload, true, nil
}

// Save upserts the payload.
func (s *PostgresStore) Save(ctx context.Context, sessionID, key string, payload []byte) error {
	if _, err := s.db.Exec(ctx, saveSQL, sessionID, key, payload); err != nil {
		return fmt.Errorf("saving session cache entry: %w", err)
	}
	return nil
}

// Drop removes every entry of a session.
func (s *PostgresStore) Drop(ctx context.Context, sessionID string) error {
	if _, err := s.db.Exec(ctx, dropSQL, sessionID); err != nil {
		return fmt.Errorf("dropping session cache: %w", err)
	}
	return nil
}

// Expire removes entries not written since before. It returns the number of
// removed rows.
func (s *PostgresStore) Expire(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, expireSQL, before)
	if err != nil {
		return 0, fmt.Errorf("expiring session cache: %w", err)
	}
	return tag.RowsAffected(), nil
}

var (
	_ cache.SessionStore = (*PostgresStore)(nil)
	_ cache.Dropper      = (*PostgresStore)(nil)
)
