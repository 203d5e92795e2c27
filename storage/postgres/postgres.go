// Package postgres implements storage.Store on PostgreSQL with sqlx.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chronovista/storage"
)

const (
	// DefaultMaxOpenConns is the default maximum number of open connections
	DefaultMaxOpenConns = 10
	// DefaultMaxIdleConns is the default maximum number of idle connections
	DefaultMaxIdleConns = 5
	// DefaultConnMaxLifetime is the default maximum connection lifetime
	DefaultConnMaxLifetime = 30 * time.Minute
	// DefaultPingTimeout is the default timeout for ping operations
	DefaultPingTimeout = 5 * time.Second
)

//go:embed schema.sql
var schemaSQL string

// Config holds connection settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store implements storage.Store on a *sqlx.DB.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, DefaultMaxOpenConns))
	db.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, DefaultMaxIdleConns))
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = DefaultConnMaxLifetime
	}
	db.SetConnMaxLifetime(lifetime)

	pingCtx, cancel := context.WithTimeout(ctx, DefaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(db), nil
}

// New wraps an existing connection. Tests pass a sqlmock-backed *sqlx.DB.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func orDefault(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

// EnsureSchema creates the tables recovery needs if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// InTx runs fn in a transaction, committing when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, sess storage.Session) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, &session{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListUnavailableVideoIDs returns ids of videos not marked AVAILABLE, oldest first.
func (s *Store) ListUnavailableVideoIDs(ctx context.Context, limit int) ([]string, error) {
	query := `SELECT video_id FROM videos
		WHERE availability_status <> 'AVAILABLE'
		ORDER BY created_at, video_id
		LIMIT NULLIF($1, 0)`

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, max(limit, 0)); err != nil {
		return nil, &storage.StorageError{Op: "list", Entity: "video", Err: err}
	}
	return ids, nil
}

// session binds repositories to one transaction.
type session struct {
	q sqlx.ExtContext
}

func (s *session) Videos() storage.VideoRepository     { return &VideoRepository{q: s.q} }
func (s *session) Channels() storage.ChannelRepository { return &ChannelRepository{q: s.q} }
func (s *session) Tags() storage.VideoTagRepository    { return &VideoTagRepository{q: s.q} }

// mapError translates driver errors into storage sentinels.
func mapError(op, entity, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &storage.StorageError{Op: op, Entity: entity, ID: id, Err: storage.ErrNotFound}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return &storage.StorageError{Op: op, Entity: entity, ID: id, Err: storage.ErrAlreadyExists}
		case "23503": // foreign_key_violation
			return &storage.StorageError{Op: op, Entity: entity, ID: id, Err: storage.ErrForeignKey}
		}
	}
	return &storage.StorageError{Op: op, Entity: entity, ID: id, Err: err}
}
