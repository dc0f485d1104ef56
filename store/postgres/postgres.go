// Package postgres implements store.Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mbatyrev/conjugo/store"
)

// DBTX is the querying surface shared by *pgxpool.Pool and pgx.Tx, so
// the repositories run unchanged inside and outside transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config holds the PostgreSQL connection settings.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// Store implements store.Store over a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool // nil for the transaction-scoped view
	db     DBTX
	logger *zap.Logger
}

// Open connects to PostgreSQL, verifies the connection and applies the
// schema.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Parse pool configuration for the PostgreSQL connection.
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &Store{pool: pool, db: pool, logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Cards() store.CardRepository {
	return NewCardRepository(s.db)
}

func (s *Store) Profiles() store.ProfileRepository {
	return NewProfileRepository(s.db)
}

func (s *Store) ReviewLog() store.ReviewLogRepository {
	return NewReviewLogRepository(s.db)
}

// WithinTx runs fn against a Store bound to one transaction. A nested
// call reuses the transaction already in flight.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, st store.Store) error) error {
	if s.pool == nil {
		return fn(ctx, s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &Store{db: tx, logger: s.logger}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// isUniqueViolation reports a primary key collision (SQLSTATE 23505),
// which a versioned insert treats as losing the race.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const schema = `
CREATE TABLE IF NOT EXISTS review_cards (
	user_id          UUID NOT NULL,
	verb_id          BIGINT NOT NULL,
	tense            TEXT NOT NULL DEFAULT '',
	person           TEXT NOT NULL DEFAULT '',
	easiness_factor  DOUBLE PRECISION NOT NULL,
	interval_days    INT NOT NULL,
	repetitions      INT NOT NULL,
	due_date         TIMESTAMPTZ NOT NULL,
	last_reviewed_at TIMESTAMPTZ NOT NULL,
	total_attempts   INT NOT NULL,
	total_correct    INT NOT NULL,
	version          BIGINT NOT NULL,
	PRIMARY KEY (user_id, verb_id, tense, person)
);

CREATE INDEX IF NOT EXISTS idx_review_cards_due
	ON review_cards (user_id, due_date, easiness_factor);

CREATE TABLE IF NOT EXISTS difficulty_profiles (
	user_id         UUID PRIMARY KEY,
	tier            TEXT NOT NULL,
	window_outcomes BOOLEAN[] NOT NULL DEFAULT '{}',
	tier_attempts   INT NOT NULL DEFAULT 0,
	version         BIGINT NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS review_log (
	id               UUID PRIMARY KEY,
	user_id          UUID NOT NULL,
	verb_id          BIGINT NOT NULL,
	tense            TEXT NOT NULL DEFAULT '',
	person           TEXT NOT NULL DEFAULT '',
	quality          SMALLINT NOT NULL,
	correct          BOOLEAN NOT NULL,
	response_time_ms INT NOT NULL,
	hint_used        BOOLEAN NOT NULL,
	tier             TEXT NOT NULL,
	reviewed_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_review_log_user_time
	ON review_log (user_id, reviewed_at DESC);
`

// migrate applies the schema. Statements are idempotent, so running it
// on every start is safe.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return err
}
