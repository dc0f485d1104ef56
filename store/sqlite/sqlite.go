// Package sqlite implements store.Store on SQLite via sqlx and the
// pure-Go modernc driver, for single-node deployments that do not run
// PostgreSQL.
package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mbatyrev/conjugo/store"
)

// Store implements store.Store over a SQLite database file.
type Store struct {
	db     *sqlx.DB // nil for the transaction-scoped view
	q      sqlx.ExtContext
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sqlx.ConnectContext(ctx, "sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	// SQLite allows a single writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db, q: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Cards() store.CardRepository {
	return &CardRepository{db: s.q}
}

func (s *Store) Profiles() store.ProfileRepository {
	return &ProfileRepository{db: s.q}
}

func (s *Store) ReviewLog() store.ReviewLogRepository {
	return &ReviewLogRepository{db: s.q}
}

// WithinTx runs fn against a Store bound to one transaction. A nested
// call reuses the transaction already in flight.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, st store.Store) error) error {
	if s.db == nil {
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &Store{q: tx, logger: s.logger}); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the database file.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Timestamps are stored as integer nanoseconds since the Unix epoch so
// reads never depend on the driver's string parsing.
const schema = `
CREATE TABLE IF NOT EXISTS review_cards (
	user_id          TEXT NOT NULL,
	verb_id          INTEGER NOT NULL,
	tense            TEXT NOT NULL DEFAULT '',
	person           TEXT NOT NULL DEFAULT '',
	easiness_factor  REAL NOT NULL,
	interval_days    INTEGER NOT NULL,
	repetitions      INTEGER NOT NULL,
	due_date         INTEGER NOT NULL,
	last_reviewed_at INTEGER NOT NULL,
	total_attempts   INTEGER NOT NULL,
	total_correct    INTEGER NOT NULL,
	version          INTEGER NOT NULL,
	PRIMARY KEY (user_id, verb_id, tense, person)
);

CREATE INDEX IF NOT EXISTS idx_review_cards_due
	ON review_cards (user_id, due_date, easiness_factor);

CREATE TABLE IF NOT EXISTS difficulty_profiles (
	user_id         TEXT PRIMARY KEY,
	tier            TEXT NOT NULL,
	window_outcomes TEXT NOT NULL DEFAULT '[]',
	tier_attempts   INTEGER NOT NULL DEFAULT 0,
	version         INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS review_log (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	verb_id          INTEGER NOT NULL,
	tense            TEXT NOT NULL DEFAULT '',
	person           TEXT NOT NULL DEFAULT '',
	quality          INTEGER NOT NULL,
	correct          INTEGER NOT NULL,
	response_time_ms INTEGER NOT NULL,
	hint_used        INTEGER NOT NULL,
	tier             TEXT NOT NULL,
	reviewed_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_review_log_user_time
	ON review_log (user_id, reviewed_at DESC);
`

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}
