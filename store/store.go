// Package store defines the persistence contracts for cards, difficulty
// profiles and the review history, plus the sentinel errors shared by
// all backends. Implementations live in the memory, postgres and sqlite
// subpackages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mbatyrev/conjugo/difficulty"
	"github.com/mbatyrev/conjugo/srs"
)

// ErrConflict reports a versioned save that lost a race: the row moved
// on since it was read. Callers reload the latest state, recompute and
// retry.
var ErrConflict = errors.New("store: version conflict")

// ReviewEntry is one graded answer, kept append-only for statistics.
type ReviewEntry struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Item           srs.ItemKey
	Quality        srs.Quality
	Correct        bool
	ResponseTimeMs int
	HintUsed       bool
	Tier           difficulty.Tier
	ReviewedAt     time.Time
}

// CardRepository persists SM-2 card state. Reads return the stored row
// version next to the card; Save takes that version back and fails with
// ErrConflict when the row changed in between.
type CardRepository interface {
	// Get loads one card. A card that was never reviewed returns
	// (nil, 0, nil), not an error.
	Get(ctx context.Context, userID uuid.UUID, item srs.ItemKey) (*srs.Card, int64, error)

	// Save writes card state that was read at the given version.
	// Version 0 inserts a fresh row; anything else updates guarded by
	// the version column.
	Save(ctx context.Context, card *srs.Card, version int64) error

	// ListDue returns cards with a due date at or before now, ordered
	// by ascending due date with ties broken by ascending easiness
	// factor, at most limit rows.
	ListDue(ctx context.Context, userID uuid.UUID, now time.Time, limit int) ([]srs.Card, error)

	// CountDue returns how many cards are due at now.
	CountDue(ctx context.Context, userID uuid.UUID, now time.Time) (int, error)

	// NextDue returns the earliest due date strictly after now, nil
	// when nothing further is scheduled.
	NextDue(ctx context.Context, userID uuid.UUID, now time.Time) (*time.Time, error)

	// ListByUser returns every card of one user.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]srs.Card, error)

	// DeleteByUser removes all of a user's cards.
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
}

// ProfileRepository persists difficulty profiles with the same version
// discipline as cards.
type ProfileRepository interface {
	// Get loads one profile, (nil, 0, nil) when the user has none yet.
	Get(ctx context.Context, userID uuid.UUID) (*difficulty.Profile, int64, error)

	// Save writes a profile read at the given version, 0 to insert.
	Save(ctx context.Context, profile *difficulty.Profile, version int64) error

	// DeleteByUser removes the user's profile.
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
}

// ReviewLogRepository keeps the append-only review history.
type ReviewLogRepository interface {
	Insert(ctx context.Context, entry *ReviewEntry) error

	// CountSince returns the number of entries at or after since.
	CountSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)

	// ActiveDays returns the distinct UTC midnights with at least one
	// entry at or after since, most recent day first.
	ActiveDays(ctx context.Context, userID uuid.UUID, since time.Time) ([]time.Time, error)

	// DeleteByUser removes the user's whole history.
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
}

// Store aggregates the repositories over one backend.
type Store interface {
	Cards() CardRepository
	Profiles() ProfileRepository
	ReviewLog() ReviewLogRepository

	// WithinTx runs fn with a Store whose repositories share one
	// transaction. An error from fn rolls the whole transaction back;
	// nested calls join the transaction already in flight.
	WithinTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error

	// Close releases the backend. The store must not be used after.
	Close() error
}
