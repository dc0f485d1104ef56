package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mbatyrev/conjugo/srs"
	"github.com/mbatyrev/conjugo/store"
)

// CardRepository provides access to SM-2 card rows.
type CardRepository struct {
	db sqlx.ExtContext
}

// cardRow mirrors the review_cards table; timestamps ride as integer
// nanoseconds.
type cardRow struct {
	UserID         uuid.UUID `db:"user_id"`
	VerbID         int64     `db:"verb_id"`
	Tense          string    `db:"tense"`
	Person         string    `db:"person"`
	EasinessFactor float64   `db:"easiness_factor"`
	IntervalDays   int       `db:"interval_days"`
	Repetitions    int       `db:"repetitions"`
	DueDate        int64     `db:"due_date"`
	LastReviewedAt int64     `db:"last_reviewed_at"`
	TotalAttempts  int       `db:"total_attempts"`
	TotalCorrect   int       `db:"total_correct"`
	Version        int64     `db:"version"`
}

func (row cardRow) toCard() srs.Card {
	return srs.Card{
		UserID: row.UserID,
		Item: srs.ItemKey{
			VerbID: row.VerbID,
			Tense:  row.Tense,
			Person: row.Person,
		},
		EasinessFactor: row.EasinessFactor,
		IntervalDays:   row.IntervalDays,
		Repetitions:    row.Repetitions,
		DueDate:        time.Unix(0, row.DueDate).UTC(),
		LastReviewedAt: time.Unix(0, row.LastReviewedAt).UTC(),
		TotalAttempts:  row.TotalAttempts,
		TotalCorrect:   row.TotalCorrect,
	}
}

// Get retrieves a single card with its row version. A card that was
// never reviewed returns (nil, 0, nil).
func (r *CardRepository) Get(ctx context.Context, userID uuid.UUID, item srs.ItemKey) (*srs.Card, int64, error) {
	query := `
		SELECT user_id, verb_id, tense, person, easiness_factor, interval_days,
		       repetitions, due_date, last_reviewed_at, total_attempts, total_correct,
		       version
		FROM review_cards
		WHERE user_id = ? AND verb_id = ? AND tense = ? AND person = ?
	`

	var row cardRow
	err := sqlx.GetContext(ctx, r.db, &row, query, userID, item.VerbID, item.Tense, item.Person)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get card: %w", err)
	}

	c := row.toCard()
	return &c, row.Version, nil
}

// Save persists card state read at the given version. Version 0 inserts
// a fresh row; anything else updates guarded by the version column.
// Losing either race returns store.ErrConflict.
func (r *CardRepository) Save(ctx context.Context, card *srs.Card, version int64) error {
	if version == 0 {
		return r.insert(ctx, card)
	}
	return r.update(ctx, card, version)
}

func (r *CardRepository) insert(ctx context.Context, card *srs.Card) error {
	// INSERT ... SELECT ... WHERE NOT EXISTS is one atomic statement,
	// so a concurrent first review shows up as zero rows inserted.
	query := `
		INSERT INTO review_cards (
			user_id, verb_id, tense, person, easiness_factor, interval_days,
			repetitions, due_date, last_reviewed_at, total_attempts, total_correct,
			version
		)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1
		WHERE NOT EXISTS (
			SELECT 1 FROM review_cards
			WHERE user_id = ? AND verb_id = ? AND tense = ? AND person = ?
		)
	`

	res, err := r.db.ExecContext(ctx, query,
		card.UserID, card.Item.VerbID, card.Item.Tense, card.Item.Person,
		card.EasinessFactor, card.IntervalDays, card.Repetitions,
		card.DueDate.UnixNano(), card.LastReviewedAt.UnixNano(),
		card.TotalAttempts, card.TotalCorrect,
		card.UserID, card.Item.VerbID, card.Item.Tense, card.Item.Person,
	)
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	if affected == 0 {
		return store.ErrConflict
	}
	return nil
}

func (r *CardRepository) update(ctx context.Context, card *srs.Card, version int64) error {
	query := `
		UPDATE review_cards
		SET easiness_factor = ?, interval_days = ?, repetitions = ?,
		    due_date = ?, last_reviewed_at = ?, total_attempts = ?,
		    total_correct = ?, version = version + 1
		WHERE user_id = ? AND verb_id = ? AND tense = ? AND person = ?
		  AND version = ?
	`

	res, err := r.db.ExecContext(ctx, query,
		card.EasinessFactor, card.IntervalDays, card.Repetitions,
		card.DueDate.UnixNano(), card.LastReviewedAt.UnixNano(),
		card.TotalAttempts, card.TotalCorrect,
		card.UserID, card.Item.VerbID, card.Item.Tense, card.Item.Person,
		version,
	)
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	if affected == 0 {
		return store.ErrConflict
	}
	return nil
}

// ListDue returns due cards, most overdue first with ties broken by the
// weakest easiness factor.
func (r *CardRepository) ListDue(ctx context.Context, userID uuid.UUID, now time.Time, limit int) ([]srs.Card, error) {
	query := `
		SELECT user_id, verb_id, tense, person, easiness_factor, interval_days,
		       repetitions, due_date, last_reviewed_at, total_attempts, total_correct,
		       version
		FROM review_cards
		WHERE user_id = ? AND due_date <= ?
		ORDER BY due_date ASC, easiness_factor ASC
		LIMIT ?
	`

	var rows []cardRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, userID, now.UnixNano(), limit); err != nil {
		return nil, fmt.Errorf("list due cards: %w", err)
	}

	cards := make([]srs.Card, 0, len(rows))
	for _, row := range rows {
		cards = append(cards, row.toCard())
	}
	return cards, nil
}

// CountDue returns how many of the user's cards are due at now.
func (r *CardRepository) CountDue(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM review_cards WHERE user_id = ? AND due_date <= ?`

	var n int
	if err := sqlx.GetContext(ctx, r.db, &n, query, userID, now.UnixNano()); err != nil {
		return 0, fmt.Errorf("count due cards: %w", err)
	}
	return n, nil
}

// NextDue returns the earliest due date strictly after now, nil when
// nothing further is scheduled.
func (r *CardRepository) NextDue(ctx context.Context, userID uuid.UUID, now time.Time) (*time.Time, error) {
	query := `
		SELECT due_date
		FROM review_cards
		WHERE user_id = ? AND due_date > ?
		ORDER BY due_date ASC
		LIMIT 1
	`

	var ns int64
	err := sqlx.GetContext(ctx, r.db, &ns, query, userID, now.UnixNano())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next due card: %w", err)
	}

	due := time.Unix(0, ns).UTC()
	return &due, nil
}

// ListByUser returns every card of one user in item key order.
func (r *CardRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]srs.Card, error) {
	query := `
		SELECT user_id, verb_id, tense, person, easiness_factor, interval_days,
		       repetitions, due_date, last_reviewed_at, total_attempts, total_correct,
		       version
		FROM review_cards
		WHERE user_id = ?
		ORDER BY verb_id, tense, person
	`

	var rows []cardRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}

	cards := make([]srs.Card, 0, len(rows))
	for _, row := range rows {
		cards = append(cards, row.toCard())
	}
	return cards, nil
}

// DeleteByUser removes all of a user's cards.
func (r *CardRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	query := `DELETE FROM review_cards WHERE user_id = ?`

	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("delete cards: %w", err)
	}
	return nil
}
