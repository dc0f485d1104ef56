package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mbatyrev/conjugo/srs"
	"github.com/mbatyrev/conjugo/store"
)

// CardRepository provides access to SM-2 card rows.
type CardRepository struct {
	db DBTX
}

// NewCardRepository creates a CardRepository over the given connection.
func NewCardRepository(db DBTX) *CardRepository {
	return &CardRepository{db: db}
}

func scanCard(row pgx.Row) (srs.Card, int64, error) {
	var c srs.Card
	var version int64
	err := row.Scan(
		&c.UserID, &c.Item.VerbID, &c.Item.Tense, &c.Item.Person,
		&c.EasinessFactor, &c.IntervalDays, &c.Repetitions,
		&c.DueDate, &c.LastReviewedAt,
		&c.TotalAttempts, &c.TotalCorrect,
		&version,
	)
	return c, version, err
}

// Get retrieves a single card with its row version. A card that was
// never reviewed returns (nil, 0, nil).
func (r *CardRepository) Get(ctx context.Context, userID uuid.UUID, item srs.ItemKey) (*srs.Card, int64, error) {
	query := `
		SELECT user_id, verb_id, tense, person, easiness_factor, interval_days,
		       repetitions, due_date, last_reviewed_at, total_attempts, total_correct,
		       version
		FROM review_cards
		WHERE user_id = $1 AND verb_id = $2 AND tense = $3 AND person = $4
	`

	c, version, err := scanCard(r.db.QueryRow(ctx, query, userID, item.VerbID, item.Tense, item.Person))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get card: %w", err)
	}
	return &c, version, nil
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
	query := `
		INSERT INTO review_cards (
			user_id, verb_id, tense, person, easiness_factor, interval_days,
			repetitions, due_date, last_reviewed_at, total_attempts, total_correct,
			version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
	`

	_, err := r.db.Exec(ctx, query,
		card.UserID, card.Item.VerbID, card.Item.Tense, card.Item.Person,
		card.EasinessFactor, card.IntervalDays, card.Repetitions,
		card.DueDate, card.LastReviewedAt,
		card.TotalAttempts, card.TotalCorrect,
	)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	return nil
}

func (r *CardRepository) update(ctx context.Context, card *srs.Card, version int64) error {
	query := `
		UPDATE review_cards
		SET easiness_factor = $5, interval_days = $6, repetitions = $7,
		    due_date = $8, last_reviewed_at = $9, total_attempts = $10,
		    total_correct = $11, version = version + 1
		WHERE user_id = $1 AND verb_id = $2 AND tense = $3 AND person = $4
		  AND version = $12
	`

	tag, err := r.db.Exec(ctx, query,
		card.UserID, card.Item.VerbID, card.Item.Tense, card.Item.Person,
		card.EasinessFactor, card.IntervalDays, card.Repetitions,
		card.DueDate, card.LastReviewedAt,
		card.TotalAttempts, card.TotalCorrect,
		version,
	)
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
		WHERE user_id = $1 AND due_date <= $2
		ORDER BY due_date ASC, easiness_factor ASC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, userID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due cards: %w", err)
	}
	defer rows.Close()

	var cards []srs.Card
	for rows.Next() {
		c, _, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list due cards: %w", err)
	}
	return cards, nil
}

// CountDue returns how many of the user's cards are due at now.
func (r *CardRepository) CountDue(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM review_cards WHERE user_id = $1 AND due_date <= $2`

	var n int
	if err := r.db.QueryRow(ctx, query, userID, now).Scan(&n); err != nil {
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
		WHERE user_id = $1 AND due_date > $2
		ORDER BY due_date ASC
		LIMIT 1
	`

	var due time.Time
	err := r.db.QueryRow(ctx, query, userID, now).Scan(&due)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next due card: %w", err)
	}
	return &due, nil
}

// ListByUser returns every card of one user in item key order.
func (r *CardRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]srs.Card, error) {
	query := `
		SELECT user_id, verb_id, tense, person, easiness_factor, interval_days,
		       repetitions, due_date, last_reviewed_at, total_attempts, total_correct,
		       version
		FROM review_cards
		WHERE user_id = $1
		ORDER BY verb_id, tense, person
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var cards []srs.Card
	for rows.Next() {
		c, _, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	return cards, nil
}

// DeleteByUser removes all of a user's cards.
func (r *CardRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	query := `DELETE FROM review_cards WHERE user_id = $1`

	if _, err := r.db.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("delete cards: %w", err)
	}
	return nil
}
