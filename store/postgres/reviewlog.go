package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mbatyrev/conjugo/store"
)

// ReviewLogRepository provides access to the append-only review
// history.
type ReviewLogRepository struct {
	db DBTX
}

// NewReviewLogRepository creates a ReviewLogRepository over the given
// connection.
func NewReviewLogRepository(db DBTX) *ReviewLogRepository {
	return &ReviewLogRepository{db: db}
}

// Insert appends one review entry.
func (r *ReviewLogRepository) Insert(ctx context.Context, entry *store.ReviewEntry) error {
	query := `
		INSERT INTO review_log (
			id, user_id, verb_id, tense, person, quality, correct,
			response_time_ms, hint_used, tier, reviewed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	id := entry.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	_, err := r.db.Exec(ctx, query,
		id, entry.UserID, entry.Item.VerbID, entry.Item.Tense, entry.Item.Person,
		int(entry.Quality), entry.Correct,
		entry.ResponseTimeMs, entry.HintUsed,
		entry.Tier.String(), entry.ReviewedAt,
	)
	if err != nil {
		return fmt.Errorf("insert review entry: %w", err)
	}
	return nil
}

// CountSince returns the number of entries at or after since.
func (r *ReviewLogRepository) CountSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM review_log WHERE user_id = $1 AND reviewed_at >= $2`

	var n int
	if err := r.db.QueryRow(ctx, query, userID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count review entries: %w", err)
	}
	return n, nil
}

// ActiveDays returns the distinct UTC days with at least one entry at
// or after since, most recent first.
func (r *ReviewLogRepository) ActiveDays(ctx context.Context, userID uuid.UUID, since time.Time) ([]time.Time, error) {
	query := `
		SELECT DISTINCT date_trunc('day', reviewed_at AT TIME ZONE 'UTC') AS day
		FROM review_log
		WHERE user_id = $1 AND reviewed_at >= $2
		ORDER BY day DESC
	`

	rows, err := r.db.Query(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("list active days: %w", err)
	}
	defer rows.Close()

	var days []time.Time
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("scan active day: %w", err)
		}
		days = append(days, day.UTC())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active days: %w", err)
	}
	return days, nil
}

// DeleteByUser removes the user's whole history.
func (r *ReviewLogRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	query := `DELETE FROM review_log WHERE user_id = $1`

	if _, err := r.db.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("delete review entries: %w", err)
	}
	return nil
}
