package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mbatyrev/conjugo/store"
)

// nanosPerDay converts stored nanosecond timestamps to UTC day indexes
// in SQL.
const nanosPerDay = int64(24 * time.Hour)

// ReviewLogRepository provides access to the append-only review
// history.
type ReviewLogRepository struct {
	db sqlx.ExtContext
}

// Insert appends one review entry.
func (r *ReviewLogRepository) Insert(ctx context.Context, entry *store.ReviewEntry) error {
	query := `
		INSERT INTO review_log (
			id, user_id, verb_id, tense, person, quality, correct,
			response_time_ms, hint_used, tier, reviewed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	id := entry.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	_, err := r.db.ExecContext(ctx, query,
		id, entry.UserID, entry.Item.VerbID, entry.Item.Tense, entry.Item.Person,
		int(entry.Quality), entry.Correct,
		entry.ResponseTimeMs, entry.HintUsed,
		entry.Tier.String(), entry.ReviewedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert review entry: %w", err)
	}
	return nil
}

// CountSince returns the number of entries at or after since.
func (r *ReviewLogRepository) CountSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM review_log WHERE user_id = ? AND reviewed_at >= ?`

	var n int
	if err := sqlx.GetContext(ctx, r.db, &n, query, userID, since.UnixNano()); err != nil {
		return 0, fmt.Errorf("count review entries: %w", err)
	}
	return n, nil
}

// ActiveDays returns the distinct UTC days with at least one entry at
// or after since, most recent first.
func (r *ReviewLogRepository) ActiveDays(ctx context.Context, userID uuid.UUID, since time.Time) ([]time.Time, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT reviewed_at / %d AS day
		FROM review_log
		WHERE user_id = ? AND reviewed_at >= ?
		ORDER BY day DESC
	`, nanosPerDay)

	var dayIndexes []int64
	if err := sqlx.SelectContext(ctx, r.db, &dayIndexes, query, userID, since.UnixNano()); err != nil {
		return nil, fmt.Errorf("list active days: %w", err)
	}

	days := make([]time.Time, 0, len(dayIndexes))
	for _, idx := range dayIndexes {
		days = append(days, time.Unix(0, idx*nanosPerDay).UTC())
	}
	return days, nil
}

// DeleteByUser removes the user's whole history.
func (r *ReviewLogRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	query := `DELETE FROM review_log WHERE user_id = ?`

	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("delete review entries: %w", err)
	}
	return nil
}
