package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mbatyrev/conjugo/difficulty"
	"github.com/mbatyrev/conjugo/store"
)

// ProfileRepository provides access to difficulty profile rows.
type ProfileRepository struct {
	db sqlx.ExtContext
}

// profileRow mirrors the difficulty_profiles table; the outcome window
// rides as a JSON array of booleans.
type profileRow struct {
	UserID       uuid.UUID `db:"user_id"`
	Tier         string    `db:"tier"`
	Window       string    `db:"window_outcomes"`
	TierAttempts int       `db:"tier_attempts"`
	Version      int64     `db:"version"`
	UpdatedAt    int64     `db:"updated_at"`
}

func (row profileRow) toProfile() (*difficulty.Profile, error) {
	tier, err := difficulty.ParseTier(row.Tier)
	if err != nil {
		return nil, err
	}

	var window []bool
	if err := json.Unmarshal([]byte(row.Window), &window); err != nil {
		return nil, fmt.Errorf("decode window: %w", err)
	}

	return &difficulty.Profile{
		UserID:       row.UserID,
		Tier:         tier,
		Window:       window,
		TierAttempts: row.TierAttempts,
		UpdatedAt:    time.Unix(0, row.UpdatedAt).UTC(),
	}, nil
}

func encodeWindow(window []bool) (string, error) {
	if window == nil {
		window = []bool{}
	}
	raw, err := json.Marshal(window)
	if err != nil {
		return "", fmt.Errorf("encode window: %w", err)
	}
	return string(raw), nil
}

// Get retrieves one profile with its row version, (nil, 0, nil) when
// the user has none yet.
func (r *ProfileRepository) Get(ctx context.Context, userID uuid.UUID) (*difficulty.Profile, int64, error) {
	query := `
		SELECT user_id, tier, window_outcomes, tier_attempts, version, updated_at
		FROM difficulty_profiles
		WHERE user_id = ?
	`

	var row profileRow
	err := sqlx.GetContext(ctx, r.db, &row, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get profile: %w", err)
	}

	p, err := row.toProfile()
	if err != nil {
		return nil, 0, fmt.Errorf("get profile: %w", err)
	}
	return p, row.Version, nil
}

// Save persists a profile read at the given version, 0 to insert.
// Losing the version race returns store.ErrConflict.
func (r *ProfileRepository) Save(ctx context.Context, profile *difficulty.Profile, version int64) error {
	window, err := encodeWindow(profile.Window)
	if err != nil {
		return err
	}

	if version == 0 {
		query := `
			INSERT INTO difficulty_profiles (
				user_id, tier, window_outcomes, tier_attempts, version, updated_at
			)
			SELECT ?, ?, ?, ?, 1, ?
			WHERE NOT EXISTS (
				SELECT 1 FROM difficulty_profiles WHERE user_id = ?
			)
		`

		res, err := r.db.ExecContext(ctx, query,
			profile.UserID, profile.Tier.String(), window,
			profile.TierAttempts, profile.UpdatedAt.UnixNano(),
			profile.UserID,
		)
		if err != nil {
			return fmt.Errorf("insert profile: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert profile: %w", err)
		}
		if affected == 0 {
			return store.ErrConflict
		}
		return nil
	}

	query := `
		UPDATE difficulty_profiles
		SET tier = ?, window_outcomes = ?, tier_attempts = ?,
		    updated_at = ?, version = version + 1
		WHERE user_id = ? AND version = ?
	`

	res, err := r.db.ExecContext(ctx, query,
		profile.Tier.String(), window, profile.TierAttempts,
		profile.UpdatedAt.UnixNano(), profile.UserID, version,
	)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if affected == 0 {
		return store.ErrConflict
	}
	return nil
}

// DeleteByUser removes the user's profile.
func (r *ProfileRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	query := `DELETE FROM difficulty_profiles WHERE user_id = ?`

	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}
