package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mbatyrev/conjugo/difficulty"
	"github.com/mbatyrev/conjugo/store"
)

// ProfileRepository provides access to difficulty profile rows.
type ProfileRepository struct {
	db DBTX
}

// NewProfileRepository creates a ProfileRepository over the given
// connection.
func NewProfileRepository(db DBTX) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Get retrieves one profile with its row version, (nil, 0, nil) when
// the user has none yet.
func (r *ProfileRepository) Get(ctx context.Context, userID uuid.UUID) (*difficulty.Profile, int64, error) {
	query := `
		SELECT user_id, tier, window_outcomes, tier_attempts, version, updated_at
		FROM difficulty_profiles
		WHERE user_id = $1
	`

	var p difficulty.Profile
	var tier string
	var version int64

	err := r.db.QueryRow(ctx, query, userID).Scan(
		&p.UserID, &tier, &p.Window, &p.TierAttempts, &version, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get profile: %w", err)
	}

	p.Tier, err = difficulty.ParseTier(tier)
	if err != nil {
		return nil, 0, fmt.Errorf("get profile: %w", err)
	}
	return &p, version, nil
}

// Save persists a profile read at the given version, 0 to insert.
// Losing the version race returns store.ErrConflict.
func (r *ProfileRepository) Save(ctx context.Context, profile *difficulty.Profile, version int64) error {
	window := profile.Window
	if window == nil {
		window = []bool{}
	}

	if version == 0 {
		query := `
			INSERT INTO difficulty_profiles (
				user_id, tier, window_outcomes, tier_attempts, version, updated_at
			) VALUES ($1, $2, $3, $4, 1, $5)
		`

		_, err := r.db.Exec(ctx, query,
			profile.UserID, profile.Tier.String(), window,
			profile.TierAttempts, profile.UpdatedAt,
		)
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		if err != nil {
			return fmt.Errorf("insert profile: %w", err)
		}
		return nil
	}

	query := `
		UPDATE difficulty_profiles
		SET tier = $2, window_outcomes = $3, tier_attempts = $4,
		    updated_at = $5, version = version + 1
		WHERE user_id = $1 AND version = $6
	`

	tag, err := r.db.Exec(ctx, query,
		profile.UserID, profile.Tier.String(), window,
		profile.TierAttempts, profile.UpdatedAt, version,
	)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	return nil
}

// DeleteByUser removes the user's profile.
func (r *ProfileRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	query := `DELETE FROM difficulty_profiles WHERE user_id = $1`

	if _, err := r.db.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}
