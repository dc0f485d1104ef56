package review

import (
	"fmt"
	"time"

	"github.com/mbatyrev/conjugo/difficulty"
	"github.com/mbatyrev/conjugo/srs"
)

// Submission is one graded answer as reported by the exercise
// collaborator. Whether the answer was right is decided there; this
// module only turns the outcome into scheduling state.
type Submission struct {
	Item           srs.ItemKey     `json:"item_key"`
	Correct        bool            `json:"is_correct"`
	ResponseTimeMs int             `json:"response_time_ms"`
	HintUsed       bool            `json:"hint_used"`
	Tier           difficulty.Tier `json:"difficulty_level"` // tier the exercise was served at
}

// ResponseTime returns the answer time as a duration.
func (sub Submission) ResponseTime() time.Duration {
	return time.Duration(sub.ResponseTimeMs) * time.Millisecond
}

// Validate rejects submissions that must not reach the engine. Every
// failure matches srs.ErrValidation.
func (sub Submission) Validate() error {
	if err := sub.Item.Validate(); err != nil {
		return err
	}
	if sub.ResponseTimeMs < 0 {
		return fmt.Errorf("%w: %d ms", srs.ErrInvalidResponseTime, sub.ResponseTimeMs)
	}
	if !sub.Tier.IsValid() {
		return fmt.Errorf("%w: %w: %d", srs.ErrValidation, difficulty.ErrInvalidTier, int(sub.Tier))
	}
	return nil
}

// ProcessReviewResult reports the scheduling decision for one
// submission.
type ProcessReviewResult struct {
	Item           srs.ItemKey `json:"item_key"`
	Quality        srs.Quality `json:"quality"`
	NextReviewDate time.Time   `json:"next_review_date"`
	IntervalDays   int         `json:"interval_days"`
	Repetitions    int         `json:"repetitions"`
	EasinessFactor float64     `json:"easiness_factor"`
	Bucket         srs.Bucket  `json:"bucket"`

	// DifficultyLevel is the user's global tier after this attempt was
	// folded in; TierChange is set when the attempt moved it.
	DifficultyLevel difficulty.Tier    `json:"difficulty_level"`
	TierChange      *difficulty.Change `json:"tier_change,omitempty"`
}

// PreviewOutcome is the schedule one grade would produce, without
// committing anything.
type PreviewOutcome struct {
	Quality        srs.Quality `json:"quality"`
	NextReviewDate time.Time   `json:"next_review_date"`
	IntervalDays   int         `json:"interval_days"`
	Bucket         srs.Bucket  `json:"bucket"`
}

// DueReviewItem is one entry of the due queue.
type DueReviewItem struct {
	Item           srs.ItemKey `json:"item_key"`
	DaysOverdue    int         `json:"days_overdue"`
	Bucket         srs.Bucket  `json:"bucket"`
	EasinessFactor float64     `json:"easiness_factor"`
	IntervalDays   int         `json:"interval_days"`
	SuccessRate    float64     `json:"success_rate"`
}

// DueReviewResponse is the due queue page handed to the API layer.
type DueReviewResponse struct {
	Items    []DueReviewItem `json:"items"`
	TotalDue int             `json:"total_due"`

	// NextUpcomingDue is the earliest due date still in the future,
	// absent when nothing further is scheduled.
	NextUpcomingDue *time.Time `json:"next_upcoming_due_date,omitempty"`
}

// ReviewStatsResponse aggregates a user's scheduling state.
type ReviewStatsResponse struct {
	TotalDue int `json:"total_due"`

	// ByBucket counts cards per mastery bucket. Only reviewed items
	// have cards, so the map never carries a "new" key.
	ByBucket map[srs.Bucket]int `json:"by_bucket_counts"`

	RetentionRate float64 `json:"retention_rate"`
	ReviewedToday int     `json:"reviewed_today"`
	StreakDays    int     `json:"streak_days"`
}
