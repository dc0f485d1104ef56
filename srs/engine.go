package srs

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxIntervalDays caps interval growth at roughly one hundred
// years, which keeps the arithmetic finite without ever being reached
// in practice.
const DefaultMaxIntervalDays = 36500

// Engine computes SM-2 state transitions. It is stateless and safe for
// concurrent use; all per-card state lives in the Card values it is
// given and returns.
type Engine struct {
	maxInterval int
	logger      *zap.Logger
}

// EngineConfig tunes an Engine. Zero values fall back to defaults.
type EngineConfig struct {
	// MaxIntervalDays caps the computed interval. Defaults to
	// DefaultMaxIntervalDays.
	MaxIntervalDays int

	// Logger receives warnings when stored card state arrives out of
	// bounds. Defaults to a no-op logger.
	Logger *zap.Logger
}

// NewEngine creates an Engine from cfg.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.MaxIntervalDays <= 0 {
		cfg.MaxIntervalDays = DefaultMaxIntervalDays
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{maxInterval: cfg.MaxIntervalDays, logger: cfg.Logger}
}

// Compute returns the card state after grading one review at now. A nil
// prev stands for an item reviewed for the first time; prev itself is
// never modified.
//
// A passing grade (3 and up) advances the repetition chain: the first
// interval is one day, the second six, and from then on the previous
// interval times the easiness factor as it stood before this review,
// rounded half up. The easiness factor then moves by
//
//	0.1 - (5-q)*(0.08 + (5-q)*0.02)
//
// and is clamped to [1.3, 2.5].
//
// A failing grade resets repetitions and interval so the item comes
// back the next day, but leaves the easiness factor alone: the penalty
// for a lapse is repetition, not a steeper slope.
func (e *Engine) Compute(prev *Card, q Quality, now time.Time) (Card, error) {
	if !q.IsValid() {
		return Card{}, fmt.Errorf("%w: %d", ErrInvalidQuality, int(q))
	}

	var c Card
	if prev != nil {
		c = *prev
		e.sanitize(&c)
	} else {
		c = Card{EasinessFactor: DefaultEasiness, IntervalDays: FirstInterval}
	}

	if q.Passing() {
		c.Repetitions++
		switch c.Repetitions {
		case 1:
			c.IntervalDays = FirstInterval
		case 2:
			c.IntervalDays = SecondInterval
		default:
			c.IntervalDays = roundHalfUp(float64(c.IntervalDays) * c.EasinessFactor)
		}
		c.EasinessFactor = clampEasiness(c.EasinessFactor + easinessDelta(q))
		c.TotalCorrect++
	} else {
		c.Repetitions = 0
		c.IntervalDays = FirstInterval
	}

	if c.IntervalDays > e.maxInterval {
		c.IntervalDays = e.maxInterval
	}
	if c.IntervalDays < FirstInterval {
		// The formula cannot go below one day; reaching this means a
		// defect upstream, so it is worth a record.
		e.logger.Warn("computed interval below one day",
			zap.String("user_id", c.UserID.String()),
			zap.String("item", c.Item.String()),
			zap.Int("interval_days", c.IntervalDays),
		)
		c.IntervalDays = FirstInterval
	}

	c.TotalAttempts++
	c.LastReviewedAt = now
	c.DueDate = now.AddDate(0, 0, c.IntervalDays)
	return c, nil
}

// Preview returns the card state each grade would produce, keyed by
// grade. It is a read-only what-if over Compute.
func (e *Engine) Preview(prev *Card, now time.Time) map[Quality]Card {
	out := make(map[Quality]Card, int(QualityPerfect)+1)
	for q := QualityBlackout; q <= QualityPerfect; q++ {
		c, err := e.Compute(prev, q, now)
		if err != nil {
			continue
		}
		out[q] = c
	}
	return out
}

// sanitize clamps stored state back into its documented bounds. Values
// out of range mean the row was written by a defective formula or
// edited by hand, so every correction is logged.
func (e *Engine) sanitize(c *Card) {
	fields := []zap.Field{
		zap.String("user_id", c.UserID.String()),
		zap.String("item", c.Item.String()),
	}

	if math.IsNaN(c.EasinessFactor) || math.IsInf(c.EasinessFactor, 0) {
		e.logger.Warn("stored easiness factor is not finite", fields...)
		c.EasinessFactor = DefaultEasiness
	} else if c.EasinessFactor < MinEasiness || c.EasinessFactor > MaxEasiness {
		e.logger.Warn("stored easiness factor out of bounds",
			append(fields, zap.Float64("easiness_factor", c.EasinessFactor))...)
		c.EasinessFactor = clampEasiness(c.EasinessFactor)
	}

	if c.IntervalDays < FirstInterval {
		e.logger.Warn("stored interval below one day",
			append(fields, zap.Int("interval_days", c.IntervalDays))...)
		c.IntervalDays = FirstInterval
	}

	if c.Repetitions < 0 {
		e.logger.Warn("stored repetitions negative",
			append(fields, zap.Int("repetitions", c.Repetitions))...)
		c.Repetitions = 0
	}
}

// easinessDelta is the SM-2 easiness adjustment for a passing grade:
// +0.1 for a perfect answer, 0 for a hesitant one, -0.14 for a grade
// of 3.
func easinessDelta(q Quality) float64 {
	miss := float64(QualityPerfect - q)
	return 0.1 - miss*(0.08+miss*0.02)
}

func clampEasiness(ef float64) float64 {
	if ef < MinEasiness {
		return MinEasiness
	}
	if ef > MaxEasiness {
		return MaxEasiness
	}
	return ef
}

// roundHalfUp rounds to the nearest integer with .5 going up. Intervals
// are always positive, so math.Round behaves as half-up here.
func roundHalfUp(v float64) int {
	return int(math.Round(v))
}
