package srs

import (
	"fmt"
	"time"
)

// Quality grades a single recall on the SM-2 scale of 0..5. Grades of 3
// and up count as successful recall; anything lower is a lapse.
type Quality int

const (
	QualityBlackout  Quality = iota // no recall, even with help
	QualityWrong                    // incorrect, and slow about it
	QualityAlmost                   // incorrect, but quick and close
	QualityDifficult                // correct with help or real effort
	QualityHesitant                 // correct after some hesitation
	QualityPerfect                  // instant, unaided recall
)

// PassingQuality is the lowest grade that keeps the repetition chain
// going.
const PassingQuality = QualityDifficult

var qualityNames = [...]string{
	QualityBlackout:  "blackout",
	QualityWrong:     "wrong",
	QualityAlmost:    "almost",
	QualityDifficult: "difficult",
	QualityHesitant:  "hesitant",
	QualityPerfect:   "perfect",
}

// String returns the grade name, or "Quality(n)" for invalid values.
func (q Quality) String() string {
	if q.IsValid() {
		return qualityNames[q]
	}
	return fmt.Sprintf("Quality(%d)", int(q))
}

// IsValid reports whether q is on the 0..5 scale.
func (q Quality) IsValid() bool {
	return q >= QualityBlackout && q <= QualityPerfect
}

// Passing reports whether the grade counts as successful recall.
func (q Quality) Passing() bool {
	return q >= PassingQuality
}

// Response time boundaries used when no explicit thresholds are set.
const (
	DefaultFastAnswer = 10 * time.Second
	DefaultSlowAnswer = 30 * time.Second
)

// Thresholds splits response times into fast, ordinary and slow bands
// when deriving a quality grade from a raw answer. The zero value uses
// the defaults (10s and 30s).
type Thresholds struct {
	Fast time.Duration // under this, a correct answer is instant
	Slow time.Duration // at or over this, any answer counts as slow
}

// DefaultThresholds returns the standard response time bands.
func DefaultThresholds() Thresholds {
	return Thresholds{Fast: DefaultFastAnswer, Slow: DefaultSlowAnswer}
}

// Derive maps a raw answer to a quality grade:
//
//	correct, no hint, fast     -> 5
//	correct, no hint, ordinary -> 4
//	correct, but hint or slow  -> 3
//	incorrect, no hint, quick  -> 2
//	incorrect, no hint, slow   -> 1
//	incorrect with hint        -> 0
//
// Correct answers always derive a passing grade and incorrect answers
// never do, so the engine's lapse handling follows correctness exactly.
func (t Thresholds) Derive(correct bool, responseTime time.Duration, hintUsed bool) (Quality, error) {
	if responseTime < 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidResponseTime, responseTime)
	}
	if t.Fast <= 0 {
		t.Fast = DefaultFastAnswer
	}
	if t.Slow <= t.Fast {
		t.Slow = DefaultSlowAnswer
	}

	if correct {
		switch {
		case hintUsed || responseTime >= t.Slow:
			return QualityDifficult, nil
		case responseTime < t.Fast:
			return QualityPerfect, nil
		default:
			return QualityHesitant, nil
		}
	}
	if hintUsed {
		return QualityBlackout, nil
	}
	if responseTime >= t.Slow {
		return QualityWrong, nil
	}
	return QualityAlmost, nil
}
