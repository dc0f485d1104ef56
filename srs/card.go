package srs

import (
	"encoding"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Scheduling bounds shared by the engine and the bucket classifier.
const (
	MinEasiness     = 1.3
	MaxEasiness     = 2.5
	DefaultEasiness = 2.5

	FirstInterval  = 1 // days until the second review
	SecondInterval = 6 // days until the third review
)

// ItemKey identifies one reviewable unit: a verb conjugated in one tense
// for one grammatical person. Tense and Person may be empty for items
// that are not full conjugation drills (infinitive vocabulary, say).
// Keys are immutable and comparable, so they can be used as map keys.
type ItemKey struct {
	VerbID int64  `json:"verb_id"`
	Tense  string `json:"tense,omitempty"`
	Person string `json:"person,omitempty"`
}

// Validate reports whether the key identifies a verb at all.
func (k ItemKey) Validate() error {
	if k.VerbID <= 0 {
		return fmt.Errorf("%w: verb id %d", ErrInvalidItem, k.VerbID)
	}
	return nil
}

// String returns a compact verb/tense/person form used in logs.
func (k ItemKey) String() string {
	return fmt.Sprintf("%d/%s/%s", k.VerbID, k.Tense, k.Person)
}

// Card holds the SM-2 scheduling state of one item for one user. The
// absence of a card means the item has never been reviewed; the engine
// then starts from the defaults (easiness 2.5, repetitions 0, a first
// interval of one day).
type Card struct {
	UserID uuid.UUID `json:"user_id"`
	Item   ItemKey   `json:"item"`

	EasinessFactor float64   `json:"easiness_factor"` // always in [1.3, 2.5]
	IntervalDays   int       `json:"interval_days"`   // always >= 1
	Repetitions    int       `json:"repetitions"`     // consecutive passes, 0 after a lapse
	DueDate        time.Time `json:"due_date"`
	LastReviewedAt time.Time `json:"last_reviewed_at"`

	TotalAttempts int `json:"total_attempts"`
	TotalCorrect  int `json:"total_correct"`
}

// SuccessRate returns the lifetime share of passing reviews, zero for a
// card that has never been attempted.
func (c *Card) SuccessRate() float64 {
	if c.TotalAttempts == 0 {
		return 0
	}
	return float64(c.TotalCorrect) / float64(c.TotalAttempts)
}

// IsDue reports whether the card should be reviewed at now.
func (c *Card) IsDue(now time.Time) bool {
	return !c.DueDate.After(now)
}

// DaysOverdue returns the number of whole days the card has been
// waiting past its due date, zero when it is not due yet.
func (c *Card) DaysOverdue(now time.Time) int {
	if c.DueDate.After(now) {
		return 0
	}
	return int(now.Sub(c.DueDate).Hours() / 24)
}

// Bucket is the mastery stage of a card, derived from its state on
// read and never stored.
type Bucket int

const (
	BucketNew       Bucket = iota + 1 // never reviewed
	BucketLearning                    // low easiness or freshly lapsed
	BucketReviewing                   // easiness in the middle band
	BucketMastered                    // easiness at the ceiling
)

var (
	bucketNames = [...]string{
		BucketNew:       "new",
		BucketLearning:  "learning",
		BucketReviewing: "reviewing",
		BucketMastered:  "mastered",
	}
	bucketByName = map[string]Bucket{
		"new":       BucketNew,
		"learning":  BucketLearning,
		"reviewing": BucketReviewing,
		"mastered":  BucketMastered,
	}
)

// Compile-time interface checks.
var (
	_ fmt.Stringer             = Bucket(0)
	_ encoding.TextMarshaler   = Bucket(0)
	_ encoding.TextUnmarshaler = (*Bucket)(nil)
	_ json.Marshaler           = Bucket(0)
)

// reviewingEasiness is the floor of the reviewing band; below it a card
// still counts as learning.
const reviewingEasiness = 2.0

// Classify places a card into a mastery bucket. A nil card is an item
// that has never been reviewed.
//
// A card whose repetitions were reset by a lapse counts as learning no
// matter how high its easiness factor, so lapsed items drop back out of
// the reviewing and mastered buckets until they pass again.
func Classify(c *Card) Bucket {
	switch {
	case c == nil:
		return BucketNew
	case c.Repetitions == 0 || c.EasinessFactor < reviewingEasiness:
		return BucketLearning
	case c.EasinessFactor < MaxEasiness:
		return BucketReviewing
	default:
		return BucketMastered
	}
}

// String returns the lowercase bucket name, or "Bucket(n)" for invalid
// values.
func (b Bucket) String() string {
	if b.IsValid() {
		return bucketNames[b]
	}
	return fmt.Sprintf("Bucket(%d)", int(b))
}

// IsValid reports whether b is one of the four buckets.
func (b Bucket) IsValid() bool {
	return b >= BucketNew && b <= BucketMastered
}

// MarshalText implements encoding.TextMarshaler.
func (b Bucket) MarshalText() ([]byte, error) {
	if !b.IsValid() {
		return nil, fmt.Errorf("srs: invalid bucket %d", int(b))
	}
	return []byte(bucketNames[b]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Bucket) UnmarshalText(text []byte) error {
	v, ok := bucketByName[string(text)]
	if !ok {
		return fmt.Errorf("srs: invalid bucket %q", text)
	}
	*b = v
	return nil
}

// MarshalJSON implements json.Marshaler. Buckets serialize as JSON
// strings.
func (b Bucket) MarshalJSON() ([]byte, error) {
	text, err := b.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(text))
}
