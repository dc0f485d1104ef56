// Package difficulty moves users between global difficulty tiers based
// on their recent accuracy. The Manager is pure computation over a
// Profile; loading and saving profiles belongs to the caller.
package difficulty

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
)

// Tier is a user's global difficulty level. Tiers are ordered from
// Beginner up to Expert and move one step at a time.
type Tier int

const (
	Beginner Tier = iota + 1
	Intermediate
	Advanced
	Expert
)

// ErrInvalidTier reports a tier outside the known range, or a name no
// tier carries.
var ErrInvalidTier = errors.New("difficulty: invalid tier")

var (
	tierNames = [...]string{
		Beginner:     "beginner",
		Intermediate: "intermediate",
		Advanced:     "advanced",
		Expert:       "expert",
	}
	tierByName = map[string]Tier{
		"beginner":     Beginner,
		"intermediate": Intermediate,
		"advanced":     Advanced,
		"expert":       Expert,
	}
)

// Compile-time interface checks.
var (
	_ fmt.Stringer             = Tier(0)
	_ encoding.TextMarshaler   = Tier(0)
	_ encoding.TextUnmarshaler = (*Tier)(nil)
	_ json.Marshaler           = Tier(0)
)

// ParseTier returns the tier named by s.
func ParseTier(s string) (Tier, error) {
	t, ok := tierByName[s]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTier, s)
	}
	return t, nil
}

// String returns the lowercase tier name, or "Tier(n)" for invalid
// values.
func (t Tier) String() string {
	if t.IsValid() {
		return tierNames[t]
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// IsValid reports whether t is one of the four tiers.
func (t Tier) IsValid() bool {
	return t >= Beginner && t <= Expert
}

// Next returns the tier one step up, or t itself at the ceiling.
func (t Tier) Next() Tier {
	if t >= Expert || !t.IsValid() {
		return t
	}
	return t + 1
}

// Previous returns the tier one step down, or t itself at the floor.
func (t Tier) Previous() Tier {
	if t <= Beginner || !t.IsValid() {
		return t
	}
	return t - 1
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTier, int(t))
	}
	return []byte(tierNames[t]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(text []byte) error {
	v, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// MarshalJSON implements json.Marshaler. Tiers serialize as JSON
// strings.
func (t Tier) MarshalJSON() ([]byte, error) {
	text, err := t.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(text))
}
