package difficulty

import (
	"time"

	"github.com/google/uuid"
)

// Profile is one user's difficulty placement: the current tier plus a
// rolling window of recent outcomes at that tier. The window never
// mixes tiers; attempts made at another tier leave it untouched.
type Profile struct {
	UserID uuid.UUID
	Tier   Tier

	// Window holds the most recent outcomes at the current tier,
	// oldest first. The Manager caps its length.
	Window []bool

	// TierAttempts counts attempts at the current tier since the last
	// tier change.
	TierAttempts int

	UpdatedAt time.Time
}

// NewProfile returns a fresh profile at the Beginner tier.
func NewProfile(userID uuid.UUID) *Profile {
	return &Profile{UserID: userID, Tier: Beginner}
}

// Accuracy returns the share of correct outcomes in the window, zero
// when the window is empty.
func (p *Profile) Accuracy() float64 {
	if len(p.Window) == 0 {
		return 0
	}
	correct := 0
	for _, ok := range p.Window {
		if ok {
			correct++
		}
	}
	return float64(correct) / float64(len(p.Window))
}
