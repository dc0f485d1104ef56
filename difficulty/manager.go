package difficulty

import "fmt"

// Default thresholds for tier movement.
const (
	DefaultWindowSize       = 10
	DefaultPromoteAccuracy  = 0.85
	DefaultDemoteAccuracy   = 0.60
	DefaultDemoteMinSamples = 5
)

// Change records a tier move caused by a single attempt.
type Change struct {
	From Tier `json:"from"`
	To   Tier `json:"to"`
}

// Promoted reports whether the change moved the user up.
func (c Change) Promoted() bool {
	return c.To > c.From
}

// Config tunes a Manager. Zero values fall back to the defaults above.
type Config struct {
	// WindowSize caps the rolling outcome window.
	WindowSize int

	// PromoteAccuracy promotes when window accuracy is strictly above
	// it and the window is full.
	PromoteAccuracy float64

	// PromoteMinSamples is the window fill required before promotion.
	// Defaults to WindowSize.
	PromoteMinSamples int

	// DemoteAccuracy demotes when window accuracy is strictly below it.
	DemoteAccuracy float64

	// DemoteMinSamples is the minimum evidence before demotion, so one
	// bad answer cannot sink a user.
	DemoteMinSamples int
}

// Manager folds attempt outcomes into difficulty profiles. It holds no
// per-user state and is safe for concurrent use.
type Manager struct {
	cfg Config
}

// NewManager creates a Manager from cfg.
func NewManager(cfg Config) *Manager {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.PromoteAccuracy <= 0 {
		cfg.PromoteAccuracy = DefaultPromoteAccuracy
	}
	if cfg.PromoteMinSamples <= 0 {
		cfg.PromoteMinSamples = cfg.WindowSize
	}
	if cfg.DemoteAccuracy <= 0 {
		cfg.DemoteAccuracy = DefaultDemoteAccuracy
	}
	if cfg.DemoteMinSamples <= 0 {
		cfg.DemoteMinSamples = DefaultDemoteMinSamples
	}
	return &Manager{cfg: cfg}
}

// RecordAttempt folds one outcome into p and returns the tier change it
// caused, nil for none. Only attempts made at p's current tier count;
// outcomes from other tiers leave the profile untouched, so windows
// never mix evidence across tiers.
//
// At most one step happens per attempt. After a change the window and
// the attempts counter start over: the next move has to be earned with
// fresh evidence, so a hot streak cannot jump two tiers at once.
func (m *Manager) RecordAttempt(p *Profile, tier Tier, correct bool) (*Change, error) {
	if !tier.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTier, int(tier))
	}
	if tier != p.Tier {
		return nil, nil
	}

	p.Window = append(p.Window, correct)
	if len(p.Window) > m.cfg.WindowSize {
		p.Window = p.Window[len(p.Window)-m.cfg.WindowSize:]
	}
	p.TierAttempts++

	change := m.evaluate(p)
	if change != nil {
		p.Tier = change.To
		p.Window = nil
		p.TierAttempts = 0
	}
	return change, nil
}

func (m *Manager) evaluate(p *Profile) *Change {
	n := len(p.Window)
	acc := p.Accuracy()

	if n >= m.cfg.PromoteMinSamples && acc > m.cfg.PromoteAccuracy {
		if next := p.Tier.Next(); next != p.Tier {
			return &Change{From: p.Tier, To: next}
		}
	}
	if n >= m.cfg.DemoteMinSamples && acc < m.cfg.DemoteAccuracy {
		if prev := p.Tier.Previous(); prev != p.Tier {
			return &Change{From: p.Tier, To: prev}
		}
	}
	return nil
}
