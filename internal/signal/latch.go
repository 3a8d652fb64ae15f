package signal

import "fmt"

// LatchPhase represents the lifecycle phase of a Latch.
type LatchPhase string

const (
	LatchOff    LatchPhase = "off"    // Inactive, counter at zero
	LatchArming LatchPhase = "arming" // Qualifying frames accumulating
	LatchOn     LatchPhase = "on"     // Active until value drops below the off bound
)

// LatchConfig holds the hysteresis parameters for a single metric latch.
type LatchConfig struct {
	// OnThreshold is the value at which qualifying frames start accumulating.
	OnThreshold float64
	// OffRatio scales OnThreshold down to the release bound. Must be in (0, 1)
	// so the off bound sits strictly below the on threshold.
	OffRatio float64
	// MinFramesOn is the number of consecutive qualifying frames required
	// before the latch activates.
	MinFramesOn int
}

// Validate checks the configuration ranges.
func (c LatchConfig) Validate() error {
	if c.OnThreshold <= 0 {
		return fmt.Errorf("latch on threshold must be > 0, got %v", c.OnThreshold)
	}
	if c.OffRatio <= 0 || c.OffRatio >= 1 {
		return fmt.Errorf("latch off ratio must be in (0, 1), got %v", c.OffRatio)
	}
	if c.MinFramesOn < 1 {
		return fmt.Errorf("latch min frames on must be >= 1, got %d", c.MinFramesOn)
	}
	return nil
}

// Latch is a hysteresis debounce state machine for one scalar metric. It
// suppresses alert flicker: activation requires MinFramesOn consecutive
// frames at or above OnThreshold, and once on it holds until the value falls
// below OnThreshold*OffRatio.
type Latch struct {
	cfg   LatchConfig
	phase LatchPhase
	count int
}

// NewLatch returns a Latch for the given configuration.
func NewLatch(cfg LatchConfig) (*Latch, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Latch{cfg: cfg, phase: LatchOff}, nil
}

// Update feeds one frame's value and reports whether the latch is active.
func (l *Latch) Update(value float64) bool {
	switch l.phase {
	case LatchOff, LatchArming:
		if value >= l.cfg.OnThreshold {
			l.count++
			l.phase = LatchArming
			if l.count >= l.cfg.MinFramesOn {
				l.phase = LatchOn
			}
		} else {
			l.count = 0
			l.phase = LatchOff
		}
	case LatchOn:
		if value < l.cfg.OnThreshold*l.cfg.OffRatio {
			l.phase = LatchOff
			l.count = 0
		}
	}
	return l.phase == LatchOn
}

// UpdateGated behaves like Update while ok is true. A false gate forces the
// latch off and resets the counter; gated frames never accumulate.
func (l *Latch) UpdateGated(value float64, ok bool) bool {
	if !ok {
		l.Reset()
		return false
	}
	return l.Update(value)
}

// Active reports whether the latch is currently on without advancing it.
func (l *Latch) Active() bool { return l.phase == LatchOn }

// Phase returns the current lifecycle phase.
func (l *Latch) Phase() LatchPhase { return l.phase }

// Reset forces the latch off and clears the consecutive-frame counter.
func (l *Latch) Reset() {
	l.phase = LatchOff
	l.count = 0
}
