package device

import (
	"fmt"
	"sync"
)

// Turbo holds the negotiated throughput multiplier of the MIDI link. The
// negotiate hook, when set, is called to agree a new factor with the
// interface before it takes effect.
type Turbo struct {
	mu        sync.Mutex
	factor    float64
	max       float64
	negotiate func(float64) error
}

// NewTurbo creates a controller at factor, never exceeding maxFactor.
func NewTurbo(factor, maxFactor float64) *Turbo {
	if maxFactor < 1 {
		maxFactor = 1
	}
	if factor < 1 {
		factor = 1
	}
	return &Turbo{factor: min(factor, maxFactor), max: maxFactor}
}

// SetNegotiator installs the hook run before a factor change.
func (t *Turbo) SetNegotiator(fn func(float64) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.negotiate = fn
}

// Factor returns the multiplier in effect.
func (t *Turbo) Factor() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.factor
}

// SetFactor switches the link to factor.
func (t *Turbo) SetFactor(factor float64) error {
	if factor < 1 || factor > t.max {
		return fmt.Errorf("turbo factor %.2f outside [1, %.2f]", factor, t.max)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.negotiate != nil {
		if err := t.negotiate(factor); err != nil {
			return fmt.Errorf("negotiate turbo x%.2f: %w", factor, err)
		}
	}
	t.factor = factor
	return nil
}
