package device

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/james-see/sampledump/pkg/sds"
)

// NewLinkTurbo creates a turbo control for p. Every factor change, the
// initial one included, is checked against the profile's link ceiling.
func NewLinkTurbo(p Profile, factor, maxFactor float64, logger *slog.Logger) (*Turbo, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t := NewTurbo(1, maxFactor)
	t.SetNegotiator(func(f float64) error {
		if ceiling := p.LinkCeiling(); f > ceiling {
			return fmt.Errorf("%s links at x%.2f at most", p.Name(), ceiling)
		}
		logger.Debug("device: link speed", "profile", p.Name(), "factor", f)
		return nil
	})
	if factor > 1 {
		if err := t.SetFactor(min(factor, t.max)); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// LogUnrelated returns a handler that logs SysEx arriving outside a sample
// dump, noting whether it came from the profile's own manufacturer.
func LogUnrelated(p Profile, logger *slog.Logger) func([]byte) {
	if logger == nil {
		logger = slog.Default()
	}
	own := p.Manufacturer()
	return func(frame []byte) {
		if err := sds.Validate(frame); err != nil {
			logger.Debug("device: malformed sysex", "len", len(frame), "error", err)
			return
		}
		id, err := sds.ManufacturerID(frame)
		if err != nil {
			logger.Debug("device: sysex without manufacturer", "len", len(frame), "error", err)
			return
		}
		logger.Info("device: unrelated sysex",
			"manufacturer", fmt.Sprintf("% X", id),
			"own", own != nil && bytes.Equal(id, own),
			"len", len(frame))
	}
}
