// Package transfer is the sample dump engine: receive and transmit state
// machines, the transfer focus guard and the bulk orchestrator.
package transfer

import (
	"fmt"

	"github.com/james-see/sampledump/pkg/slots"
)

// Mode selects the state machine of a session.
type Mode int

const (
	// ModeClosed handshakes every packet.
	ModeClosed Mode = iota
	// ModeOpen sends or listens without handshakes.
	ModeOpen
	// ModeStream passively captures a multi-sample dump.
	ModeStream
	// ModeAuto sends closed-loop when the device handshakes, open otherwise.
	ModeAuto
)

func (m Mode) String() string {
	switch m {
	case ModeClosed:
		return "closed"
	case ModeOpen:
		return "open"
	case ModeStream:
		return "stream"
	case ModeAuto:
		return "auto"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "closed", "":
		return ModeClosed, nil
	case "open":
		return ModeOpen, nil
	case "stream":
		return ModeStream, nil
	case "auto":
		return ModeAuto, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrMode, s)
}

// Direction of a session.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionRX
	DirectionTX
)

func (d Direction) String() string {
	switch d {
	case DirectionRX:
		return "rx"
	case DirectionTX:
		return "tx"
	}
	return "none"
}

// Sender writes raw MIDI bytes to the device. It must be safe for
// concurrent use; the keepalive runs next to the session.
type Sender interface {
	Send(b []byte) error
}

// Profile is the device knowledge the engine needs.
type Profile interface {
	Channel() byte
	Handshakes() bool
	NameMessage(sample int, name string) []byte
}

// Turbo controls the link throughput multiplier.
type Turbo interface {
	Factor() float64
	SetFactor(factor float64) error
}

// StayAwake keeps the host from sleeping; the returned func releases it.
type StayAwake interface {
	Acquire() (release func())
}

// Observer receives progress from the engine.
type Observer interface {
	Progress(slot int, fraction float64)
	// Transferring reports the slot entering (RX/TX) or leaving (None) a
	// session.
	Transferring(slot int, dir Direction)
	Invalidate(slot int)
	BulkDone(report *BulkReport)
}

// RedrawPauser is implemented by observers that can hold back redraw work
// while a transfer is in focus.
type RedrawPauser interface {
	PauseRedraw()
	ResumeRedraw()
}

// NopObserver ignores everything. Embed it to implement part of Observer.
type NopObserver struct{}

func (NopObserver) Progress(int, float64)       {}
func (NopObserver) Transferring(int, Direction) {}
func (NopObserver) Invalidate(int)              {}
func (NopObserver) BulkDone(*BulkReport)        {}

// Result describes one finished single-slot operation.
type Result struct {
	Slot      int
	Sample    int
	Direction Direction
	Words     int
	Packets   int
	Corrupted bool
	Stats     slots.RxStats
	// Parity is set when TX replayed a captured wire image.
	Parity bool
	// OpenLoop is set when TX ran (or fell back to) open loop.
	OpenLoop bool
}
