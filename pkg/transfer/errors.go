package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when another session is active.
	ErrBusy = errors.New("a transfer session is already active")
	// ErrReceiveOnly is returned when a scratch slot is used as a TX source.
	ErrReceiveOnly = errors.New("slot is receive-only")
	// ErrEmptySlot is returned when a TX source has no audio.
	ErrEmptySlot = errors.New("slot has no audio")
	// ErrUserAbort is returned after a cooperative cancellation.
	ErrUserAbort = errors.New("transfer aborted")
	// ErrMode is returned for a mode the operation does not support.
	ErrMode = errors.New("unsupported transfer mode")

	errSuperseded = errors.New("superseded by a newer bulk run")
)

// WireKind classifies a damaged packet.
type WireKind int

const (
	WireChecksum WireKind = iota
	WireOutOfOrder
	WireTruncated
)

func (k WireKind) String() string {
	switch k {
	case WireChecksum:
		return "checksum"
	case WireOutOfOrder:
		return "out-of-order"
	case WireTruncated:
		return "truncated"
	}
	return "unknown"
}

// WireError describes a damaged packet. It is recorded in the slot's receive
// statistics and never ends a session on its own.
type WireError struct {
	Kind     WireKind
	Seq      byte
	Expected byte
}

func (e *WireError) Error() string {
	return fmt.Sprintf("%s packet %d (expected %d)", e.Kind, e.Seq, e.Expected)
}

// ProtocolError ends the current single-slot operation.
type ProtocolError struct {
	Reason string
	// PeerCancel is set when the device sent CANCEL.
	PeerCancel bool
}

func (e *ProtocolError) Error() string {
	if e.PeerCancel {
		return "device cancelled the transfer"
	}
	return "protocol error: " + e.Reason
}

// TimeoutError is returned when the device stops answering.
type TimeoutError struct {
	Stage string
	// HeaderSeen is false when nothing of the sample arrived at all.
	HeaderSeen bool
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %s", e.Stage)
}

// IsPeerCancel reports whether err carries a device CANCEL.
func IsPeerCancel(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.PeerCancel
}

// IsNoHeader reports whether err is a timeout before any header arrived.
func IsNoHeader(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te) && !te.HeaderSeen
}
