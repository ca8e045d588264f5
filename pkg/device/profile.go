// Package device provides hardware profiles and the MIDI port binding for
// sample dump transfers.
package device

import (
	"fmt"
	"strings"

	"github.com/james-see/sampledump/pkg/sds"
	"github.com/james-see/sampledump/pkg/slots"
)

// Profile describes how a particular device takes part in a transfer.
type Profile interface {
	Name() string
	// Channel is the SDS device channel (device ID).
	Channel() byte
	// BankSize is the number of writable sample slots.
	BankSize() int
	// ScratchSize is the number of receive-only slots after the bank.
	ScratchSize() int
	// Handshakes reports whether the device answers closed-loop packets.
	Handshakes() bool
	// NameMessage builds the side-channel message that names a sample, or
	// returns nil when the device has none.
	NameMessage(sample int, name string) []byte
	// Manufacturer is the SysEx manufacturer ID of the device's own
	// messages, or nil.
	Manufacturer() []byte
	// LinkCeiling is the highest turbo factor the device can be driven at.
	LinkCeiling() float64
}

// Elektron identifiers
const (
	ElektronManuf1 = 0x00
	ElektronManuf2 = 0x20
	ElektronManuf3 = 0x3C
	MachinedrumID  = 0x02
	SetSampleName  = 0x73
)

// Machinedrum is the Elektron Machinedrum UW profile.
type Machinedrum struct {
	channel byte
}

// NewMachinedrum creates a Machinedrum profile on the given SDS channel.
func NewMachinedrum(channel byte) *Machinedrum {
	return &Machinedrum{channel: channel & 0x7F}
}

func (m *Machinedrum) Name() string         { return "Elektron Machinedrum UW" }
func (m *Machinedrum) Channel() byte        { return m.channel }
func (m *Machinedrum) BankSize() int        { return 48 }
func (m *Machinedrum) ScratchSize() int     { return 4 }
func (m *Machinedrum) Handshakes() bool     { return true }
func (m *Machinedrum) LinkCeiling() float64 { return 10 }

func (m *Machinedrum) Manufacturer() []byte {
	return []byte{ElektronManuf1, ElektronManuf2, ElektronManuf3}
}

// NameMessage builds F0 00 20 3C 02 00 73 <slot> <4 chars> F7.
func (m *Machinedrum) NameMessage(sample int, name string) []byte {
	name = slots.NormalizeName(name)
	msg := []byte{
		sds.SysExStart,
		ElektronManuf1, ElektronManuf2, ElektronManuf3,
		MachinedrumID, m.channel,
		SetSampleName,
		byte(sample) & 0x7F,
	}
	for i := 0; i < slots.NameLength; i++ {
		msg = append(msg, name[i]&0x7F)
	}
	return append(msg, sds.SysExEnd)
}

// Generic is a plain SDS sampler with no name message.
type Generic struct {
	channel byte
	bank    int
	open    bool
}

// NewGeneric creates a generic profile. openLoop marks devices that never
// answer handshakes.
func NewGeneric(channel byte, bank int, openLoop bool) *Generic {
	if bank <= 0 {
		bank = 128
	}
	return &Generic{channel: channel & 0x7F, bank: bank, open: openLoop}
}

func (g *Generic) Name() string                   { return "Generic SDS sampler" }
func (g *Generic) Channel() byte                  { return g.channel }
func (g *Generic) BankSize() int                  { return g.bank }
func (g *Generic) ScratchSize() int               { return 0 }
func (g *Generic) Handshakes() bool               { return !g.open }
func (g *Generic) NameMessage(int, string) []byte { return nil }
func (g *Generic) Manufacturer() []byte           { return nil }

// LinkCeiling is 1: plain SDS has no way to agree a faster link.
func (g *Generic) LinkCeiling() float64 { return 1 }

// Lookup returns the profile registered under name.
func Lookup(name string, channel byte) (Profile, error) {
	switch strings.ToLower(name) {
	case "md", "machinedrum", "mduw":
		return NewMachinedrum(channel), nil
	case "sds", "generic":
		return NewGeneric(channel, 128, false), nil
	case "sds-open", "generic-open":
		return NewGeneric(channel, 128, true), nil
	default:
		return nil, fmt.Errorf("unknown device profile %q", name)
	}
}

// Profiles lists the names accepted by Lookup.
func Profiles() []string {
	return []string{"machinedrum", "generic", "generic-open"}
}
