// Package sds implements the wire side of the MIDI Sample Dump Standard:
// message framing, 7-bit packing of audio words and packet checksums.
package sds

import (
	"errors"
	"fmt"
)

// SysEx framing bytes
const (
	SysExStart = 0xF0
	SysExEnd   = 0xF7
)

// UniversalNonRealtime is the sub-ID that prefixes every sample dump message.
const UniversalNonRealtime = 0x7E

// Command bytes (position 3 of every sample dump message)
const (
	CmdHeader  = 0x01
	CmdData    = 0x02
	CmdRequest = 0x03
	CmdEOF     = 0x7B
	CmdWait    = 0x7C
	CmdCancel  = 0x7D
	CmdNAK     = 0x7E
	CmdACK     = 0x7F
)

// Message sizes, framing bytes included
const (
	HeaderSize    = 21
	DataSize      = 127
	RequestSize   = 7
	HandshakeSize = 6
)

// DataBodySize is the fixed payload of a data packet.
const DataBodySize = 120

// Validate checks the SysEx framing of a complete message.
func Validate(data []byte) error {
	if len(data) < 2 {
		return errors.New("syx data too short")
	}

	if data[0] != SysExStart {
		return fmt.Errorf("invalid SysEx: expected start byte 0x%02X, got 0x%02X", SysExStart, data[0])
	}

	if data[len(data)-1] != SysExEnd {
		return fmt.Errorf("invalid SysEx: expected end byte 0x%02X, got 0x%02X", SysExEnd, data[len(data)-1])
	}

	for i := 1; i < len(data)-1; i++ {
		if data[i] > 0x7F {
			return fmt.Errorf("invalid SysEx: byte at position %d is > 127 (0x%02X)", i, data[i])
		}
	}

	return nil
}

// IsSampleDump reports whether data starts like a sample dump message.
// The frame does not need to be terminated, so truncated packets qualify.
func IsSampleDump(data []byte) bool {
	if len(data) < 4 || data[0] != SysExStart || data[1] != UniversalNonRealtime {
		return false
	}
	switch data[3] {
	case CmdHeader, CmdData, CmdRequest, CmdEOF, CmdWait, CmdCancel, CmdNAK, CmdACK:
		return true
	}
	return false
}

// ManufacturerID extracts the manufacturer ID of a manufacturer-specific
// SysEx message. Extended IDs (leading 0x00) are three bytes long.
func ManufacturerID(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, errors.New("syx data too short for manufacturer ID")
	}

	if data[0] != SysExStart {
		return nil, errors.New("invalid SysEx start")
	}

	if data[1] == 0x00 {
		if len(data) < 5 {
			return nil, errors.New("syx data too short for extended manufacturer ID")
		}
		return data[1:4], nil
	}

	return data[1:2], nil
}
