package sds

import (
	"errors"
	"fmt"
)

// Loop types carried by the header
const (
	LoopForward  = byte(0x00)
	LoopPingPong = byte(0x01)
	LoopOff      = byte(0x7F)
)

var (
	ErrNotSampleDump = errors.New("not a sample dump message")
	ErrTooShort      = errors.New("message too short")
)

// Message is any sample dump message.
type Message interface {
	// Encode appends the wire form of the message to b.
	Encode(b []byte) []byte
}

// Header announces a sample: its number, format, rate and loop.
type Header struct {
	Channel   byte
	Sample    int
	Format    int
	Period    int // nanoseconds per word
	Words     int
	LoopStart int
	LoopEnd   int
	LoopType  byte
}

// PeriodForRate converts a sample rate in Hz to the header period.
func PeriodForRate(rate int) int {
	if rate <= 0 {
		return 0
	}
	return (1_000_000_000 + rate/2) / rate
}

// commonRates are snapped to when a period round trip lands next to them.
var commonRates = []int{8000, 11025, 16000, 22050, 32000, 44100, 48000, 88200, 96000}

// Rate converts the header period back to Hz.
func (h *Header) Rate() int {
	if h.Period <= 0 {
		return 0
	}
	rate := (1_000_000_000 + h.Period/2) / h.Period
	for _, r := range commonRates {
		if d := rate - r; d >= -r/1000 && d <= r/1000 {
			return r
		}
	}
	return rate
}

// HasLoop reports whether the header describes an active loop.
func (h *Header) HasLoop() bool {
	return h.LoopType != LoopOff && h.LoopEnd > h.LoopStart
}

func (h *Header) Encode(b []byte) []byte {
	b = append(b, SysExStart, UniversalNonRealtime, h.Channel&0x7F, CmdHeader)
	b = Append14(b, h.Sample)
	b = append(b, byte(h.Format)&0x7F)
	b = Append21(b, h.Period)
	b = Append21(b, h.Words)
	b = Append21(b, h.LoopStart)
	b = Append21(b, h.LoopEnd)
	b = append(b, h.LoopType&0x7F)
	return append(b, SysExEnd)
}

// PatchSample rewrites the sample number of an encoded header in place.
func PatchSample(header []byte, sample int) error {
	if len(header) != HeaderSize || header[3] != CmdHeader {
		return fmt.Errorf("not an encoded header (%d bytes)", len(header))
	}
	header[4] = byte(sample) & 0x7F
	header[5] = byte(sample>>7) & 0x7F
	return nil
}

// Data carries one 120 byte slice of packed audio.
type Data struct {
	Channel  byte
	Seq      byte
	Body     []byte
	Checksum byte

	// Truncated is set when the frame lost bytes on the way in.
	Truncated bool
}

// NewData builds a data packet and computes its checksum.
func NewData(channel, seq byte, body []byte) *Data {
	return &Data{
		Channel:  channel & 0x7F,
		Seq:      seq & 0x7F,
		Body:     body,
		Checksum: Checksum(channel, seq, body),
	}
}

func (d *Data) Encode(b []byte) []byte {
	b = append(b, SysExStart, UniversalNonRealtime, d.Channel&0x7F, CmdData, d.Seq&0x7F)
	b = append(b, d.Body...)
	b = append(b, d.Checksum&0x7F)
	return append(b, SysExEnd)
}

// Valid reports whether the packet is complete and its checksum matches.
func (d *Data) Valid() bool {
	return !d.Truncated && len(d.Body) == DataBodySize && Checksum(d.Channel, d.Seq, d.Body) == d.Checksum
}

// Request asks the device to dump one sample.
type Request struct {
	Channel byte
	Sample  int
}

func (r *Request) Encode(b []byte) []byte {
	b = append(b, SysExStart, UniversalNonRealtime, r.Channel&0x7F, CmdRequest)
	b = Append14(b, r.Sample)
	return append(b, SysExEnd)
}

// Kind is the type of a handshake message.
type Kind byte

const (
	ACK    = Kind(CmdACK)
	NAK    = Kind(CmdNAK)
	Cancel = Kind(CmdCancel)
	Wait   = Kind(CmdWait)
	EOF    = Kind(CmdEOF)
)

func (k Kind) String() string {
	switch k {
	case ACK:
		return "ACK"
	case NAK:
		return "NAK"
	case Cancel:
		return "CANCEL"
	case Wait:
		return "WAIT"
	case EOF:
		return "EOF"
	}
	return fmt.Sprintf("Kind(0x%02X)", byte(k))
}

// Handshake flow-controls a closed-loop transfer. Seq echoes the packet the
// handshake refers to.
type Handshake struct {
	Channel byte
	Kind    Kind
	Seq     byte
}

func (h *Handshake) Encode(b []byte) []byte {
	return append(b, SysExStart, UniversalNonRealtime, h.Channel&0x7F, byte(h.Kind)&0x7F, h.Seq&0x7F, SysExEnd)
}

// Decode parses one frame. Truncated frames only decode as data packets,
// flagged so the receiver can account for them.
func Decode(frame []byte, truncated bool) (Message, error) {
	if !IsSampleDump(frame) {
		return nil, ErrNotSampleDump
	}
	if !truncated && frame[len(frame)-1] != SysExEnd {
		truncated = true
	}

	cmd := frame[3]
	if cmd == CmdData {
		return decodeData(frame, truncated)
	}
	if truncated {
		return nil, fmt.Errorf("truncated message 0x%02X: %w", cmd, ErrTooShort)
	}

	switch cmd {
	case CmdHeader:
		return decodeHeader(frame)
	case CmdRequest:
		if len(frame) != RequestSize {
			return nil, fmt.Errorf("bad size %d for request", len(frame))
		}
		return &Request{Channel: frame[2], Sample: Decode14(frame[4], frame[5])}, nil
	default:
		if len(frame) != HandshakeSize {
			return nil, fmt.Errorf("bad size %d for handshake", len(frame))
		}
		return &Handshake{Channel: frame[2], Kind: Kind(cmd), Seq: frame[4]}, nil
	}
}

func decodeHeader(msg []byte) (*Header, error) {
	if len(msg) != HeaderSize {
		return nil, fmt.Errorf("bad size %d for header", len(msg))
	}
	h := &Header{
		Channel:   msg[2],
		Sample:    Decode14(msg[4], msg[5]),
		Format:    int(msg[6]),
		Period:    Decode21(msg[7], msg[8], msg[9]),
		Words:     Decode21(msg[10], msg[11], msg[12]),
		LoopStart: Decode21(msg[13], msg[14], msg[15]),
		LoopEnd:   Decode21(msg[16], msg[17], msg[18]),
		LoopType:  msg[19],
	}
	if err := CheckFormat(h.Format); err != nil {
		return nil, err
	}
	return h, nil
}

func decodeData(msg []byte, truncated bool) (*Data, error) {
	if len(msg) < 5 {
		return nil, fmt.Errorf("data packet without sequence: %w", ErrTooShort)
	}
	d := &Data{Channel: msg[2], Seq: msg[4]}

	switch {
	case !truncated && len(msg) == DataSize:
		d.Body = append([]byte(nil), msg[5:125]...)
		d.Checksum = msg[125]
	case !truncated:
		// terminated but bytes were lost in between
		d.Truncated = true
		if len(msg) > 6 {
			d.Body = append([]byte(nil), msg[5:len(msg)-2]...)
			d.Checksum = msg[len(msg)-2]
		}
	default:
		d.Truncated = true
		end := min(len(msg), 5+DataBodySize)
		d.Body = append([]byte(nil), msg[5:end]...)
	}
	return d, nil
}
