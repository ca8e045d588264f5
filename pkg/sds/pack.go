package sds

import (
	"fmt"
	"math"
)

// Supported sample formats (bits per word on the wire)
const (
	MinFormat = 8
	MaxFormat = 28
)

// CheckFormat reports whether the bit depth can be carried by the protocol.
func CheckFormat(format int) error {
	if format < MinFormat || format > MaxFormat {
		return fmt.Errorf("unsupported sample format %d bits", format)
	}
	return nil
}

// BytesPerWord is the number of 7-bit groups used for one word.
func BytesPerWord(format int) int {
	switch {
	case format <= 14:
		return 2
	case format <= 21:
		return 3
	default:
		return 4
	}
}

// WordsPerPacket is the number of whole words one data packet holds.
func WordsPerPacket(format int) int {
	return DataBodySize / BytesPerWord(format)
}

// widen converts a 16-bit word to the value range of format.
func widen(w int16, format int) int32 {
	v := int32(w)
	switch {
	case format < 16:
		return v >> uint(16-format)
	case format > 16:
		return v << uint(format-16)
	}
	return v
}

// narrow converts a format-wide signed value back to 16 bits.
func narrow(v int32, format int) int16 {
	switch {
	case format < 16:
		v <<= uint(16 - format)
	case format > 16:
		v >>= uint(format - 16)
	}
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Pack appends the packed form of words to dst. Each word is offset by half
// the format's range, left aligned in its container and emitted most
// significant group first.
func Pack(dst []byte, words []int16, format int) []byte {
	width := BytesPerWord(format)
	pad := uint(7*width - format)
	zero := int32(1) << uint(format-1)
	mask := uint32(1)<<uint(format) - 1

	for _, w := range words {
		v := (uint32(widen(w, format)+zero) & mask) << pad
		for i := width - 1; i >= 0; i-- {
			dst = append(dst, byte(v>>(7*uint(i)))&0x7F)
		}
	}
	return dst
}

// PackBodies packs words and splits the stream into zero padded data bodies.
func PackBodies(words []int16, format int) [][]byte {
	stream := Pack(make([]byte, 0, len(words)*BytesPerWord(format)), words, format)
	bodies := make([][]byte, 0, (len(stream)+DataBodySize-1)/DataBodySize)
	for off := 0; off < len(stream); off += DataBodySize {
		body := make([]byte, DataBodySize)
		copy(body, stream[off:])
		bodies = append(bodies, body)
	}
	return bodies
}

// PadBody returns body extended to DataBodySize. The whole words of a short
// body are kept and the rest of the packet decodes as silence, so the words
// of later packets stay where they belong.
func PadBody(body []byte, format int) []byte {
	if len(body) == DataBodySize {
		return body
	}
	width := BytesPerWord(format)
	keep := min(len(body), DataBodySize) / width * width
	out := make([]byte, 0, DataBodySize)
	out = append(out, body[:keep]...)
	return Pack(out, make([]int16, (DataBodySize-keep)/width), format)
}

func unpackWord(groups []byte, format int) int16 {
	var v uint32
	for _, g := range groups {
		v = v<<7 | uint32(g&0x7F)
	}
	v >>= uint(7*len(groups) - format)
	return narrow(int32(v)-int32(1)<<uint(format-1), format)
}

// Unpacker decodes the data bodies of one sample. Bytes that do not complete
// a word are held until the next body arrives.
type Unpacker struct {
	format  int
	width   int
	pending []byte
}

// NewUnpacker creates an unpacker for the given format.
func NewUnpacker(format int) *Unpacker {
	width := BytesPerWord(format)
	return &Unpacker{
		format:  format,
		width:   width,
		pending: make([]byte, 0, width),
	}
}

// Append decodes body and appends the completed words to dst.
func (u *Unpacker) Append(dst []int16, body []byte) []int16 {
	if len(u.pending) > 0 {
		need := u.width - len(u.pending)
		if len(body) < need {
			u.pending = append(u.pending, body...)
			return dst
		}
		u.pending = append(u.pending, body[:need]...)
		dst = append(dst, unpackWord(u.pending, u.format))
		u.pending = u.pending[:0]
		body = body[need:]
	}

	full := len(body) / u.width * u.width
	for i := 0; i < full; i += u.width {
		dst = append(dst, unpackWord(body[i:i+u.width], u.format))
	}
	u.pending = append(u.pending, body[full:]...)
	return dst
}

// Pending returns the number of bytes waiting for the rest of their word.
func (u *Unpacker) Pending() int {
	return len(u.pending)
}

// Decode16 is the 16-bit fast path: it decodes whole 3-byte groups of body
// straight into dst and returns the number of words written. dst must have
// room for len(body)/3 words.
func Decode16(dst []int16, body []byte) int {
	n := 0
	for i := 0; i+2 < len(body); i += 3 {
		v := (uint32(body[i]&0x7F)<<14 | uint32(body[i+1]&0x7F)<<7 | uint32(body[i+2]&0x7F)) >> 5
		dst[n] = int16(int32(v) - 0x8000)
		n++
	}
	return n
}
