package sds

import (
	"github.com/armon/circbuf"
)

// DefaultFrameLimit bounds a single reassembled SysEx frame.
const DefaultFrameLimit = 4096

// Frame is one reassembled SysEx message.
type Frame struct {
	Data      []byte
	Truncated bool
}

// Framer turns arbitrarily split MIDI input into SysEx frames. Real-time
// bytes may appear anywhere and are skipped. A frame interrupted by another
// status byte is emitted as truncated. Frames larger than the limit are
// dropped.
type Framer struct {
	buf     *circbuf.Buffer
	one     [1]byte
	in      bool
	dropped int
}

// NewFramer creates a framer holding at most limit bytes per frame.
func NewFramer(limit int64) *Framer {
	if limit <= 0 {
		limit = DefaultFrameLimit
	}
	buf, err := circbuf.NewBuffer(limit)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &Framer{buf: buf}
}

// Write consumes a chunk and returns the frames it completed.
func (f *Framer) Write(chunk []byte) []Frame {
	var frames []Frame
	for _, b := range chunk {
		switch {
		case b >= 0xF8:
			continue
		case b == SysExStart:
			if f.in {
				frames = f.flush(frames, true)
			}
			f.in = true
			f.buf.Reset()
			f.put(b)
		case b == SysExEnd:
			if !f.in {
				continue
			}
			f.put(b)
			frames = f.flush(frames, false)
		case b >= 0x80:
			if f.in {
				frames = f.flush(frames, true)
			}
		default:
			if f.in {
				f.put(b)
			}
		}
	}
	return frames
}

// Dropped returns the number of frames discarded for exceeding the limit.
func (f *Framer) Dropped() int {
	return f.dropped
}

// Reset discards any partially assembled frame.
func (f *Framer) Reset() {
	f.in = false
	f.buf.Reset()
}

func (f *Framer) put(b byte) {
	f.one[0] = b
	_, _ = f.buf.Write(f.one[:])
}

func (f *Framer) flush(frames []Frame, truncated bool) []Frame {
	f.in = false
	if f.buf.TotalWritten() > f.buf.Size() {
		f.dropped++
		f.buf.Reset()
		return frames
	}
	data := append([]byte(nil), f.buf.Bytes()...)
	f.buf.Reset()
	return append(frames, Frame{Data: data, Truncated: truncated})
}
