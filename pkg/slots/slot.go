// Package slots holds the sample memory image shared by the transfer engine
// and its observers.
package slots

import (
	"encoding/binary"
	"hash/crc32"
	"strings"
)

// NameLength is the fixed length of a slot name.
const NameLength = 4

// Loop is a half-open loop region [Start, End).
type Loop struct {
	Start int
	End   int
}

// RxStats counts what went wrong while a slot was received.
type RxStats struct {
	ChecksumErrors int
	OutOfOrder     int
	Truncated      int
	DeclaredWords  int
}

// Clean reports whether nothing was recorded.
func (s RxStats) Clean() bool {
	return s.ChecksumErrors == 0 && s.OutOfOrder == 0 && s.Truncated == 0
}

// Capture is the exact wire image a slot's audio was received from: the
// header frame followed by every data frame.
type Capture struct {
	Packets  [][]byte
	AudioSum uint32
}

// Slot is one sample in device memory.
type Slot struct {
	Index      int
	Name       string
	Audio      []int16
	Format     int
	Rate       int
	TargetRate int
	Loop       *Loop
	LoopType   byte
	Repitch    int

	// Edited marks local changes the device has not confirmed.
	Edited    bool
	Corrupted bool
	Stats     RxStats
	Capture   *Capture
}

// NumSamples is the number of words actually held.
func (s *Slot) NumSamples() int {
	return len(s.Audio)
}

// Empty reports whether the slot has no audio.
func (s *Slot) Empty() bool {
	return s == nil || len(s.Audio) == 0
}

// ClampLoop keeps the loop inside [0, NumSamples] and clears it when the
// clamped region is empty.
func (s *Slot) ClampLoop() {
	if s.Loop == nil {
		return
	}
	start := max(0, min(s.Loop.Start, len(s.Audio)))
	end := max(0, min(s.Loop.End, len(s.Audio)))
	if end <= start {
		s.Loop = nil
		return
	}
	s.Loop = &Loop{Start: start, End: end}
}

// ParityReady reports whether the capture still describes the slot: same
// audio, sent at the rate it was received at.
func (s *Slot) ParityReady() bool {
	if s.Capture == nil || len(s.Capture.Packets) == 0 {
		return false
	}
	if s.TargetRate != 0 && s.TargetRate != s.Rate {
		return false
	}
	return s.Capture.AudioSum == AudioSum(s.Audio)
}

// Clone returns a deep copy.
func (s *Slot) Clone() *Slot {
	if s == nil {
		return nil
	}
	c := *s
	c.Audio = append([]int16(nil), s.Audio...)
	if s.Loop != nil {
		l := *s.Loop
		c.Loop = &l
	}
	if s.Capture != nil {
		packets := make([][]byte, len(s.Capture.Packets))
		for i, p := range s.Capture.Packets {
			packets[i] = append([]byte(nil), p...)
		}
		c.Capture = &Capture{Packets: packets, AudioSum: s.Capture.AudioSum}
	}
	return &c
}

// NormalizeName upper-cases, trims to NameLength and pads with spaces.
func NormalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if b.Len() == NameLength {
			break
		}
		if r < 0x20 || r > 0x7E {
			r = ' '
		}
		b.WriteRune(r)
	}
	for b.Len() < NameLength {
		b.WriteByte(' ')
	}
	return b.String()
}

// AudioSum is the content checksum tagged on captures.
func AudioSum(audio []int16) uint32 {
	h := crc32.NewIEEE()
	var buf [2]byte
	for _, w := range audio {
		binary.LittleEndian.PutUint16(buf[:], uint16(w))
		_, _ = h.Write(buf[:])
	}
	return h.Sum32()
}
