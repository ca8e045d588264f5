// Package wavio moves slot audio in and out of WAV files.
package wavio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/james-see/sampledump/pkg/slots"
)

const framesToRead = 8192

// Decode reads a WAV stream into a slot. Multi-channel files are mixed down
// and every bit depth is converted to 16 bits.
func Decode(r io.ReadSeeker) (*slots.Slot, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("not a valid WAV file")
	}
	dec.ReadInfo()
	channels := int(dec.NumChans)
	depth := int(dec.BitDepth)
	if channels == 0 || depth == 0 {
		return nil, errors.New("WAV file without format chunk")
	}
	if err := dec.Rewind(); err != nil {
		return nil, fmt.Errorf("rewind WAV: %w", err)
	}

	var words []int16
	buf := &audio.IntBuffer{Data: make([]int, framesToRead*channels), Format: &audio.Format{}}
	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return nil, fmt.Errorf("read WAV samples: %w", err)
		}
		if n == 0 {
			break
		}
		for i := 0; i+channels <= n; i += channels {
			var sum int
			for ch := 0; ch < channels; ch++ {
				sum += buf.Data[i+ch]
			}
			words = append(words, to16(sum/channels, depth))
		}
	}

	return &slots.Slot{
		Audio:      words,
		Format:     16,
		Rate:       int(dec.SampleRate),
		TargetRate: int(dec.SampleRate),
	}, nil
}

func to16(v, depth int) int16 {
	switch {
	case depth == 8:
		// 8-bit WAV is unsigned
		v = (v - 128) << 8
	case depth < 16:
		v <<= uint(16 - depth)
	case depth > 16:
		v >>= uint(depth - 16)
	}
	return int16(max(math.MinInt16, min(math.MaxInt16, v)))
}

// ReadFile imports a WAV file; the slot is named after the file.
func ReadFile(path string) (*slots.Slot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}
	defer func() { _ = f.Close() }()

	slot, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	slot.Name = NameFromPath(path)
	return slot, nil
}

// NameFromPath derives a slot name from a file name.
func NameFromPath(path string) string {
	return slots.NormalizeName(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
}

// Encode writes slot audio as a mono 16-bit WAV.
func Encode(w io.WriteSeeker, slot *slots.Slot) error {
	if slot.Empty() {
		return slots.ErrNoSlot
	}
	rate := slot.Rate
	if rate <= 0 {
		rate = 44100
	}

	enc := wav.NewEncoder(w, rate, 16, 1, 1)
	data := make([]int, len(slot.Audio))
	for i, v := range slot.Audio {
		data[i] = int(v)
	}
	buf := &audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: rate, NumChannels: 1},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write WAV samples: %w", err)
	}
	return enc.Close()
}

// WriteFile exports a slot to path.
func WriteFile(path string, slot *slots.Slot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create WAV file: %w", err)
	}
	if err := Encode(f, slot); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
