package sds

import (
	"bytes"
	"testing"
)

func TestFramerReassemblesFragments(t *testing.T) {
	header := (&Header{Sample: 1, Format: 16, Words: 40}).Encode(nil)
	data := NewData(0, 0, make([]byte, DataBodySize)).Encode(nil)
	stream := append(append([]byte(nil), header...), data...)

	f := NewFramer(0)
	var frames []Frame
	for i := 0; i < len(stream); i += 7 {
		end := min(i+7, len(stream))
		frames = append(frames, f.Write(stream[i:end])...)
	}

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if !bytes.Equal(frames[0].Data, header) || !bytes.Equal(frames[1].Data, data) {
		t.Error("reassembled frames differ from the input")
	}
	for _, fr := range frames {
		if fr.Truncated {
			t.Error("complete frame flagged truncated")
		}
	}
}

func TestFramerSkipsRealtimeBytes(t *testing.T) {
	ack := (&Handshake{Kind: ACK}).Encode(nil)
	noisy := []byte{0xFE, ack[0], ack[1], 0xF8, ack[2], ack[3], 0xFE, ack[4], ack[5]}

	frames := NewFramer(0).Write(noisy)
	if len(frames) != 1 || !bytes.Equal(frames[0].Data, ack) {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestFramerFlagsInterruptedFrames(t *testing.T) {
	ack := (&Handshake{Kind: ACK}).Encode(nil)
	stream := []byte{0xF0, 0x7E, 0x00, 0x02, 0x05, 0x10}
	stream = append(stream, ack...)
	stream = append(stream, 0xF0, 0x7E, 0x90, 0x3C, 0x40)

	frames := NewFramer(0).Write(stream)
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	if !frames[0].Truncated || frames[1].Truncated || !frames[2].Truncated {
		t.Errorf("truncated flags = %v %v %v", frames[0].Truncated, frames[1].Truncated, frames[2].Truncated)
	}
}

func TestFramerDropsOversizedFrames(t *testing.T) {
	f := NewFramer(16)
	big := append([]byte{0xF0}, make([]byte, 64)...)
	big = append(big, 0xF7)

	if frames := f.Write(big); len(frames) != 0 {
		t.Fatalf("oversized frame emitted: %d frames", len(frames))
	}
	if f.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", f.Dropped())
	}

	ack := (&Handshake{Kind: ACK}).Encode(nil)
	if frames := f.Write(ack); len(frames) != 1 {
		t.Errorf("framer did not recover after a drop")
	}
}
