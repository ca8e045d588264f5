package transfer

import (
	"github.com/james-see/sampledump/pkg/sds"
	"github.com/james-see/sampledump/pkg/slots"
)

// assembler accumulates the packets of one sample.
type assembler struct {
	header *sds.Header
	slot   int
	// skip assemblers absorb packets of samples nobody asked for.
	skip bool

	fast     bool
	words    []int16
	n        int
	unpacker *sds.Unpacker

	expected byte
	last     byte
	haveLast bool
	stats    slots.RxStats
	naks     int
	packets  [][]byte
	// damaged is set once a bad packet went into the audio unrepaired.
	damaged bool
}

func newAssembler(h *sds.Header, raw []byte, slot int, fast bool) *assembler {
	a := &assembler{
		header:   h,
		slot:     slot,
		unpacker: sds.NewUnpacker(h.Format),
		packets:  [][]byte{append([]byte(nil), raw...)},
	}
	a.stats.DeclaredWords = h.Words
	if fast && h.Format == 16 && h.Words > 0 {
		a.fast = true
		a.words = make([]int16, h.Words+sds.WordsPerPacket(16))
	}
	return a
}

// duplicate reports whether d repeats the last accepted packet.
func (a *assembler) duplicate(d *sds.Data) bool {
	return a.haveLast && d.Seq == a.last && !d.Truncated && d.Valid()
}

// accept decodes d into the sample and advances the expected sequence. A
// short body still occupies a whole packet's worth of words.
func (a *assembler) accept(d *sds.Data, raw []byte) {
	a.packets = append(a.packets, append([]byte(nil), raw...))
	a.last, a.haveLast = d.Seq, true
	a.expected = sds.NextSeq(d.Seq)
	if a.skip {
		return
	}

	body := sds.PadBody(d.Body, a.header.Format)
	if a.fast {
		if need := a.n + len(body)/3; need > len(a.words) {
			a.words = append(a.words, make([]int16, need-len(a.words))...)
		}
		a.n += sds.Decode16(a.words[a.n:], body)
		return
	}
	a.words = a.unpacker.Append(a.words, body)
	a.n = len(a.words)
}

// acceptPassive takes d without handshaking, counting damage on the way.
func (a *assembler) acceptPassive(d *sds.Data, raw []byte) *WireError {
	if a.duplicate(d) {
		return nil
	}
	werr := a.inspect(d)
	if werr != nil {
		a.count(werr)
		a.damaged = true
	}
	a.accept(d, raw)
	return werr
}

// inspect returns what is wrong with d, or nil for the expected packet
// arriving intact.
func (a *assembler) inspect(d *sds.Data) *WireError {
	switch {
	case d.Truncated:
		return &WireError{Kind: WireTruncated, Seq: d.Seq, Expected: a.expected}
	case !d.Valid():
		return &WireError{Kind: WireChecksum, Seq: d.Seq, Expected: a.expected}
	case d.Seq != a.expected:
		return &WireError{Kind: WireOutOfOrder, Seq: d.Seq, Expected: a.expected}
	}
	return nil
}

// count records werr in the receive stats.
func (a *assembler) count(werr *WireError) {
	switch werr.Kind {
	case WireTruncated:
		a.stats.Truncated++
	case WireChecksum:
		a.stats.ChecksumErrors++
	case WireOutOfOrder:
		a.stats.OutOfOrder++
	}
	if werr.Kind != WireOutOfOrder && werr.Seq != werr.Expected {
		a.stats.OutOfOrder++
	}
}

// corrupted reports whether the audio is known to differ from what was sent.
func (a *assembler) corrupted(words int) bool {
	return a.damaged || words != a.header.Words
}

func (a *assembler) done() bool {
	return a.header.Words > 0 && a.n >= a.header.Words
}

func (a *assembler) fraction() float64 {
	if a.header.Words <= 0 {
		return 0
	}
	return float64(a.n) / float64(a.header.Words)
}

// build turns the accumulated packets into a slot. prev supplies the fields
// the wire does not carry.
func (a *assembler) build(prev *slots.Slot) *slots.Slot {
	audio := a.words[:a.n]
	if a.header.Words > 0 && len(audio) > a.header.Words {
		audio = audio[:a.header.Words]
	}
	audio = append([]int16(nil), audio...)

	rate := a.header.Rate()
	s := &slots.Slot{
		Index:      a.slot,
		Audio:      audio,
		Format:     a.header.Format,
		Rate:       rate,
		TargetRate: rate,
		LoopType:   a.header.LoopType,
		Stats:      a.stats,
	}
	if prev != nil {
		s.Name = prev.Name
		s.Repitch = prev.Repitch
	}
	if a.header.HasLoop() {
		// the wire loop end is inclusive
		s.Loop = &slots.Loop{Start: a.header.LoopStart, End: a.header.LoopEnd + 1}
	}

	s.Corrupted = a.corrupted(len(audio))
	if !s.Corrupted {
		s.Capture = &slots.Capture{Packets: a.packets, AudioSum: slots.AudioSum(audio)}
	}
	return s
}
