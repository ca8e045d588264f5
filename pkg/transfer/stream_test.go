package transfer

import (
	"context"
	"slices"
	"testing"
)

func TestStreamDemuxesInterleavedSamples(t *testing.T) {
	eng, dev := newTestEngine(t, nil)
	audioA, audioB := ramp(120), ramp(80)
	for i := range audioB {
		audioB[i] = -audioB[i]
	}
	a, b := dump(1, audioA), dump(2, audioB)
	whenBusy(t, eng, a[0], a[1], a[2], b[0], a[3], b[1], b[2])

	res, err := eng.StartStream(context.Background(), []int{1, 2})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if got := res.Slots(); !slices.Equal(got, []int{1, 2}) {
		t.Errorf("captured %v, want [1 2]", got)
	}
	slotA, _ := eng.Store().Get(1)
	slotB, _ := eng.Store().Get(2)
	equalAudio(t, slotA.Audio, audioA)
	equalAudio(t, slotB.Audio, audioB)
	if slotA.Corrupted || slotB.Corrupted {
		t.Error("interleaved samples flagged corrupted")
	}
	if len(dev.frames()) != 0 {
		t.Error("stream sent messages to the device")
	}
}

func TestStreamEndsWhenIdle(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	whenBusy(t, eng, dump(5, ramp(60))...)

	res, err := eng.StartStream(context.Background(), nil)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if got := res.Slots(); !slices.Equal(got, []int{5}) {
		t.Errorf("captured %v, want [5]", got)
	}
}

func TestStreamIgnoresUndesired(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	frames := append(dump(4, ramp(80)), dump(2, ramp(40))...)
	whenBusy(t, eng, frames...)

	res, err := eng.StartStream(context.Background(), []int{2})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if got := res.Slots(); !slices.Equal(got, []int{2}) {
		t.Errorf("captured %v, want [2]", got)
	}
	if slot, _ := eng.Store().Get(4); slot != nil {
		t.Error("undesired sample was stored")
	}
}

func TestStreamThirdHeaderDisplacesOldest(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	a, b, c := dump(1, ramp(120)), dump(2, ramp(40)), dump(3, ramp(40))
	whenBusy(t, eng, a[0], a[1], b[0], c[0], c[1])

	res, err := eng.StartStream(context.Background(), nil)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	slotA, _ := eng.Store().Get(1)
	if slotA == nil || !slotA.Corrupted || len(slotA.Audio) != 40 {
		t.Fatalf("displaced sample = %+v", slotA)
	}
	if slotC, _ := eng.Store().Get(3); slotC == nil || slotC.Corrupted {
		t.Errorf("sample 3 = %+v", slotC)
	}
	if len(res.Results) != 3 {
		t.Errorf("got %d results, want 3", len(res.Results))
	}
}

func TestStreamTimesOutWithoutTraffic(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	_, err := eng.StartStream(context.Background(), []int{1})
	if !IsNoHeader(err) {
		t.Fatalf("err = %v, want stream timeout", err)
	}
	if eng.Busy() {
		t.Error("engine still busy")
	}
}

func TestStreamTruncatedPacketKeepsAlignment(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	audio := ramp(120)
	a := dump(6, audio)
	whenBusy(t, eng, a[0], a[1], a[2][:60], a[3])

	res, err := eng.StartStream(context.Background(), []int{6})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if len(res.Results) != 1 || res.Results[0].Stats.Truncated != 1 {
		t.Fatalf("results = %+v", res.Results)
	}
	slot, _ := eng.Store().Get(6)
	if !slot.Corrupted || len(slot.Audio) != 120 {
		t.Fatalf("slot corrupted=%v words=%d", slot.Corrupted, len(slot.Audio))
	}
	equalAudio(t, slot.Audio[:58], audio[:58])
	equalAudio(t, slot.Audio[80:], audio[80:])
}

func TestStreamWrappedSequenceStaysWithItsSample(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	// 129 packets: the last one wraps back to sequence 0
	audioA, audioB := ramp(129*40), ramp(80)
	for i := range audioB {
		audioB[i] = -audioB[i]
	}
	a, b := dump(1, audioA), dump(2, audioB)
	frames := append([][]byte(nil), a[:129]...)
	frames = append(frames, b[0], a[129], b[1], b[2])
	whenBusy(t, eng, frames...)

	res, err := eng.StartStream(context.Background(), []int{1, 2})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if got := res.Slots(); !slices.Equal(got, []int{1, 2}) {
		t.Errorf("captured %v, want [1 2]", got)
	}
	slotA, _ := eng.Store().Get(1)
	slotB, _ := eng.Store().Get(2)
	equalAudio(t, slotA.Audio, audioA)
	equalAudio(t, slotB.Audio, audioB)
	if slotA.Corrupted || slotB.Corrupted {
		t.Error("wrapped sample flagged corrupted")
	}
}
