package transfer

import (
	"sync"
	"testing"
	"time"

	"github.com/james-see/sampledump/pkg/device"
	"github.com/james-see/sampledump/pkg/sds"
	"github.com/james-see/sampledump/pkg/slots"
)

// fakeDevice records what the engine sends and answers synchronously
// through Feed, the way a port listener would.
type fakeDevice struct {
	mu    sync.Mutex
	eng   *Engine
	sent  [][]byte
	react func(msg sds.Message) [][]byte
}

func (d *fakeDevice) Send(b []byte) error {
	if len(b) == 1 && b[0] == 0xFE {
		return nil
	}
	d.mu.Lock()
	d.sent = append(d.sent, append([]byte(nil), b...))
	react := d.react
	d.mu.Unlock()
	if react == nil {
		return nil
	}
	msg, err := sds.Decode(b, false)
	if err != nil {
		return nil
	}
	for _, frame := range react(msg) {
		d.eng.Feed(frame)
	}
	return nil
}

// frames returns the sample dump frames sent so far.
func (d *fakeDevice) frames() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out [][]byte
	for _, f := range d.sent {
		if sds.IsSampleDump(f) {
			out = append(out, f)
		}
	}
	return out
}

// handshakes returns the handshakes of kind sent so far.
func (d *fakeDevice) handshakes(kind sds.Kind) []*sds.Handshake {
	var out []*sds.Handshake
	for _, f := range d.frames() {
		msg, err := sds.Decode(f, false)
		if err != nil {
			continue
		}
		if hs, ok := msg.(*sds.Handshake); ok && hs.Kind == kind {
			out = append(out, hs)
		}
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HeaderTimeout = 200 * time.Millisecond
	cfg.PacketTimeout = 100 * time.Millisecond
	cfg.IdleWindow = 60 * time.Millisecond
	cfg.StreamStartTimeout = 500 * time.Millisecond
	cfg.StreamIdle = 100 * time.Millisecond
	cfg.HandshakeTimeout = 20 * time.Millisecond
	cfg.HandshakeRetries = 2
	cfg.WaitTimeout = 100 * time.Millisecond
	cfg.NakRetries = 3
	cfg.OpenLoopPacing = time.Millisecond
	cfg.MinPacing = 0
	cfg.NameSettle = 0
	cfg.SettleDelay = 0
	cfg.KeepAliveInterval = 0
	return cfg
}

func newTestEngine(t *testing.T, profile Profile) (*Engine, *fakeDevice) {
	t.Helper()
	if profile == nil {
		profile = device.NewGeneric(0, 16, false)
	}
	dev := &fakeDevice{}
	eng := New(dev, slots.NewStore(16, 2), profile, testConfig())
	dev.eng = eng
	return eng, dev
}

func ramp(n int) []int16 {
	audio := make([]int16, n)
	for i := range audio {
		audio[i] = int16(i*523 - 16000)
	}
	return audio
}

// dump encodes audio as the frames a device would send for sample.
func dump(sample int, audio []int16) [][]byte {
	h := &sds.Header{
		Sample:   sample,
		Format:   16,
		Period:   sds.PeriodForRate(44100),
		Words:    len(audio),
		LoopType: sds.LoopOff,
	}
	frames := [][]byte{h.Encode(nil)}
	for i, body := range sds.PackBodies(audio, 16) {
		frames = append(frames, sds.NewData(0, byte(i)&0x7F, body).Encode(nil))
	}
	return frames
}

func handshake(kind sds.Kind, seq byte) []byte {
	return (&sds.Handshake{Kind: kind, Seq: seq}).Encode(nil)
}

// serveDump answers a closed-loop request for sample with frames, one data
// packet per ACK. corrupt decides whether the nth transmission of a packet
// goes out damaged; stopAfter, when >= 0, goes silent after that many data
// packets.
type dumpServer struct {
	mu        sync.Mutex
	frames    [][]byte
	next      int
	sends     map[int]int
	corrupt   func(packet, attempt int) bool
	stopAfter int
	onAck     func(seq byte)
}

func newDumpServer(frames [][]byte) *dumpServer {
	return &dumpServer{frames: frames, sends: make(map[int]int), stopAfter: -1}
}

func (s *dumpServer) packet(i int) [][]byte {
	if i+1 >= len(s.frames) || (s.stopAfter >= 0 && i >= s.stopAfter) {
		return nil
	}
	s.sends[i]++
	frame := append([]byte(nil), s.frames[i+1]...)
	if s.corrupt != nil && s.corrupt(i, s.sends[i]) {
		frame[10] ^= 0x01
	}
	return [][]byte{frame}
}

func (s *dumpServer) react(msg sds.Message) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch m := msg.(type) {
	case *sds.Request:
		return [][]byte{s.frames[0]}
	case *sds.Handshake:
		switch m.Kind {
		case sds.ACK:
			if s.onAck != nil {
				s.onAck(m.Seq)
			}
			i := s.next
			s.next++
			return s.packet(i)
		case sds.NAK:
			return s.packet(int(m.Seq))
		}
	}
	return nil
}

// recorder is an observer that keeps everything it is told.
type recorder struct {
	mu          sync.Mutex
	progress    map[int]float64
	states      []Direction
	invalidated []int
	bulk        []*BulkReport
	paused      int
	resumed     int
}

func newRecorder() *recorder {
	return &recorder{progress: make(map[int]float64)}
}

func (r *recorder) Progress(slot int, f float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress[slot] = f
}

func (r *recorder) Transferring(_ int, dir Direction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, dir)
}

func (r *recorder) Invalidate(slot int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, slot)
}

func (r *recorder) BulkDone(report *BulkReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bulk = append(r.bulk, report)
}

func (r *recorder) PauseRedraw() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused++
}

func (r *recorder) ResumeRedraw() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumed++
}

func (r *recorder) bulkReports() []*BulkReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*BulkReport(nil), r.bulk...)
}

// whenBusy feeds frames once the engine has a session waiting.
func whenBusy(t *testing.T, eng *Engine, frames ...[]byte) {
	t.Helper()
	go func() {
		deadline := time.Now().Add(time.Second)
		for !eng.Busy() && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		for _, f := range frames {
			eng.Feed(f)
		}
	}()
}

func equalAudio(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d words, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("word %d: got %d, want %d", i, got[i], want[i])
		}
	}
}
