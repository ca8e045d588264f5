package transfer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/james-see/sampledump/pkg/device"
	"github.com/james-see/sampledump/pkg/slots"
)

type countingSender struct {
	keepalives atomic.Int32
}

func (c *countingSender) Send(b []byte) error {
	if len(b) == 1 && b[0] == 0xFE {
		c.keepalives.Add(1)
	}
	return nil
}

type wakeLock struct {
	mu       sync.Mutex
	acquired int
	released int
}

func (w *wakeLock) Acquire() func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.acquired++
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.released++
	}
}

func TestFocusDepth(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	wake := &wakeLock{}
	eng.SetStayAwake(wake)
	f := eng.Focus()

	outer := f.Enter()
	inner := f.Enter()
	if f.Depth() != 2 || !f.Suppressing() {
		t.Fatalf("depth = %d suppressing = %v", f.Depth(), f.Suppressing())
	}
	inner()
	inner()
	if f.Depth() != 1 || !f.Suppressing() {
		t.Fatalf("after inner: depth = %d suppressing = %v", f.Depth(), f.Suppressing())
	}
	outer()
	if f.Depth() != 0 || f.Suppressing() {
		t.Fatalf("after outer: depth = %d suppressing = %v", f.Depth(), f.Suppressing())
	}
	if wake.acquired != 1 || wake.released != 1 {
		t.Errorf("wake lock acquired %d released %d", wake.acquired, wake.released)
	}
}

func TestFocusTurboClampAndRestore(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	turbo := device.NewTurbo(8, 10)
	eng.SetTurbo(turbo)
	f := eng.Focus()

	leave := f.Enter()
	if turbo.Factor() != eng.Config().SampleTurboCeiling {
		t.Errorf("factor = %v, want sample ceiling", turbo.Factor())
	}
	if f.Negotiated() != 8 {
		t.Errorf("negotiated = %v, want 8", f.Negotiated())
	}
	nested := f.EnterBulk()
	if turbo.Factor() != eng.Config().SampleTurboCeiling {
		t.Errorf("nested entry raised the factor to %v", turbo.Factor())
	}
	nested()
	leave()
	if turbo.Factor() != 8 {
		t.Errorf("factor after release = %v, want 8", turbo.Factor())
	}
}

func TestFocusNoRestoreWhenUnderCeiling(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	turbo := device.NewTurbo(2, 10)
	eng.SetTurbo(turbo)

	leave := eng.Focus().Enter()
	if err := turbo.SetFactor(3); err != nil {
		t.Fatal(err)
	}
	leave()
	if turbo.Factor() != 3 {
		t.Errorf("factor = %v, unowed restore overwrote it", turbo.Factor())
	}
}

func TestFocusSuppressesUnrelatedSysEx(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	var got [][]byte
	eng.SetUnrelatedHandler(func(b []byte) { got = append(got, b) })
	msg := []byte{0xF0, 0x00, 0x20, 0x3C, 0x02, 0x00, 0x10, 0xF7}

	leave := eng.Focus().Enter()
	eng.Feed(msg)
	if len(got) != 0 {
		t.Fatal("unrelated SysEx delivered during a transfer")
	}
	leave()
	eng.Feed(msg)
	if len(got) != 1 {
		t.Fatalf("got %d messages after release, want 1", len(got))
	}
}

func TestFocusDefersInvalidation(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	rec := newRecorder()
	eng.SetObserver(rec)
	f := eng.Focus()

	leave := f.Enter()
	f.Invalidate(3)
	f.Invalidate(3)
	rec.mu.Lock()
	early := len(rec.invalidated)
	rec.mu.Unlock()
	if early != 0 {
		t.Fatal("invalidation delivered while paused")
	}
	leave()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.paused != 1 || rec.resumed != 1 {
		t.Errorf("paused %d resumed %d", rec.paused, rec.resumed)
	}
	if len(rec.invalidated) != 1 || rec.invalidated[0] != 3 {
		t.Errorf("invalidated = %v, want [3]", rec.invalidated)
	}
}

func TestFocusKeepAlive(t *testing.T) {
	out := &countingSender{}
	cfg := testConfig()
	cfg.KeepAliveInterval = 5 * time.Millisecond
	eng := New(out, slots.NewStore(4, 0), device.NewGeneric(0, 4, false), cfg)

	leave := eng.Focus().Enter()
	time.Sleep(40 * time.Millisecond)
	leave()
	n := out.keepalives.Load()
	if n == 0 {
		t.Fatal("no keepalive sent while in focus")
	}
	time.Sleep(20 * time.Millisecond)
	if out.keepalives.Load() != n {
		t.Error("keepalive still running after release")
	}
}
