package transfer

import (
	"sync"
	"sync/atomic"
	"time"
)

// keepAlive is MIDI active sensing.
var keepAlive = []byte{0xFE}

// Focus is the reference-counted guard held for the duration of any
// transfer. The first entry keeps the host awake, starts the keepalive,
// suppresses unrelated SysEx, pauses redraws and clamps the link multiplier.
// The last exit undoes all of it. Nested entries are free.
type Focus struct {
	eng *Engine

	mu       sync.Mutex
	depth    int
	wake     func()
	stop     chan struct{}
	done     chan struct{}
	paused   bool
	pending  map[int]struct{}
	previous float64
	enforced float64
	owed     bool

	suppress atomic.Bool
}

// Enter acquires the guard for a sample transfer. The returned func
// releases it and may be called more than once.
func (f *Focus) Enter() (leave func()) {
	return f.EnterWith(f.eng.cfg.SampleTurboCeiling)
}

// EnterBulk acquires the guard for dumps other than samples, which tolerate
// a higher multiplier.
func (f *Focus) EnterBulk() (leave func()) {
	return f.EnterWith(f.eng.cfg.BulkTurboCeiling)
}

// EnterWith acquires the guard clamping the multiplier to ceiling. A nested
// entry may clamp further but never raises it.
func (f *Focus) EnterWith(ceiling float64) (leave func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.depth++
	if f.depth == 1 {
		f.acquire()
	}
	f.clamp(ceiling)

	var once sync.Once
	return func() {
		once.Do(f.leave)
	}
}

// Depth returns the number of active entries.
func (f *Focus) Depth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.depth
}

// Suppressing reports whether unrelated SysEx is currently dropped.
func (f *Focus) Suppressing() bool {
	return f.suppress.Load()
}

// Negotiated returns the multiplier in effect before the guard clamped it.
func (f *Focus) Negotiated() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owed {
		return f.previous
	}
	if f.eng.turbo == nil {
		return 1
	}
	return f.eng.turbo.Factor()
}

// Invalidate asks the observer to redraw slot, or holds the request until
// the guard is released.
func (f *Focus) Invalidate(slot int) {
	f.mu.Lock()
	if f.paused {
		if f.pending == nil {
			f.pending = make(map[int]struct{})
		}
		f.pending[slot] = struct{}{}
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	f.eng.obs.Invalidate(slot)
}

func (f *Focus) acquire() {
	e := f.eng
	if e.stayAwake != nil {
		f.wake = e.stayAwake.Acquire()
	}
	if e.cfg.KeepAliveInterval > 0 {
		f.stop = make(chan struct{})
		f.done = make(chan struct{})
		go f.keepAlive(e.cfg.KeepAliveInterval, f.stop, f.done)
	}
	f.suppress.Store(true)
	if p, ok := e.obs.(RedrawPauser); ok {
		p.PauseRedraw()
		f.paused = true
	}
	f.owed = false
	f.enforced = 0
}

func (f *Focus) clamp(ceiling float64) {
	t := f.eng.turbo
	if t == nil {
		return
	}
	current := t.Factor()
	if current <= ceiling {
		return
	}
	if err := t.SetFactor(ceiling); err != nil {
		f.eng.log.Warn("transfer: failed to clamp turbo", "ceiling", ceiling, "error", err)
		return
	}
	if !f.owed {
		f.previous = current
		f.owed = true
	}
	f.enforced = ceiling
	f.eng.log.Debug("transfer: turbo clamped", "from", current, "to", ceiling)
}

func (f *Focus) leave() {
	f.mu.Lock()
	f.depth--
	if f.depth > 0 {
		f.mu.Unlock()
		return
	}
	e := f.eng

	if f.stop != nil {
		close(f.stop)
		<-f.done
		f.stop, f.done = nil, nil
	}
	f.suppress.Store(false)
	if f.wake != nil {
		f.wake()
		f.wake = nil
	}
	if f.owed && e.turbo != nil {
		if err := e.turbo.SetFactor(f.previous); err != nil {
			e.log.Warn("transfer: failed to restore turbo", "factor", f.previous, "error", err)
		}
	}
	f.owed = false

	var pending []int
	wasPaused := f.paused
	if f.paused {
		for slot := range f.pending {
			pending = append(pending, slot)
		}
		f.pending = nil
		f.paused = false
	}
	f.mu.Unlock()

	if wasPaused {
		if p, ok := e.obs.(RedrawPauser); ok {
			p.ResumeRedraw()
		}
	}
	for _, slot := range pending {
		e.obs.Invalidate(slot)
	}
}

func (f *Focus) keepAlive(interval time.Duration, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := f.eng.out.Send(keepAlive); err != nil {
				f.eng.log.Debug("transfer: keepalive failed", "error", err)
			}
		}
	}
}
