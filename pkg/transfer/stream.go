package transfer

import (
	"context"
	"errors"
	"slices"

	"github.com/james-see/sampledump/pkg/sds"
)

// maxOpen is how many samples a stream keeps assembling at once. Devices
// start the next header before the last packets of the previous sample.
const maxOpen = 2

// StreamResult lists what a stream session captured.
type StreamResult struct {
	Results []*Result
}

// Slots returns the captured slot indexes in arrival order.
func (r *StreamResult) Slots() []int {
	out := make([]int, 0, len(r.Results))
	for _, res := range r.Results {
		out = append(out, res.Slot)
	}
	return out
}

// StartStream passively captures a multi-sample dump started on the device.
// Each sample lands in the slot matching its sample number. When desired is
// not empty, other samples are ignored and the session ends as soon as all
// desired slots arrived; otherwise it ends after the idle window.
func (e *Engine) StartStream(ctx context.Context, desired []int) (*StreamResult, error) {
	for _, slot := range desired {
		if _, err := e.store.Get(slot); err != nil {
			return nil, err
		}
	}
	s, err := e.begin(ctx, DirectionRX, ModeStream)
	if err != nil {
		return nil, err
	}
	defer e.end(s)
	leave := e.focus.Enter()
	defer leave()

	st := &stream{eng: e, s: s, desired: desired, captured: make(map[int]bool)}
	defer st.releaseAll()

	e.log.Info("transfer: stream started", "desired", desired)
	err = st.run()
	if errors.Is(err, ErrUserAbort) {
		s.sendCancel(0)
	}
	e.log.Info("transfer: stream ended", "captured", len(st.result.Results), "error", err)
	return &st.result, err
}

type stream struct {
	eng      *Engine
	s        *session
	desired  []int
	open     []*assembler
	captured map[int]bool
	releases map[int]func()
	result   StreamResult
}

func (st *stream) run() error {
	e := st.eng
	timeout := e.cfg.StreamStartTimeout
	for !st.complete() {
		in, err := st.s.next(timeout)
		if errors.Is(err, errTimeout) {
			if len(st.result.Results) == 0 && len(st.open) == 0 {
				return &TimeoutError{Stage: "stream"}
			}
			break
		}
		if err != nil {
			return err
		}
		timeout = e.cfg.StreamIdle

		switch m := in.msg.(type) {
		case *sds.Header:
			st.header(m, in.raw)
		case *sds.Data:
			st.data(m, in.raw)
		case *sds.Handshake:
			switch m.Kind {
			case sds.EOF:
				if n := len(st.open); n > 0 {
					st.finalize(st.open[n-1])
				}
			case sds.Cancel:
				return &ProtocolError{PeerCancel: true}
			}
		}
	}
	for len(st.open) > 0 {
		st.finalize(st.open[0])
	}
	return nil
}

func (st *stream) complete() bool {
	if len(st.desired) == 0 {
		return false
	}
	for _, slot := range st.desired {
		if !st.captured[slot] {
			return false
		}
	}
	return true
}

func (st *stream) wanted(slot int) bool {
	if slot < 0 || slot >= st.eng.store.Len() {
		return false
	}
	return len(st.desired) == 0 || slices.Contains(st.desired, slot)
}

func (st *stream) header(h *sds.Header, raw []byte) {
	for _, a := range st.open {
		if a.header.Sample == h.Sample {
			st.finalize(a)
			break
		}
	}
	if len(st.open) == maxOpen {
		st.finalize(st.open[0])
	}

	slot := h.Sample
	a := st.eng.newAssembler(h, raw, slot)
	a.skip = !st.wanted(slot)
	if !a.skip {
		st.acquire(slot)
	}
	st.open = append(st.open, a)
}

// data routes a packet to the newest assembler expecting its sequence
// number, or to the newest one when none does. A sample already under way
// wins over one that has only seen its header.
func (st *stream) data(d *sds.Data, raw []byte) {
	if len(st.open) == 0 {
		return
	}
	target := st.open[len(st.open)-1]
	matched := false
	for i := len(st.open) - 1; i >= 0; i-- {
		a := st.open[i]
		if a.expected != d.Seq {
			continue
		}
		if !matched || (a.haveLast && !target.haveLast) {
			target, matched = a, true
		}
	}
	if werr := target.acceptPassive(d, raw); werr != nil {
		st.eng.log.Debug("transfer: damaged packet", "sample", target.header.Sample, "error", werr)
	}
	if !target.skip {
		st.eng.progress(target.slot, target.fraction())
	}
	if target.done() {
		st.finalize(target)
	}
}

func (st *stream) finalize(a *assembler) {
	st.open = slices.DeleteFunc(st.open, func(o *assembler) bool { return o == a })
	if a.skip {
		return
	}
	st.result.Results = append(st.result.Results, st.eng.finish(a, a.slot))
	st.captured[a.slot] = true
	if release, ok := st.releases[a.slot]; ok {
		release()
		delete(st.releases, a.slot)
		st.eng.obs.Transferring(a.slot, DirectionNone)
	}
	st.eng.focus.Invalidate(a.slot)
}

func (st *stream) acquire(slot int) {
	if st.releases == nil {
		st.releases = make(map[int]func())
	}
	if _, ok := st.releases[slot]; ok {
		return
	}
	release, err := st.eng.store.Acquire(slot)
	if err != nil {
		st.eng.log.Warn("transfer: slot busy during stream", "slot", slot, "error", err)
		return
	}
	st.releases[slot] = release
	st.eng.obs.Transferring(slot, DirectionRX)
}

func (st *stream) releaseAll() {
	for slot, release := range st.releases {
		release()
		st.eng.obs.Transferring(slot, DirectionNone)
	}
	st.releases = nil
}
