package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/james-see/sampledump/pkg/sds"
)

// RequestReceive asks the device for sample slot and stores it in the same
// slot.
func (e *Engine) RequestReceive(ctx context.Context, slot int, mode Mode) (*Result, error) {
	return e.ReceiveInto(ctx, slot, slot, mode)
}

// ReceiveInto receives device sample number sample into slot. Closed mode
// requests the sample and handshakes every packet; open mode waits for the
// user to start the dump on the device.
func (e *Engine) ReceiveInto(ctx context.Context, sample, slot int, mode Mode) (*Result, error) {
	mode = e.resolveMode(mode)
	if mode != ModeClosed && mode != ModeOpen {
		return nil, fmt.Errorf("%w: %s for a single receive", ErrMode, mode)
	}
	if sample < 0 || sample > 0x3FFF {
		return nil, fmt.Errorf("sample number %d out of range", sample)
	}
	if _, err := e.store.Get(slot); err != nil {
		return nil, err
	}

	s, err := e.begin(ctx, DirectionRX, mode)
	if err != nil {
		return nil, err
	}
	defer e.end(s)
	release, err := e.store.Acquire(slot)
	if err != nil {
		return nil, err
	}
	defer release()
	leave := e.focus.Enter()
	defer leave()
	defer e.track(slot, DirectionRX)()

	e.log.Info("transfer: receive", "sample", sample, "slot", slot, "mode", mode)
	var res *Result
	if mode == ModeClosed {
		res, err = e.receiveClosed(s, sample, slot)
	} else {
		res, err = e.receiveOpen(s, slot)
	}
	if errors.Is(err, ErrUserAbort) {
		s.sendCancel(0)
	}
	if err != nil {
		e.log.Warn("transfer: receive failed", "slot", slot, "error", err)
	}
	return res, err
}

// awaitHeader waits for the first header, ignoring everything else.
func (s *session) awaitHeader() (*sds.Header, []byte, error) {
	timeout := s.eng.cfg.HeaderTimeout
	for {
		in, err := s.next(timeout)
		if errors.Is(err, errTimeout) {
			return nil, nil, &TimeoutError{Stage: "header"}
		}
		if err != nil {
			return nil, nil, err
		}
		switch m := in.msg.(type) {
		case *sds.Header:
			return m, in.raw, nil
		case *sds.Handshake:
			if m.Kind == sds.Cancel {
				return nil, nil, &ProtocolError{PeerCancel: true}
			}
		}
	}
}

func (e *Engine) newAssembler(h *sds.Header, raw []byte, slot int) *assembler {
	fast := e.focus.Negotiated() >= e.cfg.FastPathTurbo
	return newAssembler(h, raw, slot, fast)
}

func (e *Engine) receiveClosed(s *session, sample, slot int) (*Result, error) {
	ch := e.profile.Channel()
	if err := s.send(&sds.Request{Channel: ch, Sample: sample}); err != nil {
		return nil, err
	}
	h, raw, err := s.awaitHeader()
	if err != nil {
		return nil, err
	}
	if h.Sample != sample {
		e.log.Debug("transfer: header for another sample number", "want", sample, "got", h.Sample)
	}
	a := e.newAssembler(h, raw, slot)
	if err := s.handshake(sds.ACK, 0); err != nil {
		return nil, err
	}

	naks := 0
	for !a.done() {
		in, err := s.next(e.cfg.PacketTimeout)
		if errors.Is(err, errTimeout) {
			e.storePartial(a)
			return e.result(a, slot), &TimeoutError{Stage: "data", HeaderSeen: true}
		}
		if err != nil {
			return nil, err
		}

		switch m := in.msg.(type) {
		case *sds.Data:
			if a.duplicate(m) {
				if err := s.handshake(sds.ACK, m.Seq); err != nil {
					return nil, err
				}
				continue
			}
			werr := a.inspect(m)
			if werr == nil {
				a.accept(m, in.raw)
				naks = 0
				if err := s.handshake(sds.ACK, m.Seq); err != nil {
					return nil, err
				}
				e.progress(slot, a.fraction())
				continue
			}

			a.count(werr)
			naks++
			a.naks++
			e.log.Debug("transfer: nak", "slot", slot, "error", werr, "attempt", naks)
			if naks > e.cfg.NakRetries {
				s.sendCancel(a.expected)
				e.storePartial(a)
				return e.result(a, slot), &ProtocolError{Reason: fmt.Sprintf("packet %d failed %d times", a.expected, naks)}
			}
			if err := s.handshake(sds.NAK, a.expected); err != nil {
				return nil, err
			}
		case *sds.Handshake:
			switch m.Kind {
			case sds.EOF:
				return e.finish(a, slot), nil
			case sds.Cancel:
				return nil, &ProtocolError{PeerCancel: true}
			}
		case *sds.Header:
			if m.Sample != a.header.Sample {
				return e.finish(a, slot), nil
			}
		}
	}

	if err := s.handshake(sds.EOF, a.last); err != nil {
		e.log.Debug("transfer: failed to send eof", "error", err)
	}
	return e.finish(a, slot), nil
}

func (e *Engine) receiveOpen(s *session, slot int) (*Result, error) {
	h, raw, err := s.awaitHeader()
	if err != nil {
		return nil, err
	}
	a := e.newAssembler(h, raw, slot)

	for !a.done() {
		in, err := s.next(e.cfg.IdleWindow)
		if errors.Is(err, errTimeout) {
			e.log.Debug("transfer: idle, finalizing", "slot", slot, "words", a.n)
			break
		}
		if err != nil {
			return nil, err
		}

		switch m := in.msg.(type) {
		case *sds.Data:
			if werr := a.acceptPassive(m, in.raw); werr != nil {
				e.log.Debug("transfer: damaged packet", "slot", slot, "error", werr)
			}
			e.progress(slot, a.fraction())
		case *sds.Handshake:
			switch m.Kind {
			case sds.EOF:
				return e.finish(a, slot), nil
			case sds.Cancel:
				return nil, &ProtocolError{PeerCancel: true}
			}
		case *sds.Header:
			if m.Sample != a.header.Sample {
				return e.finish(a, slot), nil
			}
		}
	}
	return e.finish(a, slot), nil
}

// finish stores the assembled sample.
func (e *Engine) finish(a *assembler, slot int) *Result {
	e.storePartial(a)
	return e.result(a, slot)
}

// storePartial stores whatever arrived. Incomplete samples come out
// flagged corrupted.
func (e *Engine) storePartial(a *assembler) {
	if a.skip {
		return
	}
	prev, _ := e.store.Get(a.slot)
	s := a.build(prev)
	if err := e.store.Set(a.slot, s); err != nil {
		e.log.Error("transfer: failed to store sample", "slot", a.slot, "error", err)
		return
	}
	e.log.Info("transfer: stored sample", "slot", a.slot, "words", len(s.Audio),
		"rate", s.Rate, "corrupted", s.Corrupted, "naks", a.naks)
	e.progress(a.slot, 1)
}

func (e *Engine) result(a *assembler, slot int) *Result {
	n := a.n
	if a.header.Words > 0 {
		n = min(a.n, a.header.Words)
	}
	return &Result{
		Slot:      slot,
		Sample:    a.header.Sample,
		Direction: DirectionRX,
		Words:     n,
		Packets:   len(a.packets) - 1,
		Corrupted: a.corrupted(n),
		Stats:     a.stats,
	}
}
