package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/james-see/sampledump/pkg/resample"
	"github.com/james-see/sampledump/pkg/sds"
	"github.com/james-see/sampledump/pkg/slots"
)

type txPacket struct {
	frame  []byte
	seq    byte
	header bool
}

// RequestSend sends slot to the device as the sample of the same number.
func (e *Engine) RequestSend(ctx context.Context, slot int, mode Mode) (*Result, error) {
	return e.SendTo(ctx, slot, slot, mode)
}

// SendTo sends slot to the device as sample number sample. A slot still
// holding the wire image it was received from is replayed byte for byte.
func (e *Engine) SendTo(ctx context.Context, slot, sample int, mode Mode) (*Result, error) {
	mode = e.resolveMode(mode)
	if mode != ModeClosed && mode != ModeOpen {
		return nil, fmt.Errorf("%w: %s for a send", ErrMode, mode)
	}
	if sample < 0 || sample > 0x3FFF {
		return nil, fmt.Errorf("sample number %d out of range", sample)
	}
	src, err := e.store.Get(slot)
	if err != nil {
		return nil, err
	}
	if e.store.IsReceiveOnly(slot) {
		return nil, ErrReceiveOnly
	}
	if src.Empty() {
		return nil, ErrEmptySlot
	}

	s, err := e.begin(ctx, DirectionTX, mode)
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
	defer e.track(slot, DirectionTX)()

	if msg := e.profile.NameMessage(sample, src.Name); msg != nil {
		if err := sds.Validate(msg); err != nil {
			return nil, fmt.Errorf("name message: %w", err)
		}
		if err := e.out.Send(msg); err != nil {
			return nil, fmt.Errorf("sending name: %w", err)
		}
		if err := s.sleep(e.cfg.NameSettle); err != nil {
			return nil, err
		}
	}

	packets, parity, err := e.buildPackets(src, sample)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Slot:      slot,
		Sample:    sample,
		Direction: DirectionTX,
		Words:     len(src.Audio),
		Parity:    parity,
	}
	e.log.Info("transfer: send", "slot", slot, "sample", sample, "mode", mode,
		"packets", len(packets), "parity", parity)

	if mode == ModeClosed {
		err = e.sendClosed(s, packets, slot, res)
	} else {
		res.OpenLoop = true
		err = e.sendOpen(s, packets, 0, slot, res)
	}
	if err != nil {
		if errors.Is(err, ErrUserAbort) {
			s.sendCancel(0)
		}
		e.log.Warn("transfer: send failed", "slot", slot, "error", err)
		return res, err
	}

	if err := s.handshake(sds.EOF, packets[len(packets)-1].seq); err != nil {
		e.log.Debug("transfer: failed to send eof", "error", err)
	}
	e.store.MarkSynced(slot)
	e.progress(slot, 1)
	return res, nil
}

// buildPackets returns the header and data frames for src. A valid capture
// is replayed with only the sample number patched.
func (e *Engine) buildPackets(src *slots.Slot, sample int) ([]txPacket, bool, error) {
	if src.ParityReady() {
		packets := make([]txPacket, len(src.Capture.Packets))
		for i, raw := range src.Capture.Packets {
			frame := append([]byte(nil), raw...)
			packets[i] = txPacket{frame: frame, header: i == 0}
			if i > 0 && len(frame) > 4 {
				packets[i].seq = frame[4]
			}
		}
		if err := sds.PatchSample(packets[0].frame, sample); err != nil {
			return nil, false, err
		}
		return packets, true, nil
	}

	audio, rate, loop := src.Audio, src.Rate, src.Loop
	if src.TargetRate > 0 && src.Rate > 0 && src.TargetRate != src.Rate {
		var err error
		audio, err = resample.Convert(src.Audio, src.Rate, src.TargetRate)
		if err != nil {
			return nil, false, fmt.Errorf("resampling slot %d: %w", src.Index, err)
		}
		rate = src.TargetRate
		if loop != nil {
			scale := func(v int) int { return min(v*src.TargetRate/src.Rate, len(audio)) }
			loop = &slots.Loop{Start: scale(loop.Start), End: scale(loop.End)}
		}
	}
	if len(audio) > sds.Max21 {
		return nil, false, fmt.Errorf("slot %d holds %d words, more than a header can declare", src.Index, len(audio))
	}

	ch := e.profile.Channel()
	h := &sds.Header{
		Channel:  ch,
		Sample:   sample,
		Format:   16,
		Period:   sds.PeriodForRate(rate),
		Words:    len(audio),
		LoopType: sds.LoopOff,
	}
	if loop != nil && loop.End > loop.Start {
		h.LoopStart = loop.Start
		h.LoopEnd = loop.End - 1
		h.LoopType = src.LoopType
		if h.LoopType == sds.LoopOff {
			h.LoopType = sds.LoopForward
		}
	}

	bodies := sds.PackBodies(audio, h.Format)
	packets := make([]txPacket, 0, len(bodies)+1)
	packets = append(packets, txPacket{frame: h.Encode(nil), header: true})
	for i, body := range bodies {
		seq := byte(i) & 0x7F
		packets = append(packets, txPacket{frame: sds.NewData(ch, seq, body).Encode(nil), seq: seq})
	}
	return packets, false, nil
}

// sendClosed sends packets one at a time, each waiting for its handshake.
// After HandshakeRetries unanswered waits in a row the device is assumed
// not to handshake and the rest goes out open loop.
func (e *Engine) sendClosed(s *session, packets []txPacket, slot int, res *Result) error {
	naks, waits, silent := 0, 0, 0
	for i := 0; i < len(packets); {
		p := packets[i]
		if err := s.aborted(); err != nil {
			return err
		}
		if err := e.out.Send(p.frame); err != nil {
			return err
		}
		res.Packets++

		advance, err := e.awaitHandshake(s, p, &naks, &waits, &silent)
		if err != nil {
			return err
		}
		if silent >= e.cfg.HandshakeRetries {
			e.log.Info("transfer: no handshakes, continuing open loop", "slot", slot, "from", i+1)
			res.OpenLoop = true
			return e.sendOpen(s, packets, i+1, slot, res)
		}
		if advance {
			i++
			naks, waits = 0, 0
			e.progress(slot, float64(i)/float64(len(packets)))
		}
	}
	return nil
}

// awaitHandshake waits for the answer to p. It returns advance=false when p
// must be sent again or the session should fall back to open loop.
func (e *Engine) awaitHandshake(s *session, p txPacket, naks, waits, silent *int) (bool, error) {
	timeout := e.cfg.HandshakeTimeout
	for {
		in, err := s.next(timeout)
		if errors.Is(err, errTimeout) {
			if *waits > 0 {
				return false, &TimeoutError{Stage: "wait", HeaderSeen: true}
			}
			*silent++
			if *silent >= e.cfg.HandshakeRetries {
				return false, nil
			}
			continue
		}
		if err != nil {
			return false, err
		}
		hs, ok := in.msg.(*sds.Handshake)
		if !ok {
			continue
		}

		switch hs.Kind {
		case sds.ACK:
			if !p.header && hs.Seq != p.seq {
				continue
			}
			*silent = 0
			return true, nil
		case sds.Wait:
			*silent = 0
			*waits++
			if *waits > e.cfg.MaxWaits {
				return false, &TimeoutError{Stage: "wait", HeaderSeen: true}
			}
			timeout = e.cfg.WaitTimeout
		case sds.NAK:
			if !p.header && hs.Seq != p.seq {
				continue
			}
			*silent = 0
			*naks++
			if *naks > e.cfg.NakRetries {
				return false, &ProtocolError{Reason: fmt.Sprintf("packet %d rejected %d times", p.seq, *naks)}
			}
			return false, nil
		case sds.Cancel:
			return false, &ProtocolError{PeerCancel: true}
		case sds.EOF:
			return false, &ProtocolError{Reason: fmt.Sprintf("unexpected EOF while sending packet %d", p.seq)}
		}
	}
}

// sendOpen sends packets[from:] paced by the link multiplier.
func (e *Engine) sendOpen(s *session, packets []txPacket, from, slot int, res *Result) error {
	for i := from; i < len(packets); i++ {
		if err := s.aborted(); err != nil {
			return err
		}
		if err := e.out.Send(packets[i].frame); err != nil {
			return err
		}
		res.Packets++
		e.progress(slot, float64(i+1)/float64(len(packets)))
		if i < len(packets)-1 {
			if err := s.sleep(e.pacing()); err != nil {
				return err
			}
		}
	}
	return nil
}
