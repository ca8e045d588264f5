package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/james-see/sampledump/pkg/sds"
	"github.com/james-see/sampledump/pkg/slots"
)

var errTimeout = errors.New("timeout")

type inbound struct {
	msg sds.Message
	raw []byte
}

// Engine runs one sample dump session at a time against a device.
type Engine struct {
	out     Sender
	store   *slots.Store
	profile Profile
	cfg     Config
	log     *slog.Logger
	focus   *Focus

	obs       Observer
	turbo     Turbo
	stayAwake StayAwake
	unrelated func([]byte)

	framerMu sync.Mutex
	framer   *sds.Framer

	mu     sync.Mutex
	busy   bool
	cancel context.CancelCauseFunc
	inbox  chan inbound
}

// New creates an engine writing to out and storing into store.
func New(out Sender, store *slots.Store, profile Profile, cfg Config) *Engine {
	cfg = cfg.WithDefaults()
	e := &Engine{
		out:     out,
		store:   store,
		profile: profile,
		cfg:     cfg,
		log:     slog.Default(),
		obs:     NopObserver{},
		framer:  sds.NewFramer(cfg.FrameLimit),
	}
	e.focus = &Focus{eng: e}
	return e
}

// SetObserver sets the progress observer. Call before starting sessions.
func (e *Engine) SetObserver(obs Observer) {
	if obs == nil {
		obs = NopObserver{}
	}
	e.obs = obs
}

// SetTurbo sets the link throughput control.
func (e *Engine) SetTurbo(t Turbo) { e.turbo = t }

// SetStayAwake sets the host sleep inhibitor.
func (e *Engine) SetStayAwake(s StayAwake) { e.stayAwake = s }

// SetLogger replaces the default logger.
func (e *Engine) SetLogger(l *slog.Logger) {
	if l != nil {
		e.log = l
	}
}

// SetUnrelatedHandler receives SysEx that is not a sample dump, except while
// a transfer is in focus.
func (e *Engine) SetUnrelatedHandler(fn func([]byte)) { e.unrelated = fn }

// Store returns the slot store the engine writes to.
func (e *Engine) Store() *slots.Store { return e.store }

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Focus returns the focus guard shared by every session.
func (e *Engine) Focus() *Focus { return e.focus }

// Busy reports whether a session is active.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy
}

// Cancel aborts the active session, if any. The session stops at its next
// suspension point.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel(ErrUserAbort)
	}
}

// Feed hands raw MIDI input to the engine. It may be called from any
// goroutine, typically the port listener.
func (e *Engine) Feed(chunk []byte) {
	e.framerMu.Lock()
	frames := e.framer.Write(chunk)
	e.framerMu.Unlock()

	for _, f := range frames {
		if !sds.IsSampleDump(f.Data) {
			e.deliverUnrelated(f.Data)
			continue
		}
		msg, err := sds.Decode(f.Data, f.Truncated)
		if err != nil {
			e.log.Debug("transfer: dropping undecodable frame", "error", err, "len", len(f.Data))
			continue
		}
		if _, ok := msg.(*sds.Request); ok {
			continue
		}

		e.mu.Lock()
		inbox := e.inbox
		e.mu.Unlock()
		if inbox == nil {
			continue
		}
		select {
		case inbox <- inbound{msg: msg, raw: f.Data}:
		default:
			e.log.Warn("transfer: inbox full, dropping message")
		}
	}
}

func (e *Engine) deliverUnrelated(frame []byte) {
	if e.focus.Suppressing() || e.unrelated == nil {
		return
	}
	e.unrelated(frame)
}

// session is the state owned by one active operation.
type session struct {
	eng    *Engine
	ctx    context.Context
	cancel context.CancelCauseFunc
	inbox  chan inbound
	dir    Direction
	mode   Mode
}

func (e *Engine) begin(ctx context.Context, dir Direction, mode Mode) (*session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return nil, ErrBusy
	}
	if err := context.Cause(ctx); err != nil {
		return nil, abortError(err)
	}
	sctx, cancel := context.WithCancelCause(ctx)
	e.busy = true
	e.cancel = cancel
	e.inbox = make(chan inbound, e.cfg.InboxSize)
	return &session{eng: e, ctx: sctx, cancel: cancel, inbox: e.inbox, dir: dir, mode: mode}, nil
}

func (e *Engine) end(s *session) {
	s.cancel(nil)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.busy = false
	e.cancel = nil
	e.inbox = nil
}

func abortError(cause error) error {
	if errors.Is(cause, ErrUserAbort) {
		return ErrUserAbort
	}
	return fmt.Errorf("%w: %w", ErrUserAbort, cause)
}

func (s *session) aborted() error {
	if s.ctx.Err() == nil {
		return nil
	}
	return abortError(context.Cause(s.ctx))
}

// next waits up to timeout for the next message from the device.
func (s *session) next(timeout time.Duration) (inbound, error) {
	if err := s.aborted(); err != nil {
		return inbound{}, err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return inbound{}, s.aborted()
	case in := <-s.inbox:
		return in, nil
	case <-timer.C:
		return inbound{}, errTimeout
	}
}

// sleep waits d unless the session is cancelled first.
func (s *session) sleep(d time.Duration) error {
	if d <= 0 {
		return s.aborted()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return s.aborted()
	case <-timer.C:
		return nil
	}
}

func (s *session) send(msg sds.Message) error {
	return s.eng.out.Send(msg.Encode(nil))
}

func (s *session) handshake(kind sds.Kind, seq byte) error {
	return s.send(&sds.Handshake{Channel: s.eng.profile.Channel(), Kind: kind, Seq: seq})
}

// sendCancel tells the device to stop. Failures are only logged; the
// session is ending anyway.
func (s *session) sendCancel(seq byte) {
	if err := s.handshake(sds.Cancel, seq); err != nil {
		s.eng.log.Warn("transfer: failed to send cancel", "error", err)
	}
}

func (e *Engine) progress(slot int, fraction float64) {
	e.obs.Progress(slot, min(max(fraction, 0), 1))
}

// track reports slot entering dir and returns the func reporting it leaving.
func (e *Engine) track(slot int, dir Direction) func() {
	e.obs.Transferring(slot, dir)
	return func() {
		e.obs.Transferring(slot, DirectionNone)
		e.focus.Invalidate(slot)
	}
}

// pacing is the delay between open-loop packets at the current multiplier.
func (e *Engine) pacing() time.Duration {
	factor := 1.0
	if e.turbo != nil {
		factor = max(e.turbo.Factor(), 1)
	}
	return max(time.Duration(float64(e.cfg.OpenLoopPacing)/factor), e.cfg.MinPacing)
}

func (e *Engine) resolveMode(mode Mode) Mode {
	if mode != ModeAuto {
		return mode
	}
	if e.profile.Handshakes() {
		return ModeClosed
	}
	return ModeOpen
}
