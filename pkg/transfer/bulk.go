package transfer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SlotOutcome is what happened to one slot of a bulk run.
type SlotOutcome int

const (
	OutcomePending SlotOutcome = iota
	OutcomeCompleted
	OutcomeSkipped
	OutcomeFailed
)

func (o SlotOutcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	}
	return "pending"
}

// BulkReport summarizes a bulk run.
type BulkReport struct {
	Token     uint64
	ID        string
	Direction Direction
	Started   time.Time
	Finished  time.Time
	Slots     []int
	Outcomes  map[int]SlotOutcome
	Errors    map[int]error
	// Cancelled is set when the run stopped early for a user abort or a
	// device CANCEL.
	Cancelled bool
}

// Count returns the number of slots with outcome o.
func (r *BulkReport) Count(o SlotOutcome) int {
	n := 0
	for _, slot := range r.Slots {
		if r.Outcomes[slot] == o {
			n++
		}
	}
	return n
}

// Bulk runs a sequence of single-slot transfers. Starting a run cancels the
// previous one; completion and cancellation only act for the current token.
type Bulk struct {
	eng *Engine

	mu     sync.Mutex
	token  uint64
	cancel context.CancelCauseFunc
	done   chan struct{}
	last   *BulkReport
}

// NewBulk creates an orchestrator driving e.
func NewBulk(e *Engine) *Bulk {
	return &Bulk{eng: e}
}

// Token returns the token of the newest run.
func (b *Bulk) Token() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.token
}

// Last returns the report of the newest finished run.
func (b *Bulk) Last() *BulkReport {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// Running reports whether a run is in progress.
func (b *Bulk) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancel != nil
}

// Receive requests each slot in order.
func (b *Bulk) Receive(ctx context.Context, slotList []int, mode Mode) (*BulkReport, error) {
	return b.run(ctx, DirectionRX, slotList, mode)
}

// Send transmits each slot in order.
func (b *Bulk) Send(ctx context.Context, slotList []int, mode Mode) (*BulkReport, error) {
	return b.run(ctx, DirectionTX, slotList, mode)
}

// Cancel aborts the current run.
func (b *Bulk) Cancel() {
	b.CancelToken(b.Token())
}

// CancelToken aborts the run identified by token. Stale tokens are ignored.
func (b *Bulk) CancelToken(token uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if token != b.token || b.cancel == nil {
		return
	}
	b.cancel(ErrUserAbort)
}

func (b *Bulk) start(ctx context.Context) (context.Context, uint64, chan struct{}) {
	b.mu.Lock()
	prev := b.done
	if b.cancel != nil {
		b.cancel(errSuperseded)
	}
	b.token++
	token := b.token
	rctx, cancel := context.WithCancelCause(ctx)
	b.cancel = cancel
	done := make(chan struct{})
	b.done = done
	b.mu.Unlock()

	if prev != nil {
		<-prev
	}
	return rctx, token, done
}

func (b *Bulk) run(ctx context.Context, dir Direction, slotList []int, mode Mode) (*BulkReport, error) {
	rctx, token, done := b.start(ctx)
	defer close(done)

	e := b.eng
	report := &BulkReport{
		Token:     token,
		ID:        uuid.NewString(),
		Direction: dir,
		Started:   time.Now(),
		Slots:     append([]int(nil), slotList...),
		Outcomes:  make(map[int]SlotOutcome, len(slotList)),
		Errors:    make(map[int]error),
	}
	log := e.log.With("run", report.ID, "dir", dir)
	log.Info("bulk: started", "slots", len(slotList))

	leave := e.focus.Enter()
	var runErr error
	for i, slot := range slotList {
		if i > 0 && e.cfg.SettleDelay > 0 {
			if err := sleepCtx(rctx, e.cfg.SettleDelay); err != nil {
				runErr = err
			}
		}
		if runErr == nil && rctx.Err() != nil {
			runErr = abortError(context.Cause(rctx))
		}
		if runErr != nil {
			break
		}

		var err error
		if dir == DirectionRX {
			_, err = e.RequestReceive(rctx, slot, mode)
		} else {
			_, err = e.RequestSend(rctx, slot, mode)
		}
		if errors.Is(err, ErrUserAbort) {
			runErr = err
			break
		}
		outcome := classify(err)
		report.Outcomes[slot] = outcome
		if err != nil {
			report.Errors[slot] = err
			log.Info("bulk: slot "+outcome.String(), "slot", slot, "error", err)
		}
		if IsPeerCancel(err) {
			runErr = err
			break
		}
	}
	leave()

	report.Finished = time.Now()
	report.Cancelled = runErr != nil
	log.Info("bulk: finished",
		"completed", report.Count(OutcomeCompleted),
		"skipped", report.Count(OutcomeSkipped),
		"failed", report.Count(OutcomeFailed),
		"cancelled", report.Cancelled)
	b.finish(token, report)
	return report, runErr
}

// classify maps a single-slot error to a bulk outcome. Slots that simply
// had nothing to transfer are skipped rather than failed.
func classify(err error) SlotOutcome {
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.Is(err, ErrEmptySlot), errors.Is(err, ErrReceiveOnly), IsNoHeader(err):
		return OutcomeSkipped
	}
	return OutcomeFailed
}

func (b *Bulk) finish(token uint64, report *BulkReport) {
	b.mu.Lock()
	if token != b.token {
		b.mu.Unlock()
		return
	}
	b.cancel(nil)
	b.cancel = nil
	b.last = report
	b.mu.Unlock()
	b.eng.obs.BulkDone(report)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return abortError(context.Cause(ctx))
	case <-timer.C:
		return nil
	}
}
