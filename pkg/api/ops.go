package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const maxOperations = 64

type operation struct {
	ID       string     `json:"id"`
	Kind     string     `json:"kind"`
	Status   string     `json:"status"`
	Error    string     `json:"error,omitempty"`
	Result   any        `json:"result,omitempty"`
	Started  time.Time  `json:"started"`
	Finished *time.Time `json:"finished,omitempty"`
}

// operations tracks transfers started over HTTP. They outlive the request
// that started them.
type operations struct {
	mu    sync.Mutex
	byID  map[string]*operation
	order []string
}

func newOperations() *operations {
	return &operations{byID: make(map[string]*operation)}
}

// start runs fn in the background and returns the operation it reports to.
func (o *operations) start(kind string, fn func(ctx context.Context) (any, error)) operation {
	op := &operation{
		ID:      uuid.NewString(),
		Kind:    kind,
		Status:  "running",
		Started: time.Now(),
	}
	o.mu.Lock()
	o.byID[op.ID] = op
	o.order = append(o.order, op.ID)
	o.prune()
	snapshot := *op
	o.mu.Unlock()

	go func() {
		result, err := fn(context.Background())
		now := time.Now()
		o.mu.Lock()
		defer o.mu.Unlock()
		op.Finished = &now
		op.Result = result
		op.Status = "done"
		if err != nil {
			op.Status = "failed"
			op.Error = err.Error()
		}
	}()
	return snapshot
}

func (o *operations) get(id string) (operation, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	op, ok := o.byID[id]
	if !ok {
		return operation{}, false
	}
	return *op, true
}

// prune drops the oldest finished operations beyond maxOperations.
func (o *operations) prune() {
	for i := 0; len(o.order) > maxOperations && i < len(o.order); {
		id := o.order[i]
		if o.byID[id].Finished == nil {
			i++
			continue
		}
		delete(o.byID, id)
		o.order = append(o.order[:i], o.order[i+1:]...)
	}
}
