package orchestration

import (
	"context"
	"sync/atomic"
)

type activeTurn struct {
	turn *QueuedTurn

	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

func newActiveTurn(base context.Context, turn *QueuedTurn) *activeTurn {
	ctx, cancel := context.WithCancel(base)
	return &activeTurn{turn: turn, ctx: ctx, cancel: cancel}
}

// Cancel is idempotent.
func (t *activeTurn) Cancel() {
	if t == nil || !t.cancelled.CompareAndSwap(false, true) {
		return
	}
	t.cancel()
}

// release frees the turn context without flagging a cancellation.
func (t *activeTurn) release() {
	t.cancel()
}

// Admission hands an admitted turn to whoever runs it.
type Admission struct {
	GroupID    string
	Turn       *QueuedTurn
	Generation uint64
	SessionTag string

	ctx context.Context
}

// Context is cancelled when the turn is preempted.
func (a *Admission) Context() context.Context {
	return a.ctx
}
