package orchestration

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/koscakluka/ema-group/core/inputs"
)

type TurnState int

const (
	StateIdle TurnState = iota
	StateProcessing
	// StateDraining means a cancellation was requested for the active turn
	// but its collaborator call has not returned yet.
	StateDraining
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateDraining:
		return "draining"
	}
	return "unknown"
}

// QueuedTurn is a submission waiting for, or undergoing, processing.
type QueuedTurn struct {
	ID          string
	Input       inputs.BatchInput
	SubmittedBy string
	EnqueuedAt  time.Time
}

// GroupState is the mutable record of one group. Every field is guarded by
// mu; nothing outside the registry keeps a pointer to it past a single
// critical section.
type GroupState struct {
	mu sync.Mutex

	id         string
	sessionTag string
	members    map[string]struct{}
	history    []string
	queue      []*QueuedTurn
	state      TurnState
	generation uint64
	active     *activeTurn
	// pendingInterrupt is the id of the interrupt waiting at the queue head
	// for the drain to finish.
	pendingInterrupt string

	// removed is set once the registry dropped the state; holders of a
	// stale pointer must look the group up again.
	removed bool
}

func newGroupState(id, sessionTag string) *GroupState {
	return &GroupState{
		id:         id,
		sessionTag: sessionTag,
		members:    map[string]struct{}{},
	}
}

func (g *GroupState) ID() string { return g.id }

func (g *GroupState) currentSpeaker() string {
	if g.active == nil {
		return ""
	}
	return g.active.turn.SubmittedBy
}

func (g *GroupState) isMember(clientID string) bool {
	_, ok := g.members[clientID]
	return ok
}

func (g *GroupState) memberIDs() []string {
	ids := make([]string, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (g *GroupState) reclaimable() bool {
	return g.state == StateIdle && g.active == nil && len(g.members) == 0 && len(g.queue) == 0
}

// admit makes turn the active one. The generation moves on every admission
// so results of earlier turns can never pass for the new one.
func (g *GroupState) admit(base context.Context, turn *QueuedTurn) *Admission {
	g.generation++
	g.state = StateProcessing
	if g.pendingInterrupt == turn.ID {
		g.pendingInterrupt = ""
	}
	g.active = newActiveTurn(base, turn)

	return &Admission{
		GroupID:    g.id,
		Turn:       turn,
		Generation: g.generation,
		SessionTag: g.sessionTag,
		ctx:        g.active.ctx,
	}
}

// preempt requests cancellation of the active turn. The turn stays active
// until its collaborator call returns.
func (g *GroupState) preempt() {
	g.generation++
	g.state = StateDraining
	if g.active != nil {
		g.active.Cancel()
	}
}

// advance retires the active turn and admits the queue head, if any.
func (g *GroupState) advance(base context.Context) *Admission {
	if g.active != nil {
		g.active.release()
	}
	g.active = nil
	if len(g.queue) == 0 {
		g.state = StateIdle
		return nil
	}

	next := g.queue[0]
	g.queue = g.queue[1:]
	return g.admit(base, next)
}

// removeMember drops clientID along with its queued turns. When the group
// empties its queue is cleared and an active turn is preempted, so the
// group can be reclaimed once the collaborator returns.
func (g *GroupState) removeMember(clientID string) (removed, preempted bool) {
	if _, ok := g.members[clientID]; !ok {
		return false, false
	}
	delete(g.members, clientID)

	g.queue = slices.DeleteFunc(g.queue, func(turn *QueuedTurn) bool {
		if turn.SubmittedBy != clientID {
			return false
		}
		if turn.ID == g.pendingInterrupt {
			g.pendingInterrupt = ""
		}
		return true
	})

	if len(g.members) > 0 {
		return true, false
	}

	g.queue = nil
	g.pendingInterrupt = ""
	if g.state == StateProcessing {
		g.preempt()
		return true, true
	}
	return true, false
}

// GroupSnapshot is a copy of a group's observable state.
type GroupSnapshot struct {
	ID             string
	SessionTag     string
	Members        []string
	History        []string
	QueuedTurnIDs  []string
	CurrentSpeaker string
	Generation     uint64
	State          TurnState
	Processing     bool
}

func (g *GroupState) snapshot() GroupSnapshot {
	queued := make([]string, 0, len(g.queue))
	for _, turn := range g.queue {
		queued = append(queued, turn.ID)
	}
	return GroupSnapshot{
		ID:             g.id,
		SessionTag:     g.sessionTag,
		Members:        g.memberIDs(),
		History:        slices.Clone(g.history),
		QueuedTurnIDs:  queued,
		CurrentSpeaker: g.currentSpeaker(),
		Generation:     g.generation,
		State:          g.state,
		Processing:     g.active != nil,
	}
}
