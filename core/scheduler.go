package orchestration

import (
	"context"
)

type Decision int

const (
	DecisionAdmitted Decision = iota
	DecisionQueued
	DecisionPreempted
)

func (d Decision) String() string {
	switch d {
	case DecisionAdmitted:
		return "admitted"
	case DecisionQueued:
		return "queued"
	case DecisionPreempted:
		return "preempted"
	}
	return "unknown"
}

type SubmitResult struct {
	TurnID   string
	Decision Decision
	// Generation is the group's generation right after the submission.
	Generation uint64
	// Admission is set when the turn can run immediately.
	Admission *Admission
	// Preempted is the active turn asked to stop by this submission.
	Preempted *QueuedTurn
	// Superseded is an earlier interrupt, still waiting for the drain to
	// finish, that this submission replaced.
	Superseded  *QueuedTurn
	QueueLength int
}

type FinishResult struct {
	// Stale is set when the finished turn had been preempted; its result
	// must not reach the group.
	Stale bool
	Next  *Admission
}

// TurnScheduler decides, per group, which turn is being processed. All of
// its state lives in GroupState and is only touched under the group lock.
type TurnScheduler struct {
	base     context.Context
	registry *GroupRegistry
	metrics  *Metrics
}

func newTurnScheduler(base context.Context, registry *GroupRegistry, metrics *Metrics) *TurnScheduler {
	return &TurnScheduler{base: base, registry: registry, metrics: metrics}
}

// Submit admits, queues or lets turn preempt the active one. announce, if
// set, runs in the same critical section right after the decision so
// anything it broadcasts is ordered before the turn's own output.
func (s *TurnScheduler) Submit(groupID string, turn *QueuedTurn, announce func(*GroupState, SubmitResult)) SubmitResult {
	var result SubmitResult
	s.registry.withGroup(groupID, true, func(g *GroupState) {
		result = s.submitLocked(g, turn)
		result.TurnID = turn.ID
		if announce != nil {
			announce(g, result)
		}
	})

	s.metrics.turnSubmitted(result.Decision)
	if result.Decision == DecisionPreempted && result.Superseded == nil {
		s.metrics.preempted()
	}
	return result
}

func (s *TurnScheduler) submitLocked(g *GroupState, turn *QueuedTurn) SubmitResult {
	preempts := turn.Input.Preempts()

	switch {
	case g.state == StateIdle:
		admission := g.admit(s.base, turn)
		return SubmitResult{Decision: DecisionAdmitted, Generation: g.generation, Admission: admission}

	case !preempts:
		g.queue = append(g.queue, turn)
		return SubmitResult{Decision: DecisionQueued, Generation: g.generation, QueueLength: len(g.queue)}
	}

	result := SubmitResult{Decision: DecisionPreempted}
	if g.state == StateDraining {
		// Last interrupt wins: the one still waiting for the drain is
		// dropped.
		if len(g.queue) > 0 && g.pendingInterrupt == g.queue[0].ID {
			result.Superseded = g.queue[0]
			g.queue = g.queue[1:]
		}
	} else if g.active != nil {
		result.Preempted = g.active.turn
	}

	g.preempt()
	g.queue = append([]*QueuedTurn{turn}, g.queue...)
	g.pendingInterrupt = turn.ID

	result.Generation = g.generation
	result.QueueLength = len(g.queue)
	return result
}

// Interrupt cancels the active turn without submitting a new one. The queue
// resumes once the cancelled call returns. It reports whether anything was
// cancelled.
func (s *TurnScheduler) Interrupt(groupID string, announce func(*GroupState)) bool {
	var interrupted bool
	s.registry.withGroup(groupID, false, func(g *GroupState) {
		if g.state != StateProcessing {
			return
		}
		g.preempt()
		interrupted = true
		if announce != nil {
			announce(g)
		}
	})
	if interrupted {
		s.metrics.preempted()
	}
	return interrupted
}

// Finish is called exactly once per admitted turn, when its collaborator
// call returned for whatever reason. A result whose generation is still
// current completes the turn; otherwise it is the acknowledgement of a
// cancellation and is discarded. Either way the next queued turn is
// admitted. settle runs under the group lock before the queue advances and
// learns which of the two cases applies.
func (s *TurnScheduler) Finish(groupID, turnID string, generation uint64, settle func(g *GroupState, current bool)) FinishResult {
	var result FinishResult
	found := s.registry.withGroup(groupID, false, func(g *GroupState) {
		if g.active == nil || g.active.turn.ID != turnID {
			result.Stale = true
			return
		}

		current := g.state == StateProcessing && g.generation == generation
		if settle != nil {
			settle(g, current)
		}

		result.Stale = !current
		result.Next = g.advance(s.base)
	})
	if !found {
		result.Stale = true
	}

	if result.Stale {
		s.metrics.staleResult()
	}
	if result.Next == nil {
		s.registry.RemoveIfIdle(groupID)
	}
	return result
}
