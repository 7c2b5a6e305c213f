package orchestration

import (
	"errors"

	"github.com/koscakluka/ema-group/core/payloads"
)

var errChannelNotAlive = errors.New("channel not alive")

// BroadcastRouter delivers payloads to group members. Deliveries for one
// group happen under that group's lock, which keeps every recipient's
// payloads in production order.
type BroadcastRouter struct {
	registry *GroupRegistry
	clients  *clientDirectory
	metrics  *Metrics
}

func newBroadcastRouter(registry *GroupRegistry, clients *clientDirectory, metrics *Metrics) *BroadcastRouter {
	return &BroadcastRouter{registry: registry, clients: clients, metrics: metrics}
}

// SendToGroup delivers payload to every member except exclude and returns
// how many members received it. Unknown groups receive nothing.
func (r *BroadcastRouter) SendToGroup(groupID string, payload payloads.Payload, exclude string) int {
	var delivered int
	var evicted bool
	r.registry.withGroup(groupID, false, func(g *GroupState) {
		delivered, evicted = r.sendLocked(g, payload, exclude)
	})
	if evicted {
		r.registry.RemoveIfIdle(groupID)
	}
	return delivered
}

// SendIfCurrent delivers payload only while generation is still the group's
// current one. The check and the delivery happen in one critical section.
func (r *BroadcastRouter) SendIfCurrent(groupID string, generation uint64, payload payloads.Payload, exclude string) bool {
	var current, evicted bool
	r.registry.withGroup(groupID, false, func(g *GroupState) {
		if g.generation != generation {
			return
		}
		current = true
		_, evicted = r.sendLocked(g, payload, exclude)
	})
	if evicted {
		r.registry.RemoveIfIdle(groupID)
	}
	return current
}

// sendLocked must be called with g.mu held. A failing member is marked dead
// and dropped from the group without affecting delivery to the others.
// evicted reports whether membership changed; the caller should then try
// to reclaim the group after unlocking.
func (r *BroadcastRouter) sendLocked(g *GroupState, payload payloads.Payload, exclude string) (delivered int, evicted bool) {
	for _, clientID := range g.memberIDs() {
		if clientID == exclude {
			continue
		}

		ch := r.clients.get(clientID)
		var err error
		if ch == nil || !ch.Alive() {
			err = errChannelNotAlive
		} else {
			err = ch.Send(payload)
		}
		if err == nil {
			delivered++
			continue
		}

		sendErr := &SendError{ClientID: clientID, Err: err}
		logger.Warn("dropping unreachable member", "group_id", g.id, "client_id", clientID, "error", sendErr)
		r.metrics.sendFailed()
		if ch != nil {
			ch.MarkDead()
		}
		if _, preempted := g.removeMember(clientID); preempted {
			r.metrics.preempted()
		}
		r.clients.leave(clientID, g.id)
		evicted = true
	}
	return delivered, evicted
}

// SendToOne delivers payload to a single client.
func (r *BroadcastRouter) SendToOne(clientID string, payload payloads.Payload) error {
	ch := r.clients.get(clientID)
	if ch == nil {
		return &SendError{ClientID: clientID, Err: ErrUnknownClient}
	}
	if !ch.Alive() {
		return &SendError{ClientID: clientID, Err: errChannelNotAlive}
	}
	if err := ch.Send(payload); err != nil {
		r.metrics.sendFailed()
		ch.MarkDead()
		return &SendError{ClientID: clientID, Err: err}
	}
	return nil
}
