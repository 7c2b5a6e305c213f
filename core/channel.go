package orchestration

import (
	"sync"

	"github.com/koscakluka/ema-group/core/payloads"
)

// ClientChannel is one connected participant. Send must not block: a
// transport that cannot hand the payload off immediately returns an error.
type ClientChannel interface {
	ID() string
	Send(payloads.Payload) error
	Alive() bool
	// MarkDead flags the channel as no longer usable. The transport is
	// expected to tear the connection down and report the disconnect.
	MarkDead()
}

// clientDirectory maps client ids to channels and remembers which groups
// each client joined. It is locked after, never before, a group lock.
type clientDirectory struct {
	mu          sync.RWMutex
	clients     map[string]ClientChannel
	memberships map[string]map[string]struct{}
}

func newClientDirectory() *clientDirectory {
	return &clientDirectory{
		clients:     map[string]ClientChannel{},
		memberships: map[string]map[string]struct{}{},
	}
}

func (d *clientDirectory) add(ch ClientChannel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients[ch.ID()] = ch
}

func (d *clientDirectory) get(id string) ClientChannel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.clients[id]
}

// remove forgets the client and returns the groups it was still in.
func (d *clientDirectory) remove(id string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	groups := make([]string, 0, len(d.memberships[id]))
	for groupID := range d.memberships[id] {
		groups = append(groups, groupID)
	}
	delete(d.clients, id)
	delete(d.memberships, id)
	return groups
}

func (d *clientDirectory) join(clientID, groupID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.memberships[clientID] == nil {
		d.memberships[clientID] = map[string]struct{}{}
	}
	d.memberships[clientID][groupID] = struct{}{}
}

func (d *clientDirectory) leave(clientID, groupID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.memberships[clientID], groupID)
}
