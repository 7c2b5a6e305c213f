package orchestration

import (
	"math/rand/v2"
	"sync"
)

// GroupRegistry owns every GroupState. Its lock is only held to create,
// look up or remove entries; it is always taken before a group lock, never
// while holding one.
type GroupRegistry struct {
	mu     sync.Mutex
	groups map[string]*GroupState

	sessionTags []string
}

func NewGroupRegistry(sessionTags []string) *GroupRegistry {
	return &GroupRegistry{
		groups:      map[string]*GroupState{},
		sessionTags: sessionTags,
	}
}

func (r *GroupRegistry) pickSessionTag() string {
	if len(r.sessionTags) == 0 {
		return ""
	}
	return r.sessionTags[rand.IntN(len(r.sessionTags))]
}

// GetOrCreate returns the state for id, allocating it on first use.
func (r *GroupRegistry) GetOrCreate(id string) *GroupState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.groups[id]; ok {
		return g
	}
	g := newGroupState(id, r.pickSessionTag())
	r.groups[id] = g
	return g
}

func (r *GroupRegistry) Lookup(id string) (*GroupState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[id]
	return g, ok
}

// RemoveIfIdle drops the group when it has no members, no queued turns and
// nothing processing. It reports whether the group was removed.
func (r *GroupRegistry) RemoveIfIdle(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[id]
	if !ok {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.reclaimable() {
		return false
	}

	g.removed = true
	delete(r.groups, id)
	logger.Debug("group reclaimed", "group_id", id)
	return true
}

func (r *GroupRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}

// withGroup runs fn under the group's lock. With create set a missing group
// is allocated; otherwise fn is not called and false is returned.
func (r *GroupRegistry) withGroup(id string, create bool, fn func(*GroupState)) bool {
	for {
		var g *GroupState
		if create {
			g = r.GetOrCreate(id)
		} else {
			var ok bool
			if g, ok = r.Lookup(id); !ok {
				return false
			}
		}

		if runLocked(g, fn) {
			return true
		}
		// Reclaimed between lookup and lock.
		if !create {
			return false
		}
	}
}

func runLocked(g *GroupState, fn func(*GroupState)) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.removed {
		return false
	}
	fn(g)
	return true
}
