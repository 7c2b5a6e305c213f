package memory

import (
	"context"
	"slices"
	"sync"
)

// InMemory keeps records in process. Used when no storage is configured.
type InMemory struct {
	mu      sync.RWMutex
	records map[string][]Record
	closed  bool
}

func NewInMemory() *InMemory {
	return &InMemory{records: map[string][]Record{}}
}

func (m *InMemory) Append(_ context.Context, groupID string, records ...Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.records[groupID] = append(m.records[groupID], records...)
	return nil
}

func (m *InMemory) Snapshot(_ context.Context, groupID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return slices.Clone(m.records[groupID]), nil
}

func (m *InMemory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
