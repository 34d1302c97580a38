package eventstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. Event IDs are assigned from a global
// counter so StreamEvents behaves like the Postgres BIGSERIAL cursor.
type MemoryStore struct {
	mu       sync.RWMutex
	events   []Event
	versions map[uuid.UUID]int
	nextID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{versions: make(map[uuid.UUID]int)}
}

func (m *MemoryStore) AppendEvents(_ context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	if expectedVersion < 0 {
		return ErrInvalidVersion
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.versions[aggregateID] != expectedVersion {
		return ErrConcurrencyConflict
	}

	now := time.Now().UTC()
	for i, event := range events {
		m.nextID++
		event.ID = m.nextID
		event.AggregateID = aggregateID
		event.AggregateType = aggregateType
		event.Version = expectedVersion + i + 1
		event.CreatedAt = now
		m.events = append(m.events, event)
	}
	m.versions[aggregateID] = expectedVersion + len(events)
	return nil
}

func (m *MemoryStore) LoadEvents(_ context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Event
	for _, e := range m.events {
		if e.AggregateID != aggregateID || e.Version < fromVersion {
			continue
		}
		if toVersion > 0 && e.Version > toVersion {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryStore) GetCurrentVersion(_ context.Context, aggregateID uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versions[aggregateID], nil
}

func (m *MemoryStore) StreamEvents(_ context.Context, fromID int64, batchSize int, eventTypes ...string) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Event
	for _, e := range m.events {
		if batchSize > 0 && len(out) >= batchSize {
			break
		}
		if e.ID <= fromID {
			continue
		}
		if len(eventTypes) > 0 && !slices.Contains(eventTypes, e.EventType) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
