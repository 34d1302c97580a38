package leads

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"gymledger/internal/apperr"
	"gymledger/pkg/eventstore"
)

// MemoryRepository keeps leads in process.
type MemoryRepository struct {
	mu     sync.RWMutex
	leads  map[uuid.UUID]*Lead
	order  []uuid.UUID
	events *eventstore.MemoryStore
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		leads:  make(map[uuid.UUID]*Lead),
		events: eventstore.NewMemoryStore(),
	}
}

func (r *MemoryRepository) Events() eventstore.Store { return r.events }

func (r *MemoryRepository) Insert(ctx context.Context, l *Lead, event eventstore.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.events.AppendEvents(ctx, l.ID, aggregateType, 0, []eventstore.Event{event}); err != nil {
		return err
	}
	r.leads[l.ID] = l.Clone()
	r.order = append(r.order, l.ID)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.leads[id]
	if !ok {
		return nil, apperr.NotFound("lead", id)
	}
	return l.Clone(), nil
}

func (r *MemoryRepository) Update(ctx context.Context, l *Lead, expectedVersion int, event eventstore.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.leads[l.ID]
	if !ok {
		return apperr.NotFound("lead", l.ID)
	}
	if current.Version != expectedVersion {
		return eventstore.ErrConcurrencyConflict
	}
	if err := r.events.AppendEvents(ctx, l.ID, aggregateType, expectedVersion, []eventstore.Event{event}); err != nil {
		return err
	}
	r.leads[l.ID] = l.Clone()
	return nil
}

func (r *MemoryRepository) All(_ context.Context) ([]*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Lead, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, r.leads[r.order[i]].Clone())
	}
	return out, nil
}
