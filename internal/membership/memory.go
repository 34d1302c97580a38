package membership

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gymledger/internal/apperr"
	"gymledger/pkg/eventstore"
)

// MemoryRepository keeps everything in process. Writers are serialized by a
// single mutex and readers always receive copies.
type MemoryRepository struct {
	mu       sync.RWMutex
	members  map[uuid.UUID]*Member
	order    []uuid.UUID
	emails   map[string]uuid.UUID
	payments map[uuid.UUID][]Payment
	ledger   []Payment
	events   *eventstore.MemoryStore
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		members:  make(map[uuid.UUID]*Member),
		emails:   make(map[string]uuid.UUID),
		payments: make(map[uuid.UUID][]Payment),
		events:   eventstore.NewMemoryStore(),
	}
}

func (r *MemoryRepository) Events() eventstore.Store { return r.events }

func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memoryTx{repo: r, staged: make(map[uuid.UUID]*Member)}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit(ctx)
}

func (r *MemoryRepository) Member(_ context.Context, id uuid.UUID) (*Member, decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.members[id]
	if !ok {
		return nil, decimal.Zero, apperr.NotFound("member", id)
	}
	return m.Clone(), sumPayments(r.payments[id]), nil
}

func (r *MemoryRepository) Snapshot(_ context.Context) (*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := &Snapshot{
		Members: make([]*Member, 0, len(r.order)),
		Paid:    make(map[uuid.UUID]decimal.Decimal, len(r.payments)),
	}
	for _, id := range r.order {
		snap.Members = append(snap.Members, r.members[id].Clone())
	}
	for id, entries := range r.payments {
		snap.Paid[id] = sumPayments(entries)
	}
	return snap, nil
}

func (r *MemoryRepository) Payments(_ context.Context, memberID uuid.UUID) ([]Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.members[memberID]; !ok {
		return nil, apperr.NotFound("member", memberID)
	}
	return byPaidAt(slices.Clone(r.payments[memberID])), nil
}

func (r *MemoryRepository) PaymentsBetween(_ context.Context, from, to time.Time) ([]Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Payment
	for _, p := range r.ledger {
		if !p.PaidAt.Before(from) && p.PaidAt.Before(to) {
			out = append(out, p)
		}
	}
	return byPaidAt(out), nil
}

// byPaidAt orders entries by payment date, keeping recording order for ties.
func byPaidAt(entries []Payment) []Payment {
	slices.SortStableFunc(entries, func(a, b Payment) int { return a.PaidAt.Compare(b.PaidAt) })
	return entries
}

type pendingAppend struct {
	memberID        uuid.UUID
	expectedVersion int
	events          []eventstore.Event
}

// memoryTx stages writes and applies them on commit. It runs with the
// repository write lock held.
type memoryTx struct {
	repo     *MemoryRepository
	staged   map[uuid.UUID]*Member
	inserted []uuid.UUID
	payments []Payment
	appends  []pendingAppend
}

func (tx *memoryTx) current(id uuid.UUID) (*Member, bool) {
	if m, ok := tx.staged[id]; ok {
		return m, true
	}
	m, ok := tx.repo.members[id]
	return m, ok
}

func (tx *memoryTx) LockMember(_ context.Context, id uuid.UUID) (*Member, error) {
	m, ok := tx.current(id)
	if !ok {
		return nil, apperr.NotFound("member", id)
	}
	return m.Clone(), nil
}

func (tx *memoryTx) EmailTaken(_ context.Context, email string, except uuid.UUID) (bool, error) {
	email = normalizeEmail(email)
	for id, m := range tx.staged {
		if id != except && normalizeEmail(m.Email) == email {
			return true, nil
		}
	}
	owner, ok := tx.repo.emails[email]
	if !ok || owner == except {
		return false, nil
	}
	// The owner may have changed email earlier in this transaction.
	if m, staged := tx.staged[owner]; staged && normalizeEmail(m.Email) != email {
		return false, nil
	}
	return true, nil
}

func (tx *memoryTx) InsertMember(_ context.Context, m *Member) error {
	if _, ok := tx.current(m.ID); ok {
		return apperr.Invalid("id", "already exists")
	}
	tx.staged[m.ID] = m.Clone()
	tx.inserted = append(tx.inserted, m.ID)
	return nil
}

func (tx *memoryTx) UpdateMember(_ context.Context, m *Member) error {
	if _, ok := tx.current(m.ID); !ok {
		return apperr.NotFound("member", m.ID)
	}
	tx.staged[m.ID] = m.Clone()
	return nil
}

func (tx *memoryTx) InsertPayment(_ context.Context, p *Payment) error {
	if _, ok := tx.current(p.MemberID); !ok {
		return apperr.NotFound("member", p.MemberID)
	}
	tx.payments = append(tx.payments, *p)
	return nil
}

func (tx *memoryTx) SumPayments(_ context.Context, memberID uuid.UUID) (decimal.Decimal, error) {
	total := sumPayments(tx.repo.payments[memberID])
	for _, p := range tx.payments {
		if p.MemberID == memberID {
			total = total.Add(p.Amount)
		}
	}
	return total, nil
}

func (tx *memoryTx) AppendEvents(_ context.Context, memberID uuid.UUID, expectedVersion int, events ...eventstore.Event) error {
	tx.appends = append(tx.appends, pendingAppend{memberID: memberID, expectedVersion: expectedVersion, events: events})
	return nil
}

func (tx *memoryTx) commit(ctx context.Context) error {
	r := tx.repo

	// Check every stream before touching any so a conflict leaves no trace.
	pending := make(map[uuid.UUID]int)
	for _, a := range tx.appends {
		current, seen := pending[a.memberID]
		if !seen {
			v, err := r.events.GetCurrentVersion(ctx, a.memberID)
			if err != nil {
				return err
			}
			current = v
		}
		if current != a.expectedVersion {
			return eventstore.ErrConcurrencyConflict
		}
		pending[a.memberID] = current + len(a.events)
	}
	for _, a := range tx.appends {
		if err := r.events.AppendEvents(ctx, a.memberID, aggregateType, a.expectedVersion, a.events); err != nil {
			return err
		}
	}

	for id, m := range tx.staged {
		if old, ok := r.members[id]; ok {
			delete(r.emails, normalizeEmail(old.Email))
		}
		r.members[id] = m
		r.emails[normalizeEmail(m.Email)] = id
	}
	r.order = append(r.order, tx.inserted...)
	for _, p := range tx.payments {
		r.payments[p.MemberID] = append(r.payments[p.MemberID], p)
		r.ledger = append(r.ledger, p)
	}
	return nil
}

func sumPayments(entries []Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range entries {
		total = total.Add(p.Amount)
	}
	return total
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
