package membership

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gymledger/pkg/eventstore"
)

// Repository persists members, ledger entries and the member event stream.
type Repository interface {
	// WithinTx runs fn as one transactional unit: either every write made
	// through tx (rows and events) is committed, or none is.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	// Member returns a member and the sum of its ledger entries.
	Member(ctx context.Context, id uuid.UUID) (*Member, decimal.Decimal, error)
	// Snapshot returns every member in enrollment order with ledger totals,
	// read from one consistent view.
	Snapshot(ctx context.Context) (*Snapshot, error)
	// Payments returns a member's ledger ordered by PaidAt, then insertion order.
	Payments(ctx context.Context, memberID uuid.UUID) ([]Payment, error)
	// PaymentsBetween returns ledger entries with from <= PaidAt < to, ordered
	// like Payments.
	PaymentsBetween(ctx context.Context, from, to time.Time) ([]Payment, error)
	// Events exposes the member event stream.
	Events() eventstore.Store
}

// Tx is the write side of a Repository transaction.
type Tx interface {
	// LockMember loads a member and holds it against concurrent writers until
	// the transaction ends.
	LockMember(ctx context.Context, id uuid.UUID) (*Member, error)
	EmailTaken(ctx context.Context, email string, except uuid.UUID) (bool, error)
	InsertMember(ctx context.Context, m *Member) error
	UpdateMember(ctx context.Context, m *Member) error
	InsertPayment(ctx context.Context, p *Payment) error
	SumPayments(ctx context.Context, memberID uuid.UUID) (decimal.Decimal, error)
	AppendEvents(ctx context.Context, memberID uuid.UUID, expectedVersion int, events ...eventstore.Event) error
}

// Snapshot is a consistent read of the whole roster.
type Snapshot struct {
	Members []*Member
	Paid    map[uuid.UUID]decimal.Decimal
}
