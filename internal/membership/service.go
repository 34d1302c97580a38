// internal/membership/service.go
package membership

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service defines the interface for the member record store.
type Service interface {
	Enroll(ctx context.Context, req EnrollRequest) (*Member, error)
	Renew(ctx context.Context, id uuid.UUID, req RenewRequest) (*Member, error)
	GetMember(ctx context.Context, id uuid.UUID, asOf time.Time) (*Member, error)
	GetStatus(ctx context.Context, id uuid.UUID, asOf time.Time) (Status, error)
	UpdateContact(ctx context.Context, id uuid.UUID, info PersonalInfo) (*Member, error)
	List(ctx context.Context, f Filter) (iter.Seq[*Member], error)
	FindExpiringWithin(ctx context.Context, days int, asOf time.Time) ([]*Member, error)
	FindOverdue(ctx context.Context, asOf time.Time) ([]*Member, error)
	EnrolledSince(ctx context.Context, cursor int64, limit int) ([]*Member, int64, error)
	Dashboard(ctx context.Context, asOf time.Time) (*Dashboard, error)
	Revenue(ctx context.Context, months int, asOf time.Time) ([]MonthlyRevenue, error)
}

// Ledger defines the interface for the append-only payment ledger.
type Ledger interface {
	RecordPayment(ctx context.Context, memberID uuid.UUID, req PaymentRequest) (*Payment, error)
	TotalPaid(ctx context.Context, memberID uuid.UUID) (decimal.Decimal, error)
	AmountDue(ctx context.Context, memberID uuid.UUID) (decimal.Decimal, error)
	History(ctx context.Context, memberID uuid.UUID) ([]Payment, error)
}

// Reason says why a member is being notified.
type Reason string

const (
	ReasonWelcome    Reason = "welcome"
	ReasonPaymentDue Reason = "payment_due"
	ReasonExpiring   Reason = "expiring"
)

// Notifier delivers a message about a member. Implementations live outside this
// package; the core only hands them work.
type Notifier interface {
	Notify(ctx context.Context, m *Member, reason Reason) error
}
