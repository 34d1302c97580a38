// internal/membership/domain.go
package membership

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places stored for fees and payments.
const MoneyPlaces = 2

// maxMoney bounds amounts to what a NUMERIC(12,2) column holds.
var maxMoney = decimal.New(1, 10)

// moneyError reports why d cannot be stored as an amount, or "" if it can.
func moneyError(d decimal.Decimal) string {
	if !d.Equal(d.Truncate(MoneyPlaces)) {
		return "must have at most 2 decimal places"
	}
	if d.Abs().GreaterThanOrEqual(maxMoney) {
		return "is too large"
	}
	return ""
}

// Status is derived from the expiry date and the ledger, never stored.
type Status string

const (
	StatusActive         Status = "active"
	StatusExpired        Status = "expired"
	StatusPendingPayment Status = "pending-payment"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusExpired, StatusPendingPayment:
		return true
	}
	return false
}

// PaymentMethod is how a ledger entry was paid.
type PaymentMethod string

const (
	MethodCash   PaymentMethod = "cash"
	MethodCard   PaymentMethod = "card"
	MethodUPI    PaymentMethod = "upi"
	MethodCheque PaymentMethod = "cheque"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodUPI, MethodCheque:
		return true
	}
	return false
}

// PersonalInfo holds the contact attributes of a member.
type PersonalInfo struct {
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Address     string     `json:"address,omitempty"`
}

// Member represents a gym member. AmountPaid, AmountDue and Status are derived
// for a point in time and are never persisted.
type Member struct {
	ID uuid.UUID `json:"id"`
	PersonalInfo
	MembershipType string          `json:"membership_type"`
	EnrolledAt     time.Time       `json:"enrolled_at"`
	RenewedAt      *time.Time      `json:"renewed_at,omitempty"`
	ExpiresAt      time.Time       `json:"expires_at"`
	TotalFee       decimal.Decimal `json:"total_fee"`
	PeriodFee      decimal.Decimal `json:"period_fee"`
	Version        int             `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	AmountPaid decimal.Decimal `json:"amount_paid"`
	AmountDue  decimal.Decimal `json:"amount_due"`
	Status     Status          `json:"status"`
}

// Clone returns a deep copy.
func (m *Member) Clone() *Member {
	c := *m
	if m.DateOfBirth != nil {
		dob := *m.DateOfBirth
		c.DateOfBirth = &dob
	}
	if m.RenewedAt != nil {
		r := *m.RenewedAt
		c.RenewedAt = &r
	}
	return &c
}

// Payment is an immutable ledger entry.
type Payment struct {
	ID            uuid.UUID       `json:"id"`
	MemberID      uuid.UUID       `json:"member_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaidAt        time.Time       `json:"paid_at"`
	Method        PaymentMethod   `json:"method"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Note          string          `json:"note,omitempty"`
}

// EnrollRequest carries the input of Enroll. A zero EnrolledAt means now.
type EnrollRequest struct {
	PersonalInfo
	MembershipType string          `json:"membership_type"`
	TotalFee       decimal.Decimal `json:"total_fee"`
	EnrolledAt     time.Time       `json:"enrolled_at"`
}

// RenewRequest carries the input of Renew. Empty fields fall back to the
// member's current plan and period fee; a zero At means now.
type RenewRequest struct {
	MembershipType string           `json:"membership_type,omitempty"`
	Fee            *decimal.Decimal `json:"fee,omitempty"`
	At             time.Time        `json:"at"`
}

// PaymentRequest carries the input of RecordPayment. An empty Method means cash.
type PaymentRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Method        PaymentMethod   `json:"method"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Note          string          `json:"note,omitempty"`
	PaidAt        time.Time       `json:"paid_at"`
}

const aggregateType = "member"

const (
	EventMemberEnrolled    = "MemberEnrolled"
	EventMembershipRenewed = "MembershipRenewed"
	EventPaymentRecorded   = "PaymentRecorded"
	EventContactUpdated    = "ContactUpdated"
)

// MemberEnrolledEvent is appended when a member enrolls.
type MemberEnrolledEvent struct {
	ID             uuid.UUID       `json:"id"`
	Email          string          `json:"email"`
	Name           string          `json:"name"`
	MembershipType string          `json:"membership_type"`
	TotalFee       decimal.Decimal `json:"total_fee"`
	EnrolledAt     time.Time       `json:"enrolled_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

// MembershipRenewedEvent is appended when a membership is renewed.
type MembershipRenewedEvent struct {
	ID             uuid.UUID       `json:"id"`
	MembershipType string          `json:"membership_type"`
	Fee            decimal.Decimal `json:"fee"`
	RenewedAt      time.Time       `json:"renewed_at"`
	PreviousExpiry time.Time       `json:"previous_expiry"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

// PaymentRecordedEvent is appended for every ledger entry.
type PaymentRecordedEvent struct {
	PaymentID uuid.UUID       `json:"payment_id"`
	MemberID  uuid.UUID       `json:"member_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    PaymentMethod   `json:"method"`
	PaidAt    time.Time       `json:"paid_at"`
}

// ContactUpdatedEvent is appended when personal details change.
type ContactUpdatedEvent struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Phone string    `json:"phone"`
}

// Dashboard aggregates the roster at a point in time.
type Dashboard struct {
	AsOf           time.Time       `json:"as_of"`
	TotalMembers   int             `json:"total_members"`
	Active         int             `json:"active"`
	Expired        int             `json:"expired"`
	PendingPayment int             `json:"pending_payment"`
	ExpiringSoon   int             `json:"expiring_soon"`
	NewThisWeek    int             `json:"new_this_week"`
	Outstanding    decimal.Decimal `json:"outstanding"`
	Collected      decimal.Decimal `json:"collected"`
	Billed         decimal.Decimal `json:"billed"`
	ByType         map[string]int  `json:"by_type"`
}

// MonthlyRevenue is the ledger folded over one calendar month.
type MonthlyRevenue struct {
	Month     string          `json:"month"`
	Collected decimal.Decimal `json:"collected"`
	Payments  int             `json:"payments"`
}
