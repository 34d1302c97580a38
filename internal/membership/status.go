package membership

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Precedence decides the status of a member who is both expired and owing.
type Precedence string

const (
	// PrecedenceExpiry reports such a member as expired.
	PrecedenceExpiry Precedence = "expiry"
	// PrecedencePayment reports such a member as pending-payment.
	PrecedencePayment Precedence = "payment"
)

func ParsePrecedence(s string) (Precedence, error) {
	switch p := Precedence(s); p {
	case "":
		return PrecedenceExpiry, nil
	case PrecedenceExpiry, PrecedencePayment:
		return p, nil
	default:
		return "", fmt.Errorf("unknown status precedence %q", s)
	}
}

// DeriveStatus computes the membership status at asOf. A member is active up to
// and including the expiry instant.
func DeriveStatus(expiresAt, asOf time.Time, paid, total decimal.Decimal, precedence Precedence) Status {
	owing := paid.LessThan(total)
	if asOf.After(expiresAt) {
		if owing && precedence == PrecedencePayment {
			return StatusPendingPayment
		}
		return StatusExpired
	}
	if owing {
		return StatusPendingPayment
	}
	return StatusActive
}

// AmountDue is total minus paid, clamped at zero.
func AmountDue(total, paid decimal.Decimal) decimal.Decimal {
	due := total.Sub(paid)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}

// derive fills the read-time fields of m.
func (m *Member) derive(paid decimal.Decimal, asOf time.Time, precedence Precedence) *Member {
	m.AmountPaid = paid
	m.AmountDue = AmountDue(m.TotalFee, paid)
	m.Status = DeriveStatus(m.ExpiresAt, asOf, paid, m.TotalFee, precedence)
	return m
}
