package membership

import (
	"cmp"
	"net/url"
	"slices"
	"strings"
	"time"

	"gymledger/internal/apperr"
)

// PaymentState narrows a listing to settled or owing members.
type PaymentState string

const (
	PaymentPaid  PaymentState = "paid"
	PaymentOwing PaymentState = "owing"
)

// SortKey orders a listing. The empty key keeps enrollment order.
type SortKey string

const (
	SortEnrolled  SortKey = "enrolled"
	SortExpiry    SortKey = "expiry"
	SortName      SortKey = "name"
	SortAmountDue SortKey = "amount_due"
)

// Filter selects members for List. Zero-valued fields do not constrain.
type Filter struct {
	MembershipType string
	Status         Status
	Payment        PaymentState
	ExpiresFrom    *time.Time
	ExpiresTo      *time.Time
	EnrolledFrom   *time.Time
	EnrolledTo     *time.Time
	Search         string
	SortBy         SortKey
	Descending     bool
	// AsOf is the instant status and amounts are derived for; zero means now.
	AsOf time.Time
}

func (f Filter) validate() error {
	if f.Status != "" && !f.Status.Valid() {
		return apperr.Invalid("status", "must be one of active, expired, pending-payment")
	}
	switch f.Payment {
	case "", PaymentPaid, PaymentOwing:
	default:
		return apperr.Invalid("payment", "must be paid or owing")
	}
	switch f.SortBy {
	case "", SortEnrolled, SortExpiry, SortName, SortAmountDue:
	default:
		return apperr.Invalid("sort", "must be one of enrolled, expiry, name, amount_due")
	}
	if f.ExpiresFrom != nil && f.ExpiresTo != nil && f.ExpiresTo.Before(*f.ExpiresFrom) {
		return apperr.Invalid("expires_to", "is before expires_from")
	}
	if f.EnrolledFrom != nil && f.EnrolledTo != nil && f.EnrolledTo.Before(*f.EnrolledFrom) {
		return apperr.Invalid("enrolled_to", "is before enrolled_from")
	}
	return nil
}

// matches expects m to be derived already.
func (f Filter) matches(m *Member) bool {
	if f.MembershipType != "" && !strings.EqualFold(m.MembershipType, f.MembershipType) {
		return false
	}
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	switch f.Payment {
	case PaymentPaid:
		if m.AmountDue.IsPositive() {
			return false
		}
	case PaymentOwing:
		if !m.AmountDue.IsPositive() {
			return false
		}
	}
	if f.ExpiresFrom != nil && m.ExpiresAt.Before(*f.ExpiresFrom) {
		return false
	}
	if f.ExpiresTo != nil && m.ExpiresAt.After(*f.ExpiresTo) {
		return false
	}
	if f.EnrolledFrom != nil && m.EnrolledAt.Before(*f.EnrolledFrom) {
		return false
	}
	if f.EnrolledTo != nil && m.EnrolledAt.After(*f.EnrolledTo) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		if !strings.Contains(strings.ToLower(m.Name), q) &&
			!strings.Contains(strings.ToLower(m.Email), q) &&
			!strings.Contains(m.Phone, q) {
			return false
		}
	}
	return true
}

// sort orders members in place. The sort is stable so ties keep enrollment order.
func (f Filter) sort(members []*Member) {
	if f.SortBy == "" {
		return
	}
	var compare func(a, b *Member) int
	switch f.SortBy {
	case SortEnrolled:
		compare = func(a, b *Member) int { return a.EnrolledAt.Compare(b.EnrolledAt) }
	case SortExpiry:
		compare = func(a, b *Member) int { return a.ExpiresAt.Compare(b.ExpiresAt) }
	case SortName:
		compare = func(a, b *Member) int { return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)) }
	case SortAmountDue:
		compare = func(a, b *Member) int { return a.AmountDue.Cmp(b.AmountDue) }
	}
	if f.Descending {
		slices.SortStableFunc(members, func(a, b *Member) int { return compare(b, a) })
		return
	}
	slices.SortStableFunc(members, compare)
}

// ParseTime accepts RFC 3339 timestamps and plain YYYY-MM-DD dates (midnight UTC).
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, s)
}

// ParseFilter builds a Filter from list query parameters.
func ParseFilter(q url.Values) (Filter, error) {
	f := Filter{
		MembershipType: strings.ToLower(strings.TrimSpace(q.Get("type"))),
		Status:         Status(q.Get("status")),
		Payment:        PaymentState(q.Get("payment")),
		Search:         q.Get("q"),
		SortBy:         SortKey(q.Get("sort")),
		Descending:     q.Get("order") == "desc",
	}

	times := []struct {
		name string
		dst  **time.Time
	}{
		{"expires_from", &f.ExpiresFrom},
		{"expires_to", &f.ExpiresTo},
		{"enrolled_from", &f.EnrolledFrom},
		{"enrolled_to", &f.EnrolledTo},
	}
	for _, p := range times {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := ParseTime(raw)
		if err != nil {
			return Filter{}, apperr.Invalid(p.name, "must be RFC 3339 or YYYY-MM-DD")
		}
		*p.dst = &t
	}
	if raw := q.Get("as_of"); raw != "" {
		t, err := ParseTime(raw)
		if err != nil {
			return Filter{}, apperr.Invalid("as_of", "must be RFC 3339 or YYYY-MM-DD")
		}
		f.AsOf = t
	}
	return f, f.validate()
}
