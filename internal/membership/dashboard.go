package membership

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"gymledger/internal/apperr"
)

const (
	dashboardWindowDays = 7
	maxRevenueMonths    = 120
)

// Dashboard folds the whole roster at asOf.
func (s *RecordStore) Dashboard(ctx context.Context, asOf time.Time) (*Dashboard, error) {
	ctx, span := s.tracer.Start(ctx, "membership.dashboard")
	defer span.End()

	snap, err := s.repo.Snapshot(ctx)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("dashboard: %w", err))
	}

	at := s.asOf(asOf)
	soon := at.AddDate(0, 0, dashboardWindowDays)
	weekAgo := at.AddDate(0, 0, -dashboardWindowDays)

	d := &Dashboard{
		AsOf:        at,
		Outstanding: decimal.Zero,
		Collected:   decimal.Zero,
		Billed:      decimal.Zero,
		ByType:      make(map[string]int),
	}
	for _, m := range snap.Members {
		m.derive(snap.Paid[m.ID], at, s.precedence)

		d.TotalMembers++
		d.ByType[m.MembershipType]++
		switch m.Status {
		case StatusActive:
			d.Active++
		case StatusExpired:
			d.Expired++
		case StatusPendingPayment:
			d.PendingPayment++
		}
		if !m.ExpiresAt.Before(at) && !m.ExpiresAt.After(soon) {
			d.ExpiringSoon++
		}
		if m.EnrolledAt.After(weekAgo) && !m.EnrolledAt.After(at) {
			d.NewThisWeek++
		}
		d.Outstanding = d.Outstanding.Add(m.AmountDue)
		d.Collected = d.Collected.Add(m.AmountPaid)
		d.Billed = d.Billed.Add(m.TotalFee)
	}
	return d, nil
}

// Revenue folds the ledger per calendar month (UTC) for the last months months
// ending at asOf, newest first. Months without payments are included.
func (s *RecordStore) Revenue(ctx context.Context, months int, asOf time.Time) ([]MonthlyRevenue, error) {
	if months < 1 || months > maxRevenueMonths {
		return nil, apperr.Invalid("months", fmt.Sprintf("must be between 1 and %d", maxRevenueMonths))
	}
	at := s.asOf(asOf)
	current := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
	from := current.AddDate(0, -(months - 1), 0)

	payments, err := s.repo.PaymentsBetween(ctx, from, at.Add(time.Nanosecond))
	if err != nil {
		return nil, fmt.Errorf("revenue: %w", err)
	}

	out := make([]MonthlyRevenue, months)
	index := make(map[string]int, months)
	for i := range months {
		key := current.AddDate(0, -i, 0).Format("2006-01")
		out[i] = MonthlyRevenue{Month: key, Collected: decimal.Zero}
		index[key] = i
	}
	for _, p := range payments {
		i, ok := index[p.PaidAt.UTC().Format("2006-01")]
		if !ok {
			continue
		}
		out[i].Collected = out[i].Collected.Add(p.Amount)
		out[i].Payments++
	}
	return out, nil
}
