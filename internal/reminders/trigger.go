// Package reminders turns membership state into notification work: read-only
// candidate queries, an idempotent dispatcher and a cron scheduler.
package reminders

import (
	"context"
	"fmt"
	"time"

	"gymledger/internal/membership"
)

// Candidate is a member paired with the reason they should be notified.
// Key identifies the notification for de-duplication.
type Candidate struct {
	Member *membership.Member `json:"member"`
	Reason membership.Reason  `json:"reason"`
	Key    string             `json:"key"`
}

// CandidateSource answers the membership queries the trigger needs. The
// in-process membership.Service satisfies it, as does the HTTP client in
// internal/clients.
type CandidateSource interface {
	EnrolledSince(ctx context.Context, cursor int64, limit int) ([]*membership.Member, int64, error)
	FindOverdue(ctx context.Context, asOf time.Time) ([]*membership.Member, error)
	FindExpiringWithin(ctx context.Context, days int, asOf time.Time) ([]*membership.Member, error)
}

// Trigger exposes the three reminder queries. It never mutates membership state.
type Trigger struct {
	source    CandidateSource
	batchSize int
}

func NewTrigger(source CandidateSource, batchSize int) *Trigger {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Trigger{source: source, batchSize: batchSize}
}

// Welcome returns members enrolled after cursor and the cursor to resume from.
func (t *Trigger) Welcome(ctx context.Context, cursor int64) ([]Candidate, int64, error) {
	members, next, err := t.source.EnrolledSince(ctx, cursor, t.batchSize)
	if err != nil {
		return nil, cursor, fmt.Errorf("welcome candidates: %w", err)
	}
	out := make([]Candidate, 0, len(members))
	for _, m := range members {
		out = append(out, Candidate{
			Member: m,
			Reason: membership.ReasonWelcome,
			Key:    fmt.Sprintf("%s:%s", membership.ReasonWelcome, m.ID),
		})
	}
	return out, next, nil
}

// PaymentDue returns members that owe money and are not expired at asOf.
func (t *Trigger) PaymentDue(ctx context.Context, asOf time.Time) ([]Candidate, error) {
	members, err := t.source.FindOverdue(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("payment due candidates: %w", err)
	}
	out := make([]Candidate, 0, len(members))
	for _, m := range members {
		if !m.AmountDue.IsPositive() || m.Status == membership.StatusExpired {
			continue
		}
		out = append(out, Candidate{
			Member: m,
			Reason: membership.ReasonPaymentDue,
			Key:    fmt.Sprintf("%s:%s:%s", membership.ReasonPaymentDue, m.ID, asOf.UTC().Format(time.DateOnly)),
		})
	}
	return out, nil
}

// Expiring returns members whose membership ends within days of asOf. The key
// includes the expiry date so a renewed membership is reminded again.
func (t *Trigger) Expiring(ctx context.Context, days int, asOf time.Time) ([]Candidate, error) {
	members, err := t.source.FindExpiringWithin(ctx, days, asOf)
	if err != nil {
		return nil, fmt.Errorf("expiring candidates: %w", err)
	}
	out := make([]Candidate, 0, len(members))
	for _, m := range members {
		out = append(out, Candidate{
			Member: m,
			Reason: membership.ReasonExpiring,
			Key:    fmt.Sprintf("%s:%s:%s", membership.ReasonExpiring, m.ID, m.ExpiresAt.UTC().Format(time.DateOnly)),
		})
	}
	return out, nil
}
