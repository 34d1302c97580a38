package membership

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"gymledger/internal/apperr"
	"gymledger/internal/metrics"
	"gymledger/pkg/eventstore"
)

// PaymentLedger implements Ledger. Entries are only ever appended; totals are
// folded from the entries on every read.
type PaymentLedger struct {
	repo    Repository
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	tracer  trace.Tracer
}

var _ Ledger = (*PaymentLedger)(nil)

func NewPaymentLedger(repo Repository, opts Options) *PaymentLedger {
	l := &PaymentLedger{
		repo:    repo,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
		tracer:  otel.Tracer("gymledger/ledger"),
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// RecordPayment appends a ledger entry. Overpayment is accepted.
func (l *PaymentLedger) RecordPayment(ctx context.Context, memberID uuid.UUID, req PaymentRequest) (*Payment, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.record_payment",
		trace.WithAttributes(attribute.String("member.id", memberID.String())),
	)
	defer span.End()

	if !req.Amount.IsPositive() {
		return nil, spanError(span, apperr.Invalid("amount", "must be greater than zero"))
	}
	if reason := moneyError(req.Amount); reason != "" {
		return nil, spanError(span, apperr.Invalid("amount", reason))
	}
	method := PaymentMethod(strings.ToLower(strings.TrimSpace(string(req.Method))))
	if method == "" {
		method = MethodCash
	}
	if !method.Valid() {
		return nil, spanError(span, apperr.Invalid("method", "must be one of cash, card, upi, cheque"))
	}

	now := l.now().UTC()
	paidAt := req.PaidAt.UTC()
	if req.PaidAt.IsZero() {
		paidAt = now
	}

	payment := &Payment{
		ID:            uuid.New(),
		MemberID:      memberID,
		Amount:        req.Amount,
		PaidAt:        paidAt,
		Method:        method,
		TransactionID: strings.TrimSpace(req.TransactionID),
		Note:          strings.TrimSpace(req.Note),
	}

	event, err := eventstore.NewEvent(EventPaymentRecorded, PaymentRecordedEvent{
		PaymentID: payment.ID,
		MemberID:  memberID,
		Amount:    payment.Amount,
		Method:    method,
		PaidAt:    paidAt,
	})
	if err != nil {
		return nil, spanError(span, err)
	}

	err = l.repo.WithinTx(ctx, func(tx Tx) error {
		m, err := tx.LockMember(ctx, memberID)
		if err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		m.Version++
		m.UpdatedAt = now
		if err := tx.UpdateMember(ctx, m); err != nil {
			return err
		}
		return tx.AppendEvents(ctx, memberID, m.Version-1, event)
	})
	if err != nil {
		return nil, spanError(span, fmt.Errorf("record payment: %w", err))
	}

	l.metrics.PaymentRecorded(string(method), payment.Amount.InexactFloat64())
	l.logger.InfoContext(ctx, "payment recorded",
		"member_id", memberID,
		"payment_id", payment.ID,
		"amount", payment.Amount.String(),
		"method", method,
	)
	return payment, nil
}

func (l *PaymentLedger) TotalPaid(ctx context.Context, memberID uuid.UUID) (decimal.Decimal, error) {
	_, paid, err := l.repo.Member(ctx, memberID)
	if err != nil {
		return decimal.Zero, err
	}
	return paid, nil
}

// AmountDue is the member's total fee minus the ledger sum, never negative.
func (l *PaymentLedger) AmountDue(ctx context.Context, memberID uuid.UUID) (decimal.Decimal, error) {
	m, paid, err := l.repo.Member(ctx, memberID)
	if err != nil {
		return decimal.Zero, err
	}
	return AmountDue(m.TotalFee, paid), nil
}

// History returns the ledger entries of a member by payment date. Entries with
// the same date keep the order they were recorded in.
func (l *PaymentLedger) History(ctx context.Context, memberID uuid.UUID) ([]Payment, error) {
	return l.repo.Payments(ctx, memberID)
}
