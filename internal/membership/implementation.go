// internal/membership/implementation.go
package membership

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/mail"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gymledger/internal/apperr"
	"gymledger/internal/metrics"
	"gymledger/pkg/eventstore"
)

// Options configures a RecordStore. Zero values select defaults.
type Options struct {
	Plans         Plans
	Precedence    Precedence
	Notifier      Notifier
	NotifyTimeout time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	Now           func() time.Time
}

// RecordStore implements Service on top of a Repository.
type RecordStore struct {
	repo          Repository
	plans         Plans
	precedence    Precedence
	notifier      Notifier
	notifyTimeout time.Duration
	logger        *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
	tracer        trace.Tracer
	inflight      sync.WaitGroup
}

var _ Service = (*RecordStore)(nil)

// NewRecordStore creates a new membership service instance.
func NewRecordStore(repo Repository, opts Options) *RecordStore {
	s := &RecordStore{
		repo:          repo,
		plans:         opts.Plans,
		precedence:    opts.Precedence,
		notifier:      opts.Notifier,
		notifyTimeout: opts.NotifyTimeout,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		now:           opts.Now,
		tracer:        otel.Tracer("gymledger/membership"),
	}
	if s.plans == nil {
		s.plans = DefaultPlans()
	}
	if s.precedence == "" {
		s.precedence = PrecedenceExpiry
	}
	if s.notifyTimeout <= 0 {
		s.notifyTimeout = 30 * time.Second
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Plans returns the plan catalog in use.
func (s *RecordStore) Plans() Plans { return s.plans }

// Wait blocks until in-flight welcome notifications have finished.
func (s *RecordStore) Wait() { s.inflight.Wait() }

func (s *RecordStore) clock() time.Time { return s.now().UTC() }

func normalizeInfo(info PersonalInfo) PersonalInfo {
	info.Name = strings.TrimSpace(info.Name)
	info.Email = normalizeEmail(info.Email)
	info.Phone = strings.TrimSpace(info.Phone)
	info.Address = strings.TrimSpace(info.Address)
	return info
}

func validateInfo(info PersonalInfo, at time.Time) error {
	if info.Name == "" {
		return apperr.Invalid("name", "is required")
	}
	if info.Email == "" {
		return apperr.Invalid("email", "is required")
	}
	if _, err := mail.ParseAddress(info.Email); err != nil {
		return apperr.Invalid("email", "is not a valid address")
	}
	if info.Phone == "" {
		return apperr.Invalid("phone", "is required")
	}
	if info.DateOfBirth != nil && info.DateOfBirth.After(at) {
		return apperr.Invalid("date_of_birth", "is in the future")
	}
	return nil
}

func (s *RecordStore) resolveType(membershipType string) (string, int, error) {
	t := strings.ToLower(strings.TrimSpace(membershipType))
	if t == "" {
		return "", 0, apperr.Invalid("membership_type", "is required")
	}
	days, err := s.plans.Days(t)
	if err != nil {
		return "", 0, err
	}
	return t, days, nil
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Enroll creates a member. The welcome notification is sent only after the
// write commits and never affects the outcome.
func (s *RecordStore) Enroll(ctx context.Context, req EnrollRequest) (*Member, error) {
	ctx, span := s.tracer.Start(ctx, "membership.enroll")
	defer span.End()

	now := s.clock()
	enrolledAt := req.EnrolledAt.UTC()
	if req.EnrolledAt.IsZero() {
		enrolledAt = now
	}

	info := normalizeInfo(req.PersonalInfo)
	if err := validateInfo(info, enrolledAt); err != nil {
		return nil, spanError(span, err)
	}
	if req.TotalFee.IsNegative() {
		return nil, spanError(span, apperr.Invalid("total_fee", "must not be negative"))
	}
	if reason := moneyError(req.TotalFee); reason != "" {
		return nil, spanError(span, apperr.Invalid("total_fee", reason))
	}
	membershipType, days, err := s.resolveType(req.MembershipType)
	if err != nil {
		return nil, spanError(span, err)
	}

	member := &Member{
		ID:             uuid.New(),
		PersonalInfo:   info,
		MembershipType: membershipType,
		EnrolledAt:     enrolledAt,
		ExpiresAt:      enrolledAt.AddDate(0, 0, days),
		TotalFee:       req.TotalFee,
		PeriodFee:      req.TotalFee,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	span.SetAttributes(
		attribute.String("member.id", member.ID.String()),
		attribute.String("membership.type", membershipType),
	)

	event, err := eventstore.NewEvent(EventMemberEnrolled, MemberEnrolledEvent{
		ID:             member.ID,
		Email:          member.Email,
		Name:           member.Name,
		MembershipType: member.MembershipType,
		TotalFee:       member.TotalFee,
		EnrolledAt:     member.EnrolledAt,
		ExpiresAt:      member.ExpiresAt,
	})
	if err != nil {
		return nil, spanError(span, err)
	}

	err = s.repo.WithinTx(ctx, func(tx Tx) error {
		taken, err := tx.EmailTaken(ctx, member.Email, uuid.Nil)
		if err != nil {
			return err
		}
		if taken {
			return apperr.DuplicateEmail(member.Email)
		}
		if err := tx.InsertMember(ctx, member); err != nil {
			return err
		}
		return tx.AppendEvents(ctx, member.ID, 0, event)
	})
	if err != nil {
		return nil, spanError(span, fmt.Errorf("enroll member: %w", err))
	}

	s.metrics.Enrolled(membershipType)
	s.logger.InfoContext(ctx, "member enrolled",
		"member_id", member.ID,
		"membership_type", membershipType,
		"expires_at", member.ExpiresAt,
	)

	member.derive(decimal.Zero, now, s.precedence)
	s.notifyAsync(member.Clone(), ReasonWelcome)
	return member, nil
}

// notifyAsync hands m to the notifier on a goroutine detached from the caller's
// context. Failures are logged only.
func (s *RecordStore) notifyAsync(m *Member, reason Reason) {
	if s.notifier == nil {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()

		if err := s.notifier.Notify(ctx, m, reason); err != nil {
			s.logger.Warn("notification failed",
				"member_id", m.ID,
				"reason", reason,
				"error", err,
			)
			s.metrics.Reminder(string(reason), "failed")
			return
		}
		s.metrics.Reminder(string(reason), "sent")
	}()
}

// Renew extends a membership. A renewal before expiry stacks on the current
// expiry; a renewal after expiry extends from the renewal instant.
func (s *RecordStore) Renew(ctx context.Context, id uuid.UUID, req RenewRequest) (*Member, error) {
	ctx, span := s.tracer.Start(ctx, "membership.renew",
		trace.WithAttributes(attribute.String("member.id", id.String())),
	)
	defer span.End()

	if req.Fee != nil && req.Fee.IsNegative() {
		return nil, spanError(span, apperr.Invalid("fee", "must not be negative"))
	}
	if req.Fee != nil {
		if reason := moneyError(*req.Fee); reason != "" {
			return nil, spanError(span, apperr.Invalid("fee", reason))
		}
	}
	now := s.clock()
	at := req.At.UTC()
	if req.At.IsZero() {
		at = now
	}

	var renewed *Member
	var paid decimal.Decimal
	err := s.repo.WithinTx(ctx, func(tx Tx) error {
		m, err := tx.LockMember(ctx, id)
		if err != nil {
			return err
		}

		membershipType := m.MembershipType
		if req.MembershipType != "" {
			membershipType = req.MembershipType
		}
		membershipType, days, err := s.resolveType(membershipType)
		if err != nil {
			return err
		}
		fee := m.PeriodFee
		if req.Fee != nil {
			fee = *req.Fee
		}

		previous := m.ExpiresAt
		base := previous
		if at.After(base) {
			base = at
		}
		m.ExpiresAt = base.AddDate(0, 0, days)
		m.MembershipType = membershipType
		m.RenewedAt = &at
		m.TotalFee = m.TotalFee.Add(fee)
		m.PeriodFee = fee
		m.Version++
		m.UpdatedAt = now

		event, err := eventstore.NewEvent(EventMembershipRenewed, MembershipRenewedEvent{
			ID:             m.ID,
			MembershipType: membershipType,
			Fee:            fee,
			RenewedAt:      at,
			PreviousExpiry: previous,
			ExpiresAt:      m.ExpiresAt,
		})
		if err != nil {
			return err
		}
		if err := tx.UpdateMember(ctx, m); err != nil {
			return err
		}
		if err := tx.AppendEvents(ctx, m.ID, m.Version-1, event); err != nil {
			return err
		}
		if paid, err = tx.SumPayments(ctx, m.ID); err != nil {
			return err
		}
		renewed = m
		return nil
	})
	if err != nil {
		return nil, spanError(span, fmt.Errorf("renew member: %w", err))
	}

	s.metrics.Renewed(renewed.MembershipType)
	s.logger.InfoContext(ctx, "membership renewed",
		"member_id", id,
		"membership_type", renewed.MembershipType,
		"expires_at", renewed.ExpiresAt,
	)
	return renewed.derive(paid, now, s.precedence), nil
}

// UpdateContact edits personal attributes only.
func (s *RecordStore) UpdateContact(ctx context.Context, id uuid.UUID, info PersonalInfo) (*Member, error) {
	ctx, span := s.tracer.Start(ctx, "membership.update_contact",
		trace.WithAttributes(attribute.String("member.id", id.String())),
	)
	defer span.End()

	now := s.clock()
	info = normalizeInfo(info)
	if err := validateInfo(info, now); err != nil {
		return nil, spanError(span, err)
	}

	var updated *Member
	var paid decimal.Decimal
	err := s.repo.WithinTx(ctx, func(tx Tx) error {
		m, err := tx.LockMember(ctx, id)
		if err != nil {
			return err
		}
		if info.Email != m.Email {
			taken, err := tx.EmailTaken(ctx, info.Email, id)
			if err != nil {
				return err
			}
			if taken {
				return apperr.DuplicateEmail(info.Email)
			}
		}

		m.PersonalInfo = info
		m.Version++
		m.UpdatedAt = now

		event, err := eventstore.NewEvent(EventContactUpdated, ContactUpdatedEvent{
			ID:    m.ID,
			Name:  m.Name,
			Email: m.Email,
			Phone: m.Phone,
		})
		if err != nil {
			return err
		}
		if err := tx.UpdateMember(ctx, m); err != nil {
			return err
		}
		if err := tx.AppendEvents(ctx, m.ID, m.Version-1, event); err != nil {
			return err
		}
		if paid, err = tx.SumPayments(ctx, m.ID); err != nil {
			return err
		}
		updated = m
		return nil
	})
	if err != nil {
		return nil, spanError(span, fmt.Errorf("update contact: %w", err))
	}
	return updated.derive(paid, now, s.precedence), nil
}

func (s *RecordStore) asOf(t time.Time) time.Time {
	if t.IsZero() {
		return s.clock()
	}
	return t.UTC()
}

// GetMember returns a member with status and amounts derived at asOf (zero means now).
func (s *RecordStore) GetMember(ctx context.Context, id uuid.UUID, asOf time.Time) (*Member, error) {
	m, paid, err := s.repo.Member(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.derive(paid, s.asOf(asOf), s.precedence), nil
}

func (s *RecordStore) GetStatus(ctx context.Context, id uuid.UUID, asOf time.Time) (Status, error) {
	m, err := s.GetMember(ctx, id, asOf)
	if err != nil {
		return "", err
	}
	return m.Status, nil
}

// List reads one snapshot and returns a lazy sequence over it. The sequence may
// be ranged over any number of times; each pass yields fresh copies.
func (s *RecordStore) List(ctx context.Context, f Filter) (iter.Seq[*Member], error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	snap, err := s.repo.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	asOf := s.asOf(f.AsOf)

	if f.SortBy == "" {
		return func(yield func(*Member) bool) {
			for _, m := range snap.Members {
				c := m.Clone().derive(snap.Paid[m.ID], asOf, s.precedence)
				if !f.matches(c) {
					continue
				}
				if !yield(c) {
					return
				}
			}
		}, nil
	}

	return func(yield func(*Member) bool) {
		var selected []*Member
		for _, m := range snap.Members {
			c := m.Clone().derive(snap.Paid[m.ID], asOf, s.precedence)
			if f.matches(c) {
				selected = append(selected, c)
			}
		}
		f.sort(selected)
		for _, m := range selected {
			if !yield(m) {
				return
			}
		}
	}, nil
}

// FindExpiringWithin returns members whose expiry falls in [asOf, asOf+days],
// soonest first.
func (s *RecordStore) FindExpiringWithin(ctx context.Context, days int, asOf time.Time) ([]*Member, error) {
	if days < 0 {
		return nil, apperr.Invalid("days", "must not be negative")
	}
	from := s.asOf(asOf)
	to := from.AddDate(0, 0, days)
	seq, err := s.List(ctx, Filter{ExpiresFrom: &from, ExpiresTo: &to, SortBy: SortExpiry, AsOf: from})
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

// FindOverdue returns members that are pending payment at asOf, in enrollment order.
func (s *RecordStore) FindOverdue(ctx context.Context, asOf time.Time) ([]*Member, error) {
	seq, err := s.List(ctx, Filter{Status: StatusPendingPayment, AsOf: asOf})
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

// EnrolledSince returns members enrolled after the event cursor, plus the cursor
// to resume from. Members are derived as of now.
func (s *RecordStore) EnrolledSince(ctx context.Context, cursor int64, limit int) ([]*Member, int64, error) {
	if cursor < 0 {
		return nil, cursor, apperr.Invalid("cursor", "must not be negative")
	}
	events, err := s.repo.Events().StreamEvents(ctx, cursor, limit, EventMemberEnrolled)
	if err != nil {
		return nil, cursor, fmt.Errorf("stream enrollments: %w", err)
	}

	now := s.clock()
	next := cursor
	members := make([]*Member, 0, len(events))
	for _, e := range events {
		next = e.ID
		m, paid, err := s.repo.Member(ctx, e.AggregateID)
		if err != nil {
			if apperr.IsNotFound(err) {
				continue
			}
			return nil, cursor, err
		}
		members = append(members, m.derive(paid, now, s.precedence))
	}
	return members, next, nil
}
