// internal/leads/implementation.go
package leads

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gymledger/internal/apperr"
	"gymledger/internal/membership"
	"gymledger/internal/metrics"
	"gymledger/pkg/eventstore"
)

var phonePattern = regexp.MustCompile(`^\+?1?\d{9,15}$`)

// Options configures the lead service. Zero values select defaults.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// service implements the Service interface.
type service struct {
	repo     Repository
	enroller Enroller
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	tracer   trace.Tracer
}

// NewService creates a new lead service instance. Converted leads are enrolled
// through enroller.
func NewService(repo Repository, enroller Enroller, opts Options) Service {
	s := &service{
		repo:     repo,
		enroller: enroller,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
		tracer:   otel.Tracer("gymledger/leads"),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func normalizePhone(phone string) string {
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(phone))
}

func validateInterest(level int) error {
	if level < MinInterest || level > MaxInterest {
		return apperr.Invalid("interest_level", fmt.Sprintf("must be between %d and %d", MinInterest, MaxInterest))
	}
	return nil
}

// Capture records a new visitor.
func (s *service) Capture(ctx context.Context, req CaptureRequest) (*Lead, error) {
	ctx, span := s.tracer.Start(ctx, "leads.capture")
	defer span.End()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, spanError(span, apperr.Invalid("name", "is required"))
	}
	phone := normalizePhone(req.Phone)
	if !phonePattern.MatchString(phone) {
		return nil, spanError(span, apperr.Invalid("phone", "must be 9 to 15 digits"))
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, spanError(span, apperr.Invalid("email", "is not a valid address"))
		}
	}
	source := req.Source
	if source == "" {
		source = SourceWalkIn
	}
	if !source.Valid() {
		return nil, spanError(span, apperr.Invalid("source", "is not a lead source"))
	}
	interest := req.InterestLevel
	if interest == 0 {
		interest = DefaultInterest
	}
	if err := validateInterest(interest); err != nil {
		return nil, spanError(span, err)
	}

	now := s.now().UTC()
	lead := &Lead{
		ID:            uuid.New(),
		Name:          name,
		Phone:         phone,
		Email:         email,
		Status:        StatusNew,
		Source:        source,
		InterestLevel: interest,
		Notes:         strings.TrimSpace(req.Notes),
		NextFollowUp:  req.NextFollowUp,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	span.SetAttributes(attribute.String("lead.id", lead.ID.String()))

	event, err := eventstore.NewEvent(EventLeadCaptured, LeadCapturedEvent{
		ID:            lead.ID,
		Name:          lead.Name,
		Phone:         lead.Phone,
		Email:         lead.Email,
		Source:        lead.Source,
		InterestLevel: lead.InterestLevel,
	})
	if err != nil {
		return nil, spanError(span, err)
	}
	if err := s.repo.Insert(ctx, lead, event); err != nil {
		return nil, spanError(span, fmt.Errorf("capture lead: %w", err))
	}

	s.metrics.Lead("captured")
	s.logger.InfoContext(ctx, "lead captured", "lead_id", lead.ID, "source", lead.Source)
	return lead, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Lead, error) {
	return s.repo.Get(ctx, id)
}

// Update applies follow-up changes. Moving to contacted stamps
// LastContactedAt the first time only. A converted lead keeps its status.
func (s *service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Lead, error) {
	ctx, span := s.tracer.Start(ctx, "leads.update",
		trace.WithAttributes(attribute.String("lead.id", id.String())),
	)
	defer span.End()

	if req.Status != nil {
		if !req.Status.Valid() {
			return nil, spanError(span, apperr.Invalid("status", "is not a lead status"))
		}
		if *req.Status == StatusConverted || *req.Status == StatusConverting {
			return nil, spanError(span, apperr.Invalid("status", "is set by converting the lead"))
		}
	}
	if req.InterestLevel != nil {
		if err := validateInterest(*req.InterestLevel); err != nil {
			return nil, spanError(span, err)
		}
	}

	lead, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, spanError(span, err)
	}
	now := s.now().UTC()
	if lead.Status == StatusConverting && !claimExpired(lead, now) {
		return nil, spanError(span, apperr.Invalid("status", "lead conversion is in progress"))
	}

	if req.Status != nil && *req.Status != lead.Status {
		if lead.Status == StatusConverted {
			return nil, spanError(span, apperr.Invalid("status", "a converted lead cannot change status"))
		}
		lead.Status = *req.Status
	}
	if lead.Status == StatusContacted && lead.LastContactedAt == nil {
		lead.LastContactedAt = &now
	}
	if req.InterestLevel != nil {
		lead.InterestLevel = *req.InterestLevel
	}
	if req.Notes != nil {
		lead.Notes = strings.TrimSpace(*req.Notes)
	}
	if req.NextFollowUp != nil {
		lead.NextFollowUp = req.NextFollowUp
	}
	lead.Version++
	lead.UpdatedAt = now

	event, err := eventstore.NewEvent(EventLeadUpdated, LeadUpdatedEvent{
		ID:            lead.ID,
		Status:        lead.Status,
		InterestLevel: lead.InterestLevel,
		NextFollowUp:  lead.NextFollowUp,
	})
	if err != nil {
		return nil, spanError(span, err)
	}
	if err := s.repo.Update(ctx, lead, lead.Version-1, event); err != nil {
		return nil, spanError(span, fmt.Errorf("update lead: %w", err))
	}
	return lead, nil
}

func (s *service) List(ctx context.Context, f Filter) ([]*Lead, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	asOf := f.AsOf
	if asOf.IsZero() {
		asOf = s.now()
	}
	all, err := s.repo.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Lead, 0, len(all))
	for _, l := range all {
		if f.matches(l, asOf) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *service) Stats(ctx context.Context) (Stats, error) {
	all, err := s.repo.All(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Total: len(all)}
	for _, l := range all {
		switch l.Status {
		case StatusNew:
			st.New++
		case StatusConverted:
			st.Converted++
		}
	}
	if st.Total > 0 {
		st.ConversionRate = math.Round(float64(st.Converted)/float64(st.Total)*1000) / 10
	}
	return st, nil
}

// conversionClaimTTL is how long a converting lead stays claimed. A claim
// older than this is treated as abandoned by a crashed caller.
const conversionClaimTTL = 5 * time.Minute

func claimExpired(l *Lead, now time.Time) bool {
	return now.Sub(l.UpdatedAt) > conversionClaimTTL
}

// Convert enrolls the lead as a member and links the two. Fields missing from
// req are taken from the lead. The lead is claimed with a versioned update
// before enrolling, so concurrent converts of one lead enroll at most once.
func (s *service) Convert(ctx context.Context, id uuid.UUID, req membership.EnrollRequest) (*Lead, *membership.Member, error) {
	ctx, span := s.tracer.Start(ctx, "leads.convert",
		trace.WithAttributes(attribute.String("lead.id", id.String())),
	)
	defer span.End()

	lead, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, spanError(span, err)
	}
	now := s.now().UTC()
	previous := lead.Status
	switch {
	case lead.Status == StatusConverted:
		return nil, nil, spanError(span, apperr.Invalid("status", "lead is already converted"))
	case lead.Status == StatusConverting && !claimExpired(lead, now):
		return nil, nil, spanError(span, apperr.Invalid("status", "lead conversion is in progress"))
	case lead.Status == StatusConverting:
		previous = StatusInterested
	}

	claimed, err := s.transition(ctx, lead, StatusConverting, EventLeadConversionStarted,
		LeadConversionEvent{ID: lead.ID, Status: previous, At: now})
	if err != nil {
		return nil, nil, spanError(span, fmt.Errorf("claim lead: %w", err))
	}

	if req.Name == "" {
		req.Name = lead.Name
	}
	if req.Phone == "" {
		req.Phone = lead.Phone
	}
	if req.Email == "" {
		req.Email = lead.Email
	}
	member, err := s.enroller.Enroll(ctx, req)
	if err != nil {
		releaseCtx := context.WithoutCancel(ctx)
		if _, rerr := s.transition(releaseCtx, claimed, previous, EventLeadConversionAbandoned,
			LeadConversionEvent{ID: lead.ID, Status: previous, Reason: err.Error(), At: s.now().UTC()}); rerr != nil {
			s.logger.ErrorContext(ctx, "lead conversion claim not released", "lead_id", lead.ID, "error", rerr)
		}
		return nil, nil, spanError(span, fmt.Errorf("convert lead: %w", err))
	}

	now = s.now().UTC()
	converted := claimed.Clone()
	converted.Status = StatusConverted
	converted.ConvertedMemberID = &member.ID
	converted.ConvertedAt = &now
	converted.Version++
	converted.UpdatedAt = now

	event, err := eventstore.NewEvent(EventLeadConverted, LeadConvertedEvent{
		ID:          lead.ID,
		MemberID:    member.ID,
		ConvertedAt: now,
	})
	if err != nil {
		return nil, nil, spanError(span, err)
	}
	if err := s.repo.Update(ctx, converted, claimed.Version, event); err != nil {
		s.logger.ErrorContext(ctx, "member enrolled but lead not linked",
			"lead_id", lead.ID,
			"member_id", member.ID,
			"error", err,
		)
		return nil, member, spanError(span, fmt.Errorf("link converted lead: %w", err))
	}

	s.metrics.Lead("converted")
	s.logger.InfoContext(ctx, "lead converted", "lead_id", lead.ID, "member_id", member.ID)
	return converted, member, nil
}

// transition moves l to status with a versioned update and returns the new
// state. l itself is left untouched.
func (s *service) transition(ctx context.Context, l *Lead, status Status, eventType string, payload LeadConversionEvent) (*Lead, error) {
	event, err := eventstore.NewEvent(eventType, payload)
	if err != nil {
		return nil, err
	}
	next := l.Clone()
	next.Status = status
	next.Version++
	next.UpdatedAt = payload.At
	if err := s.repo.Update(ctx, next, l.Version, event); err != nil {
		return nil, err
	}
	return next, nil
}
