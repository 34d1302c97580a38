// internal/leads/domain.go
package leads

import (
	"time"

	"github.com/google/uuid"
)

// Status is the position of a lead in the visitor funnel.
type Status string

const (
	StatusNew           Status = "new"
	StatusContacted     Status = "contacted"
	StatusInterested    Status = "interested"
	StatusConverted     Status = "converted"
	StatusNotInterested Status = "not_interested"
	// StatusConverting marks a lead claimed by a Convert in flight.
	StatusConverting Status = "converting"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusContacted, StatusInterested, StatusConverted, StatusNotInterested, StatusConverting:
		return true
	}
	return false
}

// open reports whether the lead still needs following up.
func (s Status) open() bool {
	return s == StatusNew || s == StatusContacted || s == StatusInterested
}

// Source records how a visitor found the gym.
type Source string

const (
	SourceWalkIn        Source = "walk_in"
	SourceReferral      Source = "referral"
	SourceOnline        Source = "online"
	SourceAdvertisement Source = "advertisement"
	SourceSocialMedia   Source = "social_media"
	SourceOther         Source = "other"
)

func (s Source) Valid() bool {
	switch s {
	case SourceWalkIn, SourceReferral, SourceOnline, SourceAdvertisement, SourceSocialMedia, SourceOther:
		return true
	}
	return false
}

const (
	MinInterest     = 1
	MaxInterest     = 10
	DefaultInterest = 5
)

// Lead is a prospective member.
type Lead struct {
	ID                uuid.UUID  `json:"id"`
	Name              string     `json:"name"`
	Phone             string     `json:"phone"`
	Email             string     `json:"email,omitempty"`
	Status            Status     `json:"status"`
	Source            Source     `json:"source"`
	InterestLevel     int        `json:"interest_level"`
	Notes             string     `json:"notes,omitempty"`
	LastContactedAt   *time.Time `json:"last_contacted_at,omitempty"`
	NextFollowUp      *time.Time `json:"next_follow_up,omitempty"`
	ConvertedMemberID *uuid.UUID `json:"converted_member_id,omitempty"`
	ConvertedAt       *time.Time `json:"converted_at,omitempty"`
	Version           int        `json:"version"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (l *Lead) Clone() *Lead {
	c := *l
	c.LastContactedAt = clonePtr(l.LastContactedAt)
	c.NextFollowUp = clonePtr(l.NextFollowUp)
	c.ConvertedAt = clonePtr(l.ConvertedAt)
	c.ConvertedMemberID = clonePtr(l.ConvertedMemberID)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// FollowUpOverdue reports whether an open lead missed its follow-up date.
func (l *Lead) FollowUpOverdue(asOf time.Time) bool {
	if l.NextFollowUp == nil || !l.Status.open() {
		return false
	}
	return dateOf(asOf).After(dateOf(*l.NextFollowUp))
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// CaptureRequest is the walk-in form. Source and interest default to walk_in
// and 5.
type CaptureRequest struct {
	Name          string     `json:"name"`
	Phone         string     `json:"phone"`
	Email         string     `json:"email,omitempty"`
	Source        Source     `json:"source,omitempty"`
	InterestLevel int        `json:"interest_level,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	NextFollowUp  *time.Time `json:"next_follow_up,omitempty"`
}

// UpdateRequest changes the follow-up attributes of a lead. Nil fields are
// left as they are.
type UpdateRequest struct {
	Status        *Status    `json:"status,omitempty"`
	InterestLevel *int       `json:"interest_level,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	NextFollowUp  *time.Time `json:"next_follow_up,omitempty"`
}

// Stats summarizes the funnel. ConversionRate is a percentage rounded to one
// decimal place.
type Stats struct {
	Total          int     `json:"total"`
	New            int     `json:"new"`
	Converted      int     `json:"converted"`
	ConversionRate float64 `json:"conversion_rate"`
}

const aggregateType = "lead"

const (
	EventLeadCaptured  = "LeadCaptured"
	EventLeadUpdated   = "LeadUpdated"
	EventLeadConverted = "LeadConverted"

	EventLeadConversionStarted   = "LeadConversionStarted"
	EventLeadConversionAbandoned = "LeadConversionAbandoned"
)

// LeadCapturedEvent is published when a visitor is captured.
type LeadCapturedEvent struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone"`
	Email         string    `json:"email,omitempty"`
	Source        Source    `json:"source"`
	InterestLevel int       `json:"interest_level"`
}

// LeadUpdatedEvent is published when follow-up attributes change.
type LeadUpdatedEvent struct {
	ID            uuid.UUID  `json:"id"`
	Status        Status     `json:"status"`
	InterestLevel int        `json:"interest_level"`
	NextFollowUp  *time.Time `json:"next_follow_up,omitempty"`
}

// LeadConvertedEvent links a lead to the member it became.
type LeadConvertedEvent struct {
	ID          uuid.UUID `json:"id"`
	MemberID    uuid.UUID `json:"member_id"`
	ConvertedAt time.Time `json:"converted_at"`
}

// LeadConversionEvent records a conversion claim being taken or given back.
// Status is the status the lead returns to if the conversion is abandoned.
type LeadConversionEvent struct {
	ID     uuid.UUID `json:"id"`
	Status Status    `json:"status"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}
