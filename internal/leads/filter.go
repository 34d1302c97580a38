package leads

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"gymledger/internal/apperr"
	"gymledger/internal/membership"
)

// Interest groups interest levels: high is 8 and above, medium 5 to 7, low
// below 5.
type Interest string

const (
	InterestHigh   Interest = "high"
	InterestMedium Interest = "medium"
	InterestLow    Interest = "low"
)

func (i Interest) contains(level int) bool {
	switch i {
	case InterestHigh:
		return level >= 8
	case InterestMedium:
		return level >= 5 && level < 8
	case InterestLow:
		return level < 5
	}
	return true
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Search          string
	Status          Status
	Source          Source
	Interest        Interest
	OverdueFollowUp bool
	AsOf            time.Time
}

func (f Filter) validate() error {
	if f.Status != "" && !f.Status.Valid() {
		return apperr.Invalid("status", "is not a lead status")
	}
	if f.Source != "" && !f.Source.Valid() {
		return apperr.Invalid("source", "is not a lead source")
	}
	switch f.Interest {
	case "", InterestHigh, InterestMedium, InterestLow:
	default:
		return apperr.Invalid("interest", "must be high, medium or low")
	}
	return nil
}

func (f Filter) matches(l *Lead, asOf time.Time) bool {
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	if f.Source != "" && l.Source != f.Source {
		return false
	}
	if !f.Interest.contains(l.InterestLevel) {
		return false
	}
	if f.OverdueFollowUp && !l.FollowUpOverdue(asOf) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		if !strings.Contains(strings.ToLower(l.Name), q) &&
			!strings.Contains(l.Phone, q) &&
			!strings.Contains(strings.ToLower(l.Email), q) {
			return false
		}
	}
	return true
}

// ParseFilter builds a Filter from list query parameters.
func ParseFilter(q url.Values) (Filter, error) {
	f := Filter{
		Search:   q.Get("q"),
		Status:   Status(q.Get("status")),
		Source:   Source(q.Get("source")),
		Interest: Interest(q.Get("interest")),
	}
	if raw := q.Get("overdue"); raw != "" {
		overdue, err := strconv.ParseBool(raw)
		if err != nil {
			return Filter{}, apperr.Invalid("overdue", "must be a boolean")
		}
		f.OverdueFollowUp = overdue
	}
	if raw := q.Get("as_of"); raw != "" {
		t, err := membership.ParseTime(raw)
		if err != nil {
			return Filter{}, apperr.Invalid("as_of", "must be RFC 3339 or YYYY-MM-DD")
		}
		f.AsOf = t
	}
	return f, f.validate()
}
