package membership

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"gymledger/internal/apperr"
)

// Plans maps a membership type to its duration in days.
type Plans map[string]int

// DefaultPlans returns the stock plan catalog.
func DefaultPlans() Plans {
	return Plans{
		"weekly":    7,
		"monthly":   30,
		"quarterly": 90,
		"annual":    365,
	}
}

// ParsePlans reads a catalog of the form "weekly=7,monthly=30". An empty string
// yields DefaultPlans.
func ParsePlans(s string) (Plans, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultPlans(), nil
	}

	plans := Plans{}
	for _, entry := range strings.Split(s, ",") {
		name, days, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			return nil, fmt.Errorf("plan entry %q: expected name=days", entry)
		}
		name = strings.ToLower(strings.TrimSpace(name))
		n, err := strconv.Atoi(strings.TrimSpace(days))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("plan %q: duration must be a positive number of days", name)
		}
		if name == "" {
			return nil, fmt.Errorf("plan entry %q: empty name", entry)
		}
		plans[name] = n
	}
	return plans, nil
}

// Days returns the duration of a membership type.
func (p Plans) Days(membershipType string) (int, error) {
	days, ok := p[membershipType]
	if !ok {
		return 0, &apperr.ConfigError{
			Key:    "membership_type",
			Reason: fmt.Sprintf("no duration configured for %q (known: %s)", membershipType, strings.Join(p.Names(), ", ")),
		}
	}
	return days, nil
}

// Expiry returns base plus the duration of the membership type.
func (p Plans) Expiry(base time.Time, membershipType string) (time.Time, error) {
	days, err := p.Days(membershipType)
	if err != nil {
		return time.Time{}, err
	}
	return base.AddDate(0, 0, days), nil
}

// Names returns the configured membership types in sorted order.
func (p Plans) Names() []string {
	return slices.Sorted(maps.Keys(p))
}
