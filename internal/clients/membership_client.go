// internal/clients/membership_client.go
package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"gymledger/internal/membership"
)

// ErrUnavailable is returned while the circuit to the membership service is open.
var ErrUnavailable = errors.New("membership service unavailable")

// MembershipClient reads members and reminder candidates from a remote
// membership service.
type MembershipClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewMembershipClient(baseURL string, timeout time.Duration) *MembershipClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &MembershipClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "membership",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// StatusError is a non-200 response from the membership service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d: %s", e.Code, e.Body)
}

func (c *MembershipClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			serr := &StatusError{Code: resp.StatusCode, Body: string(body)}
			// Client errors say nothing about the health of the service.
			if resp.StatusCode < http.StatusInternalServerError {
				return serr, nil
			}
			return nil, serr
		}
		return nil, json.NewDecoder(resp.Body).Decode(out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return err
	}
	if serr, ok := result.(*StatusError); ok {
		return serr
	}
	return nil
}

func (c *MembershipClient) GetMember(ctx context.Context, id uuid.UUID) (*membership.Member, error) {
	var member membership.Member
	if err := c.getJSON(ctx, "/members/"+id.String(), nil, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

func (c *MembershipClient) EnrolledSince(ctx context.Context, cursor int64, limit int) ([]*membership.Member, int64, error) {
	var page membership.EnrolledPage
	q := url.Values{
		"cursor": {strconv.FormatInt(cursor, 10)},
		"limit":  {strconv.Itoa(limit)},
	}
	if err := c.getJSON(ctx, "/reminders/enrolled", q, &page); err != nil {
		return nil, cursor, err
	}
	return page.Members, page.NextCursor, nil
}

func (c *MembershipClient) FindOverdue(ctx context.Context, asOf time.Time) ([]*membership.Member, error) {
	var members []*membership.Member
	q := url.Values{"as_of": {asOf.UTC().Format(time.RFC3339)}}
	if err := c.getJSON(ctx, "/reminders/overdue", q, &members); err != nil {
		return nil, err
	}
	return members, nil
}

func (c *MembershipClient) FindExpiringWithin(ctx context.Context, days int, asOf time.Time) ([]*membership.Member, error) {
	var members []*membership.Member
	q := url.Values{
		"days":  {strconv.Itoa(days)},
		"as_of": {asOf.UTC().Format(time.RFC3339)},
	}
	if err := c.getJSON(ctx, "/reminders/expiring", q, &members); err != nil {
		return nil, err
	}
	return members, nil
}
