// internal/leads/service.go
package leads

import (
	"context"

	"github.com/google/uuid"

	"gymledger/internal/membership"
	"gymledger/pkg/eventstore"
)

// Service defines the interface for the lead funnel.
type Service interface {
	Capture(ctx context.Context, req CaptureRequest) (*Lead, error)
	Get(ctx context.Context, id uuid.UUID) (*Lead, error)
	Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Lead, error)
	List(ctx context.Context, f Filter) ([]*Lead, error)
	Stats(ctx context.Context) (Stats, error)
	Convert(ctx context.Context, id uuid.UUID, req membership.EnrollRequest) (*Lead, *membership.Member, error)
}

// Enroller creates the member a lead converts into.
type Enroller interface {
	Enroll(ctx context.Context, req membership.EnrollRequest) (*membership.Member, error)
}

// Repository persists leads and their event stream. Update fails with
// eventstore.ErrConcurrencyConflict when the stored version is not
// expectedVersion.
type Repository interface {
	Insert(ctx context.Context, l *Lead, event eventstore.Event) error
	Get(ctx context.Context, id uuid.UUID) (*Lead, error)
	Update(ctx context.Context, l *Lead, expectedVersion int, event eventstore.Event) error
	// All returns every lead, newest first.
	All(ctx context.Context) ([]*Lead, error)
}
