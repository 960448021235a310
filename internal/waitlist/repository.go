package waitlist

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Filter struct {
	Statuses      []Status
	PatientID     *uuid.UUID
	DesiredDate   *time.Time
	ExpiresBefore *time.Time
	OfferedStart  *time.Time
	Limit         int
	Offset        int
}

// Repository persists waitlist entries. List returns entries ordered by
// CreatedAt ascending.
type Repository interface {
	Insert(ctx context.Context, e *Entry) error
	Get(ctx context.Context, id uuid.UUID) (*Entry, error)
	// Update stores e only if the stored status is still from. Otherwise it
	// returns ErrStaleEntry.
	Update(ctx context.Context, e *Entry, from Status) error
	List(ctx context.Context, f Filter) ([]Entry, error)
}
