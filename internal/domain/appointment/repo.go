package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter narrows Search. Nil fields are ignored. Role scoping is applied by
// the service before the filter reaches the repository.
type Filter struct {
	CustomerID *string
	StaffID    *uuid.UUID
	ServiceID  *uuid.UUID
	Status     *Status
	From       *time.Time
	To         *time.Time
}

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	// GetByID loads the appointment with its check-in log and notes.
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Update rewrites the mutable fields, guarded by the appointment's
	// version. A concurrent change surfaces as a Conflict.
	Update(ctx context.Context, a *Appointment) error
	AppendCheckin(ctx context.Context, e *CheckinEntry) error
	AppendNote(ctx context.Context, n *Note) error
	Search(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error)
}
