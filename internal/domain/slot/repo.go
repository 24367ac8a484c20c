package slot

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, s *Slot) error
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	// Update rewrites windows, roster and limit. The write is guarded by the
	// slot's version: a concurrent change surfaces as a Conflict.
	Update(ctx context.Context, s *Slot) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	// IncrementAssigned adds one to assigned_count only while capacity
	// remains, deriving the new status in the same statement. Returns
	// Conflict when the slot is already full.
	IncrementAssigned(ctx context.Context, id uuid.UUID) (*Slot, error)
	// DecrementAssigned releases one assignment, restoring AVAILABLE when a
	// booked slot drops back under its limit.
	DecrementAssigned(ctx context.Context, id uuid.UUID) (*Slot, error)
	// ListByStaff returns every slot that has the staff member on its
	// roster; callers filter windows by date.
	ListByStaff(ctx context.Context, staffID uuid.UUID) ([]*Slot, error)
	List(ctx context.Context, limit, offset int) ([]*Slot, int, error)
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Slot, int, error)
}
