package catalog

import (
	"context"

	"github.com/google/uuid"
)

// ServiceLookup is the catalog contract the booking core consumes.
type ServiceLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*TestService, error)
}

// StaffLookup resolves staff profiles and per-slot booking counts.
type StaffLookup interface {
	// FindActiveByIDs returns the active profiles for ids. Missing or
	// inactive ids are simply absent from the result; callers decide
	// whether that is an error.
	FindActiveByIDs(ctx context.Context, ids []uuid.UUID) ([]*StaffProfile, error)
	// FindByUserID resolves the staff profile belonging to an
	// authenticated user, for ownership checks and search scoping.
	FindByUserID(ctx context.Context, userID string) (*StaffProfile, error)
	// CountAppointments counts non-cancelled appointments binding the
	// given staff member to the given slot.
	CountAppointments(ctx context.Context, staffID, slotID uuid.UUID) (int, error)
}
