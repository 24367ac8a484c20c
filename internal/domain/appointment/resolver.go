package appointment

import (
	"context"

	"github.com/google/uuid"

	"github.com/labbook/labbook/internal/domain/catalog"
	"github.com/labbook/labbook/internal/domain/slot"
	"github.com/labbook/labbook/internal/platform/apperror"
)

// Resolver matches candidate staff to a slot's roster and enforces the
// per-staff, per-slot booking limit. On saturation it searches the roster
// for an alternate member still under the limit and embeds that identity in
// the error instead of failing uninformatively.
type Resolver struct {
	staff catalog.StaffLookup
}

func NewResolver(staff catalog.StaffLookup) *Resolver {
	return &Resolver{staff: staff}
}

// SaturationError reports a saturated candidate plus an alternate roster
// member, when one exists.
type SaturationError struct {
	StaffID   uuid.UUID
	Suggested *uuid.UUID
}

func (e *SaturationError) Error() string {
	if e.Suggested != nil {
		return "staff " + e.StaffID.String() + " has reached the booking limit for this slot; " +
			e.Suggested.String() + " is still available"
	}
	return "staff " + e.StaffID.String() + " has reached the booking limit for this slot"
}

// Validate checks every candidate against the slot's roster and booking
// limit. A candidate off the roster is a Validation error; a saturated
// candidate is a Conflict wrapping a SaturationError.
func (r *Resolver) Validate(ctx context.Context, s *slot.Slot, candidates []uuid.UUID) error {
	for _, id := range candidates {
		if !s.HasStaff(id) {
			return apperror.Validationf("staff %s is not on slot %s's roster", id, s.ID)
		}
		n, err := r.staff.CountAppointments(ctx, id, s.ID)
		if err != nil {
			return err
		}
		if n >= s.AppointmentLimit {
			sat := &SaturationError{StaffID: id}
			if alt, err := r.findAlternate(ctx, s, candidates); err == nil {
				sat.Suggested = alt
			}
			return apperror.Wrap(apperror.KindConflict, sat, "staff saturated")
		}
	}
	return nil
}

// findAlternate scans the slot's full roster for an active member under the
// limit who is not already among the candidates.
func (r *Resolver) findAlternate(ctx context.Context, s *slot.Slot, exclude []uuid.UUID) (*uuid.UUID, error) {
	excluded := make(map[uuid.UUID]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}
	profiles, err := r.staff.FindActiveByIDs(ctx, s.StaffIDs)
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		if excluded[p.ID] {
			continue
		}
		n, err := r.staff.CountAppointments(ctx, p.ID, s.ID)
		if err != nil {
			return nil, err
		}
		if n < s.AppointmentLimit {
			id := p.ID
			return &id, nil
		}
	}
	return nil, nil
}
