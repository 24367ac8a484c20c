package slot

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labbook/labbook/internal/domain/catalog"
	"github.com/labbook/labbook/internal/platform/apperror"
)

// Allocator owns slot entities: creation, overlap validation, capacity
// bookkeeping and status derivation.
type Allocator struct {
	repo  Repository
	staff catalog.StaffLookup
	log   zerolog.Logger
}

func NewAllocator(repo Repository, staff catalog.StaffLookup, log zerolog.Logger) *Allocator {
	return &Allocator{repo: repo, staff: staff, log: log}
}

// CreateInput describes a new slot.
type CreateInput struct {
	Windows          []TimeWindow `json:"windows"`
	StaffIDs         []uuid.UUID  `json:"staff_ids"`
	AppointmentLimit int          `json:"appointment_limit"`
}

func (a *Allocator) Create(ctx context.Context, in CreateInput) (*Slot, error) {
	if err := a.validateInput(ctx, in, uuid.Nil); err != nil {
		return nil, err
	}

	s := &Slot{
		StaffIDs:         in.StaffIDs,
		AppointmentLimit: in.AppointmentLimit,
		AssignedCount:    0,
		Status:           StatusAvailable,
		Windows:          in.Windows,
	}
	if err := a.repo.Create(ctx, s); err != nil {
		return nil, err
	}
	a.log.Info().Str("slot_id", s.ID.String()).Int("limit", s.AppointmentLimit).Msg("slot created")
	return s, nil
}

// Update re-validates windows, roster and limit, excluding the slot's own
// prior windows from the overlap scan.
func (a *Allocator) Update(ctx context.Context, id uuid.UUID, in CreateInput) (*Slot, error) {
	s, err := a.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := a.validateInput(ctx, in, id); err != nil {
		return nil, err
	}
	if in.AppointmentLimit < s.AssignedCount {
		return nil, apperror.Validationf("appointment limit %d is below current assignments %d",
			in.AppointmentLimit, s.AssignedCount)
	}

	s.StaffIDs = in.StaffIDs
	s.AppointmentLimit = in.AppointmentLimit
	s.Windows = in.Windows
	if err := a.repo.Update(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (a *Allocator) validateInput(ctx context.Context, in CreateInput, excludeID uuid.UUID) error {
	if len(in.Windows) == 0 {
		return apperror.Validationf("at least one time window is required")
	}
	if len(in.StaffIDs) == 0 {
		return apperror.Validationf("at least one staff member is required")
	}
	if in.AppointmentLimit < 1 {
		return apperror.Validationf("appointment limit must be at least 1")
	}
	for _, w := range in.Windows {
		if err := w.Validate(); err != nil {
			return apperror.Wrap(apperror.KindValidation, err, "invalid time window")
		}
	}

	profiles, err := a.staff.FindActiveByIDs(ctx, in.StaffIDs)
	if err != nil {
		return err
	}
	if missing := missingStaff(in.StaffIDs, profiles); len(missing) > 0 {
		return apperror.NotFoundf("staff not found or inactive: %s", strings.Join(missing, ", "))
	}

	// Overlap scan: no two slots sharing a staff member may have
	// intersecting windows on the same date.
	for _, staffID := range in.StaffIDs {
		existing, err := a.repo.ListByStaff(ctx, staffID)
		if err != nil {
			return err
		}
		for _, other := range existing {
			if other.ID == excludeID {
				continue
			}
			for _, w := range in.Windows {
				for _, ow := range other.Windows {
					if w.Overlaps(ow) {
						return apperror.Conflictf(
							"window %s %02d:%02d-%02d:%02d overlaps slot %s for staff %s",
							w.Date, w.StartHour, w.StartMinute, w.EndHour, w.EndMinute,
							other.ID, staffID)
					}
				}
			}
		}
	}
	return nil
}

func missingStaff(ids []uuid.UUID, profiles []*catalog.StaffProfile) []string {
	found := make(map[uuid.UUID]bool, len(profiles))
	for _, p := range profiles {
		found[p.ID] = true
	}
	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id.String())
		}
	}
	return missing
}

// IncrementAssignment atomically binds one more appointment to the slot.
func (a *Allocator) IncrementAssignment(ctx context.Context, slotID uuid.UUID) (*Slot, error) {
	s, err := a.repo.IncrementAssigned(ctx, slotID)
	if err != nil {
		return nil, err
	}
	a.log.Debug().Str("slot_id", slotID.String()).
		Int("assigned", s.AssignedCount).Int("limit", s.AppointmentLimit).
		Msg("slot assignment added")
	return s, nil
}

// DecrementAssignment releases one appointment binding.
func (a *Allocator) DecrementAssignment(ctx context.Context, slotID uuid.UUID) (*Slot, error) {
	s, err := a.repo.DecrementAssigned(ctx, slotID)
	if err != nil {
		return nil, err
	}
	a.log.Debug().Str("slot_id", slotID.String()).
		Int("assigned", s.AssignedCount).
		Msg("slot assignment released")
	return s, nil
}

// ChangeStatus edits a slot's status directly. A booked slot's occupancy
// must be released through DecrementAssignment, so every transition away
// from BOOKED is refused here.
func (a *Allocator) ChangeStatus(ctx context.Context, slotID uuid.UUID, status Status) (*Slot, error) {
	if !validStatuses[status] {
		return nil, apperror.Validationf("invalid slot status %q", status)
	}
	s, err := a.repo.GetByID(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if s.Status == StatusBooked && status != StatusBooked {
		return nil, apperror.Statef("slot %s is booked; release assignments instead of editing status", slotID)
	}
	if err := a.repo.UpdateStatus(ctx, slotID, status); err != nil {
		return nil, err
	}
	s.Status = status
	return s, nil
}

func (a *Allocator) Get(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return a.repo.GetByID(ctx, id)
}

func (a *Allocator) List(ctx context.Context, limit, offset int) ([]*Slot, int, error) {
	return a.repo.List(ctx, limit, offset)
}

// ListAvailable returns slots still open for booking.
func (a *Allocator) ListAvailable(ctx context.Context, limit, offset int) ([]*Slot, int, error) {
	return a.repo.ListByStatus(ctx, StatusAvailable, limit, offset)
}
