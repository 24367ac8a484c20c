package auditlog

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service writes and reads the appointment audit trail. A failed append is
// logged and swallowed so traceability problems never abort the operation
// being recorded.
type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// Record appends an entry, logging rather than returning failures.
func (s *Service) Record(ctx context.Context, e *Entry) {
	if err := s.repo.Append(ctx, e); err != nil {
		s.log.Error().Err(err).
			Str("appointment_id", e.AppointmentID.String()).
			Str("action", string(e.Action)).
			Msg("audit append failed")
	}
}

func (s *Service) ListByAppointment(ctx context.Context, appointmentID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	return s.repo.ListByAppointment(ctx, appointmentID, limit, offset)
}
