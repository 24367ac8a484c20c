package auditlog

import (
	"context"

	"github.com/google/uuid"
)

// Repository is append-only: entries are never updated or deleted.
type Repository interface {
	Append(ctx context.Context, e *Entry) error
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID, limit, offset int) ([]*Entry, int, error)
}
