package catalog

import (
	"time"

	"github.com/google/uuid"
)

// ServiceKind separates consumer-booked tests from agency-authorized ones.
type ServiceKind string

const (
	KindCivil          ServiceKind = "civil"
	KindAdministrative ServiceKind = "administrative"
)

// TestService is a bookable laboratory test from the read-only catalog.
type TestService struct {
	ID               uuid.UUID   `db:"id" json:"id"`
	Name             string      `db:"name" json:"name"`
	Kind             ServiceKind `db:"kind" json:"kind"`
	Price            int64       `db:"price" json:"price"`
	EstimatedMinutes int         `db:"estimated_minutes" json:"estimated_minutes"`
	Active           bool        `db:"active" json:"active"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at" json:"updated_at"`
}

// IsAdministrative reports whether booking this service requires an
// approved administrative case.
func (s *TestService) IsAdministrative() bool {
	return s.Kind == KindAdministrative
}

// StaffProfile is a read-only view of a staff member's booking identity.
type StaffProfile struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Email     *string   `db:"email" json:"email,omitempty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
