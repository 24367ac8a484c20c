package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Status is the appointment lifecycle state. The civil path starts at
// PENDING, the administrative path at AUTHORIZED; both share the downstream
// sample-handling chain. CANCELLED is reachable from any non-terminal state.
type Status string

const (
	StatusPending         Status = "pending"
	StatusAuthorized      Status = "authorized"
	StatusConfirmed       Status = "confirmed"
	StatusSampleAssigned  Status = "sample_assigned"
	StatusSampleCollected Status = "sample_collected"
	StatusSampleReceived  Status = "sample_received"
	StatusTesting         Status = "testing"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
)

var validStatuses = map[Status]bool{
	StatusPending: true, StatusAuthorized: true, StatusConfirmed: true,
	StatusSampleAssigned: true, StatusSampleCollected: true,
	StatusSampleReceived: true, StatusTesting: true,
	StatusCompleted: true, StatusCancelled: true,
}

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CollectionType is how the sample reaches the laboratory.
type CollectionType string

const (
	CollectionSelf           CollectionType = "self"
	CollectionFacility       CollectionType = "facility"
	CollectionHome           CollectionType = "home"
	CollectionAdministrative CollectionType = "administrative"
)

var validCollectionTypes = map[CollectionType]bool{
	CollectionSelf: true, CollectionFacility: true,
	CollectionHome: true, CollectionAdministrative: true,
}

// PaymentStatus tracks how the appointment is funded.
type PaymentStatus string

const (
	PaymentUnpaid           PaymentStatus = "unpaid"
	PaymentDepositPaid      PaymentStatus = "deposit_paid"
	PaymentPaid             PaymentStatus = "paid"
	PaymentGovernmentFunded PaymentStatus = "government_funded"
)

// PaymentStage tracks which installment the customer is on.
type PaymentStage string

const (
	StageNone    PaymentStage = "none"
	StageDeposit PaymentStage = "deposit"
	StageSettled PaymentStage = "settled"
)

// Address is a home-collection address. District must fall inside the
// configured service area.
type Address struct {
	Line     string `json:"line"`
	District string `json:"district"`
}

// CheckinEntry is one staff check-in against an appointment. Append-only.
type CheckinEntry struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AppointmentID uuid.UUID `db:"appointment_id" json:"appointment_id"`
	StaffID       uuid.UUID `db:"staff_id" json:"staff_id"`
	Note          string    `db:"note" json:"note"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Note is one free-text note on an appointment. Append-only.
type Note struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AppointmentID uuid.UUID `db:"appointment_id" json:"appointment_id"`
	AuthorID      string    `db:"author_id" json:"author_id"`
	Text          string    `db:"text" json:"text"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Appointment is one scheduled testing engagement. Monetary fields are
// integer minor units.
type Appointment struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	CustomerID     *string        `db:"customer_id" json:"customer_id,omitempty"`
	CustomerName   string         `db:"customer_name" json:"customer_name"`
	ContactEmail   string         `db:"contact_email" json:"contact_email"`
	ServiceID      uuid.UUID      `db:"service_id" json:"service_id"`
	SlotID         *uuid.UUID     `db:"slot_id" json:"slot_id,omitempty"`
	StaffIDs       []uuid.UUID    `db:"staff_ids" json:"staff_ids"`
	TechnicianID   *uuid.UUID     `db:"technician_id" json:"technician_id,omitempty"`
	CollectionType CollectionType `db:"collection_type" json:"collection_type"`
	Status         Status         `db:"status" json:"status"`
	PaymentStatus  PaymentStatus  `db:"payment_status" json:"payment_status"`
	PaymentStage   PaymentStage   `db:"payment_stage" json:"payment_stage"`
	TotalAmount    int64          `db:"total_amount" json:"total_amount"`
	DepositAmount  int64          `db:"deposit_amount" json:"deposit_amount"`
	AmountPaid     int64          `db:"amount_paid" json:"amount_paid"`
	CaseID         *uuid.UUID     `db:"case_id" json:"case_id,omitempty"`
	Address        *Address       `db:"address" json:"address,omitempty"`
	ScheduledAt    *time.Time     `db:"scheduled_at" json:"scheduled_at,omitempty"`
	Checkins       []CheckinEntry `db:"-" json:"checkins,omitempty"`
	Notes          []Note         `db:"-" json:"notes,omitempty"`
	VersionID      int            `db:"version_id" json:"version_id"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`

	// Warning carries an advisory when a secondary effect failed during
	// the operation that produced this value. Never persisted.
	Warning string `db:"-" json:"warning,omitempty"`
}

// HasStaff reports whether the staff member is bound to the appointment.
func (a *Appointment) HasStaff(id uuid.UUID) bool {
	for _, sid := range a.StaffIDs {
		if sid == id {
			return true
		}
	}
	return false
}

// IsAdministrative reports whether the appointment is anchored to a case.
func (a *Appointment) IsAdministrative() bool {
	return a.CaseID != nil
}

// GetVersionID returns the current version.
func (a *Appointment) GetVersionID() int { return a.VersionID }

// SetVersionID sets the current version.
func (a *Appointment) SetVersionID(v int) { a.VersionID = v }
