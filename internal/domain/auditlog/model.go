package auditlog

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Action is the kind of state-changing operation an entry records.
type Action string

const (
	ActionCreated         Action = "created"
	ActionStaffAssigned   Action = "staff_assigned"
	ActionStaffUnassigned Action = "staff_unassigned"
	ActionConfirmed       Action = "confirmed"
	ActionCheckedIn       Action = "checked_in"
	ActionNoteAdded       Action = "note_added"
	ActionStatusChanged   Action = "status_changed"
	ActionPaymentRecorded Action = "payment_recorded"
)

// Detail is the closed set of per-action payloads. Each action kind carries
// its own shape; there is no open metadata map.
type Detail interface {
	isDetail()
}

// CreationDetail records what a new appointment was bound to.
type CreationDetail struct {
	ServiceID uuid.UUID  `json:"service_id"`
	SlotID    *uuid.UUID `json:"slot_id,omitempty"`
	CaseID    *uuid.UUID `json:"case_id,omitempty"`
	Warning   string     `json:"warning,omitempty"`
}

// StaffDetail records a staff binding change.
type StaffDetail struct {
	StaffIDs  []uuid.UUID `json:"staff_ids"`
	Suggested *uuid.UUID  `json:"suggested,omitempty"`
}

// ConfirmationDetail records the slot and staff member that confirmed.
type ConfirmationDetail struct {
	SlotID  uuid.UUID `json:"slot_id"`
	StaffID uuid.UUID `json:"staff_id"`
}

// NoteDetail carries the free text of check-ins and notes.
type NoteDetail struct {
	Note string `json:"note"`
}

// PaymentDetail records a payment reference created as a side effect.
type PaymentDetail struct {
	PaymentID uuid.UUID `json:"payment_id"`
	Amount    int64     `json:"amount"`
}

func (CreationDetail) isDetail()     {}
func (StaffDetail) isDetail()        {}
func (ConfirmationDetail) isDetail() {}
func (NoteDetail) isDetail()         {}
func (PaymentDetail) isDetail()      {}

// Entry is one immutable audit record. Never updated or deleted.
type Entry struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	AppointmentID uuid.UUID       `db:"appointment_id" json:"appointment_id"`
	Action        Action          `db:"action" json:"action"`
	OldStatus     *string         `db:"old_status" json:"old_status,omitempty"`
	NewStatus     *string         `db:"new_status" json:"new_status,omitempty"`
	ActorID       string          `db:"actor_id" json:"actor_id"`
	ActorRole     string          `db:"actor_role" json:"actor_role"`
	Detail        Detail          `db:"-" json:"detail,omitempty"`
	RawDetail     json.RawMessage `db:"detail" json:"-"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// MarshalDetail serializes the typed detail for storage. Nil details store
// as SQL NULL.
func (e *Entry) MarshalDetail() ([]byte, error) {
	if e.Detail == nil {
		return nil, nil
	}
	return json.Marshal(e.Detail)
}

// DecodeDetail rebuilds the typed detail from the stored payload based on
// the entry's action.
func (e *Entry) DecodeDetail() error {
	if len(e.RawDetail) == 0 {
		return nil
	}
	var d Detail
	switch e.Action {
	case ActionCreated:
		d = &CreationDetail{}
	case ActionStaffAssigned, ActionStaffUnassigned:
		d = &StaffDetail{}
	case ActionConfirmed:
		d = &ConfirmationDetail{}
	case ActionCheckedIn, ActionNoteAdded:
		d = &NoteDetail{}
	case ActionPaymentRecorded:
		d = &PaymentDetail{}
	default:
		return nil
	}
	if err := json.Unmarshal(e.RawDetail, d); err != nil {
		return err
	}
	e.Detail = d
	return nil
}
