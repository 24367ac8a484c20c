package admincase

import (
	"time"

	"github.com/google/uuid"
)

// CaseStatus is the lifecycle of an agency-authorized matter. Only APPROVED
// cases may anchor appointments; the bridge moves cases forward as their
// appointments progress.
type CaseStatus string

const (
	StatusSubmitted  CaseStatus = "submitted"
	StatusApproved   CaseStatus = "approved"
	StatusInProgress CaseStatus = "in_progress"
	StatusCompleted  CaseStatus = "completed"
	StatusRejected   CaseStatus = "rejected"
)

// Case is a legal/agency-authorized matter that can anchor a
// government-funded appointment.
type Case struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	CaseNumber        string     `db:"case_number" json:"case_number"`
	AuthorizationCode string     `db:"authorization_code" json:"-"`
	Status            CaseStatus `db:"status" json:"status"`
	AgencyName        string     `db:"agency_name" json:"agency_name"`
	AgencyEmail       string     `db:"agency_email" json:"agency_email"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// IsApproved reports whether the case may anchor a new appointment.
func (c *Case) IsApproved() bool {
	return c.Status == StatusApproved
}
