package admincase

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labbook/labbook/internal/platform/apperror"
)

// Bridge validates case preconditions for appointment creation and pushes
// appointment progress back onto the case. The push is one-way and
// best-effort: a failed case update is logged and swallowed so it can never
// fail the appointment operation that triggered it.
type Bridge struct {
	repo Repository
	log  zerolog.Logger
}

func NewBridge(repo Repository, log zerolog.Logger) *Bridge {
	return &Bridge{repo: repo, log: log}
}

// Resolve finds the case by number + authorization code and verifies it is
// approved.
func (b *Bridge) Resolve(ctx context.Context, caseNumber, authCode string) (*Case, error) {
	c, err := b.repo.FindByCaseNumberAndAuthCode(ctx, caseNumber, authCode)
	if err != nil {
		return nil, err
	}
	if !c.IsApproved() {
		return nil, apperror.Statef("case %s is %s, not approved", c.CaseNumber, c.Status)
	}
	return c, nil
}

// PropagateProgress maps an appointment status onto the anchored case:
// sample_collected and testing mark the case in_progress, completed marks
// it completed. Other statuses are ignored.
func (b *Bridge) PropagateProgress(ctx context.Context, caseID uuid.UUID, appointmentStatus string) {
	var next CaseStatus
	switch appointmentStatus {
	case "sample_collected", "testing":
		next = StatusInProgress
	case "completed":
		next = StatusCompleted
	default:
		return
	}

	if err := b.repo.UpdateStatus(ctx, caseID, next); err != nil {
		b.log.Error().Err(err).
			Str("case_id", caseID.String()).
			Str("case_status", string(next)).
			Str("appointment_status", appointmentStatus).
			Msg("case progress update failed")
	}
}
