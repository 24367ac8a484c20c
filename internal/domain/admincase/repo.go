package admincase

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Case, error)
	// FindByCaseNumberAndAuthCode returns the case matching both
	// identifiers, or a NotFound error.
	FindByCaseNumberAndAuthCode(ctx context.Context, caseNumber, authCode string) (*Case, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status CaseStatus) error
}
