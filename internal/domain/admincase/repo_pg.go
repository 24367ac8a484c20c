package admincase

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labbook/labbook/internal/platform/apperror"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const caseCols = `id, case_number, authorization_code, status, agency_name, agency_email, created_at, updated_at`

func (r *repoPG) scanCase(row pgx.Row) (*Case, error) {
	var c Case
	err := row.Scan(&c.ID, &c.CaseNumber, &c.AuthorizationCode, &c.Status,
		&c.AgencyName, &c.AgencyEmail, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Case, error) {
	c, err := r.scanCase(r.pool.QueryRow(ctx, `SELECT `+caseCols+` FROM administrative_case WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFoundf("case %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *repoPG) FindByCaseNumberAndAuthCode(ctx context.Context, caseNumber, authCode string) (*Case, error) {
	c, err := r.scanCase(r.pool.QueryRow(ctx,
		`SELECT `+caseCols+` FROM administrative_case WHERE case_number = $1 AND authorization_code = $2`,
		caseNumber, authCode))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFoundf("no case matches number %s with the given authorization code", caseNumber)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status CaseStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE administrative_case SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFoundf("case %s not found", id)
	}
	return nil
}
