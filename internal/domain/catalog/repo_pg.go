package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labbook/labbook/internal/platform/apperror"
)

type serviceRepoPG struct{ pool *pgxpool.Pool }

func NewServiceRepoPG(pool *pgxpool.Pool) ServiceLookup { return &serviceRepoPG{pool: pool} }

const serviceCols = `id, name, kind, price, estimated_minutes, active, created_at, updated_at`

func (r *serviceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TestService, error) {
	var s TestService
	err := r.pool.QueryRow(ctx, `SELECT `+serviceCols+` FROM test_service WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.Kind, &s.Price, &s.EstimatedMinutes, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFoundf("service %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

type staffRepoPG struct{ pool *pgxpool.Pool }

func NewStaffRepoPG(pool *pgxpool.Pool) StaffLookup { return &staffRepoPG{pool: pool} }

const staffCols = `id, user_id, full_name, email, active, created_at, updated_at`

func (r *staffRepoPG) FindActiveByIDs(ctx context.Context, ids []uuid.UUID) ([]*StaffProfile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+staffCols+` FROM staff_profile WHERE id = ANY($1) AND active`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*StaffProfile
	for rows.Next() {
		var p StaffProfile
		if err := rows.Scan(&p.ID, &p.UserID, &p.FullName, &p.Email, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

func (r *staffRepoPG) FindByUserID(ctx context.Context, userID string) (*StaffProfile, error) {
	var p StaffProfile
	err := r.pool.QueryRow(ctx,
		`SELECT `+staffCols+` FROM staff_profile WHERE user_id = $1`, userID).
		Scan(&p.ID, &p.UserID, &p.FullName, &p.Email, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFoundf("no staff profile for user %s", userID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *staffRepoPG) CountAppointments(ctx context.Context, staffID, slotID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM appointment
		WHERE slot_id = $1 AND $2 = ANY(staff_ids) AND status <> 'cancelled'`,
		slotID, staffID).Scan(&n)
	return n, err
}
