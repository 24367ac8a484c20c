package slot

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labbook/labbook/internal/platform/apperror"
	"github.com/labbook/labbook/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const slotCols = `id, staff_ids, appointment_limit, assigned_count, status, windows, version_id, created_at, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var windows []byte
	err := row.Scan(&s.ID, &s.StaffIDs, &s.AppointmentLimit, &s.AssignedCount,
		&s.Status, &windows, &s.VersionID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(windows, &s.Windows); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) Create(ctx context.Context, s *Slot) error {
	s.ID = uuid.New()
	s.VersionID = 1
	windows, err := json.Marshal(s.Windows)
	if err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO slot (id, staff_ids, appointment_limit, assigned_count, status, windows, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		s.ID, s.StaffIDs, s.AppointmentLimit, s.AssignedCount, s.Status, windows, s.VersionID).
		Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	s, err := scanSlot(r.conn(ctx).QueryRow(ctx, `SELECT `+slotCols+` FROM slot WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFoundf("slot %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *repoPG) Update(ctx context.Context, s *Slot) error {
	windows, err := json.Marshal(s.Windows)
	if err != nil {
		return err
	}
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE slot SET staff_ids = $2, appointment_limit = $3, windows = $4,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $5
		RETURNING version_id, updated_at`,
		s.ID, s.StaffIDs, s.AppointmentLimit, windows, s.VersionID)
	err = row.Scan(&s.VersionID, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.Conflictf("slot %s was modified concurrently", s.ID)
	}
	return err
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	var v int
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE slot SET status = $2, version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING version_id`, id, status).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.NotFoundf("slot %s not found", id)
	}
	return err
}

func (r *repoPG) IncrementAssigned(ctx context.Context, id uuid.UUID) (*Slot, error) {
	s, err := scanSlot(r.conn(ctx).QueryRow(ctx, `
		UPDATE slot SET
			assigned_count = assigned_count + 1,
			status = CASE
				WHEN assigned_count + 1 >= appointment_limit THEN 'booked'
				ELSE 'available'
			END,
			version_id = version_id + 1,
			updated_at = NOW()
		WHERE id = $1 AND assigned_count < appointment_limit
		RETURNING `+slotCols, id))
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish a missing slot from one at capacity.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, apperror.Conflictf("slot %s is at capacity", id)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *repoPG) DecrementAssigned(ctx context.Context, id uuid.UUID) (*Slot, error) {
	s, err := scanSlot(r.conn(ctx).QueryRow(ctx, `
		UPDATE slot SET
			assigned_count = assigned_count - 1,
			status = CASE
				WHEN status = 'booked' AND assigned_count - 1 < appointment_limit THEN 'available'
				ELSE status
			END,
			version_id = version_id + 1,
			updated_at = NOW()
		WHERE id = $1 AND assigned_count > 0
		RETURNING `+slotCols, id))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, apperror.Conflictf("slot %s has no assignments to release", id)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *repoPG) ListByStaff(ctx context.Context, staffID uuid.UUID) ([]*Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+slotCols+` FROM slot WHERE $1 = ANY(staff_ids)`, staffID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSlots(rows)
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Slot, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM slot`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+slotCols+` FROM slot ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := collectSlots(rows)
	return items, total, err
}

func (r *repoPG) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Slot, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM slot WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+slotCols+` FROM slot WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := collectSlots(rows)
	return items, total, err
}

func collectSlots(rows pgx.Rows) ([]*Slot, error) {
	var items []*Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}
