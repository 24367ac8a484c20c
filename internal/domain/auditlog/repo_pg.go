package auditlog

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const entryCols = `id, appointment_id, action, old_status, new_status, actor_id, actor_role, detail, created_at`

func (r *repoPG) Append(ctx context.Context, e *Entry) error {
	e.ID = uuid.New()
	detail, err := e.MarshalDetail()
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO appointment_log (id, appointment_id, action, old_status, new_status, actor_id, actor_role, detail)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.AppointmentID, e.Action, e.OldStatus, e.NewStatus, e.ActorID, e.ActorRole, detail)
	return err
}

func (r *repoPG) ListByAppointment(ctx context.Context, appointmentID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM appointment_log WHERE appointment_id = $1`, appointmentID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+entryCols+` FROM appointment_log
		WHERE appointment_id = $1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
		appointmentID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AppointmentID, &e.Action, &e.OldStatus, &e.NewStatus,
			&e.ActorID, &e.ActorRole, &e.RawDetail, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		if err := e.DecodeDetail(); err != nil {
			return nil, 0, err
		}
		items = append(items, &e)
	}
	return items, total, rows.Err()
}
