package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

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

const appointmentCols = `id, customer_id, customer_name, contact_email, service_id, slot_id,
	staff_ids, technician_id, collection_type, status, payment_status, payment_stage,
	total_amount, deposit_amount, amount_paid, case_id, address, scheduled_at,
	version_id, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var address []byte
	err := row.Scan(&a.ID, &a.CustomerID, &a.CustomerName, &a.ContactEmail,
		&a.ServiceID, &a.SlotID, &a.StaffIDs, &a.TechnicianID,
		&a.CollectionType, &a.Status, &a.PaymentStatus, &a.PaymentStage,
		&a.TotalAmount, &a.DepositAmount, &a.AmountPaid, &a.CaseID,
		&address, &a.ScheduledAt, &a.VersionID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(address) > 0 {
		if err := json.Unmarshal(address, &a.Address); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

func marshalAddress(a *Address) ([]byte, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	a.VersionID = 1
	address, err := marshalAddress(a.Address)
	if err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, customer_id, customer_name, contact_email, service_id, slot_id,
			staff_ids, technician_id, collection_type, status, payment_status, payment_stage,
			total_amount, deposit_amount, amount_paid, case_id, address, scheduled_at, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING created_at, updated_at`,
		a.ID, a.CustomerID, a.CustomerName, a.ContactEmail, a.ServiceID, a.SlotID,
		a.StaffIDs, a.TechnicianID, a.CollectionType, a.Status, a.PaymentStatus, a.PaymentStage,
		a.TotalAmount, a.DepositAmount, a.AmountPaid, a.CaseID, address, a.ScheduledAt, a.VersionID).
		Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+appointmentCols+` FROM appointment WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFoundf("appointment %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if a.Checkins, err = r.listCheckins(ctx, id); err != nil {
		return nil, err
	}
	if a.Notes, err = r.listNotes(ctx, id); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *repoPG) Update(ctx context.Context, a *Appointment) error {
	address, err := marshalAddress(a.Address)
	if err != nil {
		return err
	}
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment SET slot_id = $2, staff_ids = $3, technician_id = $4,
			collection_type = $5, status = $6, payment_status = $7, payment_stage = $8,
			total_amount = $9, deposit_amount = $10, amount_paid = $11,
			address = $12, scheduled_at = $13,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $14
		RETURNING version_id, updated_at`,
		a.ID, a.SlotID, a.StaffIDs, a.TechnicianID,
		a.CollectionType, a.Status, a.PaymentStatus, a.PaymentStage,
		a.TotalAmount, a.DepositAmount, a.AmountPaid,
		address, a.ScheduledAt, a.VersionID)
	err = row.Scan(&a.VersionID, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, a.ID); getErr != nil {
			return getErr
		}
		return apperror.Conflictf("appointment %s was modified concurrently", a.ID)
	}
	return err
}

func (r *repoPG) AppendCheckin(ctx context.Context, e *CheckinEntry) error {
	e.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment_checkin (id, appointment_id, staff_id, note)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at`,
		e.ID, e.AppointmentID, e.StaffID, e.Note).Scan(&e.CreatedAt)
}

func (r *repoPG) AppendNote(ctx context.Context, n *Note) error {
	n.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment_note (id, appointment_id, author_id, text)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at`,
		n.ID, n.AppointmentID, n.AuthorID, n.Text).Scan(&n.CreatedAt)
}

func (r *repoPG) listCheckins(ctx context.Context, appointmentID uuid.UUID) ([]CheckinEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, appointment_id, staff_id, note, created_at
		FROM appointment_checkin WHERE appointment_id = $1 ORDER BY created_at`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CheckinEntry
	for rows.Next() {
		var e CheckinEntry
		if err := rows.Scan(&e.ID, &e.AppointmentID, &e.StaffID, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *repoPG) listNotes(ctx context.Context, appointmentID uuid.UUID) ([]Note, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, appointment_id, author_id, text, created_at
		FROM appointment_note WHERE appointment_id = $1 ORDER BY created_at`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.AppointmentID, &n.AuthorID, &n.Text, &n.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (r *repoPG) Search(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.CustomerID != nil {
		where = append(where, "customer_id = "+arg(*f.CustomerID))
	}
	if f.StaffID != nil {
		where = append(where, arg(*f.StaffID)+" = ANY(staff_ids)")
	}
	if f.ServiceID != nil {
		where = append(where, "service_id = "+arg(*f.ServiceID))
	}
	if f.Status != nil {
		where = append(where, "status = "+arg(*f.Status))
	}
	if f.From != nil {
		where = append(where, "scheduled_at >= "+arg(*f.From))
	}
	if f.To != nil {
		where = append(where, "scheduled_at < "+arg(*f.To))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointment WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM appointment WHERE %s ORDER BY created_at DESC LIMIT %s OFFSET %s`,
		appointmentCols, cond, arg(limit), arg(offset))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
