// Package payment records payment references for appointments. Gateway
// processing is out of scope; this core only persists the record.
package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Method string

const (
	MethodGovernmentFunded Method = "government_funded"
	MethodDeposit          Method = "deposit"
	MethodSettlement       Method = "settlement"
)

type Payment struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AppointmentID uuid.UUID `db:"appointment_id" json:"appointment_id"`
	Amount        int64     `db:"amount" json:"amount"`
	Method        Method    `db:"method" json:"method"`
	RecordedBy    string    `db:"recorded_by" json:"recorded_by"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Recorder is the contract the appointment service consumes.
type Recorder interface {
	// CreateAdministrativePayment records the zero-amount, government-funded
	// payment that accompanies a case appointment.
	CreateAdministrativePayment(ctx context.Context, appointmentID uuid.UUID, actorID string) (*Payment, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Recorder { return &repoPG{pool: pool} }

func (r *repoPG) CreateAdministrativePayment(ctx context.Context, appointmentID uuid.UUID, actorID string) (*Payment, error) {
	p := &Payment{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		Amount:        0,
		Method:        MethodGovernmentFunded,
		RecordedBy:    actorID,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO payment (id, appointment_id, amount, method, recorded_by)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		p.ID, p.AppointmentID, p.Amount, p.Method, p.RecordedBy).Scan(&p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}
