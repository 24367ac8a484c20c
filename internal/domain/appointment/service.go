package appointment

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labbook/labbook/internal/config"
	"github.com/labbook/labbook/internal/domain/admincase"
	"github.com/labbook/labbook/internal/domain/auditlog"
	"github.com/labbook/labbook/internal/domain/catalog"
	"github.com/labbook/labbook/internal/domain/payment"
	"github.com/labbook/labbook/internal/domain/slot"
	"github.com/labbook/labbook/internal/platform/apperror"
	"github.com/labbook/labbook/internal/platform/auth"
	"github.com/labbook/labbook/internal/platform/notification"
	"github.com/labbook/labbook/internal/platform/redislock"
)

// SlotService is the slice of the slot allocator the lifecycle manager
// consumes.
type SlotService interface {
	Get(ctx context.Context, id uuid.UUID) (*slot.Slot, error)
	IncrementAssignment(ctx context.Context, slotID uuid.UUID) (*slot.Slot, error)
	DecrementAssignment(ctx context.Context, slotID uuid.UUID) (*slot.Slot, error)
}

// CaseBridge gates administrative appointments on approved cases and pushes
// progress back onto them.
type CaseBridge interface {
	Resolve(ctx context.Context, caseNumber, authCode string) (*admincase.Case, error)
	PropagateProgress(ctx context.Context, caseID uuid.UUID, appointmentStatus string)
}

// TxRunner executes fn inside a storage transaction carried on the context.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// PassthroughTx runs fn on the bare context, for wiring without a store.
func PassthroughTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Actor identifies the authenticated caller of a lifecycle operation.
type Actor struct {
	ID   string
	Role string
}

// ManagerDeps collects the lifecycle manager's collaborators. Everything is
// injected; the manager constructs nothing itself.
type ManagerDeps struct {
	Repo     Repository
	Slots    SlotService
	Services catalog.ServiceLookup
	Staff    catalog.StaffLookup
	Resolver *Resolver
	Bridge   CaseBridge
	Payments payment.Recorder
	Notify   notification.Dispatcher
	Audit    *auditlog.Service
	Locker   redislock.SlotLocker
	Config   *config.Config
	Tx       TxRunner
	Log      zerolog.Logger
}

// Manager owns the appointment lifecycle: creation on the civil or
// administrative path, staff assignment, confirmation, check-in, notes and
// status transitions.
type Manager struct {
	repo     Repository
	slots    SlotService
	services catalog.ServiceLookup
	staff    catalog.StaffLookup
	resolver *Resolver
	bridge   CaseBridge
	payments payment.Recorder
	notify   notification.Dispatcher
	audit    *auditlog.Service
	locker   redislock.SlotLocker
	cfg      *config.Config
	tx       TxRunner
	log      zerolog.Logger
}

func NewManager(d ManagerDeps) *Manager {
	return &Manager{
		repo:     d.Repo,
		slots:    d.Slots,
		services: d.Services,
		staff:    d.Staff,
		resolver: d.Resolver,
		bridge:   d.Bridge,
		payments: d.Payments,
		notify:   d.Notify,
		audit:    d.Audit,
		locker:   d.Locker,
		cfg:      d.Config,
		tx:       d.Tx,
		log:      d.Log,
	}
}

// CreateRequest is a booking request on either path. CaseNumber and
// AuthorizationCode are required when the service is administrative.
type CreateRequest struct {
	ServiceID         uuid.UUID      `json:"service_id"`
	SlotID            *uuid.UUID     `json:"slot_id,omitempty"`
	CollectionType    CollectionType `json:"collection_type"`
	ScheduledAt       *time.Time     `json:"scheduled_at,omitempty"`
	Address           *Address       `json:"address,omitempty"`
	CustomerName      string         `json:"customer_name"`
	ContactEmail      string         `json:"contact_email"`
	CaseNumber        string         `json:"case_number,omitempty"`
	AuthorizationCode string         `json:"authorization_code,omitempty"`
}

// Create books an appointment. The appointment row is persisted first, the
// slot capacity incremented second, and secondary effects (payment record,
// notification) last, isolated so their failure cannot unwind the first two.
func (m *Manager) Create(ctx context.Context, actor Actor, req CreateRequest) (*Appointment, error) {
	if !validCollectionTypes[req.CollectionType] {
		return nil, apperror.Validationf("invalid collection type %q", req.CollectionType)
	}
	svc, err := m.services.GetByID(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}

	a := &Appointment{
		CustomerName:   req.CustomerName,
		ContactEmail:   req.ContactEmail,
		ServiceID:      svc.ID,
		CollectionType: req.CollectionType,
		Status:         StatusPending,
		PaymentStatus:  PaymentUnpaid,
		PaymentStage:   StageNone,
		Address:        req.Address,
		ScheduledAt:    req.ScheduledAt,
	}

	var c *admincase.Case
	if svc.IsAdministrative() {
		if req.CaseNumber == "" || req.AuthorizationCode == "" {
			return nil, apperror.Validationf("administrative service requires case_number and authorization_code")
		}
		if c, err = m.bridge.Resolve(ctx, req.CaseNumber, req.AuthorizationCode); err != nil {
			return nil, err
		}
		// A case-anchored appointment is always collected at the
		// facility and government funded.
		a.CaseID = &c.ID
		a.CollectionType = CollectionFacility
		a.Status = StatusAuthorized
		a.PaymentStatus = PaymentGovernmentFunded
		a.ContactEmail = c.AgencyEmail
		if a.CustomerName == "" {
			a.CustomerName = c.AgencyName
		}
	} else {
		if actor.ID != "" && actor.Role == auth.RoleCustomer {
			id := actor.ID
			a.CustomerID = &id
		}
	}

	if a.CollectionType == CollectionHome && req.SlotID == nil {
		if a.Address == nil {
			return nil, apperror.Validationf("home collection requires an address")
		}
		if !m.cfg.ServesDistrict(a.Address.District) {
			return nil, apperror.Validationf("district %q is outside the home collection service area", a.Address.District)
		}
	}

	if req.SlotID == nil {
		a.TotalAmount, a.DepositAmount = m.price(svc, a.ScheduledAt)
		if err := m.repo.Create(ctx, a); err != nil {
			return nil, err
		}
	} else {
		err = m.locker.WithSlotLock(ctx, *req.SlotID, func(ctx context.Context) error {
			s, err := m.slots.Get(ctx, *req.SlotID)
			if err != nil {
				return err
			}
			if s.Status != slot.StatusAvailable {
				return apperror.Conflictf("slot %s is not available", s.ID)
			}
			a.SlotID = &s.ID
			a.StaffIDs = s.StaffIDs
			if a.ScheduledAt == nil && len(s.Windows) > 0 {
				if start, err := s.Windows[0].StartTime(time.Local); err == nil {
					a.ScheduledAt = &start
				}
			}
			a.TotalAmount, a.DepositAmount = m.price(svc, a.ScheduledAt)
			return m.tx(ctx, func(ctx context.Context) error {
				if err := m.repo.Create(ctx, a); err != nil {
					return err
				}
				_, err := m.slots.IncrementAssignment(ctx, s.ID)
				return err
			})
		})
		if err != nil {
			return nil, lockErr(err)
		}
	}

	m.runCreationSideEffects(ctx, actor, a, svc, c)

	detail := &auditlog.CreationDetail{ServiceID: svc.ID, SlotID: a.SlotID, CaseID: a.CaseID, Warning: a.Warning}
	m.audit.Record(ctx, &auditlog.Entry{
		AppointmentID: a.ID,
		Action:        auditlog.ActionCreated,
		NewStatus:     statusPtr(a.Status),
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
		Detail:        detail,
	})
	m.log.Info().Str("appointment_id", a.ID.String()).
		Str("status", string(a.Status)).
		Int64("total_amount", a.TotalAmount).
		Msg("appointment created")
	return a, nil
}

// price computes the total with the off-hours surcharge and the deposit.
// With no scheduled time there is nothing to surcharge against.
func (m *Manager) price(svc *catalog.TestService, at *time.Time) (total, deposit int64) {
	total = svc.Price
	if at != nil && !m.cfg.InBusinessHours(*at) {
		total = int64(math.Round(float64(svc.Price) * (1 + m.cfg.OffHoursSurcharge)))
	}
	deposit = int64(math.Round(float64(total) * m.cfg.DepositRate))
	return total, deposit
}

// runCreationSideEffects records the administrative payment and sends the
// booking notification. Failures attach an advisory warning and are never
// allowed to fail the creation.
func (m *Manager) runCreationSideEffects(ctx context.Context, actor Actor, a *Appointment, svc *catalog.TestService, c *admincase.Case) {
	if a.IsAdministrative() {
		p, err := m.payments.CreateAdministrativePayment(ctx, a.ID, actor.ID)
		if err != nil {
			m.log.Error().Err(err).Str("appointment_id", a.ID.String()).
				Msg("administrative payment record failed")
			m.addWarning(a, "administrative payment record failed")
		} else {
			m.audit.Record(ctx, &auditlog.Entry{
				AppointmentID: a.ID,
				Action:        auditlog.ActionPaymentRecorded,
				ActorID:       actor.ID,
				ActorRole:     actor.Role,
				Detail:        &auditlog.PaymentDetail{PaymentID: p.ID, Amount: p.Amount},
			})
		}
		data := map[string]string{"case_number": c.CaseNumber, "date": scheduleLabel(a)}
		m.sendSoft(ctx, a, c.AgencyEmail, notification.TemplateCaseAppointment, data)
		return
	}

	data := map[string]string{
		"customer_name":  a.CustomerName,
		"service_name":   svc.Name,
		"date":           scheduleLabel(a),
		"total_amount":   formatAmount(a.TotalAmount),
		"deposit_amount": formatAmount(a.DepositAmount),
	}
	m.sendSoft(ctx, a, a.ContactEmail, notification.TemplateAppointmentCreated, data)
}

// AssignStaff binds staff to a pending appointment. Slot-bound appointments
// route every candidate through the resolver's roster and limit checks.
func (m *Manager) AssignStaff(ctx context.Context, actor Actor, id uuid.UUID, staffIDs []uuid.UUID) (*Appointment, error) {
	if len(staffIDs) == 0 {
		return nil, apperror.Validationf("at least one staff member is required")
	}
	a, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusPending && a.Status != StatusAuthorized {
		return nil, apperror.Statef("staff can only be assigned while pending, appointment is %s", a.Status)
	}

	profiles, err := m.staff.FindActiveByIDs(ctx, staffIDs)
	if err != nil {
		return nil, err
	}
	if len(profiles) != len(staffIDs) {
		return nil, apperror.NotFoundf("one or more staff members not found or inactive")
	}

	if a.SlotID != nil {
		s, err := m.slots.Get(ctx, *a.SlotID)
		if err != nil {
			return nil, err
		}
		if err := m.resolver.Validate(ctx, s, staffIDs); err != nil {
			return nil, err
		}
	}

	a.StaffIDs = staffIDs
	if err := m.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	m.audit.Record(ctx, &auditlog.Entry{
		AppointmentID: a.ID,
		Action:        auditlog.ActionStaffAssigned,
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
		Detail:        &auditlog.StaffDetail{StaffIDs: staffIDs},
	})
	return a, nil
}

// Confirm moves a pending appointment to CONFIRMED against an available
// slot. The confirming staff member must be assigned to the appointment and
// must be the caller.
func (m *Manager) Confirm(ctx context.Context, actor Actor, id, slotID, staffID uuid.UUID) (*Appointment, error) {
	a, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.HasStaff(staffID) {
		return nil, apperror.Forbiddenf("staff %s is not assigned to appointment %s", staffID, id)
	}
	if err := m.requireSelf(ctx, actor, staffID); err != nil {
		return nil, err
	}
	if a.Status != StatusPending && a.Status != StatusAuthorized {
		return nil, apperror.Statef("appointment %s is %s, not pending", id, a.Status)
	}

	old := a.Status
	err = m.locker.WithSlotLock(ctx, slotID, func(ctx context.Context) error {
		s, err := m.slots.Get(ctx, slotID)
		if err != nil {
			return err
		}
		if s.Status != slot.StatusAvailable {
			return apperror.Conflictf("slot %s is not available", slotID)
		}
		// A slot bound at creation already consumed its capacity. Confirming
		// against a different slot releases the superseded one.
		alreadyBound := a.SlotID != nil && *a.SlotID == slotID
		var superseded *uuid.UUID
		if a.SlotID != nil && !alreadyBound {
			superseded = a.SlotID
		}
		a.SlotID = &slotID
		a.Status = StatusConfirmed
		return m.tx(ctx, func(ctx context.Context) error {
			if err := m.repo.Update(ctx, a); err != nil {
				return err
			}
			if alreadyBound {
				return nil
			}
			if superseded != nil {
				if _, err := m.slots.DecrementAssignment(ctx, *superseded); err != nil {
					return err
				}
			}
			_, err := m.slots.IncrementAssignment(ctx, slotID)
			return err
		})
	})
	if err != nil {
		return nil, lockErr(err)
	}

	m.audit.Record(ctx, &auditlog.Entry{
		AppointmentID: a.ID,
		Action:        auditlog.ActionConfirmed,
		OldStatus:     statusPtr(old),
		NewStatus:     statusPtr(a.Status),
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
		Detail:        &auditlog.ConfirmationDetail{SlotID: slotID, StaffID: staffID},
	})
	m.sendSoft(ctx, a, a.ContactEmail, notification.TemplateAppointmentConfirmed, map[string]string{
		"customer_name": a.CustomerName,
		"date":          scheduleLabel(a),
	})
	return a, nil
}

// Checkin appends a check-in log entry without changing status.
func (m *Manager) Checkin(ctx context.Context, actor Actor, id, staffID uuid.UUID, note string) (*CheckinEntry, error) {
	a, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.HasStaff(staffID) {
		return nil, apperror.Forbiddenf("staff %s is not assigned to appointment %s", staffID, id)
	}
	if err := m.requireSelf(ctx, actor, staffID); err != nil {
		return nil, err
	}

	e := &CheckinEntry{AppointmentID: id, StaffID: staffID, Note: note}
	if err := m.repo.AppendCheckin(ctx, e); err != nil {
		return nil, err
	}
	m.audit.Record(ctx, &auditlog.Entry{
		AppointmentID: id,
		Action:        auditlog.ActionCheckedIn,
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
		Detail:        &auditlog.NoteDetail{Note: note},
	})
	return e, nil
}

// AddNote appends a free-text note. No precondition on status.
func (m *Manager) AddNote(ctx context.Context, actor Actor, id uuid.UUID, text string) (*Note, error) {
	if text == "" {
		return nil, apperror.Validationf("note text is required")
	}
	if _, err := m.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	n := &Note{AppointmentID: id, AuthorID: actor.ID, Text: text}
	if err := m.repo.AppendNote(ctx, n); err != nil {
		return nil, err
	}
	m.audit.Record(ctx, &auditlog.Entry{
		AppointmentID: id,
		Action:        auditlog.ActionNoteAdded,
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
		Detail:        &auditlog.NoteDetail{Note: text},
	})
	return n, nil
}

// UpdateStatus is the internal override entry point. It validates the
// target is a known status and refuses to leave terminal states, but does
// not enforce the ordered chain; the ordered transitions live in Confirm
// and friends. Case progress propagates best-effort.
func (m *Manager) UpdateStatus(ctx context.Context, actor Actor, id uuid.UUID, next Status, technicianID *uuid.UUID) (*Appointment, error) {
	if !validStatuses[next] {
		return nil, apperror.Validationf("invalid appointment status %q", next)
	}
	a, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.IsTerminal() {
		return nil, apperror.Statef("appointment %s is %s and cannot change status", id, a.Status)
	}

	old := a.Status
	a.Status = next
	if next == StatusSampleAssigned && technicianID != nil {
		a.TechnicianID = technicianID
	}
	if err := m.repo.Update(ctx, a); err != nil {
		return nil, err
	}

	m.audit.Record(ctx, &auditlog.Entry{
		AppointmentID: a.ID,
		Action:        auditlog.ActionStatusChanged,
		OldStatus:     statusPtr(old),
		NewStatus:     statusPtr(next),
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
	})
	if a.CaseID != nil {
		m.bridge.PropagateProgress(ctx, *a.CaseID, string(next))
	}
	m.sendSoft(ctx, a, a.ContactEmail, notification.TemplateStatusChanged, map[string]string{
		"customer_name": a.CustomerName,
		"old_status":    string(old),
		"new_status":    string(next),
	})
	return a, nil
}

// Cancel terminates a non-terminal appointment and releases its slot
// capacity.
func (m *Manager) Cancel(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*Appointment, error) {
	a, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.checkOwnership(ctx, actor, a); err != nil {
		return nil, err
	}
	if a.Status.IsTerminal() {
		return nil, apperror.Statef("appointment %s is already %s", id, a.Status)
	}

	old := a.Status
	released := a.SlotID
	a.Status = StatusCancelled
	a.SlotID = nil
	if err := m.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	if released != nil {
		if _, err := m.slots.DecrementAssignment(ctx, *released); err != nil {
			m.log.Error().Err(err).Str("slot_id", released.String()).
				Msg("slot release on cancel failed")
			m.addWarning(a, "slot capacity release failed")
		}
	}

	m.audit.Record(ctx, &auditlog.Entry{
		AppointmentID: a.ID,
		Action:        auditlog.ActionStatusChanged,
		OldStatus:     statusPtr(old),
		NewStatus:     statusPtr(StatusCancelled),
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
	})
	if reason != "" {
		n := &Note{AppointmentID: id, AuthorID: actor.ID, Text: reason}
		if err := m.repo.AppendNote(ctx, n); err != nil {
			m.log.Error().Err(err).Str("appointment_id", id.String()).Msg("cancel reason note failed")
		}
	}
	return a, nil
}

// UnassignStaff clears the staff binding and releases held slot capacity. A
// confirmed appointment drops back to its pre-confirmation status.
func (m *Manager) UnassignStaff(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	a, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.IsTerminal() {
		return nil, apperror.Statef("appointment %s is %s and cannot be unassigned", id, a.Status)
	}

	cleared := a.StaffIDs
	released := a.SlotID
	a.StaffIDs = nil
	a.SlotID = nil
	if a.Status == StatusConfirmed {
		if a.IsAdministrative() {
			a.Status = StatusAuthorized
		} else {
			a.Status = StatusPending
		}
	}
	if err := m.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	if released != nil {
		if _, err := m.slots.DecrementAssignment(ctx, *released); err != nil {
			m.log.Error().Err(err).Str("slot_id", released.String()).
				Msg("slot release on unassign failed")
			m.addWarning(a, "slot capacity release failed")
		}
	}

	m.audit.Record(ctx, &auditlog.Entry{
		AppointmentID: a.ID,
		Action:        auditlog.ActionStaffUnassigned,
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
		Detail:        &auditlog.StaffDetail{StaffIDs: cleared},
	})
	return a, nil
}

// Get loads an appointment, scoped to the caller.
func (m *Manager) Get(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	a, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.checkOwnership(ctx, actor, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Search lists appointments with role scoping: customers see only their
// own, staff only those assigned to them, managers and admins see all.
func (m *Manager) Search(ctx context.Context, actor Actor, f Filter, limit, offset int) ([]*Appointment, int, error) {
	switch actor.Role {
	case auth.RoleCustomer:
		id := actor.ID
		f.CustomerID = &id
		f.StaffID = nil
	case auth.RoleStaff:
		p, err := m.staff.FindByUserID(ctx, actor.ID)
		if err != nil {
			return nil, 0, err
		}
		f.StaffID = &p.ID
		f.CustomerID = nil
	}
	return m.repo.Search(ctx, f, limit, offset)
}

// requireSelf verifies the acting user is the given staff member. Admin and
// system callers bypass the check.
func (m *Manager) requireSelf(ctx context.Context, actor Actor, staffID uuid.UUID) error {
	if actor.Role == auth.RoleAdmin || actor.Role == auth.RoleSystem {
		return nil
	}
	p, err := m.staff.FindByUserID(ctx, actor.ID)
	if err != nil {
		return err
	}
	if p.ID != staffID {
		return apperror.Forbiddenf("caller is not staff member %s", staffID)
	}
	return nil
}

// checkOwnership enforces read/cancel visibility per role.
func (m *Manager) checkOwnership(ctx context.Context, actor Actor, a *Appointment) error {
	switch actor.Role {
	case auth.RoleAdmin, auth.RoleManager, auth.RoleSystem:
		return nil
	case auth.RoleCustomer:
		if a.CustomerID != nil && *a.CustomerID == actor.ID {
			return nil
		}
		return apperror.Forbiddenf("appointment %s does not belong to the caller", a.ID)
	case auth.RoleStaff:
		p, err := m.staff.FindByUserID(ctx, actor.ID)
		if err != nil {
			return err
		}
		if a.HasStaff(p.ID) {
			return nil
		}
		return apperror.Forbiddenf("appointment %s is not assigned to the caller", a.ID)
	default:
		return apperror.Forbiddenf("role %q has no appointment access", actor.Role)
	}
}

func (m *Manager) sendSoft(ctx context.Context, a *Appointment, recipient, template string, data map[string]string) {
	if recipient == "" {
		return
	}
	if err := m.notify.Send(ctx, recipient, template, data); err != nil {
		m.log.Error().Err(err).
			Str("appointment_id", a.ID.String()).
			Str("template", template).
			Msg("notification send failed")
		m.addWarning(a, "notification delivery failed")
	}
}

func (m *Manager) addWarning(a *Appointment, msg string) {
	if a.Warning == "" {
		a.Warning = msg
		return
	}
	a.Warning += "; " + msg
}

// lockErr surfaces lock contention as a retryable conflict.
func lockErr(err error) error {
	if errors.Is(err, redislock.ErrNotAcquired) {
		return apperror.Conflictf("slot is being booked by another request, retry shortly")
	}
	return err
}

func statusPtr(s Status) *string {
	v := string(s)
	return &v
}

func scheduleLabel(a *Appointment) string {
	if a.ScheduledAt == nil {
		return "unscheduled"
	}
	return a.ScheduledAt.Format("2006-01-02 15:04")
}

func formatAmount(v int64) string {
	return strconv.FormatInt(v, 10)
}
