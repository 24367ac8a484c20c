package appointment

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
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

// -- Mocks --

type mockRepo struct {
	mu           sync.Mutex
	appointments map[uuid.UUID]*Appointment
	checkins     map[uuid.UUID][]CheckinEntry
	notes        map[uuid.UUID][]Note
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		appointments: make(map[uuid.UUID]*Appointment),
		checkins:     make(map[uuid.UUID][]CheckinEntry),
		notes:        make(map[uuid.UUID][]Note),
	}
}

func (m *mockRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	a.VersionID = 1
	a.CreatedAt = time.Now()
	a.UpdatedAt = time.Now()
	cp := *a
	m.appointments[a.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, apperror.NotFoundf("appointment %s not found", id)
	}
	cp := *a
	cp.Checkins = append([]CheckinEntry(nil), m.checkins[id]...)
	cp.Notes = append([]Note(nil), m.notes[id]...)
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.appointments[a.ID]
	if !ok {
		return nil
	}
	if cur.VersionID != a.VersionID {
		return apperror.Conflictf("appointment %s was modified concurrently", a.ID)
	}
	a.VersionID++
	cp := *a
	m.appointments[a.ID] = &cp
	return nil
}

func (m *mockRepo) AppendCheckin(_ context.Context, e *CheckinEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	m.checkins[e.AppointmentID] = append(m.checkins[e.AppointmentID], *e)
	return nil
}

func (m *mockRepo) AppendNote(_ context.Context, n *Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	m.notes[n.AppointmentID] = append(m.notes[n.AppointmentID], *n)
	return nil
}

func (m *mockRepo) Search(_ context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.appointments {
		if f.CustomerID != nil && (a.CustomerID == nil || *a.CustomerID != *f.CustomerID) {
			continue
		}
		if f.StaffID != nil && !a.HasStaff(*f.StaffID) {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, len(out), nil
}

type mockSlots struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*slot.Slot
}

func newMockSlots() *mockSlots {
	return &mockSlots{slots: make(map[uuid.UUID]*slot.Slot)}
}

func (m *mockSlots) add(limit int, staffIDs ...uuid.UUID) *slot.Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &slot.Slot{
		ID:               uuid.New(),
		StaffIDs:         staffIDs,
		AppointmentLimit: limit,
		Status:           slot.StatusAvailable,
		Windows: []slot.TimeWindow{
			{Date: "2024-03-15", StartHour: 9, EndHour: 10},
		},
		VersionID: 1,
	}
	m.slots[s.ID] = s
	return s
}

func (m *mockSlots) Get(_ context.Context, id uuid.UUID) (*slot.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return nil, apperror.NotFoundf("slot %s not found", id)
	}
	cp := *s
	return &cp, nil
}

func (m *mockSlots) IncrementAssignment(_ context.Context, id uuid.UUID) (*slot.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return nil, apperror.NotFoundf("slot %s not found", id)
	}
	if s.AssignedCount >= s.AppointmentLimit {
		return nil, apperror.Conflictf("slot %s is at capacity", id)
	}
	s.AssignedCount++
	if s.AssignedCount >= s.AppointmentLimit {
		s.Status = slot.StatusBooked
	}
	cp := *s
	return &cp, nil
}

func (m *mockSlots) DecrementAssignment(_ context.Context, id uuid.UUID) (*slot.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return nil, apperror.NotFoundf("slot %s not found", id)
	}
	if s.AssignedCount <= 0 {
		return nil, apperror.Conflictf("slot %s has no assignments to release", id)
	}
	s.AssignedCount--
	if s.Status == slot.StatusBooked {
		s.Status = slot.StatusAvailable
	}
	cp := *s
	return &cp, nil
}

type mockServices struct {
	services map[uuid.UUID]*catalog.TestService
}

func (m *mockServices) add(price int64, kind catalog.ServiceKind) *catalog.TestService {
	s := &catalog.TestService{
		ID: uuid.New(), Name: "HIV Panel", Kind: kind,
		Price: price, EstimatedMinutes: 30, Active: true,
	}
	m.services[s.ID] = s
	return s
}

func (m *mockServices) GetByID(_ context.Context, id uuid.UUID) (*catalog.TestService, error) {
	s, ok := m.services[id]
	if !ok {
		return nil, apperror.NotFoundf("service %s not found", id)
	}
	return s, nil
}

type mockStaff struct {
	profiles map[uuid.UUID]*catalog.StaffProfile
	counts   map[string]int
}

func (m *mockStaff) add() *catalog.StaffProfile {
	id := uuid.New()
	p := &catalog.StaffProfile{
		ID: id, UserID: "user-" + id.String()[:8],
		FullName: "Staff " + id.String()[:8], Active: true,
	}
	m.profiles[id] = p
	return p
}

func (m *mockStaff) FindActiveByIDs(_ context.Context, ids []uuid.UUID) ([]*catalog.StaffProfile, error) {
	var out []*catalog.StaffProfile
	for _, id := range ids {
		if p, ok := m.profiles[id]; ok && p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockStaff) FindByUserID(_ context.Context, userID string) (*catalog.StaffProfile, error) {
	for _, p := range m.profiles {
		if p.UserID == userID {
			return p, nil
		}
	}
	return nil, apperror.NotFoundf("no staff profile for user %s", userID)
}

func (m *mockStaff) CountAppointments(_ context.Context, staffID, slotID uuid.UUID) (int, error) {
	return m.counts[staffID.String()+"/"+slotID.String()], nil
}

func (m *mockStaff) setCount(staffID, slotID uuid.UUID, n int) {
	m.counts[staffID.String()+"/"+slotID.String()] = n
}

type mockBridge struct {
	cases      map[string]*admincase.Case
	propagated []string
}

func (m *mockBridge) addApproved(caseNumber, authCode string) *admincase.Case {
	c := &admincase.Case{
		ID: uuid.New(), CaseNumber: caseNumber, AuthorizationCode: authCode,
		Status: admincase.StatusApproved, AgencyName: "District Court",
		AgencyEmail: "clerk@court.example",
	}
	m.cases[caseNumber+"/"+authCode] = c
	return c
}

func (m *mockBridge) Resolve(_ context.Context, caseNumber, authCode string) (*admincase.Case, error) {
	c, ok := m.cases[caseNumber+"/"+authCode]
	if !ok {
		return nil, apperror.NotFoundf("no case matches %s", caseNumber)
	}
	if !c.IsApproved() {
		return nil, apperror.Statef("case %s is %s, not approved", c.CaseNumber, c.Status)
	}
	return c, nil
}

func (m *mockBridge) PropagateProgress(_ context.Context, _ uuid.UUID, appointmentStatus string) {
	m.propagated = append(m.propagated, appointmentStatus)
}

type mockPayments struct {
	fail    bool
	created []*payment.Payment
}

func (m *mockPayments) CreateAdministrativePayment(_ context.Context, appointmentID uuid.UUID, actorID string) (*payment.Payment, error) {
	if m.fail {
		return nil, apperror.Dependencyf(nil, "payment store unreachable")
	}
	p := &payment.Payment{
		ID: uuid.New(), AppointmentID: appointmentID,
		Amount: 0, Method: payment.MethodGovernmentFunded, RecordedBy: actorID,
	}
	m.created = append(m.created, p)
	return p, nil
}

type mockAuditRepo struct {
	mu      sync.Mutex
	entries []*auditlog.Entry
}

func (m *mockAuditRepo) Append(_ context.Context, e *auditlog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockAuditRepo) ListByAppointment(_ context.Context, appointmentID uuid.UUID, _, _ int) ([]*auditlog.Entry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*auditlog.Entry
	for _, e := range m.entries {
		if e.AppointmentID == appointmentID {
			out = append(out, e)
		}
	}
	return out, len(out), nil
}

func (m *mockAuditRepo) actions(appointmentID uuid.UUID) []auditlog.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auditlog.Action
	for _, e := range m.entries {
		if e.AppointmentID == appointmentID {
			out = append(out, e.Action)
		}
	}
	return out
}

// -- Fixture --

type fixture struct {
	mgr       *Manager
	repo      *mockRepo
	slots     *mockSlots
	services  *mockServices
	staff     *mockStaff
	bridge    *mockBridge
	payments  *mockPayments
	sender    *notification.MockEmailSender
	auditRepo *mockAuditRepo
}

func newFixture() *fixture {
	f := &fixture{
		repo:      newMockRepo(),
		slots:     newMockSlots(),
		services:  &mockServices{services: make(map[uuid.UUID]*catalog.TestService)},
		staff:     &mockStaff{profiles: make(map[uuid.UUID]*catalog.StaffProfile), counts: make(map[string]int)},
		bridge:    &mockBridge{cases: make(map[string]*admincase.Case)},
		payments:  &mockPayments{},
		sender:    &notification.MockEmailSender{},
		auditRepo: &mockAuditRepo{},
	}
	cfg := &config.Config{
		BusinessDayStart: 1, BusinessDayEnd: 5,
		BusinessHourStart: 8, BusinessHourEnd: 17,
		OffHoursSurcharge: 0.2, DepositRate: 0.3,
		ServiceDistricts: []string{"central", "riverside"},
	}
	f.mgr = NewManager(ManagerDeps{
		Repo:     f.repo,
		Slots:    f.slots,
		Services: f.services,
		Staff:    f.staff,
		Resolver: NewResolver(f.staff),
		Bridge:   f.bridge,
		Payments: f.payments,
		Notify:   notification.NewService(notification.NewTemplateEngine(), f.sender, zerolog.Nop()),
		Audit:    auditlog.NewService(f.auditRepo, zerolog.Nop()),
		Locker:   redislock.NoopLocker{},
		Config:   cfg,
		Tx:       PassthroughTx,
		Log:      zerolog.Nop(),
	})
	return f
}

var customer = Actor{ID: "cust-1", Role: auth.RoleCustomer}
var system = Actor{ID: "system", Role: auth.RoleSystem}
var manager = Actor{ID: "mgr-1", Role: auth.RoleManager}

func staffActor(p *catalog.StaffProfile) Actor {
	return Actor{ID: p.UserID, Role: auth.RoleStaff}
}

// 2024-03-15 is a Friday, 2024-03-16 a Saturday.
func friday() *time.Time {
	t := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	return &t
}

func saturday() *time.Time {
	t := time.Date(2024, 3, 16, 10, 0, 0, 0, time.UTC)
	return &t
}

// -- Creation --

func TestCreate_CivilWeekday(t *testing.T) {
	f := newFixture()
	svc := f.services.add(3_000_000, catalog.KindCivil)

	a, err := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID:      svc.ID,
		CollectionType: CollectionFacility,
		ScheduledAt:    friday(),
		CustomerName:   "Ana",
		ContactEmail:   "ana@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Status != StatusPending {
		t.Errorf("expected pending, got %s", a.Status)
	}
	if a.TotalAmount != 3_000_000 {
		t.Errorf("expected no surcharge, got %d", a.TotalAmount)
	}
	if a.DepositAmount != 900_000 {
		t.Errorf("expected deposit 900000, got %d", a.DepositAmount)
	}
	if a.CustomerID == nil || *a.CustomerID != customer.ID {
		t.Error("expected customer binding")
	}
	if len(f.sender.Calls()) != 1 {
		t.Errorf("expected one notification, got %d", len(f.sender.Calls()))
	}
}

func TestCreate_OffHoursSurcharge(t *testing.T) {
	f := newFixture()
	svc := f.services.add(3_000_000, catalog.KindCivil)

	a, err := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID:      svc.ID,
		CollectionType: CollectionFacility,
		ScheduledAt:    saturday(),
		ContactEmail:   "ana@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantTotal := int64(math.Round(3_000_000 * 1.2))
	if a.TotalAmount != wantTotal {
		t.Errorf("expected total %d, got %d", wantTotal, a.TotalAmount)
	}
	wantDeposit := int64(math.Round(float64(wantTotal) * 0.3))
	if a.DepositAmount != wantDeposit {
		t.Errorf("expected deposit %d, got %d", wantDeposit, a.DepositAmount)
	}
}

func TestCreate_DepositInvariant(t *testing.T) {
	f := newFixture()
	for _, price := range []int64{999, 1_000, 123_457, 3_000_001} {
		svc := f.services.add(price, catalog.KindCivil)
		a, err := f.mgr.Create(context.Background(), customer, CreateRequest{
			ServiceID:      svc.ID,
			CollectionType: CollectionSelf,
			ScheduledAt:    friday(),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := int64(math.Round(float64(a.TotalAmount) * 0.3))
		if a.DepositAmount != want {
			t.Errorf("price %d: deposit %d, want %d", price, a.DepositAmount, want)
		}
	}
}

func TestCreate_WithSlot(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)
	p := f.staff.add()
	s := f.slots.add(2, p.ID)

	a, err := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID:      svc.ID,
		SlotID:         &s.ID,
		CollectionType: CollectionFacility,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.SlotID == nil || *a.SlotID != s.ID {
		t.Fatal("expected slot binding")
	}
	if !a.HasStaff(p.ID) {
		t.Error("expected staff derived from slot roster")
	}
	if a.ScheduledAt == nil {
		t.Error("expected time derived from slot window")
	}
	got, _ := f.slots.Get(context.Background(), s.ID)
	if got.AssignedCount != 1 {
		t.Errorf("expected assigned_count 1, got %d", got.AssignedCount)
	}
}

func TestCreate_SlotFull(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)
	p := f.staff.add()
	s := f.slots.add(1, p.ID)

	if _, err := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID: svc.ID, SlotID: &s.ID, CollectionType: CollectionFacility,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID: svc.ID, SlotID: &s.ID, CollectionType: CollectionFacility,
	})
	if !apperror.Is(err, apperror.KindConflict) {
		t.Fatalf("expected conflict on booked slot, got %v", err)
	}
	got, _ := f.slots.Get(context.Background(), s.ID)
	if got.AssignedCount != 1 {
		t.Errorf("capacity overrun: %d", got.AssignedCount)
	}
}

type contendedLocker struct{}

func (contendedLocker) WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	return redislock.ErrNotAcquired
}

func TestCreate_LockContention(t *testing.T) {
	f := newFixture()
	f.mgr.locker = contendedLocker{}
	svc := f.services.add(1_000_000, catalog.KindCivil)
	p := f.staff.add()
	s := f.slots.add(2, p.ID)

	_, err := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID: svc.ID, SlotID: &s.ID, CollectionType: CollectionFacility,
	})
	if !apperror.Is(err, apperror.KindConflict) {
		t.Fatalf("expected conflict on contended slot lock, got %v", err)
	}
	if len(f.repo.appointments) != 0 {
		t.Error("nothing should be persisted when the lock is contended")
	}
}

func TestCreate_HomeOutsideServiceArea(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)

	_, err := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID:      svc.ID,
		CollectionType: CollectionHome,
		Address:        &Address{Line: "12 Hill Rd", District: "northgate"},
	})
	if !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreate_HomeInServiceArea(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)

	a, err := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID:      svc.ID,
		CollectionType: CollectionHome,
		Address:        &Address{Line: "12 Hill Rd", District: "Central"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.CollectionType != CollectionHome {
		t.Errorf("expected home collection, got %s", a.CollectionType)
	}
}

func TestCreate_AdministrativePath(t *testing.T) {
	f := newFixture()
	svc := f.services.add(0, catalog.KindAdministrative)
	c := f.bridge.addApproved("CASE-42", "AUTH-9")

	a, err := f.mgr.Create(context.Background(), system, CreateRequest{
		ServiceID:         svc.ID,
		CollectionType:    CollectionAdministrative,
		CaseNumber:        "CASE-42",
		AuthorizationCode: "AUTH-9",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Status != StatusAuthorized {
		t.Errorf("expected authorized, got %s", a.Status)
	}
	if a.CollectionType != CollectionFacility {
		t.Errorf("case appointment must be facility, got %s", a.CollectionType)
	}
	if a.PaymentStatus != PaymentGovernmentFunded {
		t.Errorf("expected government_funded, got %s", a.PaymentStatus)
	}
	if a.CaseID == nil || *a.CaseID != c.ID {
		t.Error("expected case binding")
	}
	if a.ContactEmail != c.AgencyEmail {
		t.Errorf("expected agency email copied, got %q", a.ContactEmail)
	}
	if len(f.payments.created) != 1 {
		t.Fatalf("expected one payment record, got %d", len(f.payments.created))
	}
	if f.payments.created[0].Amount != 0 {
		t.Errorf("administrative payment must be zero, got %d", f.payments.created[0].Amount)
	}
	if a.Warning != "" {
		t.Errorf("unexpected warning: %q", a.Warning)
	}
}

func TestCreate_AdministrativeNoMatchingCase(t *testing.T) {
	f := newFixture()
	svc := f.services.add(0, catalog.KindAdministrative)

	_, err := f.mgr.Create(context.Background(), system, CreateRequest{
		ServiceID:         svc.ID,
		CollectionType:    CollectionAdministrative,
		CaseNumber:        "CASE-42",
		AuthorizationCode: "WRONG",
	})
	if !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
	if len(f.repo.appointments) != 0 {
		t.Error("no appointment may be persisted on case mismatch")
	}
}

func TestCreate_AdministrativeMissingCredentials(t *testing.T) {
	f := newFixture()
	svc := f.services.add(0, catalog.KindAdministrative)

	_, err := f.mgr.Create(context.Background(), system, CreateRequest{
		ServiceID:      svc.ID,
		CollectionType: CollectionAdministrative,
	})
	if !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreate_PaymentSoftFail(t *testing.T) {
	f := newFixture()
	svc := f.services.add(0, catalog.KindAdministrative)
	f.bridge.addApproved("CASE-42", "AUTH-9")
	f.payments.fail = true

	a, err := f.mgr.Create(context.Background(), system, CreateRequest{
		ServiceID:         svc.ID,
		CollectionType:    CollectionAdministrative,
		CaseNumber:        "CASE-42",
		AuthorizationCode: "AUTH-9",
	})
	if err != nil {
		t.Fatalf("payment failure must not abort creation: %v", err)
	}
	if a.Warning == "" {
		t.Error("expected advisory warning on payment failure")
	}
	if _, stored := f.repo.appointments[a.ID]; !stored {
		t.Error("appointment must be persisted despite payment failure")
	}
}

func TestCreate_NotificationSoftFail(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)
	f.sender.ShouldFail = true
	f.sender.FailError = "smtp refused"

	a, err := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID:      svc.ID,
		CollectionType: CollectionSelf,
		ContactEmail:   "ana@example.com",
	})
	if err != nil {
		t.Fatalf("notification failure must not abort creation: %v", err)
	}
	if a.Warning == "" {
		t.Error("expected advisory warning on notification failure")
	}
}

func TestCreate_UnknownCollectionType(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)

	_, err := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID:      svc.ID,
		CollectionType: CollectionType("courier"),
	})
	if !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// -- Staff assignment --

func TestAssignStaff(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)
	p := f.staff.add()
	a, _ := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID: svc.ID, CollectionType: CollectionFacility,
	})

	got, err := f.mgr.AssignStaff(context.Background(), manager, a.ID, []uuid.UUID{p.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.HasStaff(p.ID) {
		t.Error("expected staff binding")
	}
}

func TestAssignStaff_AfterConfirm(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)
	p := f.staff.add()
	s := f.slots.add(2, p.ID)
	a, _ := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID: svc.ID, CollectionType: CollectionFacility,
	})

	if _, err := f.mgr.AssignStaff(context.Background(), manager, a.ID, []uuid.UUID{p.ID}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := f.mgr.Confirm(context.Background(), staffActor(p), a.ID, s.ID, p.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	_, err := f.mgr.AssignStaff(context.Background(), manager, a.ID, []uuid.UUID{p.ID})
	if !apperror.Is(err, apperror.KindState) {
		t.Fatalf("expected state error after confirmation, got %v", err)
	}
}

func TestAssignStaff_UnknownStaff(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)
	a, _ := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID: svc.ID, CollectionType: CollectionFacility,
	})

	_, err := f.mgr.AssignStaff(context.Background(), manager, a.ID, []uuid.UUID{uuid.New()})
	if !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestAssignStaff_SaturatedWithSuggestion(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)
	busy := f.staff.add()
	free := f.staff.add()
	s := f.slots.add(2, busy.ID, free.ID)
	f.staff.setCount(busy.ID, s.ID, 2)

	a, _ := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID: svc.ID, SlotID: &s.ID, CollectionType: CollectionFacility,
	})

	_, err := f.mgr.AssignStaff(context.Background(), manager, a.ID, []uuid.UUID{busy.ID})
	if !apperror.Is(err, apperror.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var sat *SaturationError
	if !errors.As(err, &sat) {
		t.Fatal("expected a SaturationError in the chain")
	}
	if sat.Suggested == nil || *sat.Suggested != free.ID {
		t.Errorf("expected suggestion %s, got %v", free.ID, sat.Suggested)
	}
}

func TestAssignStaff_OffRoster(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)
	onRoster := f.staff.add()
	outsider := f.staff.add()
	s := f.slots.add(2, onRoster.ID)

	a, _ := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID: svc.ID, SlotID: &s.ID, CollectionType: CollectionFacility,
	})

	_, err := f.mgr.AssignStaff(context.Background(), manager, a.ID, []uuid.UUID{outsider.ID})
	if !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// -- Confirmation --

func TestConfirm_CapacityAndBooked(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)
	p := f.staff.add()
	s := f.slots.add(2, p.ID)

	confirmOne := func() error {
		a, err := f.mgr.Create(context.Background(), customer, CreateRequest{
			ServiceID: svc.ID, CollectionType: CollectionFacility,
		})
		if err != nil {
			return err
		}
		if _, err := f.mgr.AssignStaff(context.Background(), manager, a.ID, []uuid.UUID{p.ID}); err != nil {
			return err
		}
		_, err = f.mgr.Confirm(context.Background(), staffActor(p), a.ID, s.ID, p.ID)
		return err
	}

	if err := confirmOne(); err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if err := confirmOne(); err != nil {
		t.Fatalf("second confirm: %v", err)
	}

	got, _ := f.slots.Get(context.Background(), s.ID)
	if got.AssignedCount != 2 || got.Status != slot.StatusBooked {
		t.Errorf("after two confirmations: count=%d status=%s", got.AssignedCount, got.Status)
	}

	err := confirmOne()
	if !apperror.Is(err, apperror.KindConflict) {
		t.Fatalf("expected conflict on booked slot, got %v", err)
	}
	got, _ = f.slots.Get(context.Background(), s.ID)
	if got.AssignedCount != 2 {
		t.Errorf("capacity overrun: %d", got.AssignedCount)
	}
}

func TestConfirm_NotAssignedStaff(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)
	assigned := f.staff.add()
	other := f.staff.add()
	s := f.slots.add(2, assigned.ID, other.ID)

	a, _ := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID: svc.ID, CollectionType: CollectionFacility,
	})
	f.mgr.AssignStaff(context.Background(), manager, a.ID, []uuid.UUID{assigned.ID})

	_, err := f.mgr.Confirm(context.Background(), staffActor(other), a.ID, s.ID, other.ID)
	if !apperror.Is(err, apperror.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestConfirm_ImpersonationRejected(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)
	assigned := f.staff.add()
	caller := f.staff.add()
	s := f.slots.add(2, assigned.ID, caller.ID)

	a, _ := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID: svc.ID, CollectionType: CollectionFacility,
	})
	f.mgr.AssignStaff(context.Background(), manager, a.ID, []uuid.UUID{assigned.ID})

	// caller presents the assigned staff member's id but is not them
	_, err := f.mgr.Confirm(context.Background(), staffActor(caller), a.ID, s.ID, assigned.ID)
	if !apperror.Is(err, apperror.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestConfirm_SlotBoundAtCreationNotDoubleCounted(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)
	p := f.staff.add()
	s := f.slots.add(2, p.ID)

	a, _ := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID: svc.ID, SlotID: &s.ID, CollectionType: CollectionFacility,
	})
	if _, err := f.mgr.Confirm(context.Background(), staffActor(p), a.ID, s.ID, p.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	got, _ := f.slots.Get(context.Background(), s.ID)
	if got.AssignedCount != 1 {
		t.Errorf("slot bound at creation must not double count, got %d", got.AssignedCount)
	}
}

func TestConfirm_RebindReleasesSupersededSlot(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)
	p := f.staff.add()
	slotA := f.slots.add(2, p.ID)
	slotB := f.slots.add(2, p.ID)

	a, err := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID: svc.ID, SlotID: &slotA.ID, CollectionType: CollectionFacility,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.mgr.Confirm(context.Background(), staffActor(p), a.ID, slotB.ID, p.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	gotA, _ := f.slots.Get(context.Background(), slotA.ID)
	if gotA.AssignedCount != 0 {
		t.Errorf("superseded slot must release its unit, got %d", gotA.AssignedCount)
	}
	gotB, _ := f.slots.Get(context.Background(), slotB.ID)
	if gotB.AssignedCount != 1 {
		t.Errorf("confirmed slot count = %d, want 1", gotB.AssignedCount)
	}

	if _, err := f.mgr.Cancel(context.Background(), customer, a.ID, "plans changed"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	gotA, _ = f.slots.Get(context.Background(), slotA.ID)
	gotB, _ = f.slots.Get(context.Background(), slotB.ID)
	if gotA.AssignedCount != 0 || gotB.AssignedCount != 0 {
		t.Errorf("after cancel counts = %d/%d, want 0/0", gotA.AssignedCount, gotB.AssignedCount)
	}
}

// -- Check-in, notes, status --

func TestCheckin(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)
	p := f.staff.add()
	a, _ := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID: svc.ID, CollectionType: CollectionFacility,
	})
	f.mgr.AssignStaff(context.Background(), manager, a.ID, []uuid.UUID{p.ID})

	e, err := f.mgr.Checkin(context.Background(), staffActor(p), a.ID, p.ID, "arrived on site")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Note != "arrived on site" {
		t.Errorf("unexpected note %q", e.Note)
	}
	got, _ := f.mgr.Get(context.Background(), manager, a.ID)
	if len(got.Checkins) != 1 {
		t.Errorf("expected one check-in, got %d", len(got.Checkins))
	}
	if got.Status != StatusPending {
		t.Errorf("check-in must not change status, got %s", got.Status)
	}
}

func TestCheckin_NotAssigned(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)
	p := f.staff.add()
	a, _ := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID: svc.ID, CollectionType: CollectionFacility,
	})

	_, err := f.mgr.Checkin(context.Background(), staffActor(p), a.ID, p.ID, "hello")
	if !apperror.Is(err, apperror.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestAddNote(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)
	a, _ := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID: svc.ID, CollectionType: CollectionFacility,
	})

	if _, err := f.mgr.AddNote(context.Background(), manager, a.ID, "fasting required"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := f.mgr.Get(context.Background(), manager, a.ID)
	if len(got.Notes) != 1 || got.Notes[0].Text != "fasting required" {
		t.Errorf("unexpected notes %+v", got.Notes)
	}
}

func TestUpdateStatus_TechnicianBinding(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)
	tech := uuid.New()
	a, _ := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID: svc.ID, CollectionType: CollectionFacility,
	})

	got, err := f.mgr.UpdateStatus(context.Background(), system, a.ID, StatusSampleAssigned, &tech)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TechnicianID == nil || *got.TechnicianID != tech {
		t.Error("expected technician binding on sample_assigned")
	}
}

func TestUpdateStatus_TerminalLocked(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)
	a, _ := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID: svc.ID, CollectionType: CollectionFacility,
	})
	f.mgr.UpdateStatus(context.Background(), system, a.ID, StatusCompleted, nil)

	_, err := f.mgr.UpdateStatus(context.Background(), system, a.ID, StatusTesting, nil)
	if !apperror.Is(err, apperror.KindState) {
		t.Fatalf("expected state error on terminal appointment, got %v", err)
	}
}

func TestUpdateStatus_Unknown(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)
	a, _ := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID: svc.ID, CollectionType: CollectionFacility,
	})

	_, err := f.mgr.UpdateStatus(context.Background(), system, a.ID, Status("mislaid"), nil)
	if !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateStatus_CaseProgressPropagation(t *testing.T) {
	f := newFixture()
	svc := f.services.add(0, catalog.KindAdministrative)
	f.bridge.addApproved("CASE-42", "AUTH-9")
	a, _ := f.mgr.Create(context.Background(), system, CreateRequest{
		ServiceID: svc.ID, CollectionType: CollectionAdministrative,
		CaseNumber: "CASE-42", AuthorizationCode: "AUTH-9",
	})

	f.mgr.UpdateStatus(context.Background(), system, a.ID, StatusSampleCollected, nil)
	f.mgr.UpdateStatus(context.Background(), system, a.ID, StatusCompleted, nil)

	if len(f.bridge.propagated) != 2 {
		t.Fatalf("expected two propagations, got %d", len(f.bridge.propagated))
	}
	if f.bridge.propagated[0] != "sample_collected" || f.bridge.propagated[1] != "completed" {
		t.Errorf("unexpected propagation order %v", f.bridge.propagated)
	}
}

// -- Cancel / unassign --

func TestCancel_ReleasesSlot(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)
	p := f.staff.add()
	s := f.slots.add(1, p.ID)
	a, _ := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID: svc.ID, SlotID: &s.ID, CollectionType: CollectionFacility,
	})

	got, err := f.mgr.Cancel(context.Background(), customer, a.ID, "changed my mind")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
	sl, _ := f.slots.Get(context.Background(), s.ID)
	if sl.AssignedCount != 0 || sl.Status != slot.StatusAvailable {
		t.Errorf("slot not released: count=%d status=%s", sl.AssignedCount, sl.Status)
	}
}

func TestCancel_OtherCustomerForbidden(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)
	a, _ := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID: svc.ID, CollectionType: CollectionFacility,
	})

	_, err := f.mgr.Cancel(context.Background(), Actor{ID: "cust-2", Role: auth.RoleCustomer}, a.ID, "")
	if !apperror.Is(err, apperror.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestUnassignStaff(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)
	p := f.staff.add()
	s := f.slots.add(1, p.ID)
	a, _ := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID: svc.ID, CollectionType: CollectionFacility,
	})
	f.mgr.AssignStaff(context.Background(), manager, a.ID, []uuid.UUID{p.ID})
	f.mgr.Confirm(context.Background(), staffActor(p), a.ID, s.ID, p.ID)

	got, err := f.mgr.UnassignStaff(context.Background(), manager, a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.StaffIDs) != 0 {
		t.Error("expected staff cleared")
	}
	if got.Status != StatusPending {
		t.Errorf("expected pending after unassign, got %s", got.Status)
	}
	sl, _ := f.slots.Get(context.Background(), s.ID)
	if sl.AssignedCount != 0 || sl.Status != slot.StatusAvailable {
		t.Errorf("slot not released: count=%d status=%s", sl.AssignedCount, sl.Status)
	}
}

// -- Search scoping --

func TestSearch_RoleScoping(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)
	p := f.staff.add()

	mine, _ := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID: svc.ID, CollectionType: CollectionFacility,
	})
	other, _ := f.mgr.Create(context.Background(), Actor{ID: "cust-2", Role: auth.RoleCustomer}, CreateRequest{
		ServiceID: svc.ID, CollectionType: CollectionFacility,
	})
	f.mgr.AssignStaff(context.Background(), manager, other.ID, []uuid.UUID{p.ID})

	items, total, err := f.mgr.Search(context.Background(), customer, Filter{}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || items[0].ID != mine.ID {
		t.Errorf("customer must see only their own, got %d", total)
	}

	items, total, err = f.mgr.Search(context.Background(), staffActor(p), Filter{}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || items[0].ID != other.ID {
		t.Errorf("staff must see only assigned, got %d", total)
	}

	_, total, err = f.mgr.Search(context.Background(), manager, Filter{}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 {
		t.Errorf("manager must see all, got %d", total)
	}
}

// -- Audit trail --

func TestAuditTrail(t *testing.T) {
	f := newFixture()
	svc := f.services.add(1_000_000, catalog.KindCivil)
	p := f.staff.add()
	s := f.slots.add(2, p.ID)
	a, _ := f.mgr.Create(context.Background(), customer, CreateRequest{
		ServiceID: svc.ID, CollectionType: CollectionFacility,
	})
	f.mgr.AssignStaff(context.Background(), manager, a.ID, []uuid.UUID{p.ID})
	f.mgr.Confirm(context.Background(), staffActor(p), a.ID, s.ID, p.ID)

	want := []auditlog.Action{auditlog.ActionCreated, auditlog.ActionStaffAssigned, auditlog.ActionConfirmed}
	got := f.auditRepo.actions(a.ID)
	if len(got) != len(want) {
		t.Fatalf("expected %d audit entries, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}
