package admincase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labbook/labbook/internal/platform/apperror"
)

type mockCaseRepo struct {
	cases      map[uuid.UUID]*Case
	updateErr  error
	lastStatus CaseStatus
}

func newMockCaseRepo() *mockCaseRepo {
	return &mockCaseRepo{cases: make(map[uuid.UUID]*Case)}
}

func (m *mockCaseRepo) add(c *Case) *Case {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = time.Now()
	m.cases[c.ID] = c
	return c
}

func (m *mockCaseRepo) GetByID(_ context.Context, id uuid.UUID) (*Case, error) {
	c, ok := m.cases[id]
	if !ok {
		return nil, apperror.NotFoundf("case %s not found", id)
	}
	return c, nil
}

func (m *mockCaseRepo) FindByCaseNumberAndAuthCode(_ context.Context, caseNumber, authCode string) (*Case, error) {
	for _, c := range m.cases {
		if c.CaseNumber == caseNumber && c.AuthorizationCode == authCode {
			return c, nil
		}
	}
	return nil, apperror.NotFoundf("no case matches number %s with the given authorization code", caseNumber)
}

func (m *mockCaseRepo) UpdateStatus(_ context.Context, id uuid.UUID, status CaseStatus) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	c, ok := m.cases[id]
	if !ok {
		return apperror.NotFoundf("case %s not found", id)
	}
	c.Status = status
	m.lastStatus = status
	return nil
}

func TestResolve_Approved(t *testing.T) {
	repo := newMockCaseRepo()
	repo.add(&Case{CaseNumber: "TA-2024-001", AuthorizationCode: "AUTH-9", Status: StatusApproved})
	b := NewBridge(repo, zerolog.Nop())

	c, err := b.Resolve(context.Background(), "TA-2024-001", "AUTH-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.CaseNumber != "TA-2024-001" {
		t.Errorf("unexpected case %q", c.CaseNumber)
	}
}

func TestResolve_WrongAuthCode(t *testing.T) {
	repo := newMockCaseRepo()
	repo.add(&Case{CaseNumber: "TA-2024-001", AuthorizationCode: "AUTH-9", Status: StatusApproved})
	b := NewBridge(repo, zerolog.Nop())

	_, err := b.Resolve(context.Background(), "TA-2024-001", "WRONG")
	if !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestResolve_NotApproved(t *testing.T) {
	repo := newMockCaseRepo()
	repo.add(&Case{CaseNumber: "TA-2024-002", AuthorizationCode: "AUTH-1", Status: StatusSubmitted})
	b := NewBridge(repo, zerolog.Nop())

	_, err := b.Resolve(context.Background(), "TA-2024-002", "AUTH-1")
	if !apperror.Is(err, apperror.KindState) {
		t.Fatalf("expected state error for unapproved case, got %v", err)
	}
}

func TestPropagateProgress_Mapping(t *testing.T) {
	cases := []struct {
		appointmentStatus string
		want              CaseStatus
	}{
		{"sample_collected", StatusInProgress},
		{"testing", StatusInProgress},
		{"completed", StatusCompleted},
	}
	for _, tc := range cases {
		repo := newMockCaseRepo()
		c := repo.add(&Case{CaseNumber: "TA-1", AuthorizationCode: "A", Status: StatusApproved})
		b := NewBridge(repo, zerolog.Nop())

		b.PropagateProgress(context.Background(), c.ID, tc.appointmentStatus)
		if repo.lastStatus != tc.want {
			t.Errorf("status %s: expected case %s, got %s", tc.appointmentStatus, tc.want, repo.lastStatus)
		}
	}
}

func TestPropagateProgress_IgnoresOtherStatuses(t *testing.T) {
	repo := newMockCaseRepo()
	c := repo.add(&Case{CaseNumber: "TA-1", AuthorizationCode: "A", Status: StatusApproved})
	b := NewBridge(repo, zerolog.Nop())

	b.PropagateProgress(context.Background(), c.ID, "confirmed")
	if c.Status != StatusApproved {
		t.Errorf("expected case untouched, got %s", c.Status)
	}
}

func TestPropagateProgress_SwallowsFailure(t *testing.T) {
	repo := newMockCaseRepo()
	c := repo.add(&Case{CaseNumber: "TA-1", AuthorizationCode: "A", Status: StatusApproved})
	repo.updateErr = errors.New("connection reset")
	b := NewBridge(repo, zerolog.Nop())

	// Must not panic or surface the error.
	b.PropagateProgress(context.Background(), c.ID, "completed")
	if c.Status != StatusApproved {
		t.Errorf("expected status unchanged after failed update, got %s", c.Status)
	}
}
