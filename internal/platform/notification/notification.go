// Package notification delivers booking emails through templates. Delivery
// is fire-and-forget: a failed send is logged and reported as a dependency
// error advisory, never as a booking failure.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Dispatcher is the contract the booking core consumes.
type Dispatcher interface {
	Send(ctx context.Context, recipient, templateID string, data map[string]string) error
}

// EmailSender is the interface for the underlying mail transport.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Template defines a reusable notification template.
type Template struct {
	ID      string
	Name    string
	Subject string
	Body    string
}

// Booking template ids.
const (
	TemplateAppointmentCreated   = "appointment-created"
	TemplateAppointmentConfirmed = "appointment-confirmed"
	TemplateCaseAppointment      = "case-appointment-created"
	TemplateStatusChanged        = "appointment-status-changed"
)

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateAppointmentCreated,
			Name:    "Appointment Created",
			Subject: "Your lab appointment request",
			Body:    "Dear {{customer_name}}, we received your appointment request for {{service_name}} on {{date}}. Total: {{total_amount}}, deposit due: {{deposit_amount}}.",
		},
		{
			ID:      TemplateAppointmentConfirmed,
			Name:    "Appointment Confirmed",
			Subject: "Appointment confirmed for {{date}}",
			Body:    "Dear {{customer_name}}, your appointment for {{service_name}} on {{date}} has been confirmed by our staff.",
		},
		{
			ID:      TemplateCaseAppointment,
			Name:    "Case Appointment Created",
			Subject: "Appointment scheduled for case {{case_number}}",
			Body:    "An appointment for case {{case_number}} has been scheduled on {{date}} at our facility.",
		},
		{
			ID:      TemplateStatusChanged,
			Name:    "Appointment Status Changed",
			Subject: "Appointment update: {{new_status}}",
			Body:    "Dear {{customer_name}}, your appointment status changed from {{old_status}} to {{new_status}}.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// Service renders and sends notifications.
type Service struct {
	engine *TemplateEngine
	sender EmailSender
	log    zerolog.Logger
}

func NewService(engine *TemplateEngine, sender EmailSender, log zerolog.Logger) *Service {
	return &Service{engine: engine, sender: sender, log: log}
}

// Send renders templateID with data and delivers it to recipient. The error
// return is advisory; callers must not abort their primary operation on it.
func (s *Service) Send(ctx context.Context, recipient, templateID string, data map[string]string) error {
	if recipient == "" {
		return errors.New("empty recipient")
	}
	subject, body, err := s.engine.Render(templateID, data)
	if err != nil {
		s.log.Error().Err(err).Str("template", templateID).Msg("notification render failed")
		return err
	}
	if err := s.sender.SendEmail(ctx, recipient, subject, body); err != nil {
		s.log.Error().Err(err).
			Str("template", templateID).
			Str("recipient", recipient).
			Msg("notification delivery failed")
		return err
	}
	return nil
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// LogSender writes notifications to the log instead of delivering them.
// Used in development when no SMTP transport is configured.
type LogSender struct {
	Log zerolog.Logger
}

func (l LogSender) SendEmail(_ context.Context, to, subject, _ string) error {
	l.Log.Info().Str("to", to).Str("subject", subject).Msg("notification (log only)")
	return nil
}
