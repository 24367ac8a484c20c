package slot

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status of a bookable slot. BOOKED is derived from capacity and may only
// be left by releasing an assignment, never by a direct status edit.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusBooked      Status = "booked"
	StatusUnavailable Status = "unavailable"
)

var validStatuses = map[Status]bool{
	StatusAvailable: true, StatusBooked: true, StatusUnavailable: true,
}

const dateLayout = "2006-01-02"

// TimeWindow is one calendar-dated working window of a slot. The interval
// is [start, end) in minutes-of-day.
type TimeWindow struct {
	Date        string `json:"date"`
	StartHour   int    `json:"start_hour"`
	StartMinute int    `json:"start_minute"`
	EndHour     int    `json:"end_hour"`
	EndMinute   int    `json:"end_minute"`
}

// Validate checks the calendar date is real and the time-of-day bounds are
// in range with end strictly after start.
func (w TimeWindow) Validate() error {
	if _, err := time.Parse(dateLayout, w.Date); err != nil {
		return fmt.Errorf("invalid date %q: %w", w.Date, err)
	}
	if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 23 {
		return fmt.Errorf("hour out of range in window %s", w.Date)
	}
	if w.StartMinute < 0 || w.StartMinute > 59 || w.EndMinute < 0 || w.EndMinute > 59 {
		return fmt.Errorf("minute out of range in window %s", w.Date)
	}
	if w.EndMinutes() <= w.StartMinutes() {
		return fmt.Errorf("window %s ends at or before it starts", w.Date)
	}
	return nil
}

func (w TimeWindow) StartMinutes() int { return w.StartHour*60 + w.StartMinute }
func (w TimeWindow) EndMinutes() int   { return w.EndHour*60 + w.EndMinute }

// Overlaps reports whether two windows intersect on the same calendar date.
func (w TimeWindow) Overlaps(other TimeWindow) bool {
	if w.Date != other.Date {
		return false
	}
	return w.StartMinutes() < other.EndMinutes() && other.StartMinutes() < w.EndMinutes()
}

// StartTime returns the window's opening instant in the given location.
func (w TimeWindow) StartTime(loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, w.Date, loc)
	if err != nil {
		return time.Time{}, err
	}
	return d.Add(time.Duration(w.StartMinutes()) * time.Minute), nil
}

// Slot is a staffed, capacity-bounded booking unit.
type Slot struct {
	ID               uuid.UUID    `db:"id" json:"id"`
	StaffIDs         []uuid.UUID  `db:"staff_ids" json:"staff_ids"`
	AppointmentLimit int          `db:"appointment_limit" json:"appointment_limit"`
	AssignedCount    int          `db:"assigned_count" json:"assigned_count"`
	Status           Status       `db:"status" json:"status"`
	Windows          []TimeWindow `db:"windows" json:"windows"`
	VersionID        int          `db:"version_id" json:"version_id"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at" json:"updated_at"`
}

// GetVersionID returns the current version.
func (s *Slot) GetVersionID() int { return s.VersionID }

// SetVersionID sets the current version.
func (s *Slot) SetVersionID(v int) { s.VersionID = v }

// IsFull reports whether the slot has reached its appointment limit.
func (s *Slot) IsFull() bool {
	return s.AssignedCount >= s.AppointmentLimit
}

// HasStaff reports whether the given staff member is on the slot's roster.
func (s *Slot) HasStaff(id uuid.UUID) bool {
	for _, sid := range s.StaffIDs {
		if sid == id {
			return true
		}
	}
	return false
}
