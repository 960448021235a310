package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Clinic struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// BookRequest describes one interval to put on the calendar. Zero
// DurationMinutes means the configured default, empty Kind means session.
type BookRequest struct {
	PatientID       *uuid.UUID
	ClinicID        *uuid.UUID
	Start           time.Time
	DurationMinutes int
	Kind            schedule.Kind
	BlockReason     *string
}

type RecurringRequest struct {
	BookRequest
	Frequency schedule.Frequency
	Count     int
}

// ListFilter selects appointments. From/To select those starting in
// [From, To).
type ListFilter struct {
	From      *time.Time
	To        *time.Time
	PatientID *uuid.UUID
	ClinicID  *uuid.UUID
	SeriesID  *uuid.UUID
	Statuses  []schedule.Status
	Limit     int
	Offset    int
}

// CancelResult is what Cancel did, including the waitlist entry that was
// offered the freed interval, if any.
type CancelResult struct {
	Appointment *schedule.Appointment
	Offered     *WaitlistOffer
}

type WaitlistOffer struct {
	EntryID   uuid.UUID  `json:"entry_id"`
	PatientID uuid.UUID  `json:"patient_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
