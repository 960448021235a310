package waitlist

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/notify"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusNotified  Status = "notified"
	StatusScheduled Status = "scheduled"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

var (
	ErrEntryNotFound  = errors.New("waitlist entry not found")
	ErrInvalidEntry   = errors.New("invalid waitlist entry")
	ErrNoCandidate    = errors.New("no waitlist candidate for opening")
	ErrOpeningOffered = errors.New("opening already offered to a waitlist entry")
)

// ErrStaleEntry is returned by a repository when the stored status no longer
// matches the status the update was computed from.
var ErrStaleEntry = errors.New("waitlist entry changed concurrently")

// Entry is a patient waiting for an opening. At most one of DesiredTime or
// the TimeRangeStart/TimeRangeEnd pair is set; neither means any time.
type Entry struct {
	ID             uuid.UUID
	PatientID      uuid.UUID
	ClinicID       *uuid.UUID
	// DesiredDate is a calendar date. Only its year, month and day are read;
	// a DATE column scans back as midnight UTC.
	DesiredDate    time.Time
	DesiredTime    *schedule.TimeOfDay
	TimeRangeStart *schedule.TimeOfDay
	TimeRangeEnd   *schedule.TimeOfDay
	Service        *string
	Status         Status
	OfferedStart   *time.Time
	OfferedEnd     *time.Time
	NotifiedAt     *time.Time
	ExpiresAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (e Entry) Validate() error {
	if e.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", ErrInvalidEntry)
	}
	if e.DesiredDate.IsZero() {
		return fmt.Errorf("%w: desired_date is required", ErrInvalidEntry)
	}
	if e.DesiredTime != nil && (*e.DesiredTime < 0 || *e.DesiredTime >= schedule.EndOfDay) {
		return fmt.Errorf("%w: desired_time must fall within the day", ErrInvalidEntry)
	}
	hasRange := e.TimeRangeStart != nil || e.TimeRangeEnd != nil
	if e.DesiredTime != nil && hasRange {
		return fmt.Errorf("%w: desired_time and time range are mutually exclusive", ErrInvalidEntry)
	}
	if hasRange {
		if e.TimeRangeStart == nil || e.TimeRangeEnd == nil {
			return fmt.Errorf("%w: time range needs both start and end", ErrInvalidEntry)
		}
		if *e.TimeRangeStart >= *e.TimeRangeEnd {
			return fmt.Errorf("%w: time range start must be before end", ErrInvalidEntry)
		}
		if *e.TimeRangeStart < 0 || *e.TimeRangeEnd > schedule.EndOfDay {
			return fmt.Errorf("%w: time range must fall within the day", ErrInvalidEntry)
		}
	}
	return nil
}

// Opening is an interval freed by a cancellation.
type Opening struct {
	Start    time.Time
	End      time.Time
	ClinicID *uuid.UUID
}

// matches reports whether e wants the opening. The opening is read in loc;
// DesiredDate is compared by its calendar fields without a zone conversion.
func (e Entry) matches(o Opening, loc *time.Location) bool {
	start := o.Start.In(loc)
	if e.DesiredDate.Format(time.DateOnly) != start.Format(time.DateOnly) {
		return false
	}
	if e.ClinicID != nil && o.ClinicID != nil && *e.ClinicID != *o.ClinicID {
		return false
	}

	from := schedule.TimeOfDayOf(o.Start, loc)
	to := from + schedule.TimeOfDay(o.End.Sub(o.Start)/time.Minute)
	switch {
	case e.DesiredTime != nil:
		return *e.DesiredTime >= from && *e.DesiredTime < to
	case e.TimeRangeStart != nil && e.TimeRangeEnd != nil:
		return *e.TimeRangeStart < to && from < *e.TimeRangeEnd
	default:
		return true
	}
}

// Intent is a notification the caller must dispatch after a transition.
type Intent struct {
	EntryID   uuid.UUID
	PatientID uuid.UUID
	Payload   notify.Payload
}

func newIntent(e Entry, loc *time.Location) Intent {
	p := notify.Payload{
		Type:      notify.TypeWaitlistOpening,
		EntryID:   e.ID,
		Subject:   "An appointment slot is available",
		ExpiresAt: e.ExpiresAt,
	}
	if e.OfferedStart != nil {
		p.SlotStart = e.OfferedStart
		p.Message = fmt.Sprintf("A slot opened on %s. Book it before %s to keep it.",
			e.OfferedStart.In(loc).Format("Mon 02 Jan 15:04"), formatDeadline(e.ExpiresAt, loc))
	} else {
		p.Message = fmt.Sprintf("A slot opened on %s. Book it before %s to keep it.",
			e.DesiredDate.Format("Mon 02 Jan"), formatDeadline(e.ExpiresAt, loc))
	}
	return Intent{EntryID: e.ID, PatientID: e.PatientID, Payload: p}
}

func formatDeadline(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "it is taken"
	}
	return t.In(loc).Format("Mon 02 Jan 15:04")
}
