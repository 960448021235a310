package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	ReasonNonWorkingTime = "non-working time"
	ReasonSlotOccupied   = "time slot occupied"
)

var ErrConflict = errors.New("scheduling conflict")

// ConflictError describes why a candidate interval cannot be booked.
// ConflictKind and ConflictID are set only for ReasonSlotOccupied.
type ConflictError struct {
	Reason       string
	Start        time.Time
	ConflictKind Kind
	ConflictID   uuid.UUID
}

func (e *ConflictError) Error() string {
	if e.Reason == ReasonSlotOccupied {
		return fmt.Sprintf("%s at %s (conflicts with %s %s)", e.Reason, e.Start.Format(time.RFC3339), e.ConflictKind, e.ConflictID)
	}
	return fmt.Sprintf("%s at %s", e.Reason, e.Start.Format(time.RFC3339))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Message is the text shown to whoever tried to book.
func (e *ConflictError) Message() string {
	if e.Reason == ReasonNonWorkingTime {
		return "The selected time is outside working hours."
	}
	switch e.ConflictKind {
	case KindBlocked:
		return "This time is blocked on the calendar."
	case KindPersonal:
		return "This time is reserved for a personal commitment."
	default:
		return "Another session is already booked at this time."
	}
}

// Validate decides whether [start, start+duration) is free. Cancelled
// appointments and the one with excludeID are ignored. Clinic scope is not
// considered: every location shares one practitioner calendar.
func Validate(cfg Config, start time.Time, durationMinutes int, existing []Appointment, excludeID uuid.UUID) error {
	if durationMinutes <= 0 {
		durationMinutes = DefaultDurationMinutes
	}

	if !cfg.IsWorkingTime(start) {
		return &ConflictError{Reason: ReasonNonWorkingTime, Start: start}
	}

	candidate := Interval{Start: start, End: start.Add(time.Duration(durationMinutes) * time.Minute)}
	for _, a := range existing {
		if a.IsCancelled() {
			continue
		}
		if excludeID != uuid.Nil && a.ID == excludeID {
			continue
		}
		if candidate.Overlaps(a.Interval()) {
			return &ConflictError{
				Reason:       ReasonSlotOccupied,
				Start:        start,
				ConflictKind: a.Kind,
				ConflictID:   a.ID,
			}
		}
	}
	return nil
}
