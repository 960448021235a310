package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const DefaultDurationMinutes = 50

type Kind string

const (
	KindSession  Kind = "session"
	KindBlocked  Kind = "blocked"
	KindPersonal Kind = "personal"
)

func (k Kind) Valid() bool {
	switch k {
	case KindSession, KindBlocked, KindPersonal:
		return true
	}
	return false
}

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusDone, StatusCancelled:
		return true
	}
	return false
}

var (
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrInvalidAppointment      = errors.New("invalid appointment")
)

// Appointment is one occupied interval on the practitioner calendar.
type Appointment struct {
	ID              uuid.UUID
	PatientID       *uuid.UUID
	DateTime        time.Time
	DurationMinutes int
	Kind            Kind
	Status          Status
	ClinicID        *uuid.UUID
	BlockReason     *string
	SeriesID        *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Appointment) End() time.Time {
	return a.DateTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

func (a Appointment) Interval() Interval {
	return Interval{Start: a.DateTime, End: a.End()}
}

func (a Appointment) IsCancelled() bool {
	return a.Status == StatusCancelled
}

// Validate checks the per-kind field rules.
func (a Appointment) Validate() error {
	if !a.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidAppointment, a.Kind)
	}
	if !a.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidAppointment, a.Status)
	}
	if a.DurationMinutes <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidAppointment)
	}
	if a.DateTime.IsZero() {
		return fmt.Errorf("%w: date_time is required", ErrInvalidAppointment)
	}
	switch a.Kind {
	case KindSession:
		if a.PatientID == nil || *a.PatientID == uuid.Nil {
			return fmt.Errorf("%w: session requires a patient", ErrInvalidAppointment)
		}
		if a.BlockReason != nil {
			return fmt.Errorf("%w: block reason only applies to blocked or personal time", ErrInvalidAppointment)
		}
	}
	return nil
}

// Confirm moves scheduled to confirmed.
func (a *Appointment) Confirm() error {
	if a.Status != StatusScheduled {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, a.Status, StatusConfirmed)
	}
	a.Status = StatusConfirmed
	return nil
}

// Complete moves scheduled or confirmed to done.
func (a *Appointment) Complete() error {
	if a.Status != StatusScheduled && a.Status != StatusConfirmed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, a.Status, StatusDone)
	}
	a.Status = StatusDone
	return nil
}

// Cancel moves scheduled or confirmed to cancelled.
func (a *Appointment) Cancel() error {
	if a.Status != StatusScheduled && a.Status != StatusConfirmed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, a.Status, StatusCancelled)
	}
	a.Status = StatusCancelled
	return nil
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports strict intersection; touching endpoints do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}
