package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrClinicNotFound      = errors.New("clinic not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrConfigNotFound      = errors.New("schedule config not found")
	// ErrAppointmentChanged means the stored status moved since it was read.
	ErrAppointmentChanged = errors.New("appointment changed concurrently")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*schedule.Appointment, error)
	ListAppointments(ctx context.Context, f ListFilter) ([]schedule.Appointment, error)

	// For conflict checks: every non-cancelled appointment overlapping
	// [from, to), on all clinics.
	ListActiveOverlapping(ctx context.Context, from, to time.Time) ([]schedule.Appointment, error)

	// CreateAppointments stores all of appts or none of them.
	CreateAppointments(ctx context.Context, appts []schedule.Appointment) error
	// UpdateAppointment stores a only if the stored status is still from.
	UpdateAppointment(ctx context.Context, a *schedule.Appointment, from schedule.Status) error

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

// ConfigRepository stores the global schedule config (nil ClinicID) and
// per-clinic overrides.
type ConfigRepository interface {
	GetConfig(ctx context.Context, clinicID *uuid.UUID) (*schedule.Config, error)
	SaveConfig(ctx context.Context, cfg schedule.Config) error
}
