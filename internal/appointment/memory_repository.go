package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

// MemoryRepository implements Repository and ConfigRepository in process
// memory. Used by tests and single-process tools.
type MemoryRepository struct {
	mu           sync.RWMutex
	patients     map[uuid.UUID]Patient
	clinics      map[uuid.UUID]Clinic
	appointments map[uuid.UUID]schedule.Appointment
	configs      map[uuid.UUID]schedule.Config // uuid.Nil holds the global config
	events       []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patients:     make(map[uuid.UUID]Patient),
		clinics:      make(map[uuid.UUID]Clinic),
		appointments: make(map[uuid.UUID]schedule.Appointment),
		configs:      make(map[uuid.UUID]schedule.Config),
	}
}

func (r *MemoryRepository) AddPatient(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[p.ID] = p
}

func (r *MemoryRepository) AddClinic(c Clinic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clinics[c.ID] = c
}

// Events returns a copy of the recorded event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}

func (r *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetClinicByID(_ context.Context, id uuid.UUID) (*Clinic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clinics[id]
	if !ok {
		return nil, ErrClinicNotFound
	}
	return &c, nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*schedule.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) ListAppointments(_ context.Context, f ListFilter) ([]schedule.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []schedule.Appointment
	for _, a := range r.appointments {
		if f.match(a) {
			out = append(out, a)
		}
	}
	sortByStart(out)

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) ListActiveOverlapping(_ context.Context, from, to time.Time) ([]schedule.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	window := schedule.Interval{Start: from, End: to}
	var out []schedule.Appointment
	for _, a := range r.appointments {
		if a.IsCancelled() || !a.Interval().Overlaps(window) {
			continue
		}
		out = append(out, a)
	}
	sortByStart(out)
	return out, nil
}

func (r *MemoryRepository) CreateAppointments(_ context.Context, appts []schedule.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range appts {
		r.appointments[a.ID] = a
	}
	return nil
}

func (r *MemoryRepository) UpdateAppointment(_ context.Context, a *schedule.Appointment, from schedule.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.appointments[a.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	if cur.Status != from {
		return ErrAppointmentChanged
	}
	r.appointments[a.ID] = *a
	return nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

func (r *MemoryRepository) GetConfig(_ context.Context, clinicID *uuid.UUID) (*schedule.Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := uuid.Nil
	if clinicID != nil {
		key = *clinicID
	}
	cfg, ok := r.configs[key]
	if !ok {
		return nil, ErrConfigNotFound
	}
	return &cfg, nil
}

func (r *MemoryRepository) SaveConfig(_ context.Context, cfg schedule.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := uuid.Nil
	if cfg.ClinicID != nil {
		key = *cfg.ClinicID
	}
	r.configs[key] = cfg
	return nil
}

func (f ListFilter) match(a schedule.Appointment) bool {
	if f.From != nil && a.DateTime.Before(*f.From) {
		return false
	}
	if f.To != nil && !a.DateTime.Before(*f.To) {
		return false
	}
	if f.PatientID != nil && (a.PatientID == nil || *a.PatientID != *f.PatientID) {
		return false
	}
	if f.ClinicID != nil && (a.ClinicID == nil || *a.ClinicID != *f.ClinicID) {
		return false
	}
	if f.SeriesID != nil && (a.SeriesID == nil || *a.SeriesID != *f.SeriesID) {
		return false
	}
	if len(f.Statuses) > 0 {
		for _, s := range f.Statuses {
			if a.Status == s {
				return true
			}
		}
		return false
	}
	return true
}

func sortByStart(appts []schedule.Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].DateTime.Equal(appts[j].DateTime) {
			return appts[i].ID.String() < appts[j].ID.String()
		}
		return appts[i].DateTime.Before(appts[j].DateTime)
	})
}
