package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/internal/waitlist"
)

const (
	EventAppointmentCreated     = "APPOINTMENT_CREATED"
	EventSeriesCreated          = "SERIES_CREATED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventWaitlistNotified       = "WAITLIST_NOTIFIED"
	EventWaitlistExpired        = "WAITLIST_EXPIRED"
)

const (
	DefaultCalendarID = "practitioner"
	DefaultSearchDays = 60
)

var (
	ErrCalendarBusy       = errors.New("calendar is currently being modified, please retry")
	ErrNotificationFailed = errors.New("waitlist notification failed")
)

type Options struct {
	SlotStepMinutes        int
	DefaultDurationMinutes int
	// CalendarID names the lock that serializes bookings. All clinics share
	// one practitioner calendar.
	CalendarID string
	SearchDays int
	Now        func() time.Time
}

func (o *Options) setDefaults() {
	if o.SlotStepMinutes <= 0 {
		o.SlotStepMinutes = schedule.DefaultSlotStepMinutes
	}
	if o.DefaultDurationMinutes <= 0 {
		o.DefaultDurationMinutes = schedule.DefaultDurationMinutes
	}
	if o.CalendarID == "" {
		o.CalendarID = DefaultCalendarID
	}
	if o.SearchDays <= 0 {
		o.SearchDays = DefaultSearchDays
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type Service struct {
	repo     Repository
	configs  ConfigRepository
	locker   redisclient.Locker
	waitlist *waitlist.Manager
	notifier notify.Notifier
	log      zerolog.Logger
	opts     Options
}

func NewService(
	repo Repository,
	configs ConfigRepository,
	locker redisclient.Locker,
	wl *waitlist.Manager,
	notifier notify.Notifier,
	log zerolog.Logger,
	opts Options,
) *Service {
	opts.setDefaults()
	return &Service{
		repo:     repo,
		configs:  configs,
		locker:   locker,
		waitlist: wl,
		notifier: notifier,
		log:      log.With().Str("component", "appointment").Logger(),
		opts:     opts,
	}
}

// ResolveConfig returns the schedule config that applies to clinicID. A
// clinic override replaces the global config as a whole.
func (s *Service) ResolveConfig(ctx context.Context, clinicID *uuid.UUID) (schedule.Config, error) {
	global, err := s.configs.GetConfig(ctx, nil)
	if err != nil && !errors.Is(err, ErrConfigNotFound) {
		return schedule.Config{}, fmt.Errorf("load global config: %w", err)
	}
	var clinic *schedule.Config
	if clinicID != nil {
		clinic, err = s.configs.GetConfig(ctx, clinicID)
		if err != nil && !errors.Is(err, ErrConfigNotFound) {
			return schedule.Config{}, fmt.Errorf("load clinic config: %w", err)
		}
	}
	return schedule.Resolve(global, clinic), nil
}

func (s *Service) SaveConfig(ctx context.Context, cfg schedule.Config) error {
	if cfg.ClinicID != nil {
		if _, err := s.repo.GetClinicByID(ctx, *cfg.ClinicID); err != nil {
			return err
		}
	}
	return s.configs.SaveConfig(ctx, cfg)
}

// newAppointment checks the references in req and builds the appointment
// to insert. It does not look at the calendar.
func (s *Service) newAppointment(ctx context.Context, req BookRequest) (schedule.Appointment, error) {
	if req.Kind == "" {
		req.Kind = schedule.KindSession
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = s.opts.DefaultDurationMinutes
	}

	if req.PatientID != nil {
		if _, err := s.repo.GetPatientByID(ctx, *req.PatientID); err != nil {
			if errors.Is(err, ErrPatientNotFound) {
				return schedule.Appointment{}, err
			}
			return schedule.Appointment{}, fmt.Errorf("load patient: %w", err)
		}
	}
	if req.ClinicID != nil {
		if _, err := s.repo.GetClinicByID(ctx, *req.ClinicID); err != nil {
			if errors.Is(err, ErrClinicNotFound) {
				return schedule.Appointment{}, err
			}
			return schedule.Appointment{}, fmt.Errorf("load clinic: %w", err)
		}
	}

	now := s.opts.Now()
	a := schedule.Appointment{
		ID:              uuid.New(),
		PatientID:       req.PatientID,
		DateTime:        req.Start,
		DurationMinutes: req.DurationMinutes,
		Kind:            req.Kind,
		Status:          schedule.StatusScheduled,
		ClinicID:        req.ClinicID,
		BlockReason:     req.BlockReason,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := a.Validate(); err != nil {
		return schedule.Appointment{}, err
	}
	return a, nil
}

// withCalendar runs fn inside the per-calendar critical section.
func (s *Service) withCalendar(ctx context.Context, fn func(ctx context.Context) error) error {
	err := s.locker.WithCalendarLock(ctx, s.opts.CalendarID, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrCalendarBusy
	}
	return err
}

// Book validates one appointment against the calendar and stores it.
// The snapshot read, the validation and the insert happen under the calendar
// lock so two concurrent requests cannot both pass against a stale snapshot.
func (s *Service) Book(ctx context.Context, req BookRequest) (*schedule.Appointment, error) {
	appt, err := s.newAppointment(ctx, req)
	if err != nil {
		return nil, err
	}
	cfg, err := s.ResolveConfig(ctx, appt.ClinicID)
	if err != nil {
		return nil, err
	}

	err = s.withCalendar(ctx, func(lockCtx context.Context) error {
		existing, err := s.repo.ListActiveOverlapping(lockCtx, appt.DateTime, appt.End())
		if err != nil {
			return fmt.Errorf("load calendar: %w", err)
		}
		if err := schedule.Validate(cfg, appt.DateTime, appt.DurationMinutes, existing, uuid.Nil); err != nil {
			return err
		}
		if err := s.repo.CreateAppointments(lockCtx, []schedule.Appointment{appt}); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		s.logEvent(lockCtx, &appt.ID, EventAppointmentCreated, map[string]any{
			"date_time": appt.DateTime,
			"duration":  appt.DurationMinutes,
			"kind":      appt.Kind,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &appt, nil
}

// BookRecurring expands the series and books every occurrence, or none.
func (s *Service) BookRecurring(ctx context.Context, req RecurringRequest) ([]schedule.Appointment, error) {
	template, err := s.newAppointment(ctx, req.BookRequest)
	if err != nil {
		return nil, err
	}
	cfg, err := s.ResolveConfig(ctx, template.ClinicID)
	if err != nil {
		return nil, err
	}

	// Expand in the clinic's zone so weekly steps keep the wall-clock time
	// across DST changes.
	base := req.Start.In(cfg.Loc())
	planned, err := schedule.Expand(base, req.Frequency, req.Count)
	if err != nil {
		return nil, err
	}
	window := schedule.Window(planned, template.DurationMinutes)

	var created []schedule.Appointment
	err = s.withCalendar(ctx, func(lockCtx context.Context) error {
		existing, err := s.repo.ListActiveOverlapping(lockCtx, window.Start, window.End)
		if err != nil {
			return fmt.Errorf("load calendar: %w", err)
		}
		occurrences, err := schedule.ExpandAndValidate(cfg, base, req.Frequency, req.Count, template.DurationMinutes, existing)
		if err != nil {
			return err
		}

		seriesID := uuid.New()
		batch := make([]schedule.Appointment, len(occurrences))
		for i, t := range occurrences {
			a := template
			a.ID = uuid.New()
			a.DateTime = t
			a.SeriesID = &seriesID
			batch[i] = a
		}
		if err := s.repo.CreateAppointments(lockCtx, batch); err != nil {
			return fmt.Errorf("create series: %w", err)
		}
		created = batch

		s.logEvent(lockCtx, &batch[0].ID, EventSeriesCreated, map[string]any{
			"series_id": seriesID.String(),
			"frequency": req.Frequency,
			"count":     len(batch),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*schedule.Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]schedule.Appointment, error) {
	if f.Limit <= 0 {
		f.Limit = 50 // default
	}
	if f.Limit > 500 {
		f.Limit = 500 // max
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	appts, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*schedule.Appointment, error) {
	return s.transition(ctx, id, EventAppointmentConfirmed, (*schedule.Appointment).Confirm, nil)
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*schedule.Appointment, error) {
	return s.transition(ctx, id, EventAppointmentCompleted, (*schedule.Appointment).Complete, nil)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, event string, apply func(*schedule.Appointment) error, extra map[string]any) (*schedule.Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	from := appt.Status
	if err := apply(appt); err != nil {
		return nil, err
	}
	appt.UpdatedAt = s.opts.Now()

	if err := s.repo.UpdateAppointment(ctx, appt, from); err != nil {
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	payload := map[string]any{
		"from": from,
		"to":   appt.Status,
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.logEvent(ctx, &appt.ID, event, payload)
	return appt, nil
}

// Cancel frees the appointment's interval and offers it to the waitlist.
// When the offer cannot be delivered the cancelled appointment is still
// returned together with an error wrapping ErrNotificationFailed; the entry
// stays notified and the sweep expires it.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*CancelResult, error) {
	var extra map[string]any
	if reason != "" {
		extra = map[string]any{"reason": reason}
	}
	appt, err := s.transition(ctx, id, EventAppointmentCancelled, (*schedule.Appointment).Cancel, extra)
	if err != nil {
		return nil, err
	}

	res := &CancelResult{Appointment: appt}
	if s.waitlist == nil {
		return res, nil
	}

	cfg, err := s.ResolveConfig(ctx, appt.ClinicID)
	if err != nil {
		return res, err
	}
	if !cfg.IsWorkingTime(appt.DateTime) {
		return res, nil
	}

	entry, intent, err := s.waitlist.MatchOpening(ctx, waitlist.Opening{
		Start:    appt.DateTime,
		End:      appt.End(),
		ClinicID: appt.ClinicID,
	})
	switch {
	case errors.Is(err, waitlist.ErrNoCandidate), errors.Is(err, waitlist.ErrOpeningOffered):
		return res, nil
	case err != nil:
		return res, fmt.Errorf("match waitlist: %w", err)
	}

	res.Offered = &WaitlistOffer{EntryID: entry.ID, PatientID: entry.PatientID, ExpiresAt: entry.ExpiresAt}
	return res, s.dispatch(ctx, intent)
}

// Reschedule moves an active appointment to newStart after re-validating it
// against everything else on the calendar.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time) (*schedule.Appointment, error) {
	var updated *schedule.Appointment

	err := s.withCalendar(ctx, func(lockCtx context.Context) error {
		appt, err := s.repo.GetAppointmentByID(lockCtx, id)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		if appt.Status != schedule.StatusScheduled && appt.Status != schedule.StatusConfirmed {
			return fmt.Errorf("%w: cannot reschedule a %s appointment", schedule.ErrInvalidStatusTransition, appt.Status)
		}

		cfg, err := s.ResolveConfig(lockCtx, appt.ClinicID)
		if err != nil {
			return err
		}
		end := newStart.Add(time.Duration(appt.DurationMinutes) * time.Minute)
		existing, err := s.repo.ListActiveOverlapping(lockCtx, newStart, end)
		if err != nil {
			return fmt.Errorf("load calendar: %w", err)
		}
		if err := schedule.Validate(cfg, newStart, appt.DurationMinutes, existing, appt.ID); err != nil {
			return err
		}

		previous := appt.DateTime
		appt.DateTime = newStart
		appt.UpdatedAt = s.opts.Now()
		if err := s.repo.UpdateAppointment(lockCtx, appt, appt.Status); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		updated = appt

		s.logEvent(lockCtx, &appt.ID, EventAppointmentRescheduled, map[string]any{
			"from": previous,
			"to":   newStart,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// DaySlots is the slot grid for one day plus the subset that can still take
// a booking of the requested duration.
type DaySlots struct {
	Date  string
	Slots []schedule.Slot
	Free  []schedule.Slot
}

// AvailableSlots lists the slot grid of the calendar date of date.
func (s *Service) AvailableSlots(ctx context.Context, date time.Time, clinicID *uuid.UUID, stepMinutes, durationMinutes int) (*DaySlots, error) {
	if stepMinutes <= 0 {
		stepMinutes = s.opts.SlotStepMinutes
	}
	if durationMinutes <= 0 {
		durationMinutes = s.opts.DefaultDurationMinutes
	}
	cfg, err := s.ResolveConfig(ctx, clinicID)
	if err != nil {
		return nil, err
	}

	dayStart := calendarDay(date, cfg.Loc())
	dayEnd := dayStart.AddDate(0, 0, 1)

	// Appointments may run past midnight into the next day.
	existing, err := s.repo.ListActiveOverlapping(ctx, dayStart, dayEnd.Add(time.Duration(durationMinutes)*time.Minute))
	if err != nil {
		return nil, fmt.Errorf("load calendar: %w", err)
	}

	slots := schedule.GenerateSlots(dayStart, cfg, stepMinutes)
	return &DaySlots{
		Date:  dayStart.Format(time.DateOnly),
		Slots: slots,
		Free:  schedule.FreeSlots(slots, cfg, durationMinutes, existing),
	}, nil
}

// NextAvailable finds the first free slot at or after from.
func (s *Service) NextAvailable(ctx context.Context, from time.Time, clinicID *uuid.UUID, durationMinutes int) (time.Time, bool, error) {
	if durationMinutes <= 0 {
		durationMinutes = s.opts.DefaultDurationMinutes
	}
	cfg, err := s.ResolveConfig(ctx, clinicID)
	if err != nil {
		return time.Time{}, false, err
	}

	until := from.AddDate(0, 0, s.opts.SearchDays+1)
	existing, err := s.repo.ListActiveOverlapping(ctx, from.AddDate(0, 0, -1), until)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load calendar: %w", err)
	}

	t, ok := schedule.NextAvailable(from, cfg, s.opts.SlotStepMinutes, durationMinutes, s.opts.SearchDays, existing)
	return t, ok, nil
}

// Metrics computes occupancy for the clinic over the calendar dates of r. A
// nil clinicID covers every appointment.
func (s *Service) Metrics(ctx context.Context, r schedule.DateRange, clinicID *uuid.UUID) (schedule.Metrics, error) {
	cfg, err := s.ResolveConfig(ctx, clinicID)
	if err != nil {
		return schedule.Metrics{}, err
	}

	r = schedule.DateRange{From: calendarDay(r.From, cfg.Loc()), To: calendarDay(r.To, cfg.Loc())}
	from, to := r.From, r.To.AddDate(0, 0, 1)

	appts, err := s.repo.ListAppointments(ctx, ListFilter{From: &from, To: &to, ClinicID: clinicID})
	if err != nil {
		return schedule.Metrics{}, fmt.Errorf("list appointments: %w", err)
	}
	return schedule.ComputeMetrics(appts, r, cfg, s.opts.SlotStepMinutes), nil
}

// calendarDay is midnight in loc of the calendar date written in t. Only
// the year, month and day of t are used.
func calendarDay(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Waitlist host operations

func (s *Service) AddToWaitlist(ctx context.Context, e waitlist.Entry) (*waitlist.Entry, error) {
	if _, err := s.repo.GetPatientByID(ctx, e.PatientID); err != nil {
		return nil, err
	}
	return s.waitlist.Add(ctx, e)
}

func (s *Service) ListWaitlist(ctx context.Context, f waitlist.Filter) ([]waitlist.Entry, error) {
	return s.waitlist.List(ctx, f)
}

// NotifyWaitlistEntry notifies one entry by hand and dispatches the message.
func (s *Service) NotifyWaitlistEntry(ctx context.Context, id uuid.UUID) (*waitlist.Entry, error) {
	entry, intent, err := s.waitlist.Notify(ctx, id)
	if err != nil {
		return nil, err
	}
	return entry, s.dispatch(ctx, intent)
}

func (s *Service) MarkWaitlistScheduled(ctx context.Context, id uuid.UUID) (*waitlist.Entry, error) {
	return s.waitlist.MarkScheduled(ctx, id)
}

func (s *Service) RemoveFromWaitlist(ctx context.Context, id uuid.UUID) (*waitlist.Entry, error) {
	return s.waitlist.Remove(ctx, id)
}

// SweepResult reports one sweep: entries whose offer lapsed and the entries
// that received a lapsed opening in their place.
type SweepResult struct {
	Expired   int
	Reoffered int
}

// SweepWaitlist expires lapsed offers and passes each opening that is still
// free to the next waiting entry. Notification failures are joined into the
// returned error; the sweep carries on with the remaining openings.
func (s *Service) SweepWaitlist(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	expired, err := s.waitlist.SweepExpired(ctx, s.opts.Now())
	res.Expired = len(expired)
	for _, e := range expired {
		s.logEvent(ctx, nil, EventWaitlistExpired, map[string]any{
			"entry_id":   e.ID.String(),
			"patient_id": e.PatientID.String(),
		})
	}
	if err != nil {
		return res, fmt.Errorf("sweep waitlist: %w", err)
	}

	var errs []error
	for _, e := range expired {
		if e.OfferedStart == nil || e.OfferedEnd == nil {
			continue
		}
		intent, err := s.reoffer(ctx, waitlist.Opening{Start: *e.OfferedStart, End: *e.OfferedEnd, ClinicID: e.ClinicID})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if intent == nil {
			continue
		}
		res.Reoffered++
		if err := s.dispatch(ctx, intent); err != nil {
			errs = append(errs, err)
		}
	}
	return res, errors.Join(errs...)
}

// reoffer matches an opening again once the calendar confirms it is still
// free. It returns a nil intent when the opening was taken or nobody wants it.
func (s *Service) reoffer(ctx context.Context, o waitlist.Opening) (*waitlist.Intent, error) {
	clinicID, err := s.cancelledClinicAt(ctx, o.Start)
	if err != nil {
		return nil, err
	}
	if clinicID != nil {
		o.ClinicID = clinicID
	}
	cfg, err := s.ResolveConfig(ctx, o.ClinicID)
	if err != nil {
		return nil, err
	}
	minutes := int(o.End.Sub(o.Start) / time.Minute)

	var intent *waitlist.Intent
	err = s.withCalendar(ctx, func(lockCtx context.Context) error {
		existing, err := s.repo.ListActiveOverlapping(lockCtx, o.Start, o.End)
		if err != nil {
			return fmt.Errorf("load calendar: %w", err)
		}
		if schedule.Validate(cfg, o.Start, minutes, existing, uuid.Nil) != nil {
			return nil
		}
		_, intent, err = s.waitlist.MatchOpening(lockCtx, o)
		switch {
		case errors.Is(err, waitlist.ErrNoCandidate), errors.Is(err, waitlist.ErrOpeningOffered):
			intent = nil
			return nil
		case err != nil:
			return fmt.Errorf("match waitlist: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return intent, nil
}

// cancelledClinicAt returns the clinic of the cancelled appointment that
// freed the opening at start, when there is one.
func (s *Service) cancelledClinicAt(ctx context.Context, start time.Time) (*uuid.UUID, error) {
	to := start.Add(time.Minute)
	appts, err := s.repo.ListAppointments(ctx, ListFilter{
		From:     &start,
		To:       &to,
		Statuses: []schedule.Status{schedule.StatusCancelled},
	})
	if err != nil {
		return nil, fmt.Errorf("load cancelled appointments: %w", err)
	}
	for _, a := range appts {
		if a.DateTime.Equal(start) && a.ClinicID != nil {
			return a.ClinicID, nil
		}
	}
	return nil, nil
}

func (s *Service) dispatch(ctx context.Context, intent *waitlist.Intent) error {
	if intent == nil || s.notifier == nil {
		return nil
	}

	if err := s.notifier.Send(ctx, intent.PatientID, intent.Payload); err != nil {
		s.log.Error().Err(err).
			Str("entry_id", intent.EntryID.String()).
			Msg("failed to dispatch waitlist notification")
		return fmt.Errorf("%w: %w", ErrNotificationFailed, err)
	}

	s.logEvent(ctx, nil, EventWaitlistNotified, map[string]any{
		"entry_id":   intent.EntryID.String(),
		"patient_id": intent.PatientID.String(),
	})
	return nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     s.opts.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("failed to insert event log")
	}
}
