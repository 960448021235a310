package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/internal/waitlist"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Send(ctx context.Context, patientID uuid.UUID, p notify.Payload) error {
	args := m.Called(ctx, patientID, p)
	return args.Error(0)
}

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	notifier *mockNotifier
	wl       *waitlist.Manager
	patient  uuid.UUID
	clinic   uuid.UUID
	now      time.Time
}

// Monday 10 June 2024, default config: 08-18 Mon-Fri, lunch 12-13.
var monday = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

func at(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.UTC)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := at(monday, 7, 0)
	clock := func() time.Time { return now }

	repo := NewMemoryRepository()
	patient := uuid.New()
	clinic := uuid.New()
	repo.AddPatient(Patient{ID: patient, Name: "Ana Souza"})
	repo.AddClinic(Clinic{ID: clinic, Name: "Centro"})

	wl := waitlist.NewManager(waitlist.NewMemoryRepository(), 24*time.Hour, waitlist.WithClock(clock))
	notifier := &mockNotifier{}
	svc := NewService(repo, repo, redisclient.NewProcessLocker(), wl, notifier, zerolog.Nop(), Options{Now: clock})

	return &fixture{svc: svc, repo: repo, notifier: notifier, wl: wl, patient: patient, clinic: clinic, now: now}
}

func (f *fixture) session(start time.Time) BookRequest {
	p := f.patient
	return BookRequest{PatientID: &p, Start: start}
}

func TestBook_DefaultsAndEvent(t *testing.T) {
	f := newFixture(t)

	appt, err := f.svc.Book(context.Background(), f.session(at(monday, 9, 0)))
	require.NoError(t, err)
	assert.Equal(t, schedule.KindSession, appt.Kind)
	assert.Equal(t, schedule.StatusScheduled, appt.Status)
	assert.Equal(t, schedule.DefaultDurationMinutes, appt.DurationMinutes)

	stored, err := f.svc.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.DateTime, stored.DateTime)

	events := f.repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventAppointmentCreated, events[0].EventType)
}

func TestBook_Conflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reason := "Staff meeting"
	block, err := f.svc.Book(ctx, BookRequest{
		Start:           at(monday, 10, 0),
		DurationMinutes: 60,
		Kind:            schedule.KindBlocked,
		BlockReason:     &reason,
	})
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, f.session(at(monday, 10, 30)))
	var ce *schedule.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, schedule.ReasonSlotOccupied, ce.Reason)
	assert.Equal(t, schedule.KindBlocked, ce.ConflictKind)
	assert.Equal(t, block.ID, ce.ConflictID)

	// Touching the end of the block is fine.
	_, err = f.svc.Book(ctx, f.session(at(monday, 11, 0)))
	assert.NoError(t, err)

	_, err = f.svc.Book(ctx, f.session(at(monday, 12, 0)))
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, schedule.ReasonNonWorkingTime, ce.Reason)

	_, err = f.svc.Book(ctx, f.session(at(monday.AddDate(0, 0, 5), 9, 0)))
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, schedule.ReasonNonWorkingTime, ce.Reason)
}

func TestBook_InvalidRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, BookRequest{Start: at(monday, 9, 0)})
	assert.ErrorIs(t, err, schedule.ErrInvalidAppointment, "session without patient")

	unknown := uuid.New()
	_, err = f.svc.Book(ctx, BookRequest{PatientID: &unknown, Start: at(monday, 9, 0)})
	assert.ErrorIs(t, err, ErrPatientNotFound)

	req := f.session(at(monday, 9, 0))
	req.ClinicID = &unknown
	_, err = f.svc.Book(ctx, req)
	assert.ErrorIs(t, err, ErrClinicNotFound)
}

func TestBook_ConcurrentRequestsNeverOverlap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Book(ctx, f.session(at(monday, 9, 0)))
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, schedule.ErrConflict)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)
}

func TestBook_ClinicConfigOverridesGlobal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	clinic := f.clinic
	cfg, err := schedule.NewConfig(&clinic, schedule.NewTimeOfDay(14, 0), schedule.NewTimeOfDay(20, 0), nil,
		[]time.Weekday{time.Monday}, time.UTC)
	require.NoError(t, err)
	require.NoError(t, f.svc.SaveConfig(ctx, *cfg))

	req := f.session(at(monday, 9, 0))
	req.ClinicID = &clinic
	_, err = f.svc.Book(ctx, req)
	assert.ErrorIs(t, err, schedule.ErrConflict, "clinic hours start at 14:00")

	req.Start = at(monday, 18, 0)
	_, err = f.svc.Book(ctx, req)
	assert.NoError(t, err)

	// Without a clinic the default config still applies.
	_, err = f.svc.Book(ctx, f.session(at(monday, 9, 0)))
	assert.NoError(t, err)
}

func TestBookRecurring_AllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Third weekly occurrence collides.
	_, err := f.svc.Book(ctx, f.session(at(monday.AddDate(0, 0, 14), 9, 30)))
	require.NoError(t, err)

	req := RecurringRequest{
		BookRequest: f.session(at(monday, 9, 0)),
		Frequency:   schedule.Weekly,
		Count:       4,
	}
	_, err = f.svc.BookRecurring(ctx, req)
	var rce *schedule.RecurrenceConflictError
	require.ErrorAs(t, err, &rce)
	assert.Equal(t, 3, rce.Index)
	assert.Equal(t, schedule.ReasonSlotOccupied, rce.Cause.Reason)

	all, err := f.svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1, "no occurrence of the rejected series is stored")

	req.Start = at(monday, 14, 0)
	created, err := f.svc.BookRecurring(ctx, req)
	require.NoError(t, err)
	require.Len(t, created, 4)
	seriesID := created[0].SeriesID
	require.NotNil(t, seriesID)
	for i, a := range created {
		assert.Equal(t, at(monday.AddDate(0, 0, 7*i), 14, 0), a.DateTime)
		assert.Equal(t, *seriesID, *a.SeriesID)
	}

	series, err := f.svc.List(ctx, ListFilter{SeriesID: seriesID})
	require.NoError(t, err)
	assert.Len(t, series, 4)
}

func TestBookRecurring_InvalidCount(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.BookRecurring(context.Background(), RecurringRequest{
		BookRequest: f.session(at(monday, 9, 0)),
		Frequency:   schedule.Weekly,
		Count:       0,
	})
	assert.ErrorIs(t, err, schedule.ErrInvalidCount)
}

func TestStatusTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.session(at(monday, 9, 0)))
	require.NoError(t, err)

	confirmed, err := f.svc.Confirm(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusConfirmed, confirmed.Status)

	_, err = f.svc.Confirm(ctx, appt.ID)
	assert.ErrorIs(t, err, schedule.ErrInvalidStatusTransition)

	done, err := f.svc.Complete(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusDone, done.Status)

	_, err = f.svc.Cancel(ctx, appt.ID, "")
	assert.ErrorIs(t, err, schedule.ErrInvalidStatusTransition)

	_, err = f.svc.Confirm(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestCancel_FreesIntervalAndNotifiesWaitlist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.session(at(monday, 9, 0)))
	require.NoError(t, err)

	waiting := uuid.New()
	f.repo.AddPatient(Patient{ID: waiting, Name: "Bruno Lima"})
	nine := schedule.NewTimeOfDay(9, 0)
	entry, err := f.svc.AddToWaitlist(ctx, waitlist.Entry{PatientID: waiting, DesiredDate: monday, DesiredTime: &nine})
	require.NoError(t, err)

	f.notifier.On("Send", mock.Anything, waiting, mock.MatchedBy(func(p notify.Payload) bool {
		return p.EntryID == entry.ID && p.SlotStart != nil && p.SlotStart.Equal(at(monday, 9, 0))
	})).Return(nil).Once()

	res, err := f.svc.Cancel(ctx, appt.ID, "patient request")
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusCancelled, res.Appointment.Status)
	require.NotNil(t, res.Offered)
	assert.Equal(t, entry.ID, res.Offered.EntryID)
	f.notifier.AssertExpectations(t)

	got, err := f.wl.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, waitlist.StatusNotified, got.Status)

	// The freed interval is bookable again.
	_, err = f.svc.Book(ctx, f.session(at(monday, 9, 0)))
	assert.NoError(t, err)
}

func TestCancel_NotificationFailureKeepsCancellation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.session(at(monday, 9, 0)))
	require.NoError(t, err)
	entry, err := f.svc.AddToWaitlist(ctx, waitlist.Entry{PatientID: f.patient, DesiredDate: monday})
	require.NoError(t, err)

	f.notifier.On("Send", mock.Anything, f.patient, mock.Anything).Return(errors.New("smtp down")).Once()

	res, err := f.svc.Cancel(ctx, appt.ID, "")
	assert.ErrorIs(t, err, ErrNotificationFailed)
	require.NotNil(t, res)
	assert.Equal(t, schedule.StatusCancelled, res.Appointment.Status)

	got, err := f.wl.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, waitlist.StatusNotified, got.Status)
}

func TestCancel_NoCandidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.session(at(monday, 9, 0)))
	require.NoError(t, err)

	res, err := f.svc.Cancel(ctx, appt.ID, "")
	require.NoError(t, err)
	assert.Nil(t, res.Offered)
	f.notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Book(ctx, f.session(at(monday, 9, 0)))
	require.NoError(t, err)
	second, err := f.svc.Book(ctx, f.session(at(monday, 10, 0)))
	require.NoError(t, err)

	// Moving within its own interval does not conflict with itself.
	moved, err := f.svc.Reschedule(ctx, first.ID, at(monday, 9, 5))
	require.NoError(t, err)
	assert.Equal(t, at(monday, 9, 5), moved.DateTime)

	_, err = f.svc.Reschedule(ctx, second.ID, at(monday, 9, 30))
	var ce *schedule.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, first.ID, ce.ConflictID)

	_, err = f.svc.Cancel(ctx, second.ID, "")
	require.NoError(t, err)
	_, err = f.svc.Reschedule(ctx, second.ID, at(monday, 14, 0))
	assert.ErrorIs(t, err, schedule.ErrInvalidStatusTransition)
}

func TestAvailableSlotsAndNextAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, f.session(at(monday, 8, 0)))
	require.NoError(t, err)

	day, err := f.svc.AvailableSlots(ctx, at(monday, 15, 0), nil, 30, 30)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-10", day.Date)
	assert.Len(t, day.Slots, 20)
	require.NotEmpty(t, day.Free)
	assert.Equal(t, at(monday, 9, 0), day.Free[0].Start)
	// 18 working slots minus 08:00 and 08:30 taken by the 50 minute session.
	assert.Len(t, day.Free, 16)

	next, ok, err := f.svc.NextAvailable(ctx, at(monday, 8, 0), nil, 50)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, at(monday, 9, 0), next)

	next, ok, err = f.svc.NextAvailable(ctx, at(monday.AddDate(0, 0, 4), 17, 45), nil, 50)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, at(monday.AddDate(0, 0, 7), 8, 0), next, "skips the weekend")
}

func TestMetrics_FiltersByClinic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	clinic := f.clinic
	inClinic := f.session(at(monday, 9, 0))
	inClinic.ClinicID = &clinic
	a, err := f.svc.Book(ctx, inClinic)
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, a.ID)
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, f.session(at(monday, 10, 0)))
	require.NoError(t, err)

	r := schedule.DateRange{From: monday, To: monday}
	all, err := f.svc.Metrics(ctx, r, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, all.Booked)
	assert.Equal(t, 18, all.Capacity)

	scoped, err := f.svc.Metrics(ctx, r, &clinic)
	require.NoError(t, err)
	assert.Equal(t, 1, scoped.Booked)
	assert.Equal(t, 1, scoped.Done)
	assert.InDelta(t, 100.0, scoped.CompletionRate, 0.001)
	require.Len(t, scoped.PerDay, 1)
}

func TestSweepWaitlist(t *testing.T) {
	now := at(monday, 7, 0)
	clock := func() time.Time { return now }

	repo := NewMemoryRepository()
	patient := uuid.New()
	repo.AddPatient(Patient{ID: patient})
	wl := waitlist.NewManager(waitlist.NewMemoryRepository(), 24*time.Hour, waitlist.WithClock(clock))
	svc := NewService(repo, repo, redisclient.NewProcessLocker(), wl, notify.NewLogNotifier(zerolog.Nop()), zerolog.Nop(), Options{Now: clock})
	ctx := context.Background()

	entry, err := svc.AddToWaitlist(ctx, waitlist.Entry{PatientID: patient, DesiredDate: monday})
	require.NoError(t, err)
	_, err = svc.NotifyWaitlistEntry(ctx, entry.ID)
	require.NoError(t, err)

	res, err := svc.SweepWaitlist(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Expired)

	now = now.Add(25 * time.Hour)
	res, err = svc.SweepWaitlist(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.Zero(t, res.Reoffered, "a manual notify carries no opening")

	_, err = svc.MarkWaitlistScheduled(ctx, entry.ID)
	assert.ErrorIs(t, err, waitlist.ErrInvalidTransition)

	var types []string
	for _, ev := range repo.Events() {
		types = append(types, ev.EventType)
	}
	assert.Contains(t, types, EventWaitlistNotified)
	assert.Contains(t, types, EventWaitlistExpired)
}

func TestSweepWaitlist_ReoffersLapsedOpening(t *testing.T) {
	now := at(monday, 7, 0)
	clock := func() time.Time { return now }

	repo := NewMemoryRepository()
	booker, first, second := uuid.New(), uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{booker, first, second} {
		repo.AddPatient(Patient{ID: id})
	}
	notifier := &mockNotifier{}
	wl := waitlist.NewManager(waitlist.NewMemoryRepository(), 24*time.Hour, waitlist.WithClock(clock))
	svc := NewService(repo, repo, redisclient.NewProcessLocker(), wl, notifier, zerolog.Nop(), Options{Now: clock})
	ctx := context.Background()

	appt, err := svc.Book(ctx, BookRequest{PatientID: &booker, Start: at(monday, 9, 0)})
	require.NoError(t, err)

	x, err := svc.AddToWaitlist(ctx, waitlist.Entry{PatientID: first, DesiredDate: monday})
	require.NoError(t, err)
	now = now.Add(time.Minute)
	y, err := svc.AddToWaitlist(ctx, waitlist.Entry{PatientID: second, DesiredDate: monday})
	require.NoError(t, err)

	notifier.On("Send", mock.Anything, first, mock.Anything).Return(nil).Once()
	res, err := svc.Cancel(ctx, appt.ID, "")
	require.NoError(t, err)
	require.NotNil(t, res.Offered)
	assert.Equal(t, x.ID, res.Offered.EntryID)

	notifier.On("Send", mock.Anything, second, mock.MatchedBy(func(p notify.Payload) bool {
		return p.EntryID == y.ID && p.SlotStart != nil && p.SlotStart.Equal(at(monday, 9, 0))
	})).Return(nil).Once()

	now = now.Add(25 * time.Hour)
	sweep, err := svc.SweepWaitlist(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Expired: 1, Reoffered: 1}, sweep)
	notifier.AssertExpectations(t)

	gotX, err := wl.Get(ctx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, waitlist.StatusExpired, gotX.Status)
	gotY, err := wl.Get(ctx, y.ID)
	require.NoError(t, err)
	assert.Equal(t, waitlist.StatusNotified, gotY.Status)
	require.NotNil(t, gotY.OfferedStart)
	assert.True(t, gotY.OfferedStart.Equal(at(monday, 9, 0)))

	sweep, err = svc.SweepWaitlist(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, sweep)
}

func TestSweepWaitlist_SkipsOpeningBookedMeanwhile(t *testing.T) {
	now := at(monday, 7, 0)
	clock := func() time.Time { return now }

	repo := NewMemoryRepository()
	booker, first, second := uuid.New(), uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{booker, first, second} {
		repo.AddPatient(Patient{ID: id})
	}
	notifier := &mockNotifier{}
	wl := waitlist.NewManager(waitlist.NewMemoryRepository(), 24*time.Hour, waitlist.WithClock(clock))
	svc := NewService(repo, repo, redisclient.NewProcessLocker(), wl, notifier, zerolog.Nop(), Options{Now: clock})
	ctx := context.Background()

	appt, err := svc.Book(ctx, BookRequest{PatientID: &booker, Start: at(monday, 9, 0)})
	require.NoError(t, err)
	_, err = svc.AddToWaitlist(ctx, waitlist.Entry{PatientID: first, DesiredDate: monday})
	require.NoError(t, err)
	now = now.Add(time.Minute)
	y, err := svc.AddToWaitlist(ctx, waitlist.Entry{PatientID: second, DesiredDate: monday})
	require.NoError(t, err)

	notifier.On("Send", mock.Anything, first, mock.Anything).Return(nil).Once()
	_, err = svc.Cancel(ctx, appt.ID, "")
	require.NoError(t, err)

	// Someone else takes the freed slot before the offer lapses.
	_, err = svc.Book(ctx, BookRequest{PatientID: &booker, Start: at(monday, 9, 0)})
	require.NoError(t, err)

	now = now.Add(25 * time.Hour)
	sweep, err := svc.SweepWaitlist(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Expired: 1}, sweep)
	notifier.AssertExpectations(t)

	gotY, err := wl.Get(ctx, y.ID)
	require.NoError(t, err)
	assert.Equal(t, waitlist.StatusWaiting, gotY.Status)
}
