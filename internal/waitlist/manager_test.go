package waitlist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/notify"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestManager(t *testing.T) (*Manager, *MemoryRepository, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)}
	repo := NewMemoryRepository()
	return NewManager(repo, 24*time.Hour, WithClock(clock.Now)), repo, clock
}

func tp(v schedule.TimeOfDay) *schedule.TimeOfDay { return &v }

var june12 = time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC)

func TestEntry_Validate(t *testing.T) {
	base := Entry{PatientID: uuid.New(), DesiredDate: june12}
	assert.NoError(t, base.Validate())

	withTime := base
	withTime.DesiredTime = tp(schedule.NewTimeOfDay(10, 0))
	assert.NoError(t, withTime.Validate())

	withRange := base
	withRange.TimeRangeStart = tp(schedule.NewTimeOfDay(9, 0))
	withRange.TimeRangeEnd = tp(schedule.NewTimeOfDay(12, 0))
	assert.NoError(t, withRange.Validate())

	both := withRange
	both.DesiredTime = tp(schedule.NewTimeOfDay(10, 0))
	assert.ErrorIs(t, both.Validate(), ErrInvalidEntry)

	halfRange := base
	halfRange.TimeRangeStart = tp(schedule.NewTimeOfDay(9, 0))
	assert.ErrorIs(t, halfRange.Validate(), ErrInvalidEntry)

	backwards := base
	backwards.TimeRangeStart = tp(schedule.NewTimeOfDay(12, 0))
	backwards.TimeRangeEnd = tp(schedule.NewTimeOfDay(9, 0))
	assert.ErrorIs(t, backwards.Validate(), ErrInvalidEntry)

	noPatient := base
	noPatient.PatientID = uuid.Nil
	assert.ErrorIs(t, noPatient.Validate(), ErrInvalidEntry)

	midnight := base
	midnight.DesiredTime = tp(schedule.EndOfDay)
	assert.ErrorIs(t, midnight.Validate(), ErrInvalidEntry)

	untilMidnight := base
	untilMidnight.TimeRangeStart = tp(schedule.NewTimeOfDay(20, 0))
	untilMidnight.TimeRangeEnd = tp(schedule.EndOfDay)
	assert.NoError(t, untilMidnight.Validate())
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusWaiting, StatusNotified))
	assert.True(t, CanTransition(StatusWaiting, StatusScheduled))
	assert.True(t, CanTransition(StatusWaiting, StatusCancelled))
	assert.True(t, CanTransition(StatusNotified, StatusExpired))
	assert.False(t, CanTransition(StatusWaiting, StatusExpired))

	for _, terminal := range []Status{StatusScheduled, StatusExpired, StatusCancelled} {
		assert.True(t, terminal.Terminal())
		for _, to := range []Status{StatusWaiting, StatusNotified, StatusScheduled, StatusExpired, StatusCancelled} {
			assert.False(t, CanTransition(terminal, to), "%s -> %s", terminal, to)
		}
	}
}

func TestManager_AddNormalizesEntry(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	e, err := m.Add(ctx, Entry{
		PatientID:   uuid.New(),
		DesiredDate: june12.Add(15 * time.Hour),
		Status:      StatusScheduled,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, StatusWaiting, e.Status)
	assert.Equal(t, june12, e.DesiredDate)
	assert.Equal(t, clock.Now(), e.CreatedAt)

	_, err = m.Add(ctx, Entry{DesiredDate: june12})
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestManager_NotifyReturnsIntent(t *testing.T) {
	m, repo, clock := newTestManager(t)
	ctx := context.Background()

	e, err := m.Add(ctx, Entry{PatientID: uuid.New(), DesiredDate: june12})
	require.NoError(t, err)

	notified, intent, err := m.Notify(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNotified, notified.Status)
	require.NotNil(t, notified.NotifiedAt)
	require.NotNil(t, notified.ExpiresAt)
	assert.Equal(t, clock.Now(), *notified.NotifiedAt)
	assert.Equal(t, clock.Now().Add(24*time.Hour), *notified.ExpiresAt)

	require.NotNil(t, intent)
	assert.Equal(t, e.PatientID, intent.PatientID)
	assert.Equal(t, notify.TypeWaitlistOpening, intent.Payload.Type)
	assert.Equal(t, e.ID, intent.Payload.EntryID)
	assert.NotEmpty(t, intent.Payload.Message)

	stored, err := repo.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNotified, stored.Status)

	_, _, err = m.Notify(ctx, e.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestManager_ExpireThenScheduleFails(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	e, err := m.Add(ctx, Entry{PatientID: uuid.New(), DesiredDate: june12})
	require.NoError(t, err)
	notified, _, err := m.Notify(ctx, e.ID)
	require.NoError(t, err)

	now := notified.NotifiedAt.Add(25 * time.Hour)
	expired, err := m.SweepExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, StatusExpired, expired[0].Status)

	clock.Advance(25 * time.Hour)
	_, err = m.MarkScheduled(ctx, e.ID)
	require.Error(t, err)
	var ite *InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, StatusExpired, ite.From)
	assert.Equal(t, StatusScheduled, ite.To)
}

func TestManager_SweepIsIdempotent(t *testing.T) {
	m, repo, _ := newTestManager(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		e, err := m.Add(ctx, Entry{PatientID: uuid.New(), DesiredDate: june12})
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}
	_, _, err := m.Notify(ctx, ids[0])
	require.NoError(t, err)
	_, _, err = m.Notify(ctx, ids[1])
	require.NoError(t, err)

	now := time.Date(2024, 6, 11, 9, 0, 0, 0, time.UTC)
	first, err := m.SweepExpired(ctx, now)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	snapshot, err := repo.List(ctx, Filter{})
	require.NoError(t, err)

	second, err := m.SweepExpired(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, second)

	after, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, snapshot, after)

	waiting, err := repo.Get(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, waiting.Status)
}

func TestManager_SweepKeepsEntriesInsideGraceWindow(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	e, err := m.Add(ctx, Entry{PatientID: uuid.New(), DesiredDate: june12})
	require.NoError(t, err)
	_, _, err = m.Notify(ctx, e.ID)
	require.NoError(t, err)

	expired, err := m.SweepExpired(ctx, clock.Now().Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired, "expiresAt == now is not yet expired")

	scheduled, err := m.MarkScheduled(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, scheduled.Status)
}

func TestManager_MarkScheduledFromWaiting(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	e, err := m.Add(ctx, Entry{PatientID: uuid.New(), DesiredDate: june12})
	require.NoError(t, err)

	got, err := m.MarkScheduled(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, got.Status)

	_, err = m.Remove(ctx, e.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestManager_Remove(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	waiting, err := m.Add(ctx, Entry{PatientID: uuid.New(), DesiredDate: june12})
	require.NoError(t, err)
	got, err := m.Remove(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	notified, err := m.Add(ctx, Entry{PatientID: uuid.New(), DesiredDate: june12})
	require.NoError(t, err)
	_, _, err = m.Notify(ctx, notified.ID)
	require.NoError(t, err)
	got, err = m.Remove(ctx, notified.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	_, _, err = m.Notify(ctx, notified.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = m.Remove(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestManager_MatchOpeningFIFOAndSingleOffer(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	add := func(e Entry) *Entry {
		t.Helper()
		e.PatientID = uuid.New()
		e.DesiredDate = june12
		got, err := m.Add(ctx, e)
		require.NoError(t, err)
		clock.Advance(time.Minute)
		return got
	}

	wrongTime := add(Entry{DesiredTime: tp(schedule.NewTimeOfDay(15, 0))})
	first := add(Entry{TimeRangeStart: tp(schedule.NewTimeOfDay(9, 0)), TimeRangeEnd: tp(schedule.NewTimeOfDay(11, 0))})
	second := add(Entry{})
	third := add(Entry{DesiredTime: tp(schedule.NewTimeOfDay(10, 30))})

	opening := Opening{
		Start: time.Date(2024, 6, 12, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 6, 12, 10, 50, 0, 0, time.UTC),
	}

	entry, intent, err := m.MatchOpening(ctx, opening)
	require.NoError(t, err)
	assert.Equal(t, first.ID, entry.ID)
	require.NotNil(t, intent.Payload.SlotStart)
	assert.Equal(t, opening.Start, *intent.Payload.SlotStart)
	assert.Equal(t, opening.Start, *entry.OfferedStart)

	_, _, err = m.MatchOpening(ctx, opening)
	assert.ErrorIs(t, err, ErrOpeningOffered, "no second patient while the offer is pending")

	// Once the first offer expires the next in line gets it.
	clock.Advance(25 * time.Hour)
	_, err = m.SweepExpired(ctx, clock.Now())
	require.NoError(t, err)

	entry, _, err = m.MatchOpening(ctx, opening)
	require.NoError(t, err)
	assert.Equal(t, second.ID, entry.ID)

	stillWaiting, err := m.Get(ctx, third.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, stillWaiting.Status)
	untouched, err := m.Get(ctx, wrongTime.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, untouched.Status)
}

func TestManager_MatchOpeningNoCandidate(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Add(ctx, Entry{PatientID: uuid.New(), DesiredDate: june12.AddDate(0, 0, 1)})
	require.NoError(t, err)

	_, _, err = m.MatchOpening(ctx, Opening{
		Start: june12.Add(10 * time.Hour),
		End:   june12.Add(11 * time.Hour),
	})
	assert.ErrorIs(t, err, ErrNoCandidate)
}

func TestEntry_MatchesClinic(t *testing.T) {
	clinicA, clinicB := uuid.New(), uuid.New()
	e := Entry{PatientID: uuid.New(), DesiredDate: june12, ClinicID: &clinicA}
	o := Opening{Start: june12.Add(9 * time.Hour), End: june12.Add(10 * time.Hour), ClinicID: &clinicB}

	assert.False(t, e.matches(o, time.UTC))
	o.ClinicID = &clinicA
	assert.True(t, e.matches(o, time.UTC))
	o.ClinicID = nil
	assert.True(t, e.matches(o, time.UTC))
}

// dateColumnRepository stores DesiredDate the way a Postgres DATE column
// returns it: encoded and scanned through pgx, which yields midnight UTC.
type dateColumnRepository struct {
	*MemoryRepository
	types *pgtype.Map
}

func (r dateColumnRepository) Insert(ctx context.Context, e *Entry) error {
	buf, err := r.types.Encode(pgtype.DateOID, pgtype.BinaryFormatCode, e.DesiredDate, nil)
	if err != nil {
		return err
	}
	stored := *e
	if err := r.types.Scan(pgtype.DateOID, pgtype.BinaryFormatCode, buf, &stored.DesiredDate); err != nil {
		return err
	}
	return r.MemoryRepository.Insert(ctx, &stored)
}

func TestManager_MatchOpeningWestOfUTCAfterDateColumn(t *testing.T) {
	saoPaulo := time.FixedZone("BRT", -3*60*60)
	clock := &fakeClock{t: time.Date(2024, 6, 9, 18, 0, 0, 0, saoPaulo)}
	repo := dateColumnRepository{MemoryRepository: NewMemoryRepository(), types: pgtype.NewMap()}
	m := NewManager(repo, 24*time.Hour, WithClock(clock.Now), WithLocation(saoPaulo))
	ctx := context.Background()

	added, err := m.Add(ctx, Entry{PatientID: uuid.New(), DesiredDate: time.Date(2024, 6, 10, 0, 0, 0, 0, saoPaulo)})
	require.NoError(t, err)

	stored, err := m.Get(ctx, added.ID)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, stored.DesiredDate.Location())
	assert.Equal(t, "2024-06-10", stored.DesiredDate.Format(time.DateOnly))

	entry, intent, err := m.MatchOpening(ctx, Opening{
		Start: time.Date(2024, 6, 10, 10, 0, 0, 0, saoPaulo),
		End:   time.Date(2024, 6, 10, 10, 50, 0, 0, saoPaulo),
	})
	require.NoError(t, err)
	assert.Equal(t, added.ID, entry.ID)
	assert.Equal(t, StatusNotified, entry.Status)
	assert.Contains(t, intent.Payload.Message, "Mon 10 Jun 10:00")
}

func TestManager_ConcurrentSweepAndSchedule(t *testing.T) {
	m, repo, clock := newTestManager(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 50; i++ {
		e, err := m.Add(ctx, Entry{PatientID: uuid.New(), DesiredDate: june12})
		require.NoError(t, err)
		_, _, err = m.Notify(ctx, e.ID)
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}

	sweepAt := clock.Now().Add(48 * time.Hour)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = m.SweepExpired(ctx, sweepAt)
	}()
	go func() {
		defer wg.Done()
		for _, id := range ids {
			_, _ = m.MarkScheduled(ctx, id)
		}
	}()
	wg.Wait()

	all, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	for _, e := range all {
		assert.True(t, e.Status == StatusScheduled || e.Status == StatusExpired, "got %s", e.Status)
	}
}
