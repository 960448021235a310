package waitlist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultGraceWindow = 24 * time.Hour

type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLocation sets the zone used for calendar-day comparisons.
func WithLocation(loc *time.Location) Option {
	return func(m *Manager) {
		if loc != nil {
			m.loc = loc
		}
	}
}

// Manager runs the waitlist state machine over a Repository. Transitions
// never send notifications themselves; Notify and MatchOpening return an
// Intent for the caller to dispatch.
type Manager struct {
	repo  Repository
	grace time.Duration
	loc   *time.Location
	now   func() time.Time

	// mu serializes transitions within this process; the repository
	// compare-and-set covers other processes.
	mu sync.Mutex
}

func NewManager(repo Repository, grace time.Duration, opts ...Option) *Manager {
	if grace <= 0 {
		grace = DefaultGraceWindow
	}
	m := &Manager{
		repo:  repo,
		grace: grace,
		loc:   time.UTC,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) GraceWindow() time.Duration { return m.grace }

// Add inserts a new entry in waiting. Only the calendar date written in
// DesiredDate is kept.
func (m *Manager) Add(ctx context.Context, e Entry) (*Entry, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	now := m.now()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	d := e.DesiredDate
	e.DesiredDate = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, m.loc)
	e.Status = StatusWaiting
	e.NotifiedAt, e.ExpiresAt = nil, nil
	e.OfferedStart, e.OfferedEnd = nil, nil
	e.CreatedAt = now
	e.UpdatedAt = now

	if err := m.repo.Insert(ctx, &e); err != nil {
		return nil, fmt.Errorf("insert waitlist entry: %w", err)
	}
	return &e, nil
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return m.repo.Get(ctx, id)
}

func (m *Manager) List(ctx context.Context, f Filter) ([]Entry, error) {
	return m.repo.List(ctx, f)
}

// Notify moves a waiting entry to notified and returns the notification the
// caller has to send.
func (m *Manager) Notify(ctx context.Context, id uuid.UUID) (*Entry, *Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notifyLocked(ctx, id, nil)
}

func (m *Manager) notifyLocked(ctx context.Context, id uuid.UUID, offer *Opening) (*Entry, *Intent, error) {
	e, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	from := e.Status
	if err := e.notify(m.now(), m.grace, offer); err != nil {
		return nil, nil, err
	}
	if err := m.repo.Update(ctx, e, from); err != nil {
		return nil, nil, fmt.Errorf("update waitlist entry: %w", err)
	}
	intent := newIntent(*e, m.loc)
	return e, &intent, nil
}

// MarkScheduled records that the patient booked. A notified entry whose
// grace window already passed is expired instead and the call fails.
func (m *Manager) MarkScheduled(ctx context.Context, id uuid.UUID) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := m.now()
	if e.expiredAt(now) {
		if _, err := m.applyLocked(ctx, e, StatusExpired, now); err != nil && !errors.Is(err, ErrStaleEntry) {
			return nil, err
		}
		return nil, &InvalidTransitionError{EntryID: e.ID, From: StatusExpired, To: StatusScheduled}
	}
	return m.applyLocked(ctx, e, StatusScheduled, now)
}

// Remove cancels a waiting or notified entry.
func (m *Manager) Remove(ctx context.Context, id uuid.UUID) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.applyLocked(ctx, e, StatusCancelled, m.now())
}

func (m *Manager) applyLocked(ctx context.Context, e *Entry, to Status, now time.Time) (*Entry, error) {
	from := e.Status
	if err := e.transition(to, now); err != nil {
		return nil, err
	}
	if err := m.repo.Update(ctx, e, from); err != nil {
		return nil, fmt.Errorf("update waitlist entry: %w", err)
	}
	return e, nil
}

// SweepExpired expires every notified entry whose grace window ended before
// now and returns the entries it changed. Running it again with the same now
// changes nothing.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates, err := m.repo.List(ctx, Filter{
		Statuses:      []Status{StatusNotified},
		ExpiresBefore: &now,
	})
	if err != nil {
		return nil, fmt.Errorf("list notified entries: %w", err)
	}

	var expired []Entry
	for i := range candidates {
		e := &candidates[i]
		if !e.expiredAt(now) {
			continue
		}
		if _, err := m.applyLocked(ctx, e, StatusExpired, now); err != nil {
			if errors.Is(err, ErrStaleEntry) {
				continue
			}
			return expired, err
		}
		expired = append(expired, *e)
	}
	return expired, nil
}

// MatchOpening notifies the oldest waiting entry that wants the opening.
// While another entry holds a pending offer for the same start it returns
// ErrOpeningOffered; with no candidate it returns ErrNoCandidate.
func (m *Manager) MatchOpening(ctx context.Context, o Opening) (*Entry, *Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	offered, err := m.repo.List(ctx, Filter{
		Statuses:     []Status{StatusNotified},
		OfferedStart: &o.Start,
		Limit:        1,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("list pending offers: %w", err)
	}
	if len(offered) > 0 {
		return nil, nil, ErrOpeningOffered
	}

	day := o.Start.In(m.loc)
	date := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, m.loc)
	waiting, err := m.repo.List(ctx, Filter{
		Statuses:    []Status{StatusWaiting},
		DesiredDate: &date,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("list waiting entries: %w", err)
	}

	for _, e := range waiting {
		if !e.matches(o, m.loc) {
			continue
		}
		entry, intent, err := m.notifyLocked(ctx, e.ID, &o)
		if errors.Is(err, ErrStaleEntry) || errors.Is(err, ErrInvalidTransition) {
			continue
		}
		return entry, intent, err
	}
	return nil, nil, ErrNoCandidate
}
