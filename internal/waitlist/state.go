package waitlist

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidTransition = errors.New("invalid waitlist transition")

// InvalidTransitionError is a state machine violation.
type InvalidTransitionError struct {
	EntryID uuid.UUID
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("waitlist entry %s: cannot move from %s to %s", e.EntryID, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

var transitions = map[Status]map[Status]bool{
	StatusWaiting: {
		StatusNotified:  true,
		StatusScheduled: true,
		StatusCancelled: true,
	},
	StatusNotified: {
		StatusScheduled: true,
		StatusExpired:   true,
		StatusCancelled: true,
	},
}

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusNotified, StatusScheduled, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Terminal states have no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusScheduled || s == StatusExpired || s == StatusCancelled
}

func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

func (e *Entry) transition(to Status, now time.Time) error {
	if !CanTransition(e.Status, to) {
		return &InvalidTransitionError{EntryID: e.ID, From: e.Status, To: to}
	}
	e.Status = to
	e.UpdatedAt = now
	return nil
}

// notify moves a waiting entry to notified and opens the grace window.
func (e *Entry) notify(now time.Time, grace time.Duration, offer *Opening) error {
	if err := e.transition(StatusNotified, now); err != nil {
		return err
	}
	expires := now.Add(grace)
	e.NotifiedAt = &now
	e.ExpiresAt = &expires
	if offer != nil {
		start, end := offer.Start, offer.End
		e.OfferedStart = &start
		e.OfferedEnd = &end
	}
	return nil
}

// expiredAt reports whether a notified entry's grace window passed before now.
func (e Entry) expiredAt(now time.Time) bool {
	return e.Status == StatusNotified && e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}
