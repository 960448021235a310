package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxOccurrences caps a single recurring request.
const MaxOccurrences = 52

type Frequency string

const (
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
)

var (
	ErrUnknownFrequency = errors.New("unknown recurrence frequency")
	ErrInvalidCount     = fmt.Errorf("occurrence count must be between 1 and %d", MaxOccurrences)
)

func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(s); f {
	case Weekly, Biweekly, Monthly:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFrequency, s)
}

// Advance returns base moved forward by n periods of f. Monthly keeps the
// day of month of base, clamped to the last day of the target month.
func Advance(base time.Time, f Frequency, n int) (time.Time, error) {
	switch f {
	case Weekly:
		return base.AddDate(0, 0, 7*n), nil
	case Biweekly:
		return base.AddDate(0, 0, 14*n), nil
	case Monthly:
		return addMonthsClamped(base, n), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownFrequency, f)
	}
}

func addMonthsClamped(base time.Time, n int) time.Time {
	loc := base.Location()
	first := time.Date(base.Year(), base.Month()+time.Month(n), 1, base.Hour(), base.Minute(), base.Second(), base.Nanosecond(), loc)
	day := base.Day()
	if last := daysIn(first.Year(), first.Month(), loc); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, base.Hour(), base.Minute(), base.Second(), base.Nanosecond(), loc)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// Expand returns count occurrences starting at base, base included.
func Expand(base time.Time, f Frequency, count int) ([]time.Time, error) {
	if count < 1 || count > MaxOccurrences {
		return nil, ErrInvalidCount
	}
	out := make([]time.Time, 0, count)
	for i := 0; i < count; i++ {
		t, err := Advance(base, f, i)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

var ErrRecurrenceConflict = errors.New("recurring series conflict")

// RecurrenceConflictError reports the first occurrence of a series that
// failed validation. Index is 1-based.
type RecurrenceConflictError struct {
	Index      int
	Occurrence time.Time
	Cause      *ConflictError
}

func (e *RecurrenceConflictError) Error() string {
	return fmt.Sprintf("occurrence %d (%s): %v", e.Index, e.Occurrence.Format(time.RFC3339), e.Cause)
}

func (e *RecurrenceConflictError) Is(target error) bool {
	return target == ErrRecurrenceConflict
}

func (e *RecurrenceConflictError) Unwrap() error {
	return e.Cause
}

// ExpandAndValidate expands the series and validates every occurrence in
// order. The first failure rejects the whole series.
func ExpandAndValidate(cfg Config, base time.Time, f Frequency, count, durationMinutes int, existing []Appointment) ([]time.Time, error) {
	occurrences, err := Expand(base, f, count)
	if err != nil {
		return nil, err
	}
	for i, t := range occurrences {
		if err := Validate(cfg, t, durationMinutes, existing, uuid.Nil); err != nil {
			var ce *ConflictError
			if !errors.As(err, &ce) {
				return nil, err
			}
			return nil, &RecurrenceConflictError{Index: i + 1, Occurrence: t, Cause: ce}
		}
	}
	return occurrences, nil
}

// Window is the interval spanned by the expanded series, used to load the
// appointment snapshot before validation.
func Window(occurrences []time.Time, durationMinutes int) Interval {
	if len(occurrences) == 0 {
		return Interval{}
	}
	last := occurrences[len(occurrences)-1]
	return Interval{Start: occurrences[0], End: last.Add(time.Duration(durationMinutes) * time.Minute)}
}
