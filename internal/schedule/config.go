package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidConfig = errors.New("invalid schedule config")

// ConfigError is returned when a schedule config violates its invariants.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid schedule config: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// TimeOfDay is a wall-clock time expressed in minutes since midnight.
type TimeOfDay int

// EndOfDay is midnight at the end of the day, the latest WorkEnd allowed.
const EndOfDay = TimeOfDay(24 * 60)

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay parses "HH:MM". "24:00" is accepted as the end of the day.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if strings.TrimSpace(s) == "24:00" {
		return EndOfDay, nil
	}
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q, use HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return NewTimeOfDay(h, m), nil
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On returns the instant at this time of day on the calendar day of date, in loc.
func (t TimeOfDay) On(date time.Time, loc *time.Location) time.Time {
	d := date.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, loc)
}

// TimeOfDayOf returns the wall-clock time of t in loc.
func TimeOfDayOf(t time.Time, loc *time.Location) TimeOfDay {
	lt := t.In(loc)
	return NewTimeOfDay(lt.Hour(), lt.Minute())
}

type Break struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
	Label string    `json:"label,omitempty"`
}

func (b Break) contains(t TimeOfDay) bool {
	return t >= b.Start && t < b.End
}

// Config holds the working-hours rules of one scope. A nil ClinicID is the
// global scope.
type Config struct {
	ClinicID   *uuid.UUID
	WorkStart  TimeOfDay
	WorkEnd    TimeOfDay
	Breaks     []Break
	ActiveDays []time.Weekday
	Location   *time.Location
}

// NewConfig builds and validates a config. Breaks are sorted by start.
func NewConfig(clinicID *uuid.UUID, workStart, workEnd TimeOfDay, breaks []Break, activeDays []time.Weekday, loc *time.Location) (*Config, error) {
	cfg := &Config{
		ClinicID:   clinicID,
		WorkStart:  workStart,
		WorkEnd:    workEnd,
		Breaks:     append([]Break(nil), breaks...),
		ActiveDays: append([]time.Weekday(nil), activeDays...),
		Location:   loc,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig is used when neither a clinic nor a global config exists.
func DefaultConfig() Config {
	return Config{
		WorkStart: NewTimeOfDay(8, 0),
		WorkEnd:   NewTimeOfDay(18, 0),
		Breaks: []Break{
			{Start: NewTimeOfDay(12, 0), End: NewTimeOfDay(13, 0), Label: "Lunch"},
		},
		ActiveDays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		Location:   time.UTC,
	}
}

// Validate checks the config invariants and sorts the breaks in place.
func (c *Config) Validate() error {
	if c.WorkStart < 0 || c.WorkEnd > EndOfDay {
		return &ConfigError{Field: "work_hours", Reason: "must be within one day"}
	}
	if c.WorkStart >= c.WorkEnd {
		return &ConfigError{Field: "work_hours", Reason: fmt.Sprintf("work start %s must be before work end %s", c.WorkStart, c.WorkEnd)}
	}
	for _, d := range c.ActiveDays {
		if d < time.Sunday || d > time.Saturday {
			return &ConfigError{Field: "active_days", Reason: fmt.Sprintf("weekday %d out of range 0-6", d)}
		}
	}

	sort.Slice(c.Breaks, func(i, j int) bool {
		return c.Breaks[i].Start < c.Breaks[j].Start
	})
	for i, b := range c.Breaks {
		if b.Start >= b.End {
			return &ConfigError{Field: "breaks", Reason: fmt.Sprintf("break %s-%s is empty", b.Start, b.End)}
		}
		if b.Start < c.WorkStart || b.End > c.WorkEnd {
			return &ConfigError{Field: "breaks", Reason: fmt.Sprintf("break %s-%s outside working hours", b.Start, b.End)}
		}
		if i > 0 && b.Start < c.Breaks[i-1].End {
			prev := c.Breaks[i-1]
			return &ConfigError{Field: "breaks", Reason: fmt.Sprintf("break %s-%s overlaps %s-%s", b.Start, b.End, prev.Start, prev.End)}
		}
	}
	return nil
}

// Loc returns the config location, UTC when unset.
func (c Config) Loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func (c Config) IsActiveDay(day time.Weekday) bool {
	for _, d := range c.ActiveDays {
		if d == day {
			return true
		}
	}
	return false
}

// IsWithinWorkingHours reports whether the wall-clock time of t lies in
// [WorkStart, WorkEnd). The weekday is not considered.
func (c Config) IsWithinWorkingHours(t time.Time) bool {
	tod := TimeOfDayOf(t, c.Loc())
	return tod >= c.WorkStart && tod < c.WorkEnd
}

// IsBreak reports whether t falls in a break and returns its label.
func (c Config) IsBreak(t time.Time) (bool, string) {
	tod := TimeOfDayOf(t, c.Loc())
	for _, b := range c.Breaks {
		if b.contains(tod) {
			return true, b.Label
		}
	}
	return false, ""
}

// IsWorkingTime combines active day, working hours and breaks.
func (c Config) IsWorkingTime(t time.Time) bool {
	if !c.IsActiveDay(t.In(c.Loc()).Weekday()) {
		return false
	}
	if !c.IsWithinWorkingHours(t) {
		return false
	}
	inBreak, _ := c.IsBreak(t)
	return !inBreak
}

// Resolve picks the effective config for a clinic. A clinic config replaces
// the global one as a whole; fields are never merged.
func Resolve(global, clinic *Config) Config {
	switch {
	case clinic != nil:
		return *clinic
	case global != nil:
		return *global
	default:
		return DefaultConfig()
	}
}
