package schedule

import (
	"time"

	"github.com/google/uuid"
)

const DefaultSlotStepMinutes = 30

type SlotReason string

const (
	SlotReasonNone        SlotReason = ""
	SlotReasonBreak       SlotReason = "break"
	SlotReasonInactiveDay SlotReason = "inactive_day"
)

type Slot struct {
	Start      time.Time
	Available  bool
	Reason     SlotReason
	BreakLabel string
}

// GenerateSlots lists every step-aligned start from WorkStart (inclusive) to
// WorkEnd (exclusive) on the calendar day of date. Break and inactive-day
// slots are returned marked unavailable.
func GenerateSlots(date time.Time, cfg Config, stepMinutes int) []Slot {
	if stepMinutes <= 0 {
		stepMinutes = DefaultSlotStepMinutes
	}
	if cfg.WorkStart >= cfg.WorkEnd {
		return nil
	}
	loc := cfg.Loc()
	day := date.In(loc)
	active := cfg.IsActiveDay(day.Weekday())

	slots := make([]Slot, 0, (int(cfg.WorkEnd-cfg.WorkStart)+stepMinutes-1)/stepMinutes)
	for m := cfg.WorkStart; m < cfg.WorkEnd; m += TimeOfDay(stepMinutes) {
		s := Slot{Start: m.On(day, loc), Available: true}
		if !active {
			s.Available = false
			s.Reason = SlotReasonInactiveDay
		} else {
			for _, b := range cfg.Breaks {
				if b.contains(m) {
					s.Available = false
					s.Reason = SlotReasonBreak
					s.BreakLabel = b.Label
					break
				}
			}
		}
		slots = append(slots, s)
	}
	return slots
}

// Capacity is the number of available slots on date.
func Capacity(date time.Time, cfg Config, stepMinutes int) int {
	n := 0
	for _, s := range GenerateSlots(date, cfg, stepMinutes) {
		if s.Available {
			n++
		}
	}
	return n
}

// FreeSlots keeps the available slots that can hold durationMinutes without
// conflicting with existing appointments.
func FreeSlots(slots []Slot, cfg Config, durationMinutes int, existing []Appointment) []Slot {
	var free []Slot
	for _, s := range slots {
		if !s.Available {
			continue
		}
		if Validate(cfg, s.Start, durationMinutes, existing, uuid.Nil) == nil {
			free = append(free, s)
		}
	}
	return free
}

// NextAvailable searches forward from `from`, day by day for at most
// searchDays days, and returns the first free slot start not before from.
func NextAvailable(from time.Time, cfg Config, stepMinutes, durationMinutes, searchDays int, existing []Appointment) (time.Time, bool) {
	loc := cfg.Loc()
	day := from.In(loc)
	for i := 0; i < searchDays; i++ {
		d := day.AddDate(0, 0, i)
		for _, s := range FreeSlots(GenerateSlots(d, cfg, stepMinutes), cfg, durationMinutes, existing) {
			if !s.Start.Before(from) {
				return s.Start, true
			}
		}
	}
	return time.Time{}, false
}
