package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

type breakInput struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Label string `json:"label"`
}

// configInput is the file form of a schedule config. Times are HH:MM and
// days are English weekday names or their three-letter prefix.
type configInput struct {
	WorkStart  string       `json:"work_start"`
	WorkEnd    string       `json:"work_end"`
	Breaks     []breakInput `json:"breaks"`
	ActiveDays []string     `json:"active_days"`
	Timezone   string       `json:"timezone"`
}

type appointmentInput struct {
	ID              string    `json:"id"`
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"duration_minutes"`
	Kind            string    `json:"kind"`
	Status          string    `json:"status"`
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

func parseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) >= 3 {
		if d, ok := weekdays[s[:3]]; ok && strings.HasPrefix(strings.ToLower(d.String()), s) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

func (in configInput) toConfig() (schedule.Config, error) {
	def := schedule.DefaultConfig()
	var err error

	workStart, workEnd := def.WorkStart, def.WorkEnd
	if in.WorkStart != "" {
		if workStart, err = schedule.ParseTimeOfDay(in.WorkStart); err != nil {
			return schedule.Config{}, err
		}
	}
	if in.WorkEnd != "" {
		if workEnd, err = schedule.ParseTimeOfDay(in.WorkEnd); err != nil {
			return schedule.Config{}, err
		}
	}

	breaks := def.Breaks
	if in.Breaks != nil {
		breaks = make([]schedule.Break, 0, len(in.Breaks))
		for _, b := range in.Breaks {
			start, err := schedule.ParseTimeOfDay(b.Start)
			if err != nil {
				return schedule.Config{}, err
			}
			end, err := schedule.ParseTimeOfDay(b.End)
			if err != nil {
				return schedule.Config{}, err
			}
			breaks = append(breaks, schedule.Break{Start: start, End: end, Label: b.Label})
		}
	}

	days := def.ActiveDays
	if in.ActiveDays != nil {
		days = make([]time.Weekday, 0, len(in.ActiveDays))
		for _, s := range in.ActiveDays {
			d, err := parseWeekday(s)
			if err != nil {
				return schedule.Config{}, err
			}
			days = append(days, d)
		}
	}

	loc := time.UTC
	if in.Timezone != "" {
		if loc, err = time.LoadLocation(in.Timezone); err != nil {
			return schedule.Config{}, fmt.Errorf("timezone: %w", err)
		}
	}

	cfg, err := schedule.NewConfig(nil, workStart, workEnd, breaks, days, loc)
	if err != nil {
		return schedule.Config{}, err
	}
	return *cfg, nil
}

func (in appointmentInput) toAppointment() (schedule.Appointment, error) {
	a := schedule.Appointment{
		ID:              uuid.New(),
		DateTime:        in.Start,
		DurationMinutes: in.DurationMinutes,
		Kind:            schedule.Kind(in.Kind),
		Status:          schedule.Status(in.Status),
	}
	if in.ID != "" {
		id, err := uuid.Parse(in.ID)
		if err != nil {
			return schedule.Appointment{}, fmt.Errorf("appointment id %q: %w", in.ID, err)
		}
		a.ID = id
	}
	if a.Kind == "" {
		a.Kind = schedule.KindSession
	}
	if a.Status == "" {
		a.Status = schedule.StatusScheduled
	}
	if a.DurationMinutes == 0 {
		a.DurationMinutes = schedule.DefaultDurationMinutes
	}
	if !a.Kind.Valid() || !a.Status.Valid() {
		return schedule.Appointment{}, fmt.Errorf("appointment %s: unknown kind %q or status %q", a.ID, a.Kind, a.Status)
	}
	return a, nil
}

func readJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadConfig reads the config file, or returns the default config when
// path is empty.
func loadConfig(path string) (schedule.Config, error) {
	if path == "" {
		return schedule.DefaultConfig(), nil
	}
	var in configInput
	if err := readJSON(path, &in); err != nil {
		return schedule.Config{}, err
	}
	return in.toConfig()
}

func loadAppointments(path string) ([]schedule.Appointment, error) {
	if path == "" {
		return nil, nil
	}
	var in []appointmentInput
	if err := readJSON(path, &in); err != nil {
		return nil, err
	}
	out := make([]schedule.Appointment, 0, len(in))
	for _, a := range in {
		appt, err := a.toAppointment()
		if err != nil {
			return nil, err
		}
		out = append(out, appt)
	}
	return out, nil
}
