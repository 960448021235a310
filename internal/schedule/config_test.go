package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

func tod(t *testing.T, s string) TimeOfDay {
	t.Helper()
	v, err := ParseTimeOfDay(s)
	require.NoError(t, err)
	return v
}

func clinicConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := NewConfig(nil, tod(t, "08:00"), tod(t, "18:00"),
		[]Break{{Start: tod(t, "12:00"), End: tod(t, "13:00"), Label: "Lunch"}},
		weekdays, time.UTC)
	require.NoError(t, err)
	return *cfg
}

func TestParseTimeOfDay(t *testing.T) {
	v, err := ParseTimeOfDay("09:45")
	require.NoError(t, err)
	assert.Equal(t, 9, v.Hour())
	assert.Equal(t, 45, v.Minute())
	assert.Equal(t, "09:45", v.String())

	for _, bad := range []string{"", "9", "24:30", "25:00", "10:60", "ab:cd", "10:00:00"} {
		_, err := ParseTimeOfDay(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseTimeOfDay_EndOfDay(t *testing.T) {
	v := tod(t, "24:00")
	assert.Equal(t, EndOfDay, v)
	assert.Equal(t, "24:00", v.String())

	cfg, err := NewConfig(nil, tod(t, "18:00"), v, nil, weekdays, time.UTC)
	require.NoError(t, err)

	monday := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	slots := GenerateSlots(monday, *cfg, 30)
	require.Len(t, slots, 12)
	assert.Equal(t, time.Date(2024, 6, 10, 23, 30, 0, 0, time.UTC), slots[len(slots)-1].Start)
	assert.True(t, cfg.IsWithinWorkingHours(time.Date(2024, 6, 10, 23, 59, 0, 0, time.UTC)))
	assert.False(t, cfg.IsWithinWorkingHours(time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC)))
}

func TestNewConfig_RejectsInvalid(t *testing.T) {
	cases := []struct {
		name   string
		start  string
		end    string
		breaks []Break
		days   []time.Weekday
		field  string
	}{
		{name: "start equals end", start: "10:00", end: "10:00", field: "work_hours"},
		{name: "start after end", start: "18:00", end: "08:00", field: "work_hours"},
		{name: "break before opening", start: "08:00", end: "18:00",
			breaks: []Break{{Start: NewTimeOfDay(7, 30), End: NewTimeOfDay(8, 30)}}, field: "breaks"},
		{name: "break after closing", start: "08:00", end: "18:00",
			breaks: []Break{{Start: NewTimeOfDay(17, 30), End: NewTimeOfDay(18, 30)}}, field: "breaks"},
		{name: "empty break", start: "08:00", end: "18:00",
			breaks: []Break{{Start: NewTimeOfDay(12, 0), End: NewTimeOfDay(12, 0)}}, field: "breaks"},
		{name: "overlapping breaks", start: "08:00", end: "18:00",
			breaks: []Break{
				{Start: NewTimeOfDay(14, 0), End: NewTimeOfDay(15, 0)},
				{Start: NewTimeOfDay(12, 0), End: NewTimeOfDay(14, 30)},
			}, field: "breaks"},
		{name: "weekday out of range", start: "08:00", end: "18:00", days: []time.Weekday{7}, field: "active_days"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewConfig(nil, tod(t, tc.start), tod(t, tc.end), tc.breaks, tc.days, time.UTC)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))

			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tc.field, ce.Field)
		})
	}
}

func TestNewConfig_SortsBreaksAndAllowsTouching(t *testing.T) {
	cfg, err := NewConfig(nil, NewTimeOfDay(8, 0), NewTimeOfDay(18, 0), []Break{
		{Start: NewTimeOfDay(15, 0), End: NewTimeOfDay(15, 15), Label: "Coffee"},
		{Start: NewTimeOfDay(12, 0), End: NewTimeOfDay(13, 0), Label: "Lunch"},
		{Start: NewTimeOfDay(13, 0), End: NewTimeOfDay(13, 30), Label: "Notes"},
	}, weekdays, nil)
	require.NoError(t, err)

	require.Len(t, cfg.Breaks, 3)
	assert.Equal(t, "Lunch", cfg.Breaks[0].Label)
	assert.Equal(t, "Notes", cfg.Breaks[1].Label)
	assert.Equal(t, "Coffee", cfg.Breaks[2].Label)
	assert.Equal(t, time.UTC, cfg.Loc())
}

func TestConfig_Accessors(t *testing.T) {
	cfg := clinicConfig(t)
	monday := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	assert.True(t, cfg.IsActiveDay(time.Monday))
	assert.False(t, cfg.IsActiveDay(time.Sunday))

	assert.True(t, cfg.IsWithinWorkingHours(monday.Add(8*time.Hour)))
	assert.True(t, cfg.IsWithinWorkingHours(monday.Add(17*time.Hour+59*time.Minute)))
	assert.False(t, cfg.IsWithinWorkingHours(monday.Add(18*time.Hour)))
	assert.False(t, cfg.IsWithinWorkingHours(monday.Add(7*time.Hour+59*time.Minute)))

	inBreak, label := cfg.IsBreak(monday.Add(12*time.Hour + 30*time.Minute))
	assert.True(t, inBreak)
	assert.Equal(t, "Lunch", label)

	inBreak, _ = cfg.IsBreak(monday.Add(13 * time.Hour))
	assert.False(t, inBreak)

	assert.True(t, cfg.IsWorkingTime(monday.Add(9*time.Hour)))
	assert.False(t, cfg.IsWorkingTime(monday.Add(12*time.Hour)))
	assert.False(t, cfg.IsWorkingTime(monday.AddDate(0, 0, 6).Add(9*time.Hour)))
}

func TestConfig_UsesLocation(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	cfg := clinicConfig(t)
	cfg.Location = loc

	// 11:00 UTC is 08:00 local.
	at := time.Date(2024, 6, 10, 11, 0, 0, 0, time.UTC)
	assert.True(t, cfg.IsWithinWorkingHours(at))
	assert.False(t, cfg.IsWithinWorkingHours(at.Add(-time.Minute)))
}

func TestResolve(t *testing.T) {
	global := clinicConfig(t)
	clinicID := uuid.New()
	clinic, err := NewConfig(&clinicID, NewTimeOfDay(10, 0), NewTimeOfDay(14, 0), nil, []time.Weekday{time.Saturday}, time.UTC)
	require.NoError(t, err)

	got := Resolve(&global, clinic)
	assert.Equal(t, NewTimeOfDay(10, 0), got.WorkStart)
	assert.Empty(t, got.Breaks, "clinic config must not inherit global breaks")
	assert.Equal(t, []time.Weekday{time.Saturday}, got.ActiveDays)

	got = Resolve(&global, nil)
	assert.Equal(t, global.WorkStart, got.WorkStart)
	assert.Len(t, got.Breaks, 1)

	got = Resolve(nil, nil)
	assert.Equal(t, DefaultConfig().WorkEnd, got.WorkEnd)
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}
