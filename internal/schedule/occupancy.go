package schedule

import (
	"time"
)

// DateRange covers whole calendar days from From to To, both inclusive.
type DateRange struct {
	From time.Time
	To   time.Time
}

type Counts struct {
	Capacity  int `json:"capacity"`
	Booked    int `json:"booked"`
	Cancelled int `json:"cancelled"`
	Done      int `json:"done"`
}

type Rates struct {
	OccupancyRate    float64 `json:"occupancy_rate"`
	CancellationRate float64 `json:"cancellation_rate"`
	CompletionRate   float64 `json:"completion_rate"`
}

type DayMetrics struct {
	Date string `json:"date"`
	Counts
	Rates
}

type Metrics struct {
	Counts
	Rates
	PerDay []DayMetrics `json:"per_day"`
}

// ComputeMetrics aggregates session appointments in r against the slot
// capacity implied by cfg. Booked counts every non-cancelled session,
// done ones included.
func ComputeMetrics(appts []Appointment, r DateRange, cfg Config, stepMinutes int) Metrics {
	loc := cfg.Loc()
	from := startOfDay(r.From, loc)
	to := startOfDay(r.To, loc)

	var m Metrics
	if to.Before(from) {
		return m
	}

	buckets := make(map[string]*Counts)
	var order []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		key := d.Format(time.DateOnly)
		buckets[key] = &Counts{Capacity: Capacity(d, cfg, stepMinutes)}
		order = append(order, key)
	}

	for _, a := range appts {
		if a.Kind != KindSession {
			continue
		}
		c, ok := buckets[a.DateTime.In(loc).Format(time.DateOnly)]
		if !ok {
			continue
		}
		switch a.Status {
		case StatusCancelled:
			c.Cancelled++
		case StatusDone:
			c.Booked++
			c.Done++
		default:
			c.Booked++
		}
	}

	m.PerDay = make([]DayMetrics, 0, len(order))
	for _, key := range order {
		c := buckets[key]
		m.Capacity += c.Capacity
		m.Booked += c.Booked
		m.Cancelled += c.Cancelled
		m.Done += c.Done
		m.PerDay = append(m.PerDay, DayMetrics{Date: key, Counts: *c, Rates: c.rates()})
	}
	m.Rates = m.Counts.rates()
	return m
}

func (c Counts) rates() Rates {
	return Rates{
		OccupancyRate:    percent(c.Booked, c.Capacity),
		CancellationRate: percent(c.Cancelled, c.Booked+c.Cancelled),
		CompletionRate:   percent(c.Done, c.Booked),
	}
}

func percent(num, den int) float64 {
	if den <= 0 {
		return 0
	}
	p := float64(num) / float64(den) * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}
