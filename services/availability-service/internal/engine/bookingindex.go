package engine

import (
	"time"

	"github.com/tarek-aziz/fieldops/services/availability-service/internal/calendar"
	"github.com/tarek-aziz/fieldops/services/availability-service/internal/interval"
)

// busyIntervals widens each commitment by the calendar buffers (travel and
// cleanup time before/after a job) and merges the result into a normalized
// busy set. Commitments with inverted bounds come from bad upstream data;
// they are counted and skipped rather than failing the worker.
func busyIntervals(cal calendar.Calendar, commitments []Commitment) (busy []interval.Interval, invalid int) {
	raw := make([]interval.Interval, 0, len(commitments))
	for _, c := range commitments {
		iv, err := interval.New(c.Start.Add(-cal.BufferBefore), c.End.Add(cal.BufferAfter))
		if err != nil {
			invalid++
			continue
		}
		raw = append(raw, iv)
	}
	return interval.Merge(raw), invalid
}

// bookedPerDay sums raw (unbuffered) committed time per company-local day,
// keyed by the day's "2006-01-02" form. Buffers pad conflicts, not capacity.
func bookedPerDay(cal calendar.Calendar, commitments []Commitment) map[string]time.Duration {
	booked := make(map[string]time.Duration)
	for _, c := range commitments {
		if !c.End.After(c.Start) {
			continue
		}
		start := c.Start.In(cal.Location)
		end := c.End.In(cal.Location)
		day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, cal.Location)
		for day.Before(end) {
			next := day.AddDate(0, 0, 1)
			from := later(c.Start, day)
			to := earlier(c.End, next)
			if to.After(from) {
				booked[day.Format("2006-01-02")] += to.Sub(from)
			}
			day = next
		}
	}
	return booked
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
