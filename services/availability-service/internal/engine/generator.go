package engine

import (
	"time"

	"github.com/tarek-aziz/fieldops/services/availability-service/internal/calendar"
	"github.com/tarek-aziz/fieldops/services/availability-service/internal/interval"
)

// windowOverride supplies per-worker open windows for a local day in place
// of the company calendar. ok=false falls back to the calendar.
type windowOverride func(day time.Time) (windows []interval.Interval, ok bool)

// workerSlots walks the search range day by day and returns the worker's
// candidate slots in ascending start order. With a zero slot increment each
// free gap long enough for the requested duration is returned whole (the
// caller picks an exact start inside it); with a positive increment the gap
// is chopped into fixed duration-length slots on increment boundaries.
func workerSlots(cal calendar.Calendar, req Request, busy []interval.Interval, booked map[string]time.Duration, now time.Time, override windowOverride) []interval.Interval {
	floor := cal.EarliestBookable(now)
	ceiling := cal.LatestBookable(now)

	first := req.RangeStart.In(cal.Location)
	day := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, cal.Location)

	var slots []interval.Interval
	for day.Before(req.RangeEnd) {
		next := day.AddDate(0, 0, 1)
		if !dayHasCapacity(cal, booked, day, req.Duration) {
			day = next
			continue
		}

		windows, ok := []interval.Interval(nil), false
		if override != nil {
			windows, ok = override(day)
		}
		if !ok {
			windows = cal.OpenWindows(day)
		}

		for _, w := range windows {
			start := later(w.Start, later(req.RangeStart, floor))
			end := earlier(w.End, req.RangeEnd)
			if !ceiling.IsZero() {
				end = earlier(end, ceiling)
			}
			if !end.After(start) {
				continue
			}
			for _, gap := range interval.Subtract(interval.Interval{Start: start, End: end}, busy) {
				if gap.Duration() < req.Duration {
					continue
				}
				slots = append(slots, splitGap(gap, req.Duration, cal.SlotIncrement, cal.Location)...)
			}
		}
		day = next
	}
	return slots
}

func dayHasCapacity(cal calendar.Calendar, booked map[string]time.Duration, day time.Time, duration time.Duration) bool {
	if cal.DailyCapacity <= 0 {
		return true
	}
	return booked[day.Format("2006-01-02")]+duration <= cal.DailyCapacity
}

func splitGap(gap interval.Interval, duration, increment time.Duration, loc *time.Location) []interval.Interval {
	if increment <= 0 {
		return []interval.Interval{gap}
	}
	var slots []interval.Interval
	for t := roundUp(gap.Start, increment, loc); !t.Add(duration).After(gap.End); t = t.Add(increment) {
		slots = append(slots, interval.Interval{Start: t, End: t.Add(duration)})
	}
	return slots
}

// roundUp snaps t forward to the next increment boundary of the company-local
// day. Truncate would snap to UTC epoch multiples, which drift for zones with
// non-whole-hour offsets.
func roundUp(t time.Time, step time.Duration, loc *time.Location) time.Time {
	local := t.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	offset := local.Sub(midnight)
	if rem := offset % step; rem != 0 {
		offset += step - rem
	}
	return midnight.Add(offset)
}
