package calendar

import (
	"errors"
	"fmt"
	"time"

	"github.com/tarek-aziz/fieldops/services/availability-service/internal/interval"
)

var ErrInvalidSettings = errors.New("invalid scheduling settings")

// Settings is the raw per-company scheduling configuration as stored in
// company_settings. Values are validated and converted by New; callers
// should not interpret them directly.
type Settings struct {
	CompanyID            string `json:"company_id"`
	BusinessHoursStart   string `json:"business_hours_start"` // "08:00", company-local
	BusinessHoursEnd     string `json:"business_hours_end"`
	WorkingDays          []int  `json:"working_days"` // 0=Sunday..6=Saturday
	BufferBeforeMinutes  int    `json:"buffer_before_minutes"`
	BufferAfterMinutes   int    `json:"buffer_after_minutes"`
	MinAdvanceHours      int    `json:"min_advance_hours"`
	MaxAdvanceDays       int    `json:"max_advance_days"`
	CapacityHoursPerDay  int    `json:"capacity_hours_per_day"`
	SlotIncrementMinutes int    `json:"slot_increment_minutes"` // 0 = whole-gap slots
	Timezone             string `json:"timezone"`               // IANA name
}

// Calendar answers "when is this company open" questions for the resolver.
// It is immutable once built; one value is constructed per resolution call.
type Calendar struct {
	Location      *time.Location
	WorkingDays   map[time.Weekday]bool
	OpenMinute    int // minutes from local midnight
	CloseMinute   int
	BufferBefore  time.Duration
	BufferAfter   time.Duration
	MinAdvance    time.Duration
	MaxAdvance    time.Duration // 0 = uncapped
	DailyCapacity time.Duration // 0 = uncapped
	SlotIncrement time.Duration // 0 = whole-gap slots
}

func New(s Settings) (Calendar, error) {
	open, err := parseClock(s.BusinessHoursStart)
	if err != nil {
		return Calendar{}, fmt.Errorf("%w: business_hours_start: %v", ErrInvalidSettings, err)
	}
	close, err := parseClock(s.BusinessHoursEnd)
	if err != nil {
		return Calendar{}, fmt.Errorf("%w: business_hours_end: %v", ErrInvalidSettings, err)
	}
	if open >= close {
		return Calendar{}, fmt.Errorf("%w: business hours %s-%s are inverted",
			ErrInvalidSettings, s.BusinessHoursStart, s.BusinessHoursEnd)
	}
	if len(s.WorkingDays) == 0 {
		return Calendar{}, fmt.Errorf("%w: no working days configured", ErrInvalidSettings)
	}
	if s.MinAdvanceHours < 0 {
		return Calendar{}, fmt.Errorf("%w: negative min_advance_hours", ErrInvalidSettings)
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return Calendar{}, fmt.Errorf("%w: timezone %q: %v", ErrInvalidSettings, s.Timezone, err)
	}

	days := make(map[time.Weekday]bool, len(s.WorkingDays))
	for _, d := range s.WorkingDays {
		if d < 0 || d > 6 {
			return Calendar{}, fmt.Errorf("%w: working day %d out of range", ErrInvalidSettings, d)
		}
		days[time.Weekday(d)] = true
	}

	cal := Calendar{
		Location:      loc,
		WorkingDays:   days,
		OpenMinute:    open,
		CloseMinute:   close,
		BufferBefore:  time.Duration(s.BufferBeforeMinutes) * time.Minute,
		BufferAfter:   time.Duration(s.BufferAfterMinutes) * time.Minute,
		MinAdvance:    time.Duration(s.MinAdvanceHours) * time.Hour,
		SlotIncrement: time.Duration(s.SlotIncrementMinutes) * time.Minute,
	}
	if s.MaxAdvanceDays > 0 {
		cal.MaxAdvance = time.Duration(s.MaxAdvanceDays) * 24 * time.Hour
	}
	if s.CapacityHoursPerDay > 0 {
		cal.DailyCapacity = time.Duration(s.CapacityHoursPerDay) * time.Hour
	}
	return cal, nil
}

// OpenWindows returns the open spans for the local day containing t, or nil
// on a non-working day. Modeled as a list so split shifts stay representable.
func (c Calendar) OpenWindows(t time.Time) []interval.Interval {
	local := t.In(c.Location)
	if !c.WorkingDays[local.Weekday()] {
		return nil
	}
	// Bounds are built from wall-clock components, not offsets from
	// midnight, so a DST transition earlier in the day cannot shift them.
	return []interval.Interval{{
		Start: time.Date(local.Year(), local.Month(), local.Day(), c.OpenMinute/60, c.OpenMinute%60, 0, 0, c.Location),
		End:   time.Date(local.Year(), local.Month(), local.Day(), c.CloseMinute/60, c.CloseMinute%60, 0, 0, c.Location),
	}}
}

// EarliestBookable is the advance-booking floor: no slot may start before it.
func (c Calendar) EarliestBookable(now time.Time) time.Time {
	return now.Add(c.MinAdvance)
}

// LatestBookable is the advance-booking ceiling, or the zero time when
// max advance is uncapped.
func (c Calendar) LatestBookable(now time.Time) time.Time {
	if c.MaxAdvance <= 0 {
		return time.Time{}
	}
	return now.Add(c.MaxAdvance)
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
