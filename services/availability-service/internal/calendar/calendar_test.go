package calendar

import (
	"errors"
	"testing"
	"time"
)

func validSettings() Settings {
	return Settings{
		CompanyID:           "c-1",
		BusinessHoursStart:  "09:00",
		BusinessHoursEnd:    "17:00",
		WorkingDays:         []int{1, 2, 3, 4, 5},
		BufferBeforeMinutes: 30,
		BufferAfterMinutes:  30,
		MinAdvanceHours:     2,
		MaxAdvanceDays:      90,
		CapacityHoursPerDay: 8,
		Timezone:            "America/Los_Angeles",
	}
}

func TestNew_Valid(t *testing.T) {
	cal, err := New(validSettings())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if cal.OpenMinute != 9*60 || cal.CloseMinute != 17*60 {
		t.Fatalf("unexpected open/close minutes: %d/%d", cal.OpenMinute, cal.CloseMinute)
	}
	if !cal.WorkingDays[time.Monday] || cal.WorkingDays[time.Sunday] {
		t.Fatal("working day set mismatch")
	}
	if cal.MinAdvance != 2*time.Hour {
		t.Fatalf("unexpected min advance: %v", cal.MinAdvance)
	}
	if cal.MaxAdvance != 90*24*time.Hour {
		t.Fatalf("unexpected max advance: %v", cal.MaxAdvance)
	}
}

func TestNew_Rejections(t *testing.T) {
	cases := map[string]func(*Settings){
		"inverted hours":   func(s *Settings) { s.BusinessHoursStart = "17:00"; s.BusinessHoursEnd = "09:00" },
		"bad clock":        func(s *Settings) { s.BusinessHoursStart = "9am" },
		"no working days":  func(s *Settings) { s.WorkingDays = nil },
		"day out of range": func(s *Settings) { s.WorkingDays = []int{7} },
		"negative advance": func(s *Settings) { s.MinAdvanceHours = -1 },
		"bad timezone":     func(s *Settings) { s.Timezone = "Mars/Olympus" },
	}
	for name, mutate := range cases {
		s := validSettings()
		mutate(&s)
		if _, err := New(s); !errors.Is(err, ErrInvalidSettings) {
			t.Errorf("%s: expected ErrInvalidSettings, got %v", name, err)
		}
	}
}

func TestOpenWindows_WorkingDay(t *testing.T) {
	cal, err := New(validSettings())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	// 2026-03-02 is a Monday.
	day := time.Date(2026, 3, 2, 12, 0, 0, 0, cal.Location)
	windows := cal.OpenWindows(day)
	if len(windows) != 1 {
		t.Fatalf("expected one window, got %d", len(windows))
	}
	wantStart := time.Date(2026, 3, 2, 9, 0, 0, 0, cal.Location)
	wantEnd := time.Date(2026, 3, 2, 17, 0, 0, 0, cal.Location)
	if !windows[0].Start.Equal(wantStart) || !windows[0].End.Equal(wantEnd) {
		t.Fatalf("window %v-%v, want %v-%v", windows[0].Start, windows[0].End, wantStart, wantEnd)
	}
}

func TestOpenWindows_NonWorkingDay(t *testing.T) {
	cal, err := New(validSettings())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	// 2026-03-01 is a Sunday.
	sunday := time.Date(2026, 3, 1, 12, 0, 0, 0, cal.Location)
	if windows := cal.OpenWindows(sunday); windows != nil {
		t.Fatalf("expected no windows on Sunday, got %v", windows)
	}
}

// A UTC instant must be windowed against the company's local day, not the
// UTC day. 2026-03-03 01:00 UTC is still Monday evening in Los Angeles.
func TestOpenWindows_UsesCompanyLocalDay(t *testing.T) {
	cal, err := New(validSettings())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	utcTuesday := time.Date(2026, 3, 3, 1, 0, 0, 0, time.UTC)
	windows := cal.OpenWindows(utcTuesday)
	if len(windows) != 1 {
		t.Fatalf("expected one window, got %d", len(windows))
	}
	wantStart := time.Date(2026, 3, 2, 9, 0, 0, 0, cal.Location)
	if !windows[0].Start.Equal(wantStart) {
		t.Fatalf("window start %v, want Monday %v local", windows[0].Start, wantStart)
	}
}

// Business hours are wall-clock times. On a DST transition day the open and
// close must still land on 09:00 and 17:00 local, even though the day is 23
// or 25 hours long.
func TestOpenWindows_DSTTransitionDays(t *testing.T) {
	s := validSettings()
	s.WorkingDays = []int{0, 1, 2, 3, 4, 5, 6}
	cal, err := New(s)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	days := []time.Time{
		time.Date(2026, 3, 8, 12, 0, 0, 0, cal.Location),  // spring forward
		time.Date(2026, 11, 1, 12, 0, 0, 0, cal.Location), // fall back
	}
	for _, day := range days {
		windows := cal.OpenWindows(day)
		if len(windows) != 1 {
			t.Fatalf("%s: expected one window, got %d", day.Format("2006-01-02"), len(windows))
		}
		start := windows[0].Start.In(cal.Location)
		end := windows[0].End.In(cal.Location)
		if start.Hour() != 9 || start.Minute() != 0 {
			t.Errorf("%s: open at %02d:%02d local, want 09:00", day.Format("2006-01-02"), start.Hour(), start.Minute())
		}
		if end.Hour() != 17 || end.Minute() != 0 {
			t.Errorf("%s: close at %02d:%02d local, want 17:00", day.Format("2006-01-02"), end.Hour(), end.Minute())
		}
	}
}

func TestBookableBounds(t *testing.T) {
	cal, err := New(validSettings())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	if got := cal.EarliestBookable(now); !got.Equal(now.Add(2 * time.Hour)) {
		t.Fatalf("earliest bookable %v, want now+2h", got)
	}
	if got := cal.LatestBookable(now); !got.Equal(now.Add(90 * 24 * time.Hour)) {
		t.Fatalf("latest bookable %v, want now+90d", got)
	}

	s := validSettings()
	s.MaxAdvanceDays = 0
	uncapped, err := New(s)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := uncapped.LatestBookable(now); !got.IsZero() {
		t.Fatalf("expected zero time for uncapped max advance, got %v", got)
	}
}
