package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/tarek-aziz/fieldops/services/availability-service/internal/calendar"
	"github.com/tarek-aziz/fieldops/services/availability-service/internal/interval"
)

const (
	companyID = "5f1c9d2e-8a4b-4c3d-9e2f-1a2b3c4d5e6f"
	workerA   = "11111111-1111-4111-8111-111111111111"
	workerB   = "22222222-2222-4222-8222-222222222222"
)

type fakeSettings struct {
	settings calendar.Settings
	err      error
	calls    int
}

func (f *fakeSettings) CompanySettings(_ context.Context, _ string) (calendar.Settings, error) {
	f.calls++
	if f.err != nil {
		return calendar.Settings{}, f.err
	}
	return f.settings, nil
}

type fakeBookings struct {
	commitments map[string][]Commitment
	errs        map[string]error
	block       map[string]bool // block until ctx is cancelled
}

func (f *fakeBookings) Commitments(ctx context.Context, _, workerID string, _, _ time.Time) ([]Commitment, error) {
	if f.block[workerID] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := f.errs[workerID]; err != nil {
		return nil, err
	}
	return f.commitments[workerID], nil
}

func weekdaySettings() calendar.Settings {
	return calendar.Settings{
		CompanyID:           companyID,
		BusinessHoursStart:  "09:00",
		BusinessHoursEnd:    "17:00",
		WorkingDays:         []int{1, 2, 3, 4, 5},
		CapacityHoursPerDay: 8,
		Timezone:            "UTC",
	}
}

func newTestResolver(settings *fakeSettings, bookings *fakeBookings, cfg Config) *Resolver {
	if cfg.Now == nil {
		// A Sunday evening, well before the Monday under test.
		cfg.Now = func() time.Time { return time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC) }
	}
	logger := slog.New(slog.NewTextHandler(discardWriter{}, nil))
	return NewResolver(settings, bookings, nil, logger, cfg)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// Monday 2026-03-02, full business day searched.
func mondayRequest(duration time.Duration, workers ...string) Request {
	return Request{
		CompanyID:  companyID,
		WorkerIDs:  workers,
		Duration:   duration,
		RangeStart: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
	}
}

func mondayAt(hour, min int) time.Time {
	return time.Date(2026, 3, 2, hour, min, 0, 0, time.UTC)
}

func requireSlots(t *testing.T, got []interval.Interval, want ...interval.Interval) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d slots, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) {
			t.Fatalf("slot %d: got [%s, %s), want [%s, %s)", i,
				got[i].Start.Format(time.RFC3339), got[i].End.Format(time.RFC3339),
				want[i].Start.Format(time.RFC3339), want[i].End.Format(time.RFC3339))
		}
	}
}

func TestResolve_NoConflictsReturnsWholeDay(t *testing.T) {
	r := newTestResolver(&fakeSettings{settings: weekdaySettings()}, &fakeBookings{}, Config{})
	res, err := r.Resolve(context.Background(), mondayRequest(2*time.Hour, workerA))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !res.Success {
		t.Fatal("expected success")
	}
	requireSlots(t, res.PerWorker[workerA].Slots,
		interval.Interval{Start: mondayAt(9, 0), End: mondayAt(17, 0)})
	if res.Diagnostics.SlotCounts[workerA] != 1 {
		t.Fatalf("slot count diagnostic: %v", res.Diagnostics.SlotCounts)
	}
}

func TestResolve_SingleConflictSplitsDay(t *testing.T) {
	bookings := &fakeBookings{commitments: map[string][]Commitment{
		workerA: {{WorkerID: workerA, Start: mondayAt(11, 0), End: mondayAt(13, 0), Source: "work_order"}},
	}}
	r := newTestResolver(&fakeSettings{settings: weekdaySettings()}, bookings, Config{})
	res, err := r.Resolve(context.Background(), mondayRequest(2*time.Hour, workerA))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	requireSlots(t, res.PerWorker[workerA].Slots,
		interval.Interval{Start: mondayAt(9, 0), End: mondayAt(11, 0)},
		interval.Interval{Start: mondayAt(13, 0), End: mondayAt(17, 0)})
}

// With a 30-minute buffer the 11:00-13:00 job blocks 10:30-13:30; the
// morning gap shrinks to 90 minutes and no longer fits a 2-hour request.
func TestResolve_BufferExcludesShortGap(t *testing.T) {
	settings := weekdaySettings()
	settings.BufferBeforeMinutes = 30
	settings.BufferAfterMinutes = 30
	bookings := &fakeBookings{commitments: map[string][]Commitment{
		workerA: {{WorkerID: workerA, Start: mondayAt(11, 0), End: mondayAt(13, 0), Source: "work_order"}},
	}}
	r := newTestResolver(&fakeSettings{settings: settings}, bookings, Config{})
	res, err := r.Resolve(context.Background(), mondayRequest(2*time.Hour, workerA))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	requireSlots(t, res.PerWorker[workerA].Slots,
		interval.Interval{Start: mondayAt(13, 30), End: mondayAt(17, 0)})
}

func TestResolve_FullyBookedDayYieldsNoSlots(t *testing.T) {
	bookings := &fakeBookings{commitments: map[string][]Commitment{
		workerA: {{WorkerID: workerA, Start: mondayAt(9, 0), End: mondayAt(17, 0), Source: "work_order"}},
	}}
	r := newTestResolver(&fakeSettings{settings: weekdaySettings()}, bookings, Config{})
	res, err := r.Resolve(context.Background(), mondayRequest(2*time.Hour, workerA))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !res.Success {
		t.Fatal("a fully booked day is not an error")
	}
	if len(res.PerWorker[workerA].Slots) != 0 {
		t.Fatalf("expected no slots, got %v", res.PerWorker[workerA].Slots)
	}
}

func TestResolve_AdvanceFloorClipsMorning(t *testing.T) {
	settings := weekdaySettings()
	settings.MinAdvanceHours = 4
	r := newTestResolver(&fakeSettings{settings: settings}, &fakeBookings{}, Config{
		// 09:00 Monday: with 4h advance nothing before 13:00 is bookable.
		Now: func() time.Time { return mondayAt(9, 0) },
	})
	res, err := r.Resolve(context.Background(), mondayRequest(2*time.Hour, workerA))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	requireSlots(t, res.PerWorker[workerA].Slots,
		interval.Interval{Start: mondayAt(13, 0), End: mondayAt(17, 0)})
}

func TestResolve_RangeEntirelyBeforeFloorIsEmptyNotError(t *testing.T) {
	settings := weekdaySettings()
	settings.MinAdvanceHours = 48
	r := newTestResolver(&fakeSettings{settings: settings}, &fakeBookings{}, Config{
		Now: func() time.Time { return mondayAt(8, 0) },
	})
	res, err := r.Resolve(context.Background(), mondayRequest(time.Hour, workerA))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !res.Success || len(res.PerWorker[workerA].Slots) != 0 {
		t.Fatalf("expected empty success, got success=%v slots=%v", res.Success, res.PerWorker[workerA].Slots)
	}
}

func TestResolve_DurationLongerThanDayIsEmpty(t *testing.T) {
	r := newTestResolver(&fakeSettings{settings: weekdaySettings()}, &fakeBookings{}, Config{})
	req := mondayRequest(9*time.Hour, workerA) // open window is only 8h
	res, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(res.PerWorker[workerA].Slots) != 0 {
		t.Fatalf("a slot must never span a day boundary, got %v", res.PerWorker[workerA].Slots)
	}
}

func TestResolve_FixedIncrementMode(t *testing.T) {
	settings := weekdaySettings()
	settings.SlotIncrementMinutes = 60
	bookings := &fakeBookings{commitments: map[string][]Commitment{
		workerA: {{WorkerID: workerA, Start: mondayAt(11, 0), End: mondayAt(13, 0), Source: "work_order"}},
	}}
	r := newTestResolver(&fakeSettings{settings: settings}, bookings, Config{})
	res, err := r.Resolve(context.Background(), mondayRequest(2*time.Hour, workerA))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	requireSlots(t, res.PerWorker[workerA].Slots,
		interval.Interval{Start: mondayAt(9, 0), End: mondayAt(11, 0)},
		interval.Interval{Start: mondayAt(13, 0), End: mondayAt(15, 0)},
		interval.Interval{Start: mondayAt(14, 0), End: mondayAt(16, 0)},
		interval.Interval{Start: mondayAt(15, 0), End: mondayAt(17, 0)})
}

// Increment boundaries are company-local wall-clock times. In a zone with a
// half-hour UTC offset, epoch-aligned rounding would shift every slot start
// by 30 minutes.
func TestResolve_FixedIncrementAlignsToLocalClock(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}
	settings := weekdaySettings()
	settings.Timezone = "Asia/Kolkata"
	settings.SlotIncrementMinutes = 60
	r := newTestResolver(&fakeSettings{settings: settings}, &fakeBookings{}, Config{})
	res, err := r.Resolve(context.Background(), Request{
		CompanyID:  companyID,
		WorkerIDs:  []string{workerA},
		Duration:   2 * time.Hour,
		RangeStart: time.Date(2026, 3, 2, 0, 0, 0, 0, loc),
		RangeEnd:   time.Date(2026, 3, 3, 0, 0, 0, 0, loc),
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	slots := res.PerWorker[workerA].Slots
	if len(slots) != 7 {
		t.Fatalf("expected 7 slots (09:00 through 15:00 local), got %v", slots)
	}
	for i, s := range slots {
		start := s.Start.In(loc)
		if start.Hour() != 9+i || start.Minute() != 0 {
			t.Fatalf("slot %d starts %02d:%02d local, want %02d:00",
				i, start.Hour(), start.Minute(), 9+i)
		}
	}
}

func TestResolve_DailyCapacityGuard(t *testing.T) {
	settings := weekdaySettings()
	settings.CapacityHoursPerDay = 4
	bookings := &fakeBookings{commitments: map[string][]Commitment{
		// 3h already booked; a further 90m would exceed the 4h cap even
		// though free gaps remain.
		workerA: {{WorkerID: workerA, Start: mondayAt(9, 0), End: mondayAt(12, 0), Source: "work_order"}},
	}}
	r := newTestResolver(&fakeSettings{settings: settings}, bookings, Config{})
	res, err := r.Resolve(context.Background(), mondayRequest(90*time.Minute, workerA))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(res.PerWorker[workerA].Slots) != 0 {
		t.Fatalf("expected capacity guard to exclude the day, got %v", res.PerWorker[workerA].Slots)
	}
}

func TestResolve_CompanyTimezoneWindows(t *testing.T) {
	settings := weekdaySettings()
	settings.Timezone = "America/New_York"
	r := newTestResolver(&fakeSettings{settings: settings}, &fakeBookings{}, Config{})
	res, err := r.Resolve(context.Background(), Request{
		CompanyID:  companyID,
		WorkerIDs:  []string{workerA},
		Duration:   time.Hour,
		RangeStart: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	// 09:00 EST is 14:00 UTC; the range starts mid-window at 12:00 UTC.
	slots := res.PerWorker[workerA].Slots
	if len(slots) != 1 {
		t.Fatalf("expected one slot, got %v", slots)
	}
	if !slots[0].Start.Equal(time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)) {
		t.Fatalf("slot start %v, want 14:00 UTC (09:00 New York)", slots[0].Start)
	}
	if !slots[0].End.Equal(time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)) {
		t.Fatalf("slot end %v, want 22:00 UTC (17:00 New York)", slots[0].End)
	}
}

func TestResolve_InvalidCommitmentIsDiagnosedNotFatal(t *testing.T) {
	bookings := &fakeBookings{commitments: map[string][]Commitment{
		workerA: {
			{WorkerID: workerA, Start: mondayAt(13, 0), End: mondayAt(11, 0), Source: "schedule_event"},
		},
	}}
	r := newTestResolver(&fakeSettings{settings: weekdaySettings()}, bookings, Config{})
	res, err := r.Resolve(context.Background(), mondayRequest(2*time.Hour, workerA))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Diagnostics.InvalidCommitments[workerA] != 1 {
		t.Fatalf("expected one invalid commitment diagnosed, got %v", res.Diagnostics.InvalidCommitments)
	}
	requireSlots(t, res.PerWorker[workerA].Slots,
		interval.Interval{Start: mondayAt(9, 0), End: mondayAt(17, 0)})
}

func TestResolve_PerWorkerIsolation(t *testing.T) {
	bookings := &fakeBookings{
		errs: map[string]error{workerA: errors.New("connection refused")},
	}
	r := newTestResolver(&fakeSettings{settings: weekdaySettings()}, bookings, Config{})
	res, err := r.Resolve(context.Background(), mondayRequest(2*time.Hour, workerA, workerB))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !res.Success {
		t.Fatal("one degraded worker must not fail the request")
	}
	if !res.PerWorker[workerA].Degraded || res.PerWorker[workerA].Reason == "" {
		t.Fatalf("worker A should be degraded with a reason, got %+v", res.PerWorker[workerA])
	}
	if _, recorded := res.Diagnostics.DegradedWorkers[workerA]; !recorded {
		t.Fatal("degraded worker missing from diagnostics")
	}
	requireSlots(t, res.PerWorker[workerB].Slots,
		interval.Interval{Start: mondayAt(9, 0), End: mondayAt(17, 0)})
}

func TestResolve_AllWorkersDegradedFailsRequest(t *testing.T) {
	bookings := &fakeBookings{errs: map[string]error{
		workerA: errors.New("connection refused"),
		workerB: errors.New("connection refused"),
	}}
	r := newTestResolver(&fakeSettings{settings: weekdaySettings()}, bookings, Config{})
	res, err := r.Resolve(context.Background(), mondayRequest(2*time.Hour, workerA, workerB))
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	if res.Success {
		t.Fatal("expected success=false when every worker degraded")
	}
	if res.Diagnostics.Error == "" {
		t.Fatal("expected an aggregate reason in diagnostics")
	}
}

func TestResolve_DeadlinePartialResultFlaggedIncomplete(t *testing.T) {
	bookings := &fakeBookings{block: map[string]bool{workerB: true}}
	r := newTestResolver(&fakeSettings{settings: weekdaySettings()}, bookings, Config{
		OverallTimeout:     100 * time.Millisecond,
		WorkerFetchTimeout: time.Minute,
	})
	res, err := r.Resolve(context.Background(), mondayRequest(2*time.Hour, workerA, workerB))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !res.Diagnostics.Incomplete {
		t.Fatal("expected result to be flagged incomplete")
	}
	requireSlots(t, res.PerWorker[workerA].Slots,
		interval.Interval{Start: mondayAt(9, 0), End: mondayAt(17, 0)})
	if !res.PerWorker[workerB].Degraded {
		t.Fatal("unfinished worker should be degraded")
	}
}

func TestResolve_ValidationRejections(t *testing.T) {
	settings := &fakeSettings{settings: weekdaySettings()}
	r := newTestResolver(settings, &fakeBookings{}, Config{MaxLookahead: 30 * 24 * time.Hour})

	cases := map[string]Request{
		"empty workers": mondayRequest(time.Hour),
		"zero duration": mondayRequest(0, workerA),
		"bad worker id": {
			CompanyID:  companyID,
			WorkerIDs:  []string{"not-a-uuid"},
			Duration:   time.Hour,
			RangeStart: mondayAt(0, 0),
			RangeEnd:   mondayAt(23, 0),
		},
		"bad company id": {
			CompanyID:  "acme",
			WorkerIDs:  []string{workerA},
			Duration:   time.Hour,
			RangeStart: mondayAt(0, 0),
			RangeEnd:   mondayAt(23, 0),
		},
		"inverted range": {
			CompanyID:  companyID,
			WorkerIDs:  []string{workerA},
			Duration:   time.Hour,
			RangeStart: mondayAt(23, 0),
			RangeEnd:   mondayAt(0, 0),
		},
		"excessive lookahead": {
			CompanyID:  companyID,
			WorkerIDs:  []string{workerA},
			Duration:   time.Hour,
			RangeStart: mondayAt(0, 0),
			RangeEnd:   mondayAt(0, 0).AddDate(0, 0, 45),
		},
	}
	for name, req := range cases {
		res, err := r.Resolve(context.Background(), req)
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("%s: expected ErrInvalidRequest, got %v", name, err)
		}
		if res.Success {
			t.Errorf("%s: expected success=false", name)
		}
	}
	if settings.calls != 0 {
		t.Fatalf("validation failures must not touch the settings store, saw %d fetches", settings.calls)
	}
}

func TestResolve_SettingsUnavailableFailsRequest(t *testing.T) {
	r := newTestResolver(&fakeSettings{err: errors.New("connection refused")}, &fakeBookings{}, Config{})
	_, err := r.Resolve(context.Background(), mondayRequest(time.Hour, workerA))
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

// Every returned slot must satisfy the duration floor and ascending order.
func TestResolve_SlotInvariants(t *testing.T) {
	bookings := &fakeBookings{commitments: map[string][]Commitment{
		workerA: {
			{WorkerID: workerA, Start: mondayAt(10, 0), End: mondayAt(10, 30), Source: "schedule_event"},
			{WorkerID: workerA, Start: mondayAt(12, 0), End: mondayAt(14, 0), Source: "work_order"},
			{WorkerID: workerA, Start: mondayAt(15, 30), End: mondayAt(16, 0), Source: "work_order"},
		},
	}}
	r := newTestResolver(&fakeSettings{settings: weekdaySettings()}, bookings, Config{})
	req := Request{
		CompanyID:  companyID,
		WorkerIDs:  []string{workerA},
		Duration:   time.Hour,
		RangeStart: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC),
	}
	res, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	slots := res.PerWorker[workerA].Slots
	if len(slots) == 0 {
		t.Fatal("expected slots across the week")
	}
	for i, s := range slots {
		if s.Duration() < req.Duration {
			t.Fatalf("slot %d shorter than requested duration: %v", i, s)
		}
		if i > 0 && !slots[i-1].Start.Before(s.Start) {
			t.Fatalf("slots out of order at %d: %v then %v", i, slots[i-1], s)
		}
	}
}
