package engine

import (
	"context"
	"errors"
	"time"

	"github.com/tarek-aziz/fieldops/services/availability-service/internal/calendar"
	"github.com/tarek-aziz/fieldops/services/availability-service/internal/interval"
)

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrDataUnavailable = errors.New("data unavailable")
)

// Commitment is an existing claim on a worker's time: a scheduled work order
// or a manual schedule block. The resolver only ever reads these.
type Commitment struct {
	WorkerID string
	Start    time.Time
	End      time.Time
	Source   string // "work_order" | "schedule_event"
}

// CommitmentSource supplies a worker's commitments intersecting [from, to).
type CommitmentSource interface {
	Commitments(ctx context.Context, companyID, workerID string, from, to time.Time) ([]Commitment, error)
}

// SettingsProvider supplies the company's scheduling configuration.
type SettingsProvider interface {
	CompanySettings(ctx context.Context, companyID string) (calendar.Settings, error)
}

// HoursProvider optionally overrides the company calendar with per-worker
// open windows for a given local day. ok=false means no override exists and
// the company calendar applies.
type HoursProvider interface {
	DayWindows(ctx context.Context, companyID, workerID string, day time.Time) (windows []interval.Interval, ok bool, err error)
}

// Request is a validated availability resolution request.
type Request struct {
	CompanyID  string
	WorkerIDs  []string
	Duration   time.Duration
	RangeStart time.Time
	RangeEnd   time.Time
}

// WorkerAvailability is one worker's share of a resolution result. A
// degraded worker has no slots and a recorded reason; it never aborts the
// other workers.
type WorkerAvailability struct {
	WorkerID           string
	Slots              []interval.Interval
	Degraded           bool
	Reason             string
	InvalidCommitments int
}

// Diagnostics is the operator-facing part of a result. It is what lets an
// operator tell "no availability" apart from "a worker's data failed to load".
type Diagnostics struct {
	SlotCounts         map[string]int
	DegradedWorkers    map[string]string
	InvalidCommitments map[string]int
	EarliestSlot       *interval.Interval
	Incomplete         bool
	ElapsedMS          int64
	Settings           calendar.Settings
	Error              string
}

type Result struct {
	PerWorker   map[string]WorkerAvailability
	SearchStart time.Time
	SearchEnd   time.Time
	Success     bool
	Diagnostics Diagnostics
}
