package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tarek-aziz/fieldops/services/availability-service/internal/calendar"
	"github.com/tarek-aziz/fieldops/services/availability-service/internal/interval"
)

type Config struct {
	// MaxLookahead caps rangeEnd-rangeStart to guard against unbounded scans.
	MaxLookahead time.Duration
	// WorkerFetchTimeout bounds each worker's commitment fetch so one slow
	// store response cannot stall the whole request.
	WorkerFetchTimeout time.Duration
	// OverallTimeout bounds the whole resolution; on expiry a partial result
	// is returned with Incomplete set, never a silently truncated one.
	OverallTimeout time.Duration
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MaxLookahead <= 0 {
		c.MaxLookahead = 90 * 24 * time.Hour
	}
	if c.WorkerFetchTimeout <= 0 {
		c.WorkerFetchTimeout = 3 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Resolver is the externally callable entry point of the availability
// engine. It is stateless across requests; every call fetches settings and
// commitments fresh and computes in-memory.
type Resolver struct {
	settings SettingsProvider
	bookings CommitmentSource
	hours    HoursProvider // nil unless a workforce override source is wired
	logger   *slog.Logger
	cfg      Config
}

func NewResolver(settings SettingsProvider, bookings CommitmentSource, hours HoursProvider, logger *slog.Logger, cfg Config) *Resolver {
	return &Resolver{
		settings: settings,
		bookings: bookings,
		hours:    hours,
		logger:   logger,
		cfg:      cfg.withDefaults(),
	}
}

// Resolve validates req, fans out one goroutine per worker, and shapes the
// aggregate result. Per-worker failures degrade that worker only; the call
// itself fails only on invalid input or when settings cannot be loaded.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Result, error) {
	started := r.cfg.Now()

	if err := r.validate(req); err != nil {
		return Result{
			Success:     false,
			SearchStart: req.RangeStart,
			SearchEnd:   req.RangeEnd,
			Diagnostics: Diagnostics{Error: err.Error()},
		}, err
	}

	ctx, span := otel.Tracer("availability").Start(ctx, "availability.resolve",
		trace.WithAttributes(
			attribute.String("company_id", req.CompanyID),
			attribute.Int("worker_count", len(req.WorkerIDs)),
			attribute.Int("duration_minutes", int(req.Duration.Minutes())),
		),
	)
	defer span.End()

	if r.cfg.OverallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.OverallTimeout)
		defer cancel()
	}

	rawSettings, err := r.settings.CompanySettings(ctx, req.CompanyID)
	if err != nil {
		err = fmt.Errorf("%w: company settings: %v", ErrDataUnavailable, err)
		return Result{
			Success:     false,
			SearchStart: req.RangeStart,
			SearchEnd:   req.RangeEnd,
			Diagnostics: Diagnostics{Error: err.Error()},
		}, err
	}
	cal, err := calendar.New(rawSettings)
	if err != nil {
		return Result{
			Success:     false,
			SearchStart: req.RangeStart,
			SearchEnd:   req.RangeEnd,
			Diagnostics: Diagnostics{Error: err.Error()},
		}, err
	}

	now := r.cfg.Now()
	results := make(chan WorkerAvailability, len(req.WorkerIDs))
	for _, workerID := range req.WorkerIDs {
		go func(workerID string) {
			results <- r.resolveWorker(ctx, cal, req, workerID, now)
		}(workerID)
	}

	perWorker := make(map[string]WorkerAvailability, len(req.WorkerIDs))
	incomplete := false
collect:
	for range req.WorkerIDs {
		select {
		case wa := <-results:
			perWorker[wa.WorkerID] = wa
		case <-ctx.Done():
			incomplete = true
			break collect
		}
	}
	for _, workerID := range req.WorkerIDs {
		if _, ok := perWorker[workerID]; !ok {
			perWorker[workerID] = WorkerAvailability{
				WorkerID: workerID,
				Degraded: true,
				Reason:   "resolution deadline exceeded",
			}
		}
	}

	res := Result{
		PerWorker:   perWorker,
		SearchStart: req.RangeStart,
		SearchEnd:   req.RangeEnd,
		Success:     true,
		Diagnostics: Diagnostics{
			SlotCounts:         make(map[string]int, len(perWorker)),
			DegradedWorkers:    map[string]string{},
			InvalidCommitments: map[string]int{},
			Incomplete:         incomplete,
			ElapsedMS:          r.cfg.Now().Sub(started).Milliseconds(),
			Settings:           rawSettings,
		},
	}

	degraded := 0
	for id, wa := range perWorker {
		res.Diagnostics.SlotCounts[id] = len(wa.Slots)
		if wa.Degraded {
			degraded++
			res.Diagnostics.DegradedWorkers[id] = wa.Reason
		}
		if wa.InvalidCommitments > 0 {
			res.Diagnostics.InvalidCommitments[id] = wa.InvalidCommitments
		}
		for i := range wa.Slots {
			s := wa.Slots[i]
			if res.Diagnostics.EarliestSlot == nil || s.Start.Before(res.Diagnostics.EarliestSlot.Start) {
				res.Diagnostics.EarliestSlot = &s
			}
		}
	}
	if degraded == len(req.WorkerIDs) && degraded > 0 {
		res.Success = false
		res.Diagnostics.Error = "availability data unavailable for all requested workers"
		span.SetAttributes(attribute.Bool("all_workers_degraded", true))
		return res, fmt.Errorf("%w: all %d workers degraded", ErrDataUnavailable, degraded)
	}
	return res, nil
}

func (r *Resolver) validate(req Request) error {
	if len(req.WorkerIDs) == 0 {
		return fmt.Errorf("%w: employeeIds must not be empty", ErrInvalidRequest)
	}
	for _, id := range req.WorkerIDs {
		if _, err := uuid.Parse(id); err != nil {
			return fmt.Errorf("%w: employee id %q is not a valid uuid", ErrInvalidRequest, id)
		}
	}
	if _, err := uuid.Parse(req.CompanyID); err != nil {
		return fmt.Errorf("%w: companyId %q is not a valid uuid", ErrInvalidRequest, req.CompanyID)
	}
	if req.Duration <= 0 {
		return fmt.Errorf("%w: durationMinutes must be positive", ErrInvalidRequest)
	}
	if req.RangeStart.After(req.RangeEnd) {
		return fmt.Errorf("%w: startDate is after endDate", ErrInvalidRequest)
	}
	if req.RangeEnd.Sub(req.RangeStart) > r.cfg.MaxLookahead {
		return fmt.Errorf("%w: search range exceeds maximum lookahead of %s", ErrInvalidRequest, r.cfg.MaxLookahead)
	}
	return nil
}

func (r *Resolver) resolveWorker(ctx context.Context, cal calendar.Calendar, req Request, workerID string, now time.Time) WorkerAvailability {
	ctx, span := otel.Tracer("availability").Start(ctx, "availability.worker",
		trace.WithAttributes(attribute.String("worker_id", workerID)),
	)
	defer span.End()

	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.WorkerFetchTimeout)
	defer cancel()

	// Widened by the buffers so a commitment just outside the range still
	// blocks time inside it once padded.
	margin := cal.BufferBefore + cal.BufferAfter
	commitments, err := r.bookings.Commitments(fetchCtx, req.CompanyID, workerID, req.RangeStart.Add(-margin), req.RangeEnd.Add(margin))
	if err != nil {
		reason := "commitment store error: " + err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "commitment fetch timed out"
		}
		r.logger.Warn("worker availability degraded", "worker_id", workerID, "err", err)
		return WorkerAvailability{WorkerID: workerID, Degraded: true, Reason: reason}
	}

	busy, invalid := busyIntervals(cal, commitments)
	booked := bookedPerDay(cal, commitments)

	var override windowOverride
	if r.hours != nil {
		override = func(day time.Time) ([]interval.Interval, bool) {
			windows, ok, err := r.hours.DayWindows(ctx, req.CompanyID, workerID, day)
			if err != nil {
				r.logger.Warn("worker hours override fetch failed; using company calendar",
					"worker_id", workerID, "err", err)
				return nil, false
			}
			return windows, ok
		}
	}

	slots := workerSlots(cal, req, busy, booked, now, override)
	span.SetAttributes(attribute.Int("slot_count", len(slots)))
	return WorkerAvailability{
		WorkerID:           workerID,
		Slots:              slots,
		InvalidCommitments: invalid,
	}
}
