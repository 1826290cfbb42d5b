package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/tarek-aziz/fieldops/libs/db"
	"github.com/tarek-aziz/fieldops/services/availability-service/internal/calendar"
)

type SettingsRepository struct {
	pool *db.Pool
}

func NewSettingsRepository(pool *db.Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

// CompanySettings loads the company's scheduling configuration. Buffer
// columns are nullable and fall back to the legacy job_buffer_minutes
// column, then to 30 minutes; the other optional knobs carry their
// historical defaults in SQL so the engine sees concrete values.
func (r *SettingsRepository) CompanySettings(ctx context.Context, companyID string) (calendar.Settings, error) {
	var s calendar.Settings
	err := r.pool.QueryRow(ctx, `
		SELECT company_id::text,
			business_hours_start,
			business_hours_end,
			working_days,
			COALESCE(default_buffer_before_minutes, job_buffer_minutes, 30),
			COALESCE(default_buffer_after_minutes, job_buffer_minutes, 30),
			COALESCE(min_advance_booking_hours, 1),
			COALESCE(max_advance_booking_days, 90),
			COALESCE(capacity_hours_per_day, 8),
			COALESCE(slot_increment_minutes, 0),
			timezone
		FROM company_settings
		WHERE company_id = $1
	`, companyID).Scan(
		&s.CompanyID,
		&s.BusinessHoursStart,
		&s.BusinessHoursEnd,
		&s.WorkingDays,
		&s.BufferBeforeMinutes,
		&s.BufferAfterMinutes,
		&s.MinAdvanceHours,
		&s.MaxAdvanceDays,
		&s.CapacityHoursPerDay,
		&s.SlotIncrementMinutes,
		&s.Timezone,
	)
	if err != nil {
		return calendar.Settings{}, err
	}
	return s, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
