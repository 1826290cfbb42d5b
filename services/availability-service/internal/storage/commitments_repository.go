package storage

import (
	"context"
	"time"

	"github.com/tarek-aziz/fieldops/libs/db"
	"github.com/tarek-aziz/fieldops/services/availability-service/internal/engine"
)

type CommitmentsRepository struct {
	pool *db.Pool
}

func NewCommitmentsRepository(pool *db.Pool) *CommitmentsRepository {
	return &CommitmentsRepository{pool: pool}
}

// Commitments returns the worker's scheduled work orders and manual schedule
// blocks intersecting [from, to), ordered by start. Cancelled and completed
// work orders do not block time.
func (r *CommitmentsRepository) Commitments(ctx context.Context, companyID, workerID string, from, to time.Time) ([]engine.Commitment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT assigned_to::text, scheduled_start, scheduled_end, 'work_order'
		FROM work_orders
		WHERE company_id = $1
			AND assigned_to = $2
			AND status IN ('scheduled', 'in_progress')
			AND scheduled_start < $4
			AND scheduled_end > $3
		UNION ALL
		SELECT employee_id::text, start_time, end_time, 'schedule_event'
		FROM schedule_events
		WHERE company_id = $1
			AND employee_id = $2
			AND start_time < $4
			AND end_time > $3
		ORDER BY 2 ASC
	`, companyID, workerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Commitment
	for rows.Next() {
		var c engine.Commitment
		if err := rows.Scan(&c.WorkerID, &c.Start, &c.End, &c.Source); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
