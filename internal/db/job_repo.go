package db

import (
	"context"
	"time"

	"weatherrules/internal/types"
)

// JobRepository guards and records scheduled batch jobs through the
// job_locks and job_history tables.
type JobRepository struct {
	db    DBTX
	clock types.Clock
}

func NewJobRepository(db DBTX, clock types.Clock) *JobRepository {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &JobRepository{db: db, clock: clock}
}

// AcquireLock claims lockID for ttl. It returns false while another worker
// holds an unexpired lock. Expiry is computed in Go so the TTL never passes
// through interval parsing.
func (r *JobRepository) AcquireLock(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error) {
	now := r.clock.Now()
	tag, err := r.db.Exec(ctx,
		`INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE job_locks.expires_at < $3`,
		lockID, workerID, now, now.Add(ttl),
	)
	if err != nil {
		return false, types.NewStoreError("failed to acquire job lock", err)
	}
	return tag.RowsAffected() > 0, nil
}

// StartRun inserts a running job_history row and returns its id.
func (r *JobRepository) StartRun(ctx context.Context, jobType string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO job_history (job_type, started_at, status)
		 VALUES ($1, $2, 'running')
		 RETURNING id`,
		jobType, r.clock.Now(),
	).Scan(&id)
	if err != nil {
		return 0, types.NewStoreError("failed to start job run", err)
	}
	return id, nil
}

// FinishRun closes a job_history row. status is "success", "partial" or
// "failed"; summary is stored in the error column when non-empty.
func (r *JobRepository) FinishRun(ctx context.Context, id int64, status string, items int, summary string) error {
	var detail *string
	if summary != "" {
		detail = &summary
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE job_history
		 SET finished_at = $2, status = $3, items_count = $4, error = $5
		 WHERE id = $1`,
		id, r.clock.Now(), status, items, detail,
	)
	if err != nil {
		return types.NewStoreError("failed to finish job run", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "job run not found", nil)
	}
	return nil
}
