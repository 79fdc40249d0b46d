// Package cleanup provides the job that deletes dead verification codes.
//
// A code is dead once it is used, withdrawn or expired. Dead codes still
// count toward the per-user request rate limit, so a row is deleted only
// after it has also left the rate-limit window.
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Executor abstracts ExecContext. *sql.DB, *sqlx.DB and *sql.Tx satisfy it.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// PurgeRecorder receives the number of deleted rows. May be nil.
type PurgeRecorder interface {
	RecordCodesPurged(count int64)
}

// CleanupJob deletes dead verification codes. Run is idempotent.
type CleanupJob struct {
	db         Executor
	logger     *zap.Logger
	rec        PurgeRecorder
	now        func() time.Time
	RateWindow time.Duration // rows younger than this are kept (default: 60m)
}

// NewCleanupJob creates a CleanupJob with a 60 minute rate window.
func NewCleanupJob(db Executor, rec PurgeRecorder, logger *zap.Logger) *CleanupJob {
	return &CleanupJob{
		db:         db,
		logger:     logger,
		rec:        rec,
		now:        time.Now,
		RateWindow: 60 * time.Minute,
	}
}

const purgeQuery = `DELETE FROM verification_codes
WHERE created_at < $1
  AND (is_used OR deleted_at IS NOT NULL OR expires_at < $2)`

// Run deletes every dead code created before the rate window.
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	now := j.now()
	cutoff := now.Add(-j.RateWindow)

	result, err := j.db.ExecContext(ctx, purgeQuery, cutoff, now)
	if err != nil {
		j.logger.Error("code cleanup failed",
			zap.Error(err),
			zap.Duration("rate_window", j.RateWindow),
		)
		return fmt.Errorf("failed to purge verification codes: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("failed to read purged row count", zap.Error(err))
		return fmt.Errorf("failed to read purged row count: %w", err)
	}

	if j.rec != nil {
		j.rec.RecordCodesPurged(deleted)
	}

	j.logger.Info("code cleanup finished",
		zap.Int64("deleted_count", deleted),
		zap.Time("cutoff", cutoff),
		zap.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// RunEvery runs the job immediately and then on every tick until ctx is
// done. Failures are logged and do not stop the loop. A non-positive
// interval means one hour.
func (j *CleanupJob) RunEvery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_ = j.Run(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
