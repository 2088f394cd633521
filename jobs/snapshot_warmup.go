package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/gatehouse/gatehouse/internal/jobs"
)

// SnapshotWarmer loads and caches one user's permission snapshot.
type SnapshotWarmer interface {
	WarmSnapshot(ctx context.Context, userID int64) error
}

// SnapshotWarmupJob pre-populates snapshot cache entries so the first
// authorize call after a deploy or invalidation does not pay the load.
type SnapshotWarmupJob struct {
	Warmer  SnapshotWarmer
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSnapshotWarmupJob wires dependencies for the warmup handler.
func NewSnapshotWarmupJob(warmer SnapshotWarmer, pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *SnapshotWarmupJob {
	return &SnapshotWarmupJob{Warmer: warmer, Pool: pool, Logger: logger, Metrics: metrics}
}

// Handle processes snapshot warmup tasks.
func (j *SnapshotWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Warmer == nil {
		return errors.New("snapshot warmup: handler not configured")
	}
	var payload SnapshotWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskSnapshotWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	userIDs := payload.UserIDs
	if len(userIDs) == 0 {
		var err error
		userIDs, err = j.fetchAssignedUsers(ctx)
		if err != nil {
			resultErr = err
			logger.Error("load warmup users", slog.Any("error", err))
			return resultErr
		}
	}
	if len(userIDs) == 0 {
		logger.Info("no users discovered for warmup")
		return resultErr
	}

	started := time.Now()
	for _, userID := range userIDs {
		if err := j.warmUser(ctx, userID); err != nil {
			resultErr = err
			logger.Error("warm snapshot", slog.Int64("user_id", userID), slog.Any("error", err))
			return resultErr
		}
	}
	logger.Info("completed snapshot warmup",
		slog.Int("users", len(userIDs)), slog.Duration("duration", time.Since(started)))
	return resultErr
}

func (j *SnapshotWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SnapshotWarmupJob) warmUser(ctx context.Context, userID int64) error {
	warmCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return j.Warmer.WarmSnapshot(warmCtx, userID)
}

func (j *SnapshotWarmupJob) fetchAssignedUsers(ctx context.Context) ([]int64, error) {
	if j.Pool == nil {
		return nil, errors.New("snapshot warmup: pool not configured")
	}
	rows, err := j.Pool.Query(ctx,
		`SELECT DISTINCT user_id FROM user_roles ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var userIDs []int64
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		userIDs = append(userIDs, userID)
	}
	return userIDs, rows.Err()
}

func (j *SnapshotWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSnapshotWarmup))
	}
	return slog.Default().With(slog.String("job", TaskSnapshotWarmup))
}
