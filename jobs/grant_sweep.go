package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/gatehouse/gatehouse/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// GrantPurger deletes grants past their temporal bounds.
type GrantPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// GrantSweepJob removes expired temporary and conditional grants. Expired
// rows are already inert for decisions; the sweep only keeps the tables
// small.
type GrantSweepJob struct {
	Store   GrantPurger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewGrantSweepJob wires dependencies for the sweep handler.
func NewGrantSweepJob(store GrantPurger, logger *slog.Logger, metrics *jobmetrics.Metrics) *GrantSweepJob {
	return &GrantSweepJob{
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes grant sweep tasks.
func (j *GrantSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("grant sweep: handler not configured")
	}
	var payload GrantSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskGrantSweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	started := j.now()
	purged, err := j.Store.PurgeExpired(ctx, started)
	if err != nil {
		resultErr = err
		logger.Error("purge expired grants", slog.Any("error", err))
		return resultErr
	}
	logger.Info("completed grant sweep",
		slog.Int64("purged", purged), slog.Duration("duration", time.Since(started)))
	return resultErr
}

func (j *GrantSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *GrantSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGrantSweep))
	}
	return slog.Default().With(slog.String("job", TaskGrantSweep))
}

func (j *GrantSweepJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
