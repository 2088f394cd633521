package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakePurger struct {
	purged int64
	err    error
	gotNow time.Time
}

func (p *fakePurger) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	p.gotNow = now
	return p.purged, p.err
}

func TestGrantSweepHandle(t *testing.T) {
	purger := &fakePurger{purged: 3}
	job := NewGrantSweepJob(purger, slog.New(slog.DiscardHandler), nil)

	task, err := NewGrantSweepTask(time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.False(t, purger.gotNow.IsZero())
}

func TestGrantSweepHandlePropagatesError(t *testing.T) {
	purger := &fakePurger{err: errors.New("boom")}
	job := NewGrantSweepJob(purger, slog.New(slog.DiscardHandler), nil)

	task, err := NewGrantSweepTask(time.Now().UTC())
	require.NoError(t, err)

	require.Error(t, job.Handle(context.Background(), task))
}

func TestGrantSweepHandleSkipsMalformedPayload(t *testing.T) {
	job := NewGrantSweepJob(&fakePurger{}, slog.New(slog.DiscardHandler), nil)
	task := asynq.NewTask(TaskGrantSweep, []byte("{"))

	err := job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeWarmer struct {
	warmed []int64
	err    error
}

func (w *fakeWarmer) WarmSnapshot(_ context.Context, userID int64) error {
	if w.err != nil {
		return w.err
	}
	w.warmed = append(w.warmed, userID)
	return nil
}

func TestSnapshotWarmupHandleExplicitUsers(t *testing.T) {
	warmer := &fakeWarmer{}
	job := NewSnapshotWarmupJob(warmer, nil, slog.New(slog.DiscardHandler), nil)

	task, err := NewSnapshotWarmupTask(SnapshotWarmupPayload{UserIDs: []int64{7, 8}})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []int64{7, 8}, warmer.warmed)
}

func TestSnapshotWarmupHandleStopsOnError(t *testing.T) {
	warmer := &fakeWarmer{err: errors.New("cache down")}
	job := NewSnapshotWarmupJob(warmer, nil, slog.New(slog.DiscardHandler), nil)

	task, err := NewSnapshotWarmupTask(SnapshotWarmupPayload{UserIDs: []int64{7}})
	require.NoError(t, err)

	require.Error(t, job.Handle(context.Background(), task))
}
