package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGrantSweep deletes expired temporary and conditional grants.
	TaskGrantSweep = "authz:grant_sweep"
	// TaskSnapshotWarmup pre-populates snapshot cache entries.
	TaskSnapshotWarmup = "authz:snapshot_warmup"
)

// GrantSweepPayload carries scheduling metadata for the sweep.
type GrantSweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewGrantSweepTask constructs an Asynq task for the grant sweep.
func NewGrantSweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(GrantSweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGrantSweep, body, asynq.Queue(QueueDefault)), nil
}

// SnapshotWarmupPayload selects the users to warm. An empty UserIDs list
// means every user holding at least one role.
type SnapshotWarmupPayload struct {
	UserIDs []int64 `json:"user_ids,omitempty"`
}

// NewSnapshotWarmupTask constructs an Asynq task for snapshot warmup.
func NewSnapshotWarmupTask(payload SnapshotWarmupPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSnapshotWarmup, body, asynq.Queue(QueueDefault)), nil
}
