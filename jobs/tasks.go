package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPollStatusSweep activates scheduled polls and expires overdue ones.
	TaskPollStatusSweep = "polls:status_sweep"
	// TaskRoleExpirySweep deactivates user role assignments past their expiry.
	TaskRoleExpirySweep = "rbac:role_expiry_sweep"
)

// SweepPayload carries optional tuning for sweep tasks.
type SweepPayload struct {
	Reason string `json:"reason,omitempty"`
}

// NewPollStatusSweepTask constructs a poll status sweep task.
func NewPollStatusSweepTask(payload SweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPollStatusSweep, data), nil
}

// NewRoleExpirySweepTask constructs a role expiry sweep task.
func NewRoleExpirySweepTask(payload SweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRoleExpirySweep, data), nil
}
