package domain

import "time"

// RunOutcome describes how the last run of a worker ended
type RunOutcome string

const (
	RunOutcomeCompleted RunOutcome = "completed"
	RunOutcomeAborted   RunOutcome = "aborted"
	RunOutcomeFailed    RunOutcome = "failed"
)

// WorkerRecord is the externally visible view of an allocated worker
type WorkerRecord struct {
	WorkerID    string     `json:"workerId"`
	Robot       string     `json:"robot"`
	State       string     `json:"state"`
	AllocatedAt time.Time  `json:"allocatedAt"`
	Runs        int        `json:"runs"`
	LastOutcome RunOutcome `json:"lastOutcome,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	LastRunAt   *time.Time `json:"lastRunAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}
