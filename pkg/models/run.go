package models

import (
	"time"
)

// TaskState represents the status of one task within a run
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskSkipped   TaskState = "skipped"
)

// RunOutcome is the overall result of one pipeline invocation
type RunOutcome string

const (
	RunSuccess        RunOutcome = "success"         // every task succeeded
	RunPartialFailure RunOutcome = "partial_failure" // idempotent failures tolerated, later work still landed
	RunFailure        RunOutcome = "failure"         // halted, or nothing useful after a failure
)

// TaskResult is the per-task entry in a run record
type TaskResult struct {
	Name        string     `json:"name"`
	Position    int        `json:"position"`
	Connections []string   `json:"connections,omitempty"`
	Idempotent  bool       `json:"idempotent"`
	State       TaskState  `json:"state"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// RunRecord is the outcome ledger of one execution of the task sequence.
// It is mutated only by the runner and is immutable once finalized.
type RunRecord struct {
	ID          string       `json:"id"`
	Version     string       `json:"version,omitempty"`
	AsOf        time.Time    `json:"as_of"`
	TimeZone    string       `json:"time_zone,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at"`
	Outcome     RunOutcome   `json:"outcome"`
	Tasks       []TaskResult `json:"tasks"`
	Error       string       `json:"error,omitempty"`
}

// TaskCounts returns the number of tasks per state
func (r *RunRecord) TaskCounts() map[TaskState]int {
	counts := make(map[TaskState]int)
	for _, t := range r.Tasks {
		counts[t.State]++
	}
	return counts
}
