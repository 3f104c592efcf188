package runner

import (
	"fmt"
)

// ConfigurationError reports a bad or missing task descriptor or an
// unresolved dependency. It is surfaced before any task runs.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// TaskError reports that a task's unit of work failed. It is recorded on
// the task result; whether it halts the run depends on the idempotency flag.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q failed: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}
