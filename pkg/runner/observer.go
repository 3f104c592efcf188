package runner

import (
	"dsdeploy/pkg/logging"
	"dsdeploy/pkg/models"
)

// Observer receives structured run and task lifecycle events.
// Implementations must not block; they are called inline between tasks.
type Observer interface {
	RunStarted(run *models.RunRecord)
	TaskTransition(run *models.RunRecord, task *models.TaskResult, from, to models.TaskState)
	RunFinished(run *models.RunRecord)
}

// LogObserver emits one structured log record per transition
type LogObserver struct {
	log *logging.Logger
}

// NewLogObserver creates an observer writing to log
func NewLogObserver(log *logging.Logger) *LogObserver {
	return &LogObserver{log: log}
}

func (o *LogObserver) RunStarted(run *models.RunRecord) {
	o.log.Info("run.on", map[string]interface{}{
		"run":       run.ID,
		"as_of":     run.AsOf,
		"time_zone": run.TimeZone,
		"tasks":     len(run.Tasks),
	})
}

func (o *LogObserver) TaskTransition(run *models.RunRecord, task *models.TaskResult, from, to models.TaskState) {
	fields := map[string]interface{}{
		"run":  run.ID,
		"task": task.Name,
		"from": string(from),
		"to":   string(to),
	}
	if task.Error != "" {
		fields["error"] = task.Error
	}
	switch to {
	case models.TaskFailed:
		o.log.Error("task.transition", fields)
	case models.TaskSkipped:
		o.log.Warn("task.transition", fields)
	default:
		o.log.Info("task.transition", fields)
	}
}

func (o *LogObserver) RunFinished(run *models.RunRecord) {
	fields := map[string]interface{}{
		"run":      run.ID,
		"outcome":  string(run.Outcome),
		"duration": run.CompletedAt.Sub(run.StartedAt).String(),
	}
	if run.Error != "" {
		fields["error"] = run.Error
	}
	o.log.Info("run.end", fields)
}
