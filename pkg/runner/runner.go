package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dsdeploy/pkg/broker"
	"dsdeploy/pkg/logging"
	"dsdeploy/pkg/models"
	"dsdeploy/pkg/store"
)

// DefaultTimeZone is recorded on runs that do not set one explicitly
const DefaultTimeZone = "America/New_York"

// Task is one named, ordered unit of work in a deployment run
type Task struct {
	Name        string
	Connections []string // broker connection names this task requires
	Idempotent  bool     // safe to skip-and-continue past on failure
	Run         func(ctx context.Context, conns map[string]*broker.Handle) error
}

// Runner executes a task sequence strictly in declared order against
// broker-managed connections and finalizes a run record on every path.
type Runner struct {
	broker    *broker.Broker
	store     store.Store
	log       *logging.Logger
	observers []Observer
	version   string
	asOf      time.Time
	timeZone  string
}

// Option configures a Runner
type Option func(*Runner)

// WithStore persists finalized run records to s
func WithStore(s store.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithLogger sets the runner logger
func WithLogger(log *logging.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithObserver registers an additional lifecycle observer
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observers = append(r.observers, o) }
}

// WithVersion records the deploying service version on run records
func WithVersion(version string) Option {
	return func(r *Runner) { r.version = version }
}

// WithAsOf pins the run's as-of timestamp instead of defaulting to now
func WithAsOf(asOf time.Time) Option {
	return func(r *Runner) { r.asOf = asOf }
}

// WithTimeZone sets the run's reporting time zone
func WithTimeZone(tz string) Option {
	return func(r *Runner) { r.timeZone = tz }
}

// New creates a runner over b
func New(b *broker.Broker, opts ...Option) *Runner {
	r := &Runner{
		broker: b,
		log:    logging.NewLogger(logging.INFO, false),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.observers = append(r.observers, NewLogObserver(r.log))
	return r
}

// Run executes tasks in declared order and returns the finalized run
// record. Tasks are validated up front: an unknown connection name or a
// duplicate task name fails the whole run with a ConfigurationError before
// anything executes. The returned error is non-nil only for configuration
// failures; execution failures are expressed in the record's outcome.
func (r *Runner) Run(ctx context.Context, tasks []Task) (*models.RunRecord, error) {
	record := r.newRecord(tasks)

	if err := r.validate(tasks); err != nil {
		record.Outcome = models.RunFailure
		record.Error = err.Error()
		record.CompletedAt = time.Now().UTC()
		r.persist(record)
		return record, err
	}

	for _, o := range r.observers {
		o.RunStarted(record)
	}

	halted := false
	for i := range tasks {
		task := &tasks[i]
		result := &record.Tasks[i]

		// Cancellation is honored between tasks, never mid-task
		if !halted && ctx.Err() != nil {
			halted = true
			record.Error = fmt.Sprintf("run cancelled: %v", ctx.Err())
		}
		if halted {
			r.transition(record, result, models.TaskSkipped)
			continue
		}

		err := r.runTask(ctx, record, task, result)
		if err != nil && !task.Idempotent {
			halted = true
			record.Error = (&TaskError{Task: task.Name, Err: err}).Error()
		}
	}

	record.Outcome = computeOutcome(record.Tasks, halted)
	record.CompletedAt = time.Now().UTC()

	for _, o := range r.observers {
		o.RunFinished(record)
	}
	r.persist(record)
	return record, nil
}

func (r *Runner) newRecord(tasks []Task) *models.RunRecord {
	asOf := r.asOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	timeZone := r.timeZone
	if timeZone == "" {
		timeZone = DefaultTimeZone
	}

	record := &models.RunRecord{
		ID:        uuid.New().String(),
		Version:   r.version,
		AsOf:      asOf,
		TimeZone:  timeZone,
		StartedAt: time.Now().UTC(),
		Tasks:     make([]models.TaskResult, len(tasks)),
	}
	for i, task := range tasks {
		record.Tasks[i] = models.TaskResult{
			Name:        task.Name,
			Position:    i,
			Connections: task.Connections,
			Idempotent:  task.Idempotent,
			State:       models.TaskPending,
		}
	}
	return record
}

// validate checks the whole sequence before anything executes
func (r *Runner) validate(tasks []Task) error {
	if len(tasks) == 0 {
		return &ConfigurationError{Reason: "no tasks to run"}
	}
	seen := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		if task.Name == "" {
			return &ConfigurationError{Reason: "task with empty name"}
		}
		if seen[task.Name] {
			return &ConfigurationError{Reason: fmt.Sprintf("duplicate task name %q", task.Name)}
		}
		seen[task.Name] = true
		if task.Run == nil {
			return &ConfigurationError{Reason: fmt.Sprintf("task %q has no unit of work", task.Name)}
		}
		for _, conn := range task.Connections {
			if !r.broker.Has(conn) {
				return &ConfigurationError{
					Reason: fmt.Sprintf("task %q requires unresolved connection %q", task.Name, conn),
				}
			}
		}
	}
	return nil
}

// runTask executes one task with its acquired connections, releasing them
// on every exit path. The returned error is already recorded on result.
func (r *Runner) runTask(ctx context.Context, record *models.RunRecord, task *Task, result *models.TaskResult) error {
	handles := make(map[string]*broker.Handle, len(task.Connections))
	release := func() {
		for _, h := range handles {
			h.Release()
		}
	}

	for _, conn := range task.Connections {
		h, err := r.broker.Acquire(conn)
		if err != nil {
			release()
			// The task never enters Running: required connection not Connected
			result.Error = err.Error()
			r.transition(record, result, models.TaskFailed)
			return err
		}
		handles[conn] = h
	}
	defer release()

	now := time.Now().UTC()
	result.StartedAt = &now
	r.transition(record, result, models.TaskRunning)

	err := r.invoke(ctx, task, handles)

	done := time.Now().UTC()
	result.CompletedAt = &done

	if err != nil {
		result.Error = err.Error()
		r.transition(record, result, models.TaskFailed)
		return err
	}
	r.transition(record, result, models.TaskSucceeded)
	return nil
}

// invoke calls the unit of work, converting a panic into a task failure so
// the run record is still finalized
func (r *Runner) invoke(ctx context.Context, task *Task, handles map[string]*broker.Handle) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return task.Run(ctx, handles)
}

func (r *Runner) transition(record *models.RunRecord, result *models.TaskResult, to models.TaskState) {
	from := result.State
	if err := models.ValidateTaskTransition(from, to); err != nil {
		// A broken transition is a runner bug; record it loudly but keep going
		r.log.Error("invalid task transition", map[string]interface{}{
			"task":  result.Name,
			"error": err.Error(),
		})
		return
	}
	result.State = to
	for _, o := range r.observers {
		o.TaskTransition(record, result, from, to)
	}
}

func (r *Runner) persist(record *models.RunRecord) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveRun(record); err != nil {
		r.log.Error("failed to persist run record", map[string]interface{}{
			"run":   record.ID,
			"error": err.Error(),
		})
	}
}

// computeOutcome derives the overall outcome from per-task results.
// Success requires every task to succeed. A halted run is a failure. A run
// that continued past idempotent failures is a partial failure only when a
// task after the first failure still succeeded.
func computeOutcome(tasks []models.TaskResult, halted bool) models.RunOutcome {
	allSucceeded := true
	firstFailed := -1
	for i, t := range tasks {
		if t.State != models.TaskSucceeded {
			allSucceeded = false
		}
		if t.State == models.TaskFailed && firstFailed == -1 {
			firstFailed = i
		}
	}

	if allSucceeded {
		return models.RunSuccess
	}
	if halted {
		return models.RunFailure
	}
	if firstFailed >= 0 {
		for _, t := range tasks[firstFailed+1:] {
			if t.State == models.TaskSucceeded {
				return models.RunPartialFailure
			}
		}
	}
	return models.RunFailure
}
