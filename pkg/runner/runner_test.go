package runner

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"
	"time"

	"dsdeploy/pkg/broker"
	"dsdeploy/pkg/logging"
	"dsdeploy/pkg/models"
	"dsdeploy/pkg/store"
)

func quietLogger() *logging.Logger {
	log := logging.NewLogger(logging.ERROR, false)
	log.SetOutput(io.Discard)
	return log
}

// testBroker returns a broker with one resolved in-memory connection
func testBroker(t *testing.T, names ...string) *broker.Broker {
	t.Helper()
	if len(names) == 0 {
		names = []string{"warehouse"}
	}

	var descs []models.ConnectionDescriptor
	for _, name := range names {
		descs = append(descs, models.ConnectionDescriptor{
			Name:     name,
			Driver:   models.DriverSQLite,
			Database: ":memory:",
			Retry: models.RetryPolicy{
				MaxAttempts:    1,
				InitialBackoff: time.Millisecond,
				MaxBackoff:     time.Millisecond,
				Multiplier:     1.0,
			},
		})
	}

	b, err := broker.New(descs, broker.WithLogger(quietLogger()),
		broker.WithOpener(models.DriverSQLite, func(ctx context.Context, desc *models.ConnectionDescriptor, password string) (*sql.DB, error) {
			db, err := sql.Open("sqlite3", ":memory:")
			if err != nil {
				return nil, err
			}
			// every pooled connection to :memory: is a distinct database
			db.SetMaxOpenConns(1)
			return db, nil
		}))
	if err != nil {
		t.Fatalf("broker.New: %v", err)
	}
	if err := b.ResolveAll(context.Background()); err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func okTask(name string, ran *[]string) Task {
	return Task{
		Name:        name,
		Connections: []string{"warehouse"},
		Run: func(ctx context.Context, conns map[string]*broker.Handle) error {
			*ran = append(*ran, name)
			return nil
		},
	}
}

func failTask(name string, idempotent bool, ran *[]string) Task {
	return Task{
		Name:        name,
		Connections: []string{"warehouse"},
		Idempotent:  idempotent,
		Run: func(ctx context.Context, conns map[string]*broker.Handle) error {
			*ran = append(*ran, name)
			return errors.New("unit of work failed")
		},
	}
}

func stateOf(t *testing.T, record *models.RunRecord, name string) models.TaskState {
	t.Helper()
	for _, task := range record.Tasks {
		if task.Name == name {
			return task.State
		}
	}
	t.Fatalf("task %q not in record", name)
	return ""
}

func TestRunAllSucceed(t *testing.T) {
	b := testBroker(t)
	r := New(b, WithLogger(quietLogger()))

	var ran []string
	record, err := r.Run(context.Background(), []Task{
		okTask("a", &ran), okTask("b", &ran), okTask("c", &ran),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if record.Outcome != models.RunSuccess {
		t.Errorf("outcome = %s, want success", record.Outcome)
	}
	if len(ran) != 3 || ran[0] != "a" || ran[1] != "b" || ran[2] != "c" {
		t.Errorf("tasks ran out of order: %v", ran)
	}
	if record.CompletedAt.Before(record.StartedAt) {
		t.Error("record completed before it started")
	}
}

func TestRunNonIdempotentFailureHalts(t *testing.T) {
	// [A(ok), B(non-idempotent, fails), C(ok)] → B Failed, C Skipped, Failure
	b := testBroker(t)
	r := New(b, WithLogger(quietLogger()))

	var ran []string
	record, err := r.Run(context.Background(), []Task{
		okTask("a", &ran),
		failTask("b", false, &ran),
		okTask("c", &ran),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := stateOf(t, record, "a"); got != models.TaskSucceeded {
		t.Errorf("a = %s, want succeeded", got)
	}
	if got := stateOf(t, record, "b"); got != models.TaskFailed {
		t.Errorf("b = %s, want failed", got)
	}
	if got := stateOf(t, record, "c"); got != models.TaskSkipped {
		t.Errorf("c = %s, want skipped", got)
	}
	if record.Outcome != models.RunFailure {
		t.Errorf("outcome = %s, want failure", record.Outcome)
	}
	for _, name := range ran {
		if name == "c" {
			t.Error("task c ran after a non-idempotent failure")
		}
	}
}

func TestRunIdempotentFailureContinues(t *testing.T) {
	b := testBroker(t)
	r := New(b, WithLogger(quietLogger()))

	var ran []string
	record, err := r.Run(context.Background(), []Task{
		okTask("a", &ran),
		failTask("b", true, &ran),
		okTask("c", &ran),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := stateOf(t, record, "c"); got != models.TaskSucceeded {
		t.Errorf("c = %s, want succeeded (run should continue past idempotent failure)", got)
	}
	if record.Outcome != models.RunPartialFailure {
		t.Errorf("outcome = %s, want partial_failure", record.Outcome)
	}
}

func TestRunIdempotentFailureWithNoLaterSuccess(t *testing.T) {
	b := testBroker(t)
	r := New(b, WithLogger(quietLogger()))

	var ran []string
	record, err := r.Run(context.Background(), []Task{
		okTask("a", &ran),
		failTask("b", true, &ran),
		failTask("c", true, &ran),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if record.Outcome != models.RunFailure {
		t.Errorf("outcome = %s, want failure (no later task succeeded)", record.Outcome)
	}
}

func TestRunUnknownConnectionFailsFast(t *testing.T) {
	b := testBroker(t)
	r := New(b, WithLogger(quietLogger()))

	var ran []string
	record, err := r.Run(context.Background(), []Task{
		okTask("a", &ran),
		{
			Name:        "b",
			Connections: []string{"missing"},
			Run: func(ctx context.Context, conns map[string]*broker.Handle) error {
				ran = append(ran, "b")
				return nil
			},
		},
	})

	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if len(ran) != 0 {
		t.Errorf("validation must happen before any task runs, but ran %v", ran)
	}
	if record.Outcome != models.RunFailure {
		t.Errorf("outcome = %s, want failure", record.Outcome)
	}
	if record.Error == "" {
		t.Error("record should carry the configuration error")
	}
}

func TestRunDuplicateTaskNames(t *testing.T) {
	b := testBroker(t)
	r := New(b, WithLogger(quietLogger()))

	var ran []string
	_, err := r.Run(context.Background(), []Task{
		okTask("a", &ran), okTask("a", &ran),
	})
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("expected ConfigurationError for duplicate names, got %v", err)
	}
}

func TestRunEmptySequence(t *testing.T) {
	b := testBroker(t)
	r := New(b, WithLogger(quietLogger()))
	_, err := r.Run(context.Background(), nil)
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("expected ConfigurationError for empty sequence, got %v", err)
	}
}

func TestRunUnconnectedConnectionFailsTask(t *testing.T) {
	// Descriptor exists but was never resolved: the task fails without
	// entering Running, and downstream tasks are skipped
	descs := []models.ConnectionDescriptor{{
		Name:     "warehouse",
		Driver:   models.DriverSQLite,
		Database: ":memory:",
		Retry:    models.DefaultRetryPolicy(),
	}}
	b, err := broker.New(descs, broker.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("broker.New: %v", err)
	}
	r := New(b, WithLogger(quietLogger()))

	var ran []string
	record, err := r.Run(context.Background(), []Task{
		okTask("a", &ran),
		okTask("b", &ran),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ran) != 0 {
		t.Errorf("no unit of work should run, got %v", ran)
	}
	if got := stateOf(t, record, "a"); got != models.TaskFailed {
		t.Errorf("a = %s, want failed", got)
	}
	if got := stateOf(t, record, "b"); got != models.TaskSkipped {
		t.Errorf("b = %s, want skipped", got)
	}
	if record.Outcome != models.RunFailure {
		t.Errorf("outcome = %s, want failure", record.Outcome)
	}
}

func TestRunCancellationBetweenTasks(t *testing.T) {
	b := testBroker(t)
	r := New(b, WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	var ran []string
	record, err := r.Run(ctx, []Task{
		{
			Name:        "a",
			Connections: []string{"warehouse"},
			Run: func(ctx context.Context, conns map[string]*broker.Handle) error {
				ran = append(ran, "a")
				cancel() // signal arrives while a is in flight
				return nil
			},
		},
		okTask("b", &ran),
		okTask("c", &ran),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The in-flight task completed; the rest were skipped
	if got := stateOf(t, record, "a"); got != models.TaskSucceeded {
		t.Errorf("a = %s, want succeeded", got)
	}
	if got := stateOf(t, record, "b"); got != models.TaskSkipped {
		t.Errorf("b = %s, want skipped", got)
	}
	if got := stateOf(t, record, "c"); got != models.TaskSkipped {
		t.Errorf("c = %s, want skipped", got)
	}
	if record.Outcome != models.RunFailure {
		t.Errorf("outcome = %s, want failure", record.Outcome)
	}
}

func TestRunPanicIsRecorded(t *testing.T) {
	b := testBroker(t)
	r := New(b, WithLogger(quietLogger()))

	record, err := r.Run(context.Background(), []Task{{
		Name:        "explodes",
		Connections: []string{"warehouse"},
		Run: func(ctx context.Context, conns map[string]*broker.Handle) error {
			panic("boom")
		},
	}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := stateOf(t, record, "explodes"); got != models.TaskFailed {
		t.Errorf("state = %s, want failed", got)
	}
	if record.Outcome != models.RunFailure {
		t.Errorf("outcome = %s, want failure", record.Outcome)
	}
}

func TestRunPersistsRecord(t *testing.T) {
	b := testBroker(t)
	mem := store.NewMemoryStore()
	r := New(b, WithLogger(quietLogger()), WithStore(mem), WithVersion("9.9.9"))

	var ran []string
	record, err := r.Run(context.Background(), []Task{okTask("a", &ran)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	saved, err := mem.GetRun(record.ID)
	if err != nil {
		t.Fatalf("record was not persisted: %v", err)
	}
	if saved.Version != "9.9.9" {
		t.Errorf("version = %q", saved.Version)
	}
	if saved.Outcome != models.RunSuccess {
		t.Errorf("outcome = %s", saved.Outcome)
	}
}

func TestRunRecordMetadataDefaults(t *testing.T) {
	b := testBroker(t)
	r := New(b, WithLogger(quietLogger()))

	var ran []string
	record, err := r.Run(context.Background(), []Task{okTask("a", &ran)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if record.AsOf.IsZero() {
		t.Error("as_of should default to now")
	}
	if record.TimeZone != DefaultTimeZone {
		t.Errorf("time_zone = %q, want %q", record.TimeZone, DefaultTimeZone)
	}
	if record.ID == "" {
		t.Error("record has no ID")
	}
}

func TestRunObserverSeesTransitions(t *testing.T) {
	b := testBroker(t)

	obs := &recordingObserver{}
	r := New(b, WithLogger(quietLogger()), WithObserver(obs))

	var ran []string
	_, err := r.Run(context.Background(), []Task{
		okTask("a", &ran),
		failTask("b", false, &ran),
		okTask("c", &ran),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !obs.started || !obs.finished {
		t.Error("observer missed run lifecycle events")
	}
	want := []string{
		"a:pending>running", "a:running>succeeded",
		"b:pending>running", "b:running>failed",
		"c:pending>skipped",
	}
	if len(obs.transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", obs.transitions, want)
	}
	for i, tr := range want {
		if obs.transitions[i] != tr {
			t.Errorf("transition[%d] = %s, want %s", i, obs.transitions[i], tr)
		}
	}
}

type recordingObserver struct {
	started     bool
	finished    bool
	transitions []string
}

func (o *recordingObserver) RunStarted(run *models.RunRecord)  { o.started = true }
func (o *recordingObserver) RunFinished(run *models.RunRecord) { o.finished = true }
func (o *recordingObserver) TaskTransition(run *models.RunRecord, task *models.TaskResult, from, to models.TaskState) {
	o.transitions = append(o.transitions, task.Name+":"+string(from)+">"+string(to))
}

func TestComputeOutcome(t *testing.T) {
	mk := func(states ...models.TaskState) []models.TaskResult {
		tasks := make([]models.TaskResult, len(states))
		for i, s := range states {
			tasks[i] = models.TaskResult{Position: i, State: s}
		}
		return tasks
	}

	tests := []struct {
		name   string
		tasks  []models.TaskResult
		halted bool
		want   models.RunOutcome
	}{
		{"all succeeded", mk(models.TaskSucceeded, models.TaskSucceeded), false, models.RunSuccess},
		{"halted", mk(models.TaskSucceeded, models.TaskFailed, models.TaskSkipped), true, models.RunFailure},
		{"idempotent failure then success", mk(models.TaskFailed, models.TaskSucceeded), false, models.RunPartialFailure},
		{"idempotent failure at end", mk(models.TaskSucceeded, models.TaskFailed), false, models.RunFailure},
		{"only failures", mk(models.TaskFailed, models.TaskFailed), false, models.RunFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := computeOutcome(tt.tasks, tt.halted); got != tt.want {
				t.Errorf("computeOutcome = %s, want %s", got, tt.want)
			}
		})
	}
}
