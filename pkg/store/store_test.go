package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"dsdeploy/pkg/models"
)

func sampleRun(id string, started time.Time) *models.RunRecord {
	completed := started.Add(90 * time.Second)
	taskStart := started.Add(time.Second)
	taskEnd := started.Add(30 * time.Second)
	return &models.RunRecord{
		ID:          id,
		Version:     "1.2.3",
		AsOf:        started.UTC(),
		TimeZone:    "America/New_York",
		StartedAt:   started.UTC(),
		CompletedAt: completed.UTC(),
		Outcome:     models.RunSuccess,
		Tasks: []models.TaskResult{
			{
				Name:        "check-tables",
				Position:    0,
				Connections: []string{"warehouse"},
				Idempotent:  false,
				State:       models.TaskSucceeded,
				StartedAt:   &taskStart,
				CompletedAt: &taskEnd,
			},
			{
				Name:       "publish",
				Position:   1,
				Idempotent: true,
				State:      models.TaskSucceeded,
			},
		},
	}
}

// exercise one Store implementation against the shared contract
func testStoreContract(t *testing.T, s Store) {
	t.Helper()

	if err := s.HealthCheck(); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	first := sampleRun("run-1", base)
	second := sampleRun("run-2", base.Add(time.Hour))
	second.Outcome = models.RunFailure
	second.Error = "task publish failed"

	if err := s.SaveRun(first); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := s.SaveRun(second); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := s.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Outcome != models.RunSuccess {
		t.Errorf("outcome = %s, want success", got.Outcome)
	}
	if len(got.Tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(got.Tasks))
	}
	if got.Tasks[0].Name != "check-tables" || got.Tasks[0].State != models.TaskSucceeded {
		t.Errorf("unexpected first task: %+v", got.Tasks[0])
	}
	if got.Tasks[0].StartedAt == nil {
		t.Error("task started_at lost in round trip")
	}

	if _, err := s.GetRun("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}

	runs, err := s.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns returned %d runs, want 2", len(runs))
	}
	// Newest first
	if runs[0].ID != "run-2" {
		t.Errorf("first listed run = %s, want run-2", runs[0].ID)
	}

	limited, err := s.ListRuns(1)
	if err != nil {
		t.Fatalf("ListRuns(1): %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("ListRuns(1) returned %d runs", len(limited))
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	testStoreContract(t, s)
}

func TestMemoryStoreReturnsDetachedRecords(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	if err := s.SaveRun(sampleRun("run-1", base)); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	// Mutating a returned record, tasks included, must not touch the store
	got, err := s.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	got.Outcome = models.RunFailure
	got.Tasks[0].State = models.TaskFailed
	got.Tasks[0].Error = "mangled by caller"

	listed, err := s.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	listed[0].Tasks[1].State = models.TaskSkipped

	fresh, err := s.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if fresh.Outcome != models.RunSuccess {
		t.Errorf("stored outcome changed to %s", fresh.Outcome)
	}
	if fresh.Tasks[0].State != models.TaskSucceeded || fresh.Tasks[0].Error != "" {
		t.Errorf("stored task corrupted: %+v", fresh.Tasks[0])
	}
	if fresh.Tasks[1].State != models.TaskSucceeded {
		t.Errorf("stored task corrupted via ListRuns: %+v", fresh.Tasks[1])
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	testStoreContract(t, s)
}

func TestNewStore(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"memory", Config{Type: "memory"}, false},
		{"sqlite", Config{Type: "sqlite", Path: ""}, false},
		{"unknown", Config{Type: "mongodb"}, true},
		{"postgres without dsn", Config{Type: "postgres"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.name == "sqlite" {
				tt.config.Path = filepath.Join(t.TempDir(), "runs.db")
			}
			s, err := NewStore(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewStore(%+v) error = %v, wantErr %v", tt.config, err, tt.wantErr)
			}
			if s != nil {
				s.Close()
			}
		})
	}
}
