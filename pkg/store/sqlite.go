package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"dsdeploy/pkg/models"
)

// SQLiteStore is a SQLite-based implementation of the run store
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore creates a new SQLite store at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL plus a busy timeout so the runs CLI can read while a run writes
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to avoid SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		version TEXT,
		as_of DATETIME NOT NULL,
		time_zone TEXT,
		started_at DATETIME NOT NULL,
		completed_at DATETIME NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT,
		tasks TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_outcome ON runs(outcome);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveRun persists a finalized run record
func (s *SQLiteStore) SaveRun(run *models.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := json.Marshal(run.Tasks)
	if err != nil {
		return fmt.Errorf("failed to marshal tasks: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO runs
		(id, version, as_of, time_zone, started_at, completed_at, outcome, error, tasks)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Version, run.AsOf, run.TimeZone, run.StartedAt, run.CompletedAt,
		string(run.Outcome), run.Error, string(tasks))
	return err
}

// GetRun retrieves a run record by ID
func (s *SQLiteStore) GetRun(id string) (*models.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT id, version, as_of, time_zone, started_at, completed_at, outcome, error, tasks
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row)
}

// ListRuns returns the most recent runs, newest first
func (s *SQLiteStore) ListRuns(limit int) ([]*models.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, version, as_of, time_zone, started_at, completed_at, outcome, error, tasks
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database is reachable
func (s *SQLiteStore) HealthCheck() error {
	return s.db.Ping()
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*models.RunRecord, error) {
	var run models.RunRecord
	var outcome, tasksJSON string

	err := row.Scan(&run.ID, &run.Version, &run.AsOf, &run.TimeZone,
		&run.StartedAt, &run.CompletedAt, &outcome, &run.Error, &tasksJSON)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	run.Outcome = models.RunOutcome(outcome)
	if err := json.Unmarshal([]byte(tasksJSON), &run.Tasks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tasks: %w", err)
	}
	return &run, nil
}
