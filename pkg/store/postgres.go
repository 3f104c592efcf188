package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"dsdeploy/pkg/models"
)

// PostgresStore is a PostgreSQL-based implementation of the run store
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store from a lib/pq DSN
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres store requires a dsn")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		version TEXT,
		as_of TIMESTAMPTZ NOT NULL,
		time_zone TEXT,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT,
		tasks JSONB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_outcome ON runs(outcome);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveRun persists a finalized run record
func (s *PostgresStore) SaveRun(run *models.RunRecord) error {
	tasks, err := json.Marshal(run.Tasks)
	if err != nil {
		return fmt.Errorf("failed to marshal tasks: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, version, as_of, time_zone, started_at, completed_at, outcome, error, tasks)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			completed_at = EXCLUDED.completed_at,
			outcome = EXCLUDED.outcome,
			error = EXCLUDED.error,
			tasks = EXCLUDED.tasks
	`, run.ID, run.Version, run.AsOf, run.TimeZone, run.StartedAt, run.CompletedAt,
		string(run.Outcome), run.Error, string(tasks))
	return err
}

// GetRun retrieves a run record by ID
func (s *PostgresStore) GetRun(id string) (*models.RunRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, version, as_of, time_zone, started_at, completed_at, outcome, error, tasks
		FROM runs WHERE id = $1
	`, id)
	return scanRun(row)
}

// ListRuns returns the most recent runs, newest first
func (s *PostgresStore) ListRuns(limit int) ([]*models.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, version, as_of, time_zone, started_at, completed_at, outcome, error, tasks
		FROM runs ORDER BY started_at DESC LIMIT $1
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
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database is reachable
func (s *PostgresStore) HealthCheck() error {
	return s.db.Ping()
}
