package store

import (
	"errors"

	"dsdeploy/pkg/models"
)

// Store persists finalized run records.
// SQLite, PostgreSQL and the in-memory store implement this interface.
type Store interface {
	SaveRun(run *models.RunRecord) error
	GetRun(id string) (*models.RunRecord, error)
	ListRuns(limit int) ([]*models.RunRecord, error)

	// Lifecycle
	Close() error
	HealthCheck() error
}

// ErrRunNotFound is returned when no run exists with the requested ID
var ErrRunNotFound = errors.New("run not found")

// ErrUnsupportedDatabase is returned for unrecognized store types
var ErrUnsupportedDatabase = errors.New("unsupported database type")

// Config holds store configuration
type Config struct {
	Type string // "sqlite", "postgres" or "memory"
	DSN  string // Connection string (postgres)
	Path string // Database file path (sqlite)
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "postgres", "postgresql":
		return NewPostgresStore(config.DSN)
	case "sqlite", "":
		path := config.Path
		if path == "" {
			path = "dsdeploy.db"
		}
		return NewSQLiteStore(path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, ErrUnsupportedDatabase
	}
}
