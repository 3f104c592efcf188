package store

import (
	"sort"
	"sync"

	"dsdeploy/pkg/models"
)

// MemoryStore is an in-memory run store for tests and dry runs
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*models.RunRecord
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*models.RunRecord)}
}

// copyRecord detaches a record from the store, Tasks slice included, so
// callers can mutate what they get back without corrupting stored state
func copyRecord(run *models.RunRecord) *models.RunRecord {
	copied := *run
	copied.Tasks = append([]models.TaskResult(nil), run.Tasks...)
	return &copied
}

// SaveRun persists a finalized run record
func (s *MemoryStore) SaveRun(run *models.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = copyRecord(run)
	return nil
}

// GetRun retrieves a run record by ID
func (s *MemoryStore) GetRun(id string) (*models.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return copyRecord(run), nil
}

// ListRuns returns the most recent runs, newest first
func (s *MemoryStore) ListRuns(limit int) ([]*models.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	runs := make([]*models.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, copyRecord(run))
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error { return nil }

// HealthCheck is a no-op for the memory store
func (s *MemoryStore) HealthCheck() error { return nil }
