package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	migration "github.com/girishfury/migration"
)

// MemoryStore is an in-memory Store for local development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]migration.Record
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]migration.Record),
		now:     time.Now,
	}
}

func (s *MemoryStore) Save(_ context.Context, rec migration.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.UpdatedAt = s.now().UTC()
	if rec.Status == "" {
		rec.Status = migration.StatusPending
	}
	rec.ExecutionDetails = copyDetails(rec.ExecutionDetails)
	s.records[rec.MigrationID] = rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, migrationID string) (migration.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[migrationID]
	if !ok {
		return migration.Record{}, fmt.Errorf("state: record %q: %w", migrationID, ErrNotFound)
	}
	rec.ExecutionDetails = copyDetails(rec.ExecutionDetails)
	return rec, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, migrationID string, status migration.Status, detailsDelta map[string]any) (migration.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[migrationID]
	if !ok {
		return migration.Record{}, fmt.Errorf("state: record %q: %w", migrationID, ErrNotFound)
	}
	if rec.Status != status && !rec.Status.Before(status) {
		rec.ExecutionDetails = copyDetails(rec.ExecutionDetails)
		return rec, nil
	}
	rec.Status = status
	rec.MergeDetails(detailsDelta)
	rec.UpdatedAt = s.now().UTC()
	s.records[migrationID] = rec

	rec.ExecutionDetails = copyDetails(rec.ExecutionDetails)
	return rec, nil
}

func (s *MemoryStore) QueryByWave(_ context.Context, wave string) ([]migration.Record, error) {
	return s.filter(func(r migration.Record) bool { return r.Wave == wave }), nil
}

func (s *MemoryStore) QueryByStatus(_ context.Context, status migration.Status) ([]migration.Record, error) {
	return s.filter(func(r migration.Record) bool { return r.Status == status }), nil
}

func (s *MemoryStore) QueryByAppAndStatus(_ context.Context, appName string, status migration.Status) ([]migration.Record, error) {
	return s.filter(func(r migration.Record) bool { return r.AppName == appName && r.Status == status }), nil
}

func (s *MemoryStore) filter(keep func(migration.Record) bool) []migration.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []migration.Record
	for _, rec := range s.records {
		if keep(rec) {
			rec.ExecutionDetails = copyDetails(rec.ExecutionDetails)
			out = append(out, rec)
		}
	}
	return out
}

func copyDetails(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		out[k] = v
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
