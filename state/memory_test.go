package state

import (
	"context"
	"errors"
	"testing"

	migration "github.com/girishfury/migration"
)

func seedRecord(t *testing.T, s Store, status migration.Status) migration.Record {
	t.Helper()
	rec := migration.Record{
		MigrationID: "mig-001",
		Status:      status,
		Wave:        "wave-1",
		AppName:     "billing",
	}
	if err := s.Save(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error seeding record: %v", err)
	}
	return rec
}

// --- TestMemoryStoreSaveAndGet ---
func TestMemoryStoreSaveAndGet(t *testing.T) {
	s := NewMemoryStore()
	seedRecord(t, s, migration.StatusValidated)

	rec, err := s.Get(context.Background(), "mig-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != migration.StatusValidated {
		t.Errorf("Status = %s, want VALIDATED", rec.Status)
	}
	if rec.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be stamped")
	}
}

// --- TestMemoryStoreSaveDefaultsPending ---
func TestMemoryStoreSaveDefaultsPending(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Save(context.Background(), migration.Record{MigrationID: "mig-002"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, _ := s.Get(context.Background(), "mig-002")
	if rec.Status != migration.StatusPending {
		t.Errorf("Status = %s, want PENDING", rec.Status)
	}
}

// --- TestMemoryStoreGetNotFound ---
func TestMemoryStoreGetNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "mig-missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- TestUpdateStatusAdvances ---
func TestUpdateStatusAdvances(t *testing.T) {
	s := NewMemoryStore()
	seedRecord(t, s, migration.StatusValidated)

	rec, err := s.UpdateStatus(context.Background(), "mig-001", migration.StatusSourcePrepared,
		map[string]any{"sourcePreparation": map[string]any{"mgnIntegrated": true}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != migration.StatusSourcePrepared {
		t.Errorf("Status = %s, want SOURCE_PREPARED", rec.Status)
	}
	if _, ok := rec.ExecutionDetails["sourcePreparation"]; !ok {
		t.Error("expected details delta to be merged")
	}
}

// --- TestUpdateStatusIgnoresRegression ---
// A redelivered earlier-phase event must not move the record backwards.
func TestUpdateStatusIgnoresRegression(t *testing.T) {
	s := NewMemoryStore()
	seedRecord(t, s, migration.StatusVerified)

	rec, err := s.UpdateStatus(context.Background(), "mig-001", migration.StatusSourcePrepared,
		map[string]any{"sourcePreparation": "stale"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != migration.StatusVerified {
		t.Errorf("Status = %s, want VERIFIED after ignored regression", rec.Status)
	}
	if _, ok := rec.ExecutionDetails["sourcePreparation"]; ok {
		t.Error("stale delta must not be merged on an ignored regression")
	}
}

// --- TestUpdateStatusIdempotent ---
// Writing the same status twice merges details and keeps the status.
func TestUpdateStatusIdempotent(t *testing.T) {
	s := NewMemoryStore()
	seedRecord(t, s, migration.StatusCompleted)

	rec, err := s.UpdateStatus(context.Background(), "mig-001", migration.StatusCompleted,
		map[string]any{"cmdbUpdate": map[string]any{"status": "COMPLETED"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != migration.StatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", rec.Status)
	}
	if _, ok := rec.ExecutionDetails["cmdbUpdate"]; !ok {
		t.Error("expected same-status update to merge details")
	}
}

// --- TestUpdateStatusAccumulatesDetails ---
// Details written by earlier phases survive later updates.
func TestUpdateStatusAccumulatesDetails(t *testing.T) {
	s := NewMemoryStore()
	seedRecord(t, s, migration.StatusValidated)
	ctx := context.Background()

	if _, err := s.UpdateStatus(ctx, "mig-001", migration.StatusSourcePrepared,
		map[string]any{"sourcePreparation": "done"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, err := s.UpdateStatus(ctx, "mig-001", migration.StatusMigrationInProgress,
		map[string]any{"mgn": map[string]any{"jobId": "job-1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := rec.ExecutionDetails["sourcePreparation"]; !ok {
		t.Error("earlier phase details were dropped")
	}
	if _, ok := rec.ExecutionDetails["mgn"]; !ok {
		t.Error("new phase details were not merged")
	}
}

// --- TestUpdateStatusNotFound ---
func TestUpdateStatusNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.UpdateStatus(context.Background(), "mig-missing", migration.StatusValidated, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- TestQueryProjections ---
func TestQueryProjections(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	records := []migration.Record{
		{MigrationID: "mig-a", Wave: "wave-1", AppName: "billing", Status: migration.StatusCompleted},
		{MigrationID: "mig-b", Wave: "wave-1", AppName: "crm", Status: migration.StatusRolledBack},
		{MigrationID: "mig-c", Wave: "wave-2", AppName: "billing", Status: migration.StatusCompleted},
	}
	for _, rec := range records {
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	byWave, _ := s.QueryByWave(ctx, "wave-1")
	if len(byWave) != 2 {
		t.Errorf("QueryByWave returned %d records, want 2", len(byWave))
	}
	byStatus, _ := s.QueryByStatus(ctx, migration.StatusCompleted)
	if len(byStatus) != 2 {
		t.Errorf("QueryByStatus returned %d records, want 2", len(byStatus))
	}
	byApp, _ := s.QueryByAppAndStatus(ctx, "billing", migration.StatusCompleted)
	if len(byApp) != 2 {
		t.Errorf("QueryByAppAndStatus returned %d records, want 2", len(byApp))
	}
}

// --- TestGetReturnsIsolatedCopy ---
// Mutating a returned record's details must not leak into the store.
func TestGetReturnsIsolatedCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Save(ctx, migration.Record{
		MigrationID:      "mig-iso",
		ExecutionDetails: map[string]any{"mgn": "original"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, _ := s.Get(ctx, "mig-iso")
	rec.ExecutionDetails["mgn"] = "mutated"

	fresh, _ := s.Get(ctx, "mig-iso")
	if fresh.ExecutionDetails["mgn"] != "original" {
		t.Error("caller mutation leaked into the store")
	}
}
