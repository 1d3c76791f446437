package phases

import (
	"context"
	"errors"
	"testing"

	migration "github.com/girishfury/migration"
	"github.com/girishfury/migration/state"
)

func requestEvent() migration.Event {
	return migration.Event{
		DetailType: migration.DetailMigrationRequested,
		Detail: map[string]any{
			"migrationId":    "mig-001",
			"appName":        "billing",
			"source":         "vsphere",
			"target":         "aws",
			"environment":    "production",
			"wave":           "wave-1",
			"correlation_id": "mig-abcd1234",
		},
	}
}

// --- TestValidateInputSuccess ---
// A valid request creates the record in VALIDATED state and publishes
// the phase-status event.
func TestValidateInputSuccess(t *testing.T) {
	store := state.NewMemoryStore()
	pub := &fakePublisher{}
	v := NewValidateInput(store, pub, &fakeEC2{}, &fakeMGN{}, nil)

	resp := v.Execute(context.Background(), requestEvent())

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if resp.Status != migration.StatusValidated {
		t.Errorf("Status = %s, want VALIDATED", resp.Status)
	}
	if resp.CorrelationID != "mig-abcd1234" {
		t.Errorf("CorrelationID = %q, want the inbound ID", resp.CorrelationID)
	}

	rec, err := store.Get(context.Background(), "mig-001")
	if err != nil {
		t.Fatalf("record not persisted: %v", err)
	}
	if rec.Status != migration.StatusValidated {
		t.Errorf("record status = %s, want VALIDATED", rec.Status)
	}
	if rec.Wave != "wave-1" || rec.AppName != "billing" {
		t.Errorf("record fields not carried over: wave=%q app=%q", rec.Wave, rec.AppName)
	}
	if rec.CorrelationID != "mig-abcd1234" {
		t.Errorf("record correlation = %q", rec.CorrelationID)
	}

	if len(pub.statusEvents) != 1 {
		t.Fatalf("expected 1 status event, got %d", len(pub.statusEvents))
	}
	if pub.statusEvents[0]["currentStep"] != StepValidateInput {
		t.Errorf("currentStep = %v", pub.statusEvents[0]["currentStep"])
	}
}

// --- TestValidateInputMissingField ---
func TestValidateInputMissingField(t *testing.T) {
	store := state.NewMemoryStore()
	pub := &fakePublisher{}
	v := NewValidateInput(store, pub, &fakeEC2{}, &fakeMGN{}, nil)

	ev := requestEvent()
	delete(ev.Detail, "wave")
	resp := v.Execute(context.Background(), ev)

	if resp.Error == nil {
		t.Fatal("expected a validation error")
	}
	if resp.Error.Code != migration.CodeValidation {
		t.Errorf("error code = %q, want VALIDATION_ERROR", resp.Error.Code)
	}
	if resp.Status != migration.StatusRollbackInProgress {
		t.Errorf("Status = %s, want ROLLBACK_IN_PROGRESS", resp.Status)
	}
	if len(pub.failureEvents) != 1 {
		t.Fatalf("expected a failure event, got %d", len(pub.failureEvents))
	}
	if pub.failureEvents[0]["errorCode"] != migration.CodeValidation {
		t.Errorf("failure errorCode = %v", pub.failureEvents[0]["errorCode"])
	}
	if _, err := store.Get(context.Background(), "mig-001"); err == nil {
		t.Error("invalid request must not create a record")
	}
}

// --- TestValidateInputSubnetCheckFails ---
// A subnet named in the payload that the target account cannot see is a
// prerequisite failure.
func TestValidateInputSubnetCheckFails(t *testing.T) {
	pub := &fakePublisher{}
	ec2Fake := &fakeEC2{subnetsErr: errors.New("InvalidSubnetID.NotFound")}
	v := NewValidateInput(state.NewMemoryStore(), pub, ec2Fake, &fakeMGN{}, nil)

	ev := requestEvent()
	ev.Detail["subnetId"] = "subnet-0badcafe"
	resp := v.Execute(context.Background(), ev)

	if resp.Error == nil || resp.Error.Code != migration.CodePrerequisite {
		t.Fatalf("expected PREREQUISITE_ERROR, got %v", resp.Error)
	}
}

// --- TestValidateInputMGNUnreachable ---
func TestValidateInputMGNUnreachable(t *testing.T) {
	pub := &fakePublisher{}
	mgnFake := &fakeMGN{sourceServersErr: errors.New("UninitializedAccountException")}
	v := NewValidateInput(state.NewMemoryStore(), pub, &fakeEC2{}, mgnFake, nil)

	resp := v.Execute(context.Background(), requestEvent())

	if resp.Error == nil || resp.Error.Code != migration.CodePrerequisite {
		t.Fatalf("expected PREREQUISITE_ERROR, got %v", resp.Error)
	}
}

// --- TestValidateInputRedelivery ---
// A redelivered request for a migration already past validation is a
// no-op replay, not a second validation.
func TestValidateInputRedelivery(t *testing.T) {
	store := state.NewMemoryStore()
	pub := &fakePublisher{}
	if err := store.Save(context.Background(), migration.Record{
		MigrationID: "mig-001",
		Status:      migration.StatusMigrationInProgress,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := NewValidateInput(store, pub, &fakeEC2{}, &fakeMGN{}, nil)

	resp := v.Execute(context.Background(), requestEvent())

	if !resp.Replayed {
		t.Error("expected a replayed response")
	}
	if resp.Status != migration.StatusMigrationInProgress {
		t.Errorf("Status = %s, want the record's current status", resp.Status)
	}
	if len(pub.statusEvents)+len(pub.failureEvents) != 0 {
		t.Error("a replay must not publish events")
	}
}
