package migration

import (
	"errors"
	"fmt"
	"testing"
)

// --- TestErrorWrapping ---
func TestErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	merr := WrapError(CodePrerequisite, cause, map[string]any{"service": "mgn"})

	if !errors.Is(merr, cause) {
		t.Error("expected wrapped cause in the unwrap chain")
	}
	if merr.Error() != "PREREQUISITE_ERROR: connection refused" {
		t.Errorf("unexpected error string: %q", merr.Error())
	}
}

// --- TestAsError ---
func TestAsError(t *testing.T) {
	merr := NewError(CodeValidation, "missing required field: wave", nil)
	wrapped := fmt.Errorf("phase: %w", merr)

	got, ok := AsError(wrapped)
	if !ok {
		t.Fatal("expected a typed error in the chain")
	}
	if got.Code != CodeValidation {
		t.Errorf("Code = %q, want %q", got.Code, CodeValidation)
	}

	if _, ok := AsError(errors.New("plain")); ok {
		t.Error("did not expect a typed error from a plain error")
	}
}
