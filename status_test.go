package migration

import "testing"

// --- TestStatusForwardOrder ---
// The forward path orders strictly, and rollback outranks every
// forward status.
func TestStatusForwardOrder(t *testing.T) {
	forward := []Status{
		StatusPending,
		StatusValidated,
		StatusSourcePrepared,
		StatusMigrationInProgress,
		StatusVerified,
		StatusCompleted,
	}
	for i := 0; i < len(forward)-1; i++ {
		if !forward[i].Before(forward[i+1]) {
			t.Errorf("expected %s to order before %s", forward[i], forward[i+1])
		}
		if forward[i+1].Before(forward[i]) {
			t.Errorf("did not expect %s to order before %s", forward[i+1], forward[i])
		}
	}
	for _, s := range forward {
		if !s.Before(StatusRollbackInProgress) {
			t.Errorf("expected %s to order before %s", s, StatusRollbackInProgress)
		}
	}
}

// --- TestStatusVerificationOutcomesRankEqual ---
// VERIFIED and VERIFICATION_FAILED are alternate outcomes of the same
// phase; neither orders before the other.
func TestStatusVerificationOutcomesRankEqual(t *testing.T) {
	if StatusVerified.Before(StatusVerificationFailed) {
		t.Error("VERIFIED must not order before VERIFICATION_FAILED")
	}
	if StatusVerificationFailed.Before(StatusVerified) {
		t.Error("VERIFICATION_FAILED must not order before VERIFIED")
	}
}

// --- TestStatusTerminal ---
func TestStatusTerminal(t *testing.T) {
	cases := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusValidated, false},
		{StatusSourcePrepared, false},
		{StatusMigrationInProgress, false},
		{StatusVerified, false},
		{StatusVerificationFailed, false},
		{StatusCompleted, true},
		{StatusRollbackInProgress, false},
		{StatusRolledBack, true},
		{StatusRollbackFailed, true},
	}
	for _, tc := range cases {
		if got := tc.status.Terminal(); got != tc.terminal {
			t.Errorf("Terminal(%s) = %v, want %v", tc.status, got, tc.terminal)
		}
	}
}

// --- TestStatusUnknownRanksLowest ---
// A corrupted status value must not block advancing the record.
func TestStatusUnknownRanksLowest(t *testing.T) {
	corrupt := Status("GARBAGE")
	if !corrupt.Before(StatusValidated) {
		t.Error("expected unknown status to order before VALIDATED")
	}
	if corrupt.Before(StatusPending) {
		t.Error("unknown status and PENDING rank equal")
	}
}
