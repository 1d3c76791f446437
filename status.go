// Package migration defines the shared vocabulary of the migration
// orchestrator: the status state machine, the persisted migration record,
// the event envelope exchanged between workflow steps, and the typed errors
// each phase reports.
package migration

// Status represents the current position of a migration in its lifecycle.
type Status string

const (
	StatusPending             Status = "PENDING"
	StatusValidated           Status = "VALIDATED"
	StatusSourcePrepared      Status = "SOURCE_PREPARED"
	StatusMigrationInProgress Status = "MIGRATION_IN_PROGRESS"
	StatusVerified            Status = "VERIFIED"
	StatusVerificationFailed  Status = "VERIFICATION_FAILED"
	StatusCompleted           Status = "COMPLETED"
	StatusRollbackInProgress  Status = "ROLLBACK_IN_PROGRESS"
	StatusRolledBack          Status = "ROLLED_BACK"
	StatusRollbackFailed      Status = "ROLLBACK_FAILED"
)

// statusRank orders statuses along the forward path. Rollback statuses rank
// above every forward status so a failure always wins over a replayed phase
// event, and terminal states rank highest of all.
var statusRank = map[Status]int{
	StatusPending:             0,
	StatusValidated:           1,
	StatusSourcePrepared:      2,
	StatusMigrationInProgress: 3,
	StatusVerified:            4,
	StatusVerificationFailed:  4,
	StatusCompleted:           5,
	StatusRollbackInProgress:  6,
	StatusRolledBack:          7,
	StatusRollbackFailed:      7,
}

// Rank returns the monotonic ordering position of s. Unknown statuses rank
// lowest so a record with a corrupted status can still be advanced.
func (s Status) Rank() int {
	return statusRank[s]
}

// Terminal reports whether s is a final state that no executor may leave.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRolledBack, StatusRollbackFailed:
		return true
	}
	return false
}

// Before reports whether s orders strictly before other on the forward path.
// A transition from s to other is a regression when !s.Before(other) and
// s != other.
func (s Status) Before(other Status) bool {
	return s.Rank() < other.Rank()
}
