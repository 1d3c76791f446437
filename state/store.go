// Package state persists migration records. The DynamoDB implementation is
// authoritative in production; the in-memory implementation backs local
// development and tests.
package state

import (
	"context"
	"errors"

	migration "github.com/girishfury/migration"
)

// ErrNotFound is returned when no record exists for a migration ID.
var ErrNotFound = errors.New("migration record not found")

// Store persists and queries migration records. Writes fail loudly when the
// backing store is unavailable: an executor must not report success if it
// could not persist its result, because downstream steps and rollback treat
// the record as authoritative.
type Store interface {
	// Save performs a full upsert of the record and stamps UpdatedAt.
	Save(ctx context.Context, rec migration.Record) error

	// Get returns the record for migrationID, or ErrNotFound.
	Get(ctx context.Context, migrationID string) (migration.Record, error)

	// UpdateStatus merges detailsDelta into the record's execution details,
	// rewrites status and UpdatedAt, and returns the resulting record.
	// A status that would regress the record is ignored: the current record
	// comes back unchanged beyond the timestamp, making event redelivery a
	// no-op. Calling it twice with the same status is idempotent.
	UpdateStatus(ctx context.Context, migrationID string, status migration.Status, detailsDelta map[string]any) (migration.Record, error)

	// Read-only projections for operational visibility; the workflow logic
	// itself never calls these.
	QueryByWave(ctx context.Context, wave string) ([]migration.Record, error)
	QueryByStatus(ctx context.Context, status migration.Status) ([]migration.Record, error)
	QueryByAppAndStatus(ctx context.Context, appName string, status migration.Status) ([]migration.Record, error)
}
