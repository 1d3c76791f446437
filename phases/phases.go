// Package phases implements the workflow step executors, one per
// state-machine transition: validate input, prepare source, trigger
// migration, verify migration and finalize cutover. Each executor consumes
// the prior phase's event, does its work through external collaborators,
// persists the result on the migration record and publishes a
// phase-status event for the next phase (or the compensator) to react to.
package phases

import (
	"context"
	"log/slog"

	migration "github.com/girishfury/migration"
	"github.com/girishfury/migration/bus"
	"github.com/girishfury/migration/correlation"
	"github.com/girishfury/migration/state"
)

// Step names stamped on phase-status events.
const (
	StepValidateInput    = "validate_input"
	StepPrepareSource    = "prepare_source"
	StepTriggerMigration = "trigger_migration"
	StepVerifyMigration  = "verify_migration"
	StepFinalizeCutover  = "finalize_cutover"
)

// Response is the structured outcome of one executor invocation. The
// invocation itself never fails the workflow: errors come back typed inside
// the response, and a failure event has already been published by the time
// the caller sees it.
type Response struct {
	MigrationID   string           `json:"migrationId"`
	CorrelationID string           `json:"correlationId"`
	Status        migration.Status `json:"status"`
	Step          string           `json:"step"`
	Replayed      bool             `json:"replayed,omitempty"`
	Details       map[string]any   `json:"details,omitempty"`
	Error         *migration.Error `json:"error,omitempty"`
}

// Executor handles one workflow phase.
type Executor interface {
	Step() string
	Execute(ctx context.Context, ev migration.Event) Response
}

// deps are the collaborators every executor shares.
type deps struct {
	store     state.Store
	publisher bus.Publisher
	logger    *slog.Logger
}

func newDeps(store state.Store, publisher bus.Publisher, logger *slog.Logger) deps {
	if logger == nil {
		logger = slog.Default()
	}
	return deps{store: store, publisher: publisher, logger: logger}
}

// begin extracts the identifiers every phase needs from its trigger event.
func (d deps) begin(ev migration.Event) (migrationID, correlationID string) {
	return ev.MigrationID(), correlation.Extract(ev)
}

// alreadyAt reports whether the record has already reached target, meaning
// the triggering event is a redelivery and the phase is a no-op success.
func (d deps) alreadyAt(ctx context.Context, migrationID string, target migration.Status) (migration.Record, bool) {
	rec, err := d.store.Get(ctx, migrationID)
	if err != nil {
		return migration.Record{}, false
	}
	return rec, !rec.Status.Before(target)
}

// forwardDetail carries the triggering event's detail into the next
// published event so downstream steps and the compensator keep the request
// context (source VM, steps, callback URL), overlaid with delta.
func forwardDetail(ev migration.Event, delta map[string]any) map[string]any {
	out := make(map[string]any, len(ev.Detail)+len(delta))
	for k, v := range ev.Detail {
		out[k] = v
	}
	for k, v := range delta {
		out[k] = v
	}
	return out
}

// fail persists the phase failure, publishes the failure event that triggers
// rollback, and builds the failure response. Publish errors are logged only:
// the record is the source of truth.
func (d deps) fail(ctx context.Context, step, migrationID, correlationID string, ev migration.Event, merr *migration.Error) Response {
	d.logger.Error("phase failed",
		"step", step,
		"migration_id", migrationID,
		"correlation_id", correlationID,
		"error_code", merr.Code,
		"error", merr.Message,
	)
	if _, err := d.publisher.PublishFailure(ctx, migrationID, correlationID, merr.Code, merr.Message, forwardDetail(ev, merr.Details)); err != nil {
		d.logger.Error("failure event publish failed",
			"step", step,
			"migration_id", migrationID,
			"error", err,
		)
	}
	return Response{
		MigrationID:   migrationID,
		CorrelationID: correlationID,
		Status:        migration.StatusRollbackInProgress,
		Step:          step,
		Error:         merr,
	}
}

// publishStatus emits the phase-status event, carrying the triggering
// event's detail forward; a publish failure is logged and swallowed since
// the persisted record already reflects the outcome.
func (d deps) publishStatus(ctx context.Context, step, migrationID, correlationID, status string, ev migration.Event, details map[string]any) {
	if _, err := d.publisher.PublishStatus(ctx, migrationID, correlationID, step, status, forwardDetail(ev, details)); err != nil {
		d.logger.Error("status event publish failed",
			"step", step,
			"migration_id", migrationID,
			"error", err,
		)
	}
}

// asPhaseError coerces err into a typed migration error, falling back to the
// given code for unexpected errors so the workflow can still progress to
// rollback instead of stalling.
func asPhaseError(err error, fallbackCode string) *migration.Error {
	if merr, ok := migration.AsError(err); ok {
		return merr
	}
	return migration.WrapError(fallbackCode, err, nil)
}

// replay builds the no-op success response for a redelivered event.
func replay(step string, rec migration.Record, correlationID string) Response {
	return Response{
		MigrationID:   rec.MigrationID,
		CorrelationID: correlationID,
		Status:        rec.Status,
		Step:          step,
		Replayed:      true,
	}
}
