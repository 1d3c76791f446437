package phases

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/mgn"
	mgntypes "github.com/aws/aws-sdk-go-v2/service/mgn/types"

	migration "github.com/girishfury/migration"
	"github.com/girishfury/migration/bus"
	"github.com/girishfury/migration/state"
)

// TriggerMigration starts the replication job through the migration service:
// a test launch for early waves, a cutover launch when the requested steps
// indicate the full sequence. It also records the wave status update in the
// CMDB/CMF so wave tracking stays in sync.
type TriggerMigration struct {
	deps
	mgnClient MGNClient
	cmdb      CMDB
	now       func() time.Time
}

// NewTriggerMigration creates the trigger-migration executor.
func NewTriggerMigration(store state.Store, publisher bus.Publisher, mgnClient MGNClient, cmdb CMDB, logger *slog.Logger) *TriggerMigration {
	return &TriggerMigration{
		deps:      newDeps(store, publisher, logger),
		mgnClient: mgnClient,
		cmdb:      cmdb,
		now:       time.Now,
	}
}

func (t *TriggerMigration) Step() string { return StepTriggerMigration }

func (t *TriggerMigration) Execute(ctx context.Context, ev migration.Event) Response {
	migrationID, correlationID := t.begin(ev)
	t.logger.Info("triggering migration",
		"migration_id", migrationID,
		"correlation_id", correlationID,
	)

	if rec, done := t.alreadyAt(ctx, migrationID, migration.StatusMigrationInProgress); done {
		return replay(StepTriggerMigration, rec, correlationID)
	}

	details, err := t.run(ctx, ev)
	if err != nil {
		merr := asPhaseError(err, migration.CodeMigrationExecution)
		return t.fail(ctx, StepTriggerMigration, migrationID, correlationID, ev, merr)
	}

	if _, err := t.store.UpdateStatus(ctx, migrationID, migration.StatusMigrationInProgress, details); err != nil {
		merr := asPhaseError(err, migration.CodeMigrationExecution)
		return t.fail(ctx, StepTriggerMigration, migrationID, correlationID, ev, merr)
	}

	t.logger.Info("migration triggered",
		"migration_id", migrationID,
		"correlation_id", correlationID,
	)
	t.publishStatus(ctx, StepTriggerMigration, migrationID, correlationID, "IN_PROGRESS", ev, details)

	return Response{
		MigrationID:   migrationID,
		CorrelationID: correlationID,
		Status:        migration.StatusMigrationInProgress,
		Step:          StepTriggerMigration,
		Details:       details,
	}
}

func (t *TriggerMigration) run(ctx context.Context, ev migration.Event) (map[string]any, error) {
	var (
		jobResult map[string]any
		err       error
	)
	if isTestLaunch(ev.Strings("steps")) {
		jobResult, err = t.startTestLaunch(ctx, ev)
	} else {
		jobResult, err = t.startCutover(ctx, ev)
	}
	if err != nil {
		return nil, err
	}

	cmfResult, err := t.cmdb.UpdateAsset(ctx, AssetUpdate{
		Wave:        ev.String("wave"),
		AppName:     ev.String("appName"),
		Environment: ev.String("environment"),
		Status:      "IN_PROGRESS",
	})
	if err != nil {
		return nil, migration.WrapError(migration.CodeMigrationExecution,
			fmt.Errorf("wave status update failed: %w", err),
			map[string]any{"service": "cmf"})
	}

	return map[string]any{"mgn": jobResult, "cmf": cmfResult}, nil
}

// isTestLaunch decides between a test launch and a cutover launch: the
// cutover path requires the full step sequence including a source freeze.
func isTestLaunch(steps []string) bool {
	hasFreeze := false
	for _, s := range steps {
		if s == "freeze" {
			hasFreeze = true
			break
		}
	}
	return !hasFreeze || len(steps) < 3
}

func (t *TriggerMigration) startTestLaunch(ctx context.Context, ev migration.Event) (map[string]any, error) {
	out, err := t.mgnClient.StartTest(ctx, &mgn.StartTestInput{
		SourceServerIDs: []string{ev.String("sourceVmId")},
	})
	if err != nil {
		return nil, migration.WrapError(migration.CodeMigrationExecution,
			fmt.Errorf("failed to trigger test launch: %w", err),
			map[string]any{"service": "mgn"})
	}
	return t.jobResult(out.Job, "TEST_LAUNCH_INITIATED"), nil
}

func (t *TriggerMigration) startCutover(ctx context.Context, ev migration.Event) (map[string]any, error) {
	out, err := t.mgnClient.StartCutover(ctx, &mgn.StartCutoverInput{
		SourceServerIDs: []string{ev.String("sourceVmId")},
	})
	if err != nil {
		return nil, migration.WrapError(migration.CodeMigrationExecution,
			fmt.Errorf("failed to trigger cutover launch: %w", err),
			map[string]any{"service": "mgn"})
	}
	return t.jobResult(out.Job, "CUTOVER_INITIATED"), nil
}

func (t *TriggerMigration) jobResult(job *mgntypes.Job, status string) map[string]any {
	jobID := ""
	if job != nil {
		jobID = aws.ToString(job.JobID)
	}
	return map[string]any{
		"jobId":     jobID,
		"status":    status,
		"timestamp": t.now().UTC().Format(time.RFC3339),
	}
}

var _ Executor = (*TriggerMigration)(nil)
