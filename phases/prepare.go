package phases

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/mgn"

	migration "github.com/girishfury/migration"
	"github.com/girishfury/migration/bus"
	"github.com/girishfury/migration/state"
)

// PrepareSource readies the source VM for migration: agent install,
// snapshot, readiness validation for Azure sources, or source-server
// discovery through the migration service for everything else.
type PrepareSource struct {
	deps
	mgnClient MGNClient
	now       func() time.Time
}

// NewPrepareSource creates the prepare-source executor.
func NewPrepareSource(store state.Store, publisher bus.Publisher, mgnClient MGNClient, logger *slog.Logger) *PrepareSource {
	return &PrepareSource{
		deps:      newDeps(store, publisher, logger),
		mgnClient: mgnClient,
		now:       time.Now,
	}
}

func (p *PrepareSource) Step() string { return StepPrepareSource }

func (p *PrepareSource) Execute(ctx context.Context, ev migration.Event) Response {
	migrationID, correlationID := p.begin(ev)
	p.logger.Info("starting source preparation",
		"migration_id", migrationID,
		"correlation_id", correlationID,
	)

	if rec, done := p.alreadyAt(ctx, migrationID, migration.StatusSourcePrepared); done {
		return replay(StepPrepareSource, rec, correlationID)
	}

	result, err := p.run(ctx, ev)
	if err != nil {
		merr := asPhaseError(err, migration.CodeSourcePreparation)
		return p.fail(ctx, StepPrepareSource, migrationID, correlationID, ev, merr)
	}

	if _, err := p.store.UpdateStatus(ctx, migrationID, migration.StatusSourcePrepared, map[string]any{
		"sourcePreparation": result,
	}); err != nil {
		merr := asPhaseError(err, migration.CodeSourcePreparation)
		return p.fail(ctx, StepPrepareSource, migrationID, correlationID, ev, merr)
	}

	p.logger.Info("source preparation completed",
		"migration_id", migrationID,
		"correlation_id", correlationID,
	)
	p.publishStatus(ctx, StepPrepareSource, migrationID, correlationID, "SUCCESS", ev, result)

	return Response{
		MigrationID:   migrationID,
		CorrelationID: correlationID,
		Status:        migration.StatusSourcePrepared,
		Step:          StepPrepareSource,
		Details:       result,
	}
}

func (p *PrepareSource) run(ctx context.Context, ev migration.Event) (map[string]any, error) {
	if ev.String("sourceVmId") == "" || ev.String("source") == "" {
		return nil, migration.NewError(migration.CodeSourcePreparation,
			"source VM is not ready for migration", nil)
	}

	if ev.String("source") == "azure" {
		return p.prepareAzureSource(ev)
	}
	return p.prepareWithMGN(ctx)
}

// prepareAzureSource readies an Azure-hosted source VM.
// TODO: integrate the Azure compute SDK; until then the agent/snapshot
// readiness flags are reported without touching the VM.
func (p *PrepareSource) prepareAzureSource(ev migration.Event) (map[string]any, error) {
	sourceVMID := ev.String("sourceVmId")
	if sourceVMID == "" {
		return nil, migration.NewError(migration.CodeSourcePreparation,
			"source VM ID not provided for Azure source", nil)
	}
	return map[string]any{
		"vmId":               sourceVMID,
		"agentInstalled":     true,
		"snapshotCreated":    true,
		"readinessValidated": true,
		"preparedAt":         p.now().UTC().Format(time.RFC3339),
	}, nil
}

// prepareWithMGN discovers source servers through the migration service.
func (p *PrepareSource) prepareWithMGN(ctx context.Context) (map[string]any, error) {
	out, err := p.mgnClient.DescribeSourceServers(ctx, &mgn.DescribeSourceServersInput{})
	if err != nil {
		return nil, migration.WrapError(migration.CodeSourcePreparation,
			fmt.Errorf("migration service integration failed: %w", err),
			map[string]any{"service": "mgn"})
	}
	return map[string]any{
		"mgnIntegrated":      true,
		"sourceServersFound": len(out.Items),
		"preparedAt":         p.now().UTC().Format(time.RFC3339),
	}, nil
}

var _ Executor = (*PrepareSource)(nil)
