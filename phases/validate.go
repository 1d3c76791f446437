package phases

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/mgn"

	migration "github.com/girishfury/migration"
	"github.com/girishfury/migration/bus"
	"github.com/girishfury/migration/state"
)

// requiredFields are the detail fields every migration request must carry.
var requiredFields = []string{"migrationId", "appName", "source", "target", "environment", "wave"}

// ValidateInput checks the migration payload and its prerequisites, then
// creates the migration record in VALIDATED state.
type ValidateInput struct {
	deps
	ec2Client EC2Client
	mgnClient MGNClient
}

// NewValidateInput creates the validate-input executor.
func NewValidateInput(store state.Store, publisher bus.Publisher, ec2Client EC2Client, mgnClient MGNClient, logger *slog.Logger) *ValidateInput {
	return &ValidateInput{
		deps:      newDeps(store, publisher, logger),
		ec2Client: ec2Client,
		mgnClient: mgnClient,
	}
}

func (v *ValidateInput) Step() string { return StepValidateInput }

func (v *ValidateInput) Execute(ctx context.Context, ev migration.Event) Response {
	migrationID, correlationID := v.begin(ev)
	v.logger.Info("validating migration input",
		"migration_id", migrationID,
		"correlation_id", correlationID,
	)

	if rec, done := v.alreadyAt(ctx, migrationID, migration.StatusValidated); done {
		return replay(StepValidateInput, rec, correlationID)
	}

	if err := v.run(ctx, ev); err != nil {
		merr := asPhaseError(err, migration.CodeValidation)
		return v.fail(ctx, StepValidateInput, migrationID, correlationID, ev, merr)
	}

	rec := migration.Record{
		MigrationID:       migrationID,
		Status:            migration.StatusValidated,
		Wave:              ev.String("wave"),
		AppName:           ev.String("appName"),
		SourceEnvironment: ev.String("source"),
		TargetEnvironment: ev.String("target"),
		Environment:       ev.String("environment"),
		CorrelationID:     correlationID,
	}
	if err := v.store.Save(ctx, rec); err != nil {
		merr := asPhaseError(err, migration.CodeValidation)
		return v.fail(ctx, StepValidateInput, migrationID, correlationID, ev, merr)
	}

	v.logger.Info("input validation successful",
		"migration_id", migrationID,
		"correlation_id", correlationID,
	)
	v.publishStatus(ctx, StepValidateInput, migrationID, correlationID, "SUCCESS", ev, nil)

	return Response{
		MigrationID:   migrationID,
		CorrelationID: correlationID,
		Status:        migration.StatusValidated,
		Step:          StepValidateInput,
	}
}

func (v *ValidateInput) run(ctx context.Context, ev migration.Event) error {
	if err := validatePayload(ev); err != nil {
		return err
	}
	if err := v.checkEC2Prerequisites(ctx, ev); err != nil {
		return err
	}
	return v.checkMGNPrerequisites(ctx)
}

// validatePayload checks content beyond the ingress schema: all required
// fields present and non-empty.
func validatePayload(ev migration.Event) error {
	for _, field := range requiredFields {
		if ev.String(field) == "" {
			return migration.NewError(migration.CodeValidation,
				fmt.Sprintf("missing required field: %s", field),
				map[string]any{"field": field})
		}
	}
	return nil
}

// checkEC2Prerequisites verifies the target-side network resources named in
// the payload actually exist.
func (v *ValidateInput) checkEC2Prerequisites(ctx context.Context, ev migration.Event) error {
	if subnetID := ev.String("subnetId"); subnetID != "" {
		_, err := v.ec2Client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
			SubnetIds: []string{subnetID},
		})
		if err != nil {
			return migration.WrapError(migration.CodePrerequisite,
				fmt.Errorf("subnet verification failed: %w", err),
				map[string]any{"resource": "ec2", "subnetId": subnetID})
		}
	}
	if groupIDs := ev.Strings("securityGroupIds"); len(groupIDs) > 0 {
		_, err := v.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
			GroupIds: groupIDs,
		})
		if err != nil {
			return migration.WrapError(migration.CodePrerequisite,
				fmt.Errorf("security group verification failed: %w", err),
				map[string]any{"resource": "ec2"})
		}
	}
	return nil
}

// checkMGNPrerequisites verifies the migration service is reachable before
// the workflow commits to it.
func (v *ValidateInput) checkMGNPrerequisites(ctx context.Context) error {
	_, err := v.mgnClient.DescribeSourceServers(ctx, &mgn.DescribeSourceServersInput{})
	if err != nil {
		return migration.WrapError(migration.CodePrerequisite,
			fmt.Errorf("migration service check failed: %w", err),
			map[string]any{"service": "mgn"})
	}
	return nil
}

var _ Executor = (*ValidateInput)(nil)
