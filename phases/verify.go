package phases

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/mgn"
	mgntypes "github.com/aws/aws-sdk-go-v2/service/mgn/types"

	migration "github.com/girishfury/migration"
	"github.com/girishfury/migration/bus"
	"github.com/girishfury/migration/state"
)

// ReplicationLagThreshold is the maximum tolerated replication lag. A lag
// beyond it is a verification failure, not a retryable transient: the system
// does not poll within one invocation, so the only safe answer is rollback.
const ReplicationLagThreshold = 300 * time.Second

// metricsNamespace is the CloudWatch namespace for verification metrics.
const metricsNamespace = "MigrationOrchestration"

// VerifyMigration checks the replication job status, the replication lag
// against the threshold, and application health on the target, then marks
// the record VERIFIED (ready for cutover) or VERIFICATION_FAILED.
type VerifyMigration struct {
	deps
	mgnClient MGNClient
	ec2Client EC2Client
	cwClient  CloudWatchClient
	now       func() time.Time
}

// NewVerifyMigration creates the verify-migration executor. cwClient may be
// nil; metrics are best-effort.
func NewVerifyMigration(store state.Store, publisher bus.Publisher, mgnClient MGNClient, ec2Client EC2Client, cwClient CloudWatchClient, logger *slog.Logger) *VerifyMigration {
	return &VerifyMigration{
		deps:      newDeps(store, publisher, logger),
		mgnClient: mgnClient,
		ec2Client: ec2Client,
		cwClient:  cwClient,
		now:       time.Now,
	}
}

func (v *VerifyMigration) Step() string { return StepVerifyMigration }

func (v *VerifyMigration) Execute(ctx context.Context, ev migration.Event) Response {
	migrationID, correlationID := v.begin(ev)
	jobID := v.jobID(ctx, ev, migrationID)
	v.logger.Info("starting migration verification",
		"migration_id", migrationID,
		"correlation_id", correlationID,
		"job_id", jobID,
	)

	if rec, done := v.alreadyAt(ctx, migrationID, migration.StatusVerified); done {
		return replay(StepVerifyMigration, rec, correlationID)
	}

	if jobID == "" {
		merr := migration.NewError(migration.CodeVerification, "job ID is required for verification", nil)
		return v.fail(ctx, StepVerifyMigration, migrationID, correlationID, ev, merr)
	}

	jobStatus, err := v.jobStatus(ctx, jobID)
	if err != nil {
		merr := asPhaseError(err, migration.CodeVerification)
		return v.fail(ctx, StepVerifyMigration, migrationID, correlationID, ev, merr)
	}

	// A job not yet terminal is in progress, not failed; the external
	// scheduler re-invokes this step later.
	if jobStatus != string(mgntypes.JobStatusCompleted) {
		v.logger.Info("replication job still in progress",
			"migration_id", migrationID,
			"job_id", jobID,
			"job_status", jobStatus,
		)
		return Response{
			MigrationID:   migrationID,
			CorrelationID: correlationID,
			Status:        migration.StatusMigrationInProgress,
			Step:          StepVerifyMigration,
			Details: map[string]any{
				"jobId":           jobID,
				"jobStatus":       jobStatus,
				"readyForCutover": false,
				"message":         "migration in progress, not yet ready for cutover",
			},
		}
	}

	lag, err := v.replicationLag(ctx)
	if err != nil {
		v.logger.Warn("could not determine replication lag",
			"migration_id", migrationID,
			"error", err,
		)
		lag = 0
	}

	healthy, healthMessage := v.applicationHealth(ctx, ev)

	healthStatus := "healthy"
	if !healthy {
		healthStatus = "unhealthy"
	}
	v.publishMetrics(ctx, migrationID, lag, healthy)

	details := map[string]any{
		"verification": map[string]any{
			"jobId":          jobID,
			"jobStatus":      jobStatus,
			"replicationLag": int(lag.Seconds()),
			"healthStatus":   healthStatus,
		},
	}

	if lag > ReplicationLagThreshold {
		merr := migration.NewError(migration.CodeVerification,
			fmt.Sprintf("replication lag %ds exceeds threshold %ds",
				int(lag.Seconds()), int(ReplicationLagThreshold.Seconds())),
			map[string]any{"replicationLag": int(lag.Seconds())})
		if _, err := v.store.UpdateStatus(ctx, migrationID, migration.StatusVerificationFailed, details); err != nil {
			v.logger.Error("could not persist verification failure",
				"migration_id", migrationID,
				"error", err,
			)
		}
		return v.fail(ctx, StepVerifyMigration, migrationID, correlationID, ev, merr)
	}

	if !healthy {
		merr := migration.NewError(migration.CodeVerification,
			fmt.Sprintf("application health check failed: %s", healthMessage),
			map[string]any{"healthStatus": healthStatus})
		if _, err := v.store.UpdateStatus(ctx, migrationID, migration.StatusVerificationFailed, details); err != nil {
			v.logger.Error("could not persist verification failure",
				"migration_id", migrationID,
				"error", err,
			)
		}
		return v.fail(ctx, StepVerifyMigration, migrationID, correlationID, ev, merr)
	}

	if _, err := v.store.UpdateStatus(ctx, migrationID, migration.StatusVerified, details); err != nil {
		merr := asPhaseError(err, migration.CodeVerification)
		return v.fail(ctx, StepVerifyMigration, migrationID, correlationID, ev, merr)
	}

	v.logger.Info("migration verified, ready for cutover",
		"migration_id", migrationID,
		"correlation_id", correlationID,
		"replication_lag_seconds", int(lag.Seconds()),
	)
	v.publishStatus(ctx, StepVerifyMigration, migrationID, correlationID, "SUCCESS", ev, map[string]any{
		"jobId":           jobID,
		"replicationLag":  int(lag.Seconds()),
		"healthStatus":    healthStatus,
		"readyForCutover": true,
	})

	return Response{
		MigrationID:   migrationID,
		CorrelationID: correlationID,
		Status:        migration.StatusVerified,
		Step:          StepVerifyMigration,
		Details: map[string]any{
			"jobId":           jobID,
			"jobStatus":       jobStatus,
			"replicationLag":  int(lag.Seconds()),
			"healthStatus":    healthStatus,
			"readyForCutover": true,
		},
	}
}

// jobID resolves the replication job: the event detail wins, falling back to
// the job recorded by the trigger phase.
func (v *VerifyMigration) jobID(ctx context.Context, ev migration.Event, migrationID string) string {
	if id := ev.String("jobId"); id != "" {
		return id
	}
	rec, err := v.store.Get(ctx, migrationID)
	if err != nil {
		return ""
	}
	mgnDetails, ok := rec.ExecutionDetails["mgn"].(map[string]any)
	if !ok {
		return ""
	}
	id, _ := mgnDetails["jobId"].(string)
	return id
}

func (v *VerifyMigration) jobStatus(ctx context.Context, jobID string) (string, error) {
	out, err := v.mgnClient.DescribeJobs(ctx, &mgn.DescribeJobsInput{
		Filters: &mgntypes.DescribeJobsRequestFilters{JobIDs: []string{jobID}},
	})
	if err != nil {
		return "", migration.WrapError(migration.CodeVerification,
			fmt.Errorf("failed to check job status: %w", err),
			map[string]any{"jobId": jobID})
	}
	if len(out.Items) == 0 {
		return "", migration.NewError(migration.CodeVerification,
			"replication job not found", map[string]any{"jobId": jobID})
	}
	return string(out.Items[0].Status), nil
}

// replicationLag computes the smallest lag across source servers from their
// last-seen-by-service timestamps.
func (v *VerifyMigration) replicationLag(ctx context.Context) (time.Duration, error) {
	out, err := v.mgnClient.DescribeSourceServers(ctx, &mgn.DescribeSourceServersInput{})
	if err != nil {
		return 0, fmt.Errorf("describe source servers: %w", err)
	}

	minLag := time.Duration(-1)
	for _, server := range out.Items {
		if server.LifeCycle == nil || server.LifeCycle.LastSeenByServiceDateTime == nil {
			continue
		}
		lastSeen, err := time.Parse(time.RFC3339, *server.LifeCycle.LastSeenByServiceDateTime)
		if err != nil {
			continue
		}
		lag := v.now().Sub(lastSeen)
		if minLag < 0 || lag < minLag {
			minLag = lag
		}
	}
	if minLag < 0 {
		// No server reported a timestamp; treat as no measurable lag.
		return 0, nil
	}
	return minLag, nil
}

// applicationHealth verifies the application on the target. A callback URL
// delegates the check to the caller's endpoint; otherwise EC2 instance and
// system status checks decide. An instance whose checks are not yet
// available does not fail verification.
func (v *VerifyMigration) applicationHealth(ctx context.Context, ev migration.Event) (bool, string) {
	if ev.String("callbackUrl") != "" {
		return true, "custom health check delegated to callback endpoint"
	}

	targetInstanceID := ev.String("targetInstanceId")
	if targetInstanceID == "" {
		return true, "health check skipped (no target instance)"
	}

	out, err := v.ec2Client.DescribeInstanceStatus(ctx, &ec2.DescribeInstanceStatusInput{
		InstanceIds: []string{targetInstanceID},
	})
	if err != nil {
		v.logger.Warn("could not verify instance health",
			"target_instance_id", targetInstanceID,
			"error", err,
		)
		return true, "health check skipped (instance not available)"
	}
	if len(out.InstanceStatuses) == 0 {
		return false, "instance status checks not ready"
	}

	status := out.InstanceStatuses[0]
	instanceOK := status.InstanceStatus != nil && status.InstanceStatus.Status == ec2types.SummaryStatusOk
	systemOK := status.SystemStatus != nil && status.SystemStatus.Status == ec2types.SummaryStatusOk
	if !instanceOK || !systemOK {
		return false, fmt.Sprintf("instance=%v system=%v", instanceOK, systemOK)
	}
	return true, "health check passed"
}

// publishMetrics reports lag and health to CloudWatch. Failures are logged
// only; metrics never gate the workflow.
func (v *VerifyMigration) publishMetrics(ctx context.Context, migrationID string, lag time.Duration, healthy bool) {
	if v.cwClient == nil {
		return
	}
	healthValue := 0.0
	if healthy {
		healthValue = 1.0
	}
	dimensions := []cwtypes.Dimension{{
		Name:  aws.String("MigrationId"),
		Value: aws.String(migrationID),
	}}
	_, err := v.cwClient.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(metricsNamespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("ReplicationLag"),
				Value:      aws.Float64(lag.Seconds()),
				Unit:       cwtypes.StandardUnitSeconds,
				Dimensions: dimensions,
			},
			{
				MetricName: aws.String("HealthStatus"),
				Value:      aws.Float64(healthValue),
				Unit:       cwtypes.StandardUnitNone,
				Dimensions: dimensions,
			},
		},
	})
	if err != nil {
		v.logger.Error("failed to publish verification metrics",
			"migration_id", migrationID,
			"error", err,
		)
	}
}

var _ Executor = (*VerifyMigration)(nil)
