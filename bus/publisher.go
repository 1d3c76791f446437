// Package bus publishes workflow events to the shared EventBridge bus.
// Publishing is a notification, not part of the transactional guarantee:
// callers log a publish failure but never unwind work already persisted to
// the record store.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	migration "github.com/girishfury/migration"
)

// Publisher emits workflow events. Fixed-shape variants all include the
// migration ID, correlation ID, status and timestamp.
type Publisher interface {
	Publish(ctx context.Context, detailType string, detail map[string]any, source string) (string, error)
	PublishSuccess(ctx context.Context, migrationID, correlationID string, details map[string]any) (string, error)
	PublishFailure(ctx context.Context, migrationID, correlationID, errorCode, errorMessage string, details map[string]any) (string, error)
	PublishStatus(ctx context.Context, migrationID, correlationID, currentStep, status string, details map[string]any) (string, error)
}

// EventBridgeClient defines the EventBridge operations used by the publisher.
type EventBridgeClient interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgePublisher publishes to a named EventBridge custom bus.
type EventBridgePublisher struct {
	client  EventBridgeClient
	busName string
	now     func() time.Time
}

// NewEventBridgePublisher creates a publisher using clients built from cfg.
func NewEventBridgePublisher(cfg aws.Config, busName string) *EventBridgePublisher {
	return NewEventBridgePublisherWithClient(eventbridge.NewFromConfig(cfg), busName)
}

// NewEventBridgePublisherWithClient creates a publisher with a custom client.
func NewEventBridgePublisherWithClient(client EventBridgeClient, busName string) *EventBridgePublisher {
	return &EventBridgePublisher{client: client, busName: busName, now: time.Now}
}

// Publish emits one event and returns its bus-assigned event ID. The bus
// reporting any failed entry is a hard error.
func (p *EventBridgePublisher) Publish(ctx context.Context, detailType string, detail map[string]any, source string) (string, error) {
	if source == "" {
		source = migration.SourceOrchestration
	}
	payload, err := json.Marshal(detail)
	if err != nil {
		return "", fmt.Errorf("bus: marshal detail for %q: %w", detailType, err)
	}

	out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{{
			EventBusName: aws.String(p.busName),
			Source:       aws.String(source),
			DetailType:   aws.String(detailType),
			Detail:       aws.String(string(payload)),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("bus: put events for %q: %w", detailType, err)
	}
	if out.FailedEntryCount > 0 {
		entry := out.Entries[0]
		return "", fmt.Errorf("bus: publish %q failed: %s (%s)",
			detailType, aws.ToString(entry.ErrorMessage), aws.ToString(entry.ErrorCode))
	}

	return aws.ToString(out.Entries[0].EventId), nil
}

// PublishSuccess emits a MigrationSucceeded event.
func (p *EventBridgePublisher) PublishSuccess(ctx context.Context, migrationID, correlationID string, details map[string]any) (string, error) {
	detail := p.baseDetail(migrationID, correlationID, "SUCCESS", details)
	return p.Publish(ctx, migration.DetailMigrationSucceeded, detail, migration.SourceOrchestration)
}

// PublishFailure emits a MigrationFailed event carrying the error code and
// message; this is what triggers the rollback handler.
func (p *EventBridgePublisher) PublishFailure(ctx context.Context, migrationID, correlationID, errorCode, errorMessage string, details map[string]any) (string, error) {
	detail := p.baseDetail(migrationID, correlationID, "FAILED", details)
	detail["errorCode"] = errorCode
	detail["errorMessage"] = errorMessage
	return p.Publish(ctx, migration.DetailMigrationFailed, detail, migration.SourceOrchestration)
}

// PublishStatus emits a MigrationStatusUpdated event for the given step.
func (p *EventBridgePublisher) PublishStatus(ctx context.Context, migrationID, correlationID, currentStep, status string, details map[string]any) (string, error) {
	detail := p.baseDetail(migrationID, correlationID, status, details)
	detail["currentStep"] = currentStep
	return p.Publish(ctx, migration.DetailMigrationStatusUpdate, detail, migration.SourceOrchestration)
}

// baseDetail merges the caller's detail fields under the canonical envelope
// fields; forwarded context never overrides the identifiers or status.
func (p *EventBridgePublisher) baseDetail(migrationID, correlationID, status string, details map[string]any) map[string]any {
	detail := make(map[string]any, len(details)+4)
	for k, v := range details {
		detail[k] = v
	}
	detail["migrationId"] = migrationID
	detail["correlationId"] = correlationID
	detail["status"] = status
	detail["timestamp"] = p.now().UTC().Format(time.RFC3339)
	return detail
}

var _ Publisher = (*EventBridgePublisher)(nil)
