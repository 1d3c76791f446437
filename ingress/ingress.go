// Package ingress accepts raw inbound migration requests, validates them
// against the payload schema, assigns correlation IDs and forwards each as a
// canonical MigrationRequested event. Batch processing is partial-failure
// tolerant: one bad message never blocks the rest.
package ingress

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	migration "github.com/girishfury/migration"
	"github.com/girishfury/migration/bus"
	"github.com/girishfury/migration/correlation"
)

// payloadSchema is the fixed structural schema every inbound migration
// request must satisfy.
const payloadSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["migrationId", "appName", "source", "target", "environment", "wave"],
  "properties": {
    "migrationId": {"type": "string", "minLength": 1},
    "appName": {"type": "string", "minLength": 1},
    "source": {"type": "string", "minLength": 1},
    "target": {"type": "string", "minLength": 1},
    "environment": {"type": "string", "minLength": 1},
    "wave": {"type": "string", "minLength": 1},
    "sourceVmId": {"type": "string"},
    "subnetId": {"type": "string"},
    "securityGroupIds": {"type": "array", "items": {"type": "string"}},
    "steps": {"type": "array", "items": {"type": "string"}},
    "callbackUrl": {"type": "string"}
  }
}`

// Message is one raw inbound queue message.
type Message struct {
	MessageID string
	Body      []byte
}

// Accepted reports one successfully forwarded message.
type Accepted struct {
	MessageID   string `json:"messageId"`
	EventID     string `json:"eventId"`
	MigrationID string `json:"migrationId"`
}

// Rejected reports one message that failed validation or publishing.
type Rejected struct {
	MessageID string           `json:"messageId"`
	Error     *migration.Error `json:"error"`
}

// Report is the per-message outcome of one batch.
type Report struct {
	Successful []Accepted `json:"successful"`
	Failed     []Rejected `json:"failed"`
}

// Handler validates and forwards inbound migration requests.
type Handler struct {
	schema    *jsonschema.Schema
	publisher bus.Publisher
	logger    *slog.Logger
}

// NewHandler creates an ingress handler publishing to pub.
func NewHandler(pub bus.Publisher, logger *slog.Logger) (*Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(payloadSchema))
	if err != nil {
		return nil, fmt.Errorf("ingress: parse payload schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("migration_payload.json", doc); err != nil {
		return nil, fmt.Errorf("ingress: add payload schema: %w", err)
	}
	schema, err := compiler.Compile("migration_payload.json")
	if err != nil {
		return nil, fmt.Errorf("ingress: compile payload schema: %w", err)
	}
	return &Handler{schema: schema, publisher: pub, logger: logger}, nil
}

// HandleBatch processes each message independently and returns a per-message
// success/failure report keyed by message ID.
func (h *Handler) HandleBatch(ctx context.Context, msgs []Message) Report {
	var report Report
	for _, msg := range msgs {
		accepted, err := h.handleMessage(ctx, msg)
		if err != nil {
			merr, ok := migration.AsError(err)
			if !ok {
				merr = migration.WrapError(migration.CodeValidation, err, nil)
			}
			h.logger.Error("ingress message rejected",
				"message_id", msg.MessageID,
				"error_code", merr.Code,
				"error", merr.Message,
			)
			report.Failed = append(report.Failed, Rejected{MessageID: msg.MessageID, Error: merr})
			continue
		}
		report.Successful = append(report.Successful, accepted)
	}
	h.logger.Info("ingress batch processed",
		"successful", len(report.Successful),
		"failed", len(report.Failed),
	)
	return report
}

func (h *Handler) handleMessage(ctx context.Context, msg Message) (Accepted, error) {
	payload, err := jsonschema.UnmarshalJSON(strings.NewReader(string(msg.Body)))
	if err != nil {
		return Accepted{}, migration.NewError(migration.CodeValidation,
			fmt.Sprintf("invalid migration payload: %v", err), nil)
	}
	body, ok := payload.(map[string]any)
	if !ok {
		return Accepted{}, migration.NewError(migration.CodeValidation,
			"invalid migration payload: not a JSON object", nil)
	}

	ev := migration.Event{Detail: body}
	correlationID := correlation.Extract(ev)

	if err := h.schema.Validate(payload); err != nil {
		return Accepted{}, validationError(err)
	}

	ev = correlation.Inject(ev, correlationID)
	migrationID := ev.MigrationID()

	eventID, err := h.publisher.Publish(ctx, migration.DetailMigrationRequested, ev.Detail, migration.SourceIngress)
	if err != nil {
		return Accepted{}, err
	}

	h.logger.Info("migration requested",
		"message_id", msg.MessageID,
		"migration_id", migrationID,
		"correlation_id", correlationID,
		"event_id", eventID,
	)
	return Accepted{MessageID: msg.MessageID, EventID: eventID, MigrationID: migrationID}, nil
}

// validationError converts a jsonschema validation failure into a typed
// error carrying the violating field path.
func validationError(err error) *migration.Error {
	if ve, ok := err.(*jsonschema.ValidationError); ok {
		leaf := ve
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		path := "/" + strings.Join(leaf.InstanceLocation, "/")
		return migration.NewError(migration.CodeValidation,
			fmt.Sprintf("invalid migration payload: %v", leaf.Error()),
			map[string]any{"path": path})
	}
	return migration.WrapError(migration.CodeValidation, err, nil)
}
