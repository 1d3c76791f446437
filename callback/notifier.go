// Package callback delivers terminal migration status to an externally
// registered callback URL. Delivery is best-effort notification: a failed or
// unreachable callback is recorded and surfaced, never re-raised to fail the
// workflow step that triggered it.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	migration "github.com/girishfury/migration"
	"github.com/girishfury/migration/correlation"
	"github.com/girishfury/migration/state"
)

// sourceMarker identifies this system on outbound callback requests.
const sourceMarker = "aws-mgn-orchestrator"

// authSecretID is the secret holding the bearer token for authenticated
// callback targets.
const authSecretID = "migration/callback-auth"

// HTTPClient is the outbound HTTP surface used by the notifier.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// SecretsClient defines the Secrets Manager operations used to resolve the
// callback bearer credential.
type SecretsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Result reports the outcome of one notification attempt.
type Result struct {
	MigrationID   string `json:"migrationId"`
	CorrelationID string `json:"correlationId"`
	CallbackSent  bool   `json:"callbackSent"`
	Message       string `json:"callbackMessage,omitempty"`
	CMDBUpdated   bool   `json:"cmdbUpdated"`
}

// Notifier formats and delivers terminal status payloads.
type Notifier struct {
	httpClient HTTPClient
	secrets    SecretsClient
	store      state.Store
	logger     *slog.Logger
	now        func() time.Time
}

// NewNotifier creates a callback notifier. secrets may be nil when no
// callback target requires authentication; store may be nil to skip the
// CMDB record update.
func NewNotifier(httpClient HTTPClient, secrets SecretsClient, store state.Store, logger *slog.Logger) *Notifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		httpClient: httpClient,
		secrets:    secrets,
		store:      store,
		logger:     logger,
		now:        time.Now,
	}
}

// Notify formats the status payload from the terminal event and delivers it
// to the event's callback URL. It never returns an error: failures land in
// the Result.
func (n *Notifier) Notify(ctx context.Context, ev migration.Event) Result {
	migrationID := ev.MigrationID()
	correlationID := correlation.Extract(ev)
	payload := n.formatPayload(ev, correlationID)

	result := Result{
		MigrationID:   migrationID,
		CorrelationID: correlationID,
	}

	callbackURL := ev.String("callbackUrl")
	if callbackURL == "" {
		n.logger.Info("no callback URL registered",
			"migration_id", migrationID,
			"correlation_id", correlationID,
		)
		result.CallbackSent = true
		result.Message = "no callback URL"
	} else if err := n.deliver(ctx, callbackURL, correlationID, payload); err != nil {
		n.logger.Warn("callback delivery failed",
			"migration_id", migrationID,
			"correlation_id", correlationID,
			"callback_url", callbackURL,
			"error", err,
		)
		result.Message = err.Error()
	} else {
		result.CallbackSent = true
		result.Message = "callback delivered"
	}

	result.CMDBUpdated = n.recordCMDBUpdate(ctx, migrationID, payload)
	return result
}

// formatPayload assembles the callback body from the terminal event detail.
func (n *Notifier) formatPayload(ev migration.Event, correlationID string) map[string]any {
	status := ev.String("status")
	if status == "" {
		status = "IN_PROGRESS"
	}
	return map[string]any{
		"migrationId":       ev.MigrationID(),
		"appName":           ev.String("appName"),
		"status":            status,
		"jobId":             ev.String("jobId"),
		"jobStatus":         ev.String("jobStatus"),
		"targetInstanceId":  ev.String("targetInstanceId"),
		"targetIpAddress":   ev.String("targetIpAddress"),
		"replicationLag":    ev.Detail["replicationLag"],
		"healthStatus":      ev.String("healthStatus"),
		"error":             ev.Detail["errorMessage"],
		"sourceEnvironment": ev.String("source"),
		"targetEnvironment": ev.String("target"),
		"wave":              ev.String("wave"),
		"environment":       ev.String("environment"),
		"correlationId":     correlationID,
		"timestamp":         n.now().UTC().UnixMilli(),
	}
}

func (n *Notifier) deliver(ctx context.Context, callbackURL, correlationID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("callback: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("callback: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Migration-Source", sourceMarker)
	req.Header.Set(correlation.HeaderName, correlationID)
	if token := n.bearerToken(ctx, callbackURL); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callback: post to %s: %w", callbackURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return nil
	}
	return fmt.Errorf("callback: delivery failed with status %d", resp.StatusCode)
}

// bearerToken resolves a credential for authenticated callback targets.
// Only API-style URLs carry auth; a missing secret means no auth.
func (n *Notifier) bearerToken(ctx context.Context, callbackURL string) string {
	if n.secrets == nil || !strings.Contains(callbackURL, "/api/") {
		return ""
	}
	out, err := n.secrets.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(authSecretID),
	})
	if err != nil {
		n.logger.Warn("no auth secret for callback", "error", err)
		return ""
	}
	var secret struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal([]byte(aws.ToString(out.SecretString)), &secret); err != nil {
		n.logger.Warn("malformed callback auth secret", "error", err)
		return ""
	}
	return secret.Token
}

// recordCMDBUpdate appends the delivered payload to the migration record so
// the CMDB integration can pick it up.
func (n *Notifier) recordCMDBUpdate(ctx context.Context, migrationID string, payload map[string]any) bool {
	if n.store == nil || migrationID == "" {
		return false
	}
	rec, err := n.store.Get(ctx, migrationID)
	if err != nil {
		n.logger.Warn("could not load record for CMDB update",
			"migration_id", migrationID,
			"error", err,
		)
		return false
	}
	if _, err := n.store.UpdateStatus(ctx, migrationID, rec.Status, map[string]any{
		"cmdbUpdate": payload,
	}); err != nil {
		n.logger.Warn("CMDB record update failed",
			"migration_id", migrationID,
			"error", err,
		)
		return false
	}
	return true
}
