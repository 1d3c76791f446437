package migration

// Detail types published on the workflow bus. The detail type selects which
// phase executor reacts to an event.
const (
	DetailMigrationRequested    = "MigrationRequested"
	DetailMigrationStatusUpdate = "MigrationStatusUpdated"
	DetailMigrationSucceeded    = "MigrationSucceeded"
	DetailMigrationFailed       = "MigrationFailed"
)

// Event sources stamped on published events.
const (
	SourceIngress       = "migration.ingress"
	SourceOrchestration = "migration.orchestration"
)

// Event is the envelope exchanged between workflow steps. Field presence
// varies by phase; consumers tolerate absent optional fields.
type Event struct {
	DetailType    string            `json:"detailType,omitempty"`
	Source        string            `json:"source,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Detail        map[string]any    `json:"detail,omitempty"`
}

// MigrationID returns the migration identifier from the event, checking the
// top-level detail first and falling back to nothing. Events produced by this
// system always carry it in Detail.
func (e Event) MigrationID() string {
	if e.Detail == nil {
		return ""
	}
	id, _ := e.Detail["migrationId"].(string)
	return id
}

// String returns the string value of a detail field, or "" when absent or
// not a string.
func (e Event) String(field string) string {
	if e.Detail == nil {
		return ""
	}
	v, _ := e.Detail[field].(string)
	return v
}

// Strings returns a detail field holding a list of strings. JSON decoding
// yields []any, so both representations are accepted.
func (e Event) Strings(field string) []string {
	if e.Detail == nil {
		return nil
	}
	switch v := e.Detail[field].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
