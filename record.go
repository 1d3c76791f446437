package migration

import "time"

// Record is the authoritative persisted state of one migration. It is keyed
// by MigrationID and mutated by exactly one phase executor (or the
// compensator) at a time; the event chain serializes writers.
type Record struct {
	MigrationID       string         `json:"migrationId" dynamodbav:"migrationId"`
	Status            Status         `json:"status" dynamodbav:"status"`
	Wave              string         `json:"wave" dynamodbav:"wave"`
	AppName           string         `json:"appName" dynamodbav:"appName"`
	SourceEnvironment string         `json:"source" dynamodbav:"source"`
	TargetEnvironment string         `json:"target" dynamodbav:"target"`
	Environment       string         `json:"environment" dynamodbav:"environment"`
	CorrelationID     string         `json:"correlationId" dynamodbav:"correlationId"`
	ExecutionDetails  map[string]any `json:"executionDetails" dynamodbav:"executionDetails"`
	UpdatedAt         time.Time      `json:"updatedAt" dynamodbav:"updatedAt"`
}

// MergeDetails folds delta into the record's execution details without
// discarding entries recorded by earlier phases. Keys collide per-phase,
// last write wins; the map is never replaced wholesale.
func (r *Record) MergeDetails(delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	if r.ExecutionDetails == nil {
		r.ExecutionDetails = make(map[string]any, len(delta))
	}
	for k, v := range delta {
		r.ExecutionDetails[k] = v
	}
}
