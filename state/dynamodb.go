package state

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	migration "github.com/girishfury/migration"
)

// waveIndexName is the GSI keyed by wave for operational queries.
const waveIndexName = "waveIndex"

// DynamoDBClient defines the DynamoDB operations used by the store.
type DynamoDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoDBStore implements Store on a DynamoDB table keyed by migrationId,
// with a waveIndex GSI for wave queries.
type DynamoDBStore struct {
	client DynamoDBClient
	table  string
	now    func() time.Time
}

// NewDynamoDBStore creates a store using clients built from cfg.
func NewDynamoDBStore(cfg aws.Config, table string) *DynamoDBStore {
	return NewDynamoDBStoreWithClient(dynamodb.NewFromConfig(cfg), table)
}

// NewDynamoDBStoreWithClient creates a store with a custom client.
func NewDynamoDBStoreWithClient(client DynamoDBClient, table string) *DynamoDBStore {
	return &DynamoDBStore{client: client, table: table, now: time.Now}
}

func (s *DynamoDBStore) Save(ctx context.Context, rec migration.Record) error {
	rec.UpdatedAt = s.now().UTC()
	if rec.Status == "" {
		rec.Status = migration.StatusPending
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("state: marshal record %q: %w", rec.MigrationID, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("state: put record %q: %w", rec.MigrationID, err)
	}
	return nil
}

func (s *DynamoDBStore) Get(ctx context.Context, migrationID string) (migration.Record, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]dbtypes.AttributeValue{
			"migrationId": &dbtypes.AttributeValueMemberS{Value: migrationID},
		},
	})
	if err != nil {
		return migration.Record{}, fmt.Errorf("state: get record %q: %w", migrationID, err)
	}
	if out.Item == nil {
		return migration.Record{}, fmt.Errorf("state: record %q: %w", migrationID, ErrNotFound)
	}
	var rec migration.Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return migration.Record{}, fmt.Errorf("state: unmarshal record %q: %w", migrationID, err)
	}
	return rec, nil
}

func (s *DynamoDBStore) UpdateStatus(ctx context.Context, migrationID string, status migration.Status, detailsDelta map[string]any) (migration.Record, error) {
	rec, err := s.Get(ctx, migrationID)
	if err != nil {
		return migration.Record{}, err
	}

	// Redelivered or out-of-order events must not regress the record.
	if rec.Status != status && !rec.Status.Before(status) {
		return rec, nil
	}

	rec.Status = status
	rec.MergeDetails(detailsDelta)
	rec.UpdatedAt = s.now().UTC()

	details, err := attributevalue.Marshal(rec.ExecutionDetails)
	if err != nil {
		return migration.Record{}, fmt.Errorf("state: marshal details %q: %w", migrationID, err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]dbtypes.AttributeValue{
			"migrationId": &dbtypes.AttributeValueMemberS{Value: migrationID},
		},
		UpdateExpression:         aws.String("SET #status = :status, updatedAt = :updatedAt, executionDetails = :details"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":status":    &dbtypes.AttributeValueMemberS{Value: string(status)},
			":updatedAt": &dbtypes.AttributeValueMemberS{Value: rec.UpdatedAt.Format(time.RFC3339Nano)},
			":details":   details,
		},
	})
	if err != nil {
		return migration.Record{}, fmt.Errorf("state: update record %q: %w", migrationID, err)
	}
	return rec, nil
}

func (s *DynamoDBStore) QueryByWave(ctx context.Context, wave string) ([]migration.Record, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(waveIndexName),
		KeyConditionExpression: aws.String("wave = :wave"),
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":wave": &dbtypes.AttributeValueMemberS{Value: wave},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("state: query wave %q: %w", wave, err)
	}
	return unmarshalRecords(out.Items)
}

func (s *DynamoDBStore) QueryByStatus(ctx context.Context, status migration.Status) ([]migration.Record, error) {
	out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:                aws.String(s.table),
		FilterExpression:         aws.String("#status = :status"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":status": &dbtypes.AttributeValueMemberS{Value: string(status)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("state: scan status %q: %w", status, err)
	}
	return unmarshalRecords(out.Items)
}

func (s *DynamoDBStore) QueryByAppAndStatus(ctx context.Context, appName string, status migration.Status) ([]migration.Record, error) {
	out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:                aws.String(s.table),
		FilterExpression:         aws.String("appName = :app AND #status = :status"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":app":    &dbtypes.AttributeValueMemberS{Value: appName},
			":status": &dbtypes.AttributeValueMemberS{Value: string(status)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("state: scan app %q status %q: %w", appName, status, err)
	}
	return unmarshalRecords(out.Items)
}

func unmarshalRecords(items []map[string]dbtypes.AttributeValue) ([]migration.Record, error) {
	recs := make([]migration.Record, 0, len(items))
	for _, item := range items {
		var rec migration.Record
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return nil, fmt.Errorf("state: unmarshal record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

var _ Store = (*DynamoDBStore)(nil)
