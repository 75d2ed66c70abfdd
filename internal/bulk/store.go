package bulk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/finflow/openfinance-engine/internal/aws"
)

// ErrStatusMismatch signals a lost PROCESSING->terminal transition (a
// competing worker already finalized the file).
var ErrStatusMismatch = errors.New("file status transition lost")

// FileStore persists bulk file submissions.
type FileStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewFileStore creates a file Store.
func NewFileStore(client aws.DynamoDBAPI, tableName string) *FileStore {
	return &FileStore{client: client, tableName: tableName, nowFunc: time.Now}
}

// Create persists a newly accepted submission (status PROCESSING).
func (s *FileStore) Create(ctx context.Context, f *File) error {
	item, err := attributevalue.MarshalMap(f)
	if err != nil {
		return fmt.Errorf("marshal file: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(file_id)"),
	})
	if err != nil {
		return fmt.Errorf("put file: %w", err)
	}
	return nil
}

// Get fetches a file. Returns (nil, nil) if not found.
func (s *FileStore) Get(ctx context.Context, fileID string) (*File, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"file_id": &types.AttributeValueMemberS{Value: fileID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var f File
	if err := attributevalue.UnmarshalMap(out.Item, &f); err != nil {
		return nil, fmt.Errorf("unmarshal file: %w", err)
	}
	return &f, nil
}

// Finish transitions the file PROCESSING -> terminal exactly once, recording
// the final counts. A duplicate worker loses the conditional update and gets
// ErrStatusMismatch.
func (s *FileStore) Finish(ctx context.Context, fileID string, p *Partitioned, failureReason string) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"file_id": &types.AttributeValueMemberS{Value: fileID},
		},
		UpdateExpression:         awsString("SET #s = :new, total_count = :tc, accepted_count = :ac, rejected_count = :rc, failure_reason = :fr, completed_at = :ca"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":        &types.AttributeValueMemberS{Value: p.Status},
			":tc":         &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", len(p.Items))},
			":ac":         &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", p.AcceptedCount)},
			":rc":         &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", p.RejectedCount)},
			":fr":         &types.AttributeValueMemberS{Value: failureReason},
			":ca":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			":processing": &types.AttributeValueMemberS{Value: StatusProcessing},
		},
		ConditionExpression: awsString("#s = :processing"),
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("finish file: %w", err)
	}
	return nil
}

// ReportStore persists immutable processing reports.
type ReportStore struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewReportStore creates a report Store.
func NewReportStore(client aws.DynamoDBAPI, tableName string) *ReportStore {
	return &ReportStore{client: client, tableName: tableName}
}

// Create writes the report exactly once; a duplicate write is silently
// ignored because the first report is authoritative and immutable.
func (s *ReportStore) Create(ctx context.Context, r *Report) error {
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(file_id)"),
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return nil
		}
		return fmt.Errorf("put report: %w", err)
	}
	return nil
}

// Get fetches a report. Returns (nil, nil) while processing is unfinished.
func (s *ReportStore) Get(ctx context.Context, fileID string) (*Report, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"file_id": &types.AttributeValueMemberS{Value: fileID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var r Report
	if err := attributevalue.UnmarshalMap(out.Item, &r); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &r, nil
}

func awsString(s string) *string { return &s }
