package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/finflow/openfinance-engine/internal/aws"
)

// Ledger encapsulates idempotency operations against DynamoDB.
//
// Per-key serialization relies on a single conditional PutItem: exactly one
// concurrent caller creates the IN_PROGRESS record and observes OutcomeNew;
// everyone else reads the existing record. An expired record is logically
// dead and may be overwritten by the next caller; the DynamoDB TTL on
// expires_at only reclaims storage, it is never a correctness mechanism.
type Ledger struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // default TTL window when creating entries
	nowFunc   func() time.Time
}

// NewLedger returns a configured Ledger.
// tableName: DynamoDB table name for idempotency records.
// ttlWindow: default TTL window (e.g., 24*time.Hour)
func NewLedger(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Ledger {
	return &Ledger{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// HashPayload computes the request hash the ledger compares on replay:
// base64url-encoded (unpadded) SHA-256 of the raw request body. The engine
// always hashes the payload itself; client-declared hashes are never trusted
// for conflict detection.
func HashPayload(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func recordKey(tppID, key string) string {
	return tppID + "#" + key
}

// BeginOrReplay claims the execution slot for (tppID, key) or classifies the
// existing record.
//
//   - OutcomeNew: slot claimed; caller must execute and then Complete (or
//     Release if execution failed without side effects).
//   - OutcomeReplay: Stored holds the completed record; return it verbatim.
//   - OutcomeConflict: same key, different request hash.
//   - OutcomeInProgress: another caller is still executing.
func (l *Ledger) BeginOrReplay(ctx context.Context, tppID, key, requestHash string) (BeginResult, error) {
	now := l.nowFunc()
	rec := Record{
		RecordKey:      recordKey(tppID, key),
		TppID:          tppID,
		IdempotencyKey: key,
		RequestHash:    requestHash,
		Status:         StatusInProgress,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(l.ttlWindow).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return BeginResult{}, fmt.Errorf("marshal record: %w", err)
	}

	// Create only when no record exists or the existing one has expired.
	input := &dyn.PutItemInput{
		TableName:           &l.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(record_key) OR expires_at <= :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())},
		},
	}

	_, err = l.client.PutItem(ctx, input)
	if err == nil {
		return BeginResult{Outcome: OutcomeNew}, nil
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "ConditionalCheckFailedException" {
		return BeginResult{}, fmt.Errorf("put record: %w", err)
	}

	// A live record exists; classify it.
	stored, err := l.Get(ctx, tppID, key)
	if err != nil {
		return BeginResult{}, err
	}
	if stored == nil {
		// Record vanished between the conditional failure and the read
		// (TTL reclaim). Treat as a transient miss; caller retries.
		return BeginResult{}, fmt.Errorf("record for %s disappeared during begin", recordKey(tppID, key))
	}
	if stored.RequestHash != requestHash {
		return BeginResult{Outcome: OutcomeConflict, Stored: stored}, nil
	}
	if stored.Status == StatusDone {
		return BeginResult{Outcome: OutcomeReplay, Stored: stored}, nil
	}
	return BeginResult{Outcome: OutcomeInProgress, Stored: stored}, nil
}

// Get retrieves a ledger record. Returns (nil, nil) when absent or expired.
func (l *Ledger) Get(ctx context.Context, tppID, key string) (*Record, error) {
	input := &dyn.GetItemInput{
		TableName: &l.tableName,
		Key: map[string]types.AttributeValue{
			"record_key": &types.AttributeValueMemberS{Value: recordKey(tppID, key)},
		},
	}
	out, err := l.client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	if rec.ExpiresAt <= l.nowFunc().Unix() {
		// Expired records must not drive replay decisions.
		return nil, nil
	}
	return &rec, nil
}

// Complete records the outcome of a successful first execution. The stored
// body and status are returned verbatim to replayed requests.
func (l *Ledger) Complete(ctx context.Context, tppID, key, resultRef, responseBody string, responseStatus int) error {
	now := l.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &l.tableName,
		Key: map[string]types.AttributeValue{
			"record_key": &types.AttributeValueMemberS{Value: recordKey(tppID, key)},
		},
		UpdateExpression: awsString("SET #s = :done, result_ref = :ref, response_body = :rb, response_status = :rs, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done": &types.AttributeValueMemberS{Value: StatusDone},
			":ref":  &types.AttributeValueMemberS{Value: resultRef},
			":rb":   &types.AttributeValueMemberS{Value: responseBody},
			":rs":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", responseStatus)},
			":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	}
	_, err := l.client.UpdateItem(ctx, input)
	if err != nil {
		return fmt.Errorf("update record (complete): %w", err)
	}
	return nil
}

// Release frees the execution slot after a failed execution that produced no
// side effects, so the client may retry with the same key.
func (l *Ledger) Release(ctx context.Context, tppID, key string) error {
	input := &dyn.DeleteItemInput{
		TableName: &l.tableName,
		Key: map[string]types.AttributeValue{
			"record_key": &types.AttributeValueMemberS{Value: recordKey(tppID, key)},
		},
	}
	_, err := l.client.DeleteItem(ctx, input)
	if err != nil {
		return fmt.Errorf("delete record (release): %w", err)
	}
	return nil
}

// Helper
func awsString(s string) *string { return &s }
