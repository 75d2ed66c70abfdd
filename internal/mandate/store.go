package mandate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/finflow/openfinance-engine/internal/aws"
	"github.com/finflow/openfinance-engine/internal/money"
)

// ErrConditionFailed indicates a conditional write failed (mandate exists,
// not active, or cumulative headroom exhausted).
var ErrConditionFailed = errors.New("conditional check failed")

// Store persists mandates and their payments.
type Store struct {
	client       aws.DynamoDBAPI
	mandateTable string
	paymentTable string
	nowFunc      func() time.Time
}

// NewStore returns a configured Store.
func NewStore(client aws.DynamoDBAPI, mandateTable, paymentTable string) *Store {
	return &Store{
		client:       client,
		mandateTable: mandateTable,
		paymentTable: paymentTable,
		nowFunc:      time.Now,
	}
}

// Create registers a mandate. One mandate per consent; a duplicate create
// returns ErrConditionFailed so registration is naturally idempotent.
func (s *Store) Create(ctx context.Context, m *Mandate) error {
	item, err := attributevalue.MarshalMap(m)
	if err != nil {
		return fmt.Errorf("marshal mandate: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.mandateTable,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(consent_id)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("put mandate: %w", err)
	}
	return nil
}

// Get fetches a mandate by consent id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, consentID string) (*Mandate, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.mandateTable,
		Key: map[string]types.AttributeValue{
			"consent_id": &types.AttributeValueMemberS{Value: consentID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get mandate: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var m Mandate
	if err := attributevalue.UnmarshalMap(out.Item, &m); err != nil {
		return nil, fmt.Errorf("unmarshal mandate: %w", err)
	}
	return &m, nil
}

// ConsumeWithPayment adds amount to cumulative_consumed and records the
// payment in a single transaction, provided the mandate is still active and
// the pre-increment total does not exceed headroom. Pairing the increment
// with the payment put means a failure can never leave headroom consumed
// without a payment to show for it. Limits are immutable once the mandate
// exists, so headroom computed from a prior read is safe to pass in; the
// read-modify-write itself is linearized by DynamoDB, never by the caller.
func (s *Store) ConsumeWithPayment(ctx context.Context, consentID string, amount, headroom money.Amount, nowUnix int64, p *Payment) error {
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal payment: %w", err)
	}
	now := s.nowFunc()
	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName: &s.mandateTable,
					Key: map[string]types.AttributeValue{
						"consent_id": &types.AttributeValueMemberS{Value: consentID},
					},
					UpdateExpression:         awsString("SET cumulative_consumed = cumulative_consumed + :amt, updated_at = :ua"),
					ExpressionAttributeNames: map[string]string{"#s": "status"},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":amt":      &types.AttributeValueMemberN{Value: amount.String()},
						":headroom": &types.AttributeValueMemberN{Value: headroom.String()},
						":active":   &types.AttributeValueMemberS{Value: StatusActive},
						":now":      &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", nowUnix)},
						":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
					},
					ConditionExpression: awsString("#s = :active AND expires_at > :now AND cumulative_consumed <= :headroom"),
				},
			},
			{
				Put: &types.Put{
					TableName:           &s.paymentTable,
					Item:                item,
					ConditionExpression: awsString("attribute_not_exists(payment_id)"),
				},
			},
		},
	})
	if err != nil {
		if isConditionalFailure(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("consume mandate with payment: %w", err)
	}
	return nil
}

// Revoke terminally revokes an active mandate. Revoking an already-revoked
// mandate is a no-op condition failure surfaced as ErrConditionFailed.
func (s *Store) Revoke(ctx context.Context, consentID string) error {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.mandateTable,
		Key: map[string]types.AttributeValue{
			"consent_id": &types.AttributeValueMemberS{Value: consentID},
		},
		UpdateExpression:         awsString("SET #s = :revoked, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":revoked": &types.AttributeValueMemberS{Value: StatusRevoked},
			":active":  &types.AttributeValueMemberS{Value: StatusActive},
			":ua":      &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ConditionExpression: awsString("#s = :active"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("revoke mandate: %w", err)
	}
	return nil
}

// GetPayment fetches a payment by id. Returns (nil, nil) if not found.
func (s *Store) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.paymentTable,
		Key: map[string]types.AttributeValue{
			"payment_id": &types.AttributeValueMemberS{Value: paymentID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Payment
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal payment: %w", err)
	}
	return &p, nil
}

func isConditionalFailure(err error) bool {
	var cc *types.ConditionalCheckFailedException
	if errors.As(err, &cc) {
		return true
	}
	var tc *types.TransactionCanceledException
	if errors.As(err, &tc) {
		for _, r := range tc.CancellationReasons {
			if r.Code != nil && *r.Code == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}

func awsString(s string) *string { return &s }
