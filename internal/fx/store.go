package fx

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

// ErrConditionFailed indicates a conditional write lost (version CAS or
// duplicate create).
var ErrConditionFailed = errors.New("conditional check failed")

// QuoteStore persists quotes and performs the version-checked booking CAS.
type QuoteStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewQuoteStore creates a quote Store.
func NewQuoteStore(client aws.DynamoDBAPI, tableName string) *QuoteStore {
	return &QuoteStore{client: client, tableName: tableName, nowFunc: time.Now}
}

// Create persists a fresh quote; quote ids never collide so a duplicate is a bug.
func (s *QuoteStore) Create(ctx context.Context, q *Quote) error {
	item, err := attributevalue.MarshalMap(q)
	if err != nil {
		return fmt.Errorf("marshal quote: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(quote_id)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("put quote: %w", err)
	}
	return nil
}

// Get fetches a quote. Returns (nil, nil) if not found.
func (s *QuoteStore) Get(ctx context.Context, quoteID string) (*Quote, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"quote_id": &types.AttributeValueMemberS{Value: quoteID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get quote: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var q Quote
	if err := attributevalue.UnmarshalMap(out.Item, &q); err != nil {
		return nil, fmt.Errorf("unmarshal quote: %w", err)
	}
	return &q, nil
}

// BookWithDeal performs the QUOTED->BOOKED compare-and-swap at version
// expectedVersion and creates the deal in the same transaction, so a BOOKED
// quote can never exist without its deal. The condition re-checks validity so
// a quote cannot be booked after its deadline even if the caller's clock read
// was stale. Returns ErrConditionFailed when another booking won or the
// quote lapsed.
func (s *QuoteStore) BookWithDeal(ctx context.Context, quoteID string, expectedVersion, nowMillis int64, dealTable string, d *Deal) error {
	item, err := attributevalue.MarshalMap(d)
	if err != nil {
		return fmt.Errorf("marshal deal: %w", err)
	}
	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName: &s.tableName,
					Key: map[string]types.AttributeValue{
						"quote_id": &types.AttributeValueMemberS{Value: quoteID},
					},
					UpdateExpression:         awsString("SET #s = :new, version = :nv"),
					ExpressionAttributeNames: map[string]string{"#s": "status"},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":quoted": &types.AttributeValueMemberS{Value: StatusQuoted},
						":new":    &types.AttributeValueMemberS{Value: StatusBooked},
						":v":      &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expectedVersion)},
						":nv":     &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expectedVersion+1)},
						":now":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", nowMillis)},
					},
					ConditionExpression: awsString("#s = :quoted AND version = :v AND valid_until >= :now"),
				},
			},
			{
				Put: &types.Put{
					TableName:           &dealTable,
					Item:                item,
					ConditionExpression: awsString("attribute_not_exists(deal_id)"),
				},
			},
		},
	})
	if err != nil {
		if isConditionalFailure(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("book quote with deal: %w", err)
	}
	return nil
}

// MarkExpired lazily flips a stale quote to EXPIRED. Losing the CAS here is
// fine; some other writer already finalized the quote.
func (s *QuoteStore) MarkExpired(ctx context.Context, quoteID string, expectedVersion int64) error {
	return s.transition(ctx, quoteID, expectedVersion, StatusExpired,
		"#s = :quoted AND version = :v", nil)
}

func (s *QuoteStore) transition(ctx context.Context, quoteID string, expectedVersion int64, newStatus, condition string, extraValues map[string]types.AttributeValue) error {
	values := map[string]types.AttributeValue{
		":quoted": &types.AttributeValueMemberS{Value: StatusQuoted},
		":new":    &types.AttributeValueMemberS{Value: newStatus},
		":v":      &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expectedVersion)},
		":nv":     &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expectedVersion+1)},
	}
	for k, v := range extraValues {
		values[k] = v
	}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"quote_id": &types.AttributeValueMemberS{Value: quoteID},
		},
		UpdateExpression:          awsString("SET #s = :new, version = :nv"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
		ConditionExpression:       &condition,
	})
	if err != nil {
		if isConditionalFailure(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("update quote status: %w", err)
	}
	return nil
}

// DealStore reads booked deals; the deal write happens inside
// QuoteStore.BookWithDeal so it can share the booking transaction.
type DealStore struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewDealStore creates a deal Store.
func NewDealStore(client aws.DynamoDBAPI, tableName string) *DealStore {
	return &DealStore{client: client, tableName: tableName}
}

// Get fetches a deal. Returns (nil, nil) if not found.
func (s *DealStore) Get(ctx context.Context, dealID string) (*Deal, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"deal_id": &types.AttributeValueMemberS{Value: dealID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get deal: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var d Deal
	if err := attributevalue.UnmarshalMap(out.Item, &d); err != nil {
		return nil, fmt.Errorf("unmarshal deal: %w", err)
	}
	return &d, nil
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
