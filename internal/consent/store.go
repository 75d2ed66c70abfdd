package consent

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/finflow/openfinance-engine/internal/aws"
)

// DynamoLookup reads the consent projection table maintained by the consent
// context. The engine only ever issues GetItem against it.
type DynamoLookup struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewDynamoLookup returns a Lookup backed by the consent projection table.
func NewDynamoLookup(client aws.DynamoDBAPI, tableName string) *DynamoLookup {
	return &DynamoLookup{client: client, tableName: tableName}
}

// Get fetches a consent by id. Returns (nil, nil) if not found.
func (l *DynamoLookup) Get(ctx context.Context, consentID string) (*Record, error) {
	out, err := l.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &l.tableName,
		Key: map[string]types.AttributeValue{
			"consent_id": &types.AttributeValueMemberS{Value: consentID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get consent: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal consent: %w", err)
	}
	return &rec, nil
}
