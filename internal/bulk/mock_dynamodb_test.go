package bulk

import (
	"context"
	"errors"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo keeps files and reports in memory and reproduces the two
// conditional writes the stores rely on: create-if-absent puts and the
// PROCESSING-guarded finish update.
type mockDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{
		tables: map[string]map[string]map[string]types.AttributeValue{
			"bulk-files":   {},
			"bulk-reports": {},
		},
	}
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := *params.TableName
	keyAttr, ok := params.Item["file_id"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("missing pk in put")
	}
	if params.ConditionExpression != nil {
		if _, exists := m.tables[table][keyAttr.Value]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.tables[table][keyAttr.Value] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := *params.TableName
	keyAttr := params.Key["file_id"].(*types.AttributeValueMemberS)
	item, ok := m.tables[table][keyAttr.Value]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := *params.TableName
	keyAttr := params.Key["file_id"].(*types.AttributeValueMemberS)
	item, ok := m.tables[table][keyAttr.Value]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}

	if strings.Contains(*params.ConditionExpression, ":processing") {
		status := item["status"].(*types.AttributeValueMemberS).Value
		want := params.ExpressionAttributeValues[":processing"].(*types.AttributeValueMemberS).Value
		if status != want {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}

	item["status"] = params.ExpressionAttributeValues[":new"]
	item["total_count"] = params.ExpressionAttributeValues[":tc"]
	item["accepted_count"] = params.ExpressionAttributeValues[":ac"]
	item["rejected_count"] = params.ExpressionAttributeValues[":rc"]
	item["failure_reason"] = params.ExpressionAttributeValues[":fr"]
	item["completed_at"] = params.ExpressionAttributeValues[":ca"]
	m.tables[table][keyAttr.Value] = item
	return &dyn.UpdateItemOutput{}, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	return &dyn.DeleteItemOutput{}, nil
}

// TransactWriteItems is unused by the bulk stores; present to satisfy the
// client interface.
func (m *mockDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	return &dyn.TransactWriteItemsOutput{}, nil
}
