package fx

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo keeps quotes and deals in separate in-memory tables and
// reproduces the two conditional writes the stores rely on: create-if-absent
// puts and the status+version(+validity) guarded update.
type mockDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue

	// transactErr, when set, is returned by the next TransactWriteItems
	// call and then cleared. No writes are applied for that call.
	transactErr error
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{
		tables: map[string]map[string]map[string]types.AttributeValue{
			"fx-quotes": {},
			"fx-deals":  {},
		},
	}
}

func pkName(table string) string {
	if table == "fx-deals" {
		return "deal_id"
	}
	return "quote_id"
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := *params.TableName
	pk := pkName(table)
	keyAttr, ok := params.Item[pk].(*types.AttributeValueMemberS)
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
	pk := pkName(table)
	keyAttr := params.Key[pk].(*types.AttributeValueMemberS)
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
	keyAttr := params.Key["quote_id"].(*types.AttributeValueMemberS)
	item, ok := m.tables[table][keyAttr.Value]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}

	// evaluate the transition guard
	status := item["status"].(*types.AttributeValueMemberS).Value
	version, _ := strconv.ParseInt(item["version"].(*types.AttributeValueMemberN).Value, 10, 64)
	wantStatus := params.ExpressionAttributeValues[":quoted"].(*types.AttributeValueMemberS).Value
	wantVersion, _ := strconv.ParseInt(params.ExpressionAttributeValues[":v"].(*types.AttributeValueMemberN).Value, 10, 64)
	if status != wantStatus || version != wantVersion {
		return nil, &types.ConditionalCheckFailedException{}
	}
	if strings.Contains(*params.ConditionExpression, "valid_until") {
		validUntil, _ := strconv.ParseInt(item["valid_until"].(*types.AttributeValueMemberN).Value, 10, 64)
		now, _ := strconv.ParseInt(params.ExpressionAttributeValues[":now"].(*types.AttributeValueMemberN).Value, 10, 64)
		if validUntil < now {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}

	item["status"] = params.ExpressionAttributeValues[":new"]
	item["version"] = params.ExpressionAttributeValues[":nv"]
	m.tables[table][keyAttr.Value] = item
	return &dyn.UpdateItemOutput{}, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	return &dyn.DeleteItemOutput{}, nil
}

func canceledTransact() error {
	code := "ConditionalCheckFailed"
	return &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{{Code: &code}},
	}
}

// TransactWriteItems emulates the booking transaction: the guarded
// QUOTED->BOOKED update and the write-once deal put land together or not at
// all.
func (m *mockDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.transactErr != nil {
		err := m.transactErr
		m.transactErr = nil
		return nil, err
	}

	// check every condition before applying any write
	for _, tw := range params.TransactItems {
		switch {
		case tw.Update != nil:
			u := tw.Update
			item, ok := m.tables[*u.TableName][u.Key["quote_id"].(*types.AttributeValueMemberS).Value]
			if !ok {
				return nil, canceledTransact()
			}
			status := item["status"].(*types.AttributeValueMemberS).Value
			version, _ := strconv.ParseInt(item["version"].(*types.AttributeValueMemberN).Value, 10, 64)
			wantStatus := u.ExpressionAttributeValues[":quoted"].(*types.AttributeValueMemberS).Value
			wantVersion, _ := strconv.ParseInt(u.ExpressionAttributeValues[":v"].(*types.AttributeValueMemberN).Value, 10, 64)
			if status != wantStatus || version != wantVersion {
				return nil, canceledTransact()
			}
			if strings.Contains(*u.ConditionExpression, "valid_until") {
				validUntil, _ := strconv.ParseInt(item["valid_until"].(*types.AttributeValueMemberN).Value, 10, 64)
				now, _ := strconv.ParseInt(u.ExpressionAttributeValues[":now"].(*types.AttributeValueMemberN).Value, 10, 64)
				if validUntil < now {
					return nil, canceledTransact()
				}
			}
		case tw.Put != nil:
			table := *tw.Put.TableName
			keyAttr := tw.Put.Item[pkName(table)].(*types.AttributeValueMemberS)
			if tw.Put.ConditionExpression != nil {
				if _, exists := m.tables[table][keyAttr.Value]; exists {
					return nil, canceledTransact()
				}
			}
		}
	}

	for _, tw := range params.TransactItems {
		switch {
		case tw.Update != nil:
			u := tw.Update
			item := m.tables[*u.TableName][u.Key["quote_id"].(*types.AttributeValueMemberS).Value]
			item["status"] = u.ExpressionAttributeValues[":new"]
			item["version"] = u.ExpressionAttributeValues[":nv"]
		case tw.Put != nil:
			table := *tw.Put.TableName
			m.tables[table][tw.Put.Item[pkName(table)].(*types.AttributeValueMemberS).Value] = tw.Put.Item
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}
