package mandate

import (
	"context"
	"errors"
	"strconv"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// mockDynamo reproduces the conditional writes the mandate store issues:
// create-if-absent, the guarded cumulative increment, and the ACTIVE-only
// revoke. Numeric attributes are evaluated with decimal arithmetic, as
// DynamoDB would.
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
			"vrp-mandates": {},
			"vrp-payments": {},
		},
	}
}

func pkFor(table string) string {
	if table == "vrp-payments" {
		return "payment_id"
	}
	return "consent_id"
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := *params.TableName
	pk := pkFor(table)
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
	keyAttr := params.Key[pkFor(table)].(*types.AttributeValueMemberS)
	item, ok := m.tables[table][keyAttr.Value]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func numAttr(item map[string]types.AttributeValue, name string) decimal.Decimal {
	return decimal.RequireFromString(item[name].(*types.AttributeValueMemberN).Value)
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := *params.TableName
	keyAttr := params.Key["consent_id"].(*types.AttributeValueMemberS)
	item, ok := m.tables[table][keyAttr.Value]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}

	status := item["status"].(*types.AttributeValueMemberS).Value
	if status != StatusActive {
		return nil, &types.ConditionalCheckFailedException{}
	}

	if v, isRevoke := params.ExpressionAttributeValues[":revoked"]; isRevoke {
		item["status"] = v
	}

	if v, ok := params.ExpressionAttributeValues[":ua"]; ok {
		item["updated_at"] = v
	}
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

// TransactWriteItems emulates the consume+payment transaction: the guarded
// cumulative increment and the write-once payment put land together or not
// at all.
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
			item, ok := m.tables[*u.TableName][u.Key["consent_id"].(*types.AttributeValueMemberS).Value]
			if !ok || item["status"].(*types.AttributeValueMemberS).Value != StatusActive {
				return nil, canceledTransact()
			}
			nowVal, _ := strconv.ParseInt(u.ExpressionAttributeValues[":now"].(*types.AttributeValueMemberN).Value, 10, 64)
			expires, _ := strconv.ParseInt(item["expires_at"].(*types.AttributeValueMemberN).Value, 10, 64)
			if expires <= nowVal {
				return nil, canceledTransact()
			}
			headroom := decimal.RequireFromString(u.ExpressionAttributeValues[":headroom"].(*types.AttributeValueMemberN).Value)
			if numAttr(item, "cumulative_consumed").GreaterThan(headroom) {
				return nil, canceledTransact()
			}
		case tw.Put != nil:
			table := *tw.Put.TableName
			keyAttr := tw.Put.Item[pkFor(table)].(*types.AttributeValueMemberS)
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
			item := m.tables[*u.TableName][u.Key["consent_id"].(*types.AttributeValueMemberS).Value]
			amt := decimal.RequireFromString(u.ExpressionAttributeValues[":amt"].(*types.AttributeValueMemberN).Value)
			item["cumulative_consumed"] = &types.AttributeValueMemberN{Value: numAttr(item, "cumulative_consumed").Add(amt).String()}
			item["updated_at"] = u.ExpressionAttributeValues[":ua"]
		case tw.Put != nil:
			table := *tw.Put.TableName
			m.tables[table][tw.Put.Item[pkFor(table)].(*types.AttributeValueMemberS).Value] = tw.Put.Item
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}
