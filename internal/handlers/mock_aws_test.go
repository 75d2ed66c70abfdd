package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// mockDynamo is a multi-table in-memory DynamoDB good enough for the
// conditional expressions the stores use: attribute_not_exists puts (with
// the expiry escape hatch), equality/comparison guards, and SET updates
// including the additive increment form.
type mockDynamo struct {
	mu     sync.Mutex
	pks    map[string]string
	tables map[string]map[string]map[string]types.AttributeValue
}

func newMockDynamo(pks map[string]string) *mockDynamo {
	tables := make(map[string]map[string]map[string]types.AttributeValue, len(pks))
	for table := range pks {
		tables[table] = map[string]map[string]types.AttributeValue{}
	}
	return &mockDynamo{pks: pks, tables: tables}
}

func (m *mockDynamo) seed(table, key string, item map[string]types.AttributeValue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table][key] = item
}

func (m *mockDynamo) count(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[table])
}

func (m *mockDynamo) keyOf(table string, attrs map[string]types.AttributeValue) (string, error) {
	pk, ok := m.pks[table]
	if !ok {
		return "", fmt.Errorf("unknown table %s", table)
	}
	attr, ok := attrs[pk].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("missing pk %s for table %s", pk, table)
	}
	return attr.Value, nil
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := *params.TableName
	key, err := m.keyOf(table, params.Item)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil {
		existing, exists := m.tables[table][key]
		if exists && !conditionHolds(*params.ConditionExpression, existing, params.ExpressionAttributeNames, params.ExpressionAttributeValues, true) {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.tables[table][key] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := *params.TableName
	key, err := m.keyOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.tables[table][key]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := *params.TableName
	key, err := m.keyOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.tables[table][key]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	if params.ConditionExpression != nil {
		if !conditionHolds(*params.ConditionExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues, false) {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	applySet(*params.UpdateExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	m.tables[table][key] = item
	return &dyn.UpdateItemOutput{}, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := *params.TableName
	key, err := m.keyOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	delete(m.tables[table], key)
	return &dyn.DeleteItemOutput{}, nil
}

// TransactWriteItems checks every item's condition first and applies all
// writes only when each one holds, mirroring the all-or-nothing semantics
// relied on by the booking and mandate-consume transactions.
func (m *mockDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tw := range params.TransactItems {
		switch {
		case tw.Update != nil:
			u := tw.Update
			key, err := m.keyOf(*u.TableName, u.Key)
			if err != nil {
				return nil, err
			}
			item, ok := m.tables[*u.TableName][key]
			if !ok {
				return nil, canceledTransact()
			}
			if u.ConditionExpression != nil && !conditionHolds(*u.ConditionExpression, item, u.ExpressionAttributeNames, u.ExpressionAttributeValues, false) {
				return nil, canceledTransact()
			}
		case tw.Put != nil:
			p := tw.Put
			key, err := m.keyOf(*p.TableName, p.Item)
			if err != nil {
				return nil, err
			}
			existing, exists := m.tables[*p.TableName][key]
			if p.ConditionExpression != nil && exists && !conditionHolds(*p.ConditionExpression, existing, p.ExpressionAttributeNames, p.ExpressionAttributeValues, true) {
				return nil, canceledTransact()
			}
		}
	}

	for _, tw := range params.TransactItems {
		switch {
		case tw.Update != nil:
			u := tw.Update
			key, _ := m.keyOf(*u.TableName, u.Key)
			item := m.tables[*u.TableName][key]
			applySet(*u.UpdateExpression, item, u.ExpressionAttributeNames, u.ExpressionAttributeValues)
			m.tables[*u.TableName][key] = item
		case tw.Put != nil:
			key, _ := m.keyOf(*tw.Put.TableName, tw.Put.Item)
			m.tables[*tw.Put.TableName][key] = tw.Put.Item
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func canceledTransact() error {
	code := "ConditionalCheckFailed"
	return &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{{Code: &code}},
	}
}

// conditionHolds evaluates an AND-joined condition expression against an
// existing item. itemExists is true for PutItem paths where the clause
// attribute_not_exists(pk) refers to the whole item.
func conditionHolds(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue, itemExists bool) bool {
	// "attribute_not_exists(pk) OR expires_at <= :now": the record may be
	// overwritten once expired.
	if strings.Contains(expr, " OR ") {
		for _, branch := range strings.Split(expr, " OR ") {
			if conditionHolds(strings.TrimSpace(branch), item, names, values, itemExists) {
				return true
			}
		}
		return false
	}
	for _, clause := range strings.Split(expr, " AND ") {
		clause = strings.TrimSpace(clause)
		if strings.HasPrefix(clause, "attribute_not_exists(") {
			if itemExists || len(item) > 0 {
				return false
			}
			continue
		}
		if !clauseHolds(clause, item, names, values) {
			return false
		}
	}
	return true
}

func clauseHolds(clause string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) bool {
	for _, op := range []string{"<=", ">=", "=", "<", ">"} {
		idx := strings.Index(clause, " "+op+" ")
		if idx < 0 {
			continue
		}
		name := strings.TrimSpace(clause[:idx])
		if resolved, ok := names[name]; ok {
			name = resolved
		}
		valRef := strings.TrimSpace(clause[idx+len(op)+2:])
		want, ok := values[valRef]
		if !ok {
			return false
		}
		have, ok := item[name]
		if !ok {
			return false
		}
		return compare(have, want, op)
	}
	return false
}

func compare(have, want types.AttributeValue, op string) bool {
	if hs, ok := have.(*types.AttributeValueMemberS); ok {
		ws, ok := want.(*types.AttributeValueMemberS)
		if !ok {
			return false
		}
		return op == "=" && hs.Value == ws.Value
	}
	hn, hok := have.(*types.AttributeValueMemberN)
	wn, wok := want.(*types.AttributeValueMemberN)
	if !hok || !wok {
		return false
	}
	h, _ := strconv.ParseFloat(hn.Value, 64)
	w, _ := strconv.ParseFloat(wn.Value, 64)
	switch op {
	case "=":
		return h == w
	case "<=":
		return h <= w
	case ">=":
		return h >= w
	case "<":
		return h < w
	case ">":
		return h > w
	}
	return false
}

// applySet executes "SET a = :x, b = b + :y, ..." against the item.
func applySet(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) {
	expr = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(expr), "SET"))
	for _, assignment := range strings.Split(expr, ",") {
		parts := strings.SplitN(assignment, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		if resolved, ok := names[name]; ok {
			name = resolved
		}
		rhs := strings.TrimSpace(parts[1])
		if plus := strings.Index(rhs, "+"); plus >= 0 {
			// additive increment: attr + :val
			addRef := strings.TrimSpace(rhs[plus+1:])
			base, _ := item[name].(*types.AttributeValueMemberN)
			add, _ := values[addRef].(*types.AttributeValueMemberN)
			if base == nil || add == nil {
				continue
			}
			b, _ := strconv.ParseFloat(base.Value, 64)
			a, _ := strconv.ParseFloat(add.Value, 64)
			item[name] = &types.AttributeValueMemberN{Value: strconv.FormatFloat(b+a, 'f', -1, 64)}
			continue
		}
		if val, ok := values[rhs]; ok {
			item[name] = val
		}
	}
}

// mockSQS records every sent message.
type mockSQS struct {
	mu   sync.Mutex
	sent []*sqs.SendMessageInput
}

func (m *mockSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if params.MessageBody == nil {
		return nil, errors.New("missing message body")
	}
	m.sent = append(m.sent, params)
	return &sqs.SendMessageOutput{}, nil
}

func (m *mockSQS) messageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}
