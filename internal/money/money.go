// Package money wraps shopspring/decimal so monetary values round-trip
// DynamoDB Number attributes losslessly. JSON encoding is the quoted-string
// form ("1050.25"), never a float.
package money

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// Amount is a precise decimal amount (or FX rate).
type Amount struct {
	decimal.Decimal
}

// FromDecimal wraps a decimal.
func FromDecimal(d decimal.Decimal) Amount {
	return Amount{Decimal: d}
}

// FromString parses a decimal string ("1050.25").
func FromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Amount{Decimal: d}, nil
}

// Zero is the zero amount.
func Zero() Amount {
	return Amount{Decimal: decimal.Zero}
}

// MarshalDynamoDBAttributeValue stores the amount as a Number attribute so
// DynamoDB arithmetic (ADD, numeric comparisons) works on it.
func (a Amount) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: a.String()}, nil
}

// UnmarshalDynamoDBAttributeValue accepts Number or String attributes.
func (a *Amount) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	var raw string
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		raw = v.Value
	case *types.AttributeValueMemberS:
		raw = v.Value
	default:
		return fmt.Errorf("unexpected attribute type %T for amount", av)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("parse stored amount %q: %w", raw, err)
	}
	a.Decimal = d
	return nil
}
