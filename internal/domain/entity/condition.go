package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ConditionField names the expense attribute a condition inspects
type ConditionField string

const (
	FieldAmount        ConditionField = "amount"
	FieldCategory      ConditionField = "category"
	FieldSubmitterRole ConditionField = "submitter_role"
	FieldDate          ConditionField = "date"
	FieldVendor        ConditionField = "vendor"
	FieldPaymentMethod ConditionField = "payment_method"
)

// ValueKind is the type of data a field holds
type ValueKind int

const (
	KindUnknown ValueKind = iota
	KindNumber
	KindText
	KindDate
)

// Kind returns the value kind of the field
func (f ConditionField) Kind() ValueKind {
	switch f {
	case FieldAmount:
		return KindNumber
	case FieldCategory, FieldSubmitterRole, FieldVendor, FieldPaymentMethod:
		return KindText
	case FieldDate:
		return KindDate
	}
	return KindUnknown
}

// ConditionOperator is the comparison applied by a condition
type ConditionOperator string

const (
	OpGT         ConditionOperator = "gt"
	OpGTE        ConditionOperator = "gte"
	OpLT         ConditionOperator = "lt"
	OpLTE        ConditionOperator = "lte"
	OpEQ         ConditionOperator = "eq"
	OpNE         ConditionOperator = "ne"
	OpIn         ConditionOperator = "in"
	OpNotIn      ConditionOperator = "not_in"
	OpContains   ConditionOperator = "contains"
	OpStartsWith ConditionOperator = "starts_with"
)

// IsValid reports whether op is a known operator
func (op ConditionOperator) IsValid() bool {
	switch op {
	case OpGT, OpGTE, OpLT, OpLTE, OpEQ, OpNE, OpIn, OpNotIn, OpContains, OpStartsWith:
		return true
	}
	return false
}

// IsSet reports whether op expects a set value
func (op ConditionOperator) IsSet() bool {
	return op == OpIn || op == OpNotIn
}

// ConditionValue is the closed set of typed condition operands.
// Implementations: NumberValue, NumberSetValue, TextValue, TextSetValue, DateValue.
type ConditionValue interface {
	conditionValue()
}

// NumberValue is a single numeric operand
type NumberValue struct{ Value decimal.Decimal }

// NumberSetValue is a set of numeric operands
type NumberSetValue struct{ Values []decimal.Decimal }

// TextValue is a single string operand
type TextValue struct{ Value string }

// TextSetValue is a set of string operands
type TextSetValue struct{ Values []string }

// DateValue is a calendar-date operand
type DateValue struct{ Value time.Time }

func (NumberValue) conditionValue()    {}
func (NumberSetValue) conditionValue() {}
func (TextValue) conditionValue()      {}
func (TextSetValue) conditionValue()   {}
func (DateValue) conditionValue()      {}

// Condition is one {field, operator, value} predicate of a rule.
// Value is nil when the stored operand could not be decoded for the field;
// such a condition never matches.
type Condition struct {
	Field    ConditionField
	Operator ConditionOperator
	Value    ConditionValue
}

type conditionJSON struct {
	Field    ConditionField    `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    json.RawMessage   `json:"value"`
}

const dateLayout = "2006-01-02"

// MarshalJSON encodes the condition with its operand in plain JSON form
func (c Condition) MarshalJSON() ([]byte, error) {
	var raw interface{}
	switch v := c.Value.(type) {
	case NumberValue:
		raw = v.Value
	case NumberSetValue:
		raw = v.Values
	case TextValue:
		raw = v.Value
	case TextSetValue:
		raw = v.Values
	case DateValue:
		raw = v.Value.Format(dateLayout)
	default:
		raw = nil
	}
	value, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(conditionJSON{Field: c.Field, Operator: c.Operator, Value: value})
}

// UnmarshalJSON decodes the operand according to the field's kind.
// An operand that does not fit the field leaves Value nil instead of failing,
// so stored rules keep loading and the condition fails closed.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var cj conditionJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return err
	}
	c.Field = cj.Field
	c.Operator = cj.Operator
	value, err := ParseConditionValue(cj.Field, cj.Operator, cj.Value)
	if err != nil {
		c.Value = nil
		return nil
	}
	c.Value = value
	return nil
}

// ParseConditionValue decodes a raw JSON operand into the typed value the
// field and operator expect.
func ParseConditionValue(field ConditionField, op ConditionOperator, raw json.RawMessage) (ConditionValue, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("missing value for %s %s", field, op)
	}

	switch field.Kind() {
	case KindNumber:
		if op.IsSet() {
			var values []decimal.Decimal
			if err := json.Unmarshal(raw, &values); err != nil {
				return nil, fmt.Errorf("%s %s expects a list of numbers: %w", field, op, err)
			}
			return NumberSetValue{Values: values}, nil
		}
		var value decimal.Decimal
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("%s %s expects a number: %w", field, op, err)
		}
		return NumberValue{Value: value}, nil

	case KindText:
		if op.IsSet() {
			var values []string
			if err := json.Unmarshal(raw, &values); err != nil {
				return nil, fmt.Errorf("%s %s expects a list of strings: %w", field, op, err)
			}
			return TextSetValue{Values: values}, nil
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("%s %s expects a string: %w", field, op, err)
		}
		return TextValue{Value: value}, nil

	case KindDate:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%s %s expects a date string: %w", field, op, err)
		}
		d, err := ParseDate(s)
		if err != nil {
			return nil, err
		}
		return DateValue{Value: d}, nil
	}

	return nil, fmt.Errorf("unknown condition field %q", field)
}

// ParseDate accepts YYYY-MM-DD or RFC3339 and truncates to the UTC calendar day
func ParseDate(s string) (time.Time, error) {
	if d, err := time.Parse(dateLayout, s); err == nil {
		return d, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC3339", s)
	}
	return TruncateDay(t), nil
}

// TruncateDay returns midnight UTC of t's UTC calendar day
func TruncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
