// Package rules evaluates approval rule conditions against expense snapshots
// and selects the rule that governs an expense.
package rules

import (
	"strings"
	"time"

	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// Evaluate reports whether the condition holds for the expense.
// It never fails: unknown fields, unknown operators, operands of the wrong
// kind and missing expense attributes all evaluate to false.
func Evaluate(c entity.Condition, e entity.ExpenseSnapshot) bool {
	if c.Value == nil || !c.Operator.IsValid() {
		return false
	}

	switch c.Field.Kind() {
	case entity.KindNumber:
		return evaluateNumber(c.Operator, c.Value, e.Amount)
	case entity.KindText:
		actual, ok := textField(c.Field, e)
		if !ok {
			return false
		}
		return evaluateText(c.Operator, c.Value, actual)
	case entity.KindDate:
		if e.Date.IsZero() {
			return false
		}
		return evaluateDate(c.Operator, c.Value, entity.TruncateDay(e.Date))
	}
	return false
}

// MatchesAll reports whether every condition holds. An empty list matches.
func MatchesAll(conditions []entity.Condition, e entity.ExpenseSnapshot) bool {
	for _, c := range conditions {
		if !Evaluate(c, e) {
			return false
		}
	}
	return true
}

func textField(f entity.ConditionField, e entity.ExpenseSnapshot) (string, bool) {
	var v string
	switch f {
	case entity.FieldCategory:
		v = e.CategoryID
	case entity.FieldSubmitterRole:
		v = e.SubmitterRole
	case entity.FieldVendor:
		v = e.Vendor
	case entity.FieldPaymentMethod:
		v = e.PaymentMethod
	default:
		return "", false
	}
	return v, v != ""
}

func evaluateNumber(op entity.ConditionOperator, value entity.ConditionValue, actual decimal.Decimal) bool {
	switch v := value.(type) {
	case entity.NumberValue:
		switch op {
		case entity.OpGT:
			return actual.GreaterThan(v.Value)
		case entity.OpGTE:
			return actual.GreaterThanOrEqual(v.Value)
		case entity.OpLT:
			return actual.LessThan(v.Value)
		case entity.OpLTE:
			return actual.LessThanOrEqual(v.Value)
		case entity.OpEQ:
			return actual.Equal(v.Value)
		case entity.OpNE:
			return !actual.Equal(v.Value)
		}
	case entity.NumberSetValue:
		in := false
		for _, candidate := range v.Values {
			if actual.Equal(candidate) {
				in = true
				break
			}
		}
		switch op {
		case entity.OpIn:
			return in
		case entity.OpNotIn:
			return !in
		}
	}
	return false
}

func evaluateText(op entity.ConditionOperator, value entity.ConditionValue, actual string) bool {
	switch v := value.(type) {
	case entity.TextValue:
		switch op {
		case entity.OpEQ:
			return actual == v.Value
		case entity.OpNE:
			return actual != v.Value
		case entity.OpContains:
			return strings.Contains(strings.ToLower(actual), strings.ToLower(v.Value))
		case entity.OpStartsWith:
			return strings.HasPrefix(strings.ToLower(actual), strings.ToLower(v.Value))
		}
	case entity.TextSetValue:
		in := false
		for _, candidate := range v.Values {
			if actual == candidate {
				in = true
				break
			}
		}
		switch op {
		case entity.OpIn:
			return in
		case entity.OpNotIn:
			return !in
		}
	}
	return false
}

func evaluateDate(op entity.ConditionOperator, value entity.ConditionValue, actual time.Time) bool {
	v, ok := value.(entity.DateValue)
	if !ok {
		return false
	}
	want := entity.TruncateDay(v.Value)
	switch op {
	case entity.OpGT:
		return actual.After(want)
	case entity.OpGTE:
		return !actual.Before(want)
	case entity.OpLT:
		return actual.Before(want)
	case entity.OpLTE:
		return !actual.After(want)
	case entity.OpEQ:
		return actual.Equal(want)
	case entity.OpNE:
		return !actual.Equal(want)
	}
	return false
}
