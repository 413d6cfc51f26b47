package condition

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Evaluate decides whether the condition holds against the data bag. It is
// referentially pure: repeated calls with unchanged inputs return the same
// result and nothing is mutated. Field lookups are memoized for the duration
// of a single call, so deeply nested conditions re-reading the same dot-path
// stay linear.
//
// A nil condition, or a leaf missing its operator or field key, is vacuously
// true: malformed legacy catalog entries must show the node, not hide it.
// An unrecognized operator is a hard error for the whole evaluation.
func Evaluate(c *Condition, bag map[string]interface{}) (bool, error) {
	ev := &evaluation{bag: bag, lookups: make(map[string]interface{})}
	return ev.eval(c)
}

type evaluation struct {
	bag     map[string]interface{}
	lookups map[string]interface{}
}

func (e *evaluation) eval(c *Condition) (bool, error) {
	if c == nil || c.Operator == "" {
		return true, nil
	}

	switch c.Operator {
	case "and":
		for _, nested := range c.Conditions {
			ok, err := e.eval(nested)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case "or":
		for _, nested := range c.Conditions {
			ok, err := e.eval(nested)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case "not":
		nested := c.Condition
		if nested == nil && len(c.Conditions) == 1 {
			nested = c.Conditions[0]
		}
		if nested == nil {
			return true, nil
		}
		ok, err := e.eval(nested)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}

	if !knownOperators[c.Operator] {
		return false, &EvaluationError{Operator: c.Operator}
	}
	if c.Field == "" {
		return true, nil
	}

	fieldValue := e.lookup(c.Field)

	switch c.Operator {
	case "equals":
		return looseEqual(fieldValue, c.Value), nil
	case "not_equals":
		return !looseEqual(fieldValue, c.Value), nil

	case "greater_than":
		return toNumber(fieldValue) > toNumber(c.Value), nil
	case "less_than":
		return toNumber(fieldValue) < toNumber(c.Value), nil
	case "greater_equal":
		return toNumber(fieldValue) >= toNumber(c.Value), nil
	case "less_equal":
		return toNumber(fieldValue) <= toNumber(c.Value), nil

	case "contains":
		return strings.Contains(foldString(fieldValue), foldString(c.Value)), nil
	case "starts_with":
		return strings.HasPrefix(foldString(fieldValue), foldString(c.Value)), nil
	case "ends_with":
		return strings.HasSuffix(foldString(fieldValue), foldString(c.Value)), nil
	case "matches_pattern":
		re, err := regexp.Compile(toString(c.Value))
		if err != nil {
			return false, &EvaluationError{Operator: c.Operator, Reason: "invalid pattern: " + err.Error()}
		}
		return re.MatchString(toString(fieldValue)), nil

	case "in":
		return containsLoose(asList(c.Value), fieldValue), nil
	case "not_in":
		return !containsLoose(asList(c.Value), fieldValue), nil
	case "any_of":
		fieldSet := asList(fieldValue)
		for _, want := range asList(c.Value) {
			if containsLoose(fieldSet, want) {
				return true, nil
			}
		}
		return false, nil
	case "all_of":
		fieldSet := asList(fieldValue)
		for _, want := range asList(c.Value) {
			if !containsLoose(fieldSet, want) {
				return false, nil
			}
		}
		return true, nil

	case "exists":
		return fieldValue != nil && fieldValue != "", nil
	case "not_exists":
		return fieldValue == nil || fieldValue == "", nil
	case "is_empty":
		// Boolean-coerced truthiness: 0 and false count as empty. This edge
		// is part of the evaluator contract and mirrored client-side.
		return !truthy(fieldValue), nil
	case "is_not_empty":
		return truthy(fieldValue), nil
	}

	return false, &EvaluationError{Operator: c.Operator}
}

// lookup resolves a dot-path against the bag. Any missing intermediate key
// yields nil, which downstream operators treat per their own nil rules.
func (e *evaluation) lookup(path string) interface{} {
	if v, ok := e.lookups[path]; ok {
		return v
	}
	var cur interface{} = e.bag
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			cur = nil
			break
		}
		cur = m[part]
	}
	e.lookups[path] = cur
	return cur
}

// looseEqual compares two values after coercion: both numeric-coercible values
// compare as numbers, otherwise the stringified forms compare exactly.
func looseEqual(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	an, aok := numericValue(a)
	bn, bok := numericValue(b)
	if aok && bok {
		return an == bn
	}
	return toString(a) == toString(b)
}

func containsLoose(list []interface{}, v interface{}) bool {
	for _, item := range list {
		if looseEqual(item, v) {
			return true
		}
	}
	return false
}

// asList wraps a scalar as a one-element list; a nil value wraps to [nil].
func asList(v interface{}) []interface{} {
	if list, ok := v.([]interface{}); ok {
		return list
	}
	return []interface{}{v}
}

// numericValue attempts a numeric coercion without defaulting.
func numericValue(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case decimal.Decimal:
		return t.InexactFloat64(), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// toNumber coerces for ordering comparisons: missing/nil and anything
// non-numeric becomes 0, booleans become 1/0. Never raises.
func toNumber(v interface{}) float64 {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	if f, ok := numericValue(v); ok {
		return f
	}
	return 0
}

// toString stringifies a value; nil becomes the empty string.
func toString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case decimal.Decimal:
		return t.String()
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return strings.Trim(string(b), `"`)
	}
}

func foldString(v interface{}) string {
	return strings.ToLower(toString(v))
}

// truthy applies boolean coercion: nil, false, 0, "", and empty
// collections are false; everything else is true.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	case decimal.Decimal:
		return !t.IsZero()
	}
	if f, ok := numericValue(v); ok {
		return f != 0
	}
	return true
}
