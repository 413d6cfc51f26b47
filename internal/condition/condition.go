// Package condition evaluates display/validation conditions against a flat
// key-value data bag. It is the server half of a dual-surface evaluator: the
// form renderer runs an equivalent implementation client-side, and both must
// agree on every input. The shared fixture suite in testdata keeps them honest.
package condition

import (
	"encoding/json"
	"fmt"
)

// Condition is a recursive boolean expression. A leaf carries Operator, Field
// and Value; a combinator carries Operator (and/or/not) plus nested conditions.
// The not combinator takes a single nested condition; for leniency a one-entry
// conditions list is also accepted.
type Condition struct {
	Operator   string       `json:"operator,omitempty"`
	Field      string       `json:"field,omitempty"`
	Value      interface{}  `json:"value,omitempty"`
	Conditions []*Condition `json:"conditions,omitempty"`
	Condition  *Condition   `json:"condition,omitempty"`
}

// EvaluationError reports an unrecognized operator. It is a hard error for the
// evaluation it occurs in: a typo in catalog data must never silently gate
// visibility, so the whole evaluation is rejected rather than defaulted.
type EvaluationError struct {
	Operator string
	Reason   string
}

func (e *EvaluationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("condition: operator %q: %s", e.Operator, e.Reason)
	}
	return fmt.Sprintf("condition: unknown operator %q", e.Operator)
}

// Parse decodes a raw JSON condition. A nil or empty payload yields a nil
// condition, which evaluates vacuously true.
func Parse(raw []byte) (*Condition, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var c Condition
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("condition: failed to decode: %w", err)
	}
	return &c, nil
}

var knownOperators = map[string]bool{
	"equals": true, "not_equals": true,
	"greater_than": true, "less_than": true, "greater_equal": true, "less_equal": true,
	"contains": true, "starts_with": true, "ends_with": true, "matches_pattern": true,
	"in": true, "not_in": true, "any_of": true, "all_of": true,
	"exists": true, "not_exists": true, "is_empty": true, "is_not_empty": true,
	"and": true, "or": true, "not": true,
}

// Validate walks the condition and reports the first unknown operator without
// evaluating anything. The Schema Generator uses it to flag fields whose
// stored condition could never evaluate.
func Validate(c *Condition) error {
	if c == nil {
		return nil
	}
	if c.Operator != "" && !knownOperators[c.Operator] {
		return &EvaluationError{Operator: c.Operator}
	}
	if c.Condition != nil {
		if err := Validate(c.Condition); err != nil {
			return err
		}
	}
	for _, nested := range c.Conditions {
		if err := Validate(nested); err != nil {
			return err
		}
	}
	return nil
}
