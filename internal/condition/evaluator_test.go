package condition

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixtureCase mirrors the shared dual-surface fixture format. The client-side
// evaluator consumes the same file, so behavior changes here must be paired
// with a fixture update, never a code-only divergence.
type fixtureCase struct {
	Name      string                 `json:"name"`
	Condition json.RawMessage        `json:"condition"`
	Data      map[string]interface{} `json:"data"`
	Expect    bool                   `json:"expect"`
	Error     bool                   `json:"error"`
}

func loadFixtures(t *testing.T) []fixtureCase {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", "condition_cases.json"))
	require.NoError(t, err, "fixture file must be readable")

	var cases []fixtureCase
	require.NoError(t, json.Unmarshal(raw, &cases), "fixture file must decode")
	require.NotEmpty(t, cases)
	return cases
}

func TestEvaluate_Fixtures(t *testing.T) {
	for _, tc := range loadFixtures(t) {
		t.Run(tc.Name, func(t *testing.T) {
			cond, err := Parse(tc.Condition)
			require.NoError(t, err)

			got, err := Evaluate(cond, tc.Data)
			if tc.Error {
				require.Error(t, err)
				var evalErr *EvaluationError
				assert.True(t, errors.As(err, &evalErr), "expected an EvaluationError, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.Expect, got)
		})
	}
}

func TestEvaluate_RepeatedCallsAreStable(t *testing.T) {
	cond := &Condition{
		Operator: "and",
		Conditions: []*Condition{
			{Operator: "equals", Field: "type", Value: "Frame"},
			{Operator: "greater_than", Field: "frame.width", Value: float64(500)},
			{Operator: "greater_than", Field: "frame.width", Value: float64(100)},
		},
	}
	bag := map[string]interface{}{
		"type":  "Frame",
		"frame": map[string]interface{}{"width": float64(1200)},
	}

	for i := 0; i < 5; i++ {
		got, err := Evaluate(cond, bag)
		require.NoError(t, err)
		assert.True(t, got)
	}

	// The bag must come back untouched: evaluation memoizes lookups in its
	// own scratch state, never in caller data.
	assert.Equal(t, "Frame", bag["type"])
	assert.Len(t, bag, 2)
}

func TestEvaluate_NilConditionIsTrue(t *testing.T) {
	got, err := Evaluate(nil, map[string]interface{}{"anything": 1})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvaluate_InvalidPatternIsHardError(t *testing.T) {
	cond := &Condition{Operator: "matches_pattern", Field: "sku", Value: "([unclosed"}
	_, err := Evaluate(cond, map[string]interface{}{"sku": "ABC"})
	require.Error(t, err)
	var evalErr *EvaluationError
	require.True(t, errors.As(err, &evalErr))
	assert.Equal(t, "matches_pattern", evalErr.Operator)
}

func TestParse_EmptyPayload(t *testing.T) {
	cond, err := Parse(nil)
	require.NoError(t, err)
	assert.Nil(t, cond)
}

func TestValidate_FlagsNestedUnknownOperator(t *testing.T) {
	cond := &Condition{
		Operator: "and",
		Conditions: []*Condition{
			{Operator: "equals", Field: "type", Value: "Frame"},
			{Operator: "not", Condition: &Condition{Operator: "almost_equals", Field: "x"}},
		},
	}
	err := Validate(cond)
	require.Error(t, err)
	var evalErr *EvaluationError
	require.True(t, errors.As(err, &evalErr))
	assert.Equal(t, "almost_equals", evalErr.Operator)

	assert.NoError(t, Validate(nil))
	assert.NoError(t, Validate(cond.Conditions[0]))
}
