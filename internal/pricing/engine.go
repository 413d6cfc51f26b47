// Package pricing resolves a configuration's selections into price and weight
// impacts and persists the replaced selection set with recomputed totals.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"

	"github.com/shopspring/decimal"

	"product-configurator-service/internal/condition"
	"product-configurator-service/internal/domain"
)

// SelectionInput is one incoming selection for one attribute node. Exactly
// one value slot must be populated, matching the node's declared data type.
type SelectionInput struct {
	AttributeNodeID int64            `json:"attribute_node_id" validate:"required,gt=0"`
	StringValue     *string          `json:"string_value,omitempty"`
	NumericValue    *decimal.Decimal `json:"numeric_value,omitempty"`
	BooleanValue    *bool            `json:"boolean_value,omitempty"`
	StructuredValue *json.RawMessage `json:"structured_value,omitempty"`
}

// Totals is the recomputed configuration aggregate after a replacement.
type Totals struct {
	ConfigurationID int64           `json:"configuration_id"`
	BasePrice       decimal.Decimal `json:"base_price"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	TotalWeight     decimal.Decimal `json:"total_weight"`
	// Warnings carries non-fatal pricing resolution notes, e.g. formula
	// impacts treated as zero. They are flagged for audit, never errors.
	Warnings []string `json:"warnings,omitempty"`
}

// ValidationErrors maps a field name to its first validation message. It is
// returned as data, never raised as an error: the caller renders it back to
// the user and nothing is persisted. Keys are node names, which the catalog
// keeps unique within a category; selections for unknown nodes fall back to a
// "node_<id>" key so they never shadow a real field.
type ValidationErrors map[string]string

func (v ValidationErrors) add(field, message string) {
	if _, exists := v[field]; !exists {
		v[field] = message
	}
}

// NodeSource is the slice of the catalog store the engine needs.
type NodeSource interface {
	GetNodesByIDs(ctx context.Context, ids []int64) (map[int64]*domain.AttributeNode, error)
}

// ConfigurationStore is the slice of the configuration store the engine needs.
type ConfigurationStore interface {
	GetConfigurationByID(ctx context.Context, id int64) (*domain.Configuration, error)
	ReplaceSelections(ctx context.Context, configurationID int64, selections []domain.ConfigurationSelection, totalPrice, totalWeight decimal.Decimal) error
}

// Engine validates and prices selection sets.
type Engine struct {
	nodes   NodeSource
	configs ConfigurationStore
}

// NewEngine creates a pricing Engine over the given stores.
func NewEngine(nodes NodeSource, configs ConfigurationStore) *Engine {
	return &Engine{nodes: nodes, configs: configs}
}

var hundred = decimal.NewFromInt(100)

// ReplaceSelections validates the incoming selections, resolves each one's
// price and weight impact, and atomically replaces the configuration's entire
// selection set with recomputed totals. Any validation failure aborts the
// whole operation and returns the field->message map; nothing is persisted.
//
// Totals are a pure re-sum: total_price = base_price + fixed impacts +
// percentage impacts applied against base_price; total_weight is the sum of
// weight impacts. Formula-typed impacts resolve to zero with a warning.
func (e *Engine) ReplaceSelections(ctx context.Context, configurationID int64, inputs []SelectionInput) (*Totals, ValidationErrors, error) {
	cfg, err := e.configs.GetConfigurationByID(ctx, configurationID)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]int64, 0, len(inputs))
	for _, in := range inputs {
		ids = append(ids, in.AttributeNodeID)
	}
	nodes, err := e.nodes.GetNodesByIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	verrs := ValidationErrors{}
	bag := buildDataBag(inputs, nodes)

	seen := make(map[int64]bool, len(inputs))
	for _, in := range inputs {
		node := nodes[in.AttributeNodeID]
		key := fieldKey(node, in.AttributeNodeID)

		if node == nil {
			verrs.add(key, "unknown attribute node")
			continue
		}
		if seen[in.AttributeNodeID] {
			verrs.add(key, "duplicate selection for this attribute")
			continue
		}
		seen[in.AttributeNodeID] = true

		if msg := checkValueSlot(node, in); msg != "" {
			verrs.add(key, msg)
			continue
		}

		// Applicability runs before range/pattern rules: an inapplicable
		// field with a leftover out-of-range value reports the applicability
		// error alone, not a confusing double error.
		applicable, err := e.isApplicable(node, bag)
		if err != nil {
			log.Printf("WARN: pricing: display condition on node %d failed to evaluate, treating as applicable: %v", node.ID, err)
			applicable = true
		}
		if !applicable {
			verrs.add(key, "not applicable given the current selections")
			continue
		}

		for _, rule := range node.ValidationRules {
			if msg := checkRule(rule, in); msg != "" {
				verrs.add(key, msg)
				break
			}
		}
	}

	if len(verrs) > 0 {
		return nil, verrs, nil
	}

	totals := &Totals{
		ConfigurationID: configurationID,
		BasePrice:       cfg.BasePrice,
		TotalPrice:      cfg.BasePrice,
		TotalWeight:     decimal.Zero,
	}
	selections := make([]domain.ConfigurationSelection, 0, len(inputs))
	for _, in := range inputs {
		node := nodes[in.AttributeNodeID]

		priceImpact := e.resolvePriceImpact(node, cfg.BasePrice, totals)
		weightImpact := e.resolveWeightImpact(node, totals)

		totals.TotalPrice = totals.TotalPrice.Add(priceImpact)
		totals.TotalWeight = totals.TotalWeight.Add(weightImpact)

		selections = append(selections, domain.ConfigurationSelection{
			ConfigurationID:        configurationID,
			AttributeNodeID:        node.ID,
			StringValue:            in.StringValue,
			NumericValue:           in.NumericValue,
			BooleanValue:           in.BooleanValue,
			StructuredValue:        in.StructuredValue,
			CalculatedPriceImpact:  priceImpact,
			CalculatedWeightImpact: weightImpact,
			SelectionPath:          node.MaterializedPath,
		})
	}

	if err := e.configs.ReplaceSelections(ctx, configurationID, selections, totals.TotalPrice, totals.TotalWeight); err != nil {
		return nil, nil, err
	}
	return totals, nil, nil
}

// resolvePriceImpact freezes one node's price impact. Fixed impacts add the
// value; percentage impacts apply against the configuration's base price, not
// the running total, so the result does not depend on selection order.
func (e *Engine) resolvePriceImpact(node *domain.AttributeNode, basePrice decimal.Decimal, totals *Totals) decimal.Decimal {
	switch node.PriceImpactType {
	case domain.PriceImpactFixed:
		if node.PriceImpactValue != nil {
			return *node.PriceImpactValue
		}
		return decimal.Zero
	case domain.PriceImpactPercentage:
		if node.PriceImpactValue != nil {
			return basePrice.Mul(*node.PriceImpactValue).Div(hundred)
		}
		return decimal.Zero
	case domain.PriceImpactFormula:
		totals.Warnings = append(totals.Warnings,
			fmt.Sprintf("price formula on %q is unresolved and was treated as zero impact", node.Name))
		return decimal.Zero
	}
	return decimal.Zero
}

func (e *Engine) resolveWeightImpact(node *domain.AttributeNode, totals *Totals) decimal.Decimal {
	if node.WeightFormula != nil && *node.WeightFormula != "" {
		totals.Warnings = append(totals.Warnings,
			fmt.Sprintf("weight formula on %q is unresolved and was treated as zero impact", node.Name))
	}
	return node.WeightImpact
}

func (e *Engine) isApplicable(node *domain.AttributeNode, bag map[string]interface{}) (bool, error) {
	if node.DisplayCondition == nil {
		return true, nil
	}
	cond, err := condition.Parse(*node.DisplayCondition)
	if err != nil {
		return false, err
	}
	return condition.Evaluate(cond, bag)
}

func fieldKey(node *domain.AttributeNode, id int64) string {
	if node != nil {
		return node.Name
	}
	return fmt.Sprintf("node_%d", id)
}

// buildDataBag flattens the incoming selections into the field->value bag the
// condition evaluator reads, keyed by node name. Names are assumed unique
// within a category (the same assumption the schema generator and display
// conditions rely on); if two selected nodes do share a name, the later
// selection's value wins. Structured values decode into nested maps so
// dot-path conditions can traverse them.
func buildDataBag(inputs []SelectionInput, nodes map[int64]*domain.AttributeNode) map[string]interface{} {
	bag := make(map[string]interface{}, len(inputs))
	for _, in := range inputs {
		node := nodes[in.AttributeNodeID]
		if node == nil {
			continue
		}
		switch {
		case in.StringValue != nil:
			bag[node.Name] = *in.StringValue
		case in.NumericValue != nil:
			bag[node.Name] = *in.NumericValue
		case in.BooleanValue != nil:
			bag[node.Name] = *in.BooleanValue
		case in.StructuredValue != nil:
			var decoded interface{}
			if err := json.Unmarshal(*in.StructuredValue, &decoded); err == nil {
				bag[node.Name] = decoded
			} else {
				bag[node.Name] = string(*in.StructuredValue)
			}
		}
	}
	return bag
}

// expectedSlot maps a node's data type to the value slot it must populate.
func expectedSlot(dataType domain.DataType) string {
	switch dataType {
	case domain.DataTypeString, domain.DataTypeSelection, domain.DataTypeFormula:
		return "string_value"
	case domain.DataTypeNumber:
		return "numeric_value"
	case domain.DataTypeBoolean:
		return "boolean_value"
	case domain.DataTypeDimension:
		return "structured_value"
	}
	return ""
}

// checkValueSlot verifies exactly one typed slot is populated and that it is
// the slot the node's data type declares. A mismatch is a validation failure,
// never a silent coercion.
func checkValueSlot(node *domain.AttributeNode, in SelectionInput) string {
	if node.DataType == nil {
		return "this node does not accept a value"
	}

	populated := ""
	count := 0
	if in.StringValue != nil {
		populated = "string_value"
		count++
	}
	if in.NumericValue != nil {
		populated = "numeric_value"
		count++
	}
	if in.BooleanValue != nil {
		populated = "boolean_value"
		count++
	}
	if in.StructuredValue != nil {
		populated = "structured_value"
		count++
	}

	if count == 0 {
		return "a value is required"
	}
	if count > 1 {
		return "exactly one value slot may be populated"
	}
	if want := expectedSlot(*node.DataType); populated != want {
		return fmt.Sprintf("%s data type requires %s, got %s", *node.DataType, want, populated)
	}
	return ""
}

// checkRule applies one declarative validation rule to a selection value.
// Min/max compare numerically for numeric values and by length for strings.
// Rule.Message, when set, replaces the default text.
func checkRule(rule domain.ValidationRule, in SelectionInput) string {
	fail := func(def string) string {
		if rule.Message != "" {
			return rule.Message
		}
		return def
	}

	switch rule.Type {
	case "required":
		if in.StringValue != nil && *in.StringValue == "" {
			return fail("a value is required")
		}
	case "min":
		bound, ok := ruleNumber(rule.Value)
		if !ok {
			return ""
		}
		if in.NumericValue != nil && in.NumericValue.LessThan(bound) {
			return fail(fmt.Sprintf("value must be at least %s", bound))
		}
		if in.StringValue != nil && decimal.NewFromInt(int64(len(*in.StringValue))).LessThan(bound) {
			return fail(fmt.Sprintf("value must be at least %s characters", bound))
		}
	case "max":
		bound, ok := ruleNumber(rule.Value)
		if !ok {
			return ""
		}
		if in.NumericValue != nil && in.NumericValue.GreaterThan(bound) {
			return fail(fmt.Sprintf("value must be at most %s", bound))
		}
		if in.StringValue != nil && decimal.NewFromInt(int64(len(*in.StringValue))).GreaterThan(bound) {
			return fail(fmt.Sprintf("value must be at most %s characters", bound))
		}
	case "pattern":
		pattern, ok := rule.Value.(string)
		if !ok || in.StringValue == nil {
			return ""
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			log.Printf("WARN: pricing: invalid validation pattern %q, skipping rule: %v", pattern, err)
			return ""
		}
		if !re.MatchString(*in.StringValue) {
			return fail("value does not match the required pattern")
		}
	}
	return ""
}

func ruleNumber(v interface{}) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(t)
		return d, err == nil
	}
	return decimal.Zero, false
}
