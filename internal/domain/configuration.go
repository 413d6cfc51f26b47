package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ConfigurationStatus is the lifecycle state of a customer configuration.
// Transitions only move forward: draft -> saved -> quoted -> ordered.
type ConfigurationStatus string

const (
	StatusDraft   ConfigurationStatus = "draft"
	StatusSaved   ConfigurationStatus = "saved"
	StatusQuoted  ConfigurationStatus = "quoted"
	StatusOrdered ConfigurationStatus = "ordered"
)

var statusRank = map[ConfigurationStatus]int{
	StatusDraft:   0,
	StatusSaved:   1,
	StatusQuoted:  2,
	StatusOrdered: 3,
}

// ValidStatus reports whether s is one of the known statuses.
func ValidStatus(s ConfigurationStatus) bool {
	_, ok := statusRank[s]
	return ok
}

// CanAdvanceTo reports whether a configuration may move from s to next.
// Only strictly forward transitions between known statuses are allowed.
func (s ConfigurationStatus) CanAdvanceTo(next ConfigurationStatus) bool {
	cur, ok := statusRank[s]
	if !ok {
		return false
	}
	n, ok := statusRank[next]
	if !ok {
		return false
	}
	return n > cur
}

// Configuration is a customer's in-progress or finalized design for one
// product category. Totals are always a full re-sum over the selection set,
// never patched incrementally.
type Configuration struct {
	ID                   int64               `json:"id"`
	CategoryID           int64               `json:"category_id"`
	CustomerRef          string              `json:"customer_ref"` // opaque, supplied by the identity collaborator
	Status               ConfigurationStatus `json:"status"`
	BasePrice            decimal.Decimal     `json:"base_price"`
	TotalPrice           decimal.Decimal     `json:"total_price"`
	TotalWeight          decimal.Decimal     `json:"total_weight"`
	DerivedTechnicalData *json.RawMessage    `json:"derived_technical_data,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

// ConfigurationSelection is one chosen value for one attribute node within one
// configuration. Exactly one of the four value slots is populated, matching
// the node's data type. Impacts are frozen at resolution time so that the
// configuration totals are a pure sum with no join-time computation, and
// SelectionPath keeps the node's path at selection time for audit queries.
type ConfigurationSelection struct {
	ID                     int64            `json:"id"`
	ConfigurationID        int64            `json:"configuration_id"`
	AttributeNodeID        int64            `json:"attribute_node_id"`
	StringValue            *string          `json:"string_value,omitempty"`
	NumericValue           *decimal.Decimal `json:"numeric_value,omitempty"`
	BooleanValue           *bool            `json:"boolean_value,omitempty"`
	StructuredValue        *json.RawMessage `json:"structured_value,omitempty"`
	CalculatedPriceImpact  decimal.Decimal  `json:"calculated_price_impact"`
	CalculatedWeightImpact decimal.Decimal  `json:"calculated_weight_impact"`
	SelectionPath          string           `json:"selection_path"`
	CreatedAt              time.Time        `json:"created_at"`
}

// Value returns whichever typed slot is populated, or nil when the selection
// carries no value. Structured values are returned as raw JSON bytes.
func (s *ConfigurationSelection) Value() interface{} {
	switch {
	case s.StringValue != nil:
		return *s.StringValue
	case s.NumericValue != nil:
		return *s.NumericValue
	case s.BooleanValue != nil:
		return *s.BooleanValue
	case s.StructuredValue != nil:
		return *s.StructuredValue
	}
	return nil
}
