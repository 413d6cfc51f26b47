package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// BreakdownLine is one priced selection inside a quote snapshot. NodeName is
// the node's name at the time of the quote; the underlying node may later be
// renamed or deleted without affecting stored snapshots.
type BreakdownLine struct {
	NodeID        int64           `json:"node_id"`
	NodeName      string          `json:"node_name"`
	SelectionPath string          `json:"selection_path"`
	PriceImpact   decimal.Decimal `json:"price_impact"`
	WeightImpact  decimal.Decimal `json:"weight_impact"`
}

// QuoteSnapshot freezes a configuration's computed totals, breakdown and
// technical data at a point in time. Snapshots are immutable: re-quoting the
// same configuration always creates a new snapshot.
type QuoteSnapshot struct {
	ID              int64            `json:"id"`
	QuoteRef        string           `json:"quote_ref"`
	ConfigurationID int64            `json:"configuration_id"`
	BasePrice       decimal.Decimal  `json:"base_price"`
	TotalPrice      decimal.Decimal  `json:"total_price"`
	TotalWeight     decimal.Decimal  `json:"total_weight"`
	Breakdown       []BreakdownLine  `json:"breakdown"`
	TechnicalData   *json.RawMessage `json:"technical_data,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}
