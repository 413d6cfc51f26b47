package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NodeType classifies an entry in the attribute tree.
type NodeType string

const (
	NodeTypeCategory      NodeType = "category"
	NodeTypeAttribute     NodeType = "attribute"
	NodeTypeOption        NodeType = "option"
	NodeTypeComponent     NodeType = "component"
	NodeTypeTechnicalSpec NodeType = "technical_spec"
)

// ValidNodeType reports whether t is one of the known node types.
func ValidNodeType(t NodeType) bool {
	switch t {
	case NodeTypeCategory, NodeTypeAttribute, NodeTypeOption, NodeTypeComponent, NodeTypeTechnicalSpec:
		return true
	}
	return false
}

// DataType describes the value shape a node accepts. Category nodes carry none.
type DataType string

const (
	DataTypeString    DataType = "string"
	DataTypeNumber    DataType = "number"
	DataTypeBoolean   DataType = "boolean"
	DataTypeFormula   DataType = "formula"
	DataTypeDimension DataType = "dimension"
	DataTypeSelection DataType = "selection"
)

// ValidDataType reports whether d is one of the known data types.
func ValidDataType(d DataType) bool {
	switch d {
	case DataTypeString, DataTypeNumber, DataTypeBoolean, DataTypeFormula, DataTypeDimension, DataTypeSelection:
		return true
	}
	return false
}

// PriceImpactType controls how a node's price impact is applied.
type PriceImpactType string

const (
	PriceImpactFixed      PriceImpactType = "fixed"
	PriceImpactPercentage PriceImpactType = "percentage"
	PriceImpactFormula    PriceImpactType = "formula"
)

// ValidPriceImpactType reports whether p is one of the known impact types.
func ValidPriceImpactType(p PriceImpactType) bool {
	switch p {
	case PriceImpactFixed, PriceImpactPercentage, PriceImpactFormula:
		return true
	}
	return false
}

// ValidationRule is one declarative rule attached to an attribute node.
// Value is the rule argument: a number for min/max, a regex string for pattern,
// unused for required. Message, when set, overrides the default error text.
type ValidationRule struct {
	Type    string      `json:"type"` // required, min, max, pattern
	Value   interface{} `json:"value,omitempty"`
	Message string      `json:"message,omitempty"`
}

// AttributeNode is one node in the attribute tree. The tree is addressed by
// MaterializedPath, a dot-joined chain of ancestor ids ("12.40.103"), which
// makes ancestor/descendant queries plain string-prefix range scans.
type AttributeNode struct {
	ID               int64            `json:"id"`
	ParentID         *int64           `json:"parent_id,omitempty"`
	CategoryID       *int64           `json:"category_id,omitempty"` // nil for global nodes
	NodeType         NodeType         `json:"node_type"`
	DataType         *DataType        `json:"data_type,omitempty"`
	Name             string           `json:"name"`
	Description      *string          `json:"description,omitempty"`
	HelpText         *string          `json:"help_text,omitempty"`
	DisplayCondition *json.RawMessage `json:"display_condition,omitempty"`
	ValidationRules  []ValidationRule `json:"validation_rules,omitempty"`
	Required         bool             `json:"required"`
	PriceImpactType  PriceImpactType  `json:"price_impact_type"`
	PriceImpactValue *decimal.Decimal `json:"price_impact_value,omitempty"`
	PriceFormula     *string          `json:"price_formula,omitempty"` // reserved, not evaluated
	WeightImpact     decimal.Decimal  `json:"weight_impact"`
	WeightFormula    *string          `json:"weight_formula,omitempty"` // reserved, not evaluated
	MaterializedPath string           `json:"materialized_path"`
	Depth            int32            `json:"depth"`
	SortOrder        int32            `json:"sort_order"`
	UIComponent      *string          `json:"ui_component,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// PathSegment returns the node's own segment within its materialized path.
func (n *AttributeNode) PathSegment() string {
	return strconv.FormatInt(n.ID, 10)
}

// ChildPath builds the materialized path for a child with the given id.
// A nil receiver addresses the root level.
func ChildPath(parentPath string, childID int64) string {
	seg := strconv.FormatInt(childID, 10)
	if parentPath == "" {
		return seg
	}
	return parentPath + "." + seg
}

// AncestorPaths expands a materialized path into the paths of every ancestor,
// root first, excluding the node itself. "12.40.103" -> ["12", "12.40"].
func AncestorPaths(path string) []string {
	segs := strings.Split(path, ".")
	if len(segs) <= 1 {
		return nil
	}
	out := make([]string, 0, len(segs)-1)
	for i := 1; i < len(segs); i++ {
		out = append(out, strings.Join(segs[:i], "."))
	}
	return out
}

// CheckPathInvariant verifies that the node's path and depth are consistent
// with its parent. It returns a *CatalogIntegrityError on violation.
func (n *AttributeNode) CheckPathInvariant(parent *AttributeNode) error {
	if parent == nil {
		if n.MaterializedPath != n.PathSegment() || n.Depth != 0 {
			return &CatalogIntegrityError{NodeID: n.ID, Path: n.MaterializedPath, Reason: "root node path or depth inconsistent"}
		}
		return nil
	}
	if n.MaterializedPath != ChildPath(parent.MaterializedPath, n.ID) {
		return &CatalogIntegrityError{
			NodeID: n.ID,
			Path:   n.MaterializedPath,
			Reason: fmt.Sprintf("path does not extend parent path %q", parent.MaterializedPath),
		}
	}
	if n.Depth != parent.Depth+1 {
		return &CatalogIntegrityError{
			NodeID: n.ID,
			Path:   n.MaterializedPath,
			Reason: fmt.Sprintf("depth %d is not parent depth %d + 1", n.Depth, parent.Depth),
		}
	}
	return nil
}
