// Package schema assembles form schemas from the attribute catalog. The
// generator only shapes the payload; display conditions are carried through
// unevaluated for the presentation layer to apply live as the user types.
package schema

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"strings"

	"product-configurator-service/internal/condition"
	"product-configurator-service/internal/domain"
)

// Field is one input in a rendered section.
type Field struct {
	NodeID           int64                   `json:"node_id"`
	Name             string                  `json:"name"`
	NodeType         domain.NodeType         `json:"node_type"`
	DataType         domain.DataType         `json:"data_type"`
	Required         bool                    `json:"required"`
	SortOrder        int32                   `json:"sort_order"`
	UIComponent      *string                 `json:"ui_component,omitempty"`
	Description      *string                 `json:"description,omitempty"`
	HelpText         *string                 `json:"help_text,omitempty"`
	ValidationRules  []domain.ValidationRule `json:"validation_rules,omitempty"`
	DisplayCondition *json.RawMessage        `json:"display_condition,omitempty"`
	// AlwaysVisible is set when the stored display condition could not be
	// decoded or names an unknown operator. The field is then shown
	// unconditionally rather than failing the whole schema build.
	AlwaysVisible bool `json:"always_visible,omitempty"`
}

// Section groups the fields under one first-level node of the category tree.
type Section struct {
	NodeID      int64   `json:"node_id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Fields      []Field `json:"fields"`
}

// Schema is the ordered form layout for one product category.
type Schema struct {
	CategoryID int64     `json:"category_id"`
	Sections   []Section `json:"sections"`
}

// NodeSource is the slice of the catalog store the generator needs.
type NodeSource interface {
	GetSubtree(ctx context.Context, categoryID int64) ([]domain.AttributeNode, error)
}

// Generator builds form schemas from the attribute catalog.
type Generator struct {
	nodes NodeSource
}

// NewGenerator creates a Generator reading from the given catalog source.
func NewGenerator(nodes NodeSource) *Generator {
	return &Generator{nodes: nodes}
}

// Generate walks the category subtree in path order, groups nodes into
// sections by their first-level ancestor, and orders fields within a section
// by (sort_order, name). A category with no nodes yields an empty schema,
// not an error.
func (g *Generator) Generate(ctx context.Context, categoryID int64) (*Schema, error) {
	nodes, err := g.nodes.GetSubtree(ctx, categoryID)
	if err != nil {
		return nil, err
	}

	out := &Schema{CategoryID: categoryID, Sections: []Section{}}
	if len(nodes) == 0 {
		return out, nil
	}

	// The subtree root is the shallowest node; sections are the nodes one
	// level below it. Path order means every section node precedes its own
	// fields, so one open section is enough.
	rootDepth := nodes[0].Depth
	for _, n := range nodes {
		if n.Depth < rootDepth {
			rootDepth = n.Depth
		}
	}

	var current *Section
	var currentPath string
	for i := range nodes {
		n := &nodes[i]
		switch n.Depth - rootDepth {
		case 0:
			continue
		case 1:
			out.Sections = append(out.Sections, Section{
				NodeID:      n.ID,
				Name:        n.Name,
				Description: n.Description,
				Fields:      []Field{},
			})
			current = &out.Sections[len(out.Sections)-1]
			currentPath = n.MaterializedPath
			if n.DataType != nil {
				current.Fields = append(current.Fields, g.buildField(n))
			}
		default:
			if current == nil || !strings.HasPrefix(n.MaterializedPath, currentPath+".") {
				// Orphaned by a broken path; leave it out rather than guess
				// at a section.
				log.Printf("WARN: schema: node %d (path %q) has no first-level ancestor in category %d, skipping", n.ID, n.MaterializedPath, categoryID)
				continue
			}
			if n.DataType != nil {
				current.Fields = append(current.Fields, g.buildField(n))
			}
		}
	}

	for i := range out.Sections {
		fields := out.Sections[i].Fields
		sort.SliceStable(fields, func(a, b int) bool {
			if fields[a].SortOrder != fields[b].SortOrder {
				return fields[a].SortOrder < fields[b].SortOrder
			}
			return fields[a].Name < fields[b].Name
		})
	}
	return out, nil
}

func (g *Generator) buildField(n *domain.AttributeNode) Field {
	f := Field{
		NodeID:          n.ID,
		Name:            n.Name,
		NodeType:        n.NodeType,
		DataType:        *n.DataType,
		Required:        n.Required,
		SortOrder:       n.SortOrder,
		UIComponent:     n.UIComponent,
		Description:     n.Description,
		HelpText:        n.HelpText,
		ValidationRules: n.ValidationRules,
	}
	if n.DisplayCondition == nil {
		return f
	}

	cond, err := condition.Parse(*n.DisplayCondition)
	if err == nil {
		err = condition.Validate(cond)
	}
	if err != nil {
		// One field's bad condition must not break the page. Ship the field
		// always-visible and leave the broken expression out of the payload.
		log.Printf("WARN: schema: unusable display condition on node %d (%q), marking always visible: %v", n.ID, n.Name, err)
		f.AlwaysVisible = true
		return f
	}
	f.DisplayCondition = n.DisplayCondition
	return f
}
