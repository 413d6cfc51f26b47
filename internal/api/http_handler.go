package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"product-configurator-service/internal/condition"
	"product-configurator-service/internal/domain"
	"product-configurator-service/internal/pricing"
	"product-configurator-service/internal/schema"
	"product-configurator-service/internal/store"
)

// HTTPHandler holds dependencies for HTTP handlers.
type HTTPHandler struct {
	nodeStore     store.NodeStorer
	configStore   store.ConfigurationStorer
	snapshotStore store.SnapshotStorer
	schemaGen     *schema.Generator
	engine        *pricing.Engine
	validate      *validator.Validate
}

// NewHTTPHandler creates a new HTTPHandler with dependencies.
func NewHTTPHandler(ns store.NodeStorer, cs store.ConfigurationStorer, ss store.SnapshotStorer) *HTTPHandler {
	return &HTTPHandler{
		nodeStore:     ns,
		configStore:   cs,
		snapshotStore: ss,
		schemaGen:     schema.NewGenerator(ns),
		engine:        pricing.NewEngine(ns, cs),
		validate:      validator.New(),
	}
}

// --- Helpers ---

// ErrorResponse defines the structure for JSON error responses. Details
// carries the field->message map for selection validation failures.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil { // Avoid writing empty body for 204 No Content
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("ERROR: Failed to encode JSON response: %v", err)
			http.Error(w, `{"error": "Internal server error during JSON encoding"}`, http.StatusInternalServerError)
		}
	}
}

func parseIDParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

// --- Catalog Node Handlers ---

// NodeCreateInput defines the expected input for creating a catalog node.
type NodeCreateInput struct {
	ParentID         *int64                  `json:"parent_id" validate:"omitempty,gt=0"`
	CategoryID       *int64                  `json:"category_id" validate:"omitempty,gt=0"`
	NodeType         string                  `json:"node_type" validate:"required"`
	DataType         *string                 `json:"data_type"`
	Name             string                  `json:"name" validate:"required,max=255"`
	Description      *string                 `json:"description" validate:"omitempty"`
	HelpText         *string                 `json:"help_text" validate:"omitempty"`
	DisplayCondition *json.RawMessage        `json:"display_condition,omitempty"`
	ValidationRules  []domain.ValidationRule `json:"validation_rules,omitempty"`
	Required         bool                    `json:"required"`
	PriceImpactType  *string                 `json:"price_impact_type"`
	PriceImpactValue *decimal.Decimal        `json:"price_impact_value"`
	PriceFormula     *string                 `json:"price_formula"`
	WeightImpact     *decimal.Decimal        `json:"weight_impact"`
	WeightFormula    *string                 `json:"weight_formula"`
	SortOrder        int32                   `json:"sort_order"`
	UIComponent      *string                 `json:"ui_component" validate:"omitempty,max=100"`
}

func (in *NodeCreateInput) toDomain() (*domain.AttributeNode, string) {
	node := &domain.AttributeNode{
		ParentID:         in.ParentID,
		CategoryID:       in.CategoryID,
		NodeType:         domain.NodeType(in.NodeType),
		Name:             in.Name,
		Description:      in.Description,
		HelpText:         in.HelpText,
		DisplayCondition: in.DisplayCondition,
		ValidationRules:  in.ValidationRules,
		Required:         in.Required,
		PriceImpactType:  domain.PriceImpactFixed,
		PriceImpactValue: in.PriceImpactValue,
		PriceFormula:     in.PriceFormula,
		WeightImpact:     decimal.Zero,
		WeightFormula:    in.WeightFormula,
		SortOrder:        in.SortOrder,
		UIComponent:      in.UIComponent,
	}
	if !domain.ValidNodeType(node.NodeType) {
		return nil, "Invalid node_type"
	}
	if in.DataType != nil {
		dt := domain.DataType(*in.DataType)
		if !domain.ValidDataType(dt) {
			return nil, "Invalid data_type"
		}
		node.DataType = &dt
	}
	if in.PriceImpactType != nil {
		pit := domain.PriceImpactType(*in.PriceImpactType)
		if !domain.ValidPriceImpactType(pit) {
			return nil, "Invalid price_impact_type"
		}
		node.PriceImpactType = pit
	}
	if in.WeightImpact != nil {
		node.WeightImpact = *in.WeightImpact
	}
	if in.DisplayCondition != nil {
		cond, err := condition.Parse(*in.DisplayCondition)
		if err != nil {
			return nil, "Invalid display_condition: " + err.Error()
		}
		// Unknown operators are accepted for legacy tolerance; the schema
		// generator will surface the field as always visible.
		if err := condition.Validate(cond); err != nil {
			log.Printf("WARN: Accepting display condition with unknown operator on node %q: %v", in.Name, err)
		}
	}
	return node, ""
}

func (h *HTTPHandler) CreateNode(w http.ResponseWriter, r *http.Request) {
	var input NodeCreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	node, msg := input.toDomain()
	if msg != "" {
		respondWithError(w, http.StatusBadRequest, msg)
		return
	}

	created, err := h.nodeStore.CreateNode(r.Context(), node)
	if err != nil {
		log.Printf("ERROR: CreateNode store operation failed: %v", err)
		if errors.Is(err, store.ErrParentNodeNotFound) {
			respondWithError(w, http.StatusBadRequest, store.ErrParentNodeNotFound.Error())
		} else {
			respondWithError(w, http.StatusInternalServerError, "Failed to create node")
		}
		return
	}

	respondWithJSON(w, http.StatusCreated, created)
}

func (h *HTTPHandler) GetNodeByID(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := parseIDParam(r, "nodeId")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid node ID format")
		return
	}

	node, err := h.nodeStore.GetNodeByID(r.Context(), nodeID)
	if err != nil {
		log.Printf("ERROR: GetNodeByID store operation for ID %d failed: %v", nodeID, err)
		if errors.Is(err, store.ErrNodeNotFound) {
			respondWithError(w, http.StatusNotFound, store.ErrNodeNotFound.Error())
		} else {
			respondWithError(w, http.StatusInternalServerError, "Failed to retrieve node")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, node)
}

func (h *HTTPHandler) UpdateNode(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := parseIDParam(r, "nodeId")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid node ID format")
		return
	}

	var input NodeCreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	node, msg := input.toDomain()
	if msg != "" {
		respondWithError(w, http.StatusBadRequest, msg)
		return
	}
	node.ID = nodeID

	updated, err := h.nodeStore.UpdateNode(r.Context(), node)
	if err != nil {
		log.Printf("ERROR: UpdateNode store operation for ID %d failed: %v", nodeID, err)
		if errors.Is(err, store.ErrNodeNotFound) {
			respondWithError(w, http.StatusNotFound, store.ErrNodeNotFound.Error())
		} else {
			respondWithError(w, http.StatusInternalServerError, "Failed to update node")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, updated)
}

// NodeMoveInput defines the expected input for reparenting a node.
// A nil parent_id moves the node to the root level.
type NodeMoveInput struct {
	ParentID *int64 `json:"parent_id" validate:"omitempty,gt=0"`
}

func (h *HTTPHandler) MoveNode(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := parseIDParam(r, "nodeId")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid node ID format")
		return
	}

	var input NodeMoveInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	moved, err := h.nodeStore.MoveNode(r.Context(), nodeID, input.ParentID)
	if err != nil {
		log.Printf("ERROR: MoveNode store operation for ID %d failed: %v", nodeID, err)
		switch {
		case errors.Is(err, store.ErrNodeNotFound):
			respondWithError(w, http.StatusNotFound, store.ErrNodeNotFound.Error())
		case errors.Is(err, store.ErrParentNodeNotFound):
			respondWithError(w, http.StatusBadRequest, store.ErrParentNodeNotFound.Error())
		case errors.Is(err, store.ErrNodeCycle):
			respondWithError(w, http.StatusConflict, store.ErrNodeCycle.Error())
		default:
			respondWithError(w, http.StatusInternalServerError, "Failed to move node")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, moved)
}

func (h *HTTPHandler) DeleteSubtree(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := parseIDParam(r, "nodeId")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid node ID format")
		return
	}

	removed, err := h.nodeStore.DeleteSubtree(r.Context(), nodeID)
	if err != nil {
		log.Printf("ERROR: DeleteSubtree store operation for ID %d failed: %v", nodeID, err)
		if errors.Is(err, store.ErrNodeNotFound) {
			respondWithError(w, http.StatusNotFound, store.ErrNodeNotFound.Error())
		} else {
			respondWithError(w, http.StatusInternalServerError, "Failed to delete subtree")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]int64{"deleted_nodes": removed})
}

func (h *HTTPHandler) ListNodes(w http.ResponseWriter, r *http.Request) {
	var parentID *int64
	if idStr := r.URL.Query().Get("parent_id"); idStr != "" {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || id <= 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid parent_id format")
			return
		}
		parentID = &id
	}

	nodes, err := h.nodeStore.GetChildren(r.Context(), parentID)
	if err != nil {
		log.Printf("ERROR: ListNodes store operation failed: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve nodes")
		return
	}
	respondWithJSON(w, http.StatusOK, nodes)
}

func (h *HTTPHandler) nodeListHandler(name string, fetch func(r *http.Request, id int64) ([]domain.AttributeNode, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nodeID, ok := parseIDParam(r, "nodeId")
		if !ok {
			respondWithError(w, http.StatusBadRequest, "Invalid node ID format")
			return
		}

		nodes, err := fetch(r, nodeID)
		if err != nil {
			log.Printf("ERROR: %s store operation for ID %d failed: %v", name, nodeID, err)
			var integrity *domain.CatalogIntegrityError
			switch {
			case errors.Is(err, store.ErrNodeNotFound):
				respondWithError(w, http.StatusNotFound, store.ErrNodeNotFound.Error())
			case errors.As(err, &integrity):
				respondWithError(w, http.StatusInternalServerError, integrity.Error())
			default:
				respondWithError(w, http.StatusInternalServerError, "Failed to retrieve nodes")
			}
			return
		}
		respondWithJSON(w, http.StatusOK, nodes)
	}
}

// --- Schema & Condition Handlers ---

func (h *HTTPHandler) GetCategorySchema(w http.ResponseWriter, r *http.Request) {
	categoryID, ok := parseIDParam(r, "categoryId")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid category ID format")
		return
	}

	s, err := h.schemaGen.Generate(r.Context(), categoryID)
	if err != nil {
		log.Printf("ERROR: Schema generation for category %d failed: %v", categoryID, err)
		respondWithError(w, http.StatusInternalServerError, "Failed to generate schema")
		return
	}
	respondWithJSON(w, http.StatusOK, s)
}

// ConditionEvaluateInput defines the expected input for a condition check.
// The endpoint mirrors the evaluator the form renderer runs client-side, so
// collaborators can verify parity against live server results.
type ConditionEvaluateInput struct {
	Condition json.RawMessage        `json:"condition" validate:"required"`
	Data      map[string]interface{} `json:"data"`
}

func (h *HTTPHandler) EvaluateCondition(w http.ResponseWriter, r *http.Request) {
	var input ConditionEvaluateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.Struct(input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	cond, err := condition.Parse(input.Condition)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid condition: "+err.Error())
		return
	}

	result, err := condition.Evaluate(cond, input.Data)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Condition evaluation failed: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]bool{"result": result})
}

// --- Route Registration ---

// RegisterRoutes sets up the HTTP routes for the service.
func (h *HTTPHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/catalog/nodes", func(r chi.Router) {
		r.Post("/", h.CreateNode)
		r.Get("/", h.ListNodes) // ?parent_id= for children, roots when absent
		r.Route("/{nodeId}", func(r chi.Router) {
			r.Get("/", h.GetNodeByID)
			r.Put("/", h.UpdateNode)
			r.Delete("/", h.DeleteSubtree)
			r.Post("/move", h.MoveNode)
			r.Get("/children", h.nodeListHandler("GetChildren", func(req *http.Request, id int64) ([]domain.AttributeNode, error) {
				return h.nodeStore.GetChildren(req.Context(), &id)
			}))
			r.Get("/descendants", h.nodeListHandler("GetDescendants", func(req *http.Request, id int64) ([]domain.AttributeNode, error) {
				return h.nodeStore.GetDescendants(req.Context(), id)
			}))
			r.Get("/ancestors", h.nodeListHandler("GetAncestors", func(req *http.Request, id int64) ([]domain.AttributeNode, error) {
				return h.nodeStore.GetAncestors(req.Context(), id)
			}))
		})
	})

	r.Get("/api/v1/categories/{categoryId}/schema", h.GetCategorySchema)
	r.Post("/api/v1/conditions/evaluate", h.EvaluateCondition)

	r.Route("/api/v1/configurations", func(r chi.Router) {
		r.Post("/", h.CreateConfiguration)
		r.Route("/{configurationId}", func(r chi.Router) {
			r.Get("/", h.GetConfiguration)
			r.Put("/selections", h.ReplaceSelections)
			r.Post("/status", h.UpdateConfigurationStatus)
			r.Post("/quotes", h.CreateQuote)
			r.Get("/quotes", h.ListQuotes)
		})
	})

	r.Get("/api/v1/quotes/{quoteId}", h.GetQuote)
}
