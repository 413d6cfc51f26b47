// File: product-configurator-service/internal/api/http_handler_catalog_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"product-configurator-service/internal/domain"
	"product-configurator-service/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockNodeStorer is a mock implementation of store.NodeStorer
type MockNodeStorer struct {
	mock.Mock
}

func (m *MockNodeStorer) CreateNode(ctx context.Context, node *domain.AttributeNode) (*domain.AttributeNode, error) {
	args := m.Called(ctx, node)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AttributeNode), args.Error(1)
}

func (m *MockNodeStorer) GetNodeByID(ctx context.Context, id int64) (*domain.AttributeNode, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AttributeNode), args.Error(1)
}

func (m *MockNodeStorer) GetNodesByIDs(ctx context.Context, ids []int64) (map[int64]*domain.AttributeNode, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int64]*domain.AttributeNode), args.Error(1)
}

func (m *MockNodeStorer) UpdateNode(ctx context.Context, node *domain.AttributeNode) (*domain.AttributeNode, error) {
	args := m.Called(ctx, node)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AttributeNode), args.Error(1)
}

func (m *MockNodeStorer) GetChildren(ctx context.Context, parentID *int64) ([]domain.AttributeNode, error) {
	args := m.Called(ctx, parentID)
	var nodes []domain.AttributeNode
	if arg0 := args.Get(0); arg0 != nil {
		nodes = arg0.([]domain.AttributeNode)
	}
	return nodes, args.Error(1)
}

func (m *MockNodeStorer) GetDescendants(ctx context.Context, id int64) ([]domain.AttributeNode, error) {
	args := m.Called(ctx, id)
	var nodes []domain.AttributeNode
	if arg0 := args.Get(0); arg0 != nil {
		nodes = arg0.([]domain.AttributeNode)
	}
	return nodes, args.Error(1)
}

func (m *MockNodeStorer) GetAncestors(ctx context.Context, id int64) ([]domain.AttributeNode, error) {
	args := m.Called(ctx, id)
	var nodes []domain.AttributeNode
	if arg0 := args.Get(0); arg0 != nil {
		nodes = arg0.([]domain.AttributeNode)
	}
	return nodes, args.Error(1)
}

func (m *MockNodeStorer) GetSubtree(ctx context.Context, categoryID int64) ([]domain.AttributeNode, error) {
	args := m.Called(ctx, categoryID)
	var nodes []domain.AttributeNode
	if arg0 := args.Get(0); arg0 != nil {
		nodes = arg0.([]domain.AttributeNode)
	}
	return nodes, args.Error(1)
}

func (m *MockNodeStorer) MoveNode(ctx context.Context, id int64, newParentID *int64) (*domain.AttributeNode, error) {
	args := m.Called(ctx, id, newParentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AttributeNode), args.Error(1)
}

func (m *MockNodeStorer) DeleteSubtree(ctx context.Context, id int64) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

// Helper for setting up tests with a chi router and handler
func setupTestChiServer(t *testing.T, ns store.NodeStorer, cs store.ConfigurationStorer, ss store.SnapshotStorer) *httptest.Server {
	handler := NewHTTPHandler(ns, cs, ss)
	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	return httptest.NewServer(router)
}

// Helper function to get a pointer (useful for optional fields in domain structs)
func PtrTo[T any](v T) *T {
	return &v
}

func TestHTTPHandler_CreateNode_Success(t *testing.T) {
	mockNodeStore := new(MockNodeStorer)
	server := setupTestChiServer(t, mockNodeStore, nil, nil)
	defer server.Close()

	parentID := int64(12)
	inputPayload := NodeCreateInput{
		ParentID:         &parentID,
		NodeType:         "attribute",
		DataType:         PtrTo("selection"),
		Name:             "Frame Material",
		PriceImpactType:  PtrTo("fixed"),
		PriceImpactValue: PtrTo(decimal.NewFromInt(50)),
	}
	expectedCreated := &domain.AttributeNode{
		ID:               40,
		ParentID:         &parentID,
		NodeType:         domain.NodeTypeAttribute,
		DataType:         PtrTo(domain.DataTypeSelection),
		Name:             inputPayload.Name,
		PriceImpactType:  domain.PriceImpactFixed,
		PriceImpactValue: inputPayload.PriceImpactValue,
		MaterializedPath: "12.40",
		Depth:            1,
	}

	mockNodeStore.On("CreateNode", mock.Anything, mock.MatchedBy(func(n *domain.AttributeNode) bool {
		return n.Name == inputPayload.Name && n.NodeType == domain.NodeTypeAttribute &&
			n.ParentID != nil && *n.ParentID == parentID
	})).Return(expectedCreated, nil).Once()

	reqBody, _ := json.Marshal(inputPayload)
	res, err := http.Post(server.URL+"/api/v1/catalog/nodes", "application/json", bytes.NewBuffer(reqBody))
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusCreated, res.StatusCode)

	var responseNode domain.AttributeNode
	err = json.NewDecoder(res.Body).Decode(&responseNode)
	require.NoError(t, err)
	assert.Equal(t, expectedCreated.ID, responseNode.ID)
	assert.Equal(t, "12.40", responseNode.MaterializedPath)

	mockNodeStore.AssertExpectations(t)
}

func TestHTTPHandler_CreateNode_InvalidNodeType(t *testing.T) {
	mockNodeStore := new(MockNodeStorer)
	server := setupTestChiServer(t, mockNodeStore, nil, nil)
	defer server.Close()

	inputPayload := NodeCreateInput{
		NodeType: "gadget",
		Name:     "Bad Node",
	}
	reqBody, _ := json.Marshal(inputPayload)
	res, err := http.Post(server.URL+"/api/v1/catalog/nodes", "application/json", bytes.NewBuffer(reqBody))
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	var errResp ErrorResponse
	err = json.NewDecoder(res.Body).Decode(&errResp)
	require.NoError(t, err)
	assert.Equal(t, "Invalid node_type", errResp.Error)

	mockNodeStore.AssertNotCalled(t, "CreateNode", mock.Anything, mock.Anything)
}

func TestHTTPHandler_GetNodeByID_NotFound(t *testing.T) {
	mockNodeStore := new(MockNodeStorer)
	server := setupTestChiServer(t, mockNodeStore, nil, nil)
	defer server.Close()

	nodeID := int64(99)
	mockNodeStore.On("GetNodeByID", mock.Anything, nodeID).Return(nil, store.ErrNodeNotFound).Once()

	res, err := http.Get(server.URL + fmt.Sprintf("/api/v1/catalog/nodes/%d", nodeID))
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	var errResp ErrorResponse
	err = json.NewDecoder(res.Body).Decode(&errResp)
	require.NoError(t, err)
	assert.Equal(t, store.ErrNodeNotFound.Error(), errResp.Error)

	mockNodeStore.AssertExpectations(t)
}

func TestHTTPHandler_MoveNode_CycleIsConflict(t *testing.T) {
	mockNodeStore := new(MockNodeStorer)
	server := setupTestChiServer(t, mockNodeStore, nil, nil)
	defer server.Close()

	nodeID := int64(40)
	newParentID := int64(103)
	mockNodeStore.On("MoveNode", mock.Anything, nodeID, &newParentID).
		Return(nil, store.ErrNodeCycle).Once()

	reqBody, _ := json.Marshal(NodeMoveInput{ParentID: &newParentID})
	res, err := http.Post(server.URL+fmt.Sprintf("/api/v1/catalog/nodes/%d/move", nodeID),
		"application/json", bytes.NewBuffer(reqBody))
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusConflict, res.StatusCode)
	var errResp ErrorResponse
	err = json.NewDecoder(res.Body).Decode(&errResp)
	require.NoError(t, err)
	assert.Equal(t, store.ErrNodeCycle.Error(), errResp.Error)

	mockNodeStore.AssertExpectations(t)
}

func TestHTTPHandler_DeleteSubtree_ReturnsRemovedCount(t *testing.T) {
	mockNodeStore := new(MockNodeStorer)
	server := setupTestChiServer(t, mockNodeStore, nil, nil)
	defer server.Close()

	nodeID := int64(40)
	mockNodeStore.On("DeleteSubtree", mock.Anything, nodeID).Return(int64(3), nil).Once()

	req, err := http.NewRequest(http.MethodDelete, server.URL+fmt.Sprintf("/api/v1/catalog/nodes/%d", nodeID), nil)
	require.NoError(t, err)

	client := &http.Client{}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	var payload map[string]int64
	err = json.NewDecoder(res.Body).Decode(&payload)
	require.NoError(t, err)
	assert.Equal(t, int64(3), payload["deleted_nodes"])

	mockNodeStore.AssertExpectations(t)
}

func TestHTTPHandler_GetDescendants(t *testing.T) {
	mockNodeStore := new(MockNodeStorer)
	server := setupTestChiServer(t, mockNodeStore, nil, nil)
	defer server.Close()

	nodeID := int64(12)
	descendants := []domain.AttributeNode{
		{ID: 40, Name: "Frame Material", MaterializedPath: "12.40", Depth: 1},
		{ID: 103, Name: "Aluminum", MaterializedPath: "12.40.103", Depth: 2},
	}
	mockNodeStore.On("GetDescendants", mock.Anything, nodeID).Return(descendants, nil).Once()

	res, err := http.Get(server.URL + fmt.Sprintf("/api/v1/catalog/nodes/%d/descendants", nodeID))
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	var responseNodes []domain.AttributeNode
	err = json.NewDecoder(res.Body).Decode(&responseNodes)
	require.NoError(t, err)
	require.Len(t, responseNodes, 2)
	assert.Equal(t, "12.40", responseNodes[0].MaterializedPath)
	assert.Equal(t, "12.40.103", responseNodes[1].MaterializedPath)

	mockNodeStore.AssertExpectations(t)
}

func TestHTTPHandler_GetCategorySchema(t *testing.T) {
	mockNodeStore := new(MockNodeStorer)
	server := setupTestChiServer(t, mockNodeStore, nil, nil)
	defer server.Close()

	categoryID := int64(7)
	subtree := []domain.AttributeNode{
		{ID: 12, NodeType: domain.NodeTypeCategory, Name: "Windows", MaterializedPath: "12", Depth: 0},
		{ID: 40, NodeType: domain.NodeTypeComponent, Name: "Frame", MaterializedPath: "12.40", Depth: 1},
		{
			ID: 103, NodeType: domain.NodeTypeAttribute, Name: "material",
			DataType: PtrTo(domain.DataTypeSelection), MaterializedPath: "12.40.103", Depth: 2,
		},
	}
	mockNodeStore.On("GetSubtree", mock.Anything, categoryID).Return(subtree, nil).Once()

	res, err := http.Get(server.URL + fmt.Sprintf("/api/v1/categories/%d/schema", categoryID))
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	var payload struct {
		CategoryID int64 `json:"category_id"`
		Sections   []struct {
			NodeID int64  `json:"node_id"`
			Name   string `json:"name"`
			Fields []struct {
				NodeID   int64  `json:"node_id"`
				Name     string `json:"name"`
				DataType string `json:"data_type"`
			} `json:"fields"`
		} `json:"sections"`
	}
	err = json.NewDecoder(res.Body).Decode(&payload)
	require.NoError(t, err)
	assert.Equal(t, categoryID, payload.CategoryID)
	require.Len(t, payload.Sections, 1)
	assert.Equal(t, "Frame", payload.Sections[0].Name)
	require.Len(t, payload.Sections[0].Fields, 1)
	assert.Equal(t, "material", payload.Sections[0].Fields[0].Name)

	mockNodeStore.AssertExpectations(t)
}

func TestHTTPHandler_EvaluateCondition(t *testing.T) {
	mockNodeStore := new(MockNodeStorer)
	server := setupTestChiServer(t, mockNodeStore, nil, nil)
	defer server.Close()

	body := `{
		"condition": {"operator": "equals", "field": "opening_style", "value": "sliding"},
		"data": {"opening_style": "sliding"}
	}`
	res, err := http.Post(server.URL+"/api/v1/conditions/evaluate", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	var payload map[string]bool
	err = json.NewDecoder(res.Body).Decode(&payload)
	require.NoError(t, err)
	assert.True(t, payload["result"])
}

func TestHTTPHandler_EvaluateCondition_UnknownOperator(t *testing.T) {
	mockNodeStore := new(MockNodeStorer)
	server := setupTestChiServer(t, mockNodeStore, nil, nil)
	defer server.Close()

	body := `{
		"condition": {"operator": "frobnicates", "field": "x", "value": 1},
		"data": {"x": 1}
	}`
	res, err := http.Post(server.URL+"/api/v1/conditions/evaluate", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	var errResp ErrorResponse
	err = json.NewDecoder(res.Body).Decode(&errResp)
	require.NoError(t, err)
	assert.Contains(t, errResp.Error, "Condition evaluation failed")
}
