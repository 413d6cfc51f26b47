package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"product-configurator-service/internal/domain"
)

// Predefined errors for store operations
var (
	ErrNodeNotFound            = errors.New("store: attribute node not found")
	ErrParentNodeNotFound      = errors.New("store: parent node not found")
	ErrNodeCycle               = errors.New("store: cannot move a node under its own subtree")
	ErrConfigurationNotFound   = errors.New("store: configuration not found")
	ErrSnapshotNotFound        = errors.New("store: quote snapshot not found")
	ErrDuplicateSelection      = errors.New("store: duplicate selection for attribute node")
	ErrInvalidStatusTransition = errors.New("store: status transition not allowed")
)

// PostgresStore implements the NodeStorer, ConfigurationStorer and
// SnapshotStorer interfaces using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore instance.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const nodeColumns = `id, parent_id, category_id, node_type, data_type, name, description, help_text,
		display_condition, validation_rules, required, price_impact_type, price_impact_value, price_formula,
		weight_impact, weight_formula, materialized_path, depth, sort_order, ui_component, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanNode decodes one attribute_nodes row, converting the nullable and JSONB
// columns the same way across every catalog query.
func scanNode(row rowScanner) (*domain.AttributeNode, error) {
	var n domain.AttributeNode
	var dataType, priceImpactType, priceFormula, weightFormula sql.NullString
	var displayCondition, validationRules sql.NullString
	var priceImpactValue decimal.NullDecimal

	err := row.Scan(
		&n.ID, &n.ParentID, &n.CategoryID, &n.NodeType, &dataType, &n.Name, &n.Description, &n.HelpText,
		&displayCondition, &validationRules, &n.Required, &priceImpactType, &priceImpactValue, &priceFormula,
		&n.WeightImpact, &weightFormula, &n.MaterializedPath, &n.Depth, &n.SortOrder, &n.UIComponent,
		&n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if dataType.Valid {
		dt := domain.DataType(dataType.String)
		n.DataType = &dt
	}
	if priceImpactType.Valid {
		n.PriceImpactType = domain.PriceImpactType(priceImpactType.String)
	} else {
		n.PriceImpactType = domain.PriceImpactFixed
	}
	if priceImpactValue.Valid {
		v := priceImpactValue.Decimal
		n.PriceImpactValue = &v
	}
	if priceFormula.Valid {
		n.PriceFormula = &priceFormula.String
	}
	if weightFormula.Valid {
		n.WeightFormula = &weightFormula.String
	}
	if displayCondition.Valid && displayCondition.String != "" && displayCondition.String != "null" {
		rawMsg := json.RawMessage(displayCondition.String)
		n.DisplayCondition = &rawMsg
	}
	if validationRules.Valid && validationRules.String != "" && validationRules.String != "null" {
		if err := json.Unmarshal([]byte(validationRules.String), &n.ValidationRules); err != nil {
			return nil, fmt.Errorf("store: failed to decode validation rules for node %d: %w", n.ID, err)
		}
	}
	return &n, nil
}

func nullableJSON(raw *json.RawMessage) []byte {
	if raw != nil && len(*raw) > 0 {
		return *raw
	}
	return []byte("null")
}

func rulesJSON(rules []domain.ValidationRule) ([]byte, error) {
	if len(rules) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(rules)
}

// --- NodeStorer Implementation ---

// CreateNode inserts a node and derives its materialized path and depth from
// the parent inside one transaction. The parent row is locked while the path
// is computed so a concurrent move cannot slide out from under the insert.
func (s *PostgresStore) CreateNode(ctx context.Context, node *domain.AttributeNode) (*domain.AttributeNode, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: CreateNode failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	parentPath := ""
	parentDepth := int32(-1)
	if node.ParentID != nil {
		lockQuery := `SELECT materialized_path, depth FROM configurator.attribute_nodes WHERE id = $1 FOR UPDATE;`
		err := tx.QueryRowContext(ctx, lockQuery, *node.ParentID).Scan(&parentPath, &parentDepth)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrParentNodeNotFound
			}
			return nil, fmt.Errorf("store: CreateNode failed to lock parent: %w", err)
		}
	}

	rules, err := rulesJSON(node.ValidationRules)
	if err != nil {
		return nil, fmt.Errorf("store: CreateNode failed to encode validation rules: %w", err)
	}

	insertQuery := `
		INSERT INTO configurator.attribute_nodes
			(parent_id, category_id, node_type, data_type, name, description, help_text,
			 display_condition, validation_rules, required, price_impact_type, price_impact_value, price_formula,
			 weight_impact, weight_formula, materialized_path, depth, sort_order, ui_component)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, '', 0, $16, $17)
		RETURNING id;
	`
	var id int64
	err = tx.QueryRowContext(ctx, insertQuery,
		node.ParentID, node.CategoryID, node.NodeType, node.DataType, node.Name, node.Description, node.HelpText,
		nullableJSON(node.DisplayCondition), rules, node.Required, node.PriceImpactType,
		decimal.NullDecimal{Decimal: derefDecimal(node.PriceImpactValue), Valid: node.PriceImpactValue != nil},
		node.PriceFormula, node.WeightImpact, node.WeightFormula, node.SortOrder, node.UIComponent,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("store: CreateNode failed to insert node: %w", err)
	}

	path := domain.ChildPath(parentPath, id)
	pathQuery := `
		UPDATE configurator.attribute_nodes
		SET materialized_path = $1, depth = $2
		WHERE id = $3
		RETURNING ` + nodeColumns + `;`
	created, err := scanNode(tx.QueryRowContext(ctx, pathQuery, path, parentDepth+1, id))
	if err != nil {
		return nil, fmt.Errorf("store: CreateNode failed to set path: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: CreateNode failed to commit: %w", err)
	}
	return created, nil
}

func derefDecimal(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func (s *PostgresStore) GetNodeByID(ctx context.Context, id int64) (*domain.AttributeNode, error) {
	query := `SELECT ` + nodeColumns + ` FROM configurator.attribute_nodes WHERE id = $1;`
	node, err := scanNode(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNodeNotFound
		}
		return nil, fmt.Errorf("store: GetNodeByID failed to scan row: %w", err)
	}
	return node, nil
}

func (s *PostgresStore) GetNodesByIDs(ctx context.Context, ids []int64) (map[int64]*domain.AttributeNode, error) {
	nodes := make(map[int64]*domain.AttributeNode, len(ids))
	if len(ids) == 0 {
		return nodes, nil
	}
	query := `SELECT ` + nodeColumns + ` FROM configurator.attribute_nodes WHERE id = ANY($1);`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("store: GetNodesByIDs failed to query nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("store: GetNodesByIDs failed to scan row: %w", err)
		}
		nodes[node.ID] = node
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("store: GetNodesByIDs iteration error: %w", err)
	}
	return nodes, nil
}

// UpdateNode rewrites the editable columns of a node. Reparenting is not an
// update; it goes through MoveNode so the subtree paths stay consistent.
func (s *PostgresStore) UpdateNode(ctx context.Context, node *domain.AttributeNode) (*domain.AttributeNode, error) {
	rules, err := rulesJSON(node.ValidationRules)
	if err != nil {
		return nil, fmt.Errorf("store: UpdateNode failed to encode validation rules: %w", err)
	}

	query := `
		UPDATE configurator.attribute_nodes
		SET name = $1, description = $2, help_text = $3, data_type = $4, display_condition = $5,
			validation_rules = $6, required = $7, price_impact_type = $8, price_impact_value = $9,
			price_formula = $10, weight_impact = $11, weight_formula = $12, sort_order = $13,
			ui_component = $14, updated_at = CURRENT_TIMESTAMP
		WHERE id = $15
		RETURNING ` + nodeColumns + `;`
	updated, err := scanNode(s.db.QueryRowContext(ctx, query,
		node.Name, node.Description, node.HelpText, node.DataType, nullableJSON(node.DisplayCondition),
		rules, node.Required, node.PriceImpactType,
		decimal.NullDecimal{Decimal: derefDecimal(node.PriceImpactValue), Valid: node.PriceImpactValue != nil},
		node.PriceFormula, node.WeightImpact, node.WeightFormula, node.SortOrder, node.UIComponent, node.ID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNodeNotFound
		}
		return nil, fmt.Errorf("store: UpdateNode failed to scan row: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) GetChildren(ctx context.Context, parentID *int64) ([]domain.AttributeNode, error) {
	var rows *sql.Rows
	var err error
	if parentID == nil {
		query := `SELECT ` + nodeColumns + ` FROM configurator.attribute_nodes WHERE parent_id IS NULL ORDER BY sort_order, name;`
		rows, err = s.db.QueryContext(ctx, query)
	} else {
		query := `SELECT ` + nodeColumns + ` FROM configurator.attribute_nodes WHERE parent_id = $1 ORDER BY sort_order, name;`
		rows, err = s.db.QueryContext(ctx, query, *parentID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: GetChildren failed to query nodes: %w", err)
	}
	defer rows.Close()
	return collectNodes(rows, "GetChildren")
}

// GetDescendants returns the proper-prefix set of the node's path, ordered by
// path. The pattern appends a segment separator before the wildcard so a
// sibling like "1.20" never matches a prefix of "1.2".
func (s *PostgresStore) GetDescendants(ctx context.Context, id int64) ([]domain.AttributeNode, error) {
	node, err := s.GetNodeByID(ctx, id)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + nodeColumns + ` FROM configurator.attribute_nodes WHERE materialized_path LIKE $1 ORDER BY materialized_path;`
	rows, err := s.db.QueryContext(ctx, query, node.MaterializedPath+".%")
	if err != nil {
		return nil, fmt.Errorf("store: GetDescendants failed to query nodes: %w", err)
	}
	defer rows.Close()
	return collectNodes(rows, "GetDescendants")
}

func (s *PostgresStore) GetAncestors(ctx context.Context, id int64) ([]domain.AttributeNode, error) {
	node, err := s.GetNodeByID(ctx, id)
	if err != nil {
		return nil, err
	}
	paths := domain.AncestorPaths(node.MaterializedPath)
	if len(paths) == 0 {
		return []domain.AttributeNode{}, nil
	}
	query := `SELECT ` + nodeColumns + ` FROM configurator.attribute_nodes WHERE materialized_path = ANY($1) ORDER BY depth;`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(paths))
	if err != nil {
		return nil, fmt.Errorf("store: GetAncestors failed to query nodes: %w", err)
	}
	defer rows.Close()

	ancestors, err := collectNodes(rows, "GetAncestors")
	if err != nil {
		return nil, err
	}
	if len(ancestors) != len(paths) {
		return nil, &domain.CatalogIntegrityError{
			NodeID: id,
			Path:   node.MaterializedPath,
			Reason: fmt.Sprintf("expected %d ancestors, found %d", len(paths), len(ancestors)),
		}
	}
	return ancestors, nil
}

func (s *PostgresStore) GetSubtree(ctx context.Context, categoryID int64) ([]domain.AttributeNode, error) {
	query := `SELECT ` + nodeColumns + ` FROM configurator.attribute_nodes WHERE category_id = $1 ORDER BY materialized_path;`
	rows, err := s.db.QueryContext(ctx, query, categoryID)
	if err != nil {
		return nil, fmt.Errorf("store: GetSubtree failed to query nodes: %w", err)
	}
	defer rows.Close()
	return collectNodes(rows, "GetSubtree")
}

func collectNodes(rows *sql.Rows, op string) ([]domain.AttributeNode, error) {
	nodes := []domain.AttributeNode{}
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("store: %s failed to scan row: %w", op, err)
		}
		nodes = append(nodes, *node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: %s iteration error: %w", op, err)
	}
	return nodes, nil
}

// MoveNode reparents a node and rewrites the materialized path and depth of
// the node and every descendant in a single UPDATE inside one transaction.
// The moved row and the new parent are locked first; if anything fails the
// rollback restores the pre-move state, so readers never see a half-rewritten
// subtree.
func (s *PostgresStore) MoveNode(ctx context.Context, id int64, newParentID *int64) (*domain.AttributeNode, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: MoveNode failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	lockQuery := `SELECT ` + nodeColumns + ` FROM configurator.attribute_nodes WHERE id = $1 FOR UPDATE;`
	node, err := scanNode(tx.QueryRowContext(ctx, lockQuery, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNodeNotFound
		}
		return nil, fmt.Errorf("store: MoveNode failed to lock node: %w", err)
	}

	newParentPath := ""
	newParentDepth := int32(-1)
	if newParentID != nil {
		if *newParentID == id {
			return nil, ErrNodeCycle
		}
		parent, err := scanNode(tx.QueryRowContext(ctx, lockQuery, *newParentID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrParentNodeNotFound
			}
			return nil, fmt.Errorf("store: MoveNode failed to lock new parent: %w", err)
		}
		if parent.MaterializedPath == node.MaterializedPath ||
			strings.HasPrefix(parent.MaterializedPath, node.MaterializedPath+".") {
			return nil, ErrNodeCycle
		}
		newParentPath = parent.MaterializedPath
		newParentDepth = parent.Depth
	}

	oldPath := node.MaterializedPath
	newPath := domain.ChildPath(newParentPath, id)
	depthDelta := (newParentDepth + 1) - node.Depth

	rewriteQuery := `
		UPDATE configurator.attribute_nodes
		SET materialized_path = $1 || substr(materialized_path, $2), depth = depth + $3, updated_at = CURRENT_TIMESTAMP
		WHERE materialized_path = $4 OR materialized_path LIKE $5;
	`
	if _, err := tx.ExecContext(ctx, rewriteQuery, newPath, len(oldPath)+1, depthDelta, oldPath, oldPath+".%"); err != nil {
		return nil, fmt.Errorf("store: MoveNode failed to rewrite subtree paths: %w", err)
	}

	reparentQuery := `
		UPDATE configurator.attribute_nodes
		SET parent_id = $1
		WHERE id = $2
		RETURNING ` + nodeColumns + `;`
	moved, err := scanNode(tx.QueryRowContext(ctx, reparentQuery, newParentID, id))
	if err != nil {
		return nil, fmt.Errorf("store: MoveNode failed to reparent node: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: MoveNode failed to commit: %w", err)
	}
	return moved, nil
}

// DeleteSubtree removes the node and all descendants by path prefix, first
// clearing any configuration selections that reference them. A plain FK
// cascade would only remove direct references; the prefix delete is what
// keeps path arithmetic valid for everything that remains.
func (s *PostgresStore) DeleteSubtree(ctx context.Context, id int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: DeleteSubtree failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var path string
	pathQuery := `SELECT materialized_path FROM configurator.attribute_nodes WHERE id = $1 FOR UPDATE;`
	if err := tx.QueryRowContext(ctx, pathQuery, id).Scan(&path); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNodeNotFound
		}
		return 0, fmt.Errorf("store: DeleteSubtree failed to lock node: %w", err)
	}

	selectionsQuery := `
		DELETE FROM configurator.configuration_selections
		WHERE attribute_node_id IN (
			SELECT id FROM configurator.attribute_nodes
			WHERE materialized_path = $1 OR materialized_path LIKE $2
		);
	`
	if _, err := tx.ExecContext(ctx, selectionsQuery, path, path+".%"); err != nil {
		return 0, fmt.Errorf("store: DeleteSubtree failed to delete selections: %w", err)
	}

	nodesQuery := `DELETE FROM configurator.attribute_nodes WHERE materialized_path = $1 OR materialized_path LIKE $2;`
	result, err := tx.ExecContext(ctx, nodesQuery, path, path+".%")
	if err != nil {
		return 0, fmt.Errorf("store: DeleteSubtree failed to delete nodes: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: DeleteSubtree failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: DeleteSubtree failed to commit: %w", err)
	}
	return removed, nil
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		log.Println("INFO: Closing database connection pool...")
		if err := s.db.Close(); err != nil {
			log.Printf("ERROR: Failed to close database connection pool: %v", err)
			return err
		}
		log.Println("INFO: Database connection pool closed successfully.")
	}
	return nil
}
