package store

import (
	"context"

	"github.com/shopspring/decimal"

	"product-configurator-service/internal/domain"
)

// NodeStorer defines the database operations for the attribute catalog tree.
// Descendant/ancestor queries work off the materialized path; any
// implementation must preserve path-prefix query semantics and path ordering.
type NodeStorer interface {
	CreateNode(ctx context.Context, node *domain.AttributeNode) (*domain.AttributeNode, error)
	GetNodeByID(ctx context.Context, id int64) (*domain.AttributeNode, error)
	GetNodesByIDs(ctx context.Context, ids []int64) (map[int64]*domain.AttributeNode, error)
	UpdateNode(ctx context.Context, node *domain.AttributeNode) (*domain.AttributeNode, error)

	// GetChildren returns direct children; a nil parentID addresses the roots.
	GetChildren(ctx context.Context, parentID *int64) ([]domain.AttributeNode, error)
	// GetDescendants returns every node whose path has the target's path as a
	// proper prefix, ordered by path (equivalent to a pre-order walk).
	GetDescendants(ctx context.Context, id int64) ([]domain.AttributeNode, error)
	// GetAncestors returns the chain root -> ... -> parent.
	GetAncestors(ctx context.Context, id int64) ([]domain.AttributeNode, error)
	// GetSubtree returns all nodes of a product category in path order.
	GetSubtree(ctx context.Context, categoryID int64) ([]domain.AttributeNode, error)

	// MoveNode reparents a node, transactionally rewriting the path and depth
	// of the node and all of its descendants; a failure leaves the pre-move
	// state intact.
	MoveNode(ctx context.Context, id int64, newParentID *int64) (*domain.AttributeNode, error)
	// DeleteSubtree removes the node and every descendant by path prefix,
	// along with any configuration selections referencing them. It returns
	// the number of nodes removed.
	DeleteSubtree(ctx context.Context, id int64) (int64, error)
}

// ConfigurationStorer defines the database operations for customer
// configurations and their selection sets.
type ConfigurationStorer interface {
	CreateConfiguration(ctx context.Context, cfg *domain.Configuration) (*domain.Configuration, error)
	GetConfigurationByID(ctx context.Context, id int64) (*domain.Configuration, error)
	GetSelections(ctx context.Context, configurationID int64) ([]domain.ConfigurationSelection, error)

	// ReplaceSelections swaps the entire selection set and the recomputed
	// totals in one transaction (delete-all, insert-all, update totals). The
	// configuration row is locked for the duration so concurrent replacements
	// serialize instead of interleaving.
	ReplaceSelections(ctx context.Context, configurationID int64, selections []domain.ConfigurationSelection, totalPrice, totalWeight decimal.Decimal) error

	// UpdateStatus advances the configuration status; backward transitions
	// fail with ErrInvalidStatusTransition.
	UpdateStatus(ctx context.Context, id int64, status domain.ConfigurationStatus) (*domain.Configuration, error)
}

// SnapshotStorer defines the database operations for immutable quote
// snapshots.
type SnapshotStorer interface {
	// CreateSnapshot copies the configuration's current totals, breakdown and
	// technical data by value into a new immutable snapshot, advancing a
	// draft/saved configuration to quoted. The configuration row is locked so
	// snapshot creation cannot race a concurrent selection replacement.
	CreateSnapshot(ctx context.Context, configurationID int64) (*domain.QuoteSnapshot, error)
	GetSnapshotByID(ctx context.Context, id int64) (*domain.QuoteSnapshot, error)
	ListSnapshots(ctx context.Context, configurationID int64) ([]domain.QuoteSnapshot, error)
}
