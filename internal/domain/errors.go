package domain

import "fmt"

// CatalogIntegrityError signals a broken materialized-path or parent invariant.
// Any operation touching the affected subtree must abort when it sees one; a
// half-consistent path set silently corrupts every future descendant query.
type CatalogIntegrityError struct {
	NodeID int64
	Path   string
	Reason string
}

func (e *CatalogIntegrityError) Error() string {
	return fmt.Sprintf("catalog integrity violation on node %d (path %q): %s", e.NodeID, e.Path, e.Reason)
}
