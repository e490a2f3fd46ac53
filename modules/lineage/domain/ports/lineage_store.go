package ports

import (
	"context"
	"errors"

	"github.com/jacksonlee411/metaregistry/modules/lineage/domain/types"
)

var (
	ErrEntityNotFound = errors.New("lineage_entity_not_found")
	ErrEdgeNotFound   = errors.New("lineage_edge_not_found")
	// ErrUniqueViolation reports a rejected duplicate entity id or
	// (source, target, edge_type) triple.
	ErrUniqueViolation = errors.New("unique_violation")
)

type LineageStore interface {
	GetEntity(ctx context.Context, tenantID string, entityID string) (types.LineageNode, error)
	InsertEntity(ctx context.Context, n types.LineageNode) error
	UpdateEntity(ctx context.Context, n types.LineageNode) error
	// DeleteEntity removes the node and every edge touching it.
	DeleteEntity(ctx context.Context, tenantID string, entityID string) error

	FindEdge(ctx context.Context, tenantID string, sourceID string, targetID string, edgeType types.EdgeType) (types.LineageEdge, error)
	InsertEdge(ctx context.Context, e types.LineageEdge) error

	// Snapshot reads nodes and edges together so a traversal sees one
	// consistent graph.
	Snapshot(ctx context.Context, tenantID string) (types.GraphSnapshot, error)
}
