package persistence

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/jacksonlee411/metaregistry/modules/lineage/domain/ports"
	"github.com/jacksonlee411/metaregistry/modules/lineage/domain/types"
)

type tenantGraph struct {
	nodes map[string]types.LineageNode // by entity id
	edges map[string]types.LineageEdge // by LineageEdge.Key
}

type LineageMemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]*tenantGraph
}

func NewLineageMemoryStore() *LineageMemoryStore {
	return &LineageMemoryStore{tenants: make(map[string]*tenantGraph)}
}

var _ ports.LineageStore = (*LineageMemoryStore)(nil)

func (s *LineageMemoryStore) tenant(tenantID string, create bool) *tenantGraph {
	t, ok := s.tenants[tenantID]
	if !ok && create {
		t = &tenantGraph{
			nodes: make(map[string]types.LineageNode),
			edges: make(map[string]types.LineageEdge),
		}
		s.tenants[tenantID] = t
	}
	return t
}

func (s *LineageMemoryStore) GetEntity(_ context.Context, tenantID string, entityID string) (types.LineageNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.tenant(tenantID, false)
	if t == nil {
		return types.LineageNode{}, ports.ErrEntityNotFound
	}
	n, ok := t.nodes[entityID]
	if !ok {
		return types.LineageNode{}, ports.ErrEntityNotFound
	}
	return n, nil
}

func (s *LineageMemoryStore) InsertEntity(_ context.Context, n types.LineageNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(n.TenantID, true)
	if _, ok := t.nodes[n.EntityID]; ok {
		return ports.ErrUniqueViolation
	}
	t.nodes[n.EntityID] = n
	return nil
}

func (s *LineageMemoryStore) UpdateEntity(_ context.Context, n types.LineageNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(n.TenantID, false)
	if t == nil {
		return ports.ErrEntityNotFound
	}
	if _, ok := t.nodes[n.EntityID]; !ok {
		return ports.ErrEntityNotFound
	}
	t.nodes[n.EntityID] = n
	return nil
}

func (s *LineageMemoryStore) DeleteEntity(_ context.Context, tenantID string, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID, false)
	if t == nil {
		return ports.ErrEntityNotFound
	}
	if _, ok := t.nodes[entityID]; !ok {
		return ports.ErrEntityNotFound
	}
	delete(t.nodes, entityID)
	for k, e := range t.edges {
		if e.SourceID == entityID || e.TargetID == entityID {
			delete(t.edges, k)
		}
	}
	return nil
}

func (s *LineageMemoryStore) FindEdge(_ context.Context, tenantID string, sourceID string, targetID string, edgeType types.EdgeType) (types.LineageEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.tenant(tenantID, false)
	if t == nil {
		return types.LineageEdge{}, ports.ErrEdgeNotFound
	}
	e, ok := t.edges[types.LineageEdge{SourceID: sourceID, TargetID: targetID, EdgeType: edgeType}.Key()]
	if !ok {
		return types.LineageEdge{}, ports.ErrEdgeNotFound
	}
	return e, nil
}

// InsertEdge enforces the same constraints as the lineage_edges table: both
// endpoints registered and (source, target, edge_type) unique.
func (s *LineageMemoryStore) InsertEdge(_ context.Context, e types.LineageEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(e.TenantID, false)
	if t == nil {
		return ports.ErrEntityNotFound
	}
	if _, ok := t.nodes[e.SourceID]; !ok {
		return ports.ErrEntityNotFound
	}
	if _, ok := t.nodes[e.TargetID]; !ok {
		return ports.ErrEntityNotFound
	}
	if _, ok := t.edges[e.Key()]; ok {
		return ports.ErrUniqueViolation
	}
	t.edges[e.Key()] = e
	return nil
}

func (s *LineageMemoryStore) Snapshot(_ context.Context, tenantID string) (types.GraphSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.tenant(tenantID, false)
	if t == nil {
		return types.GraphSnapshot{}, nil
	}
	out := types.GraphSnapshot{
		Nodes: make([]types.LineageNode, 0, len(t.nodes)),
		Edges: make([]types.LineageEdge, 0, len(t.edges)),
	}
	for _, n := range t.nodes {
		out.Nodes = append(out.Nodes, n)
	}
	for _, e := range t.edges {
		out.Edges = append(out.Edges, e)
	}
	slices.SortFunc(out.Nodes, func(a, b types.LineageNode) int { return strings.Compare(a.EntityID, b.EntityID) })
	slices.SortFunc(out.Edges, func(a, b types.LineageEdge) int { return strings.Compare(a.Key(), b.Key()) })
	return out, nil
}
