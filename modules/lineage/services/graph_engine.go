package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jacksonlee411/metaregistry/internal/events"
	"github.com/jacksonlee411/metaregistry/modules/lineage/domain/ports"
	"github.com/jacksonlee411/metaregistry/modules/lineage/domain/types"
	"github.com/jacksonlee411/metaregistry/pkg/metaerr"
)

var (
	newUUID = func() string { return uuid.Must(uuid.NewV7()).String() }
	nowUTC  = func() time.Time { return time.Now().UTC() }
)

const (
	kindEntity = "lineage_entity"
	kindEdge   = "lineage_edge"
)

type RegisterEntityRequest struct {
	EntityID           string `json:"entity_id"`
	EntityName         string `json:"entity_name"`
	EntityType         string `json:"entity_type"`
	FullyQualifiedName string `json:"fully_qualified_name"`
}

// AddEdgeRequest describes data flowing from SourceID into TargetID.
// Confidence defaults to 100 when nil.
type AddEdgeRequest struct {
	SourceID            string `json:"source_id"`
	TargetID            string `json:"target_id"`
	EdgeType            string `json:"edge_type"`
	TransformationLogic string `json:"transformation_logic,omitempty"`
	Confidence          *int   `json:"confidence,omitempty"`
}

type GraphOptions struct {
	// NodeCap bounds the nodes a single traversal returns; <= 0 means DefaultNodeCap.
	NodeCap int
}

type GraphEngine struct {
	store   ports.LineageStore
	bus     *events.Bus
	logger  *zap.Logger
	nodeCap int
}

func NewGraphEngine(store ports.LineageStore, bus *events.Bus, logger *zap.Logger, opts GraphOptions) *GraphEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.NodeCap <= 0 {
		opts.NodeCap = types.DefaultNodeCap
	}
	return &GraphEngine{store: store, bus: bus, logger: logger, nodeCap: opts.NodeCap}
}

// RegisterEntity creates the entity or refreshes its descriptive fields.
// Registering an unchanged entity publishes nothing.
func (g *GraphEngine) RegisterEntity(ctx context.Context, tenantID string, req RegisterEntityRequest) (types.LineageNode, error) {
	entityID := strings.TrimSpace(req.EntityID)
	if entityID == "" {
		return types.LineageNode{}, metaerr.NewValidation("entity_id", "entity_id is required")
	}
	n := types.LineageNode{
		ID:                 newUUID(),
		TenantID:           tenantID,
		EntityID:           entityID,
		EntityName:         strings.TrimSpace(req.EntityName),
		EntityType:         strings.TrimSpace(req.EntityType),
		FullyQualifiedName: strings.TrimSpace(req.FullyQualifiedName),
		CreatedAt:          nowUTC(),
	}
	if n.EntityName == "" {
		n.EntityName = entityID
	}

	for range 2 {
		current, err := g.store.GetEntity(ctx, tenantID, entityID)
		if err == nil {
			return g.refreshEntity(ctx, current, n)
		}
		if !errors.Is(err, ports.ErrEntityNotFound) {
			return types.LineageNode{}, err
		}
		evt := events.MetadataChanged{
			TenantID:      tenantID,
			EntityID:      entityID,
			EntityKind:    events.KindLineageEntity,
			ChangeType:    events.ChangeCreated,
			ChangedFields: []string{"*"},
			Subject:       n,
		}
		err = g.bus.Emit(ctx, evt, func() error { return g.store.InsertEntity(ctx, n) })
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, ports.ErrUniqueViolation) {
			return types.LineageNode{}, err
		}
		// A concurrent registration won; refresh it instead.
	}
	return types.LineageNode{}, metaerr.NewConflict(kindEntity, entityID)
}

func (g *GraphEngine) refreshEntity(ctx context.Context, current types.LineageNode, req types.LineageNode) (types.LineageNode, error) {
	next := current
	var changed []string
	if req.EntityName != current.EntityName {
		next.EntityName = req.EntityName
		changed = append(changed, "entity_name")
	}
	if req.EntityType != "" && req.EntityType != current.EntityType {
		next.EntityType = req.EntityType
		changed = append(changed, "entity_type")
	}
	if req.FullyQualifiedName != "" && req.FullyQualifiedName != current.FullyQualifiedName {
		next.FullyQualifiedName = req.FullyQualifiedName
		changed = append(changed, "fully_qualified_name")
	}
	if len(changed) == 0 {
		return current, nil
	}
	evt := events.MetadataChanged{
		TenantID:      current.TenantID,
		EntityID:      current.EntityID,
		EntityKind:    events.KindLineageEntity,
		ChangeType:    events.ChangeUpdated,
		ChangedFields: changed,
		Subject:       next,
	}
	if err := g.bus.Emit(ctx, evt, func() error { return g.store.UpdateEntity(ctx, next) }); err != nil {
		return types.LineageNode{}, err
	}
	return next, nil
}

// RetireEntity removes an entity together with every edge that touches it.
func (g *GraphEngine) RetireEntity(ctx context.Context, tenantID string, entityID string) error {
	n, err := g.store.GetEntity(ctx, tenantID, entityID)
	if errors.Is(err, ports.ErrEntityNotFound) {
		return metaerr.NewNotFound(kindEntity, entityID)
	}
	if err != nil {
		return err
	}
	evt := events.MetadataChanged{
		TenantID:   tenantID,
		EntityID:   entityID,
		EntityKind: events.KindLineageEntity,
		ChangeType: events.ChangeDeleted,
		Subject:    n,
	}
	err = g.bus.Emit(ctx, evt, func() error { return g.store.DeleteEntity(ctx, tenantID, entityID) })
	if errors.Is(err, ports.ErrEntityNotFound) {
		return metaerr.NewNotFound(kindEntity, entityID)
	}
	if err != nil {
		return err
	}
	g.logger.Info("lineage entity retired", zap.String("tenant_id", tenantID), zap.String("entity_id", entityID))
	return nil
}

func (g *GraphEngine) AddEdge(ctx context.Context, tenantID string, req AddEdgeRequest) (types.LineageEdge, error) {
	source := strings.TrimSpace(req.SourceID)
	target := strings.TrimSpace(req.TargetID)
	if source == "" {
		return types.LineageEdge{}, metaerr.NewValidation("source_id", "source_id is required")
	}
	if target == "" {
		return types.LineageEdge{}, metaerr.NewValidation("target_id", "target_id is required")
	}
	if source == target {
		return types.LineageEdge{}, metaerr.NewValidation("target_id", "an entity cannot feed itself")
	}
	edgeType := types.EdgeDirect
	if strings.TrimSpace(req.EdgeType) != "" {
		t, ok := types.ParseEdgeType(req.EdgeType)
		if !ok {
			return types.LineageEdge{}, metaerr.NewValidation("edge_type", "unknown edge_type "+req.EdgeType)
		}
		edgeType = t
	}
	confidence := types.DefaultConfidence
	if req.Confidence != nil {
		confidence = *req.Confidence
	}
	if confidence < 0 || confidence > 100 {
		return types.LineageEdge{}, metaerr.NewValidation("confidence", "confidence must be between 0 and 100")
	}
	for _, end := range [...]struct{ field, id string }{{"source_id", source}, {"target_id", target}} {
		if _, err := g.store.GetEntity(ctx, tenantID, end.id); errors.Is(err, ports.ErrEntityNotFound) {
			return types.LineageEdge{}, metaerr.NewValidation(end.field, "entity "+end.id+" is not registered")
		} else if err != nil {
			return types.LineageEdge{}, err
		}
	}

	e := types.LineageEdge{
		ID:                  newUUID(),
		TenantID:            tenantID,
		SourceID:            source,
		TargetID:            target,
		EdgeType:            edgeType,
		TransformationLogic: strings.TrimSpace(req.TransformationLogic),
		Confidence:          confidence,
		CreatedAt:           nowUTC(),
	}
	conflict := metaerr.NewConflict(kindEdge, source+"->"+target+" "+string(edgeType))
	recheck := func() error {
		if _, err := g.store.FindEdge(ctx, tenantID, source, target, edgeType); err == nil {
			return conflict
		} else if !errors.Is(err, ports.ErrEdgeNotFound) {
			return err
		}
		return nil
	}
	if err := recheck(); err != nil {
		return types.LineageEdge{}, err
	}

	evt := events.MetadataChanged{
		TenantID:      tenantID,
		EntityID:      e.ID,
		EntityKind:    events.KindLineageEdge,
		ChangeType:    events.ChangeCreated,
		ChangedFields: []string{"*"},
		Subject:       e,
	}
	err := g.bus.Emit(ctx, evt, func() error {
		for range 2 {
			err := g.store.InsertEdge(ctx, e)
			if !errors.Is(err, ports.ErrUniqueViolation) {
				return err
			}
			if err := recheck(); err != nil {
				return err
			}
		}
		return conflict
	})
	if errors.Is(err, ports.ErrEntityNotFound) {
		// An endpoint was retired between the check and the insert.
		return types.LineageEdge{}, metaerr.NewValidation("source_id", "edge endpoints are not registered")
	}
	if err != nil {
		return types.LineageEdge{}, err
	}
	return e, nil
}

func (g *GraphEngine) Upstream(ctx context.Context, tenantID string, entityID string, depth int) (types.LineageGraph, error) {
	return g.traverse(ctx, tenantID, entityID, types.Upstream, depth)
}

func (g *GraphEngine) Downstream(ctx context.Context, tenantID string, entityID string, depth int) (types.LineageGraph, error) {
	return g.traverse(ctx, tenantID, entityID, types.Downstream, depth)
}

func (g *GraphEngine) traverse(ctx context.Context, tenantID string, entityID string, dir types.Direction, depth int) (types.LineageGraph, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return types.LineageGraph{}, metaerr.NewValidation("entity_id", "entity_id is required")
	}
	if err := ctx.Err(); err != nil {
		return types.LineageGraph{}, err
	}
	snap, err := g.store.Snapshot(ctx, tenantID)
	if err != nil {
		return types.LineageGraph{}, err
	}
	a := newArena(snap)
	if _, ok := a.nodes[entityID]; !ok {
		return types.LineageGraph{}, metaerr.NewNotFound(kindEntity, entityID)
	}
	effective, clamped := types.ClampDepth(depth)
	out, err := a.walk(ctx, entityID, dir, effective, g.nodeCap)
	if err != nil {
		return types.LineageGraph{}, err
	}
	out.RequestedDepth = depth
	out.DepthClamped = clamped
	if out.Truncated {
		g.logger.Warn("lineage traversal truncated",
			zap.String("tenant_id", tenantID),
			zap.String("entity_id", entityID),
			zap.String("direction", string(dir)),
			zap.Int("node_cap", g.nodeCap),
		)
	}
	return out, nil
}

// Coverage is the share of registered entities that appear in at least one edge.
func (g *GraphEngine) Coverage(ctx context.Context, tenantID string) (types.Coverage, error) {
	snap, err := g.store.Snapshot(ctx, tenantID)
	if err != nil {
		return types.Coverage{}, err
	}
	registered := make(map[string]struct{}, len(snap.Nodes))
	for _, n := range snap.Nodes {
		registered[n.EntityID] = struct{}{}
	}
	linked := make(map[string]struct{})
	for _, e := range snap.Edges {
		for _, id := range []string{e.SourceID, e.TargetID} {
			if _, ok := registered[id]; ok {
				linked[id] = struct{}{}
			}
		}
	}
	out := types.Coverage{RegisteredEntities: len(registered), LinkedEntities: len(linked)}
	if out.RegisteredEntities > 0 {
		out.Percent = int(math.Round(100 * float64(out.LinkedEntities) / float64(out.RegisteredEntities)))
	}
	return out, nil
}
