package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacksonlee411/metaregistry/internal/events"
	"github.com/jacksonlee411/metaregistry/modules/lineage/domain/ports"
	"github.com/jacksonlee411/metaregistry/modules/lineage/domain/types"
	"github.com/jacksonlee411/metaregistry/modules/lineage/infrastructure/persistence"
	"github.com/jacksonlee411/metaregistry/pkg/metaerr"
)

func newEngine(t *testing.T, store ports.LineageStore, opts GraphOptions) (*GraphEngine, *[]events.MetadataChanged) {
	t.Helper()
	bus := events.NewBus(nil)
	var mu sync.Mutex
	var seen []events.MetadataChanged
	bus.Subscribe(events.PhaseCommitted, "test", func(_ context.Context, evt events.MetadataChanged) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, evt)
		return nil
	})
	return NewGraphEngine(store, bus, nil, opts), &seen
}

func register(t *testing.T, g *GraphEngine, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := g.RegisterEntity(context.Background(), "t1", RegisterEntityRequest{EntityID: id, EntityType: "column"})
		require.NoError(t, err)
	}
}

func link(t *testing.T, g *GraphEngine, source, target string, edgeType types.EdgeType) {
	t.Helper()
	_, err := g.AddEdge(context.Background(), "t1", AddEdgeRequest{SourceID: source, TargetID: target, EdgeType: string(edgeType)})
	require.NoError(t, err)
}

func entityIDs(nodes []types.LineageNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, fmt.Sprintf("%s@%d", n.EntityID, n.Level))
	}
	return out
}

func TestUpstream_RevenueGross(t *testing.T) {
	ctx := context.Background()
	g, _ := newEngine(t, persistence.NewLineageMemoryStore(), GraphOptions{})
	register(t, g, "invoices.amount", "etl", "revenue_gross")
	link(t, g, "invoices.amount", "etl", types.EdgeDirect)
	link(t, g, "etl", "revenue_gross", types.EdgeAggregation)

	got, err := g.Upstream(ctx, "t1", "revenue_gross", 5)
	require.NoError(t, err)
	assert.Equal(t, "revenue_gross", got.Root.EntityID)
	assert.Equal(t, types.Upstream, got.Direction)
	assert.Equal(t, []string{"etl@1", "invoices.amount@2"}, entityIDs(got.Nodes))
	require.Len(t, got.Edges, 2)
	assert.Equal(t, types.EdgeAggregation, got.Edges[0].EdgeType)
	assert.Equal(t, types.EdgeDirect, got.Edges[1].EdgeType)
	assert.False(t, got.CycleDetected)
	assert.False(t, got.DepthClamped)

	// A second path into revenue_gross converges on a node already reached.
	link(t, g, "invoices.amount", "revenue_gross", types.EdgeIndirect)
	got, err = g.Upstream(ctx, "t1", "revenue_gross", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"etl@1", "invoices.amount@1"}, entityIDs(got.Nodes))
	assert.Len(t, got.Edges, 3)
	assert.False(t, got.CycleDetected)

	down, err := g.Downstream(ctx, "t1", "revenue_gross", 5)
	require.NoError(t, err)
	assert.Empty(t, down.Nodes)
	assert.Empty(t, down.Edges)
}

func TestDownstream_CycleTerminates(t *testing.T) {
	g, _ := newEngine(t, persistence.NewLineageMemoryStore(), GraphOptions{})
	register(t, g, "A", "B", "C")
	link(t, g, "A", "B", types.EdgeDirect)
	link(t, g, "B", "C", types.EdgeDirect)
	link(t, g, "C", "A", types.EdgeDirect)

	got, err := g.Downstream(context.Background(), "t1", "A", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"B@1", "C@2"}, entityIDs(got.Nodes))
	assert.Len(t, got.Edges, 3)
	assert.True(t, got.CycleDetected)
	assert.Equal(t, 10, got.EffectiveDepth)
}

func TestDownstream_DiamondIsNotACycle(t *testing.T) {
	g, _ := newEngine(t, persistence.NewLineageMemoryStore(), GraphOptions{})
	register(t, g, "A", "B", "C", "D")
	link(t, g, "A", "B", types.EdgeDirect)
	link(t, g, "A", "C", types.EdgeDirect)
	link(t, g, "B", "D", types.EdgeJoin)
	link(t, g, "C", "D", types.EdgeJoin)

	got, err := g.Downstream(context.Background(), "t1", "A", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"B@1", "C@1", "D@2"}, entityIDs(got.Nodes))
	assert.Len(t, got.Edges, 4)
	assert.False(t, got.CycleDetected)
}

func TestTraversal_DepthIsClamped(t *testing.T) {
	ctx := context.Background()
	g, _ := newEngine(t, persistence.NewLineageMemoryStore(), GraphOptions{})
	chain := make([]string, 13)
	for i := range chain {
		chain[i] = fmt.Sprintf("n%02d", i)
	}
	register(t, g, chain...)
	for i := 1; i < len(chain); i++ {
		link(t, g, chain[i-1], chain[i], types.EdgeDerived)
	}

	got, err := g.Downstream(ctx, "t1", "n00", 50)
	require.NoError(t, err)
	assert.Equal(t, 50, got.RequestedDepth)
	assert.Equal(t, 10, got.EffectiveDepth)
	assert.True(t, got.DepthClamped)
	assert.Len(t, got.Nodes, 10)

	got, err = g.Downstream(ctx, "t1", "n00", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, got.EffectiveDepth)
	assert.True(t, got.DepthClamped)
	assert.Equal(t, []string{"n01@1"}, entityIDs(got.Nodes))
}

func TestTraversal_NodeCapTruncates(t *testing.T) {
	g, _ := newEngine(t, persistence.NewLineageMemoryStore(), GraphOptions{NodeCap: 2})
	register(t, g, "hub", "a", "b", "c")
	link(t, g, "hub", "a", types.EdgeDirect)
	link(t, g, "hub", "b", types.EdgeDirect)
	link(t, g, "hub", "c", types.EdgeDirect)

	got, err := g.Downstream(context.Background(), "t1", "hub", 5)
	require.NoError(t, err)
	assert.True(t, got.Truncated)
	assert.Equal(t, []string{"a@1", "b@1"}, entityIDs(got.Nodes))
	assert.Len(t, got.Edges, 2)
}

func TestTraversal_PathConfidenceMultiplies(t *testing.T) {
	ctx := context.Background()
	g, _ := newEngine(t, persistence.NewLineageMemoryStore(), GraphOptions{})
	register(t, g, "A", "B", "C")
	c90, c50 := 90, 50
	_, err := g.AddEdge(ctx, "t1", AddEdgeRequest{SourceID: "A", TargetID: "B", Confidence: &c90})
	require.NoError(t, err)
	_, err = g.AddEdge(ctx, "t1", AddEdgeRequest{SourceID: "B", TargetID: "C", Confidence: &c50})
	require.NoError(t, err)

	got, err := g.Downstream(ctx, "t1", "A", 5)
	require.NoError(t, err)
	require.Len(t, got.Nodes, 2)
	assert.InDelta(t, 1.0, got.Root.PathConfidence, 1e-9)
	assert.InDelta(t, 0.9, got.Nodes[0].PathConfidence, 1e-9)
	assert.InDelta(t, 0.45, got.Nodes[1].PathConfidence, 1e-9)
}

func TestTraversal_Errors(t *testing.T) {
	g, _ := newEngine(t, persistence.NewLineageMemoryStore(), GraphOptions{})
	register(t, g, "A")

	_, err := g.Upstream(context.Background(), "t1", "ghost", 5)
	assert.True(t, metaerr.IsNotFound(err))
	_, err = g.Upstream(context.Background(), "t2", "A", 5)
	assert.True(t, metaerr.IsNotFound(err), "entities are tenant scoped")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Downstream(ctx, "t1", "A", 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAddEdge_Validation(t *testing.T) {
	ctx := context.Background()
	g, _ := newEngine(t, persistence.NewLineageMemoryStore(), GraphOptions{})
	register(t, g, "A", "B")
	bad := 101

	cases := map[string]AddEdgeRequest{
		"unknown source": {SourceID: "X", TargetID: "B"},
		"unknown target": {SourceID: "A", TargetID: "X"},
		"self loop":      {SourceID: "A", TargetID: "A"},
		"edge type":      {SourceID: "A", TargetID: "B", EdgeType: "COPY"},
		"confidence":     {SourceID: "A", TargetID: "B", Confidence: &bad},
		"missing source": {TargetID: "B"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := g.AddEdge(ctx, "t1", req)
			assert.True(t, metaerr.IsValidation(err), "err=%v", err)
		})
	}

	e, err := g.AddEdge(ctx, "t1", AddEdgeRequest{SourceID: "A", TargetID: "B"})
	require.NoError(t, err)
	assert.Equal(t, types.EdgeDirect, e.EdgeType)
	assert.Equal(t, 100, e.Confidence)

	_, err = g.AddEdge(ctx, "t1", AddEdgeRequest{SourceID: "A", TargetID: "B", EdgeType: "direct"})
	assert.True(t, metaerr.IsConflict(err))

	_, err = g.AddEdge(ctx, "t1", AddEdgeRequest{SourceID: "A", TargetID: "B", EdgeType: "JOIN"})
	assert.NoError(t, err, "a different edge type is a different edge")
}

// racingStore simulates a concurrent writer: the first InsertEdge reports a
// uniqueness violation, optionally after the rival's edge landed.
type racingStore struct {
	*persistence.LineageMemoryStore
	rivalWins bool
	failed    bool
}

func (s *racingStore) InsertEdge(ctx context.Context, e types.LineageEdge) error {
	if !s.failed {
		s.failed = true
		if s.rivalWins {
			rival := e
			rival.ID = "rival"
			_ = s.LineageMemoryStore.InsertEdge(ctx, rival)
		}
		return ports.ErrUniqueViolation
	}
	return s.LineageMemoryStore.InsertEdge(ctx, e)
}

func TestAddEdge_RetriesOnceOnUniqueViolation(t *testing.T) {
	ctx := context.Background()

	store := &racingStore{LineageMemoryStore: persistence.NewLineageMemoryStore()}
	g, seen := newEngine(t, store, GraphOptions{})
	register(t, g, "A", "B")
	_, err := g.AddEdge(ctx, "t1", AddEdgeRequest{SourceID: "A", TargetID: "B"})
	require.NoError(t, err)
	assert.Equal(t, events.KindLineageEdge, (*seen)[len(*seen)-1].EntityKind)

	store = &racingStore{LineageMemoryStore: persistence.NewLineageMemoryStore(), rivalWins: true}
	g, _ = newEngine(t, store, GraphOptions{})
	register(t, g, "A", "B")
	_, err = g.AddEdge(ctx, "t1", AddEdgeRequest{SourceID: "A", TargetID: "B"})
	assert.True(t, metaerr.IsConflict(err))
}

func TestRegisterEntity_Idempotent(t *testing.T) {
	ctx := context.Background()
	g, seen := newEngine(t, persistence.NewLineageMemoryStore(), GraphOptions{})

	first, err := g.RegisterEntity(ctx, "t1", RegisterEntityRequest{EntityID: "orders", EntityType: "table"})
	require.NoError(t, err)
	assert.Equal(t, "orders", first.EntityName)

	again, err := g.RegisterEntity(ctx, "t1", RegisterEntityRequest{EntityID: "orders", EntityType: "table"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Len(t, *seen, 1)

	renamed, err := g.RegisterEntity(ctx, "t1", RegisterEntityRequest{EntityID: "orders", EntityName: "Orders", FullyQualifiedName: "erp.public.orders"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, renamed.ID)
	assert.Equal(t, "table", renamed.EntityType)
	require.Len(t, *seen, 2)
	assert.Equal(t, events.ChangeUpdated, (*seen)[1].ChangeType)
	assert.Equal(t, []string{"entity_name", "fully_qualified_name"}, (*seen)[1].ChangedFields)

	_, err = g.RegisterEntity(ctx, "t1", RegisterEntityRequest{EntityID: "  "})
	assert.True(t, metaerr.IsValidation(err))
}

func TestCoverageAndRetire(t *testing.T) {
	ctx := context.Background()
	g, _ := newEngine(t, persistence.NewLineageMemoryStore(), GraphOptions{})

	cov, err := g.Coverage(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.Coverage{}, cov)

	register(t, g, "A", "B", "C", "D")
	link(t, g, "A", "B", types.EdgeDirect)
	cov, err = g.Coverage(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.Coverage{RegisteredEntities: 4, LinkedEntities: 2, Percent: 50}, cov)

	link(t, g, "B", "C", types.EdgeDirect)
	cov, _ = g.Coverage(ctx, "t1")
	assert.Equal(t, 75, cov.Percent)

	require.NoError(t, g.RetireEntity(ctx, "t1", "B"))
	cov, _ = g.Coverage(ctx, "t1")
	assert.Equal(t, types.Coverage{RegisteredEntities: 3, LinkedEntities: 0, Percent: 0}, cov)

	down, err := g.Downstream(ctx, "t1", "A", 5)
	require.NoError(t, err)
	assert.Empty(t, down.Nodes)

	assert.True(t, metaerr.IsNotFound(g.RetireEntity(ctx, "t1", "B")))
}
