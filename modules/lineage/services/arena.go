package services

import (
	"cmp"
	"context"
	"slices"

	"github.com/jacksonlee411/metaregistry/modules/lineage/domain/types"
)

// arena is a read-only, index-addressed copy of one tenant's lineage graph.
// Adjacency lists hold indexes into edges and are sorted so traversals are
// deterministic.
type arena struct {
	nodes map[string]types.LineageNode
	edges []types.LineageEdge
	out   map[string][]int
	in    map[string][]int
}

func newArena(snap types.GraphSnapshot) *arena {
	a := &arena{
		nodes: make(map[string]types.LineageNode, len(snap.Nodes)),
		edges: snap.Edges,
		out:   make(map[string][]int),
		in:    make(map[string][]int),
	}
	for _, n := range snap.Nodes {
		a.nodes[n.EntityID] = n
	}
	for i, e := range a.edges {
		a.out[e.SourceID] = append(a.out[e.SourceID], i)
		a.in[e.TargetID] = append(a.in[e.TargetID], i)
	}
	for _, list := range a.out {
		slices.SortFunc(list, func(x, y int) int {
			return cmp.Or(cmp.Compare(a.edges[x].TargetID, a.edges[y].TargetID), cmp.Compare(a.edges[x].EdgeType, a.edges[y].EdgeType))
		})
	}
	for _, list := range a.in {
		slices.SortFunc(list, func(x, y int) int {
			return cmp.Or(cmp.Compare(a.edges[x].SourceID, a.edges[y].SourceID), cmp.Compare(a.edges[x].EdgeType, a.edges[y].EdgeType))
		})
	}
	return a
}

// walk runs a level-by-level BFS from root. Nodes are reported once, at the
// level they are first reached; the edges between reached nodes that were
// followed are reported once each.
func (a *arena) walk(ctx context.Context, root string, dir types.Direction, depth int, nodeCap int) (types.LineageGraph, error) {
	out := types.LineageGraph{
		Direction:      dir,
		EffectiveDepth: depth,
		Nodes:          []types.LineageNode{},
		Edges:          []types.LineageEdge{},
	}
	out.Root = a.nodes[root]
	out.Root.PathConfidence = 1

	confidence := map[string]float64{root: 1}
	followed := make(map[int]struct{})
	frontier := []string{root}

	for level := 1; level <= depth && len(frontier) > 0; level++ {
		if err := ctx.Err(); err != nil {
			return types.LineageGraph{}, err
		}
		var next []string
		for _, id := range frontier {
			for _, ei := range a.adjacent(id, dir) {
				e := a.edges[ei]
				other := e.TargetID
				if dir == types.Upstream {
					other = e.SourceID
				}
				n, registered := a.nodes[other]
				if !registered {
					continue
				}
				if _, seen := confidence[other]; !seen {
					if len(out.Nodes) >= nodeCap {
						out.Truncated = true
						continue
					}
					// First reach is along a shortest path.
					confidence[other] = confidence[id] * float64(e.Confidence) / 100
					n.Level = level
					n.PathConfidence = confidence[other]
					out.Nodes = append(out.Nodes, n)
					next = append(next, other)
				}
				if _, dup := followed[ei]; !dup {
					followed[ei] = struct{}{}
					out.Edges = append(out.Edges, e)
				}
			}
		}
		frontier = next
	}
	out.CycleDetected = hasCycle(out.Edges)
	return out, nil
}

func (a *arena) adjacent(id string, dir types.Direction) []int {
	if dir == types.Upstream {
		return a.in[id]
	}
	return a.out[id]
}

// hasCycle reports whether edges contain a directed cycle, by Kahn's
// algorithm: a cycle exists iff some node never reaches in-degree zero.
// Converging paths are not cycles.
func hasCycle(edges []types.LineageEdge) bool {
	indegree := make(map[string]int)
	succ := make(map[string][]string)
	for _, e := range edges {
		if _, ok := indegree[e.SourceID]; !ok {
			indegree[e.SourceID] = 0
		}
		indegree[e.TargetID]++
		succ[e.SourceID] = append(succ[e.SourceID], e.TargetID)
	}
	queue := make([]string, 0, len(indegree))
	for id, d := range indegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	removed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		removed++
		for _, t := range succ[id] {
			indegree[t]--
			if indegree[t] == 0 {
				queue = append(queue, t)
			}
		}
	}
	return removed < len(indegree)
}
