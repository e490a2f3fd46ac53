package types

import (
	"strings"
	"time"
)

type EdgeType string

const (
	EdgeDirect      EdgeType = "DIRECT"
	EdgeIndirect    EdgeType = "INDIRECT"
	EdgeDerived     EdgeType = "DERIVED"
	EdgeAggregation EdgeType = "AGGREGATION"
	EdgeJoin        EdgeType = "JOIN"
)

func ParseEdgeType(s string) (EdgeType, bool) {
	t := EdgeType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case EdgeDirect, EdgeIndirect, EdgeDerived, EdgeAggregation, EdgeJoin:
		return t, true
	default:
		return "", false
	}
}

type Direction string

const (
	Upstream   Direction = "UPSTREAM"
	Downstream Direction = "DOWNSTREAM"
)

const (
	MinDepth          = 1
	MaxDepth          = 10
	DefaultDepth      = 5
	DefaultNodeCap    = 1000
	DefaultConfidence = 100
)

// ClampDepth bounds depth to [MinDepth, MaxDepth] and reports whether it moved.
func ClampDepth(depth int) (int, bool) {
	switch {
	case depth < MinDepth:
		return MinDepth, true
	case depth > MaxDepth:
		return MaxDepth, true
	default:
		return depth, false
	}
}

// LineageNode is a registered data entity. Level and PathConfidence are only
// set on traversal results.
type LineageNode struct {
	ID                 string    `json:"id"`
	TenantID           string    `json:"tenant_id"`
	EntityID           string    `json:"entity_id"`
	EntityName         string    `json:"entity_name"`
	EntityType         string    `json:"entity_type"`
	FullyQualifiedName string    `json:"fully_qualified_name"`
	CreatedAt          time.Time `json:"created_at"`
	Level              int       `json:"level"`
	PathConfidence     float64   `json:"path_confidence"`
}

// LineageEdge points from the entity data flows out of to the entity it flows
// into. SourceID and TargetID are entity ids.
type LineageEdge struct {
	ID                  string    `json:"id"`
	TenantID            string    `json:"tenant_id"`
	SourceID            string    `json:"source_id"`
	TargetID            string    `json:"target_id"`
	EdgeType            EdgeType  `json:"edge_type"`
	TransformationLogic string    `json:"transformation_logic,omitempty"`
	Confidence          int       `json:"confidence"`
	CreatedAt           time.Time `json:"created_at"`
}

// Key identifies an edge for uniqueness purposes.
func (e LineageEdge) Key() string {
	return e.SourceID + "\x00" + e.TargetID + "\x00" + string(e.EdgeType)
}

// GraphSnapshot is the tenant's whole lineage graph as read in one transaction.
type GraphSnapshot struct {
	Nodes []LineageNode
	Edges []LineageEdge
}

type LineageGraph struct {
	Root           LineageNode   `json:"root"`
	Direction      Direction     `json:"direction"`
	RequestedDepth int           `json:"requested_depth"`
	EffectiveDepth int           `json:"effective_depth"`
	DepthClamped   bool          `json:"depth_clamped"`
	Nodes          []LineageNode `json:"nodes"`
	Edges          []LineageEdge `json:"edges"`
	CycleDetected  bool          `json:"cycle_detected"`
	Truncated      bool          `json:"truncated"`
}

type Coverage struct {
	RegisteredEntities int `json:"registered_entities"`
	LinkedEntities     int `json:"linked_entities"`
	Percent            int `json:"percent"`
}
