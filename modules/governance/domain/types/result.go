package types

import (
	"cmp"
	"strings"
	"time"
)

type Violation struct {
	RuleCode     string   `json:"rule_code"`
	Severity     Severity `json:"severity"`
	Message      string   `json:"message"`
	TargetID     string   `json:"target_id,omitempty"`
	NotEvaluated bool     `json:"not_evaluated,omitempty"`
}

// CompareViolations orders by severity (BLOCKING first), rule code, target id.
func CompareViolations(a Violation, b Violation) int {
	if c := cmp.Compare(a.Severity.Rank(), b.Severity.Rank()); c != 0 {
		return c
	}
	if c := strings.Compare(a.RuleCode, b.RuleCode); c != 0 {
		return c
	}
	return strings.Compare(a.TargetID, b.TargetID)
}

type InvalidField struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

type QualityFinding struct {
	Dimension string  `json:"dimension"`
	Threshold float64 `json:"threshold"`
	Actual    float64 `json:"actual"`
	Passed    bool    `json:"passed"`
}

type ConformanceResult struct {
	EntityID         string           `json:"entity_id"`
	PackID           string           `json:"pack_id"`
	Score            int              `json:"score"`
	ConformantFields []string         `json:"conformant_fields"`
	MissingFields    []string         `json:"missing_fields"`
	InvalidFields    []InvalidField   `json:"invalid_fields"`
	QualityFindings  []QualityFinding `json:"quality_findings,omitempty"`
	Cached           bool             `json:"cached"`
	ComputedAt       time.Time        `json:"computed_at"`
}
