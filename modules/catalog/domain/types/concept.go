package types

import (
	"maps"
	"regexp"
	"strings"
	"time"
)

type Domain string

const (
	DomainFinance    Domain = "FINANCE"
	DomainHR         Domain = "HR"
	DomainOperations Domain = "OPERATIONS"
	DomainSales      Domain = "SALES"
	DomainMarketing  Domain = "MARKETING"
	DomainGeneral    Domain = "GENERAL"
)

func ParseDomain(s string) (Domain, bool) {
	d := Domain(strings.ToUpper(strings.TrimSpace(s)))
	switch d {
	case DomainFinance, DomainHR, DomainOperations, DomainSales, DomainMarketing, DomainGeneral:
		return d, true
	default:
		return "", false
	}
}

const (
	MinGovernanceTier = 1
	MaxGovernanceTier = 4
)

var canonicalKeyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// NormalizeCanonicalKey trims and lower-cases key and reports whether the result is well formed.
func NormalizeCanonicalKey(key string) (string, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	return key, canonicalKeyPattern.MatchString(key)
}

type Concept struct {
	ID                    string         `json:"id"`
	TenantID              string         `json:"tenant_id"`
	CanonicalKey          string         `json:"canonical_key"`
	Label                 string         `json:"label"`
	Description           string         `json:"description"`
	Domain                Domain         `json:"domain"`
	ConceptType           string         `json:"concept_type"`
	GovernanceTier        int            `json:"governance_tier"`
	StandardPackIDPrimary *string        `json:"standard_pack_id_primary,omitempty"`
	IsActive              bool           `json:"is_active"`
	Fields                map[string]any `json:"fields,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// Clone returns a copy that shares no mutable state with c.
func (c Concept) Clone() Concept {
	out := c
	if c.StandardPackIDPrimary != nil {
		v := *c.StandardPackIDPrimary
		out.StandardPackIDPrimary = &v
	}
	if c.Fields != nil {
		out.Fields = maps.Clone(c.Fields)
	}
	return out
}

func (c Concept) PrimaryPack() string {
	if c.StandardPackIDPrimary == nil {
		return ""
	}
	return *c.StandardPackIDPrimary
}

type ConceptFilter struct {
	Domain          Domain
	Tier            int
	PackID          string
	Search          string
	IncludeInactive bool
}

// Matches applies the filter in memory; persistence layers that can push it down should.
func (f ConceptFilter) Matches(c Concept) bool {
	if !f.IncludeInactive && !c.IsActive {
		return false
	}
	if f.Domain != "" && c.Domain != f.Domain {
		return false
	}
	if f.Tier != 0 && c.GovernanceTier != f.Tier {
		return false
	}
	if f.PackID != "" && c.PrimaryPack() != f.PackID {
		return false
	}
	// Both sides go through NormalizeText.
	if q := NormalizeText(f.Search); q != "" {
		if !strings.Contains(NormalizeText(c.Label), q) &&
			!strings.Contains(NormalizeText(c.Description), q) &&
			!strings.Contains(NormalizeText(c.CanonicalKey), q) {
			return false
		}
	}
	return true
}

// LessConcept orders by (domain, governance_tier, canonical_key).
func LessConcept(a, b Concept) int {
	if a.Domain != b.Domain {
		return strings.Compare(string(a.Domain), string(b.Domain))
	}
	if a.GovernanceTier != b.GovernanceTier {
		return a.GovernanceTier - b.GovernanceTier
	}
	return strings.Compare(a.CanonicalKey, b.CanonicalKey)
}
