package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	catalogtypes "github.com/jacksonlee411/metaregistry/modules/catalog/domain/types"
)

type Scope string

const (
	ScopeSystem Scope = "SYSTEM"
	ScopePack   Scope = "PACK"
	ScopeTenant Scope = "TENANT"
)

func ParseScope(s string) (Scope, bool) {
	sc := Scope(strings.ToUpper(strings.TrimSpace(s)))
	switch sc {
	case ScopeSystem, ScopePack, ScopeTenant:
		return sc, true
	default:
		return "", false
	}
}

type Severity string

const (
	SeverityBlocking Severity = "BLOCKING"
	SeverityWarning  Severity = "WARNING"
	SeverityInfo     Severity = "INFO"
)

func ParseSeverity(s string) (Severity, bool) {
	sv := Severity(strings.ToUpper(strings.TrimSpace(s)))
	switch sv {
	case SeverityBlocking, SeverityWarning, SeverityInfo:
		return sv, true
	default:
		return "", false
	}
}

// Rank orders severities for reporting: BLOCKING first.
func (s Severity) Rank() int {
	switch s {
	case SeverityBlocking:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

type PredicateKind string

const (
	KindTierMembership    PredicateKind = "tier_membership"
	KindRequiredReference PredicateKind = "required_reference"
	KindUniqueness        PredicateKind = "uniqueness"
	KindForeignKeyExists  PredicateKind = "foreign_key_exists"
)

// Fields a predicate may address.
const (
	FieldCanonicalKey          = "canonical_key"
	FieldPreferredDisplayAlias = "preferred_display_alias"
	FieldStandardPackPrimary   = "standard_pack_id_primary"
	FieldAliasConceptID        = "alias_concept_id"
)

// Predicate is one of TierMembership, RequiredReference, Uniqueness or ForeignKeyExists.
type Predicate interface {
	Kind() PredicateKind
	Validate() error
}

// TierMembership requires concepts (of Domain, when set) to sit in one of AllowedTiers.
type TierMembership struct {
	Domain       catalogtypes.Domain `json:"domain,omitempty"`
	AllowedTiers []int               `json:"allowed_tiers"`
}

func (TierMembership) Kind() PredicateKind { return KindTierMembership }

func (p TierMembership) Validate() error {
	if p.Domain != "" {
		if _, ok := catalogtypes.ParseDomain(string(p.Domain)); !ok {
			return fmt.Errorf("tier_membership: unknown domain %q", p.Domain)
		}
	}
	if len(p.AllowedTiers) == 0 {
		return errors.New("tier_membership: allowed_tiers is required")
	}
	for _, t := range p.AllowedTiers {
		if t < catalogtypes.MinGovernanceTier || t > catalogtypes.MaxGovernanceTier {
			return fmt.Errorf("tier_membership: tier %d out of range", t)
		}
	}
	return nil
}

// RequiredReference requires concepts of Domain at tier <= MaxTier to reference
// a standard pack of RequiredAuthority through Field.
type RequiredReference struct {
	Domain            catalogtypes.Domain `json:"domain,omitempty"`
	MaxTier           int                 `json:"max_tier"`
	Field             string              `json:"field"`
	RequiredAuthority AuthorityTier       `json:"required_authority"`
}

func (RequiredReference) Kind() PredicateKind { return KindRequiredReference }

func (p RequiredReference) Validate() error {
	if p.Domain != "" {
		if _, ok := catalogtypes.ParseDomain(string(p.Domain)); !ok {
			return fmt.Errorf("required_reference: unknown domain %q", p.Domain)
		}
	}
	if p.MaxTier < catalogtypes.MinGovernanceTier || p.MaxTier > catalogtypes.MaxGovernanceTier {
		return fmt.Errorf("required_reference: max_tier %d out of range", p.MaxTier)
	}
	if p.Field != FieldStandardPackPrimary {
		return fmt.Errorf("required_reference: unsupported field %q", p.Field)
	}
	if _, ok := ParseAuthorityTier(string(p.RequiredAuthority)); !ok {
		return fmt.Errorf("required_reference: unknown authority %q", p.RequiredAuthority)
	}
	return nil
}

type Uniqueness struct {
	Field string `json:"field"`
}

func (Uniqueness) Kind() PredicateKind { return KindUniqueness }

func (p Uniqueness) Validate() error {
	switch p.Field {
	case FieldCanonicalKey, FieldPreferredDisplayAlias:
		return nil
	default:
		return fmt.Errorf("uniqueness: unsupported field %q", p.Field)
	}
}

type ForeignKeyExists struct {
	Field string `json:"field"`
}

func (ForeignKeyExists) Kind() PredicateKind { return KindForeignKeyExists }

func (p ForeignKeyExists) Validate() error {
	switch p.Field {
	case FieldStandardPackPrimary, FieldAliasConceptID:
		return nil
	default:
		return fmt.Errorf("foreign_key_exists: unsupported field %q", p.Field)
	}
}

// ParsePredicate decodes {"kind": ..., ...} into its typed predicate. Unknown
// kinds and unknown payload fields are rejected.
func ParsePredicate(raw []byte) (Predicate, error) {
	var head struct {
		Kind PredicateKind `json:"kind"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("expression: %w", err)
	}

	var p Predicate
	switch head.Kind {
	case KindTierMembership:
		p = &TierMembership{}
	case KindRequiredReference:
		p = &RequiredReference{}
	case KindUniqueness:
		p = &Uniqueness{}
	case KindForeignKeyExists:
		p = &ForeignKeyExists{}
	case "":
		return nil, errors.New("expression: kind is required")
	default:
		return nil, fmt.Errorf("expression: unknown kind %q", head.Kind)
	}

	dec := json.NewDecoder(bytes.NewReader(withoutKind(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("expression %s: %w", head.Kind, err)
	}

	var out Predicate
	switch v := p.(type) {
	case *TierMembership:
		out = *v
	case *RequiredReference:
		out = *v
	case *Uniqueness:
		out = *v
	case *ForeignKeyExists:
		out = *v
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func withoutKind(raw []byte) []byte {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return raw
	}
	delete(m, "kind")
	b, err := json.Marshal(m)
	if err != nil {
		return raw
	}
	return b
}

// MarshalPredicate is the inverse of ParsePredicate.
func MarshalPredicate(p Predicate) ([]byte, error) {
	if p == nil {
		return nil, errors.New("expression: nil predicate")
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	kind, _ := json.Marshal(p.Kind())
	m["kind"] = kind
	return json.Marshal(m)
}

type Rule struct {
	RuleCode         string    `json:"rule_code"`
	TenantID         string    `json:"tenant_id,omitempty"`
	Scope            Scope     `json:"scope"`
	TargetID         *string   `json:"target_id,omitempty"`
	Severity         Severity  `json:"severity"`
	Description      string    `json:"description"`
	Expression       Predicate `json:"-"`
	IsEnforcedInCode bool      `json:"is_enforced_in_code"`
}

func (r Rule) Target() string {
	if r.TargetID == nil {
		return ""
	}
	return *r.TargetID
}

func (r Rule) Validate() error {
	if strings.TrimSpace(r.RuleCode) == "" {
		return errors.New("rule_code is required")
	}
	if _, ok := ParseScope(string(r.Scope)); !ok {
		return fmt.Errorf("rule %s: unknown scope %q", r.RuleCode, r.Scope)
	}
	if _, ok := ParseSeverity(string(r.Severity)); !ok {
		return fmt.Errorf("rule %s: unknown severity %q", r.RuleCode, r.Severity)
	}
	if r.Expression == nil {
		return fmt.Errorf("rule %s: expression is required", r.RuleCode)
	}
	if err := r.Expression.Validate(); err != nil {
		return fmt.Errorf("rule %s: %w", r.RuleCode, err)
	}
	return nil
}

type ruleJSON struct {
	RuleCode         string          `json:"rule_code"`
	TenantID         string          `json:"tenant_id,omitempty"`
	Scope            Scope           `json:"scope"`
	TargetID         *string         `json:"target_id,omitempty"`
	Severity         Severity        `json:"severity"`
	Description      string          `json:"description"`
	Expression       json.RawMessage `json:"expression"`
	IsEnforcedInCode bool            `json:"is_enforced_in_code"`
}

func (r Rule) MarshalJSON() ([]byte, error) {
	expr, err := MarshalPredicate(r.Expression)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ruleJSON{
		RuleCode:         r.RuleCode,
		TenantID:         r.TenantID,
		Scope:            r.Scope,
		TargetID:         r.TargetID,
		Severity:         r.Severity,
		Description:      r.Description,
		Expression:       expr,
		IsEnforcedInCode: r.IsEnforcedInCode,
	})
}

func (r *Rule) UnmarshalJSON(b []byte) error {
	var raw ruleJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	p, err := ParsePredicate(raw.Expression)
	if err != nil {
		return fmt.Errorf("rule %s: %w", raw.RuleCode, err)
	}
	*r = Rule{
		RuleCode:         raw.RuleCode,
		TenantID:         raw.TenantID,
		Scope:            raw.Scope,
		TargetID:         raw.TargetID,
		Severity:         raw.Severity,
		Description:      raw.Description,
		Expression:       p,
		IsEnforcedInCode: raw.IsEnforcedInCode,
	}
	return nil
}
