package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jacksonlee411/metaregistry/pkg/naming"
)

// AuthorityTier is the authority level of a standard pack.
type AuthorityTier string

const (
	AuthorityLaw  AuthorityTier = "LAW"
	AuthorityPack AuthorityTier = "PACK"
	AuthorityInfo AuthorityTier = "INFO"
)

func ParseAuthorityTier(s string) (AuthorityTier, bool) {
	t := AuthorityTier(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case AuthorityLaw, AuthorityPack, AuthorityInfo:
		return t, true
	default:
		return "", false
	}
}

type DataType string

const (
	DataTypeString  DataType = "string"
	DataTypeNumber  DataType = "number"
	DataTypeInteger DataType = "integer"
	DataTypeBoolean DataType = "boolean"
	DataTypeDate    DataType = "date"
)

func (d DataType) valid() bool {
	switch d {
	case DataTypeString, DataTypeNumber, DataTypeInteger, DataTypeBoolean, DataTypeDate:
		return true
	default:
		return false
	}
}

// FieldDefinition declares one field of a pack. Each validation rule is a CEL
// boolean expression over the variable `value`.
type FieldDefinition struct {
	FieldName       string   `json:"field_name" yaml:"field_name"`
	DataType        DataType `json:"data_type" yaml:"data_type"`
	Required        bool     `json:"required" yaml:"required"`
	ValidationRules []string `json:"validation_rules,omitempty" yaml:"validation_rules"`
}

const (
	DimensionCompleteness = "completeness"
	DimensionValidity     = "validity"
)

type QualityRule struct {
	Dimension string  `json:"dimension" yaml:"dimension"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

type StandardPack struct {
	PackID       string            `json:"pack_id" yaml:"pack_id"`
	TenantID     string            `json:"tenant_id,omitempty" yaml:"tenant_id"`
	Name         string            `json:"name" yaml:"name"`
	Version      string            `json:"version" yaml:"version"`
	Category     string            `json:"category" yaml:"category"`
	Tier         AuthorityTier     `json:"tier" yaml:"tier"`
	Fields       []FieldDefinition `json:"fields" yaml:"fields"`
	QualityRules []QualityRule     `json:"quality_rules,omitempty" yaml:"quality_rules"`
}

// Validate checks the structural shape of p. CEL rules are compiled separately.
func (p StandardPack) Validate() error {
	if strings.TrimSpace(p.PackID) == "" {
		return errors.New("pack_id is required")
	}
	if _, ok := ParseAuthorityTier(string(p.Tier)); !ok {
		return fmt.Errorf("pack %s: unknown tier %q", p.PackID, p.Tier)
	}
	seen := make(map[string]struct{}, len(p.Fields))
	for _, f := range p.Fields {
		if strings.TrimSpace(f.FieldName) == "" {
			return fmt.Errorf("pack %s: field_name is required", p.PackID)
		}
		if !f.DataType.valid() {
			return fmt.Errorf("pack %s: field %s: unknown data_type %q", p.PackID, f.FieldName, f.DataType)
		}
		key := naming.FieldKey(f.FieldName)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("pack %s: duplicate field %s", p.PackID, f.FieldName)
		}
		seen[key] = struct{}{}
	}
	for _, q := range p.QualityRules {
		switch q.Dimension {
		case DimensionCompleteness, DimensionValidity:
		default:
			return fmt.Errorf("pack %s: unknown quality dimension %q", p.PackID, q.Dimension)
		}
		if q.Threshold < 0 || q.Threshold > 100 {
			return fmt.Errorf("pack %s: %s threshold must be within 0..100", p.PackID, q.Dimension)
		}
	}
	return nil
}

func (p StandardPack) RequiredCount() int {
	n := 0
	for _, f := range p.Fields {
		if f.Required {
			n++
		}
	}
	return n
}
