package types

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

type AliasType string

const (
	AliasAbbreviation AliasType = "ABBREVIATION"
	AliasSynonym      AliasType = "SYNONYM"
	AliasLocalized    AliasType = "LOCALIZED"
	AliasSystemField  AliasType = "SYSTEM_FIELD"
	AliasDisplay      AliasType = "DISPLAY"
)

func ParseAliasType(s string) (AliasType, bool) {
	t := AliasType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case AliasAbbreviation, AliasSynonym, AliasLocalized, AliasSystemField, AliasDisplay:
		return t, true
	default:
		return "", false
	}
}

type Alias struct {
	ID                    string    `json:"id"`
	TenantID              string    `json:"tenant_id"`
	ConceptID             string    `json:"concept_id"`
	AliasValue            string    `json:"alias_value"`
	NormalizedValue       string    `json:"-"`
	AliasType             AliasType `json:"alias_type"`
	SourceSystem          *string   `json:"source_system,omitempty"`
	Locale                string    `json:"locale,omitempty"`
	IsPreferredForDisplay bool      `json:"is_preferred_for_display"`
	Notes                 string    `json:"notes,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

func (a Alias) Source() string {
	if a.SourceSystem == nil {
		return ""
	}
	return *a.SourceSystem
}

// NormalizeText trims, case-folds and collapses internal whitespace.
// Alias values are stored and compared in this form.
func NormalizeText(s string) string {
	// A Caser is stateful and must not be shared between goroutines.
	return strings.Join(strings.Fields(cases.Fold().String(s)), " ")
}

type MatchSource string

const (
	MatchedOnAlias        MatchSource = "alias"
	MatchedOnCanonicalKey MatchSource = "canonical_key"
	MatchedOnLabel        MatchSource = "label"
)

type RankedMatch struct {
	Concept      Concept     `json:"concept"`
	MatchedAlias *Alias      `json:"matched_alias,omitempty"`
	MatchedOn    MatchSource `json:"matched_on"`
	Confidence   int         `json:"confidence"`
}

type GlossaryResult struct {
	Concepts []Concept `json:"concepts"`
	Aliases  []Alias   `json:"aliases"`
}
