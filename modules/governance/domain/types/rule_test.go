package types

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePredicate(t *testing.T) {
	p, err := ParsePredicate([]byte(`{"kind":"required_reference","domain":"FINANCE","max_tier":2,"field":"standard_pack_id_primary","required_authority":"LAW"}`))
	require.NoError(t, err)
	rr, ok := p.(RequiredReference)
	require.True(t, ok)
	assert.Equal(t, 2, rr.MaxTier)
	assert.Equal(t, AuthorityLaw, rr.RequiredAuthority)

	p, err = ParsePredicate([]byte(`{"kind":"tier_membership","allowed_tiers":[1,2]}`))
	require.NoError(t, err)
	assert.Equal(t, KindTierMembership, p.Kind())
}

func TestParsePredicate_Rejects(t *testing.T) {
	for name, raw := range map[string]string{
		"no kind":        `{"field":"canonical_key"}`,
		"unknown kind":   `{"kind":"regex","field":"label"}`,
		"unknown field":  `{"kind":"uniqueness","field":"canonical_key","extra":1}`,
		"bad field":      `{"kind":"uniqueness","field":"label"}`,
		"empty tiers":    `{"kind":"tier_membership","allowed_tiers":[]}`,
		"tier range":     `{"kind":"tier_membership","allowed_tiers":[0]}`,
		"bad authority":  `{"kind":"required_reference","max_tier":2,"field":"standard_pack_id_primary","required_authority":"GOSPEL"}`,
		"bad fk":         `{"kind":"foreign_key_exists","field":"owner"}`,
		"not an object":  `[1,2]`,
		"unknown domain": `{"kind":"tier_membership","domain":"SPACE","allowed_tiers":[1]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePredicate([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestRuleJSONKeepsExpressionKind(t *testing.T) {
	target := "ifrs15"
	r := Rule{
		RuleCode:         "R1",
		Scope:            ScopePack,
		TargetID:         &target,
		Severity:         SeverityWarning,
		Expression:       TierMembership{AllowedTiers: []int{1, 2}},
		IsEnforcedInCode: true,
	}
	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"kind":"tier_membership"`)

	var back Rule
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, r.Expression, back.Expression)
	assert.Equal(t, "ifrs15", back.Target())
}

func TestCompareViolations(t *testing.T) {
	vs := []Violation{
		{RuleCode: "B", Severity: SeverityInfo},
		{RuleCode: "Z", Severity: SeverityBlocking},
		{RuleCode: "A", Severity: SeverityWarning, TargetID: "2"},
		{RuleCode: "A", Severity: SeverityWarning, TargetID: "1"},
		{RuleCode: "A", Severity: SeverityBlocking},
	}
	slices.SortFunc(vs, CompareViolations)
	var got []string
	for _, v := range vs {
		got = append(got, string(v.Severity)+"/"+v.RuleCode+"/"+v.TargetID)
	}
	assert.Equal(t, []string{"BLOCKING/A/", "BLOCKING/Z/", "WARNING/A/1", "WARNING/A/2", "INFO/B/"}, got)
}

func TestStandardPackValidate(t *testing.T) {
	ok := StandardPack{PackID: "p", Tier: AuthorityLaw, Fields: []FieldDefinition{{FieldName: "invoice_date", DataType: DataTypeDate, Required: true}}}
	require.NoError(t, ok.Validate())
	assert.Equal(t, 1, ok.RequiredCount())

	dup := ok
	dup.Fields = append(slices.Clone(ok.Fields), FieldDefinition{FieldName: "invoiceDate", DataType: DataTypeDate})
	assert.ErrorContains(t, dup.Validate(), "duplicate field")

	badType := ok
	badType.Fields = []FieldDefinition{{FieldName: "x", DataType: "money"}}
	assert.Error(t, badType.Validate())

	badQuality := ok
	badQuality.QualityRules = []QualityRule{{Dimension: "timeliness", Threshold: 10}}
	assert.Error(t, badQuality.Validate())
}
