package seed

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jacksonlee411/metaregistry/modules/governance/domain/types"
	"github.com/jacksonlee411/metaregistry/modules/governance/infrastructure/persistence"
)

func TestLoadDefaultSeed(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	packs := map[string]types.StandardPack{}
	for _, p := range s.Packs {
		packs[p.PackID] = p
	}
	if packs["ifrs15"].RequiredCount() != 5 || packs["ifrs15"].Tier != types.AuthorityLaw {
		t.Fatalf("ifrs15=%+v", packs["ifrs15"])
	}
	if packs["glossary-info"].RequiredCount() != 0 {
		t.Fatal("glossary-info should have no required fields")
	}

	var fin *types.Rule
	for i := range s.Rules {
		if s.Rules[i].RuleCode == "FIN_TIER_LAW_PACK" {
			fin = &s.Rules[i]
		}
	}
	if fin == nil || fin.Severity != types.SeverityBlocking {
		t.Fatalf("FIN_TIER_LAW_PACK=%+v", fin)
	}
	rr, ok := fin.Expression.(types.RequiredReference)
	if !ok || rr.MaxTier != 2 || rr.RequiredAuthority != types.AuthorityLaw {
		t.Fatalf("expression=%#v", fin.Expression)
	}
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"version": "version: 2\n",
		"dup pack": `version: 1
packs:
  - {pack_id: p, tier: INFO}
  - {pack_id: p, tier: INFO}
`,
		"bad tier": `version: 1
packs:
  - {pack_id: p, tier: GOSPEL}
`,
		"bad predicate": `version: 1
rules:
  - rule_code: R
    scope: SYSTEM
    severity: INFO
    expression: {kind: regex}
`,
		"bad severity": `version: 1
rules:
  - rule_code: R
    scope: SYSTEM
    severity: FATAL
    expression: {kind: uniqueness, field: canonical_key}
`,
		"dup rule": `version: 1
rules:
  - {rule_code: R, scope: SYSTEM, severity: INFO, expression: {kind: uniqueness, field: canonical_key}}
  - {rule_code: R, scope: SYSTEM, severity: INFO, expression: {kind: uniqueness, field: canonical_key}}
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

type recordingRegistrar struct {
	store      *persistence.GovernanceMemoryStore
	registered []string
}

func (r *recordingRegistrar) RegisterPack(ctx context.Context, p types.StandardPack) error {
	if strings.HasPrefix(p.PackID, "bad") {
		return context.Canceled
	}
	r.registered = append(r.registered, p.PackID)
	return r.store.UpsertPack(ctx, p)
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	s, err := Parse([]byte(`version: 1
packs:
  - {pack_id: good, tier: PACK}
rules:
  - {rule_code: R, scope: SYSTEM, severity: WARNING, is_enforced_in_code: true, expression: {kind: uniqueness, field: canonical_key}}
`))
	if err != nil {
		t.Fatal(err)
	}
	store := persistence.NewGovernanceMemoryStore()
	reg := &recordingRegistrar{store: store}
	if err := s.Apply(ctx, store, reg); err != nil {
		t.Fatal(err)
	}
	if len(reg.registered) != 1 || reg.registered[0] != "good" {
		t.Fatalf("registered=%v", reg.registered)
	}
	if _, err := store.GetPack(ctx, "t1", "good"); err != nil {
		t.Fatal(err)
	}
	rules, _ := store.ListRules(ctx, "t1")
	if len(rules) != 1 {
		t.Fatalf("rules=%d", len(rules))
	}

	s.Packs = append(s.Packs, types.StandardPack{PackID: "bad", Tier: types.AuthorityPack})
	other := persistence.NewGovernanceMemoryStore()
	if err := s.Apply(ctx, other, &recordingRegistrar{store: other}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}

	bare := persistence.NewGovernanceMemoryStore()
	s.Packs = s.Packs[:1]
	if err := s.Apply(ctx, bare, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := bare.GetPack(ctx, "t1", "good"); err != nil {
		t.Fatal(err)
	}
}
