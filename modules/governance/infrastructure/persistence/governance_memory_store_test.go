package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/jacksonlee411/metaregistry/modules/governance/domain/ports"
	"github.com/jacksonlee411/metaregistry/modules/governance/domain/types"
)

func TestGovernanceMemoryStore_TenantPackShadowsShared(t *testing.T) {
	ctx := context.Background()
	s := NewGovernanceMemoryStore()
	_ = s.UpsertPack(ctx, types.StandardPack{PackID: "kpi", Name: "shared", Tier: types.AuthorityPack})
	_ = s.UpsertPack(ctx, types.StandardPack{PackID: "kpi", TenantID: "t1", Name: "own", Tier: types.AuthorityPack})
	_ = s.UpsertPack(ctx, types.StandardPack{PackID: "law", Name: "law", Tier: types.AuthorityLaw})

	p, err := s.GetPack(ctx, "t1", "kpi")
	if err != nil || p.Name != "own" {
		t.Fatalf("pack=%+v err=%v", p, err)
	}
	p, err = s.GetPack(ctx, "t2", "kpi")
	if err != nil || p.Name != "shared" {
		t.Fatalf("pack=%+v err=%v", p, err)
	}
	if _, err := s.GetPack(ctx, "t1", "missing"); !errors.Is(err, ports.ErrPackNotFound) {
		t.Fatalf("err=%v", err)
	}

	all, _ := s.ListPacks(ctx, "t1")
	if len(all) != 2 || all[0].PackID != "kpi" || all[0].Name != "own" {
		t.Fatalf("packs=%+v", all)
	}
}

func TestGovernanceMemoryStore_RulesIncludeSystemAndTenant(t *testing.T) {
	ctx := context.Background()
	s := NewGovernanceMemoryStore()
	_ = s.UpsertRule(ctx, types.Rule{RuleCode: "B", Scope: types.ScopeSystem})
	_ = s.UpsertRule(ctx, types.Rule{RuleCode: "A", TenantID: "t1", Scope: types.ScopeTenant})
	_ = s.UpsertRule(ctx, types.Rule{RuleCode: "C", TenantID: "t2", Scope: types.ScopeTenant})

	got, _ := s.ListRules(ctx, "t1")
	if len(got) != 2 || got[0].RuleCode != "A" || got[1].RuleCode != "B" {
		t.Fatalf("rules=%+v", got)
	}
}

func TestGovernanceMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewGovernanceMemoryStore()
	_ = s.UpsertPack(ctx, types.StandardPack{PackID: "p", Tier: types.AuthorityInfo, Fields: []types.FieldDefinition{{FieldName: "a", ValidationRules: []string{"true"}}}})

	p, _ := s.GetPack(ctx, "", "p")
	p.Fields[0].ValidationRules[0] = "false"
	again, _ := s.GetPack(ctx, "", "p")
	if again.Fields[0].ValidationRules[0] != "true" {
		t.Fatal("store leaked a reference")
	}
}
