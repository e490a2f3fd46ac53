package persistence

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/jacksonlee411/metaregistry/modules/governance/domain/ports"
	"github.com/jacksonlee411/metaregistry/modules/governance/domain/types"
)

type packKey struct {
	tenantID string
	packID   string
}

type ruleKey struct {
	tenantID string
	ruleCode string
}

type GovernanceMemoryStore struct {
	mu    sync.RWMutex
	packs map[packKey]types.StandardPack
	rules map[ruleKey]types.Rule
}

func NewGovernanceMemoryStore() *GovernanceMemoryStore {
	return &GovernanceMemoryStore{
		packs: make(map[packKey]types.StandardPack),
		rules: make(map[ruleKey]types.Rule),
	}
}

var _ ports.GovernanceStore = (*GovernanceMemoryStore)(nil)

func (s *GovernanceMemoryStore) GetPack(_ context.Context, tenantID string, packID string) (types.StandardPack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.packs[packKey{tenantID, packID}]; ok {
		return clonePack(p), nil
	}
	if p, ok := s.packs[packKey{"", packID}]; ok {
		return clonePack(p), nil
	}
	return types.StandardPack{}, ports.ErrPackNotFound
}

// ListPacks returns the tenant's packs plus shared packs it does not shadow.
func (s *GovernanceMemoryStore) ListPacks(_ context.Context, tenantID string) ([]types.StandardPack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := make(map[string]types.StandardPack)
	for k, p := range s.packs {
		if k.tenantID == "" {
			byID[k.packID] = p
		}
	}
	for k, p := range s.packs {
		if tenantID != "" && k.tenantID == tenantID {
			byID[k.packID] = p
		}
	}
	out := make([]types.StandardPack, 0, len(byID))
	for _, p := range byID {
		out = append(out, clonePack(p))
	}
	slices.SortFunc(out, func(a, b types.StandardPack) int { return strings.Compare(a.PackID, b.PackID) })
	return out, nil
}

func (s *GovernanceMemoryStore) UpsertPack(_ context.Context, pack types.StandardPack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packs[packKey{pack.TenantID, pack.PackID}] = clonePack(pack)
	return nil
}

func (s *GovernanceMemoryStore) ListRules(_ context.Context, tenantID string) ([]types.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Rule
	for k, r := range s.rules {
		if k.tenantID == "" || (tenantID != "" && k.tenantID == tenantID) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b types.Rule) int { return strings.Compare(a.RuleCode, b.RuleCode) })
	return out, nil
}

func (s *GovernanceMemoryStore) UpsertRule(_ context.Context, rule types.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[ruleKey{rule.TenantID, rule.RuleCode}] = rule
	return nil
}

func clonePack(p types.StandardPack) types.StandardPack {
	out := p
	out.Fields = make([]types.FieldDefinition, len(p.Fields))
	for i, f := range p.Fields {
		f.ValidationRules = slices.Clone(f.ValidationRules)
		out.Fields[i] = f
	}
	out.QualityRules = slices.Clone(p.QualityRules)
	return out
}
