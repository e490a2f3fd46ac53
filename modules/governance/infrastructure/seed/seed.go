// Package seed loads standard packs and governance rules from
// config/governance/seed.yaml.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jacksonlee411/metaregistry/modules/governance/domain/ports"
	"github.com/jacksonlee411/metaregistry/modules/governance/domain/types"
)

const DefaultPath = "config/governance/seed.yaml"

type ruleYAML struct {
	RuleCode         string         `yaml:"rule_code"`
	TenantID         string         `yaml:"tenant_id"`
	Scope            string         `yaml:"scope"`
	TargetID         *string        `yaml:"target_id"`
	Severity         string         `yaml:"severity"`
	Description      string         `yaml:"description"`
	Expression       map[string]any `yaml:"expression"`
	IsEnforcedInCode bool           `yaml:"is_enforced_in_code"`
}

type seedFile struct {
	Version int                  `yaml:"version"`
	Packs   []types.StandardPack `yaml:"packs"`
	Rules   []ruleYAML           `yaml:"rules"`
}

type Seed struct {
	Packs []types.StandardPack
	Rules []types.Rule
}

// PackRegistrar is satisfied by the conformance checker. It compiles a pack's
// validation rules and stores it, announcing the change so cached conformance
// snapshots are dropped.
type PackRegistrar interface {
	RegisterPack(ctx context.Context, pack types.StandardPack) error
}

func Parse(b []byte) (Seed, error) {
	var f seedFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return Seed{}, err
	}
	if f.Version != 1 {
		return Seed{}, errors.New("seed: unsupported version")
	}

	out := Seed{Packs: f.Packs}
	packIDs := make(map[string]struct{}, len(f.Packs))
	for _, p := range f.Packs {
		if err := p.Validate(); err != nil {
			return Seed{}, fmt.Errorf("seed: %w", err)
		}
		k := p.TenantID + "/" + p.PackID
		if _, dup := packIDs[k]; dup {
			return Seed{}, fmt.Errorf("seed: duplicate pack %s", p.PackID)
		}
		packIDs[k] = struct{}{}
	}

	codes := make(map[string]struct{}, len(f.Rules))
	for _, r := range f.Rules {
		raw, err := json.Marshal(r.Expression)
		if err != nil {
			return Seed{}, fmt.Errorf("seed: rule %s: %w", r.RuleCode, err)
		}
		pred, err := types.ParsePredicate(raw)
		if err != nil {
			return Seed{}, fmt.Errorf("seed: rule %s: %w", r.RuleCode, err)
		}
		scope, _ := types.ParseScope(r.Scope)
		severity, _ := types.ParseSeverity(r.Severity)
		rule := types.Rule{
			RuleCode:         r.RuleCode,
			TenantID:         r.TenantID,
			Scope:            scope,
			TargetID:         r.TargetID,
			Severity:         severity,
			Description:      r.Description,
			Expression:       pred,
			IsEnforcedInCode: r.IsEnforcedInCode,
		}
		if err := rule.Validate(); err != nil {
			return Seed{}, fmt.Errorf("seed: %w", err)
		}
		k := r.TenantID + "/" + r.RuleCode
		if _, dup := codes[k]; dup {
			return Seed{}, fmt.Errorf("seed: duplicate rule %s", r.RuleCode)
		}
		codes[k] = struct{}{}
		out.Rules = append(out.Rules, rule)
	}
	return out, nil
}

func Load(path string) (Seed, error) {
	if path == "" {
		p, err := defaultSeedPath()
		if err != nil {
			return Seed{}, err
		}
		path = p
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, err
	}
	return Parse(b)
}

// Apply registers every pack through registrar and upserts rules into store.
// A nil registrar writes packs straight to store.
func (s Seed) Apply(ctx context.Context, store ports.GovernanceStore, registrar PackRegistrar) error {
	for _, p := range s.Packs {
		if registrar == nil {
			if err := store.UpsertPack(ctx, p); err != nil {
				return err
			}
			continue
		}
		if err := registrar.RegisterPack(ctx, p); err != nil {
			return fmt.Errorf("seed: pack %s: %w", p.PackID, err)
		}
	}
	for _, r := range s.Rules {
		if err := store.UpsertRule(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func defaultSeedPath() (string, error) {
	path := DefaultPath
	for range 8 {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("seed: governance seed not found")
}
