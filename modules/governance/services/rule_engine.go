package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/jacksonlee411/metaregistry/internal/events"
	catalogtypes "github.com/jacksonlee411/metaregistry/modules/catalog/domain/types"
	"github.com/jacksonlee411/metaregistry/modules/governance/domain/ports"
	"github.com/jacksonlee411/metaregistry/modules/governance/domain/types"
	"github.com/jacksonlee411/metaregistry/pkg/metaerr"
)

type RuleEngine struct {
	catalog ports.CatalogReader
	store   ports.GovernanceStore
	logger  *zap.Logger
}

func NewRuleEngine(catalog ports.CatalogReader, store ports.GovernanceStore, logger *zap.Logger) *RuleEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleEngine{catalog: catalog, store: store, logger: logger}
}

// ruleEnv is the tenant state a predicate is evaluated against.
type ruleEnv struct {
	concepts []catalogtypes.Concept
	aliases  []catalogtypes.Alias
	packs    map[string]types.StandardPack
	// candidateAlias, when set, limits alias reference checks to the alias being written.
	candidateAlias *catalogtypes.Alias
}

type finding struct {
	targetID string
	message  string
}

// Evaluate runs the rules of scope against the tenant's active concepts, or
// against the single concept named by targetID. For PACK scope targetID may
// also name a standard pack, which restricts both rules and concepts to it.
func (e *RuleEngine) Evaluate(ctx context.Context, tenantID string, scope string, targetID string) ([]types.Violation, error) {
	sc, ok := types.ParseScope(scope)
	if !ok {
		return nil, metaerr.NewValidation("scope", "scope must be SYSTEM, PACK or TENANT")
	}
	env, err := e.loadEnv(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	rules, err := e.store.ListRules(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	subjects := activeConcepts(env.concepts)
	packFilter := ""
	targetID = strings.TrimSpace(targetID)
	if targetID != "" {
		if _, isPack := env.packs[targetID]; sc == types.ScopePack && isPack {
			packFilter = targetID
			subjects = slices.DeleteFunc(subjects, func(c catalogtypes.Concept) bool { return c.PrimaryPack() != targetID })
		} else {
			c, ok := findConcept(env.concepts, targetID)
			if !ok {
				return nil, metaerr.NewNotFound("concept", targetID)
			}
			subjects = []catalogtypes.Concept{c}
		}
	}

	out := []types.Violation{}
	for _, r := range rules {
		if r.Scope != sc {
			continue
		}
		if packFilter != "" && r.Target() != packFilter {
			continue
		}
		out = append(out, e.apply(r, env, subjects)...)
	}
	slices.SortFunc(out, types.CompareViolations)
	return out, nil
}

// apply evaluates one rule. Unenforced rules are surfaced, never skipped.
func (e *RuleEngine) apply(r types.Rule, env ruleEnv, subjects []catalogtypes.Concept) []types.Violation {
	if !r.IsEnforcedInCode {
		return []types.Violation{{
			RuleCode:     r.RuleCode,
			Severity:     types.SeverityInfo,
			Message:      "not evaluated: " + r.Description,
			TargetID:     r.Target(),
			NotEvaluated: true,
		}}
	}
	var out []types.Violation
	for _, f := range checkPredicate(r.Expression, env, ruleSubjects(r, subjects)) {
		out = append(out, types.Violation{
			RuleCode: r.RuleCode,
			Severity: r.Severity,
			Message:  f.message,
			TargetID: f.targetID,
		})
	}
	return out
}

// ruleSubjects narrows concepts to those a rule addresses.
func ruleSubjects(r types.Rule, concepts []catalogtypes.Concept) []catalogtypes.Concept {
	target := r.Target()
	if target == "" {
		return concepts
	}
	switch r.Scope {
	case types.ScopePack:
		return slices.DeleteFunc(slices.Clone(concepts), func(c catalogtypes.Concept) bool { return c.PrimaryPack() != target })
	case types.ScopeTenant:
		return slices.DeleteFunc(slices.Clone(concepts), func(c catalogtypes.Concept) bool {
			return c.ID != target && c.CanonicalKey != target
		})
	default:
		return concepts
	}
}

func checkPredicate(p types.Predicate, env ruleEnv, subjects []catalogtypes.Concept) []finding {
	var out []finding
	switch pr := p.(type) {
	case types.TierMembership:
		for _, c := range subjects {
			if pr.Domain != "" && c.Domain != pr.Domain {
				continue
			}
			if !slices.Contains(pr.AllowedTiers, c.GovernanceTier) {
				out = append(out, finding{c.ID, fmt.Sprintf("%s: tier %d not in %v", c.CanonicalKey, c.GovernanceTier, pr.AllowedTiers)})
			}
		}
	case types.RequiredReference:
		for _, c := range subjects {
			if pr.Domain != "" && c.Domain != pr.Domain {
				continue
			}
			if c.GovernanceTier > pr.MaxTier {
				continue
			}
			packID := c.PrimaryPack()
			if packID == "" {
				out = append(out, finding{c.ID, fmt.Sprintf("%s: tier %d requires a %s standard pack", c.CanonicalKey, c.GovernanceTier, pr.RequiredAuthority)})
				continue
			}
			pack, ok := env.packs[packID]
			if !ok || pack.Tier != pr.RequiredAuthority {
				out = append(out, finding{c.ID, fmt.Sprintf("%s: standard pack %s is not %s", c.CanonicalKey, packID, pr.RequiredAuthority)})
			}
		}
	case types.Uniqueness:
		switch pr.Field {
		case types.FieldCanonicalKey:
			counts := make(map[string]int)
			for _, c := range env.concepts {
				counts[c.CanonicalKey]++
			}
			for _, c := range subjects {
				if counts[c.CanonicalKey] > 1 {
					out = append(out, finding{c.ID, c.CanonicalKey + ": canonical_key is not unique"})
				}
			}
		case types.FieldPreferredDisplayAlias:
			counts := make(map[string]int)
			for _, a := range env.aliases {
				if a.IsPreferredForDisplay {
					counts[a.ConceptID+"\x00"+a.Locale]++
				}
			}
			for _, c := range subjects {
				for _, a := range env.aliases {
					if a.ConceptID == c.ID && a.IsPreferredForDisplay && counts[c.ID+"\x00"+a.Locale] > 1 {
						out = append(out, finding{c.ID, fmt.Sprintf("%s: more than one preferred display alias for locale %q", c.CanonicalKey, a.Locale)})
						break
					}
				}
			}
		}
	case types.ForeignKeyExists:
		switch pr.Field {
		case types.FieldStandardPackPrimary:
			for _, c := range subjects {
				if id := c.PrimaryPack(); id != "" {
					if _, ok := env.packs[id]; !ok {
						out = append(out, finding{c.ID, fmt.Sprintf("%s: standard pack %s does not exist", c.CanonicalKey, id)})
					}
				}
			}
		case types.FieldAliasConceptID:
			known := make(map[string]struct{}, len(env.concepts))
			for _, c := range env.concepts {
				known[c.ID] = struct{}{}
			}
			aliases := env.aliases
			if env.candidateAlias != nil {
				aliases = []catalogtypes.Alias{*env.candidateAlias}
			}
			for _, a := range aliases {
				if _, ok := known[a.ConceptID]; !ok {
					out = append(out, finding{a.ID, fmt.Sprintf("alias %q references missing concept %s", a.AliasValue, a.ConceptID)})
				}
			}
		}
	}
	return out
}

// Guard vetoes concept and alias writes that would violate an enforced BLOCKING
// rule. It runs in the prepare phase, before anything is stored.
func (e *RuleEngine) Guard(ctx context.Context, evt events.MetadataChanged) error {
	if evt.ChangeType == events.ChangeDeactivated || evt.ChangeType == events.ChangeDeleted {
		return nil
	}
	var (
		env      ruleEnv
		subjects []catalogtypes.Concept
		err      error
	)
	switch subject := evt.Subject.(type) {
	case catalogtypes.Concept:
		env, err = e.loadEnv(ctx, evt.TenantID)
		if err != nil {
			return err
		}
		env.concepts = slices.DeleteFunc(env.concepts, func(c catalogtypes.Concept) bool { return c.ID == subject.ID })
		env.concepts = append(env.concepts, subject)
		subjects = []catalogtypes.Concept{subject}
	case catalogtypes.Alias:
		env, err = e.loadEnv(ctx, evt.TenantID)
		if err != nil {
			return err
		}
		env.aliases = append(env.aliases, subject)
		env.candidateAlias = &subject
		owner, ok := findConcept(env.concepts, subject.ConceptID)
		if ok {
			subjects = []catalogtypes.Concept{owner}
		}
	default:
		return nil
	}

	rules, err := e.store.ListRules(ctx, evt.TenantID)
	if err != nil {
		return err
	}
	var blocking []metaerr.RuleViolation
	for _, r := range rules {
		if !r.IsEnforcedInCode {
			continue
		}
		for _, v := range e.apply(r, env, subjects) {
			if v.Severity == types.SeverityBlocking {
				blocking = append(blocking, metaerr.RuleViolation{RuleCode: v.RuleCode, Message: v.Message, TargetID: v.TargetID})
				continue
			}
			e.logger.Warn("governance rule violated",
				zap.String("tenant_id", evt.TenantID),
				zap.String("rule_code", v.RuleCode),
				zap.String("severity", string(v.Severity)),
				zap.String("target_id", v.TargetID),
				zap.String("message", v.Message),
			)
		}
	}
	if len(blocking) == 0 {
		return nil
	}
	slices.SortFunc(blocking, func(a, b metaerr.RuleViolation) int {
		if c := strings.Compare(a.RuleCode, b.RuleCode); c != 0 {
			return c
		}
		return strings.Compare(a.TargetID, b.TargetID)
	})
	return &metaerr.BlockingRuleViolation{Violations: blocking}
}

// Subscribe registers Guard on the prepare phase of bus.
func (e *RuleEngine) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.PhasePrepare, "rule-engine-guard", e.Guard)
}

func (e *RuleEngine) loadEnv(ctx context.Context, tenantID string) (ruleEnv, error) {
	concepts, err := e.catalog.ListConcepts(ctx, tenantID, catalogtypes.ConceptFilter{IncludeInactive: true})
	if err != nil {
		return ruleEnv{}, err
	}
	aliases, err := e.catalog.ListAliases(ctx, tenantID)
	if err != nil {
		return ruleEnv{}, err
	}
	packs, err := e.store.ListPacks(ctx, tenantID)
	if err != nil && !errors.Is(err, ports.ErrPackNotFound) {
		return ruleEnv{}, err
	}
	env := ruleEnv{concepts: concepts, aliases: aliases, packs: make(map[string]types.StandardPack, len(packs))}
	for _, p := range packs {
		env.packs[p.PackID] = p
	}
	return env, nil
}

func activeConcepts(all []catalogtypes.Concept) []catalogtypes.Concept {
	out := make([]catalogtypes.Concept, 0, len(all))
	for _, c := range all {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out
}

func findConcept(all []catalogtypes.Concept, keyOrID string) (catalogtypes.Concept, bool) {
	key := strings.ToLower(keyOrID)
	for _, c := range all {
		if c.ID == keyOrID || c.CanonicalKey == key {
			return c, true
		}
	}
	return catalogtypes.Concept{}, false
}
