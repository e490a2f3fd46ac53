// Package engine is the single entry point to the metadata components. Every
// caller operation passes the compatibility gate before it touches a store, and
// every error it returns belongs to the metaerr taxonomy or is the caller's own
// context error.
package engine

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/jacksonlee411/metaregistry/internal/events"
	catalogports "github.com/jacksonlee411/metaregistry/modules/catalog/domain/ports"
	catalogtypes "github.com/jacksonlee411/metaregistry/modules/catalog/domain/types"
	catalogservices "github.com/jacksonlee411/metaregistry/modules/catalog/services"
	governanceports "github.com/jacksonlee411/metaregistry/modules/governance/domain/ports"
	governancetypes "github.com/jacksonlee411/metaregistry/modules/governance/domain/types"
	"github.com/jacksonlee411/metaregistry/modules/governance/infrastructure/seed"
	governanceservices "github.com/jacksonlee411/metaregistry/modules/governance/services"
	lineageports "github.com/jacksonlee411/metaregistry/modules/lineage/domain/ports"
	lineagetypes "github.com/jacksonlee411/metaregistry/modules/lineage/domain/types"
	lineageservices "github.com/jacksonlee411/metaregistry/modules/lineage/services"
	"github.com/jacksonlee411/metaregistry/pkg/compat"
	"github.com/jacksonlee411/metaregistry/pkg/metaerr"
	"github.com/jacksonlee411/metaregistry/pkg/naming"
)

type Stores struct {
	Catalog    catalogports.CatalogStore
	Governance governanceports.GovernanceStore
	Lineage    lineageports.LineageStore
	// Snapshots may be nil; cached conformance requests are then computed fresh.
	Snapshots governanceports.SnapshotCache
}

type Options struct {
	Logger         *zap.Logger
	Bus            *events.Bus
	FuzzyThreshold float64
	NodeCap        int
}

type Engine struct {
	gate     *compat.Context
	bus      *events.Bus
	logger   *zap.Logger
	registry *catalogservices.ConceptRegistry
	resolver *catalogservices.AliasResolver
	checker  *governanceservices.ConformanceChecker
	rules    *governanceservices.RuleEngine
	graph    *lineageservices.GraphEngine
	packs    governanceports.GovernanceStore
}

// New wires the components around one bus: the rule engine guards writes in
// the prepare phase and the conformance checker drops stale snapshots once a
// change commits.
func New(gate *compat.Context, stores Stores, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus(logger)
	}
	e := &Engine{
		gate:     gate,
		bus:      bus,
		logger:   logger,
		registry: catalogservices.NewConceptRegistry(stores.Catalog, bus, logger.Named("catalog")),
		resolver: catalogservices.NewAliasResolver(stores.Catalog, catalogservices.ResolverOptions{Threshold: opts.FuzzyThreshold}),
		checker:  governanceservices.NewConformanceChecker(stores.Catalog, stores.Governance, stores.Snapshots, bus, logger.Named("conformance")),
		rules:    governanceservices.NewRuleEngine(stores.Catalog, stores.Governance, logger.Named("rules")),
		graph:    lineageservices.NewGraphEngine(stores.Lineage, bus, logger.Named("lineage"), lineageservices.GraphOptions{NodeCap: opts.NodeCap}),
		packs:    stores.Governance,
	}
	e.rules.Subscribe(bus)
	e.checker.Subscribe(bus)
	return e
}

func (e *Engine) Bus() *events.Bus { return e.bus }

func (e *Engine) Gate() *compat.Context { return e.gate }

// fail logs internal failures with their cause and returns the public error.
// Cancellation by the caller is returned as is.
func (e *Engine) fail(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		e.logger.Debug("engine operation abandoned", zap.String("op", op), zap.Error(err))
		return err
	}
	err = metaerr.Wrap(err)
	if ie, ok := errors.AsType[*metaerr.InternalError](err); ok {
		e.logger.Error("engine operation failed", zap.String("op", op), zap.Error(ie.Cause()))
	}
	return err
}

// ApplySeed compiles and stores governance packs and rules. It is a bootstrap
// step and runs whatever the gate state, so a blocked engine still starts and
// answers callers with VersionMismatchError.
func (e *Engine) ApplySeed(ctx context.Context, s seed.Seed) error {
	if err := s.Apply(ctx, e.packs, e.checker); err != nil {
		return e.fail("apply_seed", err)
	}
	return nil
}

type ConceptQuery struct {
	Domain          string
	Tier            int
	PackID          string
	Search          string
	IncludeInactive bool
}

func (e *Engine) ListConcepts(ctx context.Context, tenantID string, q ConceptQuery) ([]catalogtypes.Concept, error) {
	if err := e.gate.Check(); err != nil {
		return nil, err
	}
	filter := catalogtypes.ConceptFilter{
		Tier:            q.Tier,
		PackID:          strings.TrimSpace(q.PackID),
		Search:          q.Search,
		IncludeInactive: q.IncludeInactive,
	}
	if strings.TrimSpace(q.Domain) != "" {
		d, ok := catalogtypes.ParseDomain(q.Domain)
		if !ok {
			return nil, metaerr.NewValidation("domain", "unknown domain "+q.Domain)
		}
		filter.Domain = d
	}
	if q.Tier != 0 && (q.Tier < 1 || q.Tier > 4) {
		return nil, metaerr.NewValidation("tier", "tier must be between 1 and 4")
	}
	out, err := e.registry.List(ctx, tenantID, filter)
	if err != nil {
		return nil, e.fail("list_concepts", err)
	}
	return out, nil
}

func (e *Engine) GetConcept(ctx context.Context, tenantID string, keyOrID string) (catalogtypes.Concept, error) {
	if err := e.gate.Check(); err != nil {
		return catalogtypes.Concept{}, err
	}
	c, err := e.registry.Get(ctx, tenantID, keyOrID)
	if err != nil {
		return catalogtypes.Concept{}, e.fail("get_concept", err)
	}
	return c, nil
}

func (e *Engine) CreateConcept(ctx context.Context, tenantID string, req catalogservices.CreateConceptRequest) (catalogtypes.Concept, error) {
	if err := e.gate.Check(); err != nil {
		return catalogtypes.Concept{}, err
	}
	c, err := e.registry.Create(ctx, tenantID, req)
	if err != nil {
		return catalogtypes.Concept{}, e.fail("create_concept", err)
	}
	return c, nil
}

func (e *Engine) UpdateConcept(ctx context.Context, tenantID string, id string, patch catalogservices.ConceptPatch) (catalogtypes.Concept, error) {
	if err := e.gate.Check(); err != nil {
		return catalogtypes.Concept{}, err
	}
	c, err := e.registry.Update(ctx, tenantID, id, patch)
	if err != nil {
		return catalogtypes.Concept{}, e.fail("update_concept", err)
	}
	return c, nil
}

func (e *Engine) DeactivateConcept(ctx context.Context, tenantID string, id string) (catalogtypes.Concept, error) {
	if err := e.gate.Check(); err != nil {
		return catalogtypes.Concept{}, err
	}
	c, err := e.registry.Deactivate(ctx, tenantID, id)
	if err != nil {
		return catalogtypes.Concept{}, e.fail("deactivate_concept", err)
	}
	return c, nil
}

func (e *Engine) CreateAlias(ctx context.Context, tenantID string, req catalogservices.CreateAliasRequest) (catalogtypes.Alias, error) {
	if err := e.gate.Check(); err != nil {
		return catalogtypes.Alias{}, err
	}
	a, err := e.registry.CreateAlias(ctx, tenantID, req)
	if err != nil {
		return catalogtypes.Alias{}, e.fail("create_alias", err)
	}
	return a, nil
}

func (e *Engine) DeleteAlias(ctx context.Context, tenantID string, id string) error {
	if err := e.gate.Check(); err != nil {
		return err
	}
	if err := e.registry.DeleteAlias(ctx, tenantID, id); err != nil {
		return e.fail("delete_alias", err)
	}
	return nil
}

func (e *Engine) ListAliases(ctx context.Context, tenantID string, conceptKeyOrID string) ([]catalogtypes.Alias, error) {
	if err := e.gate.Check(); err != nil {
		return nil, err
	}
	out, err := e.registry.ListAliases(ctx, tenantID, conceptKeyOrID)
	if err != nil {
		return nil, e.fail("list_aliases", err)
	}
	return out, nil
}

func (e *Engine) ResolveAlias(ctx context.Context, tenantID string, text string, domainHint string) ([]catalogtypes.RankedMatch, error) {
	if err := e.gate.Check(); err != nil {
		return nil, err
	}
	out, err := e.resolver.Resolve(ctx, tenantID, text, domainHint)
	if err != nil {
		return nil, e.fail("resolve_alias", err)
	}
	return out, nil
}

// ResolveName converts identifier between two naming conventions given by name.
func (e *Engine) ResolveName(identifier string, from string, to string) (string, error) {
	if err := e.gate.Check(); err != nil {
		return "", err
	}
	fromCasing, err := naming.ParseCasing(from)
	if err != nil {
		return "", err
	}
	toCasing, err := naming.ParseCasing(to)
	if err != nil {
		return "", err
	}
	out, err := naming.Convert(identifier, fromCasing, toCasing)
	if err != nil {
		return "", e.fail("resolve_name", err)
	}
	return out, nil
}

func (e *Engine) SearchGlossary(ctx context.Context, tenantID string, query string) (catalogtypes.GlossaryResult, error) {
	if err := e.gate.Check(); err != nil {
		return catalogtypes.GlossaryResult{}, err
	}
	out, err := e.registry.SearchGlossary(ctx, tenantID, query)
	if err != nil {
		return catalogtypes.GlossaryResult{}, e.fail("search_glossary", err)
	}
	return out, nil
}

func (e *Engine) RegisterEntity(ctx context.Context, tenantID string, req lineageservices.RegisterEntityRequest) (lineagetypes.LineageNode, error) {
	if err := e.gate.Check(); err != nil {
		return lineagetypes.LineageNode{}, err
	}
	n, err := e.graph.RegisterEntity(ctx, tenantID, req)
	if err != nil {
		return lineagetypes.LineageNode{}, e.fail("register_entity", err)
	}
	return n, nil
}

func (e *Engine) RetireEntity(ctx context.Context, tenantID string, entityID string) error {
	if err := e.gate.Check(); err != nil {
		return err
	}
	if err := e.graph.RetireEntity(ctx, tenantID, entityID); err != nil {
		return e.fail("retire_entity", err)
	}
	return nil
}

func (e *Engine) AddEdge(ctx context.Context, tenantID string, req lineageservices.AddEdgeRequest) (lineagetypes.LineageEdge, error) {
	if err := e.gate.Check(); err != nil {
		return lineagetypes.LineageEdge{}, err
	}
	edge, err := e.graph.AddEdge(ctx, tenantID, req)
	if err != nil {
		return lineagetypes.LineageEdge{}, e.fail("add_edge", err)
	}
	return edge, nil
}

// GetUpstream walks towards the sources of entityID. A depth of 0 means the default.
func (e *Engine) GetUpstream(ctx context.Context, tenantID string, entityID string, depth int) (lineagetypes.LineageGraph, error) {
	if err := e.gate.Check(); err != nil {
		return lineagetypes.LineageGraph{}, err
	}
	if depth == 0 {
		depth = lineagetypes.DefaultDepth
	}
	g, err := e.graph.Upstream(ctx, tenantID, entityID, depth)
	if err != nil {
		return lineagetypes.LineageGraph{}, e.fail("get_upstream", err)
	}
	return g, nil
}

func (e *Engine) GetDownstream(ctx context.Context, tenantID string, entityID string, depth int) (lineagetypes.LineageGraph, error) {
	if err := e.gate.Check(); err != nil {
		return lineagetypes.LineageGraph{}, err
	}
	if depth == 0 {
		depth = lineagetypes.DefaultDepth
	}
	g, err := e.graph.Downstream(ctx, tenantID, entityID, depth)
	if err != nil {
		return lineagetypes.LineageGraph{}, e.fail("get_downstream", err)
	}
	return g, nil
}

func (e *Engine) LineageCoverage(ctx context.Context, tenantID string) (lineagetypes.Coverage, error) {
	if err := e.gate.Check(); err != nil {
		return lineagetypes.Coverage{}, err
	}
	c, err := e.graph.Coverage(ctx, tenantID)
	if err != nil {
		return lineagetypes.Coverage{}, e.fail("lineage_coverage", err)
	}
	return c, nil
}

func (e *Engine) CheckConformance(ctx context.Context, tenantID string, entityID string, packID string, useCachedSnapshot bool) (governancetypes.ConformanceResult, error) {
	if err := e.gate.Check(); err != nil {
		return governancetypes.ConformanceResult{}, err
	}
	res, err := e.checker.Check(ctx, tenantID, entityID, packID, governanceservices.CheckOptions{UseCachedSnapshot: useCachedSnapshot})
	if err != nil {
		return governancetypes.ConformanceResult{}, e.fail("check_conformance", err)
	}
	return res, nil
}

func (e *Engine) EvaluateRules(ctx context.Context, tenantID string, scope string, targetID string) ([]governancetypes.Violation, error) {
	if err := e.gate.Check(); err != nil {
		return nil, err
	}
	out, err := e.rules.Evaluate(ctx, tenantID, scope, targetID)
	if err != nil {
		return nil, e.fail("evaluate_rules", err)
	}
	return out, nil
}
