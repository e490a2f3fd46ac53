package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/jacksonlee411/metaregistry/internal/events"
	catalogports "github.com/jacksonlee411/metaregistry/modules/catalog/domain/ports"
	catalogtypes "github.com/jacksonlee411/metaregistry/modules/catalog/domain/types"
	"github.com/jacksonlee411/metaregistry/modules/governance/domain/ports"
	"github.com/jacksonlee411/metaregistry/modules/governance/domain/types"
	"github.com/jacksonlee411/metaregistry/pkg/metaerr"
	"github.com/jacksonlee411/metaregistry/pkg/naming"
)

var (
	newFieldRuleEnv = func() (*cel.Env, error) {
		return cel.NewEnv(
			cel.Variable("value", cel.DynType),
			cel.CrossTypeNumericComparisons(true),
		)
	}
	checkerNow = func() time.Time { return time.Now().UTC() }
)

type CheckOptions struct {
	UseCachedSnapshot bool
}

type ConformanceChecker struct {
	catalog  ports.CatalogReader
	packs    ports.PackStore
	cache    ports.SnapshotCache
	bus      *events.Bus
	logger   *zap.Logger
	programs sync.Map
	flight   singleflight.Group
}

// NewConformanceChecker builds a checker; cache may be nil, in which case
// UseCachedSnapshot computes fresh results.
func NewConformanceChecker(catalog ports.CatalogReader, packs ports.PackStore, cache ports.SnapshotCache, bus *events.Bus, logger *zap.Logger) *ConformanceChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConformanceChecker{catalog: catalog, packs: packs, cache: cache, bus: bus, logger: logger}
}

// RegisterPack validates pack, compiles every CEL rule and stores it.
func (c *ConformanceChecker) RegisterPack(ctx context.Context, pack types.StandardPack) error {
	if err := c.CompilePack(pack); err != nil {
		return metaerr.NewValidation("pack", err.Error())
	}
	evt := events.MetadataChanged{
		TenantID:      pack.TenantID,
		EntityID:      pack.PackID,
		EntityKind:    events.KindStandardPack,
		ChangeType:    events.ChangeUpdated,
		ChangedFields: []string{"*"},
		Subject:       pack,
	}
	return c.bus.Emit(ctx, evt, func() error { return c.packs.UpsertPack(ctx, pack) })
}

// CompilePack checks the pack's shape and that every validation rule compiles
// to a boolean expression.
func (c *ConformanceChecker) CompilePack(pack types.StandardPack) error {
	if err := pack.Validate(); err != nil {
		return err
	}
	for _, f := range pack.Fields {
		for _, expr := range f.ValidationRules {
			if _, err := c.program(expr); err != nil {
				return fmt.Errorf("pack %s: field %s: rule %q: %w", pack.PackID, f.FieldName, expr, err)
			}
		}
	}
	return nil
}

// Subscribe drops cached snapshots whenever a concept or pack changes.
func (c *ConformanceChecker) Subscribe(bus *events.Bus) {
	if c.cache == nil {
		return
	}
	bus.Subscribe(events.PhaseCommitted, "conformance-snapshot-cache", func(ctx context.Context, evt events.MetadataChanged) error {
		switch evt.EntityKind {
		case events.KindConcept:
			return c.cache.InvalidateEntity(ctx, evt.TenantID, evt.EntityID)
		case events.KindStandardPack:
			return c.cache.InvalidateTenant(ctx, evt.TenantID)
		}
		return nil
	})
}

func (c *ConformanceChecker) Check(ctx context.Context, tenantID string, entityID string, packID string, opts CheckOptions) (types.ConformanceResult, error) {
	if strings.TrimSpace(packID) == "" {
		return types.ConformanceResult{}, metaerr.NewValidation("pack_id", "pack_id is required")
	}
	concept, err := c.concept(ctx, tenantID, entityID)
	if err != nil {
		return types.ConformanceResult{}, err
	}
	pack, err := c.packs.GetPack(ctx, tenantID, packID)
	if errors.Is(err, ports.ErrPackNotFound) {
		return types.ConformanceResult{}, metaerr.NewNotFound("standard_pack", packID)
	}
	if err != nil {
		return types.ConformanceResult{}, err
	}

	if !opts.UseCachedSnapshot || c.cache == nil {
		return c.evaluate(concept, pack)
	}

	if cached, ok, err := c.cache.Get(ctx, tenantID, concept.ID, pack.PackID); err != nil {
		c.logger.Warn("conformance snapshot read failed", zap.String("tenant_id", tenantID), zap.Error(err))
	} else if ok {
		cached.Cached = true
		return cached, nil
	}

	v, err, _ := c.flight.Do(tenantID+"\x00"+concept.ID+"\x00"+pack.PackID, func() (any, error) {
		res, err := c.evaluate(concept, pack)
		if err != nil {
			return nil, err
		}
		if err := c.cache.Set(ctx, tenantID, res); err != nil {
			c.logger.Warn("conformance snapshot write failed", zap.String("tenant_id", tenantID), zap.Error(err))
		}
		return res, nil
	})
	if err != nil {
		return types.ConformanceResult{}, err
	}
	return v.(types.ConformanceResult), nil
}

func (c *ConformanceChecker) concept(ctx context.Context, tenantID string, keyOrID string) (catalogtypes.Concept, error) {
	keyOrID = strings.TrimSpace(keyOrID)
	if keyOrID == "" {
		return catalogtypes.Concept{}, metaerr.NewValidation("entity_id", "entity_id is required")
	}
	if key, ok := catalogtypes.NormalizeCanonicalKey(keyOrID); ok {
		cpt, err := c.catalog.GetConceptByKey(ctx, tenantID, key)
		if err == nil {
			return cpt, nil
		}
		if !errors.Is(err, catalogports.ErrConceptNotFound) {
			return catalogtypes.Concept{}, err
		}
	}
	cpt, err := c.catalog.GetConceptByID(ctx, tenantID, keyOrID)
	if errors.Is(err, catalogports.ErrConceptNotFound) {
		return catalogtypes.Concept{}, metaerr.NewNotFound("concept", keyOrID)
	}
	return cpt, err
}

func (c *ConformanceChecker) evaluate(concept catalogtypes.Concept, pack types.StandardPack) (types.ConformanceResult, error) {
	values := make(map[string]any, len(concept.Fields))
	for k, v := range concept.Fields {
		values[naming.FieldKey(k)] = v
	}

	res := types.ConformanceResult{
		EntityID:         concept.ID,
		PackID:           pack.PackID,
		ConformantFields: []string{},
		MissingFields:    []string{},
		InvalidFields:    []types.InvalidField{},
		ComputedAt:       checkerNow(),
	}
	required, conformantRequired, present, valid := 0, 0, 0, 0
	for _, f := range pack.Fields {
		if f.Required {
			required++
		}
		v, ok := values[naming.FieldKey(f.FieldName)]
		if !ok || v == nil {
			if f.Required {
				res.MissingFields = append(res.MissingFields, f.FieldName)
			}
			continue
		}
		present++
		reason, err := c.validate(f, v)
		if err != nil {
			return types.ConformanceResult{}, err
		}
		if reason != "" {
			res.InvalidFields = append(res.InvalidFields, types.InvalidField{Field: f.FieldName, Reason: reason})
			continue
		}
		valid++
		res.ConformantFields = append(res.ConformantFields, f.FieldName)
		if f.Required {
			conformantRequired++
		}
	}

	// A pack without required fields cannot be failed: it scores 100.
	res.Score = 100
	if required > 0 {
		res.Score = int(math.Round(100 * float64(conformantRequired) / float64(required)))
		res.Score = max(0, min(100, res.Score))
	}

	validity := 100.0
	if present > 0 {
		validity = 100 * float64(valid) / float64(present)
	}
	for _, q := range pack.QualityRules {
		actual := float64(res.Score)
		if q.Dimension == types.DimensionValidity {
			actual = validity
		}
		res.QualityFindings = append(res.QualityFindings, types.QualityFinding{
			Dimension: q.Dimension,
			Threshold: q.Threshold,
			Actual:    actual,
			Passed:    actual >= q.Threshold,
		})
	}
	return res, nil
}

// validate returns a non-empty reason when v fails f. The error return is
// reserved for rules that cannot be compiled.
func (c *ConformanceChecker) validate(f types.FieldDefinition, v any) (string, error) {
	if !matchesType(f.DataType, v) {
		return "expected " + string(f.DataType), nil
	}
	for _, expr := range f.ValidationRules {
		prg, err := c.program(expr)
		if err != nil {
			return "", err
		}
		out, _, err := prg.Eval(map[string]any{"value": v})
		if err != nil {
			return "rule " + expr + " failed: " + err.Error(), nil
		}
		if ok, _ := out.Value().(bool); !ok {
			return "rule " + expr + " not satisfied", nil
		}
	}
	return "", nil
}

func (c *ConformanceChecker) program(expr string) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("expression required")
	}
	if cached, ok := c.programs.Load(expr); ok {
		return cached.(cel.Program), nil
	}
	env, err := newFieldRuleEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.New("expression output type mismatch")
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	c.programs.Store(expr, prg)
	return prg, nil
}

func matchesType(dt types.DataType, v any) bool {
	switch dt {
	case types.DataTypeString:
		_, ok := v.(string)
		return ok
	case types.DataTypeBoolean:
		_, ok := v.(bool)
		return ok
	case types.DataTypeNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64, uint, uint32, uint64:
			return true
		}
		return false
	case types.DataTypeInteger:
		switch n := v.(type) {
		case int, int32, int64, uint, uint32, uint64:
			return true
		case float64:
			return n == math.Trunc(n) && !math.IsInf(n, 0)
		}
		return false
	case types.DataTypeDate:
		switch s := v.(type) {
		case time.Time:
			return true
		case string:
			if _, err := time.Parse(time.DateOnly, s); err == nil {
				return true
			}
			_, err := time.Parse(time.RFC3339, s)
			return err == nil
		}
		return false
	default:
		return false
	}
}
