package ports

import (
	"context"
	"errors"

	catalogtypes "github.com/jacksonlee411/metaregistry/modules/catalog/domain/types"
	"github.com/jacksonlee411/metaregistry/modules/governance/domain/types"
)

var ErrPackNotFound = errors.New("standard_pack_not_found")

// PackStore resolves packs for a tenant, falling back to shared packs (TenantID "").
type PackStore interface {
	GetPack(ctx context.Context, tenantID string, packID string) (types.StandardPack, error)
	ListPacks(ctx context.Context, tenantID string) ([]types.StandardPack, error)
	UpsertPack(ctx context.Context, pack types.StandardPack) error
}

// RuleStore returns system rules (TenantID "") together with the tenant's own.
type RuleStore interface {
	ListRules(ctx context.Context, tenantID string) ([]types.Rule, error)
	UpsertRule(ctx context.Context, rule types.Rule) error
}

type GovernanceStore interface {
	PackStore
	RuleStore
}

// CatalogReader is the read side of the concept registry that governance needs.
type CatalogReader interface {
	GetConceptByID(ctx context.Context, tenantID string, id string) (catalogtypes.Concept, error)
	GetConceptByKey(ctx context.Context, tenantID string, canonicalKey string) (catalogtypes.Concept, error)
	ListConcepts(ctx context.Context, tenantID string, filter catalogtypes.ConceptFilter) ([]catalogtypes.Concept, error)
	ListAliases(ctx context.Context, tenantID string) ([]catalogtypes.Alias, error)
}

// SnapshotCache keeps conformance results requested with UseCachedSnapshot.
type SnapshotCache interface {
	Get(ctx context.Context, tenantID string, entityID string, packID string) (types.ConformanceResult, bool, error)
	Set(ctx context.Context, tenantID string, result types.ConformanceResult) error
	InvalidateEntity(ctx context.Context, tenantID string, entityID string) error
	InvalidateTenant(ctx context.Context, tenantID string) error
}
