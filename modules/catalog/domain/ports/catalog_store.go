package ports

import (
	"context"
	"errors"

	"github.com/jacksonlee411/metaregistry/modules/catalog/domain/types"
)

var (
	ErrConceptNotFound = errors.New("concept_not_found")
	ErrAliasNotFound   = errors.New("alias_not_found")
	// ErrUniqueViolation is returned by Insert*/Update* when a uniqueness
	// constraint rejected the write. It is the final arbiter for concurrent writers.
	ErrUniqueViolation = errors.New("unique_violation")
)

type ConceptStore interface {
	GetConceptByID(ctx context.Context, tenantID string, id string) (types.Concept, error)
	GetConceptByKey(ctx context.Context, tenantID string, canonicalKey string) (types.Concept, error)
	ListConcepts(ctx context.Context, tenantID string, filter types.ConceptFilter) ([]types.Concept, error)
	InsertConcept(ctx context.Context, c types.Concept) error
	UpdateConcept(ctx context.Context, c types.Concept) error
}

type AliasStore interface {
	GetAlias(ctx context.Context, tenantID string, id string) (types.Alias, error)
	ListAliases(ctx context.Context, tenantID string) ([]types.Alias, error)
	ListAliasesByConcept(ctx context.Context, tenantID string, conceptID string) ([]types.Alias, error)
	FindAliasesByNormalizedValue(ctx context.Context, tenantID string, normalized string) ([]types.Alias, error)
	InsertAlias(ctx context.Context, a types.Alias) error
	DeleteAlias(ctx context.Context, tenantID string, id string) error
}

type CatalogStore interface {
	ConceptStore
	AliasStore
}
