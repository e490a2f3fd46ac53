package persistence

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/jacksonlee411/metaregistry/modules/catalog/domain/ports"
	"github.com/jacksonlee411/metaregistry/modules/catalog/domain/types"
)

type tenantCatalog struct {
	concepts map[string]types.Concept
	keys     map[string]string
	aliases  map[string]types.Alias
}

type CatalogMemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]*tenantCatalog
}

func NewCatalogMemoryStore() *CatalogMemoryStore {
	return &CatalogMemoryStore{tenants: make(map[string]*tenantCatalog)}
}

var _ ports.CatalogStore = (*CatalogMemoryStore)(nil)

func (s *CatalogMemoryStore) tenant(tenantID string, create bool) *tenantCatalog {
	t, ok := s.tenants[tenantID]
	if !ok && create {
		t = &tenantCatalog{
			concepts: make(map[string]types.Concept),
			keys:     make(map[string]string),
			aliases:  make(map[string]types.Alias),
		}
		s.tenants[tenantID] = t
	}
	return t
}

func (s *CatalogMemoryStore) GetConceptByID(_ context.Context, tenantID string, id string) (types.Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.tenant(tenantID, false)
	if t == nil {
		return types.Concept{}, ports.ErrConceptNotFound
	}
	c, ok := t.concepts[id]
	if !ok {
		return types.Concept{}, ports.ErrConceptNotFound
	}
	return c.Clone(), nil
}

func (s *CatalogMemoryStore) GetConceptByKey(_ context.Context, tenantID string, canonicalKey string) (types.Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.tenant(tenantID, false)
	if t == nil {
		return types.Concept{}, ports.ErrConceptNotFound
	}
	id, ok := t.keys[strings.ToLower(canonicalKey)]
	if !ok {
		return types.Concept{}, ports.ErrConceptNotFound
	}
	return t.concepts[id].Clone(), nil
}

func (s *CatalogMemoryStore) ListConcepts(_ context.Context, tenantID string, filter types.ConceptFilter) ([]types.Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.tenant(tenantID, false)
	if t == nil {
		return nil, nil
	}
	out := make([]types.Concept, 0, len(t.concepts))
	for _, c := range t.concepts {
		if filter.Matches(c) {
			out = append(out, c.Clone())
		}
	}
	slices.SortFunc(out, types.LessConcept)
	return out, nil
}

func (s *CatalogMemoryStore) InsertConcept(_ context.Context, c types.Concept) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(c.TenantID, true)
	if _, ok := t.keys[c.CanonicalKey]; ok {
		return ports.ErrUniqueViolation
	}
	if _, ok := t.concepts[c.ID]; ok {
		return ports.ErrUniqueViolation
	}
	t.concepts[c.ID] = c.Clone()
	t.keys[c.CanonicalKey] = c.ID
	return nil
}

func (s *CatalogMemoryStore) UpdateConcept(_ context.Context, c types.Concept) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(c.TenantID, false)
	if t == nil {
		return ports.ErrConceptNotFound
	}
	prev, ok := t.concepts[c.ID]
	if !ok {
		return ports.ErrConceptNotFound
	}
	if prev.CanonicalKey != c.CanonicalKey {
		if _, taken := t.keys[c.CanonicalKey]; taken {
			return ports.ErrUniqueViolation
		}
		delete(t.keys, prev.CanonicalKey)
		t.keys[c.CanonicalKey] = c.ID
	}
	t.concepts[c.ID] = c.Clone()
	return nil
}

func (s *CatalogMemoryStore) GetAlias(_ context.Context, tenantID string, id string) (types.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.tenant(tenantID, false)
	if t == nil {
		return types.Alias{}, ports.ErrAliasNotFound
	}
	a, ok := t.aliases[id]
	if !ok {
		return types.Alias{}, ports.ErrAliasNotFound
	}
	return a, nil
}

func (s *CatalogMemoryStore) ListAliases(_ context.Context, tenantID string) ([]types.Alias, error) {
	return s.collectAliases(tenantID, func(types.Alias) bool { return true }), nil
}

func (s *CatalogMemoryStore) ListAliasesByConcept(_ context.Context, tenantID string, conceptID string) ([]types.Alias, error) {
	return s.collectAliases(tenantID, func(a types.Alias) bool { return a.ConceptID == conceptID }), nil
}

func (s *CatalogMemoryStore) FindAliasesByNormalizedValue(_ context.Context, tenantID string, normalized string) ([]types.Alias, error) {
	return s.collectAliases(tenantID, func(a types.Alias) bool { return a.NormalizedValue == normalized }), nil
}

func (s *CatalogMemoryStore) collectAliases(tenantID string, keep func(types.Alias) bool) []types.Alias {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.tenant(tenantID, false)
	if t == nil {
		return nil
	}
	var out []types.Alias
	for _, a := range t.aliases {
		if keep(a) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b types.Alias) int {
		if c := strings.Compare(a.NormalizedValue, b.NormalizedValue); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (s *CatalogMemoryStore) InsertAlias(_ context.Context, a types.Alias) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(a.TenantID, true)
	if _, ok := t.concepts[a.ConceptID]; !ok {
		return ports.ErrConceptNotFound
	}
	for _, other := range t.aliases {
		if other.ID == a.ID {
			return ports.ErrUniqueViolation
		}
		if other.ConceptID != a.ConceptID {
			continue
		}
		if other.NormalizedValue == a.NormalizedValue && other.Source() == a.Source() {
			return ports.ErrUniqueViolation
		}
		if a.IsPreferredForDisplay && other.IsPreferredForDisplay && other.Locale == a.Locale {
			return ports.ErrUniqueViolation
		}
	}
	t.aliases[a.ID] = a
	return nil
}

func (s *CatalogMemoryStore) DeleteAlias(_ context.Context, tenantID string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID, false)
	if t == nil {
		return ports.ErrAliasNotFound
	}
	if _, ok := t.aliases[id]; !ok {
		return ports.ErrAliasNotFound
	}
	delete(t.aliases, id)
	return nil
}
