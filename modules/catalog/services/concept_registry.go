package services

import (
	"context"
	"errors"
	"maps"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jacksonlee411/metaregistry/internal/events"
	"github.com/jacksonlee411/metaregistry/modules/catalog/domain/ports"
	"github.com/jacksonlee411/metaregistry/modules/catalog/domain/types"
	"github.com/jacksonlee411/metaregistry/pkg/metaerr"
)

var (
	newUUID = func() string { return uuid.Must(uuid.NewV7()).String() }
	nowUTC  = func() time.Time { return time.Now().UTC() }
)

const (
	kindConcept = "concept"
	kindAlias   = "alias"
)

type CreateConceptRequest struct {
	CanonicalKey          string         `json:"canonical_key"`
	Label                 string         `json:"label"`
	Description           string         `json:"description"`
	Domain                string         `json:"domain"`
	ConceptType           string         `json:"concept_type"`
	GovernanceTier        int            `json:"governance_tier"`
	StandardPackIDPrimary *string        `json:"standard_pack_id_primary,omitempty"`
	Fields                map[string]any `json:"fields,omitempty"`
}

// ConceptPatch carries the fields to change; nil means unchanged.
// ClearStandardPack removes the primary pack reference.
type ConceptPatch struct {
	CanonicalKey          *string        `json:"canonical_key,omitempty"`
	Label                 *string        `json:"label,omitempty"`
	Description           *string        `json:"description,omitempty"`
	Domain                *string        `json:"domain,omitempty"`
	ConceptType           *string        `json:"concept_type,omitempty"`
	GovernanceTier        *int           `json:"governance_tier,omitempty"`
	StandardPackIDPrimary *string        `json:"standard_pack_id_primary,omitempty"`
	ClearStandardPack     bool           `json:"clear_standard_pack,omitempty"`
	Fields                map[string]any `json:"fields,omitempty"`
}

type CreateAliasRequest struct {
	ConceptID             string  `json:"concept_id"`
	AliasValue            string  `json:"alias_value"`
	AliasType             string  `json:"alias_type"`
	SourceSystem          *string `json:"source_system,omitempty"`
	Locale                string  `json:"locale,omitempty"`
	IsPreferredForDisplay bool    `json:"is_preferred_for_display"`
	Notes                 string  `json:"notes,omitempty"`
}

type ConceptRegistry struct {
	store  ports.CatalogStore
	bus    *events.Bus
	logger *zap.Logger
}

func NewConceptRegistry(store ports.CatalogStore, bus *events.Bus, logger *zap.Logger) *ConceptRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConceptRegistry{store: store, bus: bus, logger: logger}
}

// Get looks a concept up by canonical key first and by id second.
// Inactive concepts are returned; callers decide whether to hide them.
func (r *ConceptRegistry) Get(ctx context.Context, tenantID string, keyOrID string) (types.Concept, error) {
	keyOrID = strings.TrimSpace(keyOrID)
	if keyOrID == "" {
		return types.Concept{}, metaerr.NewValidation("canonical_key_or_id", "canonical_key_or_id is required")
	}
	if key, ok := types.NormalizeCanonicalKey(keyOrID); ok {
		c, err := r.store.GetConceptByKey(ctx, tenantID, key)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ports.ErrConceptNotFound) {
			return types.Concept{}, err
		}
	}
	c, err := r.store.GetConceptByID(ctx, tenantID, keyOrID)
	if errors.Is(err, ports.ErrConceptNotFound) {
		return types.Concept{}, metaerr.NewNotFound(kindConcept, keyOrID)
	}
	return c, err
}

func (r *ConceptRegistry) List(ctx context.Context, tenantID string, filter types.ConceptFilter) ([]types.Concept, error) {
	if filter.Tier != 0 && (filter.Tier < types.MinGovernanceTier || filter.Tier > types.MaxGovernanceTier) {
		return nil, metaerr.NewValidation("tier", "tier must be between 1 and 4")
	}
	out, err := r.store.ListConcepts(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []types.Concept{}
	}
	return out, nil
}

func (r *ConceptRegistry) Create(ctx context.Context, tenantID string, req CreateConceptRequest) (types.Concept, error) {
	key, ok := types.NormalizeCanonicalKey(req.CanonicalKey)
	if !ok {
		return types.Concept{}, metaerr.NewValidation("canonical_key", "canonical_key must match ^[a-z0-9][a-z0-9_.-]*$")
	}
	label := strings.TrimSpace(req.Label)
	if label == "" {
		return types.Concept{}, metaerr.NewValidation("label", "label is required")
	}
	domain, ok := types.ParseDomain(req.Domain)
	if !ok {
		return types.Concept{}, metaerr.NewValidation("domain", "unknown domain "+req.Domain)
	}
	if err := validateTier(req.GovernanceTier); err != nil {
		return types.Concept{}, err
	}

	now := nowUTC()
	c := types.Concept{
		ID:                    newUUID(),
		TenantID:              tenantID,
		CanonicalKey:          key,
		Label:                 label,
		Description:           strings.TrimSpace(req.Description),
		Domain:                domain,
		ConceptType:           strings.TrimSpace(req.ConceptType),
		GovernanceTier:        req.GovernanceTier,
		StandardPackIDPrimary: trimmedOrNil(req.StandardPackIDPrimary),
		IsActive:              true,
		Fields:                maps.Clone(req.Fields),
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	conflict := metaerr.NewConflict(kindConcept, key)
	recheck := func() error {
		if _, err := r.store.GetConceptByKey(ctx, tenantID, key); err == nil {
			return conflict
		} else if !errors.Is(err, ports.ErrConceptNotFound) {
			return err
		}
		return nil
	}
	if err := recheck(); err != nil {
		return types.Concept{}, err
	}

	evt := events.MetadataChanged{
		TenantID:      tenantID,
		EntityID:      c.ID,
		EntityKind:    events.KindConcept,
		ChangeType:    events.ChangeCreated,
		ChangedFields: []string{"*"},
		Subject:       c.Clone(),
	}
	err := r.bus.Emit(ctx, evt, func() error {
		return insertWithRetry(func() error { return r.store.InsertConcept(ctx, c) }, recheck, conflict)
	})
	if err != nil {
		return types.Concept{}, err
	}
	r.logger.Info("concept created", zap.String("tenant_id", tenantID), zap.String("concept_id", c.ID), zap.String("canonical_key", key))
	return c, nil
}

func (r *ConceptRegistry) Update(ctx context.Context, tenantID string, id string, patch ConceptPatch) (types.Concept, error) {
	current, err := r.Get(ctx, tenantID, id)
	if err != nil {
		return types.Concept{}, err
	}
	next, changed, err := applyPatch(current, patch)
	if err != nil {
		return types.Concept{}, err
	}
	if len(changed) == 0 {
		return current, nil
	}
	next.UpdatedAt = nowUTC()

	conflict := metaerr.NewConflict(kindConcept, next.CanonicalKey)
	recheck := func() error {
		other, err := r.store.GetConceptByKey(ctx, tenantID, next.CanonicalKey)
		if err == nil && other.ID != next.ID {
			return conflict
		}
		if err != nil && !errors.Is(err, ports.ErrConceptNotFound) {
			return err
		}
		return nil
	}
	if err := recheck(); err != nil {
		return types.Concept{}, err
	}

	evt := events.MetadataChanged{
		TenantID:      tenantID,
		EntityID:      next.ID,
		EntityKind:    events.KindConcept,
		ChangeType:    events.ChangeUpdated,
		ChangedFields: changed,
		Subject:       next.Clone(),
	}
	err = r.bus.Emit(ctx, evt, func() error {
		return insertWithRetry(func() error { return r.store.UpdateConcept(ctx, next) }, recheck, conflict)
	})
	if errors.Is(err, ports.ErrConceptNotFound) {
		return types.Concept{}, metaerr.NewNotFound(kindConcept, id)
	}
	if err != nil {
		return types.Concept{}, err
	}
	return next, nil
}

// Deactivate is a soft delete. Deactivating an inactive concept is a no-op and
// publishes nothing.
func (r *ConceptRegistry) Deactivate(ctx context.Context, tenantID string, id string) (types.Concept, error) {
	current, err := r.Get(ctx, tenantID, id)
	if err != nil {
		return types.Concept{}, err
	}
	if !current.IsActive {
		return current, nil
	}
	next := current.Clone()
	next.IsActive = false
	next.UpdatedAt = nowUTC()

	evt := events.MetadataChanged{
		TenantID:      tenantID,
		EntityID:      next.ID,
		EntityKind:    events.KindConcept,
		ChangeType:    events.ChangeDeactivated,
		ChangedFields: []string{"is_active"},
		Subject:       next.Clone(),
	}
	if err := r.bus.Emit(ctx, evt, func() error { return r.store.UpdateConcept(ctx, next) }); err != nil {
		return types.Concept{}, err
	}
	return next, nil
}

func (r *ConceptRegistry) CreateAlias(ctx context.Context, tenantID string, req CreateAliasRequest) (types.Alias, error) {
	value := strings.TrimSpace(req.AliasValue)
	norm := types.NormalizeText(value)
	if norm == "" {
		return types.Alias{}, metaerr.NewValidation("alias_value", "alias_value is required")
	}
	aliasType, ok := types.ParseAliasType(req.AliasType)
	if !ok {
		return types.Alias{}, metaerr.NewValidation("alias_type", "unknown alias_type "+req.AliasType)
	}
	concept, err := r.Get(ctx, tenantID, req.ConceptID)
	if err != nil {
		return types.Alias{}, err
	}

	a := types.Alias{
		ID:                    newUUID(),
		TenantID:              tenantID,
		ConceptID:             concept.ID,
		AliasValue:            value,
		NormalizedValue:       norm,
		AliasType:             aliasType,
		SourceSystem:          trimmedOrNil(req.SourceSystem),
		Locale:                strings.TrimSpace(req.Locale),
		IsPreferredForDisplay: req.IsPreferredForDisplay,
		Notes:                 strings.TrimSpace(req.Notes),
		CreatedAt:             nowUTC(),
	}

	conflict := metaerr.NewConflict(kindAlias, value)
	recheck := func() error {
		existing, err := r.store.ListAliasesByConcept(ctx, tenantID, concept.ID)
		if err != nil {
			return err
		}
		for _, other := range existing {
			if other.NormalizedValue == a.NormalizedValue && other.Source() == a.Source() {
				return conflict
			}
			if a.IsPreferredForDisplay && other.IsPreferredForDisplay && other.Locale == a.Locale {
				return metaerr.NewConflict("preferred_display_alias", concept.CanonicalKey+"/"+a.Locale)
			}
		}
		return nil
	}
	if err := recheck(); err != nil {
		return types.Alias{}, err
	}

	evt := events.MetadataChanged{
		TenantID:      tenantID,
		EntityID:      a.ID,
		EntityKind:    events.KindAlias,
		ChangeType:    events.ChangeCreated,
		ChangedFields: []string{"*"},
		Subject:       a,
	}
	err = r.bus.Emit(ctx, evt, func() error {
		return insertWithRetry(func() error { return r.store.InsertAlias(ctx, a) }, recheck, conflict)
	})
	if errors.Is(err, ports.ErrConceptNotFound) {
		return types.Alias{}, metaerr.NewNotFound(kindConcept, req.ConceptID)
	}
	if err != nil {
		return types.Alias{}, err
	}
	return a, nil
}

func (r *ConceptRegistry) DeleteAlias(ctx context.Context, tenantID string, id string) error {
	a, err := r.store.GetAlias(ctx, tenantID, id)
	if errors.Is(err, ports.ErrAliasNotFound) {
		return metaerr.NewNotFound(kindAlias, id)
	}
	if err != nil {
		return err
	}
	evt := events.MetadataChanged{
		TenantID:   tenantID,
		EntityID:   a.ID,
		EntityKind: events.KindAlias,
		ChangeType: events.ChangeDeleted,
		Subject:    a,
	}
	err = r.bus.Emit(ctx, evt, func() error { return r.store.DeleteAlias(ctx, tenantID, id) })
	if errors.Is(err, ports.ErrAliasNotFound) {
		return metaerr.NewNotFound(kindAlias, id)
	}
	return err
}

func (r *ConceptRegistry) ListAliases(ctx context.Context, tenantID string, conceptKeyOrID string) ([]types.Alias, error) {
	concept, err := r.Get(ctx, tenantID, conceptKeyOrID)
	if err != nil {
		return nil, err
	}
	out, err := r.store.ListAliasesByConcept(ctx, tenantID, concept.ID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []types.Alias{}
	}
	return out, nil
}

// SearchGlossary returns active concepts whose label, description or key contain
// query, and aliases whose value contains it.
func (r *ConceptRegistry) SearchGlossary(ctx context.Context, tenantID string, query string) (types.GlossaryResult, error) {
	norm := types.NormalizeText(query)
	if norm == "" {
		return types.GlossaryResult{}, metaerr.NewValidation("query", "query is required")
	}
	concepts, err := r.store.ListConcepts(ctx, tenantID, types.ConceptFilter{Search: norm})
	if err != nil {
		return types.GlossaryResult{}, err
	}
	aliases, err := r.store.ListAliases(ctx, tenantID)
	if err != nil {
		return types.GlossaryResult{}, err
	}
	out := types.GlossaryResult{Concepts: []types.Concept{}, Aliases: []types.Alias{}}
	if concepts != nil {
		out.Concepts = concepts
	}
	for _, a := range aliases {
		if strings.Contains(a.NormalizedValue, norm) {
			out.Aliases = append(out.Aliases, a)
		}
	}
	return out, nil
}

// insertWithRetry runs write and, when the store reports a uniqueness violation,
// re-runs the pre-write check once and retries. A second violation is a conflict.
func insertWithRetry(write func() error, recheck func() error, conflict error) error {
	for range 2 {
		err := write()
		if !errors.Is(err, ports.ErrUniqueViolation) {
			return err
		}
		if err := recheck(); err != nil {
			return err
		}
	}
	return conflict
}

func applyPatch(c types.Concept, p ConceptPatch) (types.Concept, []string, error) {
	next := c.Clone()
	var changed []string

	if p.CanonicalKey != nil {
		key, ok := types.NormalizeCanonicalKey(*p.CanonicalKey)
		if !ok {
			return c, nil, metaerr.NewValidation("canonical_key", "canonical_key must match ^[a-z0-9][a-z0-9_.-]*$")
		}
		if key != next.CanonicalKey {
			next.CanonicalKey = key
			changed = append(changed, "canonical_key")
		}
	}
	if p.Label != nil {
		label := strings.TrimSpace(*p.Label)
		if label == "" {
			return c, nil, metaerr.NewValidation("label", "label is required")
		}
		if label != next.Label {
			next.Label = label
			changed = append(changed, "label")
		}
	}
	if p.Description != nil && strings.TrimSpace(*p.Description) != next.Description {
		next.Description = strings.TrimSpace(*p.Description)
		changed = append(changed, "description")
	}
	if p.Domain != nil {
		d, ok := types.ParseDomain(*p.Domain)
		if !ok {
			return c, nil, metaerr.NewValidation("domain", "unknown domain "+*p.Domain)
		}
		if d != next.Domain {
			next.Domain = d
			changed = append(changed, "domain")
		}
	}
	if p.ConceptType != nil && strings.TrimSpace(*p.ConceptType) != next.ConceptType {
		next.ConceptType = strings.TrimSpace(*p.ConceptType)
		changed = append(changed, "concept_type")
	}
	if p.GovernanceTier != nil {
		if err := validateTier(*p.GovernanceTier); err != nil {
			return c, nil, err
		}
		if *p.GovernanceTier != next.GovernanceTier {
			next.GovernanceTier = *p.GovernanceTier
			changed = append(changed, "governance_tier")
		}
	}
	switch {
	case p.ClearStandardPack:
		if next.StandardPackIDPrimary != nil {
			next.StandardPackIDPrimary = nil
			changed = append(changed, "standard_pack_id_primary")
		}
	case p.StandardPackIDPrimary != nil:
		pack := trimmedOrNil(p.StandardPackIDPrimary)
		if pack != nil && *pack != next.PrimaryPack() {
			next.StandardPackIDPrimary = pack
			changed = append(changed, "standard_pack_id_primary")
		}
	}
	if p.Fields != nil && !reflect.DeepEqual(p.Fields, next.Fields) {
		next.Fields = maps.Clone(p.Fields)
		changed = append(changed, "fields")
	}
	return next, changed, nil
}

func validateTier(tier int) error {
	if tier < types.MinGovernanceTier || tier > types.MaxGovernanceTier {
		return metaerr.NewValidation("governance_tier", "governance_tier must be between 1 and 4")
	}
	return nil
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
