package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jacksonlee411/metaregistry/modules/catalog/domain/ports"
	"github.com/jacksonlee411/metaregistry/modules/catalog/domain/types"
)

const pgUniqueViolation = "23505"

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type CatalogPGStore struct {
	pool pgBeginner
}

func NewCatalogPGStore(pool pgBeginner) *CatalogPGStore {
	return &CatalogPGStore{pool: pool}
}

var _ ports.CatalogStore = (*CatalogPGStore)(nil)

func (s *CatalogPGStore) withTx(ctx context.Context, tenantID string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return mapPGError(err)
	}
	return tx.Commit(ctx)
}

func mapPGError(err error) error {
	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok && pgErr.Code == pgUniqueViolation {
		return ports.ErrUniqueViolation
	}
	return err
}

const conceptColumns = `id::text, tenant_id, canonical_key, label, description, domain, concept_type,
  governance_tier, standard_pack_id_primary, is_active, fields, created_at, updated_at`

func scanConcept(row pgx.Row) (types.Concept, error) {
	var c types.Concept
	var domain string
	var fields []byte
	if err := row.Scan(
		&c.ID, &c.TenantID, &c.CanonicalKey, &c.Label, &c.Description, &domain, &c.ConceptType,
		&c.GovernanceTier, &c.StandardPackIDPrimary, &c.IsActive, &fields, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return types.Concept{}, err
	}
	c.Domain = types.Domain(domain)
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &c.Fields); err != nil {
			return types.Concept{}, err
		}
	}
	return c, nil
}

func (s *CatalogPGStore) getConcept(ctx context.Context, tenantID string, where string, arg string) (types.Concept, error) {
	var out types.Concept
	err := s.withTx(ctx, tenantID, func(tx pgx.Tx) error {
		c, err := scanConcept(tx.QueryRow(ctx, `
SELECT `+conceptColumns+`
FROM metadata.concepts
WHERE tenant_id = $1 AND `+where, tenantID, arg))
		if errors.Is(err, pgx.ErrNoRows) {
			return ports.ErrConceptNotFound
		}
		out = c
		return err
	})
	return out, err
}

func (s *CatalogPGStore) GetConceptByID(ctx context.Context, tenantID string, id string) (types.Concept, error) {
	return s.getConcept(ctx, tenantID, `id::text = $2`, id)
}

func (s *CatalogPGStore) GetConceptByKey(ctx context.Context, tenantID string, canonicalKey string) (types.Concept, error) {
	return s.getConcept(ctx, tenantID, `canonical_key = lower($2)`, canonicalKey)
}

func (s *CatalogPGStore) ListConcepts(ctx context.Context, tenantID string, filter types.ConceptFilter) ([]types.Concept, error) {
	var out []types.Concept
	err := s.withTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT `+conceptColumns+`
FROM metadata.concepts
WHERE tenant_id = $1
  AND ($2::boolean OR is_active)
  AND ($3 = '' OR domain = $3)
  AND ($4::int = 0 OR governance_tier = $4)
  AND ($5 = '' OR standard_pack_id_primary = $5)
ORDER BY domain COLLATE "C", governance_tier, canonical_key COLLATE "C"
`, tenantID, filter.IncludeInactive, string(filter.Domain), filter.Tier, filter.PackID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			c, err := scanConcept(rows)
			if err != nil {
				return err
			}
			if filter.Matches(c) {
				out = append(out, c)
			}
		}
		return rows.Err()
	})
	return out, err
}

func (s *CatalogPGStore) InsertConcept(ctx context.Context, c types.Concept) error {
	fields, err := json.Marshal(c.Fields)
	if err != nil {
		return err
	}
	return s.withTx(ctx, c.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO metadata.concepts (
  id, tenant_id, canonical_key, label, description, domain, concept_type,
  governance_tier, standard_pack_id_primary, is_active, fields, created_at, updated_at
) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12, $13)
`, c.ID, c.TenantID, c.CanonicalKey, c.Label, c.Description, string(c.Domain), c.ConceptType,
			c.GovernanceTier, c.StandardPackIDPrimary, c.IsActive, fields, c.CreatedAt, c.UpdatedAt)
		return err
	})
}

func (s *CatalogPGStore) UpdateConcept(ctx context.Context, c types.Concept) error {
	fields, err := json.Marshal(c.Fields)
	if err != nil {
		return err
	}
	return s.withTx(ctx, c.TenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE metadata.concepts
SET canonical_key = $3, label = $4, description = $5, domain = $6, concept_type = $7,
    governance_tier = $8, standard_pack_id_primary = $9, is_active = $10, fields = $11::jsonb,
    updated_at = $12
WHERE tenant_id = $1 AND id = $2::uuid
`, c.TenantID, c.ID, c.CanonicalKey, c.Label, c.Description, string(c.Domain), c.ConceptType,
			c.GovernanceTier, c.StandardPackIDPrimary, c.IsActive, fields, c.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ports.ErrConceptNotFound
		}
		return nil
	})
}

const aliasColumns = `id::text, tenant_id, concept_id::text, alias_value, normalized_value, alias_type,
  source_system, locale, is_preferred_for_display, notes, created_at`

func scanAlias(row pgx.Row) (types.Alias, error) {
	var a types.Alias
	var aliasType string
	if err := row.Scan(
		&a.ID, &a.TenantID, &a.ConceptID, &a.AliasValue, &a.NormalizedValue, &aliasType,
		&a.SourceSystem, &a.Locale, &a.IsPreferredForDisplay, &a.Notes, &a.CreatedAt,
	); err != nil {
		return types.Alias{}, err
	}
	a.AliasType = types.AliasType(aliasType)
	return a, nil
}

func (s *CatalogPGStore) GetAlias(ctx context.Context, tenantID string, id string) (types.Alias, error) {
	var out types.Alias
	err := s.withTx(ctx, tenantID, func(tx pgx.Tx) error {
		a, err := scanAlias(tx.QueryRow(ctx, `
SELECT `+aliasColumns+`
FROM metadata.aliases
WHERE tenant_id = $1 AND id::text = $2
`, tenantID, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return ports.ErrAliasNotFound
		}
		out = a
		return err
	})
	return out, err
}

func (s *CatalogPGStore) queryAliases(ctx context.Context, tenantID string, where string, args ...any) ([]types.Alias, error) {
	var out []types.Alias
	err := s.withTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT `+aliasColumns+`
FROM metadata.aliases
WHERE tenant_id = $1`+where+`
ORDER BY normalized_value COLLATE "C", id
`, slices.Concat([]any{tenantID}, args)...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			a, err := scanAlias(rows)
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	return out, err
}

func (s *CatalogPGStore) ListAliases(ctx context.Context, tenantID string) ([]types.Alias, error) {
	return s.queryAliases(ctx, tenantID, "")
}

func (s *CatalogPGStore) ListAliasesByConcept(ctx context.Context, tenantID string, conceptID string) ([]types.Alias, error) {
	return s.queryAliases(ctx, tenantID, ` AND concept_id::text = $2`, conceptID)
}

func (s *CatalogPGStore) FindAliasesByNormalizedValue(ctx context.Context, tenantID string, normalized string) ([]types.Alias, error) {
	return s.queryAliases(ctx, tenantID, ` AND normalized_value = $2`, normalized)
}

func (s *CatalogPGStore) InsertAlias(ctx context.Context, a types.Alias) error {
	return s.withTx(ctx, a.TenantID, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM metadata.concepts WHERE tenant_id = $1 AND id::text = $2)
`, a.TenantID, a.ConceptID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ports.ErrConceptNotFound
		}
		_, err := tx.Exec(ctx, `
INSERT INTO metadata.aliases (
  id, tenant_id, concept_id, alias_value, normalized_value, alias_type,
  source_system, locale, is_preferred_for_display, notes, created_at
) VALUES ($1::uuid, $2, $3::uuid, $4, $5, $6, $7, $8, $9, $10, $11)
`, a.ID, a.TenantID, a.ConceptID, a.AliasValue, a.NormalizedValue, string(a.AliasType),
			a.SourceSystem, a.Locale, a.IsPreferredForDisplay, a.Notes, a.CreatedAt)
		return err
	})
}

func (s *CatalogPGStore) DeleteAlias(ctx context.Context, tenantID string, id string) error {
	return s.withTx(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM metadata.aliases WHERE tenant_id = $1 AND id::text = $2`, tenantID, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ports.ErrAliasNotFound
		}
		return nil
	})
}
