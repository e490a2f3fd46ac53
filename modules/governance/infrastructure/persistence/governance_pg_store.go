package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jacksonlee411/metaregistry/modules/governance/domain/ports"
	"github.com/jacksonlee411/metaregistry/modules/governance/domain/types"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type GovernancePGStore struct {
	pool pgBeginner
}

func NewGovernancePGStore(pool pgBeginner) *GovernancePGStore {
	return &GovernancePGStore{pool: pool}
}

var _ ports.GovernanceStore = (*GovernancePGStore)(nil)

func (s *GovernancePGStore) withTx(ctx context.Context, tenantID string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func scanPack(row pgx.Row) (types.StandardPack, error) {
	var p types.StandardPack
	var tier string
	var fields, quality []byte
	if err := row.Scan(&p.PackID, &p.TenantID, &p.Name, &p.Version, &p.Category, &tier, &fields, &quality); err != nil {
		return types.StandardPack{}, err
	}
	p.Tier = types.AuthorityTier(tier)
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &p.Fields); err != nil {
			return types.StandardPack{}, err
		}
	}
	if len(quality) > 0 {
		if err := json.Unmarshal(quality, &p.QualityRules); err != nil {
			return types.StandardPack{}, err
		}
	}
	return p, nil
}

// GetPack prefers the tenant's own pack over a shared one with the same id.
func (s *GovernancePGStore) GetPack(ctx context.Context, tenantID string, packID string) (types.StandardPack, error) {
	var out types.StandardPack
	err := s.withTx(ctx, tenantID, func(tx pgx.Tx) error {
		p, err := scanPack(tx.QueryRow(ctx, `
SELECT pack_id, tenant_id, name, version, category, tier, fields, quality_rules
FROM metadata.standard_packs
WHERE pack_id = $2 AND (tenant_id = $1 OR tenant_id = '')
ORDER BY tenant_id DESC
LIMIT 1
`, tenantID, packID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ports.ErrPackNotFound
		}
		out = p
		return err
	})
	return out, err
}

func (s *GovernancePGStore) ListPacks(ctx context.Context, tenantID string) ([]types.StandardPack, error) {
	var out []types.StandardPack
	err := s.withTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT DISTINCT ON (pack_id) pack_id, tenant_id, name, version, category, tier, fields, quality_rules
FROM metadata.standard_packs
WHERE tenant_id = $1 OR tenant_id = ''
ORDER BY pack_id COLLATE "C", tenant_id DESC
`, tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanPack(rows)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}

func (s *GovernancePGStore) UpsertPack(ctx context.Context, pack types.StandardPack) error {
	fields, err := json.Marshal(pack.Fields)
	if err != nil {
		return err
	}
	quality, err := json.Marshal(pack.QualityRules)
	if err != nil {
		return err
	}
	return s.withTx(ctx, pack.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO metadata.standard_packs (pack_id, tenant_id, name, version, category, tier, fields, quality_rules)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb)
ON CONFLICT (tenant_id, pack_id) DO UPDATE
SET name = EXCLUDED.name, version = EXCLUDED.version, category = EXCLUDED.category,
    tier = EXCLUDED.tier, fields = EXCLUDED.fields, quality_rules = EXCLUDED.quality_rules
`, pack.PackID, pack.TenantID, pack.Name, pack.Version, pack.Category, string(pack.Tier), fields, quality)
		return err
	})
}

func (s *GovernancePGStore) ListRules(ctx context.Context, tenantID string) ([]types.Rule, error) {
	var out []types.Rule
	err := s.withTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT rule_code, tenant_id, scope, target_id, severity, description, expression, is_enforced_in_code
FROM metadata.rules
WHERE tenant_id = $1 OR tenant_id = ''
ORDER BY rule_code COLLATE "C"
`, tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r types.Rule
			var scope, severity string
			var expr []byte
			if err := rows.Scan(&r.RuleCode, &r.TenantID, &scope, &r.TargetID, &severity, &r.Description, &expr, &r.IsEnforcedInCode); err != nil {
				return err
			}
			r.Scope = types.Scope(scope)
			r.Severity = types.Severity(severity)
			p, err := types.ParsePredicate(expr)
			if err != nil {
				return err
			}
			r.Expression = p
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

func (s *GovernancePGStore) UpsertRule(ctx context.Context, rule types.Rule) error {
	expr, err := types.MarshalPredicate(rule.Expression)
	if err != nil {
		return err
	}
	return s.withTx(ctx, rule.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO metadata.rules (rule_code, tenant_id, scope, target_id, severity, description, expression, is_enforced_in_code)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
ON CONFLICT (tenant_id, rule_code) DO UPDATE
SET scope = EXCLUDED.scope, target_id = EXCLUDED.target_id, severity = EXCLUDED.severity,
    description = EXCLUDED.description, expression = EXCLUDED.expression,
    is_enforced_in_code = EXCLUDED.is_enforced_in_code
`, rule.RuleCode, rule.TenantID, string(rule.Scope), rule.TargetID, string(rule.Severity), rule.Description, expr, rule.IsEnforcedInCode)
		return err
	})
}
