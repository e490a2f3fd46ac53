package persistence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jacksonlee411/metaregistry/modules/lineage/domain/ports"
	"github.com/jacksonlee411/metaregistry/modules/lineage/domain/types"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type LineagePGStore struct {
	pool pgBeginner
}

func NewLineagePGStore(pool pgBeginner) *LineagePGStore {
	return &LineagePGStore{pool: pool}
}

var _ ports.LineageStore = (*LineagePGStore)(nil)

func (s *LineagePGStore) withTx(ctx context.Context, tenantID string, fn func(tx pgx.Tx) error) error {
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
	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok {
		switch pgErr.Code {
		case pgUniqueViolation:
			return ports.ErrUniqueViolation
		case pgForeignKeyViolation:
			return ports.ErrEntityNotFound
		}
	}
	return err
}

const nodeColumns = `id::text, tenant_id, entity_id, entity_name, entity_type, fully_qualified_name, created_at`

func scanNode(row pgx.Row) (types.LineageNode, error) {
	var n types.LineageNode
	err := row.Scan(&n.ID, &n.TenantID, &n.EntityID, &n.EntityName, &n.EntityType, &n.FullyQualifiedName, &n.CreatedAt)
	return n, err
}

const edgeColumns = `id::text, tenant_id, source_id, target_id, edge_type, transformation_logic, confidence, created_at`

func scanEdge(row pgx.Row) (types.LineageEdge, error) {
	var e types.LineageEdge
	var edgeType string
	if err := row.Scan(&e.ID, &e.TenantID, &e.SourceID, &e.TargetID, &edgeType, &e.TransformationLogic, &e.Confidence, &e.CreatedAt); err != nil {
		return types.LineageEdge{}, err
	}
	e.EdgeType = types.EdgeType(edgeType)
	return e, nil
}

func (s *LineagePGStore) GetEntity(ctx context.Context, tenantID string, entityID string) (types.LineageNode, error) {
	var out types.LineageNode
	err := s.withTx(ctx, tenantID, func(tx pgx.Tx) error {
		n, err := scanNode(tx.QueryRow(ctx, `SELECT `+nodeColumns+`
FROM metadata.lineage_nodes
WHERE tenant_id = $1 AND entity_id = $2
`, tenantID, entityID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ports.ErrEntityNotFound
		}
		out = n
		return err
	})
	return out, err
}

func (s *LineagePGStore) InsertEntity(ctx context.Context, n types.LineageNode) error {
	return s.withTx(ctx, n.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO metadata.lineage_nodes (id, tenant_id, entity_id, entity_name, entity_type, fully_qualified_name, created_at)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)
`, n.ID, n.TenantID, n.EntityID, n.EntityName, n.EntityType, n.FullyQualifiedName, n.CreatedAt)
		return err
	})
}

func (s *LineagePGStore) UpdateEntity(ctx context.Context, n types.LineageNode) error {
	return s.withTx(ctx, n.TenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE metadata.lineage_nodes
SET entity_name = $3, entity_type = $4, fully_qualified_name = $5
WHERE tenant_id = $1 AND entity_id = $2
`, n.TenantID, n.EntityID, n.EntityName, n.EntityType, n.FullyQualifiedName)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ports.ErrEntityNotFound
		}
		return nil
	})
}

func (s *LineagePGStore) DeleteEntity(ctx context.Context, tenantID string, entityID string) error {
	return s.withTx(ctx, tenantID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
DELETE FROM metadata.lineage_edges
WHERE tenant_id = $1 AND (source_id = $2 OR target_id = $2)
`, tenantID, entityID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM metadata.lineage_nodes WHERE tenant_id = $1 AND entity_id = $2`, tenantID, entityID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ports.ErrEntityNotFound
		}
		return nil
	})
}

func (s *LineagePGStore) FindEdge(ctx context.Context, tenantID string, sourceID string, targetID string, edgeType types.EdgeType) (types.LineageEdge, error) {
	var out types.LineageEdge
	err := s.withTx(ctx, tenantID, func(tx pgx.Tx) error {
		e, err := scanEdge(tx.QueryRow(ctx, `SELECT `+edgeColumns+`
FROM metadata.lineage_edges
WHERE tenant_id = $1 AND source_id = $2 AND target_id = $3 AND edge_type = $4
`, tenantID, sourceID, targetID, string(edgeType)))
		if errors.Is(err, pgx.ErrNoRows) {
			return ports.ErrEdgeNotFound
		}
		out = e
		return err
	})
	return out, err
}

// InsertEdge relies on the (tenant_id, source_id) and (tenant_id, target_id)
// foreign keys into lineage_nodes; a violation surfaces as ErrEntityNotFound.
func (s *LineagePGStore) InsertEdge(ctx context.Context, e types.LineageEdge) error {
	return s.withTx(ctx, e.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO metadata.lineage_edges (id, tenant_id, source_id, target_id, edge_type, transformation_logic, confidence, created_at)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8)
`, e.ID, e.TenantID, e.SourceID, e.TargetID, string(e.EdgeType), e.TransformationLogic, e.Confidence, e.CreatedAt)
		return err
	})
}

func (s *LineagePGStore) Snapshot(ctx context.Context, tenantID string) (types.GraphSnapshot, error) {
	var out types.GraphSnapshot
	err := s.withTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+nodeColumns+`
FROM metadata.lineage_nodes
WHERE tenant_id = $1
ORDER BY entity_id COLLATE "C"
`, tenantID)
		if err != nil {
			return err
		}
		for rows.Next() {
			n, err := scanNode(rows)
			if err != nil {
				rows.Close()
				return err
			}
			out.Nodes = append(out.Nodes, n)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		rows, err = tx.Query(ctx, `SELECT `+edgeColumns+`
FROM metadata.lineage_edges
WHERE tenant_id = $1
ORDER BY source_id COLLATE "C", target_id COLLATE "C", edge_type
`, tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanEdge(rows)
			if err != nil {
				return err
			}
			out.Edges = append(out.Edges, e)
		}
		return rows.Err()
	})
	return out, err
}
