package main

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/jacksonlee411/metaregistry/internal/config"
)

const smokeRole = "metadata_nobypassrls"

// newRLSSmokeCmd checks tenant isolation on a migrated database: reads without
// app.current_tenant fail, cross-tenant writes are rejected and each tenant
// sees only its own lineage nodes. Everything runs in rolled-back transactions.
func newRLSSmokeCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "rls-smoke",
		Short: "Verify row-level tenant isolation on the metadata schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if url == "" {
				url = config.DatabaseURLFromEnv()
			}
			if url == "" {
				return errors.New("missing --url")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := rlsSmoke(ctx, url); err != nil {
				return err
			}
			printf(cmd, "[rls-smoke] OK\n")
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "postgres connection string (default from DATABASE_URL or DB_*)")
	return cmd
}

func rlsSmoke(ctx context.Context, url string) error {
	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	_ = tryEnsureRole(ctx, conn, smokeRole)

	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()
	_ = trySetRole(ctx, tx, smokeRole)

	if _, err := tx.Exec(ctx, `SAVEPOINT sp_failclosed;`); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `SELECT count(*) FROM metadata.lineage_nodes;`)
	if _, rbErr := tx.Exec(ctx, `ROLLBACK TO SAVEPOINT sp_failclosed;`); rbErr != nil {
		return rbErr
	}
	if err == nil {
		return errors.New("expected fail-closed error when app.current_tenant is missing")
	}

	const tenantA, tenantB = "rls-smoke-a", "rls-smoke-b"
	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantA); err != nil {
		return err
	}
	insert := `
INSERT INTO metadata.lineage_nodes (id, tenant_id, entity_id, entity_name, created_at)
VALUES (gen_random_uuid(), $1, 'rls_smoke', 'rls_smoke', now());`
	if _, err := tx.Exec(ctx, insert, tenantA); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `SAVEPOINT sp_cross_insert;`); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, insert, tenantB)
	if _, rbErr := tx.Exec(ctx, `ROLLBACK TO SAVEPOINT sp_cross_insert;`); rbErr != nil {
		return rbErr
	}
	if err == nil {
		return errors.New("expected RLS rejection on cross-tenant insert")
	}

	count, err := countSmokeNodes(ctx, tx)
	if err != nil {
		return err
	}
	if count != 1 {
		return fmt.Errorf("expected count=1 under tenant A, got %d", count)
	}

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantB); err != nil {
		return err
	}
	count, err = countSmokeNodes(ctx, tx)
	if err != nil {
		return err
	}
	if count != 0 {
		return fmt.Errorf("expected count=0 under tenant B, got %d", count)
	}
	return nil
}

func countSmokeNodes(ctx context.Context, tx pgx.Tx) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `SELECT count(*) FROM metadata.lineage_nodes WHERE entity_id = 'rls_smoke';`).Scan(&n)
	return n, err
}

func tryEnsureRole(ctx context.Context, conn *pgx.Conn, role string) error {
	if !validSQLIdent(role) {
		return fmt.Errorf("invalid role: %s", role)
	}
	stmt := fmt.Sprintf(`DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = '%s') THEN
    EXECUTE 'CREATE ROLE %s NOBYPASSRLS';
  END IF;
END
$$;`, role, role)
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return err
	}
	_, _ = conn.Exec(ctx, `GRANT USAGE ON SCHEMA metadata TO `+role+`;`)
	_, _ = conn.Exec(ctx, `GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA metadata TO `+role+`;`)
	_, _ = conn.Exec(ctx, `GRANT EXECUTE ON ALL FUNCTIONS IN SCHEMA metadata TO `+role+`;`)
	return nil
}

func trySetRole(ctx context.Context, tx pgx.Tx, role string) bool {
	_, err := tx.Exec(ctx, `SET ROLE `+role+`;`)
	return err == nil
}

var reSQLIdent = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validSQLIdent(s string) bool {
	return reSQLIdent.MatchString(s)
}
