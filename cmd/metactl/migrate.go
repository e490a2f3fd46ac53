package main

import (
	"database/sql"
	"errors"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/jacksonlee411/metaregistry/internal/config"
	"github.com/jacksonlee411/metaregistry/migrations"
)

func newMigrateCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the metadata schema migrations",
	}
	cmd.PersistentFlags().StringVar(&url, "url", "", "postgres connection string (default from DATABASE_URL or DB_*)")

	open := func() (*sql.DB, error) {
		if url == "" {
			url = config.DatabaseURLFromEnv()
		}
		if url == "" {
			return nil, errors.New("missing --url")
		}
		return sql.Open("pgx", url)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()
			applied, err := migrations.Up(cmd.Context(), db)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				printf(cmd, "[migrate] up to date\n")
				return nil
			}
			for _, v := range applied {
				printf(cmd, "[migrate] applied %05d\n", v)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether each is applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()
			statuses, err := migrations.List(cmd.Context(), db)
			if err != nil {
				return err
			}
			for _, s := range statuses {
				state := "pending"
				if s.Applied {
					state = "applied"
				}
				printf(cmd, "%05d %-8s %s\n", s.Version, state, s.Path)
			}
			return nil
		},
	})
	return cmd
}
