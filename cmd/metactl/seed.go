package main

import (
	"github.com/spf13/cobra"

	"github.com/jacksonlee411/metaregistry/modules/governance/infrastructure/seed"
	"github.com/jacksonlee411/metaregistry/modules/governance/services"
)

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Work with the governance seed file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate [path]",
		Short: "Parse the seed and compile every pack's quality rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			s, err := seed.Load(path)
			if err != nil {
				return err
			}
			compiler := services.NewConformanceChecker(nil, nil, nil, nil, nil)
			for _, p := range s.Packs {
				if err := compiler.CompilePack(p); err != nil {
					return err
				}
			}
			printf(cmd, "[seed] OK packs=%d rules=%d\n", len(s.Packs), len(s.Rules))
			return nil
		},
	})
	return cmd
}
