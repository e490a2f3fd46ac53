package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "metactl",
		Short:         "Operate the metadata registry",
		Long:          `Offline tooling for the metadata registry: identifier conversion, compatibility checks, schema migrations and seed validation.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newVersionCmd(),
		newConvertCmd(),
		newCompatCmd(),
		newMigrateCmd(),
		newSeedCmd(),
		newRLSSmokeCmd(),
	)
	return root
}

func printf(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
