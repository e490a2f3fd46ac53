package main

import (
	"github.com/spf13/cobra"

	"github.com/jacksonlee411/metaregistry/internal/config"
	"github.com/jacksonlee411/metaregistry/pkg/compat"
	"github.com/jacksonlee411/metaregistry/pkg/naming"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the engine schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printf(cmd, "%s\n", config.EngineVersion)
			return nil
		},
	}
}

func newConvertCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:     "convert [identifier]",
		Short:   "Convert an identifier between casing styles",
		Example: `  metactl convert customer_id --from snake_case --to camelCase`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := naming.ParseCasing(from)
			if err != nil {
				return err
			}
			t, err := naming.ParseCasing(to)
			if err != nil {
				return err
			}
			out, err := naming.Convert(args[0], f, t)
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", string(naming.SnakeCase), "source casing style")
	cmd.Flags().StringVar(&to, "to", string(naming.CamelCase), "target casing style")
	return cmd
}

// newCompatCmd reports how the engine would gate a caller at the given version.
func newCompatCmd() *cobra.Command {
	var engineVersion string
	cmd := &cobra.Command{
		Use:   "compat [caller-version]",
		Short: "Check a caller version against the engine version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gate := compat.NewContext(args[0], engineVersion)
			printf(cmd, "%s\n", gate.State())
			return gate.Check()
		},
	}
	cmd.Flags().StringVar(&engineVersion, "engine", config.EngineVersion, "engine schema version")
	return cmd
}
