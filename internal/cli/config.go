package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/sidecar/internal/config"
	sidecarschema "github.com/Paintersrp/sidecar/schema"
)

func newConfigCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with sidecar configuration files",
	}
	cmd.AddCommand(newConfigLintCmd(ctx))
	cmd.AddCommand(newConfigSchemaCmd())
	return cmd
}

func newConfigLintCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Validate a sidecar configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ctx.configFile
			if len(args) > 0 {
				path = args[0]
			}

			cfg, err := config.Load(path)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", cfg.Path)
			return nil
		},
		Args: cobra.MaximumNArgs(1),
	}
	return cmd
}

func newConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema for sidecar configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := cmd.OutOrStdout().Write(sidecarschema.ConfigV1Schema)
			return err
		},
	}
}
