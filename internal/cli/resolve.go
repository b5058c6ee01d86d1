package cli

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/sidecar/internal/sidecar"
)

func newResolveCmd(ctx *context) *cobra.Command {
	var (
		backend    string
		dirs       []string
		candidates bool
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the backend binary that run would launch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("backend") {
				cfg.Backend.Name = backend
			}
			if cmd.Flags().Changed("sidecar-dir") {
				cfg.Backend.Dirs = dirs
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if candidates {
				for _, name := range sidecar.Candidates(cfg.Backend.Name, runtime.GOOS, runtime.GOARCH) {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}

			resolved, err := sidecar.Resolve(cfg.Backend.Name, cfg.SidecarOptions()...)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), filepath.Clean(resolved.Path))
			return nil
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "base name of the bundled backend binary")
	cmd.Flags().StringSliceVar(&dirs, "sidecar-dir", nil, "directory to search for the backend (repeatable)")
	cmd.Flags().BoolVar(&candidates, "candidates", false, "list candidate file names for this platform instead of resolving")
	return cmd
}
