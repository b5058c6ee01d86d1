package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			version, revision, modified := "(devel)", "", ""
			goVersion := runtime.Version()
			if info, ok := debug.ReadBuildInfo(); ok {
				if info.Main.Version != "" {
					version = info.Main.Version
				}
				if info.GoVersion != "" {
					goVersion = info.GoVersion
				}
				for _, setting := range info.Settings {
					switch setting.Key {
					case "vcs.revision":
						revision = setting.Value
					case "vcs.modified":
						modified = setting.Value
					}
				}
			}
			fmt.Fprintf(out, "sidecar %s\n", version)
			fmt.Fprintf(out, "go: %s %s/%s\n", goVersion, runtime.GOOS, runtime.GOARCH)
			if revision != "" {
				if modified == "true" {
					revision += " (modified)"
				}
				fmt.Fprintf(out, "revision: %s\n", revision)
			}
			return nil
		},
	}
}
