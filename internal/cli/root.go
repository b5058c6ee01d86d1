package cli

import (
	stdcontext "context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Paintersrp/sidecar/internal/config"
	"github.com/Paintersrp/sidecar/internal/logging"
)

const defaultConfigFile = "sidecar.yaml"

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	ctx := &context{configFile: configFileFromEnv()}

	root := &cobra.Command{
		Use:   "sidecar",
		Short: "Run a bundled backend for the lifetime of the main window",
	}

	root.PersistentFlags().
		StringVarP(&ctx.configFile, "config", "c", ctx.configFile, "Path to sidecar configuration")
	root.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "", "Override the configured log level")
	root.PersistentFlags().StringVar(&ctx.logFormat, "log-format", "", "Override the configured log format (auto, json, console)")

	root.AddCommand(newRunCmd(ctx))
	root.AddCommand(newResolveCmd(ctx))
	root.AddCommand(newConfigCmd(ctx))
	root.AddCommand(newVersionCmd())

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type context struct {
	configFile string
	logLevel   string
	logFormat  string
}

// loadConfig reads the configuration file, falling back to defaults when it
// does not exist, and applies the persistent logging overrides.
func (c *context) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(c.configFile)
	if err != nil {
		return nil, err
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	if c.logFormat != "" {
		cfg.Log.Format = c.logFormat
	}
	return cfg, nil
}

func (c *context) newLogger(cfg *config.Config, w io.Writer) (zerolog.Logger, error) {
	return logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Writer: w,
	})
}

func configFileFromEnv() string {
	if value := strings.TrimSpace(os.Getenv("SIDECAR_CONFIG")); value != "" {
		return value
	}
	return defaultConfigFile
}
