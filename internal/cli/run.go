package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	apihttp "github.com/Paintersrp/sidecar/internal/api/http"
	"github.com/Paintersrp/sidecar/internal/config"
	"github.com/Paintersrp/sidecar/internal/host"
	"github.com/Paintersrp/sidecar/internal/logging"
	"github.com/Paintersrp/sidecar/internal/process"
	"github.com/Paintersrp/sidecar/internal/shutdown"
	"github.com/Paintersrp/sidecar/internal/sidecar"
	"github.com/Paintersrp/sidecar/internal/supervisor"
)

var (
	newAPIServer = apihttp.NewServer
	newLauncher  = supervisor.ProcessLauncher
	runEventLoop = func(ctx stdcontext.Context, h *host.Host) error {
		return h.Run(ctx)
	}
)

const apiReadyDelay = 200 * time.Millisecond

type runFlags struct {
	backend       string
	dirs          []string
	api           bool
	apiAddr       string
	forwardOutput bool
}

func newRunCmd(ctx *context) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run [-- backend args...]",
		Short: "Launch the backend and keep it alive until the main window closes",
		Long: "Resolve and launch the bundled backend as its own process group, then run the\n" +
			"window event loop. Closing the main window (or interrupting the process) kills\n" +
			"the whole backend group.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			enableAPI := applyRunFlags(cmd, cfg, flags, args)
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := ctx.newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runApp(cmd, cfg, enableAPI, logger)
		},
	}
	cmd.Flags().StringVar(&flags.backend, "backend", "", "base name of the bundled backend binary")
	cmd.Flags().StringSliceVar(&flags.dirs, "sidecar-dir", nil, "directory to search for the backend (repeatable)")
	cmd.Flags().BoolVar(&flags.api, "api", false, "serve the local HTTP API (also SIDECAR_ENABLE_API=true)")
	cmd.Flags().StringVar(&flags.apiAddr, "api-addr", "", "address for the local HTTP API")
	cmd.Flags().BoolVar(&flags.forwardOutput, "forward-output", false, "forward backend stdout/stderr through the logger")
	return cmd
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config, flags runFlags, args []string) bool {
	if cmd.Flags().Changed("backend") {
		cfg.Backend.Name = flags.backend
	}
	if cmd.Flags().Changed("sidecar-dir") {
		cfg.Backend.Dirs = flags.dirs
	}
	if cmd.Flags().Changed("forward-output") {
		cfg.Backend.ForwardOutput = flags.forwardOutput
	}
	if cmd.Flags().Changed("api-addr") {
		cfg.API.Addr = flags.apiAddr
	}
	if len(args) > 0 {
		cfg.Backend.Args = append(config.Args(nil), args...)
	}
	return cfg.API.IsEnabled() || apiEnabled() || (cmd.Flags().Changed("api") && flags.api)
}

func runApp(cmd *cobra.Command, cfg *config.Config, enableAPI bool, logger zerolog.Logger) error {
	resolved, err := sidecar.Resolve(cfg.Backend.Name, cfg.SidecarOptions()...)
	if err != nil {
		logger.Error().Err(err).Str("backend", cfg.Backend.Name).Msg("backend not found")
		return fmt.Errorf("resolve backend: %w", err)
	}
	logger.Debug().
		Str("command", resolved.String()).
		Strs("env", logging.RedactEnv(resolved.Env)).
		Str("dir", resolved.Dir).
		Msg("resolved backend")

	procOpts := []process.Option{process.WithLogger(logger)}
	if cfg.Backend.ForwardOutput {
		procOpts = append(procOpts, process.WithOutput(logger))
	}

	tx, rx := shutdown.New()
	sup, err := supervisor.Start(newLauncher(procOpts...), resolved, rx, supervisor.WithLogger(logger))
	if err != nil {
		tx.Close()
		rx.Close()
		logger.Error().Err(err).Msg("failed to launch backend")
		return err
	}

	h := host.New(tx,
		host.WithLogger(logger),
		host.WithMainWindow(cfg.Host.MainWindow),
	)
	grace := cfg.Host.ExitGrace.Duration

	runCtx := cmd.Context()
	if runCtx == nil {
		runCtx = stdcontext.Background()
	}

	stopAPI := func() error { return nil }
	if enableAPI {
		stop, err := startAPI(runCtx, cmd, cfg.API.Addr, NewControlAPI(h, sup))
		if err != nil {
			logger.Error().Err(err).Msg("control API failed to start; shutting down backend")
			h.HandleEvent(host.Event{Window: h.MainWindow(), Kind: host.EventDestroyed})
			waitForSupervisor(sup, grace, logger)
			return err
		}
		stopAPI = stop
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "HTTP API disabled; set SIDECAR_ENABLE_API=true or pass --api to enable.")
	}

	// Interruption is treated as the main window going away so the backend is
	// still torn down through the shutdown channel. The close must not be
	// dropped when the queue is full.
	go func() {
		select {
		case <-runCtx.Done():
			logger.Info().Msg("interrupt received; closing main window")
			h.DispatchWait(stdcontext.Background(), host.Event{Window: h.MainWindow(), Kind: host.EventDestroyed})
		case <-h.Done():
		}
	}()

	loopErr := runEventLoop(stdcontext.Background(), h)
	if loopErr != nil {
		h.Close()
	}
	waitForSupervisor(sup, grace, logger)

	if err := stopAPI(); err != nil {
		logger.Warn().Err(err).Msg("control API shutdown")
	}
	return loopErr
}

// waitForSupervisor gives the supervising goroutine up to grace to finish the
// kill. The backend group is not waited on beyond that.
func waitForSupervisor(sup *supervisor.Supervisor, grace time.Duration, logger zerolog.Logger) {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-sup.Done():
		if err := sup.Err(); err != nil && !errors.Is(err, process.ErrProcessGone) {
			logger.Warn().Err(err).Msg("supervisor finished with error")
		}
	case <-timer.C:
		logger.Warn().Dur("grace", grace).Msg("supervisor did not finish before exit")
	}
}

func startAPI(runCtx stdcontext.Context, cmd *cobra.Command, addr string, control *ControlAPI) (func() error, error) {
	if control == nil {
		return nil, errors.New("control API unavailable")
	}
	server, err := newAPIServer(apihttp.Config{Addr: addr, Controller: control})
	if err != nil {
		return nil, err
	}
	serverCtx, cancel := stdcontext.WithCancel(stdcontext.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(serverCtx)
	}()
	readyTimer := time.NewTimer(apiReadyDelay)
	defer readyTimer.Stop()
	select {
	case err := <-errCh:
		cancel()
		if err == nil {
			err = errors.New("control API stopped unexpectedly")
		}
		return nil, err
	case <-readyTimer.C:
	case <-runCtx.Done():
		// Keep serving; the event loop still has to observe the close.
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Control API listening on %s\n", server.Addr())
	return func() error {
		cancel()
		err := <-errCh
		if err != nil && !errors.Is(err, stdcontext.Canceled) && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, nil
}

func apiEnabled() bool {
	value := strings.TrimSpace(os.Getenv("SIDECAR_ENABLE_API"))
	if value == "" {
		return false
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		return false
	}
	return enabled
}
