package cli

import (
	"bytes"
	stdcontext "context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	apihttp "github.com/Paintersrp/sidecar/internal/api/http"
	"github.com/Paintersrp/sidecar/internal/host"
	"github.com/Paintersrp/sidecar/internal/process"
	"github.com/Paintersrp/sidecar/internal/sidecar"
	"github.com/Paintersrp/sidecar/internal/supervisor"
)

type fakeGroup struct {
	pid   int
	kills atomic.Int32
}

func (g *fakeGroup) Pid() int { return g.pid }

func (g *fakeGroup) Kill() error {
	g.kills.Add(1)
	return nil
}

// stubLauncher replaces the process launcher for the duration of the test.
func stubLauncher(t *testing.T, group *fakeGroup, launches *atomic.Int32) {
	t.Helper()
	orig := newLauncher
	t.Cleanup(func() { newLauncher = orig })
	newLauncher = func(...process.Option) supervisor.Launcher {
		return supervisor.LauncherFunc(func(sidecar.Command) (supervisor.Group, error) {
			launches.Add(1)
			return group, nil
		})
	}
}

func stubEventLoop(t *testing.T, fn func(stdcontext.Context, *host.Host) error) {
	t.Helper()
	orig := runEventLoop
	t.Cleanup(func() { runEventLoop = orig })
	runEventLoop = fn
}

// writeBackendDir creates a directory containing a placeholder backend binary
// under the bare platform file name.
func writeBackendDir(t *testing.T, name string) string {
	t.Helper()
	dir := t.TempDir()
	candidates := sidecar.Candidates(name, runtime.GOOS, runtime.GOARCH)
	file := filepath.Join(dir, candidates[len(candidates)-1])
	if err := os.WriteFile(file, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write backend: %v", err)
	}
	return dir
}

func newRunCommand(t *testing.T, ctx stdcontext.Context, args ...string) (*bytes.Buffer, *bytes.Buffer, func() error) {
	t.Helper()
	root, _ := newRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	base := []string{"run", "--config", filepath.Join(t.TempDir(), "absent.yaml"), "--log-format", "json"}
	root.SetArgs(append(base, args...))
	return &stdout, &stderr, func() error { return root.ExecuteContext(ctx) }
}

func TestRunFailsBeforeEventLoopWhenBackendMissing(t *testing.T) {
	var launches, loops atomic.Int32
	stubLauncher(t, &fakeGroup{pid: 1}, &launches)
	stubEventLoop(t, func(stdcontext.Context, *host.Host) error {
		loops.Add(1)
		return nil
	})

	_, stderr, run := newRunCommand(t, stdcontext.Background(), "--sidecar-dir", t.TempDir(), "--backend", "does-not-exist")
	err := run()
	if !errors.Is(err, sidecar.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if launches.Load() != 0 {
		t.Fatalf("expected no launch, got %d", launches.Load())
	}
	if loops.Load() != 0 {
		t.Fatalf("event loop must not start when the backend is missing")
	}
	if !strings.Contains(stderr.String(), "backend not found") {
		t.Fatalf("expected failure to be logged, got:\n%s", stderr.String())
	}
}

func TestRunKillsBackendWhenMainWindowDestroyed(t *testing.T) {
	group := &fakeGroup{pid: 4242}
	var launches atomic.Int32
	stubLauncher(t, group, &launches)
	stubEventLoop(t, func(ctx stdcontext.Context, h *host.Host) error {
		h.Dispatch(host.Event{Window: "settings", Kind: host.EventDestroyed})
		if group.kills.Load() != 0 {
			t.Errorf("backend killed before the main window closed")
		}
		h.Dispatch(host.Event{Kind: host.EventDestroyed})
		return h.Run(ctx)
	})

	dir := writeBackendDir(t, "run-server")
	stdout, stderr, run := newRunCommand(t, stdcontext.Background(), "--sidecar-dir", dir)
	if err := run(); err != nil {
		t.Fatalf("run returned error: %v (stderr: %s)", err, stderr.String())
	}
	if launches.Load() != 1 {
		t.Fatalf("expected one launch, got %d", launches.Load())
	}
	if kills := group.kills.Load(); kills != 1 {
		t.Fatalf("expected exactly one kill, got %d", kills)
	}
	if !strings.Contains(stdout.String(), "HTTP API disabled") {
		t.Fatalf("expected API disabled notice, got %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "app closed, shutting down backend") {
		t.Fatalf("expected shutdown to be logged, got:\n%s", stderr.String())
	}
}

func TestRunTreatsInterruptAsMainWindowClose(t *testing.T) {
	group := &fakeGroup{pid: 4242}
	var launches atomic.Int32
	stubLauncher(t, group, &launches)

	ctx, cancel := stdcontext.WithCancel(stdcontext.Background())
	cancel()

	dir := writeBackendDir(t, "run-server")
	_, stderr, run := newRunCommand(t, ctx, "--sidecar-dir", dir)

	errCh := make(chan error, 1)
	go func() { errCh <- run() }()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned error: %v (stderr: %s)", err, stderr.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after interrupt")
	}
	if kills := group.kills.Load(); kills != 1 {
		t.Fatalf("expected exactly one kill, got %d", kills)
	}
}

func TestRunDeliversInterruptWhenEventQueueIsFull(t *testing.T) {
	group := &fakeGroup{pid: 4242}
	var launches atomic.Int32
	stubLauncher(t, group, &launches)

	ctx, cancel := stdcontext.WithCancel(stdcontext.Background())
	defer cancel()
	stubEventLoop(t, func(loopCtx stdcontext.Context, h *host.Host) error {
		for h.Dispatch(host.Event{Kind: host.EventFocused}) {
		}
		cancel()
		// Let the interrupt arrive while the queue is still full.
		time.Sleep(100 * time.Millisecond)
		return h.Run(loopCtx)
	})

	dir := writeBackendDir(t, "run-server")
	_, stderr, run := newRunCommand(t, ctx, "--sidecar-dir", dir)

	errCh := make(chan error, 1)
	go func() { errCh <- run() }()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned error: %v (stderr: %s)", err, stderr.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("interrupt was dropped while the event queue was full")
	}
	if kills := group.kills.Load(); kills != 1 {
		t.Fatalf("expected exactly one kill, got %d", kills)
	}
}

func TestRunReportsAPIServerErrorAndStopsBackend(t *testing.T) {
	group := &fakeGroup{pid: 4242}
	var launches, loops atomic.Int32
	stubLauncher(t, group, &launches)
	stubEventLoop(t, func(stdcontext.Context, *host.Host) error {
		loops.Add(1)
		return nil
	})

	t.Setenv("SIDECAR_ENABLE_API", "true")

	startErr := errors.New("serve failure")
	origNewAPIServer := newAPIServer
	t.Cleanup(func() {
		newAPIServer = origNewAPIServer
	})
	newAPIServer = func(cfg apihttp.Config) (*apihttp.Server, error) {
		cfg.Listener = &failingListener{addr: staticAddr("127.0.0.1:0"), err: startErr}
		return apihttp.NewServer(cfg)
	}

	dir := writeBackendDir(t, "run-server")
	stdout, stderr, run := newRunCommand(t, stdcontext.Background(), "--sidecar-dir", dir)
	err := run()
	if !errors.Is(err, startErr) {
		t.Fatalf("expected serve error %v, got %v (stderr: %s)", startErr, err, stderr.String())
	}
	if strings.Contains(stdout.String(), "Control API listening") {
		t.Fatalf("expected no API startup message, got stdout: %s", stdout.String())
	}
	if loops.Load() != 0 {
		t.Fatalf("event loop must not start when the API fails")
	}
	if kills := group.kills.Load(); kills != 1 {
		t.Fatalf("expected backend to be killed once, got %d", kills)
	}
}

func TestApplyRunFlagsOverridesConfig(t *testing.T) {
	root, _ := newRootCommand()
	runCmd, _, err := root.Find([]string{"run"})
	if err != nil {
		t.Fatalf("find run: %v", err)
	}
	if err := runCmd.ParseFlags([]string{"--backend", "api-server", "--sidecar-dir", "/a", "--sidecar-dir", "/b", "--api", "--api-addr", ":9000"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := (&context{configFile: filepath.Join(t.TempDir(), "absent.yaml")}).loadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	flags := runFlags{backend: "api-server", dirs: []string{"/a", "/b"}, api: true, apiAddr: ":9000"}
	enabled := applyRunFlags(runCmd, cfg, flags, []string{"--port", "8000"})

	if !enabled {
		t.Fatalf("expected --api to enable the control API")
	}
	if cfg.Backend.Name != "api-server" || strings.Join(cfg.Backend.Dirs, ",") != "/a,/b" {
		t.Fatalf("unexpected backend section %+v", cfg.Backend)
	}
	if strings.Join(cfg.Backend.Args, " ") != "--port 8000" {
		t.Fatalf("unexpected args %v", cfg.Backend.Args)
	}
	if cfg.API.Addr != ":9000" {
		t.Fatalf("unexpected api addr %q", cfg.API.Addr)
	}
}

func TestAPIEnabledFromEnv(t *testing.T) {
	t.Setenv("SIDECAR_ENABLE_API", "")
	if apiEnabled() {
		t.Fatal("expected API disabled by default")
	}
	t.Setenv("SIDECAR_ENABLE_API", "nope")
	if apiEnabled() {
		t.Fatal("expected unparsable value to disable API")
	}
	t.Setenv("SIDECAR_ENABLE_API", "1")
	if !apiEnabled() {
		t.Fatal("expected API enabled")
	}
}

type failingListener struct {
	addr net.Addr
	err  error
}

func (l *failingListener) Accept() (net.Conn, error) {
	return nil, l.err
}

func (l *failingListener) Close() error {
	return nil
}

func (l *failingListener) Addr() net.Addr {
	return l.addr
}

type staticAddr string

func (a staticAddr) Network() string { return "tcp" }

func (a staticAddr) String() string { return string(a) }
