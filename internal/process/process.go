package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	psprocess "github.com/shirou/gopsutil/v3/process"

	"github.com/Paintersrp/sidecar/internal/logging"
	"github.com/Paintersrp/sidecar/internal/sidecar"
)

// ErrProcessGone reports a kill aimed at a group with no remaining members.
var ErrProcessGone = errors.New("process group already exited")

const (
	streamStdout = "stdout"
	streamStderr = "stderr"
)

type options struct {
	logger zerolog.Logger
	output *zerolog.Logger
}

// Option customises Launch.
type Option func(*options)

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithOutput forwards the child's stdout and stderr lines to logger. Without
// it the child inherits the parent's standard streams.
func WithOutput(logger zerolog.Logger) Option {
	return func(o *options) {
		o.output = &logger
	}
}

// Group is a handle on a running process group.
type Group struct {
	name   string
	cmd    *exec.Cmd
	pid    int
	logger zerolog.Logger

	platform platformState

	done    chan struct{}
	waitErr error

	killOnce sync.Once
	killErr  error
}

// Launch starts cmd as the leader of a new process group.
func Launch(cmd sidecar.Command, opts ...Option) (*Group, error) {
	cfg := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	name := cmd.Name
	if name == "" {
		name = cmd.Path
	}
	if cmd.Path == "" {
		return nil, fmt.Errorf("launch %s: command path is empty", name)
	}

	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	var stdout, stderr io.ReadCloser
	if cfg.output != nil {
		var err error
		stdout, err = c.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("backend %s stdout: %w", name, err)
		}
		stderr, err = c.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("backend %s stderr: %w", name, err)
		}
	} else {
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
	}

	configureCmdSysProcAttr(c)

	g := &Group{
		name:   name,
		cmd:    c,
		logger: cfg.logger.With().Str("backend", name).Logger(),
		done:   make(chan struct{}),
	}
	if err := g.start(); err != nil {
		return nil, fmt.Errorf("start backend %s: %w", name, err)
	}
	g.pid = c.Process.Pid
	g.logger.Debug().Int("pid", g.pid).Str("command", cmd.String()).Msg("backend started in new process group")

	var wg sync.WaitGroup
	if cfg.output != nil {
		out := cfg.output.With().Str("backend", name).Logger()
		wg.Add(2)
		go forward(out, stdout, streamStdout, &wg)
		go forward(out, stderr, streamStderr, &wg)
	}

	go func() {
		// Pipes must be drained before Wait closes them.
		wg.Wait()
		g.waitErr = c.Wait()
		close(g.done)
		g.logger.Debug().Int("pid", g.pid).Err(g.waitErr).Msg("backend exited")
	}()

	return g, nil
}

// Pid returns the leader's process id, which is also the process-group id on
// Unix.
func (g *Group) Pid() int {
	return g.pid
}

// Done is closed once the group leader has exited and been reaped.
func (g *Group) Done() <-chan struct{} {
	return g.done
}

// ExitErr returns the leader's wait error. It is only meaningful after Done
// is closed.
func (g *Group) ExitErr() error {
	select {
	case <-g.done:
		return g.waitErr
	default:
		return nil
	}
}

// Kill terminates every process in the group. The operating system is asked
// at most once; later calls return the first result.
func (g *Group) Kill() error {
	g.killOnce.Do(func() {
		g.killErr = g.killGroup()
	})
	return g.killErr
}

// Members lists the live pids of the leader and its descendants. It is a
// diagnostic snapshot and returns nil once the leader is gone.
func (g *Group) Members() []int32 {
	proc, err := psprocess.NewProcess(int32(g.pid))
	if err != nil {
		return nil
	}
	visited := make(map[int32]struct{})
	g.collect(proc, visited)

	out := make([]int32, 0, len(visited))
	for pid := range visited {
		out = append(out, pid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (g *Group) collect(proc *psprocess.Process, visited map[int32]struct{}) {
	if proc == nil {
		return
	}
	if _, seen := visited[proc.Pid]; seen {
		return
	}
	if statuses, err := proc.Status(); err == nil && isZombie(statuses) {
		return
	}
	visited[proc.Pid] = struct{}{}

	children, err := proc.Children()
	if err != nil {
		if !errors.Is(err, psprocess.ErrorNoChildren) {
			g.logger.Debug().Err(err).Int32("pid", proc.Pid).Msg("list child processes")
		}
		return
	}
	for _, child := range children {
		g.collect(child, visited)
	}
}

func isZombie(statuses []string) bool {
	for _, status := range statuses {
		if status == psprocess.Zombie {
			return true
		}
	}
	return false
}

func forward(logger zerolog.Logger, r io.Reader, stream string, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		evt := logger.Info()
		if stream == streamStderr {
			evt = logger.Warn()
		}
		evt.Str("stream", stream).Msg(logging.RedactSecrets(line))
	}
}
