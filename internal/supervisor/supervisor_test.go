package supervisor

import (
	"bytes"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Paintersrp/sidecar/internal/process"
	"github.com/Paintersrp/sidecar/internal/shutdown"
	"github.com/Paintersrp/sidecar/internal/sidecar"
)

type fakeGroup struct {
	pid     int
	kills   atomic.Int32
	killErr error
}

func newFakeGroup(pid int) *fakeGroup {
	return &fakeGroup{pid: pid}
}

func (g *fakeGroup) Pid() int { return g.pid }

func (g *fakeGroup) Kill() error {
	g.kills.Add(1)
	return g.killErr
}

func fakeLauncher(group *fakeGroup, launches *atomic.Int32) Launcher {
	return LauncherFunc(func(cmd sidecar.Command) (Group, error) {
		if launches != nil {
			launches.Add(1)
		}
		return group, nil
	})
}

func waitDone(t *testing.T, sup *Supervisor) {
	t.Helper()
	select {
	case <-sup.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not exit")
	}
}

func TestStartReturnsWithoutWaiting(t *testing.T) {
	group := newFakeGroup(42)
	var launches atomic.Int32
	tx, rx := shutdown.New()
	defer tx.Close()

	returned := make(chan *Supervisor, 1)
	go func() {
		sup, err := Start(fakeLauncher(group, &launches), sidecar.Command{Name: "run-server"}, rx)
		if err != nil {
			t.Errorf("start: %v", err)
		}
		returned <- sup
	}()

	var sup *Supervisor
	select {
	case sup = <-returned:
	case <-time.After(time.Second):
		t.Fatal("Start blocked")
	}
	if launches.Load() != 1 {
		t.Fatalf("expected launch to happen synchronously, got %d launches", launches.Load())
	}
	if sup.State() != StateRunning {
		t.Fatalf("expected running state, got %v", sup.State())
	}
	if sup.Pid() != 42 || sup.Name() != "run-server" {
		t.Fatalf("unexpected identity pid=%d name=%q", sup.Pid(), sup.Name())
	}
	select {
	case <-sup.Done():
		t.Fatal("supervisor exited before any notice")
	default:
	}
}

func TestNoKillBeforeNotice(t *testing.T) {
	group := newFakeGroup(7)
	tx, rx := shutdown.New()
	sup, err := Start(fakeLauncher(group, nil), sidecar.Command{Name: "run-server"}, rx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if n := group.kills.Load(); n != 0 {
		t.Fatalf("expected no kill before notice, got %d", n)
	}

	if err := tx.Send(shutdown.Terminate); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitDone(t, sup)

	if n := group.kills.Load(); n != 1 {
		t.Fatalf("expected exactly one kill, got %d", n)
	}
	if sup.State() != StateTerminated {
		t.Fatalf("expected terminated state, got %v", sup.State())
	}
	if err := sup.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDuplicateNoticesKillOnce(t *testing.T) {
	group := newFakeGroup(7)
	tx, rx := shutdown.New()
	sup, err := Start(fakeLauncher(group, nil), sidecar.Command{Name: "run-server"}, rx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	first := tx.Send(shutdown.Terminate)
	second := tx.Send(shutdown.Terminate)
	if first != nil {
		t.Fatalf("first send: %v", first)
	}
	if !errors.Is(second, shutdown.ErrChannelClosed) {
		t.Fatalf("expected second send to fail with ErrChannelClosed, got %v", second)
	}
	waitDone(t, sup)

	if err := tx.Send(shutdown.Terminate); !errors.Is(err, shutdown.ErrChannelClosed) {
		t.Fatalf("expected send after supervisor exit to fail with ErrChannelClosed, got %v", err)
	}
	if n := group.kills.Load(); n != 1 {
		t.Fatalf("expected exactly one kill, got %d", n)
	}
}

func TestSenderDroppedWithoutNotice(t *testing.T) {
	group := newFakeGroup(7)
	tx, rx := shutdown.New()
	sup, err := Start(fakeLauncher(group, nil), sidecar.Command{Name: "run-server"}, rx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	tx.Close()
	waitDone(t, sup)

	if n := group.kills.Load(); n != 0 {
		t.Fatalf("expected no kill when the sender is dropped, got %d", n)
	}
	if !errors.Is(sup.Err(), shutdown.ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", sup.Err())
	}
	if sup.State() != StateRunning {
		t.Fatalf("expected state to remain running, got %v", sup.State())
	}
}

func TestUnexpectedSignalFailsLoudWithoutKill(t *testing.T) {
	group := newFakeGroup(7)
	tx, rx := shutdown.New()
	sup, err := Start(fakeLauncher(group, nil), sidecar.Command{Name: "run-server"}, rx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := tx.Send(shutdown.Signal(1)); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitDone(t, sup)

	if !errors.Is(sup.Err(), ErrUnexpectedSignal) {
		t.Fatalf("expected ErrUnexpectedSignal, got %v", sup.Err())
	}
	if n := group.kills.Load(); n != 0 {
		t.Fatalf("expected no kill for unexpected value, got %d", n)
	}
}

func TestKillFailureIsNonFatal(t *testing.T) {
	group := newFakeGroup(7)
	group.killErr = process.ErrProcessGone
	tx, rx := shutdown.New()
	sup, err := Start(fakeLauncher(group, nil), sidecar.Command{Name: "run-server"}, rx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := tx.Send(shutdown.Terminate); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitDone(t, sup)

	if !errors.Is(sup.Err(), process.ErrProcessGone) {
		t.Fatalf("expected ErrProcessGone, got %v", sup.Err())
	}
	if n := group.kills.Load(); n != 1 {
		t.Fatalf("kill must not be retried, got %d attempts", n)
	}
	if sup.State() != StateTerminated {
		t.Fatalf("expected terminated state, got %v", sup.State())
	}
}

func TestLaunchFailureIsReturned(t *testing.T) {
	launchErr := errors.New("exec format error")
	l := LauncherFunc(func(cmd sidecar.Command) (Group, error) { return nil, launchErr })
	_, rx := shutdown.New()

	sup, err := Start(l, sidecar.Command{Name: "run-server"}, rx)
	if !errors.Is(err, launchErr) {
		t.Fatalf("expected launch error, got %v", err)
	}
	if sup != nil {
		t.Fatal("expected nil supervisor on launch failure")
	}
}

func TestStartValidatesArguments(t *testing.T) {
	_, rx := shutdown.New()
	if _, err := Start(nil, sidecar.Command{}, rx); err == nil {
		t.Fatal("expected error for nil launcher")
	}
	if _, err := Start(fakeLauncher(newFakeGroup(1), nil), sidecar.Command{}, nil); err == nil {
		t.Fatal("expected error for nil receiver")
	}
}

func TestStateString(t *testing.T) {
	if StateRunning.String() != "running" || StateTerminated.String() != "terminated" {
		t.Fatalf("unexpected state strings %q %q", StateRunning, StateTerminated)
	}
}

// walkingGroup records calls to the process-tree walk.
type walkingGroup struct {
	*fakeGroup
	walks atomic.Int32
}

func (g *walkingGroup) Members() []int32 {
	g.walks.Add(1)
	return []int32{int32(g.pid), int32(g.pid) + 1}
}

func TestKillSkipsMemberWalkBelowDebug(t *testing.T) {
	tests := map[string]zerolog.Logger{
		"nop":  zerolog.Nop(),
		"info": zerolog.New(&bytes.Buffer{}).Level(zerolog.InfoLevel),
	}
	for name, logger := range tests {
		t.Run(name, func(t *testing.T) {
			group := &walkingGroup{fakeGroup: newFakeGroup(11)}
			tx, rx := shutdown.New()
			launcher := LauncherFunc(func(sidecar.Command) (Group, error) { return group, nil })
			sup, err := Start(launcher, sidecar.Command{Name: "run-server"}, rx, WithLogger(logger))
			if err != nil {
				t.Fatalf("start: %v", err)
			}
			if err := tx.Send(shutdown.Terminate); err != nil {
				t.Fatalf("send: %v", err)
			}
			waitDone(t, sup)

			if n := group.kills.Load(); n != 1 {
				t.Fatalf("expected exactly one kill, got %d", n)
			}
			if n := group.walks.Load(); n != 0 {
				t.Fatalf("expected no member walk on the kill path, got %d", n)
			}
		})
	}
}

func TestKillLogsMembersAtDebug(t *testing.T) {
	var buf bytes.Buffer
	group := &walkingGroup{fakeGroup: newFakeGroup(11)}
	tx, rx := shutdown.New()
	launcher := LauncherFunc(func(sidecar.Command) (Group, error) { return group, nil })
	sup, err := Start(launcher, sidecar.Command{Name: "run-server"}, rx,
		WithLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := tx.Send(shutdown.Terminate); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitDone(t, sup)

	if n := group.walks.Load(); n != 1 {
		t.Fatalf("expected one member walk at debug level, got %d", n)
	}
	if !strings.Contains(buf.String(), `"members":[11,12]`) {
		t.Fatalf("expected members in debug log, got:\n%s", buf.String())
	}
}
