package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Paintersrp/sidecar/internal/api"
	"github.com/Paintersrp/sidecar/internal/host"
	"github.com/Paintersrp/sidecar/internal/supervisor"
)

// ControlAPI exposes the application host to the HTTP control plane.
type ControlAPI struct {
	host *host.Host
	sup  *supervisor.Supervisor
}

// NewControlAPI wraps a running host and its supervisor.
func NewControlAPI(h *host.Host, sup *supervisor.Supervisor) *ControlAPI {
	if h == nil {
		return nil
	}
	return &ControlAPI{host: h, sup: sup}
}

// Greet runs the example UI command.
func (c *ControlAPI) Greet(ctx stdcontext.Context, name string) (*api.GreetResult, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	msg, err := c.host.Greet(name)
	if err != nil {
		if errors.Is(err, host.ErrInvalidName) {
			return nil, fmt.Errorf("%w: %v", api.ErrInvalidName, err)
		}
		return nil, err
	}
	return &api.GreetResult{Message: msg}, nil
}

// WindowEvent queues a window event for the host's event loop.
func (c *ControlAPI) WindowEvent(ctx stdcontext.Context, evt api.WindowEvent) (*api.EventResult, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	kind, err := host.ParseEventKind(evt.Event)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrInvalidEvent, err)
	}
	window := strings.TrimSpace(evt.Window)
	if window == "" {
		window = c.host.MainWindow()
	}
	if !c.host.Dispatch(host.Event{Window: window, Kind: kind}) {
		return nil, fmt.Errorf("%w: event loop is not accepting events", api.ErrEventRejected)
	}
	return &api.EventResult{Window: window, Event: string(kind), Accepted: true}, nil
}

// Backend reports the supervised backend's pid and lifecycle state.
func (c *ControlAPI) Backend(ctx stdcontext.Context) (*api.BackendReport, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if c.sup == nil {
		return nil, api.ErrBackendMissing
	}
	return &api.BackendReport{
		Name:        c.sup.Name(),
		Pid:         c.sup.Pid(),
		State:       c.sup.State().String(),
		MainWindow:  c.host.MainWindow(),
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func ctxErr(ctx stdcontext.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
