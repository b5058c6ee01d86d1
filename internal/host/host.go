// Package host is the headless application shell around the supervisor. It
// runs the window event loop, turns destruction of the main window into the
// single shutdown notice and serves the UI-facing commands.
package host

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Paintersrp/sidecar/internal/shutdown"
)

const (
	// DefaultMainWindow is the label of the window whose destruction ends the
	// application.
	DefaultMainWindow = "main"
	defaultQueueSize  = 16
)

// ErrInvalidName is returned by Greet for an empty name.
var ErrInvalidName = errors.New("name is required")

// EventKind identifies a window event.
type EventKind string

const (
	EventCloseRequested EventKind = "close-requested"
	EventDestroyed      EventKind = "destroyed"
	EventFocused        EventKind = "focused"
	EventResized        EventKind = "resized"
)

// Event is a window event emitted by the UI layer.
type Event struct {
	Window string    `json:"window"`
	Kind   EventKind `json:"event"`
}

// ParseEventKind validates a textual event kind.
func ParseEventKind(value string) (EventKind, error) {
	kind := EventKind(strings.ToLower(strings.TrimSpace(value)))
	switch kind {
	case EventCloseRequested, EventDestroyed, EventFocused, EventResized:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown window event %q", value)
	}
}

type options struct {
	logger     zerolog.Logger
	mainWindow string
	queueSize  int
}

// Option customises a Host.
type Option func(*options)

// WithLogger sets the host's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMainWindow overrides the label of the main window.
func WithMainWindow(label string) Option {
	return func(o *options) {
		if label = strings.TrimSpace(label); label != "" {
			o.mainWindow = label
		}
	}
}

// WithQueueSize sets how many events may be pending before Dispatch drops.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// Host owns the sending end of the shutdown channel.
type Host struct {
	sender     *shutdown.Sender
	logger     zerolog.Logger
	mainWindow string

	events   chan Event
	exited   chan struct{}
	exitOnce sync.Once
}

// New constructs a Host around sender. The host takes ownership of it.
func New(sender *shutdown.Sender, opts ...Option) *Host {
	cfg := options{
		logger:     zerolog.Nop(),
		mainWindow: DefaultMainWindow,
		queueSize:  defaultQueueSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Host{
		sender:     sender,
		logger:     cfg.logger,
		mainWindow: cfg.mainWindow,
		events:     make(chan Event, cfg.queueSize),
		exited:     make(chan struct{}),
	}
}

// MainWindow returns the label of the main window.
func (h *Host) MainWindow() string {
	return h.mainWindow
}

// Dispatch queues evt for the event loop without blocking. It reports
// whether the event was accepted.
func (h *Host) Dispatch(evt Event) bool {
	if evt.Window == "" {
		evt.Window = h.mainWindow
	}
	select {
	case <-h.exited:
		h.logger.Debug().Str("window", evt.Window).Str("event", string(evt.Kind)).Msg("event loop finished; dropping window event")
		return false
	default:
	}
	select {
	case h.events <- evt:
		return true
	default:
		h.logger.Warn().Str("window", evt.Window).Str("event", string(evt.Kind)).Msg("event queue full; dropping window event")
		return false
	}
}

// DispatchWait queues evt, blocking while the queue is full. It returns false
// if the event loop finishes or ctx ends before the event is queued.
func (h *Host) DispatchWait(ctx context.Context, evt Event) bool {
	if evt.Window == "" {
		evt.Window = h.mainWindow
	}
	select {
	case <-h.exited:
		h.logger.Debug().Str("window", evt.Window).Str("event", string(evt.Kind)).Msg("event loop finished; dropping window event")
		return false
	default:
	}
	select {
	case h.events <- evt:
		return true
	case <-h.exited:
		h.logger.Debug().Str("window", evt.Window).Str("event", string(evt.Kind)).Msg("event loop finished; dropping window event")
		return false
	case <-ctx.Done():
		h.logger.Warn().Err(ctx.Err()).Str("window", evt.Window).Str("event", string(evt.Kind)).Msg("window event not queued")
		return false
	}
}

// Run processes window events in order until the main window is destroyed.
// If ctx ends first, Run returns ctx.Err() and no shutdown notice is sent.
func (h *Host) Run(ctx context.Context) error {
	defer h.exitOnce.Do(func() { close(h.exited) })
	for {
		select {
		case <-ctx.Done():
			h.logger.Warn().Msg("event loop aborted before the main window was destroyed; backend cleanup is not guaranteed")
			return ctx.Err()
		case evt := <-h.events:
			if h.HandleEvent(evt) {
				return nil
			}
		}
	}
}

// Done is closed when Run has returned.
func (h *Host) Done() <-chan struct{} {
	return h.exited
}

// HandleEvent reacts to a single window event and reports whether it ended
// the application. Destruction of the main window sends the termination
// notice; a closed channel is logged and otherwise ignored.
func (h *Host) HandleEvent(evt Event) bool {
	if evt.Kind != EventDestroyed || evt.Window != h.mainWindow {
		h.logger.Debug().Str("window", evt.Window).Str("event", string(evt.Kind)).Msg("window event")
		return false
	}

	if err := h.sender.Send(shutdown.Terminate); err != nil {
		if errors.Is(err, shutdown.ErrChannelClosed) {
			h.logger.Warn().Err(err).Msg("shutdown notice not delivered; supervisor already gone")
		} else {
			h.logger.Error().Err(err).Msg("send shutdown notice")
		}
		return true
	}
	h.logger.Info().Str("window", evt.Window).Msg("app closed, shutting down backend")
	return true
}

// Close drops the sending end without a notice.
func (h *Host) Close() {
	h.sender.Close()
}

// Greet is the example UI command.
func (h *Host) Greet(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	return fmt.Sprintf("Hello, %s! You've been greeted from Go!", name), nil
}
