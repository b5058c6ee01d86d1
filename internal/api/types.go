package api

import (
	stdcontext "context"
	"errors"
	"time"
)

var (
	ErrInvalidName    = errors.New("invalid name")
	ErrInvalidEvent   = errors.New("invalid window event")
	ErrEventRejected  = errors.New("window event rejected")
	ErrBackendMissing = errors.New("no backend supervised")
)

// GreetResult is the response of the greet command.
type GreetResult struct {
	Message string `json:"message"`
}

// WindowEvent is a window event posted by the UI layer.
type WindowEvent struct {
	Window string `json:"window"`
	Event  string `json:"event"`
}

// EventResult acknowledges a queued window event.
type EventResult struct {
	Window   string `json:"window"`
	Event    string `json:"event"`
	Accepted bool   `json:"accepted"`
}

// BackendReport describes the supervised backend.
type BackendReport struct {
	Name        string    `json:"name"`
	Pid         int       `json:"pid"`
	State       string    `json:"state"`
	MainWindow  string    `json:"main_window"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Controller exposes application host operations required by control servers.
type Controller interface {
	Greet(stdcontext.Context, string) (*GreetResult, error)
	WindowEvent(stdcontext.Context, WindowEvent) (*EventResult, error)
	Backend(stdcontext.Context) (*BackendReport, error)
}
