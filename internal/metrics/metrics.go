package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
	ResultGone  = "gone"
)

// Outcome label values for received shutdown signals.
const (
	OutcomeTerminate  = "terminate"
	OutcomeUnexpected = "unexpected"
	OutcomeClosed     = "closed"
)

var (
	registry = prometheus.NewRegistry()

	backendLaunches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sidecar",
		Name:      "backend_launches_total",
		Help:      "Backend launch attempts by result.",
	}, []string{"backend", "result"})

	backendKills = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sidecar",
		Name:      "backend_kills_total",
		Help:      "Process-group kill attempts by result.",
	}, []string{"backend", "result"})

	shutdownSignals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sidecar",
		Name:      "shutdown_signals_total",
		Help:      "Shutdown channel receive outcomes observed by the supervisor.",
	}, []string{"outcome"})

	backendRunning = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sidecar",
		Name:      "backend_running",
		Help:      "Whether the supervisor still owns a running backend (1) or has terminated it (0).",
	}, []string{"backend"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sidecar",
		Name:      "build_info",
		Help:      "Build metadata for the running sidecar binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(backendLaunches, backendKills, shutdownSignals, backendRunning, buildInfo)
}

// Registry returns the Prometheus registry containing all sidecar metrics.
func Registry() *prometheus.Registry {
	return registry
}

// RecordLaunch counts a launch attempt for a backend.
func RecordLaunch(backend, result string) {
	backendLaunches.WithLabelValues(label(backend), result).Inc()
	if result == ResultOK {
		SetBackendRunning(backend, true)
	}
}

// RecordKill counts a process-group kill attempt for a backend.
func RecordKill(backend, result string) {
	backendKills.WithLabelValues(label(backend), result).Inc()
}

// RecordSignal counts a shutdown channel receive outcome.
func RecordSignal(outcome string) {
	shutdownSignals.WithLabelValues(outcome).Inc()
}

// SetBackendRunning records whether the backend is still owned and running.
func SetBackendRunning(backend string, running bool) {
	value := 0.0
	if running {
		value = 1.0
	}
	backendRunning.WithLabelValues(label(backend)).Set(value)
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}

// ResetBackend clears the per-backend series.
func ResetBackend(backend string) {
	name := label(backend)
	backendRunning.DeleteLabelValues(name)
	for _, result := range []string{ResultOK, ResultError, ResultGone} {
		backendLaunches.DeleteLabelValues(name, result)
		backendKills.DeleteLabelValues(name, result)
	}
}

func label(backend string) string {
	if backend == "" {
		return "unknown"
	}
	return backend
}
