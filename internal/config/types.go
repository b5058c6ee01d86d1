package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"

	"github.com/Paintersrp/sidecar/internal/sidecar"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Args accepts either a YAML list or a single shell-quoted string.
type Args []string

// UnmarshalYAML splits scalar values with shell quoting rules.
func (a *Args) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		parts, err := shlex.Split(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: parse args %q: %w", node.Line, node.Value, err)
		}
		*a = parts
		return nil
	case yaml.SequenceNode:
		var parts []string
		if err := node.Decode(&parts); err != nil {
			return err
		}
		*a = parts
		return nil
	default:
		return fmt.Errorf("line %d: args must be a string or a list of strings", node.Line)
	}
}

// Config mirrors the sidecar.yaml document structure.
type Config struct {
	Backend BackendSpec `yaml:"backend"`
	Host    HostSpec    `yaml:"host"`
	API     APISpec     `yaml:"api"`
	Log     LogSpec     `yaml:"log"`

	// Path is the absolute path the configuration was loaded from, empty for
	// defaults.
	Path string `yaml:"-"`
}

// BackendSpec describes the bundled backend binary.
type BackendSpec struct {
	Name          string            `yaml:"name"`
	Dirs          []string          `yaml:"dirs"`
	Args          Args              `yaml:"args"`
	Env           map[string]string `yaml:"env"`
	EnvFile       string            `yaml:"envFile"`
	Workdir       string            `yaml:"workdir"`
	ForwardOutput bool              `yaml:"forwardOutput"`
}

// HostSpec configures the application host.
type HostSpec struct {
	MainWindow string   `yaml:"mainWindow"`
	ExitGrace  Duration `yaml:"exitGrace"`
}

// APISpec configures the local HTTP API.
type APISpec struct {
	Enabled *bool  `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// IsEnabled reports whether the API was switched on.
func (a APISpec) IsEnabled() bool {
	return a.Enabled != nil && *a.Enabled
}

// LogSpec configures logging.
type LogSpec struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	DefaultBackendName = "run-server"
	DefaultMainWindow  = "main"
	DefaultExitGrace   = 2 * time.Second
	DefaultAPIAddr     = "127.0.0.1:7664"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "auto"
)

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Backend.Name == "" {
		c.Backend.Name = DefaultBackendName
	}
	if c.Host.MainWindow == "" {
		c.Host.MainWindow = DefaultMainWindow
	}
	if !c.Host.ExitGrace.IsSet() {
		c.Host.ExitGrace = Duration{Duration: DefaultExitGrace}
	}
	if c.API.Addr == "" {
		c.API.Addr = DefaultAPIAddr
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

// SidecarOptions converts the backend section into resolution options.
func (c *Config) SidecarOptions() []sidecar.Option {
	var opts []sidecar.Option
	if len(c.Backend.Dirs) > 0 {
		opts = append(opts, sidecar.WithDirs(c.Backend.Dirs...))
	}
	if len(c.Backend.Args) > 0 {
		opts = append(opts, sidecar.WithArgs(c.Backend.Args...))
	}
	if len(c.Backend.Env) > 0 {
		opts = append(opts, sidecar.WithEnv(c.EnvList()...))
	}
	if c.Backend.Workdir != "" {
		opts = append(opts, sidecar.WithDir(c.Backend.Workdir))
	}
	return opts
}

// EnvList renders the backend environment as sorted KEY=VALUE pairs.
func (c *Config) EnvList() []string {
	keys := make([]string, 0, len(c.Backend.Env))
	for k := range c.Backend.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+c.Backend.Env[k])
	}
	return out
}
