package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/Paintersrp/sidecar/internal/logging"
)

// Validate enforces configuration invariants.
func (c *Config) Validate() error {
	name := strings.TrimSpace(c.Backend.Name)
	if name == "" {
		return fmt.Errorf("%s: is required", fieldPath("backend", "name"))
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%s: must be a base name, not a path (got %q)", fieldPath("backend", "name"), name)
	}
	for i, dir := range c.Backend.Dirs {
		if strings.TrimSpace(dir) == "" {
			return fmt.Errorf("%s: must be non-empty", fieldPath("backend", fmt.Sprintf("dirs[%d]", i)))
		}
	}
	for key := range c.Backend.Env {
		if strings.TrimSpace(key) == "" || strings.Contains(key, "=") {
			return fmt.Errorf("%s: invalid variable name %q", fieldPath("backend", "env"), key)
		}
	}

	if strings.TrimSpace(c.Host.MainWindow) == "" {
		return fmt.Errorf("%s: is required", fieldPath("host", "mainWindow"))
	}
	if c.Host.ExitGrace.Duration <= 0 {
		return fmt.Errorf("%s: must be positive", fieldPath("host", "exitGrace"))
	}

	if c.API.IsEnabled() {
		if _, _, err := net.SplitHostPort(c.API.Addr); err != nil {
			return fmt.Errorf("%s: invalid address %q: %w", fieldPath("api", "addr"), c.API.Addr, err)
		}
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%s: %w", fieldPath("log", "level"), err)
	}
	switch strings.ToLower(c.Log.Format) {
	case logging.FormatAuto, logging.FormatJSON, logging.FormatConsole:
	default:
		return fmt.Errorf("%s: must be one of auto, json, console (got %q)", fieldPath("log", "format"), c.Log.Format)
	}
	return nil
}

func fieldPath(parts ...string) string {
	return strings.Join(parts, ".")
}
