package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads a configuration file from the provided path.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", absPath, err)
	}
	if raw != nil {
		if err := validateAgainstSchema(raw); err != nil {
			return nil, fmt.Errorf("%s: %w", absPath, err)
		}
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var doc Config
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: decode: %w", absPath, err)
	}
	doc.Path = absPath

	if err := doc.resolve(filepath.Dir(absPath)); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	doc.ApplyDefaults()
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return &doc, nil
}

// LoadOrDefault behaves like Load but returns Default when path does not
// exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// resolve expands environment references, anchors relative paths at the
// configuration directory and merges the env file beneath inline values.
func (c *Config) resolve(baseDir string) error {
	b := &c.Backend
	b.Name = os.ExpandEnv(b.Name)

	for i, dir := range b.Dirs {
		b.Dirs[i] = resolvePath(baseDir, os.ExpandEnv(dir))
	}
	for i, arg := range b.Args {
		b.Args[i] = os.ExpandEnv(arg)
	}
	if b.Workdir != "" {
		b.Workdir = resolvePath(baseDir, os.ExpandEnv(b.Workdir))
	}

	var inlineEnv map[string]string
	if len(b.Env) > 0 {
		inlineEnv = make(map[string]string, len(b.Env))
		for k, v := range b.Env {
			inlineEnv[k] = os.ExpandEnv(v)
		}
	}

	var fileEnv map[string]string
	if b.EnvFile != "" {
		b.EnvFile = resolvePath(baseDir, os.ExpandEnv(b.EnvFile))
		var err error
		fileEnv, err = godotenv.Read(b.EnvFile)
		if err != nil {
			return fmt.Errorf("%s: load env file %q: %w", fieldPath("backend", "envFile"), b.EnvFile, err)
		}
	}

	var merged map[string]string
	if len(fileEnv) > 0 {
		merged = make(map[string]string, len(fileEnv)+len(inlineEnv))
		for k, v := range fileEnv {
			merged[k] = v
		}
	}
	if len(inlineEnv) > 0 {
		if merged == nil {
			merged = make(map[string]string, len(inlineEnv))
		}
		for k, v := range inlineEnv {
			merged[k] = v
		}
	}
	b.Env = merged

	c.API.Addr = os.ExpandEnv(c.API.Addr)
	return nil
}

func resolvePath(base, path string) string {
	if path == "" {
		return base
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(base, path))
}
