// Package sidecar resolves the bundled backend binary from its base name.
//
// Binaries are looked up next to the running executable by default. In
// development layouts the file carries the target triple of the platform it
// was built for (run-server-x86_64-unknown-linux-gnu); bundled layouts use the
// bare name. Both spellings are accepted, triple first.
package sidecar

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

var (
	// ErrNotFound reports that no candidate binary exists for a name.
	ErrNotFound = errors.New("sidecar binary not found")
	// ErrInvalidName reports an empty name or one containing a path.
	ErrInvalidName = errors.New("invalid sidecar name")
)

// Command is a resolved description of the backend process to start.
type Command struct {
	// Name is the base name the command was resolved from.
	Name string
	Path string
	Args []string
	// Env holds KEY=VALUE overrides appended to the inherited environment.
	Env []string
	Dir string
}

// String renders the command line for logs.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}
	return c.Path + " " + strings.Join(c.Args, " ")
}

type options struct {
	dirs []string
	args []string
	env  []string
	dir  string
	goos string
	arch string
	self func() (string, error)
}

// Option customises resolution.
type Option func(*options)

// WithDirs replaces the default search directories.
func WithDirs(dirs ...string) Option {
	return func(o *options) {
		o.dirs = append([]string(nil), dirs...)
	}
}

// WithArgs sets the arguments passed to the backend.
func WithArgs(args ...string) Option {
	return func(o *options) {
		o.args = append([]string(nil), args...)
	}
}

// WithEnv sets KEY=VALUE pairs added to the inherited environment.
func WithEnv(env ...string) Option {
	return func(o *options) {
		o.env = append([]string(nil), env...)
	}
}

// WithDir sets the working directory of the backend.
func WithDir(dir string) Option {
	return func(o *options) {
		o.dir = dir
	}
}

func withPlatform(goos, arch string) Option {
	return func(o *options) {
		o.goos = goos
		o.arch = arch
	}
}

// Resolve finds the binary for name and returns a command ready to launch.
func Resolve(name string, opts ...Option) (Command, error) {
	cfg := options{
		goos: runtime.GOOS,
		arch: runtime.GOARCH,
		self: os.Executable,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return Command{}, fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if strings.ContainsAny(name, `/\`) {
		return Command{}, fmt.Errorf("%w: %q must be a base name, not a path", ErrInvalidName, name)
	}

	dirs := cfg.dirs
	if len(dirs) == 0 {
		self, err := cfg.self()
		if err != nil {
			return Command{}, fmt.Errorf("locate current executable: %w", err)
		}
		dirs = []string{filepath.Dir(self)}
	}

	candidates := Candidates(name, cfg.goos, cfg.arch)
	var searched []string
	for _, dir := range dirs {
		for _, candidate := range candidates {
			path := filepath.Join(dir, candidate)
			searched = append(searched, path)
			if isExecutable(path, cfg.goos) {
				abs, err := filepath.Abs(path)
				if err != nil {
					return Command{}, fmt.Errorf("resolve sidecar path %s: %w", path, err)
				}
				return Command{
					Name: name,
					Path: abs,
					Args: cfg.args,
					Env:  cfg.env,
					Dir:  cfg.dir,
				}, nil
			}
		}
	}
	return Command{}, fmt.Errorf("%w: %s (searched %s)", ErrNotFound, name, strings.Join(searched, ", "))
}

// Candidates lists the file names tried for name on the given platform.
func Candidates(name, goos, arch string) []string {
	ext := ""
	if goos == "windows" {
		ext = ".exe"
	}
	out := make([]string, 0, 2)
	if triple, ok := TargetTriple(goos, arch); ok {
		out = append(out, name+"-"+triple+ext)
	}
	return append(out, name+ext)
}

var triples = map[string]string{
	"linux/amd64":   "x86_64-unknown-linux-gnu",
	"linux/arm64":   "aarch64-unknown-linux-gnu",
	"linux/386":     "i686-unknown-linux-gnu",
	"linux/arm":     "armv7-unknown-linux-gnueabihf",
	"linux/riscv64": "riscv64gc-unknown-linux-gnu",
	"darwin/amd64":  "x86_64-apple-darwin",
	"darwin/arm64":  "aarch64-apple-darwin",
	"windows/amd64": "x86_64-pc-windows-msvc",
	"windows/arm64": "aarch64-pc-windows-msvc",
	"windows/386":   "i686-pc-windows-msvc",
	"freebsd/amd64": "x86_64-unknown-freebsd",
}

// TargetTriple maps a GOOS/GOARCH pair to the target triple used in
// development binary names.
func TargetTriple(goos, arch string) (string, bool) {
	triple, ok := triples[goos+"/"+arch]
	return triple, ok
}

func isExecutable(path, goos string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if goos == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
