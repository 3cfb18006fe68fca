// Package config loads sosext settings from layered sources.
//
// Layers, lowest priority first:
//
//	defaults      built in
//	file          TOML, or YAML for .yaml/.yml paths
//	environment   SOSEXT_* variables
//	overrides     command-line flags
//
// Each layer is a nested map; the merged map is then read into Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Psigio/LldbSosExts/internal/config/loader"
	"github.com/Psigio/LldbSosExts/internal/script"
	"github.com/Psigio/LldbSosExts/internal/sos/expand"
	"github.com/Psigio/LldbSosExts/internal/sos/heap"
	"github.com/Psigio/LldbSosExts/internal/sos/session"
)

// DefaultFileName is looked up in the user config dir when no path is given.
const DefaultFileName = "sosext.toml"

// MaxExpandDepth bounds expand.max_depth.
const MaxExpandDepth = 1024

// Config is the resolved configuration.
type Config struct {
	Debugger DebuggerConfig
	Capture  CaptureConfig
	Decode   DecodeConfig
	Expand   ExpandConfig
	Heap     HeapConfig
	Logging  LoggingConfig
	Scripts  ScriptsConfig

	// Sources names the layers that contributed, lowest first.
	Sources []string
}

// LoadOptions selects the sources Load reads.
type LoadOptions struct {
	// Path is the config file. Empty means DefaultPath, which may be absent.
	Path string

	// FS reads the config file. Defaults to the OS file system.
	FS loader.FileSystem

	// Env loads the environment layer. Defaults to SOSEXT_ variables.
	Env loader.Loader

	// Overrides is the top layer, keyed by dotted path.
	Overrides map[string]any
}

// DefaultPath returns the user config file, $XDG_CONFIG_HOME/sosext/sosext.toml
// or its platform equivalent.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "sosext", DefaultFileName)
}

// Defaults returns the built-in layer.
func Defaults() map[string]any {
	return map[string]any{
		"debugger": map[string]any{
			"path":           "lldb",
			"plugin":         "",
			"args":           []any{},
			"init_commands":  []any{},
			"marker_command": session.DefaultMarkerCommand,
			"stop_timeout":   "2s",
		},
		"capture": map[string]any{
			"staging_dir": "",
			"echo":        true,
		},
		"decode": map[string]any{
			"timezone": "UTC",
		},
		"expand": map[string]any{
			"max_depth": int64(expand.DefaultMaxDepth),
		},
		"heap": map[string]any{
			"module": heap.DefaultModule,
		},
		"logging": map[string]any{
			"level": "warn",
		},
		"scripts": map[string]any{
			"timeout":        script.DefaultTimeout.String(),
			"watch_debounce": script.DefaultDebounce.String(),
		},
	}
}

// Default returns the configuration with no file, environment or flags.
func Default() *Config {
	c, err := FromMap(Defaults())
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	c.Sources = []string{"defaults"}
	return c
}

// Load merges the layers selected by opts and validates the result.
func Load(opts LoadOptions) (*Config, error) {
	if opts.FS == nil {
		opts.FS = loader.DefaultFS()
	}
	if opts.Env == nil {
		opts.Env = loader.NewEnvLoader(loader.EnvPrefix)
	}

	merged := Defaults()
	sources := []string{"defaults"}

	path, explicit := opts.Path, opts.Path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		data, err := loader.ForPath(opts.FS, path).Load()
		if err != nil {
			return nil, err
		}
		if data == nil && explicit {
			return nil, fmt.Errorf("config file %s: %w", path, os.ErrNotExist)
		}
		if data != nil {
			merged = loader.DeepMerge(merged, data)
			sources = append(sources, path)
		}
	}

	env, err := opts.Env.Load()
	if err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}
	if len(env) > 0 {
		merged = loader.DeepMerge(merged, env)
		sources = append(sources, "environment")
	}

	if len(opts.Overrides) > 0 {
		layer := make(map[string]any)
		for p, v := range opts.Overrides {
			loader.SetPath(layer, p, v)
		}
		merged = loader.DeepMerge(merged, layer)
		sources = append(sources, "flags")
	}

	c, err := FromMap(merged)
	if err != nil {
		return nil, err
	}
	c.Sources = sources
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// FromMap reads a merged map into a Config. Missing settings are zero.
func FromMap(m map[string]any) (*Config, error) {
	r := reader{m: m}
	c := &Config{
		Debugger: DebuggerConfig{
			Path:          r.str("debugger.path"),
			Plugin:        r.str("debugger.plugin"),
			Args:          r.strs("debugger.args"),
			InitCommands:  r.strs("debugger.init_commands"),
			MarkerCommand: r.str("debugger.marker_command"),
			StopTimeout:   r.duration("debugger.stop_timeout"),
		},
		Capture: CaptureConfig{
			StagingDir: r.str("capture.staging_dir"),
			Echo:       r.boolean("capture.echo"),
		},
		Decode:  DecodeConfig{Timezone: r.str("decode.timezone")},
		Expand:  ExpandConfig{MaxDepth: r.integer("expand.max_depth")},
		Heap:    HeapConfig{Module: r.str("heap.module")},
		Logging: LoggingConfig{Level: r.str("logging.level")},
		Scripts: ScriptsConfig{
			Timeout:       r.duration("scripts.timeout"),
			WatchDebounce: r.duration("scripts.watch_debounce"),
		},
	}
	if len(r.errs) > 0 {
		return nil, errors.Join(r.errs...)
	}
	return c, nil
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

// Validate checks ranges and that the timezone loads.
func (c *Config) Validate() error {
	var errs []error
	fail := func(path, msg string, v any) {
		errs = append(errs, &ValidationError{Path: path, Message: msg, Value: v})
	}

	if strings.TrimSpace(c.Debugger.Path) == "" {
		fail("debugger.path", "must not be empty", c.Debugger.Path)
	}
	if !strings.Contains(c.Debugger.MarkerCommand, "%s") {
		fail("debugger.marker_command", "must contain %s", c.Debugger.MarkerCommand)
	}
	if c.Debugger.StopTimeout < 0 {
		fail("debugger.stop_timeout", "must not be negative", c.Debugger.StopTimeout)
	}
	if c.Expand.MaxDepth < 1 || c.Expand.MaxDepth > MaxExpandDepth {
		fail("expand.max_depth", fmt.Sprintf("must be between 1 and %d", MaxExpandDepth), c.Expand.MaxDepth)
	}
	if _, err := c.Decode.Location(); err != nil {
		fail("decode.timezone", err.Error(), c.Decode.Timezone)
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		fail("logging.level", "must be one of debug, info, warn, error", c.Logging.Level)
	}
	if c.Scripts.Timeout < 0 {
		fail("scripts.timeout", "must not be negative", c.Scripts.Timeout)
	}
	if c.Scripts.WatchDebounce < 0 {
		fail("scripts.watch_debounce", "must not be negative", c.Scripts.WatchDebounce)
	}
	if c.Capture.StagingDir != "" {
		if fi, err := os.Stat(c.Capture.StagingDir); err != nil || !fi.IsDir() {
			fail("capture.staging_dir", "must be an existing directory", c.Capture.StagingDir)
		}
	}
	return errors.Join(errs...)
}

// reader reads typed settings from a merged map and collects type errors.
type reader struct {
	m    map[string]any
	errs []error
}

func (r *reader) get(path string) (any, bool) {
	return loader.GetPath(r.m, path)
}

func (r *reader) mismatch(path, expected string, v any) {
	r.errs = append(r.errs, &TypeError{Path: path, Expected: expected, Actual: typeName(v)})
}

func (r *reader) str(path string) string {
	v, ok := r.get(path)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.mismatch(path, "string", v)
	}
	return s
}

func (r *reader) boolean(path string) bool {
	v, ok := r.get(path)
	if !ok {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		r.mismatch(path, "bool", v)
	}
	return b
}

func (r *reader) integer(path string) int {
	v, ok := r.get(path)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		if n == float64(int(n)) {
			return int(n)
		}
	}
	r.mismatch(path, "int", v)
	return 0
}

// duration accepts a duration string, a time.Duration, or a number of
// seconds.
func (r *reader) duration(path string) time.Duration {
	v, ok := r.get(path)
	if !ok {
		return 0
	}
	switch d := v.(type) {
	case time.Duration:
		return d
	case string:
		parsed, err := time.ParseDuration(d)
		if err == nil {
			return parsed
		}
	case int:
		return time.Duration(d) * time.Second
	case int64:
		return time.Duration(d) * time.Second
	case float64:
		return time.Duration(d * float64(time.Second))
	}
	r.mismatch(path, "duration", v)
	return 0
}

func (r *reader) strs(path string) []string {
	v, ok := r.get(path)
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				r.mismatch(path, "array of strings", v)
				return nil
			}
			out = append(out, s)
		}
		return out
	case string:
		return strings.Fields(list)
	}
	r.mismatch(path, "array of strings", v)
	return nil
}
