package loader

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// EnvPrefix is the prefix of the environment variables read by default.
const EnvPrefix = "SOSEXT_"

// EnvLoader loads configuration from environment variables. Variables
// named in the mapping go to their mapped path; any other prefixed
// variable SOSEXT_SECTION_SOME_KEY goes to section.some_key.
type EnvLoader struct {
	prefix  string
	mapping map[string]string
	environ func() []string
}

// NewEnvLoader creates a loader for prefix with the default mapping. The
// prefix includes its trailing underscore.
func NewEnvLoader(prefix string) *EnvLoader {
	return NewEnvLoaderWithMapping(prefix, defaultEnvMapping())
}

// NewEnvLoaderWithMapping creates a loader with a custom mapping.
func NewEnvLoaderWithMapping(prefix string, mapping map[string]string) *EnvLoader {
	return &EnvLoader{prefix: prefix, mapping: mapping, environ: os.Environ}
}

func defaultEnvMapping() map[string]string {
	return map[string]string{
		"SOSEXT_LOG_LEVEL":   "logging.level",
		"SOSEXT_LLDB":        "debugger.path",
		"SOSEXT_PLUGIN":      "debugger.plugin",
		"SOSEXT_TZ":          "decode.timezone",
		"SOSEXT_STAGING_DIR": "capture.staging_dir",
		"SOSEXT_MODULE":      "heap.module",
	}
}

// Load reads the environment. Empty values are kept as empty strings.
func (l *EnvLoader) Load() (map[string]any, error) {
	config := make(map[string]any)
	for _, kv := range l.environ() {
		name, val, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if path, mapped := l.mapping[name]; mapped {
			SetPath(config, path, parseValue(val))
			continue
		}
		if !strings.HasPrefix(name, l.prefix) {
			continue
		}
		if path := l.envToPath(name); path != "" {
			SetPath(config, path, parseValue(val))
		}
	}
	return config, nil
}

// AddMapping maps envVar to configPath.
func (l *EnvLoader) AddMapping(envVar, configPath string) {
	if l.mapping == nil {
		l.mapping = make(map[string]string)
	}
	l.mapping[envVar] = configPath
}

// RemoveMapping removes the mapping of envVar.
func (l *EnvLoader) RemoveMapping(envVar string) {
	delete(l.mapping, envVar)
}

// envToPath converts SOSEXT_EXPAND_MAX_DEPTH to expand.max_depth.
func (l *EnvLoader) envToPath(env string) string {
	name := strings.ToLower(strings.TrimPrefix(env, l.prefix))
	section, key, ok := strings.Cut(name, "_")
	if section == "" {
		return ""
	}
	if !ok || key == "" {
		return section
	}
	return section + "." + key
}

// parseValue converts an environment string to the closest typed value.
// Numbers stay numbers; "0" and "1" are not booleans.
func parseValue(s string) any {
	if s == "" {
		return s
	}

	switch strings.ToLower(s) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
		if gjson.Valid(s) {
			return gjson.Parse(s).Value()
		}
	}
	return s
}
