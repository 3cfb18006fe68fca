package config

import (
	"strings"
	"time"
)

// Section structs are plain values. Load fills them from the merged layers.

// DebuggerConfig configures the LLDB child process.
type DebuggerConfig struct {
	// Path is the lldb executable.
	Path string

	// Plugin is the SOS plugin library loaded at start. Empty skips the load.
	Plugin string

	// Args are extra lldb arguments.
	Args []string

	// InitCommands run after the target is loaded.
	InitCommands []string

	// MarkerCommand prints its %s argument on a line of its own.
	MarkerCommand string

	// StopTimeout is how long lldb gets to exit before it is killed.
	StopTimeout time.Duration
}

// CaptureConfig configures the command channel.
type CaptureConfig struct {
	// StagingDir holds the capture file. Empty means the OS temp dir.
	StagingDir string

	// Echo copies each command's output to stdout.
	Echo bool
}

// DecodeConfig configures value decoding.
type DecodeConfig struct {
	// Timezone names the zone timestamps are rendered in: "UTC", "Local"
	// or an IANA name.
	Timezone string
}

// Location loads the configured zone.
func (d DecodeConfig) Location() (*time.Location, error) {
	switch strings.TrimSpace(d.Timezone) {
	case "", "UTC":
		return time.UTC, nil
	case "Local", "local":
		return time.Local, nil
	default:
		return time.LoadLocation(d.Timezone)
	}
}

// ExpandConfig configures object graph expansion.
type ExpandConfig struct {
	MaxDepth int
}

// HeapConfig configures heap scans.
type HeapConfig struct {
	// Module is searched when a type is given by name.
	Module string
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string
}

// ScriptsConfig configures the Lua host.
type ScriptsConfig struct {
	Timeout       time.Duration
	WatchDebounce time.Duration
}
