// Package loader reads configuration sources into nested maps: TOML and
// YAML files, and SOSEXT_ environment variables.
package loader

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Loader reads configuration from a source. A source that does not exist
// yields nil, nil.
type Loader interface {
	Load() (map[string]any, error)
}

// FileSystem is the read-only file access the file loaders need.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	Stat(path string) (fs.FileInfo, error)
}

// OSFS reads from the real file system.
type OSFS struct{}

// ReadFile reads the entire file at path.
func (OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Stat returns file info for path.
func (OSFS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

// DefaultFS returns the OS file system.
func DefaultFS() FileSystem {
	return OSFS{}
}

// decodeFunc unmarshals one document into a map.
type decodeFunc func(data []byte, out *map[string]any) error

// fileLoader is the part shared by the TOML and YAML loaders.
type fileLoader struct {
	fs     FileSystem
	path   string
	decode decodeFunc
}

// Load reads the configured path.
func (l *fileLoader) Load() (map[string]any, error) {
	return l.LoadFrom(l.path)
}

// LoadFrom reads a specific path.
func (l *fileLoader) LoadFrom(path string) (map[string]any, error) {
	data, err := l.fs.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return l.parse(path, data)
}

// LoadFromReader reads a document from r.
func (l *fileLoader) LoadFromReader(r io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return l.parse("<reader>", data)
}

func (l *fileLoader) parse(source string, data []byte) (map[string]any, error) {
	var config map[string]any
	if err := l.decode(data, &config); err != nil {
		pe := &ParseError{Path: source, Message: err.Error(), Err: err}
		var pos *positionError
		if errors.As(err, &pos) {
			pe.Line, pe.Column = pos.line, pos.column
		}
		return nil, pe
	}
	if config == nil {
		config = map[string]any{}
	}
	return config, nil
}

// ForPath returns the file loader matching the extension of path: YAML for
// .yaml and .yml, TOML otherwise.
func ForPath(fsys FileSystem, path string) Loader {
	if fsys == nil {
		fsys = DefaultFS()
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return NewYAMLLoaderWithFS(fsys, path)
	default:
		return NewTOMLLoaderWithFS(fsys, path)
	}
}

// ParseError is a configuration document that failed to decode.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("parse error in %s at line %d, column %d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at line %d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
