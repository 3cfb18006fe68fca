package loader

import (
	"errors"

	"github.com/pelletier/go-toml/v2"
)

// TOMLLoader loads configuration from TOML files.
type TOMLLoader struct {
	fileLoader
}

// NewTOMLLoader creates a TOML loader for path.
func NewTOMLLoader(path string) *TOMLLoader {
	return NewTOMLLoaderWithFS(DefaultFS(), path)
}

// NewTOMLLoaderWithFS creates a TOML loader reading through fsys.
func NewTOMLLoaderWithFS(fsys FileSystem, path string) *TOMLLoader {
	return &TOMLLoader{fileLoader{fs: fsys, path: path, decode: decodeTOML}}
}

func decodeTOML(data []byte, out *map[string]any) error {
	err := toml.Unmarshal(data, out)
	var derr *toml.DecodeError
	if errors.As(err, &derr) {
		row, col := derr.Position()
		return &positionError{err: derr, line: row, column: col}
	}
	return err
}

// positionError carries the location reported by the TOML decoder up to
// ParseError.
type positionError struct {
	err          error
	line, column int
}

func (e *positionError) Error() string { return e.err.Error() }
func (e *positionError) Unwrap() error { return e.err }
