package loader

import (
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

// YAMLLoader loads configuration from YAML files.
type YAMLLoader struct {
	fileLoader
}

// NewYAMLLoader creates a YAML loader for path.
func NewYAMLLoader(path string) *YAMLLoader {
	return NewYAMLLoaderWithFS(DefaultFS(), path)
}

// NewYAMLLoaderWithFS creates a YAML loader reading through fsys.
func NewYAMLLoaderWithFS(fsys FileSystem, path string) *YAMLLoader {
	return &YAMLLoader{fileLoader{fs: fsys, path: path, decode: decodeYAML}}
}

var yamlLine = regexp.MustCompile(`line (\d+)`)

func decodeYAML(data []byte, out *map[string]any) error {
	err := yaml.Unmarshal(data, out)
	if err == nil {
		return nil
	}
	if m := yamlLine.FindStringSubmatch(err.Error()); m != nil {
		line, _ := strconv.Atoi(m[1])
		return &positionError{err: err, line: line}
	}
	return err
}
