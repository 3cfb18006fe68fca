package config

import (
	"errors"
	"fmt"
)

var (
	// ErrTypeMismatch indicates a setting holds a value of the wrong type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrValidationFailed indicates a setting is out of range or unusable.
	ErrValidationFailed = errors.New("validation failed")
)

// TypeError is returned when a setting cannot be read as its type.
type TypeError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("type error for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// Is reports ErrTypeMismatch.
func (e *TypeError) Is(target error) bool {
	return target == ErrTypeMismatch
}

// ValidationError describes one setting that failed validation.
type ValidationError struct {
	Path    string
	Message string
	Value   any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (value: %v)", e.Path, e.Message, e.Value)
}

// Is reports ErrValidationFailed.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case int, int64:
		return "int"
	case float64:
		return "float"
	case []any:
		return "array"
	case map[string]any:
		return "table"
	default:
		return fmt.Sprintf("%T", v)
	}
}
