package app

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTarget is returned when neither a dump, a process nor a replay
	// transcript was given.
	ErrNoTarget = errors.New("no target: give --core, --pid or --replay")

	// ErrClosed is returned by operations after Shutdown.
	ErrClosed = errors.New("application is shut down")
)

// OperationError is a failed user-facing operation.
type OperationError struct {
	Op     string // command name, e.g. "dko"
	Target string // address or type the command ran on
	Err    error
}

// NewOperationError creates an OperationError.
func NewOperationError(op, target string, err error) *OperationError {
	return &OperationError{Op: op, Target: target, Err: err}
}

func (e *OperationError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Op
	if e.Target != "" {
		msg += " " + e.Target
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ComponentError is a failure to start or stop one component.
type ComponentError struct {
	Component string // e.g. "config", "session"
	Action    string
	Err       error
}

// NewComponentError creates a ComponentError.
func NewComponentError(component, action string, err error) *ComponentError {
	return &ComponentError{Component: component, Action: action, Err: err}
}

func (e *ComponentError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Action != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Component, e.Action, e.Err)
	case e.Action != "":
		return fmt.Sprintf("%s: %s", e.Component, e.Action)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Component, e.Err)
	}
	return e.Component
}

func (e *ComponentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
