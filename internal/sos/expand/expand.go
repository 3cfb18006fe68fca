// Package expand reconstructs the object graph rooted at an address by
// dumping each object and dispatching on its type name.
package expand

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Psigio/LldbSosExts/internal/sos/assoc"
	"github.com/Psigio/LldbSosExts/internal/sos/decode"
	"github.com/Psigio/LldbSosExts/internal/sos/pattern"
	"github.com/Psigio/LldbSosExts/internal/sos/value"
)

// DefaultMaxDepth bounds how many objects deep an expansion may go.
const DefaultMaxDepth = 32

var (
	// ErrRecursionLimit is returned when an expansion exceeds the maximum
	// depth or reaches an object already on the current path.
	ErrRecursionLimit = errors.New("expand: recursion limit exceeded")

	// ErrFieldNotFound is returned when a navigated field is absent.
	ErrFieldNotFound = errors.New("expand: field not found")
)

// RecursionError describes where an expansion was cut off.
type RecursionError struct {
	Address string
	Depth   int
	Cycle   bool
}

func (e *RecursionError) Error() string {
	if e.Cycle {
		return fmt.Sprintf("%v: %s is already being expanded", ErrRecursionLimit, e.Address)
	}
	return fmt.Sprintf("%v: depth %d reached at %s", ErrRecursionLimit, e.Depth, e.Address)
}

func (e *RecursionError) Unwrap() error {
	return ErrRecursionLimit
}

// Executor runs a debugger command and returns its output lines.
type Executor interface {
	Execute(command string, echo bool) ([]string, error)
}

// Logger is the logging surface of the expander.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

// Expander decodes objects and everything they contain.
type Expander struct {
	exec     Executor
	registry *decode.Registry
	maxDepth int
	location *time.Location
	logger   Logger
}

// Option configures an Expander.
type Option func(*Expander)

// WithMaxDepth sets the depth limit. Values below 1 keep the default.
func WithMaxDepth(n int) Option {
	return func(e *Expander) {
		if n > 0 {
			e.maxDepth = n
		}
	}
}

// WithLocation sets the zone timestamps are rendered in.
func WithLocation(loc *time.Location) Option {
	return func(e *Expander) {
		e.location = loc
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(e *Expander) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Expander. A nil registry uses decode.DefaultRegistry.
func New(exec Executor, registry *decode.Registry, opts ...Option) *Expander {
	if registry == nil {
		registry = decode.DefaultRegistry()
	}
	e := &Expander{
		exec:     exec,
		registry: registry,
		maxDepth: DefaultMaxDepth,
		location: time.UTC,
		logger:   nopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxDepth returns the configured depth limit.
func (e *Expander) MaxDepth() int {
	return e.maxDepth
}

// Expand decodes the object at addr. Nested objects are expanded
// depth-first, keys before values. Channel failures and the recursion limit
// abort the whole expansion.
func (e *Expander) Expand(addr string) (value.Value, error) {
	w := &walk{e: e, path: make(map[string]struct{})}
	return w.Expand(addr)
}

// Dump returns the dumpobj output for addr.
func (e *Expander) Dump(addr string) ([]string, error) {
	return e.exec.Execute("dumpobj "+addr, false)
}

// FieldOf returns the raw value of field in the object at addr.
func (e *Expander) FieldOf(addr, field string) (string, error) {
	lines, err := e.Dump(addr)
	if err != nil {
		return "", err
	}
	v, ok := pattern.ExtractField(lines, field)
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrFieldNotFound, field, addr)
	}
	return v, nil
}

// KeyValues reads the populated slots of the dictionary at addr without
// expanding them.
func (e *Expander) KeyValues(addr string) (assoc.KeyValueMap, error) {
	entries, err := e.FieldOf(addr, decode.FieldEntries)
	if err != nil {
		return assoc.KeyValueMap{}, err
	}
	if n, ok := decode.ParseHex(entries); !ok || n == 0 {
		return assoc.KeyValueMap{}, nil
	}
	lines, err := e.exec.Execute("dumparray -details "+entries, false)
	if err != nil {
		return assoc.KeyValueMap{}, err
	}
	return assoc.ReadMap(lines)
}

// walk is one expansion. It tracks the addresses on the current path so a
// container reaching itself is caught before the depth limit.
type walk struct {
	e     *Expander
	path  map[string]struct{}
	depth int
}

func (w *walk) Expand(addr string) (value.Value, error) {
	// The recursion limit is never degraded to an unknown value: a graph
	// deeper than the limit, or cyclic, fails the whole expansion.
	key := canonical(addr)
	if _, ok := w.path[key]; ok {
		return value.Value{}, &RecursionError{Address: addr, Depth: w.depth, Cycle: true}
	}
	if w.depth >= w.e.maxDepth {
		return value.Value{}, &RecursionError{Address: addr, Depth: w.depth}
	}

	w.path[key] = struct{}{}
	w.depth++
	defer func() {
		delete(w.path, key)
		w.depth--
	}()

	lines, err := w.e.Dump(addr)
	if err != nil {
		return value.Value{}, err
	}
	typeName, ok := pattern.TypeName(lines)
	if !ok {
		w.e.logger.Debug("no type header for %s", addr)
	}

	ctx := &decode.Context{
		Source:   w,
		Location: w.e.location,
		Address:  addr,
		Logger:   w.e.logger,
	}
	return w.e.registry.Decode(ctx, typeName, lines)
}

func (w *walk) Execute(command string) ([]string, error) {
	return w.e.exec.Execute(command, false)
}

// canonical folds the spellings of one address onto the same key.
func canonical(addr string) string {
	a := strings.ToLower(strings.TrimSpace(addr))
	a = strings.TrimPrefix(a, "0x")
	a = strings.TrimLeft(a, "0")
	if a == "" {
		return "0"
	}
	return a
}
