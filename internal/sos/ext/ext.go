// Package ext implements the user-facing operations: running tracked SOS
// commands, locating objects on the stack, decoding known objects, walking
// a thread's execution-context locals and scanning the heap.
//
// Every operation is synchronous and keeps no state between calls.
package ext

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Psigio/LldbSosExts/internal/sos/assoc"
	"github.com/Psigio/LldbSosExts/internal/sos/channel"
	"github.com/Psigio/LldbSosExts/internal/sos/decode"
	"github.com/Psigio/LldbSosExts/internal/sos/expand"
	"github.com/Psigio/LldbSosExts/internal/sos/heap"
	"github.com/Psigio/LldbSosExts/internal/sos/pattern"
	"github.com/Psigio/LldbSosExts/internal/sos/value"
)

// Stack labels and fields walked by ExpandThreadLocalValues.
const (
	ThreadType            = "System.Threading.Thread"
	FieldExecutionContext = "_executionContext"
	FieldLocalValues      = "m_localValues"
	FieldKeyValues        = "_keyValues"
)

var (
	// ErrFrameNotFound is returned when no stack row matches a label.
	ErrFrameNotFound = errors.New("ext: no matching object on the stack")

	// ErrFieldNotFound is returned when a navigated field is absent.
	ErrFieldNotFound = expand.ErrFieldNotFound

	// ErrNullField is returned when a navigated field holds a null reference.
	ErrNullField = errors.New("ext: field is null")
)

// Executor runs a debugger command and returns its output lines.
type Executor interface {
	Execute(command string, echo bool) ([]string, error)
}

// Logger is the logging surface of Ext.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

// Renderer formats a decoded value for printing.
type Renderer func(v value.Value) string

// Ext exposes the operations over one channel.
type Ext struct {
	exec     Executor
	expander *expand.Expander
	scanner  *heap.Scanner
	out      io.Writer
	echo     bool
	render   Renderer
	logger   Logger
}

// Option configures an Ext.
type Option func(*Ext)

// WithOutput sets where results are printed. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(e *Ext) {
		if w != nil {
			e.out = w
		}
	}
}

// WithRenderer replaces value.Value.String as the printed form of values.
func WithRenderer(r Renderer) Option {
	return func(e *Ext) {
		if r != nil {
			e.render = r
		}
	}
}

// WithEcho sets whether tracked commands echo their output. Defaults to on.
func WithEcho(on bool) Option {
	return func(e *Ext) {
		e.echo = on
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(e *Ext) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Ext. The scanner may be nil, in which case one is built
// over exec and expander.
func New(exec Executor, expander *expand.Expander, scanner *heap.Scanner, opts ...Option) *Ext {
	if scanner == nil {
		scanner = heap.NewScanner(exec, expander)
	}
	e := &Ext{
		exec:     exec,
		expander: expander,
		scanner:  scanner,
		out:      os.Stdout,
		echo:     true,
		render:   value.Value.String,
		logger:   nopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Silent returns a copy of e that prints nothing and does not echo.
func (e *Ext) Silent() *Ext {
	c := *e
	c.out = io.Discard
	c.echo = false
	return &c
}

// ExecuteTrackedCommand runs a raw debugger command, echoing its output.
func (e *Ext) ExecuteTrackedCommand(command string) ([]string, error) {
	return e.exec.Execute(command, e.echo)
}

// GetFromStack dumps the stack object labelled label, or the last stack
// object when label is empty.
func (e *Ext) GetFromStack(label string, echo bool) ([]string, error) {
	addr, err := e.stackObject(label)
	if err != nil {
		return nil, err
	}
	return e.exec.Execute("dumpobj "+addr, echo && e.echo)
}

func (e *Ext) stackObject(label string) (string, error) {
	lines, err := e.exec.Execute("dso", false)
	if err != nil {
		return "", err
	}
	addr, ok := pattern.LastStackFrame(lines, label)
	if !ok {
		if label == "" {
			return "", ErrFrameNotFound
		}
		return "", fmt.Errorf("%w: %s", ErrFrameNotFound, label)
	}
	e.logger.Debug("stack object %q at %s", label, addr)
	return addr, nil
}

// FieldOf prints and returns the raw value of field on the object at addr.
func (e *Ext) FieldOf(addr, field string) (string, error) {
	v, err := e.expander.FieldOf(addr, field)
	if err != nil {
		return "", err
	}
	fmt.Fprintln(e.out, v)
	return v, nil
}

// KeyValues prints and returns the key/value slots of the dictionary at
// addr, one "key value" pair per line.
func (e *Ext) KeyValues(addr string) (assoc.KeyValueMap, error) {
	m, err := e.expander.KeyValues(addr)
	if err != nil {
		return assoc.KeyValueMap{}, err
	}
	for _, p := range m.Pairs() {
		fmt.Fprintf(e.out, "%s %s\n", p.Key, p.Value)
	}
	return m, nil
}

// DecodeKnownObject decodes the object at addr and prints its summary.
func (e *Ext) DecodeKnownObject(addr string) (value.Value, error) {
	v, err := e.expander.Expand(addr)
	if err != nil {
		return value.Value{}, err
	}
	fmt.Fprintln(e.out, e.render(v))
	return v, nil
}

// ExpandThreadLocalValues finds the closest thread object on the stack,
// follows its execution context to the async-local value map and decodes
// every value, printing each summary. A value that fails to decode is
// printed as unknown and the walk goes on; a channel failure stops it.
func (e *Ext) ExpandThreadLocalValues() ([]value.Value, error) {
	threadLines, err := e.GetFromStack(ThreadType, false)
	if err != nil {
		return nil, err
	}

	ctxAddr, ok := pattern.ExtractField(threadLines, FieldExecutionContext)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrFieldNotFound, FieldExecutionContext, ThreadType)
	}
	if err := nonNull(FieldExecutionContext, ctxAddr); err != nil {
		return nil, err
	}

	localsAddr, err := e.expander.FieldOf(ctxAddr, FieldLocalValues)
	if err != nil {
		return nil, err
	}
	if err := nonNull(FieldLocalValues, localsAddr); err != nil {
		return nil, err
	}

	kvAddr, err := e.expander.FieldOf(localsAddr, FieldKeyValues)
	if err != nil {
		return nil, err
	}
	if err := nonNull(FieldKeyValues, kvAddr); err != nil {
		return nil, err
	}

	listing, err := e.exec.Execute("dumparray -details "+kvAddr, false)
	if err != nil {
		return nil, err
	}
	m, err := assoc.ReadMap(listing)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", FieldKeyValues, kvAddr, err)
	}

	values := make([]value.Value, 0, m.Len())
	for _, p := range m.Pairs() {
		v, err := e.DecodeKnownObject(p.Value)
		if err != nil {
			if isFatal(err) {
				return values, err
			}
			e.logger.Warn("async local %s: %v", p.Value, err)
			if v, err = e.unknownAt(p.Value); err != nil {
				return values, err
			}
			fmt.Fprintln(e.out, e.render(v))
		}
		values = append(values, v)
	}
	return values, nil
}

// unknownAt returns an unknown value for addr carrying the type name from
// its dumpobj header.
func (e *Ext) unknownAt(addr string) (value.Value, error) {
	lines, err := e.expander.Dump(addr)
	if err != nil {
		return value.Value{}, err
	}
	typeName, _ := pattern.TypeName(lines)
	v := value.Unknown(typeName)
	v.Address = addr
	return v, nil
}

// isFatal reports whether err must end a multi-object operation.
func isFatal(err error) bool {
	return errors.Is(err, channel.ErrChannelUnavailable) || errors.Is(err, channel.ErrClosed)
}

// ScanHeapAndApply applies action to every heap object of a type.
func (e *Ext) ScanHeapAndApply(typeDescriptor, action string) ([]heap.Result, error) {
	return e.scanner.ScanAndApply(typeDescriptor, action, e.out)
}

// ScanHeapByGeneration lists heap objects of a type in one generation.
func (e *Ext) ScanHeapByGeneration(typeDescriptor, generation string) ([]string, error) {
	gen, err := heap.ParseGeneration(generation)
	if err != nil {
		return nil, err
	}
	return e.scanner.ScanByGeneration(typeDescriptor, gen, e.out)
}

func nonNull(field, addr string) error {
	if n, ok := decode.ParseHex(addr); !ok || n == 0 {
		return fmt.Errorf("%w: %s", ErrNullField, field)
	}
	return nil
}
