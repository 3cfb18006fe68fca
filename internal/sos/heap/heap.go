// Package heap enumerates managed heap objects of one type and applies an
// action to each, or filters them by collector generation.
package heap

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Psigio/LldbSosExts/internal/sos/channel"
	"github.com/Psigio/LldbSosExts/internal/sos/pattern"
	"github.com/Psigio/LldbSosExts/internal/sos/value"
)

// DefaultModule is the module searched when a type is given by name.
const DefaultModule = "System.Private.CoreLib.dll"

// Actions that expand each object instead of running a command on it.
const (
	ActionDumpKnownObject = "dko"
	ActionExpand          = "expand"
)

var (
	ErrBadGeneration = errors.New("heap: invalid generation")
	ErrTypeNotFound  = errors.New("heap: type not found")
	ErrNoAction      = errors.New("heap: no action given")
)

// Executor runs a debugger command and returns its output lines.
type Executor interface {
	Execute(command string, echo bool) ([]string, error)
}

// Expander decodes the object graph at an address.
type Expander interface {
	Expand(addr string) (value.Value, error)
}

// Logger is the logging surface of the scanner.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

// Result is the outcome of an action on one heap object.
type Result struct {
	Address string

	// Output is the one-line rendering printed for the object.
	Output string

	// Value is set when the action expanded the object.
	Value *value.Value

	// Err is a per-object failure that did not stop the scan.
	Err error
}

// Scanner drives heap scans.
type Scanner struct {
	exec     Executor
	expander Expander
	module   string
	logger   Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithModule sets the module used to resolve type names.
func WithModule(module string) Option {
	return func(s *Scanner) {
		if module != "" {
			s.module = module
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScanner creates a Scanner.
func NewScanner(exec Executor, expander Expander, opts ...Option) *Scanner {
	s := &Scanner{
		exec:     exec,
		expander: expander,
		module:   DefaultModule,
		logger:   nopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveMethodTable returns the method table for a type descriptor. A
// hexadecimal descriptor is taken as a method table already; anything else
// is looked up with name2ee in the configured module.
func (s *Scanner) ResolveMethodTable(descriptor string) (string, error) {
	descriptor = strings.TrimSpace(descriptor)
	if descriptor == "" {
		return "", fmt.Errorf("%w: empty descriptor", ErrTypeNotFound)
	}
	if pattern.IsHexAddress(descriptor) {
		return descriptor, nil
	}

	query := descriptor
	if !strings.Contains(query, "!") {
		query = s.module + "!" + descriptor
	}
	lines, err := s.exec.Execute("name2ee "+query, false)
	if err != nil {
		return "", err
	}
	mt, ok := pattern.MethodTable(lines)
	if !ok || !pattern.IsHexAddress(mt) {
		return "", fmt.Errorf("%w: %s", ErrTypeNotFound, query)
	}
	s.logger.Debug("resolved %s to method table %s", query, mt)
	return mt, nil
}

// Objects returns the address of every heap object of the given type.
func (s *Scanner) Objects(descriptor string) ([]string, error) {
	mt, err := s.ResolveMethodTable(descriptor)
	if err != nil {
		return nil, err
	}
	lines, err := s.exec.Execute("dumpheap -short -mt "+mt, false)
	if err != nil {
		return nil, err
	}
	addrs := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if pattern.IsHexAddress(line) {
			addrs = append(addrs, line)
		}
	}
	return addrs, nil
}

// ScanAndApply runs action on every heap object of the given type and
// prints one line per object: the address right-aligned in 20 columns, a
// space, then the action's output.
//
// The dko and expand actions print the decoded summary. Any other action
// is run as "<action> <address>" and its first output line is printed.
// A decode failure on one object prints unknown for it and the scan goes
// on; a channel failure stops the scan.
func (s *Scanner) ScanAndApply(descriptor, action string, w io.Writer) ([]Result, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return nil, ErrNoAction
	}
	addrs, err := s.Objects(descriptor)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(addrs))
	for _, addr := range addrs {
		r, err := s.apply(addr, action)
		if err != nil {
			return results, err
		}
		results = append(results, r)
		fmt.Fprintf(w, "%20s %s\n", addr, r.Output)
	}
	return results, nil
}

func (s *Scanner) apply(addr, action string) (Result, error) {
	r := Result{Address: addr}

	switch action {
	case ActionDumpKnownObject, ActionExpand:
		v, err := s.expander.Expand(addr)
		if err != nil {
			if isFatal(err) {
				return r, err
			}
			s.logger.Warn("decode %s: %v", addr, err)
			r.Err = err
			if v, err = s.unknownAt(addr); err != nil {
				return r, err
			}
		}
		r.Value = &v
		r.Output = v.String()
	default:
		lines, err := s.exec.Execute(action+" "+addr, false)
		if err != nil {
			return r, err
		}
		if len(lines) > 0 {
			r.Output = strings.TrimRight(lines[0], " \t")
		}
	}
	return r, nil
}

// ScanByGeneration prints the address of every heap object of the given
// type that lives in generation gen, then "Done <n>".
func (s *Scanner) ScanByGeneration(descriptor string, gen Generation, w io.Writer) ([]string, error) {
	addrs, err := s.Objects(descriptor)
	if err != nil {
		return nil, err
	}

	matched := []string{}
	for _, addr := range addrs {
		lines, err := s.exec.Execute("sos GCWhere "+addr, false)
		if err != nil {
			return nil, err
		}
		objAddr, objGen, ok := parseGCWhere(lines)
		if !ok {
			s.logger.Warn("no generation row for %s", addr)
			continue
		}
		if objGen == gen {
			matched = append(matched, objAddr)
		}
	}

	for _, addr := range matched {
		fmt.Fprintln(w, addr)
	}
	fmt.Fprintf(w, "Done %d\n", len(matched))
	return matched, nil
}

// parseGCWhere reads the first content row after the header: address
// first, generation second.
func parseGCWhere(lines []string) (string, Generation, bool) {
	if len(lines) < 2 {
		return "", GenUnknown, false
	}
	for _, line := range lines[1:] {
		cols := pattern.Columns(line)
		if len(cols) == 0 {
			continue
		}
		if len(cols) < 2 {
			return "", GenUnknown, false
		}
		gen, err := ParseGeneration(cols[1])
		if err != nil {
			return "", GenUnknown, false
		}
		return cols[0], gen, true
	}
	return "", GenUnknown, false
}

// unknownAt returns an unknown value for addr carrying the type name from
// its dumpobj header, read without decoding.
func (s *Scanner) unknownAt(addr string) (value.Value, error) {
	lines, err := s.exec.Execute("dumpobj "+addr, false)
	if err != nil {
		return value.Value{}, err
	}
	typeName, _ := pattern.TypeName(lines)
	v := value.Unknown(typeName)
	v.Address = addr
	return v, nil
}

func isFatal(err error) bool {
	return errors.Is(err, channel.ErrChannelUnavailable) || errors.Is(err, channel.ErrClosed)
}
