// Package decode turns a dumpobj report into a typed value.
//
// Decoders are registered against a managed type name, either exactly or
// by prefix for generic instantiations. A type with no decoder yields an
// unknown value carrying the raw type name; decoding a scalar never fails.
package decode

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Psigio/LldbSosExts/internal/sos/value"
)

// Decoder produces a value from the dumpobj lines of an object of the
// named type. Only decoders that query further objects return errors.
type Decoder func(ctx *Context, typeName string, lines []string) (value.Value, error)

// Source resolves objects referenced from the one being decoded.
type Source interface {
	// Expand decodes the object at addr, recursing as needed.
	Expand(addr string) (value.Value, error)

	// Execute runs a debugger command and returns its output lines.
	Execute(command string) ([]string, error)
}

// Logger is the logging surface decoders use.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Context carries what a decoder needs beyond the object's own lines.
type Context struct {
	// Source resolves nested objects. Nil disables container decoding.
	Source Source

	// Location is the zone timestamps are rendered in. Nil means UTC.
	Location *time.Location

	// Address is the object being decoded.
	Address string

	Logger Logger
}

func (c *Context) location() *time.Location {
	if c == nil || c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func (c *Context) warn(msg string, args ...any) {
	if c != nil && c.Logger != nil {
		c.Logger.Warn(msg, args...)
	}
}

type prefixDecoder struct {
	prefix  string
	decoder Decoder
}

// Registry maps type names to decoders.
type Registry struct {
	mu       sync.RWMutex
	exact    map[string]Decoder
	prefixes []prefixDecoder // longest prefix first
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		exact: make(map[string]Decoder),
	}
}

// DefaultRegistry creates a registry holding the built-in decoders.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	RegisterBuiltins(r)
	return r
}

// Register adds a decoder for an exact type name, replacing any existing one.
func (r *Registry) Register(typeName string, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exact[typeName] = d
}

// RegisterPrefix adds a decoder for every type name starting with prefix.
func (r *Registry) RegisterPrefix(prefix string, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, p := range r.prefixes {
		if p.prefix == prefix {
			r.prefixes[i].decoder = d
			return
		}
	}
	r.prefixes = append(r.prefixes, prefixDecoder{prefix: prefix, decoder: d})
	sort.SliceStable(r.prefixes, func(i, j int) bool {
		return len(r.prefixes[i].prefix) > len(r.prefixes[j].prefix)
	})
}

// Lookup returns the decoder for a type name. Exact registrations win over
// prefixes, and longer prefixes over shorter ones.
func (r *Registry) Lookup(typeName string) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.exact[typeName]; ok {
		return d, true
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(typeName, p.prefix) {
			return p.decoder, true
		}
	}
	return nil, false
}

// Names returns the registered exact names and prefixes, sorted. Prefixes
// are suffixed with "*".
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.exact)+len(r.prefixes))
	for name := range r.exact {
		names = append(names, name)
	}
	for _, p := range r.prefixes {
		names = append(names, p.prefix+"*")
	}
	sort.Strings(names)
	return names
}

// Decode dispatches on typeName. An unregistered name yields an unknown
// value; the returned value always carries ctx.Address.
func (r *Registry) Decode(ctx *Context, typeName string, lines []string) (value.Value, error) {
	d, ok := r.Lookup(typeName)
	if !ok {
		v := value.Unknown(typeName)
		if ctx != nil {
			v.Address = ctx.Address
		}
		return v, nil
	}
	v, err := d(ctx, typeName, lines)
	if ctx != nil && v.Address == "" {
		v.Address = ctx.Address
	}
	return v, err
}
