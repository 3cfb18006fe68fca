// Package assoc reads the key/value slots of a dictionary's backing entry
// array from a `dumparray -details` listing.
//
// Each populated slot prints a "key" row and a "value" row whose address
// column is non-zero. Empty slots print zero addresses and are ignored.
package assoc

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	keyRow   = regexp.MustCompile(`(?i)^.*\s+([a-f0-9]*[a-f1-9][a-f0-9]*)\s+key$`)
	valueRow = regexp.MustCompile(`(?i)^.*\s+([a-f0-9]*[a-f1-9][a-f0-9]*)\s+value$`)
)

// ErrMalformedListing is returned when a value row appears with no key row
// pending before it.
var ErrMalformedListing = errors.New("assoc: malformed listing")

// ListingError reports where in a listing reading failed.
type ListingError struct {
	Line int // 1-based
	Text string
	Err  error
}

func (e *ListingError) Error() string {
	return fmt.Sprintf("line %d: %v: %q", e.Line, e.Err, e.Text)
}

func (e *ListingError) Unwrap() error {
	return e.Err
}

// Pair is one populated slot: the key and value object addresses.
type Pair struct {
	Key   string
	Value string
}

// KeyValueMap is the ordered set of slots read from a listing.
type KeyValueMap struct {
	pairs []Pair
}

// Len returns the number of slots.
func (m KeyValueMap) Len() int {
	return len(m.pairs)
}

// Pairs returns the slots in listing order.
func (m KeyValueMap) Pairs() []Pair {
	out := make([]Pair, len(m.pairs))
	copy(out, m.pairs)
	return out
}

// Keys returns the key addresses in listing order.
func (m KeyValueMap) Keys() []string {
	keys := make([]string, len(m.pairs))
	for i, p := range m.pairs {
		keys[i] = p.Key
	}
	return keys
}

// Get returns the value address stored under key. Lookup ignores case.
func (m KeyValueMap) Get(key string) (string, bool) {
	for _, p := range m.pairs {
		if strings.EqualFold(p.Key, key) {
			return p.Value, true
		}
	}
	return "", false
}

// ReadMap pairs each value row with the key row most recently seen before
// it.
//
// A key row with no value row before the next key row is a slot whose value
// is null; the later key replaces it. A value row with no pending key is
// reported as ErrMalformedListing wrapped in a *ListingError.
func ReadMap(lines []string) (KeyValueMap, error) {
	var (
		m       KeyValueMap
		pending string
	)
	for i, line := range lines {
		line = strings.TrimRight(line, "\r\n")
		if km := keyRow.FindStringSubmatch(line); km != nil {
			pending = km[1]
			continue
		}
		vm := valueRow.FindStringSubmatch(line)
		if vm == nil {
			continue
		}
		if pending == "" {
			return KeyValueMap{}, &ListingError{Line: i + 1, Text: line, Err: ErrMalformedListing}
		}
		m.pairs = append(m.pairs, Pair{Key: pending, Value: vm[1]})
		pending = ""
	}
	return m, nil
}
