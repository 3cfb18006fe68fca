package heap

import (
	"fmt"
	"strings"
)

// Generation is a garbage collector generation as reported by GCWhere.
type Generation int

const (
	GenUnknown Generation = iota - 1
	Gen0
	Gen1
	Gen2
	// GenLarge is the large object heap, reported as generation 3.
	GenLarge
	// GenPinned is the pinned object heap, reported as generation 4.
	GenPinned
)

func (g Generation) String() string {
	switch g {
	case Gen0:
		return "0"
	case Gen1:
		return "1"
	case Gen2:
		return "2"
	case GenLarge:
		return "loh"
	case GenPinned:
		return "poh"
	default:
		return "unknown"
	}
}

// ParseGeneration parses a generation filter or a GCWhere generation
// column: a number 0-4, or one of "loh", "large", "poh", "pinned".
func ParseGeneration(s string) (Generation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "gen0":
		return Gen0, nil
	case "1", "gen1":
		return Gen1, nil
	case "2", "gen2":
		return Gen2, nil
	case "3", "loh", "large":
		return GenLarge, nil
	case "4", "poh", "pinned":
		return GenPinned, nil
	}
	return GenUnknown, fmt.Errorf("%w: %q", ErrBadGeneration, s)
}
