// Package pattern extracts labeled values from SOS text output.
//
// SOS reports are line oriented: a dumpobj field table ends every row with
// the field name and carries the value in the column before it, a dso
// listing has address/object/description columns, and a handful of header
// lines are "Label: value" pairs. The functions here match those shapes and
// return raw text; turning that text into typed values is left to the
// decode package.
package pattern

import (
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/cases"
)

var (
	// stackRow matches "<sp> <object> <description>" rows of a dso listing.
	stackRow = regexp.MustCompile(`(?i)^([a-f0-9]+)\s([a-f0-9]+)\s(.*)$`)

	typeNameLine    = regexp.MustCompile(`(?i)^Name:\s+(\S.*)$`)
	stringBodyLine  = regexp.MustCompile(`(?i)^String:\s+(\S.*)$`)
	methodTableLine = regexp.MustCompile(`(?i)^MethodTable:\s+(\S+)`)

	whitespaceRun = regexp.MustCompile(`\s+`)

	fold = cases.Fold()
)

// fieldPatterns caches compiled field patterns by field name. Only the
// compiled expression is cached, never a matched value.
var fieldPatterns sync.Map

func fieldPattern(field string) *regexp.Regexp {
	if re, ok := fieldPatterns.Load(field); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`(?i)^.*\s([a-f0-9]+)\s` + regexp.QuoteMeta(field) + `$`)
	actual, _ := fieldPatterns.LoadOrStore(field, re)
	return actual.(*regexp.Regexp)
}

// ExtractField returns the hexadecimal value that immediately precedes the
// field name on the first line ending with field. The match is
// case-insensitive. The second result is false when no line matches.
func ExtractField(lines []string, field string) (string, bool) {
	if field == "" {
		return "", false
	}
	re := fieldPattern(field)
	for _, line := range lines {
		if m := re.FindStringSubmatch(trimEOL(line)); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// StackFrame is one parsed row of a dso listing.
type StackFrame struct {
	SP          string
	Object      string
	Description string
}

// ParseStackFrame parses a dso row.
func ParseStackFrame(line string) (StackFrame, bool) {
	m := stackRow.FindStringSubmatch(trimEOL(line))
	if m == nil {
		return StackFrame{}, false
	}
	return StackFrame{SP: m[1], Object: m[2], Description: m[3]}, true
}

// LastStackFrame returns the object address of a stack listing row.
//
// With an empty label it returns the object column of the last line. With a
// label it scans from the bottom up and returns the first row whose
// description equals label under case folding, i.e. the closest enclosing
// stack object of that type. Rows that do not parse as stack rows are
// skipped.
func LastStackFrame(lines []string, label string) (string, bool) {
	if len(lines) == 0 {
		return "", false
	}
	if label == "" {
		frame, ok := ParseStackFrame(lines[len(lines)-1])
		if !ok {
			return "", false
		}
		return frame.Object, true
	}

	want := fold.String(label)
	for i := len(lines) - 1; i >= 0; i-- {
		frame, ok := ParseStackFrame(lines[i])
		if !ok {
			continue
		}
		if fold.String(strings.TrimSpace(frame.Description)) == want {
			return frame.Object, true
		}
	}
	return "", false
}

// TypeName returns the type declared on the first line of a dumpobj report.
func TypeName(lines []string) (string, bool) {
	if len(lines) == 0 {
		return "", false
	}
	m := typeNameLine.FindStringSubmatch(trimEOL(lines[0]))
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// StringBody returns the literal body of a System.String dump.
func StringBody(lines []string) (string, bool) {
	for _, line := range lines {
		if m := stringBodyLine.FindStringSubmatch(trimEOL(line)); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// MethodTable returns the address on the MethodTable: line of a dumpobj or
// name2ee report.
func MethodTable(lines []string) (string, bool) {
	for _, line := range lines {
		line = strings.TrimSpace(trimEOL(line))
		if m := methodTableLine.FindStringSubmatch(line); m != nil {
			// name2ee may print several columns; the address is the last token.
			return line[strings.LastIndex(line, " ")+1:], true
		}
	}
	return "", false
}

// Columns splits a line on runs of whitespace, dropping empty fields.
func Columns(line string) []string {
	line = strings.TrimSpace(trimEOL(line))
	if line == "" {
		return nil
	}
	return whitespaceRun.Split(line, -1)
}

// IsHexAddress reports whether s is a bare hexadecimal address, optionally
// prefixed with 0x.
func IsHexAddress(s string) bool {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

func trimEOL(line string) string {
	return strings.TrimRight(line, "\r\n")
}
