package decode

import (
	"strconv"
	"strings"
	"time"

	"github.com/Psigio/LldbSosExts/internal/sos/value"
)

// Tick arithmetic of the managed runtime. A tick is 100ns.
const (
	TicksPerMillisecond = value.TicksPerMillisecond
	TicksPerSecond      = 10_000_000

	// UnixEpochTicks is the number of ticks between 0001-01-01 and 1970-01-01.
	UnixEpochTicks = 621355968000000000

	// MaxRenderableSeconds is the first Unix second reported as the max
	// sentinel instead of a calendar date.
	MaxRenderableSeconds = 253402300000

	// FileTimeEpochSeconds is the number of seconds between 1601-01-01 and
	// 1970-01-01.
	FileTimeEpochSeconds = 11644473600

	// dateDataTicksMask keeps the tick bits of DateTime._dateData, dropping
	// the two DateTimeKind flag bits.
	dateDataTicksMask = 0x3FFFFFFFFFFFFFFF
)

// ParseHex parses a raw field value as an unsigned hexadecimal number.
func ParseHex(raw string) (uint64, bool) {
	raw = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(raw, 16, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// TicksToTime converts a DateTime._dateData value to an instant.
//
// The flag bits are masked off and the Unix epoch offset subtracted. A
// result at or before the epoch reports SentinelMin; a result whose Unix
// seconds reach MaxRenderableSeconds reports SentinelMax.
func TicksToTime(dateData uint64) (time.Time, value.Sentinel) {
	ticks := int64(dateData & dateDataTicksMask)
	sinceEpoch := ticks - UnixEpochTicks
	if sinceEpoch <= 0 {
		return time.Time{}, value.SentinelMin
	}
	sec := sinceEpoch / TicksPerSecond
	if sec >= MaxRenderableSeconds {
		return time.Time{}, value.SentinelMax
	}
	nsec := (sinceEpoch % TicksPerSecond) * 100
	return time.Unix(sec, nsec), value.SentinelNone
}

// FileTimeToTime converts a Windows file time (ticks since 1601-01-01) to
// an instant. It is a separate epoch from TicksToTime and applies no
// sentinel bounds.
func FileTimeToTime(fileTime uint64) time.Time {
	sec := int64(fileTime/TicksPerSecond) - FileTimeEpochSeconds
	nsec := int64(fileTime%TicksPerSecond) * 100
	return time.Unix(sec, nsec)
}

// TicksToMilliseconds converts a tick count to whole milliseconds,
// truncating toward zero.
func TicksToMilliseconds(ticks int64) int64 {
	return ticks / TicksPerMillisecond
}
