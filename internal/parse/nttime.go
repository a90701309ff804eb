package parse

import "time"

// ntEpochUnix is the Windows NT / LDAP filetime epoch (1601-01-01 UTC) in
// Unix seconds.
const ntEpochUnix = -11644473600

const ticksPerSecond = 10_000_000

// fromNTTicks converts a count of 100ns intervals since 1601-01-01 UTC into
// an absolute instant. The span since 1601 overflows int64 nanoseconds, so
// the arithmetic stays in seconds and only the sub-second remainder touches
// nanoseconds.
func fromNTTicks(ticks int64) time.Time {
	secs := ticks/ticksPerSecond + ntEpochUnix
	rem := ticks % ticksPerSecond
	return time.Unix(secs, rem*100).UTC()
}

// NTTicks converts an instant back into NT filetime ticks. Mostly useful for
// building feed fixtures in tests.
func NTTicks(t time.Time) int64 {
	return (t.Unix()-ntEpochUnix)*ticksPerSecond + int64(t.Nanosecond())/100
}
