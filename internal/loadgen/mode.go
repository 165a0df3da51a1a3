// Package loadgen runs the benchmark loops: inserts in write mode, sampled
// point lookups in read mode, and an idle status mode otherwise.
package loadgen

import "strings"

// Mode selects which loop the driver runs.
type Mode int

const (
	// ModeUnknown logs the current record count and idles.
	ModeUnknown Mode = iota
	// ModeWrite inserts generated records forever.
	ModeWrite
	// ModeRead bootstraps a sample and then looks records up forever.
	ModeRead
)

func (m Mode) String() string {
	switch m {
	case ModeWrite:
		return "write"
	case ModeRead:
		return "read"
	default:
		return "unknown"
	}
}

// ParseMode maps a configured mode name to a Mode. Anything other than
// "write" or "read" is ModeUnknown.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "write":
		return ModeWrite
	case "read":
		return ModeRead
	default:
		return ModeUnknown
	}
}
