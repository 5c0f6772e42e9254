package constants

import "strings"

// TrackingStatus is the canonical status for rows in generation_tracking.
type TrackingStatus string

// Stable values (store these exact strings in DB).
const (
	StatusPending    TrackingStatus = "pending"    // known, never attempted
	StatusProcessing TrackingStatus = "processing" // attempt in flight
	StatusCompleted  TrackingStatus = "completed"  // terminal success
	StatusFailed     TrackingStatus = "failed"     // last attempt failed, resumable via retry mode
)

// StuckMarker is appended to the error log of entries swept at startup.
const StuckMarker = "found in processing state at startup"

// DefaultMaxRetries caps retry-mode selection.
const DefaultMaxRetries = 3

var allStatuses = []TrackingStatus{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

// processing -> failed also covers the startup sweep.
var allowedTransitions = map[TrackingStatus]map[TrackingStatus]struct{}{
	StatusPending: {
		StatusProcessing: {},
	},
	StatusProcessing: {
		StatusCompleted: {},
		StatusFailed:    {},
	},
	StatusFailed: {
		StatusProcessing: {},
	},
	StatusCompleted: {},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to TrackingStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// IsTerminal reports whether no transition leaves s.
func (s TrackingStatus) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0 && s.Valid()
}

// Valid reports whether s is one of the known statuses.
func (s TrackingStatus) Valid() bool {
	for _, st := range allStatuses {
		if s == st {
			return true
		}
	}
	return false
}

func (s TrackingStatus) String() string {
	return string(s)
}

// Statuses returns every status in lifecycle order.
func Statuses() []TrackingStatus {
	out := make([]TrackingStatus, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus accepts any casing and surrounding whitespace.
func ParseStatus(input string) (TrackingStatus, bool) {
	s := TrackingStatus(strings.ToLower(strings.TrimSpace(input)))
	if !s.Valid() {
		return "", false
	}
	return s, true
}
