// Package mongod knows the log lines mongod prints at lifecycle events.
// These markers are the observable contract the tests assert against: the
// database image is a black box, but mongod announces readiness, shutdown,
// recovery and replica set transitions in its log.
package mongod

import "regexp"

// Marker identifies a mongod lifecycle event by the log line announcing it.
// Matching is case insensitive because the wording and casing of these lines
// drifts between server versions.
type Marker struct {
	Name string
	re   *regexp.Regexp
}

var (
	// ReadyForConnections appears once mongod accepts client connections.
	ReadyForConnections = newMarker("ready for connections", `waiting for connections`)

	// CleanShutdown appears when mongod exits in an orderly fashion, both
	// at the end of an initialize run and on a graceful restart.
	CleanShutdown = newMarker("clean shutdown", `shutting down with code:?\s*0`)

	// CrashRecovery appears on the boot following an unclean shutdown.
	CrashRecovery = newMarker("crash recovery", `detected unclean shutdown|recovering data from the last clean checkpoint`)

	// TransitionToPrimary appears when a replica set member wins an election.
	TransitionToPrimary = newMarker("transition to primary", `transition to primary`)

	// TransitionToSecondary appears when a member starts replicating.
	TransitionToSecondary = newMarker("transition to secondary", `transition to secondary`)

	// SteppingDown appears when a primary yields, voluntarily or not. A
	// healthy member addition must never produce it on the primary.
	SteppingDown = newMarker("stepping down", `stepping down`)
)

func newMarker(name, pattern string) Marker {
	return Marker{Name: name, re: regexp.MustCompile(`(?i)` + pattern)}
}

// In reports whether the marker appears in the given log text.
func (m Marker) In(logs string) bool {
	return m.re.MatchString(logs)
}

// Count returns the number of times the marker appears in the given log text.
func (m Marker) Count(logs string) int {
	return len(m.re.FindAllString(logs, -1))
}

func (m Marker) String() string {
	return m.Name
}
