package nd

// State is the reachability state of a neighbour cache entry.
type State int

const (
	// Incomplete entries are being resolved; no link address yet.
	Incomplete State = iota
	// Reachable entries were recently confirmed.
	Reachable
	// Stale entries have a link address that is not confirmed.
	Stale
	// Delay entries were used while stale and wait for upper-layer
	// confirmation before probing.
	Delay
	// Probe entries are being confirmed with unicast solicitations.
	Probe
)

// String returns string representation of this state.
func (m State) String() string {
	switch m {
	case Incomplete:
		return "INCOMPLETE"
	case Reachable:
		return "REACHABLE"
	case Stale:
		return "STALE"
	case Delay:
		return "DELAY"
	case Probe:
		return "PROBE"
	default:
		return "UNKNOWN"
	}
}
