// Package playback provides the queue controller that drives a single player session.
package playback

// State represents the playback state.
type State int

const (
	StateReady   State = iota // No active session (initial, stopped, or queue finished)
	StatePlaying              // Session bound to the current item and playing
	StatePaused               // Session bound to the current item and paused
	StateLoading              // Waiting for the current item's asset
	StateFailed               // The current item could not be loaded or opened
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateLoading:
		return "loading"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
