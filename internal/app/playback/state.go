// Package playback provides the per-guild queue, session state machine,
// resolution gate and consumer loop.
package playback

// State represents the playback state of a guild.
type State int

const (
	StateIdle      State = iota // Nothing playing, nothing being prepared
	StateResolving              // A request or the next queue item is being prepared
	StatePlaying                // Track is streaming
	StatePaused                 // Track is paused
	StateDraining               // Track finished, next item not yet dequeued
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Active reports whether a track is loaded (playing or paused).
func (s State) Active() bool {
	return s == StatePlaying || s == StatePaused
}
