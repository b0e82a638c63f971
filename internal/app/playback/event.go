package playback

import "github.com/osa030/guildplay/internal/domain/track"

// EventType represents a playback event type.
type EventType int

const (
	EventTrackStarted EventType = iota // Track started playing
	EventTrackEnded                    // Track finished or was stopped
	EventTrackSkipped                  // Track was skipped by command or vote
	EventTrackFailed                   // Track could not be prepared or played
	EventStateChanged                  // Playback state changed (pause/resume/reset)
	EventQueueEmpty                    // Queue drained and session went idle
	EventInconsistent                  // Consumer hit an unrecoverable state
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackEnded:
		return "track_ended"
	case EventTrackSkipped:
		return "track_skipped"
	case EventTrackFailed:
		return "track_failed"
	case EventStateChanged:
		return "state_changed"
	case EventQueueEmpty:
		return "queue_empty"
	case EventInconsistent:
		return "inconsistent"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	GuildID string
	Type    EventType
	Track   *track.QueuedTrack // Track concerned (nil for some events)
	State   State              // Session state after the event
	Err     error              // Set for EventTrackFailed and EventInconsistent
}
