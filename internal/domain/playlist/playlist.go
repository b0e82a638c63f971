// Package playlist provides the resolution result entity.
package playlist

import (
	"time"

	"github.com/osa030/guildplay/internal/domain/track"
)

// Playlist is what a resolver returns for a query: one or more tracks,
// optionally named when the source was a playlist.
type Playlist struct {
	Title  string        // Playlist title, empty for single results
	URL    string        // Source URL if the query was a link
	Tracks []track.Track // Resolved tracks in source order
}

// Single wraps one track as a resolution result.
func Single(t track.Track) *Playlist {
	return &Playlist{Tracks: []track.Track{t}}
}

// IsPlaylist reports whether the result holds more than one track.
func (p *Playlist) IsPlaylist() bool {
	return len(p.Tracks) > 1
}

// TotalDuration returns the sum of all known track durations.
// Live tracks count as zero.
func (p *Playlist) TotalDuration() time.Duration {
	var total time.Duration
	for _, t := range p.Tracks {
		if !t.IsLive() {
			total += t.Duration
		}
	}
	return total
}

// Limit returns a copy truncated to at most n tracks.
func (p *Playlist) Limit(n int) *Playlist {
	if n < 0 || len(p.Tracks) <= n {
		return p
	}
	out := *p
	out.Tracks = append([]track.Track(nil), p.Tracks[:n]...)
	return &out
}
