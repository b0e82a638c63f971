// Package track provides the Track domain entity.
package track

import (
	"maps"
	"time"
)

// Metadata keys understood by the resolver chain.
const (
	MetaSource    = "source"    // resolver that produced the track
	MetaPageURL   = "page_url"  // canonical page URL used for stream refresh
	MetaSearch    = "search"    // search query used when no page URL exists
	MetaRefresher = "refresher" // resolver name that refreshes the stream locator
	MetaUploader  = "uploader"  // channel or artist name
)

// Track is an immutable description of something playable.
// A zero Duration means the length is unknown or the track is a live stream.
type Track struct {
	ID            string
	Title         string
	StreamLocator string
	Duration      time.Duration
	metadata      map[string]string
}

// New creates a Track, copying metadata so the caller keeps no handle on it.
func New(id, title, locator string, duration time.Duration, metadata map[string]string) Track {
	return Track{
		ID:            id,
		Title:         title,
		StreamLocator: locator,
		Duration:      duration,
		metadata:      maps.Clone(metadata),
	}
}

// Meta returns the metadata value for key, or "" if absent.
func (t Track) Meta(key string) string {
	return t.metadata[key]
}

// Metadata returns a copy of all metadata.
func (t Track) Metadata() map[string]string {
	return maps.Clone(t.metadata)
}

// IsLive reports whether the track has no known length.
func (t Track) IsLive() bool {
	return t.Duration <= 0
}

// WithStreamLocator returns a copy of the track pointing at a fresh locator.
func (t Track) WithStreamLocator(locator string) Track {
	return New(t.ID, t.Title, locator, t.Duration, t.metadata)
}

// Requester represents the user who asked for the track.
type Requester struct {
	ID   string // chat user ID
	Name string // display name at request time
}

// QueuedTrack represents a track in the playback queue.
type QueuedTrack struct {
	Track     Track
	Requester Requester
	AddedAt   time.Time
}
