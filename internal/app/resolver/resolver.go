// Package resolver turns user queries into tracks through a chain of
// metadata sources.
package resolver

import (
	"context"
	"net/url"
	"strings"

	"github.com/osa030/guildplay/internal/domain/playlist"
	"github.com/osa030/guildplay/internal/domain/track"
)

// Resolver is one metadata source (yt-dlp, YouTube, Spotify, ...).
type Resolver interface {
	// Name returns the resolver name (used in config and track metadata).
	Name() string

	// Supports reports whether the resolver can handle query.
	Supports(query string) bool

	// Resolve returns up to limit tracks for query.
	Resolve(ctx context.Context, query string, limit int) (*playlist.Playlist, error)
}

// Refresher re-resolves a track into a fresh stream locator.
// Stream URLs from most sources expire, so this runs right before playback.
type Refresher interface {
	Refresh(ctx context.Context, t track.Track) (string, error)
}

// IsURL reports whether query looks like an http(s) link.
func IsURL(query string) bool {
	u, err := url.Parse(strings.TrimSpace(query))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Host returns the lowercased host of a URL query without a "www." prefix.
func Host(query string) string {
	u, err := url.Parse(strings.TrimSpace(query))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// RefreshTarget returns what a refresher should look up for t:
// the page URL when known, otherwise the search query.
func RefreshTarget(t track.Track) string {
	if u := t.Meta(track.MetaPageURL); u != "" {
		return u
	}
	return t.Meta(track.MetaSearch)
}
