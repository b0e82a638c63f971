// Package spotify resolves Spotify links into searchable tracks.
package spotify

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/osa030/guildplay/internal/domain/playlist"
	"github.com/osa030/guildplay/internal/domain/track"
)

// Name is the resolver name used in config and track metadata.
const Name = "spotify"

// Spotify has no public audio streams, so its tracks are played through
// a search on this resolver.
const refresherName = "ytdlp"

// api is the subset of the Spotify Web API the client uses.
type api interface {
	GetTrack(ctx context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.FullTrack, error)
	GetPlaylist(ctx context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.FullPlaylist, error)
	GetPlaylistItems(ctx context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.PlaylistItemPage, error)
	GetAlbum(ctx context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.FullAlbum, error)
}

// Client is a Spotify API client.
type Client struct {
	client     api
	market     string
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	Market       string
}

// New creates a new Spotify client authenticated with client credentials.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("spotify credentials are required")
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}

	return newClient(spotify.New(creds.Client(ctx)), cfg.Market), nil
}

func newClient(c api, market string) *Client {
	if market == "" {
		market = "US"
	}
	return &Client{
		client:     c,
		market:     market,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

func (c *Client) Name() string {
	return Name
}

// Supports reports whether query is a Spotify track, album or playlist link.
func (c *Client) Supports(query string) bool {
	kind, _ := parseLink(query)
	return kind != ""
}

// Resolve returns the tracks behind a Spotify link, up to limit.
func (c *Client) Resolve(ctx context.Context, query string, limit int) (*playlist.Playlist, error) {
	kind, id := parseLink(query)
	switch kind {
	case "track":
		t, err := c.getTrack(ctx, id)
		if err != nil {
			return nil, err
		}
		return playlist.Single(t), nil
	case "playlist":
		return c.getPlaylist(ctx, id, limit)
	case "album":
		return c.getAlbum(ctx, id, limit)
	default:
		return nil, errors.Newf("not a spotify link: %q", query)
	}
}

func (c *Client) getTrack(ctx context.Context, id string) (track.Track, error) {
	var result *spotify.FullTrack
	err := c.retry(ctx, func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return track.Track{}, errors.Wrap(err, "failed to get track")
	}
	return convertTrack(result.SimpleTrack), nil
}

func (c *Client) getPlaylist(ctx context.Context, id string, limit int) (*playlist.Playlist, error) {
	pl := &playlist.Playlist{URL: "https://open.spotify.com/playlist/" + id}

	err := c.retry(ctx, func() error {
		p, err := c.client.GetPlaylist(ctx, spotify.ID(id), spotify.Fields("name"))
		if err != nil {
			return err
		}
		pl.Title = p.Name
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get playlist")
	}

	const pageSize = 100
	offset := 0
	for limit <= 0 || len(pl.Tracks) < limit {
		var page *spotify.PlaylistItemPage
		err := c.retry(ctx, func() error {
			p, err := c.client.GetPlaylistItems(ctx, spotify.ID(id),
				spotify.Limit(pageSize),
				spotify.Offset(offset),
				spotify.Market(c.market),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to get playlist items")
		}

		for _, item := range page.Items {
			// Episodes have no Track
			if item.Track.Track == nil || item.Track.Track.ID == "" {
				continue
			}
			pl.Tracks = append(pl.Tracks, convertTrack(item.Track.Track.SimpleTrack))
		}

		if len(page.Items) < pageSize {
			break
		}
		offset += pageSize
	}

	return pl.Limit(limit), nil
}

func (c *Client) getAlbum(ctx context.Context, id string, limit int) (*playlist.Playlist, error) {
	var album *spotify.FullAlbum
	err := c.retry(ctx, func() error {
		a, err := c.client.GetAlbum(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		album = a
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get album")
	}

	pl := &playlist.Playlist{Title: album.Name, URL: "https://open.spotify.com/album/" + id}
	for _, t := range album.Tracks.Tracks {
		pl.Tracks = append(pl.Tracks, convertTrack(t))
	}
	return pl.Limit(limit), nil
}

// convertTrack converts a Spotify track to a search-backed domain Track.
func convertTrack(t spotify.SimpleTrack) track.Track {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}
	by := strings.Join(artists, ", ")

	title := t.Name
	if by != "" {
		title = by + " - " + t.Name
	}

	return track.New(string(t.ID), title, "", time.Duration(t.Duration)*time.Millisecond, map[string]string{
		track.MetaSource:    Name,
		track.MetaRefresher: refresherName,
		track.MetaSearch:    strings.TrimSpace(by + " " + t.Name),
		track.MetaUploader:  by,
	})
}

// retry retries an operation with linear backoff.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			zlog.Debug().Msgf("spotify request failed, retrying: attempt=%d error=%v", i+1, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(i+1)):
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// parseLink returns the kind ("track", "album", "playlist") and ID of a
// Spotify URL or URI, or empty strings.
func parseLink(input string) (kind, id string) {
	input = strings.TrimSpace(input)

	// spotify:playlist:ID
	if strings.HasPrefix(input, "spotify:") {
		parts := strings.Split(input, ":")
		if len(parts) == 3 && isKind(parts[1]) && parts[2] != "" {
			return parts[1], parts[2]
		}
		return "", ""
	}

	// https://open.spotify.com/playlist/ID or https://open.spotify.com/intl-XX/playlist/ID
	if !strings.Contains(input, "open.spotify.com/") {
		return "", ""
	}
	path := strings.SplitN(input, "open.spotify.com/", 2)[1]
	path = strings.Split(path, "?")[0]
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i+1 < len(segments); i++ {
		if isKind(segments[i]) && segments[i+1] != "" {
			return segments[i], segments[i+1]
		}
	}
	return "", ""
}

func isKind(s string) bool {
	return s == "track" || s == "album" || s == "playlist"
}
