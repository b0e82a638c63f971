// Package youtube resolves YouTube links without spawning yt-dlp.
package youtube

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	youtube "github.com/kkdai/youtube/v2"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/proxy"

	"github.com/osa030/guildplay/internal/domain/playlist"
	"github.com/osa030/guildplay/internal/domain/track"
)

// Name is the resolver name used in config and track metadata.
const Name = "youtube"

// Config represents YouTube client configuration.
type Config struct {
	Proxy   string
	Timeout time.Duration
}

// Client resolves YouTube videos and playlists.
type Client struct {
	yt *youtube.Client
}

// New creates a new YouTube client. An http, https or socks5 proxy URL
// routes all requests through the proxy.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}

	if cfg.Proxy != "" {
		transport, err := proxyTransport(cfg.Proxy)
		if err != nil {
			return nil, err
		}
		httpClient.Transport = transport
		zlog.Info().Msg("youtube client using proxy")
	}

	return &Client{yt: &youtube.Client{HTTPClient: httpClient}}, nil
}

func (c *Client) Name() string {
	return Name
}

// Supports reports whether query is a YouTube link.
func (c *Client) Supports(query string) bool {
	switch host(query) {
	case "youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be":
		return true
	}
	return false
}

// Resolve returns the video behind a watch link, or up to limit entries of
// a playlist link.
func (c *Client) Resolve(ctx context.Context, query string, limit int) (*playlist.Playlist, error) {
	query = normalizeURL(query)

	if isPlaylistURL(query) {
		return c.resolvePlaylist(ctx, query, limit)
	}

	video, err := c.yt.GetVideoContext(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get video %q", query)
	}
	return playlist.Single(c.convertVideo(video)), nil
}

func (c *Client) resolvePlaylist(ctx context.Context, query string, limit int) (*playlist.Playlist, error) {
	pl, err := c.yt.GetPlaylistContext(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get playlist %q", query)
	}

	out := &playlist.Playlist{Title: pl.Title, URL: query}
	for _, v := range pl.Videos {
		if limit > 0 && len(out.Tracks) >= limit {
			break
		}
		out.Tracks = append(out.Tracks, track.New(v.ID, v.Title, "", v.Duration, map[string]string{
			track.MetaSource:   Name,
			track.MetaPageURL:  watchURL(v.ID),
			track.MetaUploader: v.Author,
		}))
	}
	return out, nil
}

// Refresh looks up a fresh audio stream URL for t.
func (c *Client) Refresh(ctx context.Context, t track.Track) (string, error) {
	page := t.Meta(track.MetaPageURL)
	if page == "" {
		return "", errors.Newf("no page url for %q", t.Title)
	}

	video, err := c.yt.GetVideoContext(ctx, normalizeURL(page))
	if err != nil {
		return "", errors.Wrapf(err, "failed to get video %q", page)
	}

	formats := video.Formats.Type("audio")
	if len(formats) == 0 {
		formats = video.Formats.WithAudioChannels()
	}
	if len(formats) == 0 {
		return "", errors.Newf("no audio formats for %q", t.Title)
	}

	link, err := c.yt.GetStreamURLContext(ctx, video, &formats[0])
	if err != nil {
		return "", errors.Wrapf(err, "failed to get stream url for %q", t.Title)
	}
	return link, nil
}

func (c *Client) convertVideo(v *youtube.Video) track.Track {
	return track.New(v.ID, v.Title, "", v.Duration, map[string]string{
		track.MetaSource:   Name,
		track.MetaPageURL:  watchURL(v.ID),
		track.MetaUploader: v.Author,
	})
}

func watchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// normalizeURL rewrites music.youtube.com links, which the client cannot read.
func normalizeURL(s string) string {
	return strings.Replace(strings.TrimSpace(s), "music.youtube.com", "www.youtube.com", 1)
}

// isPlaylistURL reports whether s names a playlist rather than one video.
// Watch links that carry a list parameter play the single video.
func isPlaylistURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return strings.HasSuffix(u.Path, "/playlist") && u.Query().Get("list") != ""
}

func host(s string) string {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func proxyTransport(raw string) (*http.Transport, error) {
	proxyURL, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid proxy url")
	}

	switch proxyURL.Scheme {
	case "http", "https":
		return &http.Transport{Proxy: http.ProxyURL(proxyURL)}, nil

	case "socks5":
		dialer, err := proxy.FromURL(proxyURL, &net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 10 * time.Second,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create socks5 dialer")
		}
		return &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				if cd, ok := dialer.(proxy.ContextDialer); ok {
					return cd.DialContext(ctx, network, addr)
				}
				return dialer.Dial(network, addr)
			},
		}, nil

	default:
		return nil, errors.Newf("unsupported proxy scheme: %s", proxyURL.Scheme)
	}
}
