// Package ytdlp resolves queries and refreshes stream URLs with yt-dlp.
package ytdlp

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lrstanley/go-ytdlp"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildplay/internal/domain/playlist"
	"github.com/osa030/guildplay/internal/domain/track"
)

// Name is the resolver name used in config and track metadata.
const Name = "ytdlp"

// entryTemplate is the --print template parsed by parseEntries.
const entryTemplate = "%(webpage_url,url)s\t%(title)s\t%(uploader,channel)s\t%(duration)s\t%(id)s\t%(playlist_title)s"

// Config represents yt-dlp client configuration.
type Config struct {
	Binary       string
	Format       string
	SearchPrefix string
}

// Client runs yt-dlp for metadata and stream lookups.
type Client struct {
	config Config
}

// New creates a new yt-dlp client.
func New(cfg Config) *Client {
	if cfg.Format == "" {
		cfg.Format = "bestaudio/best"
	}
	if cfg.SearchPrefix == "" {
		cfg.SearchPrefix = "ytsearch1:"
	}
	return &Client{config: cfg}
}

func (c *Client) Name() string {
	return Name
}

// Supports reports true for every query: yt-dlp understands most sites and
// falls back to search for plain text.
func (c *Client) Supports(query string) bool {
	return strings.TrimSpace(query) != ""
}

// Resolve returns the tracks behind a URL (up to limit playlist entries) or
// the top search result for plain text.
func (c *Client) Resolve(ctx context.Context, query string, limit int) (*playlist.Playlist, error) {
	query = strings.TrimSpace(query)
	if limit <= 0 {
		limit = 1
	}

	search := !isURL(query)
	target := query
	if search {
		target = c.config.SearchPrefix + query
		limit = 1
	}

	res, err := c.command().
		FlatPlaylist().
		Print(entryTemplate).
		PlaylistItems(fmt.Sprintf("1-%d", limit)).
		NoWarnings().
		IgnoreConfig().
		Run(ctx, target)
	if err != nil {
		return nil, errors.Wrapf(err, "yt-dlp failed for %q: %s", query, stderrOf(res))
	}

	entries := parseEntries(res.Stdout)
	if len(entries) == 0 {
		return nil, errors.Newf("yt-dlp found nothing for %q", query)
	}

	pl := &playlist.Playlist{URL: query}
	if len(entries) > 1 {
		pl.Title = entries[0].PlaylistTitle
	}
	for _, e := range entries {
		meta := map[string]string{
			track.MetaSource:   Name,
			track.MetaPageURL:  e.PageURL,
			track.MetaUploader: e.Uploader,
		}
		if search {
			meta[track.MetaSearch] = query
		}
		pl.Tracks = append(pl.Tracks, track.New(e.ID, e.Title, "", e.Duration, meta))
	}

	zlog.Debug().Msgf("yt-dlp resolved: query=%s tracks=%d", query, len(pl.Tracks))
	return pl, nil
}

// Refresh looks up a fresh audio stream URL for t.
func (c *Client) Refresh(ctx context.Context, t track.Track) (string, error) {
	target := t.Meta(track.MetaPageURL)
	if target == "" {
		q := t.Meta(track.MetaSearch)
		if q == "" {
			return "", errors.Newf("nothing to refresh for %q", t.Title)
		}
		target = c.config.SearchPrefix + q
	}

	res, err := c.command().
		Format(c.config.Format).
		NoPlaylist().
		Print("%(url)s").
		NoWarnings().
		IgnoreConfig().
		Run(ctx, target)
	if err != nil {
		return "", errors.Wrapf(err, "yt-dlp refresh failed for %q: %s", t.Title, stderrOf(res))
	}

	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		line = strings.TrimSpace(line)
		if isURL(line) {
			return line, nil
		}
	}
	return "", errors.Newf("yt-dlp returned no stream url for %q", t.Title)
}

func (c *Client) command() *ytdlp.Command {
	cmd := ytdlp.New().Quiet()
	if c.config.Binary != "" {
		cmd.SetExecutable(c.config.Binary)
	}
	return cmd
}

// entry is one line of --print output.
type entry struct {
	PageURL       string
	Title         string
	Uploader      string
	Duration      time.Duration
	ID            string
	PlaylistTitle string
}

// parseEntries parses entryTemplate lines. yt-dlp prints "NA" for missing
// fields; entries without a URL or title are skipped.
func parseEntries(out string) []entry {
	var entries []entry
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 5 {
			continue
		}
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
			if parts[i] == "NA" {
				parts[i] = ""
			}
		}
		if parts[0] == "" || parts[1] == "" {
			continue
		}

		e := entry{
			PageURL:  parts[0],
			Title:    parts[1],
			Uploader: parts[2],
			Duration: parseSeconds(parts[3]),
			ID:       parts[4],
		}
		if len(parts) > 5 {
			e.PlaylistTitle = parts[5]
		}
		if e.ID == "" {
			e.ID = e.PageURL
		}
		entries = append(entries, e)
	}
	return entries
}

// parseSeconds parses yt-dlp's duration field, which may be fractional.
func parseSeconds(s string) time.Duration {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func stderrOf(res *ytdlp.Result) string {
	if res == nil {
		return ""
	}
	return strings.TrimSpace(res.Stderr)
}
