package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zmb3/spotify/v2"

	"github.com/osa030/guildplay/internal/domain/track"
)

type fakeAPI struct {
	tracks     map[spotify.ID]*spotify.FullTrack
	playlist   []spotify.PlaylistItem
	albumName  string
	album      []spotify.SimpleTrack
	failTimes  int
	failErr    error
	itemsCalls int
}

func (f *fakeAPI) GetTrack(ctx context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.FullTrack, error) {
	if f.failTimes > 0 {
		f.failTimes--
		return nil, f.failErr
	}
	t, ok := f.tracks[id]
	if !ok {
		return nil, errors.New("404 not found")
	}
	return t, nil
}

func (f *fakeAPI) GetPlaylist(ctx context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.FullPlaylist, error) {
	return &spotify.FullPlaylist{SimplePlaylist: spotify.SimplePlaylist{Name: "Road Trip"}}, nil
}

func (f *fakeAPI) GetPlaylistItems(ctx context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.PlaylistItemPage, error) {
	f.itemsCalls++
	return &spotify.PlaylistItemPage{Items: f.playlist}, nil
}

func (f *fakeAPI) GetAlbum(ctx context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.FullAlbum, error) {
	album := &spotify.FullAlbum{}
	album.Name = f.albumName
	album.Tracks.Tracks = f.album
	return album, nil
}

// simple builds a track the way the API decodes one.
func simple(id, name string, ms int, artists ...string) spotify.SimpleTrack {
	raw := map[string]any{"id": id, "name": name, "duration_ms": ms}
	var list []map[string]string
	for _, a := range artists {
		list = append(list, map[string]string{"name": a})
	}
	raw["artists"] = list

	data, err := json.Marshal(raw)
	if err != nil {
		panic(err)
	}
	var t spotify.SimpleTrack
	if err := json.Unmarshal(data, &t); err != nil {
		panic(err)
	}
	return t
}

func TestParseLink(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantKind string
		wantID   string
	}{
		{name: "Spotify URI format", input: "spotify:playlist:37i9dQZF1DXcBWIGoYBM5M", wantKind: "playlist", wantID: "37i9dQZF1DXcBWIGoYBM5M"},
		{name: "Spotify URL format", input: "https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M", wantKind: "playlist", wantID: "37i9dQZF1DXcBWIGoYBM5M"},
		{name: "Spotify URL with query params", input: "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC?si=abc123", wantKind: "track", wantID: "4uLU6hMCjMI75M1A2tKUQC"},
		{name: "Localized URL", input: "https://open.spotify.com/intl-ja/album/abc/", wantKind: "album", wantID: "abc"},
		{name: "HTTP URL (not HTTPS)", input: "http://open.spotify.com/playlist/testID", wantKind: "playlist", wantID: "testID"},
		{name: "Artist link", input: "https://open.spotify.com/artist/abc"},
		{name: "Unknown URI", input: "spotify:show:abc"},
		{name: "Plain text", input: "never gonna give you up"},
		{name: "Empty string", input: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, id := parseLink(tt.input)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "rate limit error with 429", err: errors.New("Error 429: rate limit exceeded"), expected: true},
		{name: "server error 500", err: errors.New("Error 500: internal server error"), expected: true},
		{name: "server error 503", err: errors.New("503 Service Unavailable"), expected: true},
		{name: "client error 400", err: errors.New("400 Bad Request"), expected: false},
		{name: "not found error", err: errors.New("404 not found"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isRetryable(tt.err))
		})
	}
}

func TestClient_ResolveTrack(t *testing.T) {
	fake := &fakeAPI{tracks: map[spotify.ID]*spotify.FullTrack{
		"t1": {SimpleTrack: simple("t1", "Bohemian Rhapsody", 354000, "Queen")},
	}}
	c := newClient(fake, "")

	pl, err := c.Resolve(context.Background(), "https://open.spotify.com/track/t1", 10)
	require.NoError(t, err)
	require.Len(t, pl.Tracks, 1)

	got := pl.Tracks[0]
	assert.Equal(t, "Queen - Bohemian Rhapsody", got.Title)
	assert.Equal(t, 354*time.Second, got.Duration)
	assert.Empty(t, got.StreamLocator)
	assert.Equal(t, "spotify", got.Meta(track.MetaSource))
	assert.Equal(t, "ytdlp", got.Meta(track.MetaRefresher))
	assert.Equal(t, "Queen Bohemian Rhapsody", got.Meta(track.MetaSearch))
}

func TestClient_ResolvePlaylistSkipsEpisodesAndLimits(t *testing.T) {
	a := simple("a", "A", 1000, "X")
	b := simple("b", "B", 1000, "Y")
	c3 := simple("c", "C", 1000, "Z")
	fake := &fakeAPI{playlist: []spotify.PlaylistItem{
		{Track: spotify.PlaylistItemTrack{Track: &spotify.FullTrack{SimpleTrack: a}}},
		{Track: spotify.PlaylistItemTrack{}},
		{Track: spotify.PlaylistItemTrack{Track: &spotify.FullTrack{SimpleTrack: b}}},
		{Track: spotify.PlaylistItemTrack{Track: &spotify.FullTrack{SimpleTrack: c3}}},
	}}
	c := newClient(fake, "JP")

	pl, err := c.Resolve(context.Background(), "spotify:playlist:p1", 2)
	require.NoError(t, err)
	assert.Equal(t, "Road Trip", pl.Title)
	require.Len(t, pl.Tracks, 2)
	assert.Equal(t, "X - A", pl.Tracks[0].Title)
	assert.Equal(t, "Y - B", pl.Tracks[1].Title)
	assert.Equal(t, 1, fake.itemsCalls)
}

func TestClient_ResolveAlbum(t *testing.T) {
	fake := &fakeAPI{albumName: "Abbey Road", album: []spotify.SimpleTrack{
		simple("1", "Come Together", 259000, "The Beatles"),
		simple("2", "Something", 182000, "The Beatles"),
	}}
	c := newClient(fake, "")

	pl, err := c.Resolve(context.Background(), "https://open.spotify.com/album/ab", 0)
	require.NoError(t, err)
	assert.Equal(t, "Abbey Road", pl.Title)
	assert.Len(t, pl.Tracks, 2)
}

func TestClient_RetryOnServerError(t *testing.T) {
	fake := &fakeAPI{
		tracks:    map[spotify.ID]*spotify.FullTrack{"t1": {SimpleTrack: simple("t1", "Song", 1000)}},
		failTimes: 2,
		failErr:   fmt.Errorf("503 Service Unavailable"),
	}
	c := newClient(fake, "")
	c.retryDelay = time.Millisecond

	pl, err := c.Resolve(context.Background(), "spotify:track:t1", 1)
	require.NoError(t, err)
	assert.Equal(t, "Song", pl.Tracks[0].Title)
}

func TestClient_NoRetryOnNotFound(t *testing.T) {
	c := newClient(&fakeAPI{}, "")
	c.retryDelay = time.Millisecond

	_, err := c.Resolve(context.Background(), "spotify:track:missing", 1)
	assert.ErrorContains(t, err, "404")
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{ClientID: "id"})
	assert.Error(t, err)
}
