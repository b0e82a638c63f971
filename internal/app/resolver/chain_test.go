package resolver

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/guildplay/internal/domain/playlist"
	"github.com/osa030/guildplay/internal/domain/track"
	"github.com/osa030/guildplay/internal/infra/config"
)

type fakeResolver struct {
	name      string
	prefix    string
	tracks    int
	err       error
	locator   string
	refreshed []string
	calls     int
}

func (f *fakeResolver) Name() string { return f.name }

func (f *fakeResolver) Supports(query string) bool {
	return f.prefix == "" || strings.HasPrefix(query, f.prefix)
}

func (f *fakeResolver) Resolve(ctx context.Context, query string, limit int) (*playlist.Playlist, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	pl := &playlist.Playlist{Title: f.name}
	for i := 0; i < f.tracks; i++ {
		pl.Tracks = append(pl.Tracks, track.New("", f.name, "", time.Minute, map[string]string{track.MetaSource: f.name}))
	}
	return pl, nil
}

func (f *fakeResolver) Refresh(ctx context.Context, t track.Track) (string, error) {
	f.refreshed = append(f.refreshed, t.Title)
	if f.err != nil {
		return "", f.err
	}
	return f.locator, nil
}

func TestChain_ResolveFallsThrough(t *testing.T) {
	broken := &fakeResolver{name: "broken", err: errors.New("boom")}
	empty := &fakeResolver{name: "empty"}
	good := &fakeResolver{name: "good", tracks: 5}

	chain := NewChain(broken, empty, good)
	pl, err := chain.Resolve(context.Background(), "query", 3)
	require.NoError(t, err)
	assert.Equal(t, "good", pl.Title)
	assert.Len(t, pl.Tracks, 3)
	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, 1, empty.calls)
}

func TestChain_ResolveSkipsUnsupported(t *testing.T) {
	spotify := &fakeResolver{name: "spotify", prefix: "spotify:", tracks: 1}
	search := &fakeResolver{name: "search", tracks: 1}

	pl, err := NewChain(spotify, search).Resolve(context.Background(), "plain words", 1)
	require.NoError(t, err)
	assert.Equal(t, "search", pl.Title)
	assert.Zero(t, spotify.calls)
}

func TestChain_ResolveErrors(t *testing.T) {
	_, err := NewChain(&fakeResolver{name: "a", prefix: "x"}).Resolve(context.Background(), "q", 1)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = NewChain(&fakeResolver{name: "a", err: errors.New("boom")}).Resolve(context.Background(), "q", 1)
	assert.ErrorContains(t, err, "boom")

	_, err = NewChain(&fakeResolver{name: "a"}).Resolve(context.Background(), "q", 1)
	assert.ErrorContains(t, err, "no results")
}

func TestChain_RefreshPrefersNamedRefresher(t *testing.T) {
	ytdlp := &fakeResolver{name: "ytdlp", locator: "https://stream/ytdlp"}
	youtube := &fakeResolver{name: "youtube", prefix: "https://www.youtube.com", locator: "https://stream/youtube"}
	chain := NewChain(youtube, ytdlp)

	spotifyTrack := track.New("1", "Song", "", time.Minute, map[string]string{
		track.MetaSource:    "spotify",
		track.MetaRefresher: "ytdlp",
		track.MetaSearch:    "artist song",
	})
	locator, err := chain.Refresh(context.Background(), spotifyTrack)
	require.NoError(t, err)
	assert.Equal(t, "https://stream/ytdlp", locator)
	assert.Empty(t, youtube.refreshed)
}

func TestChain_RefreshFallsBackToSupportingResolver(t *testing.T) {
	youtube := &fakeResolver{name: "youtube", err: errors.New("signature changed")}
	ytdlp := &fakeResolver{name: "ytdlp", locator: "https://stream/ytdlp"}
	chain := NewChain(youtube, ytdlp)

	yt := track.New("v", "Video", "", time.Minute, map[string]string{
		track.MetaSource:  "youtube",
		track.MetaPageURL: "https://www.youtube.com/watch?v=v",
	})
	locator, err := chain.Refresh(context.Background(), yt)
	require.NoError(t, err)
	assert.Equal(t, "https://stream/ytdlp", locator)
	assert.Equal(t, []string{"Video"}, youtube.refreshed)
}

func TestChain_RefreshWithoutTarget(t *testing.T) {
	chain := NewChain(&fakeResolver{name: "ytdlp", locator: "unused"})

	direct := track.New("f", "File", "https://cdn/file.mp3", time.Minute, nil)
	locator, err := chain.Refresh(context.Background(), direct)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/file.mp3", locator)
}

func TestChain_RefreshAllFail(t *testing.T) {
	chain := NewChain(&fakeResolver{name: "ytdlp", err: errors.New("gone")})
	t1 := track.New("v", "Video", "", time.Minute, map[string]string{track.MetaSearch: "x", track.MetaSource: "ytdlp"})

	_, err := chain.Refresh(context.Background(), t1)
	assert.ErrorContains(t, err, "gone")
}

func TestHelpers(t *testing.T) {
	assert.True(t, IsURL("https://youtu.be/x"))
	assert.False(t, IsURL("youtu.be/x"))
	assert.Equal(t, "youtube.com", Host("https://WWW.YouTube.com/watch"))

	withPage := track.New("", "", "", 0, map[string]string{track.MetaPageURL: "p", track.MetaSearch: "s"})
	assert.Equal(t, "p", RefreshTarget(withPage))
	searchOnly := track.New("", "", "", 0, map[string]string{track.MetaSearch: "s"})
	assert.Equal(t, "s", RefreshTarget(searchOnly))
}

func TestNewChainFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Resolvers.Order = []string{"spotify", "youtube", "ytdlp"}

	chain, err := NewChainFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"youtube", "ytdlp"}, chain.Names())

	cfg.Resolvers.Order = []string{"spotify"}
	_, err = NewChainFromConfig(context.Background(), cfg)
	assert.Error(t, err)

	cfg.Resolvers.Order = []string{"soundcloud"}
	_, err = NewChainFromConfig(context.Background(), cfg)
	assert.ErrorContains(t, err, "unsupported resolver")
}
