package ytdlp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntries(t *testing.T) {
	out := "https://www.youtube.com/watch?v=a1\tFirst\tUploader A\t212\ta1\tMix\n" +
		"https://www.youtube.com/watch?v=b2\tSecond\tNA\t95.5\tb2\tMix\n" +
		"NA\tBroken\tX\t10\tc3\tMix\n" +
		"garbage line\n" +
		"https://www.youtube.com/watch?v=live\tLive now\tStation\tNA\tlive\tNA\n"

	entries := parseEntries(out)
	require.Len(t, entries, 3)

	assert.Equal(t, "https://www.youtube.com/watch?v=a1", entries[0].PageURL)
	assert.Equal(t, "First", entries[0].Title)
	assert.Equal(t, "Uploader A", entries[0].Uploader)
	assert.Equal(t, 212*time.Second, entries[0].Duration)
	assert.Equal(t, "Mix", entries[0].PlaylistTitle)

	assert.Empty(t, entries[1].Uploader)
	assert.Equal(t, 95500*time.Millisecond, entries[1].Duration)

	assert.Equal(t, "live", entries[2].ID)
	assert.Zero(t, entries[2].Duration)
	assert.Empty(t, entries[2].PlaylistTitle)
}

func TestParseEntries_MissingIDUsesURL(t *testing.T) {
	entries := parseEntries("https://soundcloud.com/a/b\tSong\tArtist\t60\tNA")
	require.Len(t, entries, 1)
	assert.Equal(t, "https://soundcloud.com/a/b", entries[0].ID)
}

func TestParseEntries_Empty(t *testing.T) {
	assert.Empty(t, parseEntries(""))
	assert.Empty(t, parseEntries("\n\n"))
}

func TestParseSeconds(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"60", time.Minute},
		{"1.5", 1500 * time.Millisecond},
		{"", 0},
		{"abc", 0},
		{"-3", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseSeconds(tt.in))
		})
	}
}

func TestClient_Defaults(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, "ytdlp", c.Name())
	assert.Equal(t, "bestaudio/best", c.config.Format)
	assert.Equal(t, "ytsearch1:", c.config.SearchPrefix)
	assert.True(t, c.Supports("anything at all"))
	assert.False(t, c.Supports("   "))
}
