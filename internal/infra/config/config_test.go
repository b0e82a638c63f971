package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) Config {
	t.Helper()
	cfg := Config{
		Admin: AdminConfig{Token: "test-admin-token"},
	}
	require.NoError(t, defaults.Set(&cfg))
	return cfg
}

func TestConfig_Validate_RequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing admin token",
			mutate:  func(c *Config) { c.Admin.Token = "" },
			wantErr: true,
			errMsg:  "Token",
		},
		{
			name:    "discord enabled without token",
			mutate:  func(c *Config) { c.Discord.Enabled = true },
			wantErr: true,
			errMsg:  "Token",
		},
		{
			name: "discord enabled with token",
			mutate: func(c *Config) {
				c.Discord.Enabled = true
				c.Discord.Token = "bot-token"
			},
			wantErr: false,
		},
		{
			name:    "invalid market length",
			mutate:  func(c *Config) { c.Resolvers.Spotify.Market = "JAPAN" },
			wantErr: true,
			errMsg:  "Market",
		},
		{
			name:    "max queue out of range",
			mutate:  func(c *Config) { c.Playback.MaxQueue = 0 },
			wantErr: true,
			errMsg:  "MaxQueue",
		},
		{
			name:    "unknown resolver",
			mutate:  func(c *Config) { c.Resolvers.Order = []string{"soundcloud"} },
			wantErr: true,
			errMsg:  "Order",
		},
		{
			name: "discord without any voice channel",
			mutate: func(c *Config) {
				c.Discord.Enabled = true
				c.Discord.Token = "bot-token"
				c.Voice.FallbackChannels = nil
			},
			wantErr: true,
			errMsg:  "voice.channel",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)
			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err, "expected validation to fail")
				assert.Contains(t, err.Error(), tt.errMsg,
					"error message should mention the problematic field")
			} else {
				assert.NoError(t, err, "expected validation to pass")
			}
		})
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("admin:\n  token: secret\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 99, cfg.Playback.MaxQueue)
	assert.Equal(t, 10, cfg.Playback.PageSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Playback.PollInterval())
	assert.Equal(t, 60*time.Second, cfg.Playback.ResolveTimeout())
	assert.Equal(t, []string{"music", "guildplay"}, cfg.Voice.FallbackChannels)
	assert.Equal(t, []string{"spotify", "youtube", "ytdlp"}, cfg.Resolvers.Order)
	assert.Equal(t, "bestaudio/best", cfg.Resolvers.YtDlp.Format)
}

func TestLoad_EnvOverridesSecrets(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "from-env")
	t.Setenv("SPOTIFY_CLIENT_ID", "id-from-env")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "secret-from-env")

	cfg, err := Parse([]byte("admin:\n  token: from-file\nplayback:\n  max_queue: 20\n"))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Admin.Token)
	assert.True(t, cfg.Resolvers.Spotify.Configured())
	assert.Equal(t, 20, cfg.Playback.MaxQueue)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Parse([]byte("admin: [not, a, map"))
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestConfig_VoiceChannelNames(t *testing.T) {
	cfg := validConfig(t)
	cfg.Voice.Channel = "music"

	assert.Equal(t, []string{"music", "guildplay"}, cfg.VoiceChannelNames(""))
	assert.Equal(t, []string{"lounge", "music", "guildplay"}, cfg.VoiceChannelNames("lounge"))
}

func TestConfig_Filters(t *testing.T) {
	cfg := validConfig(t)
	cfg.Filters = map[string]FilterConfig{
		"duration_limit_filter":  {Enabled: true, Settings: map[string]any{"max_duration_sec": 600}},
		"duplicate_track_filter": {Enabled: false},
	}

	assert.True(t, cfg.IsFilterEnabled("duration_limit_filter"))
	assert.False(t, cfg.IsFilterEnabled("duplicate_track_filter"))
	assert.False(t, cfg.IsFilterEnabled("unknown"))
	assert.Equal(t, 600, cfg.GetFilterSettings("duration_limit_filter")["max_duration_sec"])
	assert.Nil(t, cfg.GetFilterSettings("unknown"))
}
