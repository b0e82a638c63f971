// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig            `yaml:"server"`
	Admin     AdminConfig             `yaml:"admin"`
	Discord   DiscordConfig           `yaml:"discord"`
	Playback  PlaybackConfig          `yaml:"playback"`
	Voice     VoiceConfig             `yaml:"voice"`
	RateLimit RateLimitConfig         `yaml:"rate_limit"`
	Resolvers ResolversConfig         `yaml:"resolvers"`
	Filters   map[string]FilterConfig `yaml:"filters"`
	Messages  map[string]string       `yaml:"messages"`
	Storage   StorageConfig           `yaml:"storage"`
	Log       LogConfig               `yaml:"log"`
}

// ServerConfig represents control API server configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr" default:":8080"`
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// AdminConfig represents control API authentication.
type AdminConfig struct {
	Token string `yaml:"token" env:"ADMIN_TOKEN" validate:"required"`
}

// DiscordConfig represents the chat platform connection.
type DiscordConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token" env:"DISCORD_TOKEN" validate:"required_if=Enabled true"`
	Prefix  string `yaml:"prefix" default:"!"`

	// Members holding one of these roles may use the moderating commands.
	ControlRoles []string `yaml:"control_roles" default:"[\"Admin\",\"Bot Commander\",\"Voice\"]"`
	Bitrate      int      `yaml:"bitrate" default:"96" validate:"gte=8,lte=512"`
}

// PlaybackConfig represents queue and consumer tuning.
type PlaybackConfig struct {
	MaxQueue          int `yaml:"max_queue" default:"99" validate:"gte=1,lte=1000"`
	PageSize          int `yaml:"page_size" default:"10" validate:"gte=1,lte=50"`
	PollIntervalMs    int `yaml:"poll_interval_ms" default:"500" validate:"gte=50,lte=5000"`
	ResolveTimeoutSec int `yaml:"resolve_timeout_sec" default:"60" validate:"gte=1,lte=600"`
	ConnectTimeoutSec int `yaml:"connect_timeout_sec" default:"10" validate:"gte=1,lte=120"`
	EventBuffer       int `yaml:"event_buffer" default:"64" validate:"gte=1"`
}

// PollInterval returns the consumer poll interval.
func (p PlaybackConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMs) * time.Millisecond
}

// ResolveTimeout returns the resolver call bound.
func (p PlaybackConfig) ResolveTimeout() time.Duration {
	return time.Duration(p.ResolveTimeoutSec) * time.Second
}

// ConnectTimeout returns the voice connect bound.
func (p PlaybackConfig) ConnectTimeout() time.Duration {
	return time.Duration(p.ConnectTimeoutSec) * time.Second
}

// VoiceConfig represents voice channel selection.
type VoiceConfig struct {
	Channel          string   `yaml:"channel"`
	FallbackChannels []string `yaml:"fallback_channels" default:"[\"music\",\"guildplay\"]"`
}

// RateLimitConfig bounds enqueue requests per guild.
type RateLimitConfig struct {
	PerMinute float64 `yaml:"per_minute" default:"20" validate:"gt=0"`
	Burst     int     `yaml:"burst" default:"5" validate:"gte=1"`
}

// ResolversConfig represents metadata sources.
type ResolversConfig struct {
	Order   []string      `yaml:"order" default:"[\"spotify\",\"youtube\",\"ytdlp\"]" validate:"min=1,dive,oneof=spotify youtube ytdlp"`
	YtDlp   YtDlpConfig   `yaml:"ytdlp"`
	YouTube YouTubeConfig `yaml:"youtube"`
	Spotify SpotifyConfig `yaml:"spotify"`
}

// YtDlpConfig represents yt-dlp settings.
type YtDlpConfig struct {
	Binary       string `yaml:"binary"`
	Format       string `yaml:"format" default:"bestaudio/best"`
	SearchPrefix string `yaml:"search_prefix" default:"ytsearch1:"`
}

// YouTubeConfig represents the direct YouTube client.
type YouTubeConfig struct {
	Proxy      string `yaml:"proxy" env:"YOUTUBE_PROXY"`
	TimeoutSec int    `yaml:"timeout_sec" default:"15" validate:"gte=1"`
}

// Timeout returns the HTTP client timeout.
func (y YouTubeConfig) Timeout() time.Duration {
	return time.Duration(y.TimeoutSec) * time.Second
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id" env:"SPOTIFY_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"SPOTIFY_CLIENT_SECRET"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"US"`
}

// Configured reports whether Spotify credentials are present.
func (s SpotifyConfig) Configured() bool {
	return s.ClientID != "" && s.ClientSecret != ""
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// StorageConfig represents the guild settings database.
type StorageConfig struct {
	Path string `yaml:"path" env:"GUILDPLAY_DB" default:"guildplay.db"`
}

// LogConfig represents logger configuration.
type LogConfig struct {
	Output     string `yaml:"output" default:"stdout"`
	Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" default:"100"`
	MaxBackups int    `yaml:"max_backups" default:"3"`
	MaxAgeDays int    `yaml:"max_age_days" default:"28"`
	Compress   bool   `yaml:"compress"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse builds a configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to read environment overrides")
	}

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Discord.Enabled && c.Voice.Channel == "" && len(c.Voice.FallbackChannels) == 0 {
		return errors.New("voice.channel or voice.fallback_channels must be set")
	}

	return nil
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// GetFilterSettings returns the settings for a filter.
func (c *Config) GetFilterSettings(filterName string) map[string]any {
	if f, ok := c.Filters[filterName]; ok {
		return f.Settings
	}
	return nil
}

// VoiceChannelNames returns the channel names to try, in order, given an
// optional per-guild override.
func (c *Config) VoiceChannelNames(override string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, n := range append([]string{override, c.Voice.Channel}, c.Voice.FallbackChannels...) {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}
	return names
}
