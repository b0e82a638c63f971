package filter

import (
	"context"
	"net/url"
	"strings"

	"github.com/osa030/guildplay/internal/domain/track"
)

// URLLimitConfig represents the configuration for URLLimitFilter.
type URLLimitConfig struct {
	AllowedHosts []string `yaml:"allowed_hosts" mapstructure:"allowed_hosts" default:"[\"youtube.com\",\"youtu.be\",\"soundcloud.com\",\"open.spotify.com\"]" validate:"min=1"`
	DenySearch   bool     `yaml:"deny_search" mapstructure:"deny_search"`
}

// URLLimitFilter only lets links from allowed hosts through.
// Subdomains of an allowed host are allowed too.
type URLLimitFilter struct {
	config *URLLimitConfig
}

func (f *URLLimitFilter) Name() string {
	return "url_limit_filter"
}

func (f *URLLimitFilter) Description() string {
	return "Rejects links to sites outside the allowed host list"
}

func (f *URLLimitFilter) ReturnCodes() []string {
	return []string{"url_not_allowed", "search_not_allowed"}
}

func (f *URLLimitFilter) ValidateConfig(settings map[string]any) error {
	var config URLLimitConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	for i, h := range config.AllowedHosts {
		config.AllowedHosts[i] = strings.TrimPrefix(strings.ToLower(h), "www.")
	}
	f.config = &config
	return nil
}

func (f *URLLimitFilter) AppliesTo(stage Stage) bool {
	return stage == StageQuery
}

func (f *URLLimitFilter) Check(ctx context.Context, req Request, t track.Track, q QueueView) Result {
	if f.config == nil {
		return Accept()
	}

	u, err := url.Parse(strings.TrimSpace(req.Query))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		if f.config.DenySearch {
			return Reject("search_not_allowed")
		}
		return Accept()
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, allowed := range f.config.AllowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return Accept()
		}
	}
	return Reject("url_not_allowed")
}

func init() {
	Register("url_limit_filter", func() Filter {
		return &URLLimitFilter{}
	})
}
