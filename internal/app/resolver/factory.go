package resolver

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildplay/internal/infra/config"
	"github.com/osa030/guildplay/internal/infra/spotify"
	"github.com/osa030/guildplay/internal/infra/youtube"
	"github.com/osa030/guildplay/internal/infra/ytdlp"
)

// NewChainFromConfig creates a resolver chain from configuration.
// Spotify is skipped with a warning when its credentials are missing.
func NewChainFromConfig(ctx context.Context, cfg *config.Config) (*Chain, error) {
	if len(cfg.Resolvers.Order) == 0 {
		return nil, errors.New("no resolvers configured")
	}

	var resolvers []Resolver
	for i, name := range cfg.Resolvers.Order {
		var r Resolver
		zlog.Debug().Msgf("creating resolver: index=%d name=%s", i+1, name)

		switch name {
		case ytdlp.Name:
			r = ytdlp.New(ytdlp.Config{
				Binary:       cfg.Resolvers.YtDlp.Binary,
				Format:       cfg.Resolvers.YtDlp.Format,
				SearchPrefix: cfg.Resolvers.YtDlp.SearchPrefix,
			})

		case youtube.Name:
			yt, err := youtube.New(youtube.Config{
				Proxy:   cfg.Resolvers.YouTube.Proxy,
				Timeout: cfg.Resolvers.YouTube.Timeout(),
			})
			if err != nil {
				return nil, errors.Wrapf(err, "failed to create resolver (index %d, name %s)", i, name)
			}
			r = yt

		case spotify.Name:
			if !cfg.Resolvers.Spotify.Configured() {
				zlog.Warn().Msg("spotify resolver skipped: client credentials not set")
				continue
			}
			sp, err := spotify.New(ctx, spotify.Config{
				ClientID:     cfg.Resolvers.Spotify.ClientID,
				ClientSecret: cfg.Resolvers.Spotify.ClientSecret,
				Market:       cfg.Resolvers.Spotify.Market,
			})
			if err != nil {
				return nil, errors.Wrapf(err, "failed to create resolver (index %d, name %s)", i, name)
			}
			r = sp

		default:
			return nil, errors.Newf("unsupported resolver: %s (index %d)", name, i)
		}

		resolvers = append(resolvers, r)
		zlog.Info().Msgf("registered resolver: index=%d name=%s", i+1, name)
	}

	if len(resolvers) == 0 {
		return nil, errors.New("no usable resolvers configured")
	}
	return NewChain(resolvers...), nil
}
