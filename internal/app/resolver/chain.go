package resolver

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildplay/internal/domain/playlist"
	"github.com/osa030/guildplay/internal/domain/track"
)

// ErrUnsupported is returned when no resolver accepts a query.
var ErrUnsupported = errors.New("no resolver supports the query")

// Chain tries resolvers in order until one returns tracks.
type Chain struct {
	resolvers []Resolver
}

// NewChain creates a new resolver chain.
func NewChain(resolvers ...Resolver) *Chain {
	return &Chain{
		resolvers: resolvers,
	}
}

// Resolve asks each supporting resolver in turn and returns the first
// non-empty result.
func (c *Chain) Resolve(ctx context.Context, query string, limit int) (*playlist.Playlist, error) {
	var lastErr error
	tried := 0

	for i, r := range c.resolvers {
		if !r.Supports(query) {
			continue
		}
		tried++
		zlog.Debug().Msgf("trying resolver: index=%d total=%d name=%s query=%s",
			i+1, len(c.resolvers), r.Name(), query)

		pl, err := r.Resolve(ctx, query, limit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrapf(err, "resolver %s interrupted", r.Name())
			}
			zlog.Warn().Msgf("resolver failed, trying next: resolver=%s error=%v", r.Name(), err)
			lastErr = errors.Wrapf(err, "resolver %s", r.Name())
			continue
		}
		if pl == nil || len(pl.Tracks) == 0 {
			zlog.Debug().Msgf("resolver returned no tracks: resolver=%s", r.Name())
			continue
		}

		zlog.Info().Msgf("resolver returned tracks: resolver=%s count=%d title=%s",
			r.Name(), len(pl.Tracks), pl.Title)
		return pl.Limit(limit), nil
	}

	if tried == 0 {
		return nil, errors.Wrapf(ErrUnsupported, "query %q", query)
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.Newf("no results for %q", query)
}

// Refresh routes t to the resolver named in its refresher metadata, falling
// back to any other refresher that supports the refresh target.
func (c *Chain) Refresh(ctx context.Context, t track.Track) (string, error) {
	target := RefreshTarget(t)
	if target == "" {
		return t.StreamLocator, nil
	}

	preferred := t.Meta(track.MetaRefresher)
	if preferred == "" {
		preferred = t.Meta(track.MetaSource)
	}

	var lastErr error
	for _, r := range c.ordered(preferred) {
		rf, ok := r.(Refresher)
		if !ok {
			continue
		}
		if r.Name() != preferred && !r.Supports(target) {
			continue
		}
		locator, err := rf.Refresh(ctx, t)
		if err != nil {
			if ctx.Err() != nil {
				return "", err
			}
			zlog.Warn().Msgf("refresh failed, trying next: resolver=%s title=%s error=%v", r.Name(), t.Title, err)
			lastErr = err
			continue
		}
		return locator, nil
	}

	if lastErr != nil {
		return "", errors.Wrapf(lastErr, "failed to refresh %q", t.Title)
	}
	return t.StreamLocator, nil
}

// Names returns resolver names in chain order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.resolvers))
	for i, r := range c.resolvers {
		names[i] = r.Name()
	}
	return names
}

// ordered returns resolvers with the one named preferred first.
func (c *Chain) ordered(preferred string) []Resolver {
	out := make([]Resolver, 0, len(c.resolvers))
	for _, r := range c.resolvers {
		if r.Name() == preferred {
			out = append(out, r)
		}
	}
	for _, r := range c.resolvers {
		if r.Name() != preferred {
			out = append(out, r)
		}
	}
	return out
}
