package filter

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildplay/internal/domain/track"
	"github.com/osa030/guildplay/internal/infra/config"
)

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// NewChainFromConfig builds a chain of every registered filter enabled in cfg.
// Filters are added in name order so the chain is deterministic.
func NewChainFromConfig(cfg *config.Config) (*Chain, error) {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	chain := NewChain()
	for _, name := range names {
		if !cfg.IsFilterEnabled(name) {
			continue
		}
		f := registry[name]()
		if err := f.ValidateConfig(cfg.GetFilterSettings(name)); err != nil {
			return nil, errors.Wrapf(err, "invalid settings for filter %s", name)
		}
		chain.Add(f)
		zlog.Info().Msgf("registered filter: name=%s", name)
	}

	for name := range cfg.Filters {
		if _, ok := registry[name]; !ok {
			return nil, errors.Newf("unknown filter: %s", name)
		}
	}
	return chain, nil
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Precheck runs the query-stage filters before anything is resolved.
func (c *Chain) Precheck(ctx context.Context, req Request, q QueueView) Result {
	return c.run(ctx, StageQuery, req, track.Track{}, q)
}

// Execute runs the track-stage filters against one resolved track.
// Returns immediately if any filter rejects the request.
func (c *Chain) Execute(ctx context.Context, req Request, t track.Track, q QueueView) Result {
	return c.run(ctx, StageTrack, req, t, q)
}

// Admit runs Execute over tracks and splits them into accepted tracks and
// the rejection code of the first rejected one.
func (c *Chain) Admit(ctx context.Context, req Request, tracks []track.Track, q QueueView) (accepted []track.Track, rejected int, firstCode string) {
	for _, t := range tracks {
		result := c.Execute(ctx, req, t, q)
		if !result.Accepted {
			if rejected == 0 {
				firstCode = result.Code
			}
			rejected++
			continue
		}
		accepted = append(accepted, t)
	}
	return accepted, rejected, firstCode
}

func (c *Chain) run(ctx context.Context, stage Stage, req Request, t track.Track, q QueueView) Result {
	for _, f := range c.filters {
		// Skip filters that don't apply to this stage
		if !f.AppliesTo(stage) {
			continue
		}

		result := f.Check(ctx, req, t, q)
		if !result.Accepted {
			zlog.Debug().Msgf("filter rejected request: filter=%s code=%s guild=%s requester=%s",
				f.Name(), result.Code, req.GuildID, req.RequesterID)
			return result
		}
	}
	return Accept()
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}
