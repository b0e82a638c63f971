package playback

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildplay/internal/domain/playlist"
)

// DefaultResolveTimeout bounds a single resolver call.
const DefaultResolveTimeout = 60 * time.Second

// Resolver turns a query into tracks.
type Resolver interface {
	Resolve(ctx context.Context, query string, limit int) (*playlist.Playlist, error)
}

// Gate serializes resolver calls for one guild.
type Gate struct {
	sem     chan struct{}
	waiting atomic.Int32
	timeout time.Duration
}

// NewGate creates a gate whose resolver calls are bounded by timeout.
func NewGate(timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	return &Gate{
		sem:     make(chan struct{}, 1),
		timeout: timeout,
	}
}

// Busy reports whether a resolution is in flight.
func (g *Gate) Busy() bool {
	return len(g.sem) > 0
}

// Waiting returns how many callers are queued behind the current resolution.
func (g *Gate) Waiting() int {
	return int(g.waiting.Load())
}

// Resolve runs r.Resolve while holding the gate. If the gate is taken,
// onWait is called once before blocking. The gate is released on every
// path, including timeout, even if the resolver ignores its context.
func (g *Gate) Resolve(ctx context.Context, r Resolver, query string, limit int, onWait func()) (*playlist.Playlist, error) {
	if err := g.acquire(ctx, onWait); err != nil {
		return nil, err
	}
	defer g.release()

	rctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		pl  *playlist.Playlist
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				zlog.Error().Msgf("gate: resolver panic: query=%s panic=%v", query, rec)
				ch <- result{err: errors.Newf("resolver panic: %v", rec)}
			}
		}()
		pl, err := r.Resolve(rctx, query, limit)
		ch <- result{pl: pl, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, errors.Mark(errors.Wrapf(res.err, "failed to resolve %q", query), ErrResolution)
		}
		if res.pl == nil || len(res.pl.Tracks) == 0 {
			return nil, errors.Mark(errors.Newf("no results for %q", query), ErrResolution)
		}
		return res.pl, nil
	case <-rctx.Done():
		return nil, errors.Mark(errors.Wrapf(rctx.Err(), "resolution of %q did not finish", query), ErrResolution)
	}
}

func (g *Gate) acquire(ctx context.Context, onWait func()) error {
	select {
	case g.sem <- struct{}{}:
		return nil
	default:
	}

	g.waiting.Add(1)
	defer g.waiting.Add(-1)
	if onWait != nil {
		onWait()
	}

	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.Mark(errors.Wrap(ctx.Err(), "gave up waiting for resolution gate"), ErrResolution)
	}
}

func (g *Gate) release() {
	<-g.sem
}
