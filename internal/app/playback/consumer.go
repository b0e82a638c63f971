package playback

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildplay/internal/app/voice"
	"github.com/osa030/guildplay/internal/domain/track"
)

// DefaultPollInterval is how often the consumer checks the playback handle.
const DefaultPollInterval = 500 * time.Millisecond

// Refresher produces a fresh stream locator for a track right before playback.
type Refresher interface {
	Refresh(ctx context.Context, t track.Track) (string, error)
}

// Connector returns a healthy voice connection for the guild,
// reconnecting if necessary.
type Connector interface {
	Connection(ctx context.Context) (voice.Connection, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context) (voice.Connection, error)

func (f ConnectorFunc) Connection(ctx context.Context) (voice.Connection, error) {
	return f(ctx)
}

// ConsumerConfig holds consumer timing.
type ConsumerConfig struct {
	PollInterval   time.Duration
	RefreshTimeout time.Duration
}

// Consumer drains one guild's queue, playing one track at a time.
type Consumer struct {
	guildID   string
	queue     *Queue
	session   *Session
	connector Connector
	refresher Refresher
	config    ConsumerConfig
	events    chan<- Event
}

// NewConsumer creates a consumer. refresher and events may be nil.
func NewConsumer(guildID string, queue *Queue, session *Session, connector Connector, refresher Refresher, events chan<- Event, config ConsumerConfig) *Consumer {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RefreshTimeout <= 0 {
		config.RefreshTimeout = DefaultResolveTimeout
	}
	return &Consumer{
		guildID:   guildID,
		queue:     queue,
		session:   session,
		connector: connector,
		refresher: refresher,
		config:    config,
		events:    events,
	}
}

// Run loops until ctx is cancelled. It returns nil on cancellation and an
// error wrapping ErrInconsistentState if the session can no longer be driven.
func (c *Consumer) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("consumer: panic recovered: guild=%s panic=%v", c.guildID, r)
			err = errors.Wrapf(ErrInconsistentState, "consumer panic: %v", r)
		}
		if err != nil {
			c.emit(Event{Type: EventInconsistent, Err: err})
		}
	}()

	zlog.Debug().Msgf("consumer: started: guild=%s", c.guildID)
	defer zlog.Debug().Msgf("consumer: stopped: guild=%s", c.guildID)

	for {
		qt, err := c.queue.Next(ctx)
		if err != nil {
			return nil
		}
		if err := c.session.Prepare(); err != nil {
			return err
		}

		if err := c.playOne(ctx, qt); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrInconsistentState) {
				return err
			}
			zlog.Warn().Err(err).Msgf("consumer: track failed: guild=%s title=%s", c.guildID, qt.Track.Title)
			c.session.Abandon()
			c.emit(Event{Type: EventTrackFailed, Track: &qt, Err: err})
		}

		if c.queue.Len() == 0 && c.session.Settle() {
			c.emit(Event{Type: EventQueueEmpty})
		}
	}
}

// playOne plays qt to completion or until ctx is cancelled.
func (c *Consumer) playOne(ctx context.Context, qt track.QueuedTrack) error {
	locator, err := c.refresh(ctx, qt.Track)
	if err != nil {
		return err
	}

	conn, err := c.connector.Connection(ctx)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to obtain voice connection"), ErrConnect)
	}

	handle, err := conn.Play(ctx, locator)
	if err != nil {
		return errors.Wrap(err, "failed to start playback")
	}
	if ctx.Err() != nil {
		handle.Stop()
		return ctx.Err()
	}
	if err := c.session.Start(qt, handle); err != nil {
		handle.Stop()
		return err
	}

	zlog.Info().Msgf("consumer: track started: guild=%s title=%s duration=%v requester=%s",
		c.guildID, qt.Track.Title, qt.Track.Duration, qt.Requester.Name)
	c.emit(Event{Type: EventTrackStarted, Track: &qt})

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			handle.Stop()
			return ctx.Err()
		case <-ticker.C:
		}
		if handle.IsDone() {
			break
		}
		c.session.Tick(c.config.PollInterval)
	}

	finished := c.session.Complete()
	if finished != nil {
		zlog.Info().Msgf("consumer: track ended: guild=%s title=%s", c.guildID, finished.Track.Title)
		c.emit(Event{Type: EventTrackEnded, Track: finished})
	}
	return nil
}

// refresh returns the locator to play, asking the refresher for a fresh one
// when available. Falls back to the stored locator if refreshing fails.
func (c *Consumer) refresh(ctx context.Context, t track.Track) (string, error) {
	if c.refresher == nil {
		if t.StreamLocator == "" {
			return "", errors.Newf("track %q has no stream locator", t.Title)
		}
		return t.StreamLocator, nil
	}

	rctx, cancel := context.WithTimeout(ctx, c.config.RefreshTimeout)
	defer cancel()

	locator, err := c.refresher.Refresh(rctx, t)
	if err == nil && locator != "" {
		return locator, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err == nil {
		err = errors.New("refresher returned an empty locator")
	}
	if t.StreamLocator == "" {
		return "", errors.Mark(errors.Wrapf(err, "failed to refresh %q", t.Title), ErrResolution)
	}
	zlog.Warn().Err(err).Msgf("consumer: refresh failed, using stored locator: guild=%s title=%s", c.guildID, t.Title)
	return t.StreamLocator, nil
}

// emit sends an event without blocking.
func (c *Consumer) emit(e Event) {
	if c.events == nil {
		return
	}
	e.GuildID = c.guildID
	e.State = c.session.State()
	select {
	case c.events <- e:
	default:
		zlog.Warn().Msgf("consumer: event dropped: guild=%s type=%s", c.guildID, e.Type)
	}
}
