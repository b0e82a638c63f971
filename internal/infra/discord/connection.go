package discord

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/jonas747/dca"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildplay/internal/app/voice"
)

// Connection is a joined voice channel.
type Connection struct {
	session *discordgo.Session
	ref     voice.ChannelRef
	encode  *dca.EncodeOptions

	mu sync.Mutex
	vc *discordgo.VoiceConnection
}

var _ voice.Connection = (*Connection)(nil)

func (c *Connection) Channel() voice.ChannelRef {
	return c.ref
}

// IsHealthy reports whether the voice websocket is ready to send audio.
func (c *Connection) IsHealthy() bool {
	c.mu.Lock()
	vc := c.vc
	c.mu.Unlock()
	if vc == nil {
		return false
	}
	vc.RLock()
	defer vc.RUnlock()
	return vc.Ready
}

// Reconnect leaves and joins the channel again.
func (c *Connection) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc != nil {
		if err := c.vc.Disconnect(); err != nil {
			zlog.Debug().Err(err).Msgf("discord: disconnect before rejoin failed: guild=%s", c.ref.GuildID)
		}
		c.vc = nil
	}
	vc, err := join(ctx, c.session, c.ref)
	if err != nil {
		return err
	}
	c.vc = vc
	return nil
}

// Play starts streaming locator through ffmpeg into the channel.
func (c *Connection) Play(ctx context.Context, locator string) (voice.PlaybackHandle, error) {
	c.mu.Lock()
	vc := c.vc
	c.mu.Unlock()
	if vc == nil {
		return nil, voice.ErrNotConnected
	}

	enc, err := dca.EncodeFile(locator, c.encode)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start encoder")
	}

	h := &handle{encoder: enc, done: make(chan error, 1), stopped: make(chan struct{})}
	h.stream = dca.NewStream(enc, vc, h.done)
	go h.wait(c.ref.GuildID)
	return h, nil
}

// Disconnect leaves the channel.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc == nil {
		return nil
	}
	err := c.vc.Disconnect()
	c.vc = nil
	return errors.Wrap(err, "failed to leave voice channel")
}

// encoder is the part of *dca.EncodeSession a handle drives.
type encoder interface {
	Stop() error
	Cleanup()
}

// pauser is the part of *dca.StreamingSession a handle drives.
type pauser interface {
	SetPaused(paused bool)
}

// handle wraps one dca encode and stream pair.
type handle struct {
	encoder  encoder
	stream   pauser
	done     chan error
	stopped  chan struct{}
	finished atomic.Bool
	stopOnce sync.Once
}

// wait releases the encoder once the stream ends or the handle is stopped.
// A paused dca stream never reports on done.
func (h *handle) wait(guildID string) {
	select {
	case err := <-h.done:
		if err != nil && !errors.Is(err, io.EOF) {
			zlog.Warn().Err(err).Msgf("discord: stream ended early: guild=%s", guildID)
		}
	case <-h.stopped:
	}
	h.finished.Store(true)
	h.encoder.Cleanup()
}

func (h *handle) IsDone() bool {
	return h.finished.Load()
}

func (h *handle) Stop() {
	h.stopOnce.Do(func() {
		h.stream.SetPaused(false)
		if err := h.encoder.Stop(); err != nil {
			zlog.Debug().Err(err).Msg("discord: encoder stop failed")
		}
		h.finished.Store(true)
		close(h.stopped)
	})
}

func (h *handle) Pause() {
	h.stream.SetPaused(true)
}

func (h *handle) Resume() {
	h.stream.SetPaused(false)
}
