package discord

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/jonas747/dca"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildplay/internal/app/voice"
)

// Transport joins Discord voice channels and reads voice state from the
// session cache.
type Transport struct {
	session *discordgo.Session
	encode  *dca.EncodeOptions
}

var _ voice.Transport = (*Transport)(nil)

// NewTransport creates a transport that encodes audio at bitrate kbps.
func NewTransport(s *discordgo.Session, bitrate int) *Transport {
	opts := *dca.StdEncodeOptions
	opts.RawOutput = true
	opts.Bitrate = bitrate
	opts.BufferedFrames = 1000
	opts.Application = dca.AudioApplicationLowDelay
	return &Transport{session: s, encode: &opts}
}

// Connect joins ch deafened.
func (t *Transport) Connect(ctx context.Context, ch voice.ChannelRef) (voice.Connection, error) {
	vc, err := join(ctx, t.session, ch)
	if err != nil {
		return nil, err
	}
	return &Connection{session: t.session, ref: ch, vc: vc, encode: t.encode}, nil
}

// LookupChannel returns the first voice channel whose name matches one of
// names, case-insensitively, in the order given.
func (t *Transport) LookupChannel(ctx context.Context, guildID string, names []string) (voice.ChannelRef, error) {
	channels, err := t.guildChannels(guildID)
	if err != nil {
		return voice.ChannelRef{}, err
	}
	if ch, ok := matchVoiceChannel(channels, names); ok {
		return voice.ChannelRef{GuildID: guildID, ID: ch.ID, Name: ch.Name}, nil
	}
	return voice.ChannelRef{}, errors.Wrapf(voice.ErrChannelNotFound, "guild %s has none of %v", guildID, names)
}

// Listeners returns the members present in ch, including the bot itself.
func (t *Transport) Listeners(ctx context.Context, ch voice.ChannelRef) ([]voice.Listener, error) {
	g, err := t.session.State.Guild(ch.GuildID)
	if err != nil {
		return nil, errors.Wrapf(err, "guild %s is not cached", ch.GuildID)
	}
	botID := ""
	if t.session.State.User != nil {
		botID = t.session.State.User.ID
	}
	return listenersIn(g.VoiceStates, ch.ID, botID), nil
}

func (t *Transport) guildChannels(guildID string) ([]*discordgo.Channel, error) {
	if g, err := t.session.State.Guild(guildID); err == nil && len(g.Channels) > 0 {
		return g.Channels, nil
	}
	channels, err := t.session.GuildChannels(guildID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list channels of guild %s", guildID)
	}
	return channels, nil
}

func join(ctx context.Context, s *discordgo.Session, ch voice.ChannelRef) (*discordgo.VoiceConnection, error) {
	type result struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	done := make(chan result, 1)
	go func() {
		vc, err := s.ChannelVoiceJoin(ch.GuildID, ch.ID, false, true)
		done <- result{vc, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, errors.Wrapf(r.err, "failed to join %s", ch.Name)
		}
		zlog.Debug().Msgf("discord: joined voice: guild=%s channel=%s", ch.GuildID, ch.Name)
		return r.vc, nil
	case <-ctx.Done():
		// the join may still complete; leave once it does
		go func() {
			if r := <-done; r.err == nil {
				_ = r.vc.Disconnect()
			}
		}()
		return nil, errors.Wrapf(ctx.Err(), "joining %s did not finish", ch.Name)
	}
}

func matchVoiceChannel(channels []*discordgo.Channel, names []string) (*discordgo.Channel, bool) {
	for _, name := range names {
		for _, ch := range channels {
			if ch.Type != discordgo.ChannelTypeGuildVoice {
				continue
			}
			if strings.EqualFold(ch.Name, name) {
				return ch, true
			}
		}
	}
	return nil, false
}

func listenersIn(states []*discordgo.VoiceState, channelID, botID string) []voice.Listener {
	var out []voice.Listener
	for _, vs := range states {
		if vs.ChannelID != channelID {
			continue
		}
		out = append(out, voice.Listener{
			UserID: vs.UserID,
			Deaf:   vs.Deaf || vs.SelfDeaf,
			Self:   vs.UserID == botID,
		})
	}
	return out
}
