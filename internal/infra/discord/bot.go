// Package discord adapts a discordgo session to the voice and messaging
// ports and routes prefixed chat commands.
package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// Bot owns the gateway session.
type Bot struct {
	session *discordgo.Session
	remove  []func()
}

// New creates a bot for token. The gateway is not opened until Open.
func New(token string) (*Bot, error) {
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create discord session")
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent
	return &Bot{session: s}, nil
}

// Session returns the underlying discordgo session.
func (b *Bot) Session() *discordgo.Session {
	return b.session
}

// Route feeds guild messages to r.
func (b *Bot) Route(r *Router) {
	remove := b.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		msg := toMessage(s.State, m.Message)
		if err := r.Dispatch(context.Background(), msg); err != nil {
			zlog.Debug().Err(err).Msgf("discord: command failed: guild=%s user=%s", msg.GuildID, msg.AuthorID)
		}
	})
	b.remove = append(b.remove, remove)
}

// Open connects to the gateway.
func (b *Bot) Open() error {
	if err := b.session.Open(); err != nil {
		return errors.Wrap(err, "failed to open discord gateway")
	}
	if u := b.session.State.User; u != nil {
		zlog.Info().Msgf("discord: connected: user=%s", u.Username)
	}
	return nil
}

// Close disconnects from the gateway.
func (b *Bot) Close() error {
	for _, remove := range b.remove {
		remove()
	}
	b.remove = nil
	return errors.Wrap(b.session.Close(), "failed to close discord gateway")
}

func toMessage(state *discordgo.State, m *discordgo.Message) Message {
	msg := Message{
		GuildID:    m.GuildID,
		ChannelID:  m.ChannelID,
		AuthorID:   m.Author.ID,
		AuthorName: m.Author.Username,
		Content:    m.Content,
	}
	if m.Author.GlobalName != "" {
		msg.AuthorName = m.Author.GlobalName
	}
	if m.Member == nil {
		return msg
	}
	if m.Member.Nick != "" {
		msg.AuthorName = m.Member.Nick
	}
	for _, id := range m.Member.Roles {
		if role, err := state.Role(m.GuildID, id); err == nil {
			msg.Roles = append(msg.Roles, role.Name)
		}
	}
	return msg
}
