package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"

	"github.com/osa030/guildplay/internal/app/notification"
	"github.com/osa030/guildplay/internal/app/voice"
)

// maxMessageLength is Discord's limit on message content.
const maxMessageLength = 2000

type sender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Messenger renders message keys through a catalog and posts them.
type Messenger struct {
	sender  sender
	catalog *notification.Catalog
}

var _ voice.Messenger = (*Messenger)(nil)

// NewMessenger creates a messenger posting through s.
func NewMessenger(s *discordgo.Session, catalog *notification.Catalog) *Messenger {
	return &Messenger{sender: s, catalog: catalog}
}

func (m *Messenger) Reply(ctx context.Context, channelID, key string, params map[string]any) error {
	text := truncate(m.catalog.Render(key, params), maxMessageLength)
	if _, err := m.sender.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx)); err != nil {
		return errors.Wrapf(err, "failed to send %s to %s", key, channelID)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
