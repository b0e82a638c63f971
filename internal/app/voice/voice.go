// Package voice defines the ports between the playback core and the chat platform.
package voice

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Errors
var (
	ErrChannelNotFound = errors.New("voice channel not found")
	ErrNotConnected    = errors.New("voice connection is not established")
)

// ChannelRef identifies a channel within a guild.
type ChannelRef struct {
	GuildID string
	ID      string
	Name    string
}

// Listener is a member present in a voice channel.
type Listener struct {
	UserID string
	Deaf   bool // server or self deafened
	Self   bool // the bot itself
}

// Eligible reports whether the listener may cast a skip ballot.
func (l Listener) Eligible() bool {
	return !l.Deaf && !l.Self
}

// CountEligible returns the number of eligible listeners.
func CountEligible(listeners []Listener) int {
	n := 0
	for _, l := range listeners {
		if l.Eligible() {
			n++
		}
	}
	return n
}

// PlaybackHandle controls one track being streamed.
type PlaybackHandle interface {
	IsDone() bool
	Stop()
	Pause()
	Resume()
}

// Connection is a live voice connection for one guild.
type Connection interface {
	Channel() ChannelRef
	IsHealthy() bool
	Reconnect(ctx context.Context) error
	Play(ctx context.Context, locator string) (PlaybackHandle, error)
	Disconnect() error
}

// Transport opens voice connections and inspects voice channels.
type Transport interface {
	Connect(ctx context.Context, ch ChannelRef) (Connection, error)
	// LookupChannel returns the first voice channel matching one of names, in order.
	LookupChannel(ctx context.Context, guildID string, names []string) (ChannelRef, error)
	Listeners(ctx context.Context, ch ChannelRef) ([]Listener, error)
}

// Messenger delivers localized replies to a text channel.
type Messenger interface {
	Reply(ctx context.Context, channelID, key string, params map[string]any) error
}
