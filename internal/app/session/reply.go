package session

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildplay/internal/app/notification"
	"github.com/osa030/guildplay/internal/app/playback"
)

type replyChannelKey struct{}

// WithReplyChannel returns a context whose command replies go to channelID.
// An empty channelID disables replies.
func WithReplyChannel(ctx context.Context, channelID string) context.Context {
	return context.WithValue(ctx, replyChannelKey{}, channelID)
}

func replyChannel(ctx context.Context) string {
	ch, _ := ctx.Value(replyChannelKey{}).(string)
	return ch
}

// ReplyKey maps an error from the command boundary to its message key.
// Returns "" for errors without a user-facing message.
func ReplyKey(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotConnected):
		return notification.KeyNotConnected
	case errors.Is(err, ErrNoVoiceChannel):
		return notification.KeyNoChannel
	case errors.Is(err, ErrRateLimited):
		return notification.KeyRateLimited
	case errors.Is(err, ErrRejected):
		return notification.KeyRejected
	case errors.Is(err, ErrNotListening):
		return notification.KeyNotListening
	case errors.Is(err, ErrInvalidSetting):
		return notification.KeySettingInvalid
	case errors.Is(err, ErrEmptyQuery):
		return notification.KeyResolveError
	case errors.Is(err, playback.ErrInconsistentState):
		return notification.KeyInconsistent
	case errors.Is(err, playback.ErrQueueFull):
		return notification.KeyQueueFull
	case errors.Is(err, playback.ErrResolution):
		if errors.Is(err, context.DeadlineExceeded) {
			return notification.KeyTimeout
		}
		return notification.KeyResolveError
	case errors.Is(err, playback.ErrConnect):
		return notification.KeyConnectionError
	case errors.Is(err, playback.ErrIndex):
		return notification.KeyIndex
	case errors.Is(err, playback.ErrNotPlaying):
		return notification.KeyNothingPlaying
	case errors.Is(err, playback.ErrNotPaused):
		return notification.KeyNotPaused
	case errors.Is(err, playback.ErrNothingPlayed):
		return notification.KeyNothingPlayed
	case errors.Is(err, playback.ErrAlreadyVoted):
		return notification.KeyAlreadyVoted
	default:
		return ""
	}
}

// reply sends a message to the context's reply channel, if any.
func (m *Manager) reply(ctx context.Context, key string, params map[string]any) {
	ch := replyChannel(ctx)
	if ch == "" || m.messenger == nil {
		return
	}
	if err := m.messenger.Reply(ctx, ch, key, params); err != nil {
		zlog.Warn().Err(err).Msgf("reply failed: channel=%s key=%s", ch, key)
	}
}

// fail replies with the message for err and returns err unchanged.
func (m *Manager) fail(ctx context.Context, err error, params map[string]any) error {
	key := ReplyKey(err)
	if key == "" {
		zlog.Error().Err(err).Msg("command failed")
		return err
	}
	zlog.Debug().Err(err).Msgf("command refused: key=%s", key)

	if params == nil {
		params = map[string]any{}
	}
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		params["code"] = rejected.Code
	}
	var idx *playback.IndexError
	if errors.As(err, &idx) {
		params["index"] = idx.Index + 1
	}
	m.reply(ctx, key, params)
	return err
}
