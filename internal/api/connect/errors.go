package connect

import (
	"context"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"

	"github.com/osa030/guildplay/internal/app/playback"
	"github.com/osa030/guildplay/internal/app/session"
)

// MessageKeyHeader carries the message catalog key of a failed call.
const MessageKeyHeader = "X-Message-Key"

// connectError converts a command error into a Connect error with a code
// clients can branch on.
func connectError(err error) error {
	if err == nil {
		return nil
	}
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce
	}
	ce = connect.NewError(codeOf(err), err)
	if key := session.ReplyKey(err); key != "" {
		ce.Meta().Set(MessageKeyHeader, key)
	}
	return ce
}

func codeOf(err error) connect.Code {
	switch {
	case errors.Is(err, session.ErrNotConnected):
		return connect.CodeNotFound
	case errors.Is(err, playback.ErrIndex),
		errors.Is(err, session.ErrInvalidSetting),
		errors.Is(err, session.ErrEmptyQuery),
		errors.Is(err, session.ErrNotListening):
		return connect.CodeInvalidArgument
	case errors.Is(err, session.ErrRejected):
		return connect.CodePermissionDenied
	case errors.Is(err, session.ErrRateLimited),
		errors.Is(err, playback.ErrQueueFull):
		return connect.CodeResourceExhausted
	case errors.Is(err, playback.ErrResolution):
		if errors.Is(err, context.DeadlineExceeded) {
			return connect.CodeDeadlineExceeded
		}
		return connect.CodeNotFound
	case errors.Is(err, playback.ErrConnect),
		errors.Is(err, session.ErrNoVoiceChannel):
		return connect.CodeUnavailable
	case errors.Is(err, playback.ErrNotPlaying),
		errors.Is(err, playback.ErrNotPaused),
		errors.Is(err, playback.ErrNothingPlayed),
		errors.Is(err, playback.ErrAlreadyVoted):
		return connect.CodeFailedPrecondition
	case errors.Is(err, playback.ErrInconsistentState):
		return connect.CodeAborted
	case errors.Is(err, context.Canceled):
		return connect.CodeCanceled
	default:
		return connect.CodeInternal
	}
}
