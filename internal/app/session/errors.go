package session

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Errors
var (
	ErrNotConnected   = errors.New("guild has no active playback session")
	ErrNoVoiceChannel = errors.New("no voice channel to join")
	ErrRateLimited    = errors.New("too many requests")
	ErrRejected       = errors.New("request rejected")
	ErrNotListening   = errors.New("voter is not listening")
	ErrInvalidSetting = errors.New("invalid setting")
	ErrEmptyQuery     = errors.New("query is empty")
)

// RejectedError reports an admission filter rejection.
type RejectedError struct {
	Code string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("request rejected: %s", e.Code)
}

// Is makes errors.Is(err, ErrRejected) match any RejectedError.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}
