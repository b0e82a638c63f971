package playback

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Errors
var (
	ErrQueueFull         = errors.New("queue is full")
	ErrResolution        = errors.New("resolution failed")
	ErrConnect           = errors.New("voice connection failed")
	ErrInconsistentState = errors.New("inconsistent playback state")
	ErrIndex             = errors.New("index out of range")
	ErrNotPlaying        = errors.New("not playing")
	ErrNotPaused         = errors.New("not paused")
	ErrNothingPlayed     = errors.New("nothing has played yet")
	ErrAlreadyVoted      = errors.New("already voted")
	ErrNoListeners       = errors.New("no eligible listeners")
)

// IndexError reports an index outside the valid range [0, Len).
type IndexError struct {
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	if e.Len == 0 {
		return fmt.Sprintf("index %d out of range: queue is empty", e.Index)
	}
	return fmt.Sprintf("index %d out of range [0, %d)", e.Index, e.Len)
}

// Is makes errors.Is(err, ErrIndex) match any IndexError.
func (e *IndexError) Is(target error) bool {
	return target == ErrIndex
}
