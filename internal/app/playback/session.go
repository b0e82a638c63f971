package playback

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/guildplay/internal/app/voice"
	"github.com/osa030/guildplay/internal/domain/track"
)

// Status is a point-in-time view of a session.
type Status struct {
	State    State
	Current  *track.QueuedTrack
	Elapsed  time.Duration
	Votes    int
	Resolves int // enqueue requests currently resolving
}

// VoteResult reports the tally after a ballot.
type VoteResult struct {
	Votes   int
	Quorum  int
	Skipped bool
}

// Quorum returns the number of ballots needed to skip with eligible listeners.
func Quorum(eligible int) int {
	return max(1, (eligible+1)/2)
}

// Session is the playback state machine of one guild.
type Session struct {
	mu sync.Mutex

	state     State
	current   *track.QueuedTrack
	elapsed   time.Duration
	handle    voice.PlaybackHandle
	ballots   map[string]struct{}
	last      *track.QueuedTrack // most recently finished track, for replay
	resolves  int                // enqueue requests inside the gate
	preparing bool               // consumer dequeued an item and is setting it up
}

// NewSession creates an idle session.
func NewSession() *Session {
	return &Session{
		state:   StateIdle,
		ballots: make(map[string]struct{}),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BeginResolving records an enqueue request entering resolution.
func (s *Session) BeginResolving() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resolves++
	if s.state == StateIdle {
		s.state = StateResolving
	}
}

// EndResolving records an enqueue request leaving resolution.
func (s *Session) EndResolving() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resolves > 0 {
		s.resolves--
	}
	if s.state == StateResolving && s.resolves == 0 && !s.preparing {
		s.state = StateIdle
	}
}

// Prepare marks the dequeued item as being set up by the consumer.
func (s *Session) Prepare() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Active() {
		return errors.Wrapf(ErrInconsistentState, "dequeued while %s", s.state)
	}
	s.state = StateResolving
	s.preparing = true
	s.current = nil
	return nil
}

// Abandon gives up on the item being prepared.
func (s *Session) Abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.preparing {
		return
	}
	s.preparing = false
	s.state = StateDraining
}

// Start moves a prepared item to Playing.
func (s *Session) Start(qt track.QueuedTrack, handle voice.PlaybackHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.preparing {
		return errors.Wrapf(ErrInconsistentState, "start without prepare in %s", s.state)
	}
	s.preparing = false
	s.state = StatePlaying
	s.current = &qt
	s.elapsed = 0
	s.handle = handle
	clear(s.ballots)
	return nil
}

// Tick adds d to elapsed time if the track is playing.
func (s *Session) Tick(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StatePlaying {
		s.elapsed += d
	}
}

// Pause pauses the current track.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePlaying {
		return ErrNotPlaying
	}
	s.handle.Pause()
	s.state = StatePaused
	return nil
}

// Resume resumes a paused track.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePaused {
		return ErrNotPaused
	}
	s.handle.Resume()
	s.state = StatePlaying
	return nil
}

// Stop stops the current handle and returns the track that was stopped.
// The consumer observes completion and advances.
func (s *Session) Stop() (*track.QueuedTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Active() || s.handle == nil {
		return nil, ErrNotPlaying
	}
	s.handle.Stop()
	return s.current, nil
}

// Complete moves a finished track to Draining and returns it.
// Returns nil if no track was active.
func (s *Session) Complete() *track.QueuedTrack {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Active() {
		return nil
	}
	finished := s.current
	s.last = finished
	s.current = nil
	s.handle = nil
	clear(s.ballots)
	s.state = StateDraining
	return finished
}

// Settle moves a draining session to Idle once the queue is empty.
// Returns true if the session became idle.
func (s *Session) Settle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateDraining {
		return false
	}
	if s.resolves > 0 {
		s.state = StateResolving
		return false
	}
	s.state = StateIdle
	return true
}

// Vote records a skip ballot from userID. eligible is the number of
// listeners allowed to vote.
func (s *Session) Vote(userID string, eligible int) (VoteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Active() || s.handle == nil {
		return VoteResult{}, ErrNotPlaying
	}
	result := VoteResult{Quorum: Quorum(eligible)}
	if _, ok := s.ballots[userID]; ok {
		result.Votes = len(s.ballots)
		return result, ErrAlreadyVoted
	}
	s.ballots[userID] = struct{}{}
	result.Votes = len(s.ballots)
	if result.Votes >= result.Quorum {
		s.handle.Stop()
		clear(s.ballots)
		result.Skipped = true
	}
	return result, nil
}

// ReplaySource returns the track "again" should re-enqueue: the current
// track while one is loaded, otherwise the last finished one.
func (s *Session) ReplaySource() (track.QueuedTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Active() && s.current != nil {
		return *s.current, nil
	}
	if s.last != nil {
		return *s.last, nil
	}
	return track.QueuedTrack{}, ErrNothingPlayed
}

// Reset stops any active handle and returns the session to Idle.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		s.handle.Stop()
	}
	s.state = StateIdle
	s.current = nil
	s.elapsed = 0
	s.handle = nil
	s.last = nil
	s.resolves = 0
	s.preparing = false
	clear(s.ballots)
}

// Check reports ErrInconsistentState when the session claims a track is
// loaded or being prepared but no consumer is running.
func (s *Session) Check(consumerAlive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if consumerAlive {
		return nil
	}
	if s.state.Active() || s.preparing || s.state == StateDraining {
		return errors.Wrapf(ErrInconsistentState, "session is %s with no consumer", s.state)
	}
	return nil
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:    s.state,
		Elapsed:  s.elapsed,
		Votes:    len(s.ballots),
		Resolves: s.resolves,
	}
	if s.current != nil {
		cur := *s.current
		st.Current = &cur
	}
	return st
}
