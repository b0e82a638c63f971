package playback

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/guildplay/internal/app/voice/voicetest"
)

func startSession(t *testing.T, title string) (*Session, *voicetest.Handle) {
	t.Helper()
	s := NewSession()
	h := &voicetest.Handle{}
	require.NoError(t, s.Prepare())
	require.NoError(t, s.Start(qt(title), h))
	return s, h
}

func TestSession_ResolvingTransitions(t *testing.T) {
	s := NewSession()
	assert.Equal(t, StateIdle, s.State())

	s.BeginResolving()
	s.BeginResolving()
	assert.Equal(t, StateResolving, s.State())

	s.EndResolving()
	assert.Equal(t, StateResolving, s.State(), "one request still resolving")

	s.EndResolving()
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_ResolvingDoesNotInterruptPlayback(t *testing.T) {
	s, _ := startSession(t, "A")

	s.BeginResolving()
	assert.Equal(t, StatePlaying, s.State())
	s.EndResolving()
	assert.Equal(t, StatePlaying, s.State())
}

func TestSession_StartRequiresPrepare(t *testing.T) {
	s := NewSession()
	err := s.Start(qt("A"), &voicetest.Handle{})
	assert.True(t, errors.Is(err, ErrInconsistentState))
}

func TestSession_PrepareWhilePlayingIsInconsistent(t *testing.T) {
	s, _ := startSession(t, "A")
	assert.True(t, errors.Is(s.Prepare(), ErrInconsistentState))
}

func TestSession_PauseResume(t *testing.T) {
	s, h := startSession(t, "A")

	assert.ErrorIs(t, s.Resume(), ErrNotPaused)

	require.NoError(t, s.Pause())
	assert.Equal(t, StatePaused, s.State())
	assert.True(t, h.Paused())
	assert.ErrorIs(t, s.Pause(), ErrNotPlaying)

	require.NoError(t, s.Resume())
	assert.Equal(t, StatePlaying, s.State())
	assert.False(t, h.Paused())
}

func TestSession_PauseWhenIdle(t *testing.T) {
	s := NewSession()
	assert.ErrorIs(t, s.Pause(), ErrNotPlaying)
	assert.ErrorIs(t, s.Resume(), ErrNotPaused)
}

func TestSession_TickOnlyWhilePlaying(t *testing.T) {
	s, _ := startSession(t, "A")

	s.Tick(time.Second)
	require.NoError(t, s.Pause())
	s.Tick(time.Second)
	require.NoError(t, s.Resume())
	s.Tick(time.Second)

	assert.Equal(t, 2*time.Second, s.Status().Elapsed)
}

func TestSession_CompleteAndSettle(t *testing.T) {
	s, _ := startSession(t, "A")

	finished := s.Complete()
	require.NotNil(t, finished)
	assert.Equal(t, "A", finished.Track.Title)
	assert.Equal(t, StateDraining, s.State())
	assert.Nil(t, s.Status().Current)

	assert.True(t, s.Settle())
	assert.Equal(t, StateIdle, s.State())
	assert.False(t, s.Settle())
}

func TestSession_SettleWithPendingResolve(t *testing.T) {
	s, _ := startSession(t, "A")
	s.BeginResolving()
	s.Complete()

	assert.False(t, s.Settle())
	assert.Equal(t, StateResolving, s.State())

	s.EndResolving()
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_Abandon(t *testing.T) {
	s := NewSession()
	require.NoError(t, s.Prepare())
	s.Abandon()
	assert.Equal(t, StateDraining, s.State())
	assert.True(t, s.Settle())
}

func TestQuorum(t *testing.T) {
	tests := []struct {
		eligible int
		expected int
	}{
		{eligible: 0, expected: 1},
		{eligible: 1, expected: 1},
		{eligible: 2, expected: 1},
		{eligible: 3, expected: 2},
		{eligible: 4, expected: 2},
		{eligible: 5, expected: 3},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, Quorum(tt.eligible), "eligible=%d", tt.eligible)
	}
}

func TestSession_Vote(t *testing.T) {
	tests := []struct {
		name         string
		eligible     int
		voters       []string
		wantSkipped  bool
		wantLastErr  error
		wantLastVote int
	}{
		{name: "single listener skips immediately", eligible: 1, voters: []string{"u1"}, wantSkipped: true},
		{name: "two listeners skip immediately", eligible: 2, voters: []string{"u1"}, wantSkipped: true},
		{name: "three listeners need two", eligible: 3, voters: []string{"u1"}, wantSkipped: false, wantLastVote: 1},
		{name: "three listeners two votes", eligible: 3, voters: []string{"u1", "u2"}, wantSkipped: true},
		{name: "duplicate vote rejected", eligible: 3, voters: []string{"u1", "u1"}, wantLastErr: ErrAlreadyVoted, wantLastVote: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, h := startSession(t, "A")

			var res VoteResult
			var err error
			for _, v := range tt.voters {
				res, err = s.Vote(v, tt.eligible)
			}

			if tt.wantLastErr != nil {
				assert.ErrorIs(t, err, tt.wantLastErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantSkipped, res.Skipped)
			assert.Equal(t, tt.wantSkipped, h.Stopped())
			if !tt.wantSkipped {
				assert.Equal(t, tt.wantLastVote, res.Votes)
			}
		})
	}
}

func TestSession_BallotsClearedOnTrackChange(t *testing.T) {
	s, _ := startSession(t, "A")
	_, err := s.Vote("u1", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Status().Votes)

	s.Complete()
	assert.Equal(t, 0, s.Status().Votes)

	require.NoError(t, s.Prepare())
	require.NoError(t, s.Start(qt("B"), &voicetest.Handle{}))
	res, err := s.Vote("u1", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Votes)
}

func TestSession_VoteWhenIdle(t *testing.T) {
	_, err := NewSession().Vote("u1", 3)
	assert.ErrorIs(t, err, ErrNotPlaying)
}

func TestSession_ReplaySource(t *testing.T) {
	s := NewSession()
	_, err := s.ReplaySource()
	assert.ErrorIs(t, err, ErrNothingPlayed)

	require.NoError(t, s.Prepare())
	require.NoError(t, s.Start(qt("A"), &voicetest.Handle{}))
	src, err := s.ReplaySource()
	require.NoError(t, err)
	assert.Equal(t, "A", src.Track.Title)

	s.Complete()
	s.Settle()
	src, err = s.ReplaySource()
	require.NoError(t, err)
	assert.Equal(t, "A", src.Track.Title)
}

func TestSession_Reset(t *testing.T) {
	s, h := startSession(t, "A")
	s.BeginResolving()

	s.Reset()

	assert.True(t, h.Stopped())
	st := s.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Nil(t, st.Current)
	assert.Equal(t, 0, st.Resolves)
	_, err := s.ReplaySource()
	assert.ErrorIs(t, err, ErrNothingPlayed)
}

func TestSession_Check(t *testing.T) {
	s, _ := startSession(t, "A")
	assert.NoError(t, s.Check(true))
	assert.True(t, errors.Is(s.Check(false), ErrInconsistentState))

	idle := NewSession()
	assert.NoError(t, idle.Check(false))
}

func TestSession_Stop(t *testing.T) {
	s, h := startSession(t, "A")

	stopped, err := s.Stop()
	require.NoError(t, err)
	assert.Equal(t, "A", stopped.Track.Title)
	assert.True(t, h.Stopped())

	_, err = NewSession().Stop()
	assert.ErrorIs(t, err, ErrNotPlaying)
}
