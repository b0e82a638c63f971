package notification

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/guildplay/internal/app/playback"
	"github.com/osa030/guildplay/internal/domain/track"
)

type recordingStream struct {
	mu    sync.Mutex
	got   []*Notification
	block chan struct{}
}

func (s *recordingStream) Send(n *Notification) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return nil
}

func (s *recordingStream) received() []*Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Notification(nil), s.got...)
}

func TestManager_BroadcastFiltersByGuild(t *testing.T) {
	m := NewManager()
	all := &recordingStream{}
	g1 := &recordingStream{}
	g2 := &recordingStream{}
	m.Subscribe("", all)
	m.Subscribe("g1", g1)
	m.Subscribe("g2", g2)

	m.Broadcast(&Notification{GuildID: "g1", Type: "track_started"})
	m.Broadcast(&Notification{GuildID: "g2", Type: "track_ended"})

	require.Len(t, all.received(), 2)
	require.Len(t, g1.received(), 1)
	require.Len(t, g2.received(), 1)
	assert.Equal(t, uint64(1), g1.received()[0].SequenceNo)
	assert.Equal(t, uint64(2), g2.received()[0].SequenceNo)
}

func TestManager_SlowSubscriberDoesNotBlock(t *testing.T) {
	m := NewManager()
	m.sendTimeout = 20 * time.Millisecond
	slow := &recordingStream{block: make(chan struct{})}
	defer close(slow.block)
	fast := &recordingStream{}
	m.Subscribe("", slow)
	m.Subscribe("", fast)

	start := time.Now()
	m.Broadcast(&Notification{GuildID: "g"})
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, fast.received(), 1)
}

func TestManager_UnsubscribeAndClose(t *testing.T) {
	m := NewManager()
	s := &recordingStream{}
	id := m.Subscribe("", s)
	m.Subscribe("g", &recordingStream{})
	assert.Equal(t, 2, m.SubscriberCount())

	m.Unsubscribe(id)
	m.Broadcast(&Notification{GuildID: "g"})
	assert.Empty(t, s.received())
	assert.Equal(t, 1, m.SubscriberCount())

	m.Close()
	assert.Zero(t, m.SubscriberCount())
}

func TestFromEvent(t *testing.T) {
	qt := &track.QueuedTrack{
		Track:     track.New("1", "Song", "", time.Minute, nil),
		Requester: track.Requester{ID: "u", Name: "Alice"},
	}
	n := FromEvent(playback.Event{
		GuildID: "g",
		Type:    playback.EventTrackFailed,
		Track:   qt,
		State:   playback.StateDraining,
		Err:     errors.New("stream gone"),
	})

	assert.Equal(t, "g", n.GuildID)
	assert.Equal(t, playback.EventTrackFailed.String(), n.Type)
	assert.Equal(t, playback.StateDraining.String(), n.State)
	assert.Equal(t, "Song", n.Title)
	assert.Equal(t, "Alice", n.Requester)
	assert.Equal(t, "stream gone", n.Error)
}

func TestCatalog_Render(t *testing.T) {
	c := NewCatalog(map[string]string{KeyShuffled: "shuffled!"})

	assert.Equal(t, "shuffled!", c.Render(KeyShuffled, nil))
	assert.Equal(t, ":heavy_check_mark: Skipped 3 items.", c.Render(KeySkippedItems, map[string]any{"count": 3}))
	assert.Equal(t,
		":heavy_check_mark: Moved item `Song` to position `2`.",
		c.Render(KeyMoved, map[string]any{"title": "Song", "position": 2}))
	assert.Equal(t, "unknown.key", c.Render("unknown.key", map[string]any{"x": 1}))
	assert.Contains(t, c.Keys(), KeyReset)
}
