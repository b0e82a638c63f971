package discord

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder logs calls from the fake encoder and stream in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeEncoder struct{ rec *recorder }

func (e *fakeEncoder) Stop() error { e.rec.add("stop"); return nil }
func (e *fakeEncoder) Cleanup()    { e.rec.add("cleanup") }

type fakeStream struct {
	rec    *recorder
	mu     sync.Mutex
	paused bool
}

func (s *fakeStream) SetPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
	if paused {
		s.rec.add("pause")
	} else {
		s.rec.add("unpause")
	}
}

func newTestHandle() (*handle, *recorder, chan struct{}) {
	rec := &recorder{}
	h := &handle{
		encoder: &fakeEncoder{rec: rec},
		stream:  &fakeStream{rec: rec},
		done:    make(chan error, 1),
		stopped: make(chan struct{}),
	}
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		h.wait("g1")
	}()
	return h, rec, exited
}

func TestHandle_StopWhilePausedReleasesEncoder(t *testing.T) {
	h, rec, exited := newTestHandle()
	h.Pause()

	// a paused dca stream never writes to done
	h.Stop()
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("wait did not return after stop")
	}

	assert.True(t, h.IsDone())
	assert.Equal(t, []string{"pause", "unpause", "stop", "cleanup"}, rec.Calls())
}

func TestHandle_StreamEnd(t *testing.T) {
	h, rec, exited := newTestHandle()
	assert.False(t, h.IsDone())

	h.done <- io.EOF
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("wait did not return at end of stream")
	}
	assert.True(t, h.IsDone())
	assert.Equal(t, []string{"cleanup"}, rec.Calls())

	h.Stop()
	h.Stop()
	require.Equal(t, []string{"cleanup", "unpause", "stop"}, rec.Calls())
}
