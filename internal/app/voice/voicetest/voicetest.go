// Package voicetest provides in-memory voice ports for tests.
package voicetest

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/osa030/guildplay/internal/app/voice"
)

// Handle is a PlaybackHandle whose completion is driven by the test.
type Handle struct {
	mu      sync.Mutex
	Locator string
	done    bool
	stopped bool
	paused  bool
}

func (h *Handle) IsDone() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done || h.stopped
}

func (h *Handle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
}

func (h *Handle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = true
}

func (h *Handle) Resume() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = false
}

// Finish marks the track as played to the end.
func (h *Handle) Finish() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.done = true
}

// Stopped reports whether Stop was called.
func (h *Handle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// Paused reports whether the handle is paused.
func (h *Handle) Paused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

// Connection records every Play call.
type Connection struct {
	mu           sync.Mutex
	ref          voice.ChannelRef
	healthy      bool
	handles      []*Handle
	reconnects   int
	disconnected bool

	PlayErr      error
	ReconnectErr error
}

// NewConnection returns a healthy connection to ref.
func NewConnection(ref voice.ChannelRef) *Connection {
	return &Connection{ref: ref, healthy: true}
}

func (c *Connection) Channel() voice.ChannelRef { return c.ref }

func (c *Connection) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy && !c.disconnected
}

// SetHealthy simulates a dropped or restored connection.
func (c *Connection) SetHealthy(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy = v
}

// SetPlayErr makes subsequent Play calls fail with err.
func (c *Connection) SetPlayErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PlayErr = err
}

func (c *Connection) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnects++
	if c.ReconnectErr != nil {
		return c.ReconnectErr
	}
	c.healthy = true
	return nil
}

func (c *Connection) Play(ctx context.Context, locator string) (voice.PlaybackHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PlayErr != nil {
		return nil, c.PlayErr
	}
	h := &Handle{Locator: locator}
	c.handles = append(c.handles, h)
	return h, nil
}

func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

// Handles returns every handle created so far.
func (c *Connection) Handles() []*Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Handle(nil), c.handles...)
}

// Last returns the most recent handle, or nil.
func (c *Connection) Last() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.handles) == 0 {
		return nil
	}
	return c.handles[len(c.handles)-1]
}

// Reconnects returns how many times Reconnect was called.
func (c *Connection) Reconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnects
}

// Disconnected reports whether Disconnect was called.
func (c *Connection) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// Transport hands out Connections and serves a fixed listener list.
type Transport struct {
	mu        sync.Mutex
	conns     []*Connection
	listeners []voice.Listener
	channels  map[string]voice.ChannelRef

	ConnectErr error
	// ConnectBlock makes Connect wait for ctx cancellation.
	ConnectBlock bool
}

// NewTransport returns a transport that knows the given channels by name.
func NewTransport(channels ...voice.ChannelRef) *Transport {
	t := &Transport{channels: make(map[string]voice.ChannelRef)}
	for _, ch := range channels {
		t.channels[ch.Name] = ch
	}
	return t
}

func (t *Transport) Connect(ctx context.Context, ch voice.ChannelRef) (voice.Connection, error) {
	t.mu.Lock()
	block := t.ConnectBlock
	err := t.ConnectErr
	t.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	c := NewConnection(ch)
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()
	return c, nil
}

func (t *Transport) LookupChannel(ctx context.Context, guildID string, names []string) (voice.ChannelRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, name := range names {
		if ch, ok := t.channels[name]; ok {
			ch.GuildID = guildID
			return ch, nil
		}
	}
	return voice.ChannelRef{}, errors.Wrapf(voice.ErrChannelNotFound, "tried %v", names)
}

func (t *Transport) Listeners(ctx context.Context, ch voice.ChannelRef) ([]voice.Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]voice.Listener(nil), t.listeners...), nil
}

// SetListeners replaces the listener list.
func (t *Transport) SetListeners(ls ...voice.Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = ls
}

// Conn returns the most recent connection, or nil.
func (t *Transport) Conn() *Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

// Connects returns how many connections were opened.
func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// Reply is one recorded Messenger call.
type Reply struct {
	ChannelID string
	Key       string
	Params    map[string]any
}

// Messenger records replies.
type Messenger struct {
	mu      sync.Mutex
	replies []Reply
}

func (m *Messenger) Reply(ctx context.Context, channelID, key string, params map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, Reply{ChannelID: channelID, Key: key, Params: params})
	return nil
}

// Keys returns the recorded reply keys in order.
func (m *Messenger) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, len(m.replies))
	for i, r := range m.replies {
		keys[i] = r.Key
	}
	return keys
}

// Has reports whether a reply with key was sent.
func (m *Messenger) Has(key string) bool {
	for _, k := range m.Keys() {
		if k == key {
			return true
		}
	}
	return false
}

// Last returns the most recent reply with key.
func (m *Messenger) Last(key string) (Reply, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.replies) - 1; i >= 0; i-- {
		if m.replies[i].Key == key {
			return m.replies[i], true
		}
	}
	return Reply{}, false
}
