// Package session owns per-guild playback state and exposes the command
// boundary used by the chat and control front ends.
package session

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildplay/internal/app/filter"
	"github.com/osa030/guildplay/internal/app/notification"
	"github.com/osa030/guildplay/internal/app/playback"
	"github.com/osa030/guildplay/internal/app/voice"
	"github.com/osa030/guildplay/internal/domain/track"
	"github.com/osa030/guildplay/internal/infra/config"
)

// Resolver resolves queries and refreshes stream locators.
type Resolver interface {
	playback.Resolver
	playback.Refresher
}

// Deps are the collaborators of a Manager. Filters, Messenger, Settings and
// Notifier may be nil.
type Deps struct {
	Transport voice.Transport
	Resolver  Resolver
	Filters   *filter.Chain
	Messenger voice.Messenger
	Settings  Settings
	Notifier  *notification.Manager
}

// EnqueueRequest is a play request from a guild member.
type EnqueueRequest struct {
	GuildID       string
	ChannelID     string // text channel for replies, may be empty
	RequesterID   string
	RequesterName string
	Query         string
}

// EnqueueResult reports what an enqueue added.
type EnqueueResult struct {
	Position int // 1-based position of the first added track
	Added    int
	Dropped  int // tracks that did not fit in the queue
	Rejected int // tracks refused by admission filters
	Titles   []string
	Playlist string
}

// SkipResult reports what a skip removed.
type SkipResult struct {
	Skipped    int
	EndOfQueue bool
}

// Manager is the command boundary over all guilds.
type Manager struct {
	registry  *Registry
	resolver  Resolver
	filters   *filter.Chain
	messenger voice.Messenger
	transport voice.Transport
	settings  Settings
	notifier  *notification.Manager

	events   chan playback.Event
	pageSize int
	maxQueue int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a session manager.
func NewManager(cfg *config.Config, deps Deps) (*Manager, error) {
	if deps.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if deps.Transport == nil {
		return nil, errors.New("voice transport is required")
	}
	if deps.Filters == nil {
		deps.Filters = filter.NewChain()
	}
	if deps.Notifier == nil {
		deps.Notifier = notification.NewManager()
	}

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan playback.Event, max(1, cfg.Playback.EventBuffer))

	m := &Manager{
		resolver:  deps.Resolver,
		filters:   deps.Filters,
		messenger: deps.Messenger,
		transport: deps.Transport,
		settings:  deps.Settings,
		notifier:  deps.Notifier,
		events:    events,
		pageSize:  max(1, cfg.Playback.PageSize),
		maxQueue:  cfg.Playback.MaxQueue,
		ctx:       ctx,
		cancel:    cancel,
	}
	m.registry = NewRegistry(RegistryConfig{
		Transport:      deps.Transport,
		Refresher:      deps.Resolver,
		Settings:       deps.Settings,
		Events:         events,
		MaxQueue:       cfg.Playback.MaxQueue,
		PollInterval:   cfg.Playback.PollInterval(),
		ResolveTimeout: cfg.Playback.ResolveTimeout(),
		ConnectTimeout: cfg.Playback.ConnectTimeout(),
		RatePerMinute:  cfg.RateLimit.PerMinute,
		Burst:          cfg.RateLimit.Burst,
		VoiceChannels:  cfg.VoiceChannelNames,
	})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.eventLoop()
	}()
	return m, nil
}

// Registry returns the guild registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Notifier returns the notification manager fed by playback events.
func (m *Manager) Notifier() *notification.Manager {
	return m.notifier
}

// Done is closed once the manager is closed.
func (m *Manager) Done() <-chan struct{} {
	return m.ctx.Done()
}

// Close tears down every guild and stops the event loop.
func (m *Manager) Close() {
	m.registry.Close()
	m.cancel()
	m.wg.Wait()
	m.notifier.Close()
}

// Enqueue resolves req.Query and appends the result to the guild's queue.
// The voice connection is established before anything is queued, so a
// connect failure leaves the queue untouched.
// A guild reset while the request is in flight fails it with
// ErrNotConnected. A failed request that leaves its guild holding nothing
// releases the guild.
func (m *Manager) Enqueue(ctx context.Context, req EnqueueRequest) (_ *EnqueueResult, err error) {
	ctx = WithReplyChannel(ctx, req.ChannelID)
	if req.Query == "" {
		return nil, m.fail(ctx, ErrEmptyQuery, nil)
	}

	g := m.registry.GetOrCreate(ctx, req.GuildID)
	g.SetReplyChannel(req.ChannelID)
	defer func() {
		if err != nil {
			m.registry.releaseIfIdle(g)
		}
	}()

	if !g.Allow() {
		return nil, m.fail(ctx, ErrRateLimited, nil)
	}

	freq := filter.Request{GuildID: req.GuildID, RequesterID: req.RequesterID, Query: req.Query}
	if res := m.filters.Precheck(ctx, freq, g.Queue); !res.Accepted {
		return nil, m.fail(ctx, &RejectedError{Code: res.Code}, nil)
	}

	g.Session.BeginResolving()
	defer g.Session.EndResolving()

	limit := g.Queue.Capacity()
	pl, err := g.Gate.Resolve(ctx, m.resolver, req.Query, limit, func() {
		m.reply(ctx, notification.KeyWaiting, nil)
	})
	if err != nil {
		return nil, m.fail(ctx, err, map[string]any{"query": req.Query})
	}
	if pl.IsPlaylist() {
		m.reply(ctx, notification.KeyPlaylistWarning, map[string]any{"limit": limit})
	}

	if g.Closed() {
		return nil, m.fail(ctx, errors.Wrap(ErrNotConnected, "guild session was reset"), nil)
	}
	accepted, rejected, code := m.filters.Admit(ctx, freq, pl.Tracks, g.Queue)
	if len(accepted) == 0 {
		return nil, m.fail(ctx, &RejectedError{Code: code}, nil)
	}

	if err := g.Connect(ctx); err != nil {
		return nil, m.fail(ctx, err, nil)
	}

	requester := track.Requester{ID: req.RequesterID, Name: req.RequesterName}
	now := time.Now()
	items := make([]track.QueuedTrack, len(accepted))
	for i, t := range accepted {
		items[i] = track.QueuedTrack{Track: t, Requester: requester, AddedAt: now}
	}

	if g.Closed() {
		return nil, m.fail(ctx, errors.Wrap(ErrNotConnected, "guild session was reset"), nil)
	}
	result := &EnqueueResult{Rejected: rejected, Playlist: pl.Title}
	if len(items) == 1 {
		pos, err := g.Queue.Push(items[0])
		if err != nil {
			return nil, m.fail(ctx, err, nil)
		}
		result.Position = pos
		result.Added = 1
	} else {
		before := g.Queue.Len()
		pushed, dropped := g.Queue.PushMany(items)
		if pushed == 0 {
			return nil, m.fail(ctx, playback.ErrQueueFull, nil)
		}
		result.Position = before + 1
		result.Added = pushed
		result.Dropped = dropped
	}
	for _, qt := range items[:result.Added] {
		result.Titles = append(result.Titles, qt.Track.Title)
	}

	if err := g.EnsureConsumer(); err != nil {
		return nil, m.fail(ctx, err, nil)
	}

	zlog.Info().Msgf("enqueued: guild=%s requester=%s added=%d dropped=%d rejected=%d position=%d",
		req.GuildID, req.RequesterName, result.Added, result.Dropped, result.Rejected, result.Position)

	if result.Added == 1 {
		m.reply(ctx, notification.KeyQueued, map[string]any{"title": result.Titles[0], "position": result.Position})
	} else {
		m.reply(ctx, notification.KeyPlaylistAdded, map[string]any{"title": pl.Title, "added": result.Added})
	}
	return result, nil
}

// Skip stops the current track and drops the next n-1 queued items.
// Skipping past the end drains the queue.
func (m *Manager) Skip(ctx context.Context, guildID string, n int) (*SkipResult, error) {
	if n < 1 {
		return nil, m.fail(ctx, &playback.IndexError{Index: n - 1, Len: 0}, map[string]any{"index": n})
	}
	g, err := m.guild(ctx, guildID)
	if err != nil {
		return nil, err
	}

	if !g.Session.State().Active() {
		return nil, m.fail(ctx, playback.ErrNotPlaying, nil)
	}
	pending := g.Queue.Len()
	dropped := g.Queue.DropFront(n - 1)
	if _, err := g.Session.Stop(); err != nil {
		return nil, m.fail(ctx, err, nil)
	}

	result := &SkipResult{Skipped: 1 + dropped, EndOfQueue: n-1 >= pending && n > 1}
	zlog.Info().Msgf("skipped: guild=%s requested=%d skipped=%d", guildID, n, result.Skipped)
	m.emit(playback.Event{GuildID: guildID, Type: playback.EventTrackSkipped, State: g.Session.State()})

	switch {
	case result.EndOfQueue:
		m.reply(ctx, notification.KeyEndOfQueue, nil)
	case n == 1:
		m.reply(ctx, notification.KeySkipped, nil)
	default:
		m.reply(ctx, notification.KeySkippedItems, map[string]any{"count": result.Skipped})
	}
	return result, nil
}

// VoteSkip records a skip ballot from userID. Only eligible listeners of the
// guild's voice channel may vote.
func (m *Manager) VoteSkip(ctx context.Context, guildID, userID string) (*playback.VoteResult, error) {
	g, err := m.guild(ctx, guildID)
	if err != nil {
		return nil, err
	}
	conn, ok := g.CurrentConnection()
	if !ok {
		return nil, m.fail(ctx, ErrNotConnected, nil)
	}

	listeners, err := m.transport.Listeners(ctx, conn.Channel())
	if err != nil {
		return nil, m.fail(ctx, errors.Mark(errors.Wrap(err, "failed to list listeners"), playback.ErrConnect), nil)
	}
	voter := false
	for _, l := range listeners {
		if l.UserID == userID && l.Eligible() {
			voter = true
			break
		}
	}
	if !voter {
		return nil, m.fail(ctx, ErrNotListening, nil)
	}

	result, err := g.Session.Vote(userID, voice.CountEligible(listeners))
	if err != nil {
		return nil, m.fail(ctx, err, nil)
	}

	zlog.Info().Msgf("vote skip: guild=%s user=%s votes=%d quorum=%d skipped=%t",
		guildID, userID, result.Votes, result.Quorum, result.Skipped)
	if result.Skipped {
		m.emit(playback.Event{GuildID: guildID, Type: playback.EventTrackSkipped, State: g.Session.State()})
		m.reply(ctx, notification.KeyVoteSkipped, nil)
	} else {
		m.reply(ctx, notification.KeyVoteAcknowledged, map[string]any{"remaining": result.Quorum - result.Votes})
	}
	return &result, nil
}

// Move moves the queued item at from to to. Indices are 0-based.
func (m *Manager) Move(ctx context.Context, guildID string, from, to int) error {
	g, err := m.guild(ctx, guildID)
	if err != nil {
		return err
	}
	if err := g.Queue.Move(from, to); err != nil {
		return m.fail(ctx, err, nil)
	}
	title := ""
	if items := g.Queue.Items(); to < len(items) {
		title = items[to].Track.Title
	}
	m.reply(ctx, notification.KeyMoved, map[string]any{"title": title, "position": to + 1})
	return nil
}

// Remove removes the inclusive index range [start, end]. Indices are 0-based.
func (m *Manager) Remove(ctx context.Context, guildID string, start, end int) ([]track.QueuedTrack, error) {
	g, err := m.guild(ctx, guildID)
	if err != nil {
		return nil, err
	}
	removed, err := g.Queue.Remove(start, end)
	if err != nil {
		// an out-of-range bound replaces this with the failing index
		return nil, m.fail(ctx, err, map[string]any{"index": end + 1})
	}
	if len(removed) == 1 {
		m.reply(ctx, notification.KeyRemovedOne, map[string]any{"start": start + 1, "title": removed[0].Track.Title})
	} else {
		m.reply(ctx, notification.KeyRemoved, map[string]any{"start": start + 1, "end": end + 1})
	}
	return removed, nil
}

// Shuffle permutes the guild's queue.
func (m *Manager) Shuffle(ctx context.Context, guildID string) error {
	g, err := m.guild(ctx, guildID)
	if err != nil {
		return err
	}
	g.Queue.Shuffle()
	m.reply(ctx, notification.KeyShuffled, nil)
	return nil
}

// QueueSnapshot returns one page of the queue starting at offset (0-based).
func (m *Manager) QueueSnapshot(ctx context.Context, guildID string, offset int) (*playback.Page, error) {
	g, err := m.guild(ctx, guildID)
	if err != nil {
		return nil, err
	}
	page, err := g.Queue.Snapshot(offset, m.pageSize)
	if err != nil {
		return nil, m.fail(ctx, err, map[string]any{"index": offset + 1})
	}
	if page.Total == 0 {
		m.reply(ctx, notification.KeyQueueEmpty, nil)
		return &page, nil
	}
	m.reply(ctx, notification.KeyQueuePage, map[string]any{"lines": FormatPage(page)})
	return &page, nil
}

// NowPlaying returns the guild's playback status.
func (m *Manager) NowPlaying(ctx context.Context, guildID string) (*playback.Status, error) {
	g, err := m.guild(ctx, guildID)
	if err != nil {
		return nil, err
	}
	st := g.Session.Status()
	if st.Current == nil {
		return &st, m.fail(ctx, playback.ErrNotPlaying, nil)
	}
	m.reply(ctx, notification.KeyNowPlaying, map[string]any{
		"title":     st.Current.Track.Title,
		"elapsed":   FormatDuration(st.Elapsed),
		"duration":  FormatDuration(st.Current.Track.Duration),
		"requester": st.Current.Requester.Name,
	})
	return &st, nil
}

// Reset discards the guild's state, whatever it is.
func (m *Manager) Reset(ctx context.Context, guildID string) error {
	if !m.registry.Teardown(guildID) {
		return m.fail(ctx, ErrNotConnected, nil)
	}
	m.emit(playback.Event{GuildID: guildID, Type: playback.EventStateChanged, State: playback.StateIdle})
	m.reply(ctx, notification.KeyReset, nil)
	return nil
}

// Pause pauses the current track.
func (m *Manager) Pause(ctx context.Context, guildID string) error {
	g, err := m.guild(ctx, guildID)
	if err != nil {
		return err
	}
	if err := g.Session.Pause(); err != nil {
		return m.fail(ctx, err, nil)
	}
	m.emit(playback.Event{GuildID: guildID, Type: playback.EventStateChanged, State: playback.StatePaused})
	m.reply(ctx, notification.KeyPaused, nil)
	return nil
}

// Resume resumes a paused track.
func (m *Manager) Resume(ctx context.Context, guildID string) error {
	g, err := m.guild(ctx, guildID)
	if err != nil {
		return err
	}
	if err := g.Session.Resume(); err != nil {
		return m.fail(ctx, err, nil)
	}
	m.emit(playback.Event{GuildID: guildID, Type: playback.EventStateChanged, State: playback.StatePlaying})
	m.reply(ctx, notification.KeyResumed, nil)
	return nil
}

// Again queues the current track, or the last finished one, once more.
func (m *Manager) Again(ctx context.Context, guildID string) (int, error) {
	g, err := m.guild(ctx, guildID)
	if err != nil {
		return 0, err
	}
	qt, err := g.Session.ReplaySource()
	if err != nil {
		return 0, m.fail(ctx, err, nil)
	}
	qt.AddedAt = time.Now()
	pos, err := g.Queue.Push(qt)
	if err != nil {
		return 0, m.fail(ctx, err, nil)
	}
	if err := g.EnsureConsumer(); err != nil {
		return 0, m.fail(ctx, err, nil)
	}
	m.reply(ctx, notification.KeyAgain, map[string]any{"title": qt.Track.Title})
	return pos, nil
}

// SetSetting stores a guild setting. Changing max_queue resizes a live
// queue, truncating from the tail.
func (m *Manager) SetSetting(ctx context.Context, guildID, key, value string) error {
	if m.settings == nil {
		return m.fail(ctx, errors.Wrap(ErrInvalidSetting, "settings storage is not configured"), map[string]any{"key": key})
	}

	switch key {
	case SettingMaxQueue:
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 || n > 1000 {
			return m.fail(ctx, errors.Wrapf(ErrInvalidSetting, "%s must be between 1 and 1000", key), map[string]any{"key": key})
		}
	case SettingVoiceChannel:
	default:
		return m.fail(ctx, errors.Wrapf(ErrInvalidSetting, "unknown setting %q", key), map[string]any{"key": key})
	}

	if err := m.settings.Set(ctx, guildID, key, value); err != nil {
		return errors.Wrapf(err, "failed to store %s", key)
	}

	if g, ok := m.registry.Get(guildID); ok && key == SettingMaxQueue {
		n, _ := strconv.Atoi(value)
		if truncated := g.Queue.Resize(n); len(truncated) > 0 {
			zlog.Info().Msgf("queue truncated: guild=%s capacity=%d removed=%d", guildID, n, len(truncated))
		}
	}
	m.reply(ctx, notification.KeySettingUpdated, map[string]any{"key": key, "value": value})
	return nil
}

// guild returns the live state of guildID. A session claiming to play with
// no consumer is force reset.
func (m *Manager) guild(ctx context.Context, guildID string) (*Guild, error) {
	g, ok := m.registry.Get(guildID)
	if !ok {
		return nil, m.fail(ctx, ErrNotConnected, nil)
	}
	if err := g.Session.Check(g.ConsumerAlive()); err != nil {
		m.registry.teardownIfCurrent(g)
		return nil, m.fail(ctx, err, nil)
	}
	return g, nil
}

func (m *Manager) emit(e playback.Event) {
	select {
	case m.events <- e:
	default:
		zlog.Warn().Msgf("event dropped: guild=%s type=%s", e.GuildID, e.Type)
	}
}

// eventLoop relays playback events to watchers and announces track changes.
func (m *Manager) eventLoop() {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("event loop panicked: %v", r)
			if m.ctx.Err() == nil {
				zlog.Info().Msg("restarting event loop")
				m.wg.Add(1)
				go func() {
					defer m.wg.Done()
					m.eventLoop()
				}()
			}
		}
	}()

	for {
		select {
		case <-m.ctx.Done():
			return
		case e := <-m.events:
			m.handleEvent(e)
		}
	}
}

func (m *Manager) handleEvent(e playback.Event) {
	zlog.Debug().Msgf("playback event: guild=%s type=%s state=%s", e.GuildID, e.Type, e.State)
	m.notifier.Broadcast(notification.FromEvent(e))

	g, ok := m.registry.Get(e.GuildID)
	if !ok {
		return
	}
	ctx := WithReplyChannel(m.ctx, g.ReplyChannel())

	switch e.Type {
	case playback.EventTrackStarted:
		if e.Track != nil {
			m.reply(ctx, notification.KeyTrackStarted, map[string]any{
				"title":     e.Track.Track.Title,
				"requester": e.Track.Requester.Name,
			})
		}
	case playback.EventTrackFailed:
		if e.Track != nil {
			m.reply(ctx, notification.KeyTrackFailed, map[string]any{"title": e.Track.Track.Title})
		}
	case playback.EventInconsistent:
		m.reply(ctx, notification.KeyInconsistent, nil)
	}
}
