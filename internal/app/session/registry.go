package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/osa030/guildplay/internal/app/playback"
	"github.com/osa030/guildplay/internal/app/voice"
)

// Guild setting keys.
const (
	SettingMaxQueue     = "max_queue"
	SettingVoiceChannel = "voice_channel"
)

// Settings stores per-guild configuration.
type Settings interface {
	Int(ctx context.Context, guildID, key string, def int) int
	String(ctx context.Context, guildID, key, def string) string
	Set(ctx context.Context, guildID, key, value string) error
}

// RegistryConfig holds the collaborators and tuning shared by every guild.
type RegistryConfig struct {
	Transport voice.Transport
	Refresher playback.Refresher
	Settings  Settings
	Events    chan<- playback.Event

	MaxQueue       int
	PollInterval   time.Duration
	ResolveTimeout time.Duration
	ConnectTimeout time.Duration
	RatePerMinute  float64
	Burst          int

	// VoiceChannels returns the channel names to try given a guild override.
	VoiceChannels func(override string) []string
}

// Registry owns the playback state of every guild.
type Registry struct {
	mu       sync.Mutex
	guilds   map[string]*Guild
	limiters map[string]*rate.Limiter // outlive teardown
	config   RegistryConfig

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.VoiceChannels == nil {
		cfg.VoiceChannels = func(override string) []string {
			if override == "" {
				return nil
			}
			return []string{override}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		guilds:   make(map[string]*Guild),
		limiters: make(map[string]*rate.Limiter),
		config:   cfg,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// GetOrCreate returns the guild's state, creating queue, session and gate
// together on first use. The guild's rate limiter is kept across teardown.
func (r *Registry) GetOrCreate(ctx context.Context, guildID string) *Guild {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.guilds[guildID]; ok {
		return g
	}

	capacity := r.config.MaxQueue
	if r.config.Settings != nil {
		capacity = r.config.Settings.Int(ctx, guildID, SettingMaxQueue, capacity)
	}

	limiter, ok := r.limiters[guildID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(r.config.RatePerMinute/60), r.config.Burst)
		r.limiters[guildID] = limiter
	}

	g := &Guild{
		ID:        guildID,
		SessionID: uuid.New().String(),
		Queue:     playback.NewQueue(capacity),
		Session:   playback.NewSession(),
		Gate:      playback.NewGate(r.config.ResolveTimeout),
		limiter:   limiter,
		registry:  r,
	}
	r.guilds[guildID] = g
	zlog.Info().Msgf("guild session created: guild=%s session_id=%s capacity=%d", guildID, g.SessionID, g.Queue.Capacity())
	return g
}

// Get returns the guild's state if it exists.
func (r *Registry) Get(guildID string) (*Guild, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.guilds[guildID]
	return g, ok
}

// Teardown discards the guild's state. The consumer is cancelled without
// waiting for it. Returns false if the guild had no state.
func (r *Registry) Teardown(guildID string) bool {
	r.mu.Lock()
	g, ok := r.guilds[guildID]
	if ok {
		delete(r.guilds, guildID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	g.teardown()
	zlog.Info().Msgf("guild session torn down: guild=%s session_id=%s", guildID, g.SessionID)
	return true
}

// teardownIfCurrent tears g down only if it is still the registered state
// for its guild.
func (r *Registry) teardownIfCurrent(g *Guild) {
	r.mu.Lock()
	current := r.guilds[g.ID] == g
	if current {
		delete(r.guilds, g.ID)
	}
	r.mu.Unlock()

	if current {
		g.teardown()
		zlog.Warn().Msgf("guild session force reset: guild=%s session_id=%s", g.ID, g.SessionID)
	}
}

// releaseIfIdle discards g if it is still registered and holds nothing: no
// queued items, no resolves in flight, no consumer and no voice connection.
func (r *Registry) releaseIfIdle(g *Guild) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.guilds[g.ID] != g || !g.idle() {
		return false
	}
	delete(r.guilds, g.ID)
	g.teardown()
	zlog.Debug().Msgf("idle guild session released: guild=%s session_id=%s", g.ID, g.SessionID)
	return true
}

// Guilds returns the IDs of guilds with live state, sorted.
func (r *Registry) Guilds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.guilds))
	for id := range r.guilds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close tears down every guild.
func (r *Registry) Close() {
	for _, id := range r.Guilds() {
		r.Teardown(id)
	}
	r.cancel()
}

// Guild is the playback state of one guild. Queue, Session and Gate are
// created and discarded together.
type Guild struct {
	ID        string
	SessionID string
	Queue     *playback.Queue
	Session   *playback.Session
	Gate      *playback.Gate

	limiter  *rate.Limiter
	registry *Registry

	mu           sync.Mutex // guards consumer fields, closed and replyChannel
	cancel       context.CancelFunc
	done         chan struct{}
	closed       bool
	replyChannel string

	connMu sync.Mutex
	conn   voice.Connection
}

// Allow reports whether another enqueue request may proceed now.
func (g *Guild) Allow() bool {
	return g.limiter.Allow()
}

// ReplyChannel returns the text channel announcements go to.
func (g *Guild) ReplyChannel() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.replyChannel
}

// SetReplyChannel sets the text channel announcements go to.
func (g *Guild) SetReplyChannel(channelID string) {
	if channelID == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replyChannel = channelID
}

// Closed reports whether the guild has been torn down. A closed guild
// never starts a consumer or opens a voice connection again.
func (g *Guild) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// EnsureConsumer starts the consumer loop unless one is already running.
// Fails with ErrNotConnected once the guild has been torn down.
func (g *Guild) EnsureConsumer() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return errors.Wrap(ErrNotConnected, "guild session was reset")
	}
	if g.consumerAliveLocked() {
		return nil
	}

	r := g.registry
	ctx, cancel := context.WithCancel(r.ctx)
	done := make(chan struct{})
	g.cancel = cancel
	g.done = done

	consumer := playback.NewConsumer(g.ID, g.Queue, g.Session, g, r.config.Refresher, r.config.Events, playback.ConsumerConfig{
		PollInterval:   r.config.PollInterval,
		RefreshTimeout: r.config.ResolveTimeout,
	})

	go func() {
		defer close(done)
		if err := consumer.Run(ctx); err != nil {
			zlog.Error().Err(err).Msgf("consumer failed: guild=%s", g.ID)
			r.teardownIfCurrent(g)
		}
	}()
	return nil
}

// ConsumerAlive reports whether the consumer loop is running.
func (g *Guild) ConsumerAlive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.consumerAliveLocked()
}

func (g *Guild) consumerAliveLocked() bool {
	if g.done == nil {
		return false
	}
	select {
	case <-g.done:
		return false
	default:
		return true
	}
}

// Connect makes sure the guild has a healthy voice connection.
func (g *Guild) Connect(ctx context.Context) error {
	_, err := g.Connection(ctx)
	return err
}

// Connection returns a healthy voice connection, joining or reconnecting
// as needed. Each attempt is bounded by the connect timeout.
func (g *Guild) Connection(ctx context.Context) (voice.Connection, error) {
	g.connMu.Lock()
	defer g.connMu.Unlock()

	if g.Closed() {
		return nil, errors.Wrap(ErrNotConnected, "guild session was reset")
	}

	r := g.registry
	cctx, cancel := context.WithTimeout(ctx, r.config.ConnectTimeout)
	defer cancel()

	if g.conn != nil {
		if g.conn.IsHealthy() {
			return g.conn, nil
		}
		zlog.Warn().Msgf("voice connection unhealthy, reconnecting: guild=%s channel=%s", g.ID, g.conn.Channel().Name)
		if err := g.conn.Reconnect(cctx); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "failed to reconnect"), playback.ErrConnect)
		}
		return g.conn, nil
	}

	if r.config.Transport == nil {
		return nil, errors.Mark(errors.New("no voice transport"), playback.ErrConnect)
	}

	override := ""
	if r.config.Settings != nil {
		override = r.config.Settings.String(ctx, g.ID, SettingVoiceChannel, "")
	}
	ch, err := r.config.Transport.LookupChannel(cctx, g.ID, r.config.VoiceChannels(override))
	if err != nil {
		if errors.Is(err, voice.ErrChannelNotFound) {
			return nil, errors.Mark(err, ErrNoVoiceChannel)
		}
		return nil, errors.Mark(errors.Wrap(err, "failed to look up voice channel"), playback.ErrConnect)
	}

	conn, err := r.config.Transport.Connect(cctx, ch)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to join %s", ch.Name), playback.ErrConnect)
	}
	g.conn = conn
	zlog.Info().Msgf("voice connected: guild=%s channel=%s", g.ID, ch.Name)
	return conn, nil
}

// CurrentConnection returns the voice connection without connecting.
func (g *Guild) CurrentConnection() (voice.Connection, bool) {
	g.connMu.Lock()
	defer g.connMu.Unlock()
	return g.conn, g.conn != nil
}

// idle reports whether g holds no work and no voice connection.
func (g *Guild) idle() bool {
	if g.Queue.Len() > 0 || g.ConsumerAlive() {
		return false
	}
	if st := g.Session.Status(); st.State != playback.StateIdle || st.Resolves > 0 {
		return false
	}
	_, connected := g.CurrentConnection()
	return !connected
}

// teardown closes g. The voice connection is released under connMu, so a
// connect racing with teardown is either refused or disconnected here.
func (g *Guild) teardown() {
	g.mu.Lock()
	g.closed = true
	if g.cancel != nil {
		g.cancel()
	}
	g.mu.Unlock()

	g.Session.Reset()
	g.Queue.Clear()

	g.connMu.Lock()
	conn := g.conn
	g.conn = nil
	g.connMu.Unlock()

	if conn != nil {
		if err := conn.Disconnect(); err != nil {
			zlog.Warn().Err(err).Msgf("voice disconnect failed: guild=%s", g.ID)
		}
	}
}
