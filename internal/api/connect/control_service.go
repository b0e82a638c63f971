// Package connect provides Connect RPC service implementations.
package connect

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/guildplay/internal/app/notification"
	"github.com/osa030/guildplay/internal/app/playback"
	"github.com/osa030/guildplay/internal/app/session"
	"github.com/osa030/guildplay/internal/domain/track"
)

// ControlServiceName is the fully-qualified name of the control service.
const ControlServiceName = "guildplay.v1.ControlService"

// Procedure paths of the control service.
const (
	ProcedureEnqueue    = "/" + ControlServiceName + "/Enqueue"
	ProcedureSkip       = "/" + ControlServiceName + "/Skip"
	ProcedureVoteSkip   = "/" + ControlServiceName + "/VoteSkip"
	ProcedureMove       = "/" + ControlServiceName + "/Move"
	ProcedureRemove     = "/" + ControlServiceName + "/Remove"
	ProcedureShuffle    = "/" + ControlServiceName + "/Shuffle"
	ProcedureQueue      = "/" + ControlServiceName + "/Queue"
	ProcedureNowPlaying = "/" + ControlServiceName + "/NowPlaying"
	ProcedureReset      = "/" + ControlServiceName + "/Reset"
	ProcedurePause      = "/" + ControlServiceName + "/Pause"
	ProcedureResume     = "/" + ControlServiceName + "/Resume"
	ProcedureAgain      = "/" + ControlServiceName + "/Again"
	ProcedureSetSetting = "/" + ControlServiceName + "/SetSetting"
	ProcedureGuilds     = "/" + ControlServiceName + "/Guilds"
	ProcedureWatch      = "/" + ControlServiceName + "/Watch"
)

var errStreamClosed = errors.New("watch stream closed")

type (
	request  = connect.Request[structpb.Struct]
	response = connect.Response[structpb.Struct]
)

// ControlService exposes the session manager over Connect. Requests and
// responses are structpb.Struct messages; indices are 0-based.
type ControlService struct {
	session *session.Manager
}

// NewControlService creates a new ControlService.
func NewControlService(m *session.Manager) *ControlService {
	return &ControlService{session: m}
}

// NewControlServiceHandler builds an HTTP handler serving every procedure.
func NewControlServiceHandler(svc *ControlService, opts ...connect.HandlerOption) (string, http.Handler) {
	unary := map[string]func(context.Context, *request) (*response, error){
		ProcedureEnqueue:    svc.Enqueue,
		ProcedureSkip:       svc.Skip,
		ProcedureVoteSkip:   svc.VoteSkip,
		ProcedureMove:       svc.Move,
		ProcedureRemove:     svc.Remove,
		ProcedureShuffle:    svc.Shuffle,
		ProcedureQueue:      svc.Queue,
		ProcedureNowPlaying: svc.NowPlaying,
		ProcedureReset:      svc.Reset,
		ProcedurePause:      svc.Pause,
		ProcedureResume:     svc.Resume,
		ProcedureAgain:      svc.Again,
		ProcedureSetSetting: svc.SetSetting,
		ProcedureGuilds:     svc.Guilds,
	}

	mux := http.NewServeMux()
	for procedure, fn := range unary {
		mux.Handle(procedure, connect.NewUnaryHandler(procedure, fn, opts...))
	}
	mux.Handle(ProcedureWatch, connect.NewServerStreamHandler(ProcedureWatch, svc.Watch, opts...))
	return "/" + ControlServiceName + "/", mux
}

// Enqueue resolves a query and queues the result.
func (s *ControlService) Enqueue(ctx context.Context, req *request) (*response, error) {
	msg := req.Msg
	res, err := s.session.Enqueue(ctx, session.EnqueueRequest{
		GuildID:       stringField(msg, "guild_id"),
		ChannelID:     stringField(msg, "channel_id"),
		RequesterID:   stringField(msg, "requester_id"),
		RequesterName: stringField(msg, "requester_name"),
		Query:         stringField(msg, "query"),
	})
	if err != nil {
		return nil, connectError(err)
	}
	titles := make([]any, len(res.Titles))
	for i, t := range res.Titles {
		titles[i] = t
	}
	return reply(map[string]any{
		"position": res.Position,
		"added":    res.Added,
		"dropped":  res.Dropped,
		"rejected": res.Rejected,
		"playlist": res.Playlist,
		"titles":   titles,
	})
}

// Skip skips count tracks, 1 when unset.
func (s *ControlService) Skip(ctx context.Context, req *request) (*response, error) {
	res, err := s.session.Skip(ctx, stringField(req.Msg, "guild_id"), intField(req.Msg, "count", 1))
	if err != nil {
		return nil, connectError(err)
	}
	return reply(map[string]any{"skipped": res.Skipped, "end_of_queue": res.EndOfQueue})
}

// VoteSkip casts a skip ballot for user_id.
func (s *ControlService) VoteSkip(ctx context.Context, req *request) (*response, error) {
	res, err := s.session.VoteSkip(ctx, stringField(req.Msg, "guild_id"), stringField(req.Msg, "user_id"))
	if err != nil {
		return nil, connectError(err)
	}
	return reply(map[string]any{"votes": res.Votes, "quorum": res.Quorum, "skipped": res.Skipped})
}

// Move moves the item at from to to.
func (s *ControlService) Move(ctx context.Context, req *request) (*response, error) {
	if err := s.session.Move(ctx, stringField(req.Msg, "guild_id"), intField(req.Msg, "from", 0), intField(req.Msg, "to", 0)); err != nil {
		return nil, connectError(err)
	}
	return reply(nil)
}

// Remove removes [start, end]; end defaults to start.
func (s *ControlService) Remove(ctx context.Context, req *request) (*response, error) {
	start := intField(req.Msg, "start", 0)
	removed, err := s.session.Remove(ctx, stringField(req.Msg, "guild_id"), start, intField(req.Msg, "end", start))
	if err != nil {
		return nil, connectError(err)
	}
	return reply(map[string]any{"removed": trackList(removed)})
}

// Shuffle shuffles the queue.
func (s *ControlService) Shuffle(ctx context.Context, req *request) (*response, error) {
	if err := s.session.Shuffle(ctx, stringField(req.Msg, "guild_id")); err != nil {
		return nil, connectError(err)
	}
	return reply(nil)
}

// Queue returns a page of the queue starting at offset.
func (s *ControlService) Queue(ctx context.Context, req *request) (*response, error) {
	page, err := s.session.QueueSnapshot(ctx, stringField(req.Msg, "guild_id"), intField(req.Msg, "offset", 0))
	if err != nil {
		return nil, connectError(err)
	}
	return reply(map[string]any{
		"items":              trackList(page.Items),
		"offset":             page.Offset,
		"total":              page.Total,
		"omitted":            page.Omitted,
		"capacity":           page.Capacity,
		"total_duration_sec": page.TotalDuration.Seconds(),
	})
}

// NowPlaying returns the guild's playback status.
func (s *ControlService) NowPlaying(ctx context.Context, req *request) (*response, error) {
	st, err := s.session.NowPlaying(ctx, stringField(req.Msg, "guild_id"))
	if err != nil {
		return nil, connectError(err)
	}
	return reply(statusFields(st))
}

// Reset discards the guild's playback state.
func (s *ControlService) Reset(ctx context.Context, req *request) (*response, error) {
	if err := s.session.Reset(ctx, stringField(req.Msg, "guild_id")); err != nil {
		return nil, connectError(err)
	}
	return reply(nil)
}

// Pause pauses playback.
func (s *ControlService) Pause(ctx context.Context, req *request) (*response, error) {
	if err := s.session.Pause(ctx, stringField(req.Msg, "guild_id")); err != nil {
		return nil, connectError(err)
	}
	return reply(nil)
}

// Resume resumes playback.
func (s *ControlService) Resume(ctx context.Context, req *request) (*response, error) {
	if err := s.session.Resume(ctx, stringField(req.Msg, "guild_id")); err != nil {
		return nil, connectError(err)
	}
	return reply(nil)
}

// Again queues the current or last track again.
func (s *ControlService) Again(ctx context.Context, req *request) (*response, error) {
	pos, err := s.session.Again(ctx, stringField(req.Msg, "guild_id"))
	if err != nil {
		return nil, connectError(err)
	}
	return reply(map[string]any{"position": pos})
}

// SetSetting stores a guild setting.
func (s *ControlService) SetSetting(ctx context.Context, req *request) (*response, error) {
	msg := req.Msg
	if err := s.session.SetSetting(ctx, stringField(msg, "guild_id"), stringField(msg, "key"), stringField(msg, "value")); err != nil {
		return nil, connectError(err)
	}
	return reply(nil)
}

// Guilds lists guilds with live playback state.
func (s *ControlService) Guilds(ctx context.Context, req *request) (*response, error) {
	registry := s.session.Registry()
	var guilds []any
	for _, id := range registry.Guilds() {
		g, ok := registry.Get(id)
		if !ok {
			continue
		}
		st := g.Session.Status()
		fields := statusFields(&st)
		fields["guild_id"] = id
		fields["session_id"] = g.SessionID
		fields["queue_length"] = g.Queue.Len()
		fields["capacity"] = g.Queue.Capacity()
		fields["consumer_alive"] = g.ConsumerAlive()
		guilds = append(guilds, fields)
	}
	return reply(map[string]any{"guilds": guilds})
}

// Watch streams playback notifications, optionally for one guild, until the
// client goes away or the server shuts down.
func (s *ControlService) Watch(ctx context.Context, req *request, stream *connect.ServerStream[structpb.Struct]) error {
	guildID := stringField(req.Msg, "guild_id")
	notifier := s.session.Notifier()

	adapter := &watchStream{stream: stream}
	subscriptionID := notifier.Subscribe(guildID, adapter)
	defer adapter.close()
	defer notifier.Unsubscribe(subscriptionID)
	zlog.Info().Msgf("watch started: subscription=%s guild=%s", subscriptionID, guildID)

	select {
	case <-ctx.Done():
	case <-s.session.Done():
	}
	zlog.Info().Msgf("watch ended: subscription=%s", subscriptionID)
	return nil
}

// watchStream adapts a server stream to notification.Stream. Sends after
// close are dropped; the stream must not be written once Watch returns.
type watchStream struct {
	mu     sync.Mutex
	stream *connect.ServerStream[structpb.Struct]
	closed bool
}

func (w *watchStream) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

func (w *watchStream) Send(n *notification.Notification) error {
	msg, err := structpb.NewStruct(notificationFields(n))
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errStreamClosed
	}
	return w.stream.Send(msg)
}

func notificationFields(n *notification.Notification) map[string]any {
	return map[string]any{
		"sequence_no": float64(n.SequenceNo),
		"guild_id":    n.GuildID,
		"type":        n.Type,
		"state":       n.State,
		"title":       n.Title,
		"requester":   n.Requester,
		"error":       n.Error,
		"at":          n.At.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

func statusFields(st *playback.Status) map[string]any {
	fields := map[string]any{
		"state":       st.State.String(),
		"elapsed_sec": st.Elapsed.Seconds(),
		"votes":       st.Votes,
		"resolving":   st.Resolves,
	}
	if st.Current != nil {
		fields["current"] = trackFields(*st.Current)
	}
	return fields
}

func trackList(items []track.QueuedTrack) []any {
	out := make([]any, len(items))
	for i, qt := range items {
		out[i] = trackFields(qt)
	}
	return out
}

func trackFields(qt track.QueuedTrack) map[string]any {
	return map[string]any{
		"id":           qt.Track.ID,
		"title":        qt.Track.Title,
		"duration_sec": qt.Track.Duration.Seconds(),
		"source":       qt.Track.Meta(track.MetaSource),
		"page_url":     qt.Track.Meta(track.MetaPageURL),
		"requester":    qt.Requester.Name,
	}
}

func reply(fields map[string]any) (*response, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

func stringField(s *structpb.Struct, key string) string {
	v, ok := s.GetFields()[key]
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.GetStringValue())
}

func intField(s *structpb.Struct, key string, def int) int {
	v, ok := s.GetFields()[key]
	if !ok {
		return def
	}
	if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
		return def
	}
	return int(v.GetNumberValue())
}
