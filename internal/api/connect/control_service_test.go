package connect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/guildplay/internal/app/notification"
	"github.com/osa030/guildplay/internal/app/session"
	"github.com/osa030/guildplay/internal/app/voice"
	"github.com/osa030/guildplay/internal/app/voice/voicetest"
	"github.com/osa030/guildplay/internal/domain/playlist"
	"github.com/osa030/guildplay/internal/domain/track"
	"github.com/osa030/guildplay/internal/infra/config"
)

const testToken = "secret"

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, query string, limit int) (*playlist.Playlist, error) {
	return playlist.Single(track.New(query, "Song "+query, "loc:"+query, 2*time.Minute, nil)).Limit(limit), nil
}

func (stubResolver) Refresh(ctx context.Context, t track.Track) (string, error) {
	return t.StreamLocator, nil
}

type testServer struct {
	url       string
	manager   *session.Manager
	transport *voicetest.Transport
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{Admin: config.AdminConfig{Token: testToken}}
	require.NoError(t, defaults.Set(cfg))
	cfg.Playback.PollIntervalMs = 5
	cfg.RateLimit.Burst = 50

	transport := voicetest.NewTransport(voice.ChannelRef{ID: "vc1", Name: "music"})
	m, err := session.NewManager(cfg, session.Deps{Transport: transport, Resolver: stubResolver{}})
	require.NoError(t, err)
	t.Cleanup(m.Close)

	path, handler := NewControlServiceHandler(
		NewControlService(m),
		connect.WithInterceptors(NewAdminAuthInterceptor(testToken)),
	)
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testServer{url: srv.URL, manager: m, transport: transport}
}

func (s *testServer) call(t *testing.T, procedure, token string, fields map[string]any) (*structpb.Struct, error) {
	t.Helper()
	var opts []connect.ClientOption
	if token != "" {
		opts = append(opts, connect.WithInterceptors(NewAdminAuthInterceptor(token)))
	}
	client := connect.NewClient[structpb.Struct, structpb.Struct](http.DefaultClient, s.url+procedure, opts...)
	msg, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	res, err := client.CallUnary(context.Background(), connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func TestControlService_RequiresToken(t *testing.T) {
	s := newTestServer(t)

	for _, token := range []string{"", "wrong"} {
		_, err := s.call(t, ProcedureGuilds, token, nil)
		require.Error(t, err)
		assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
	}

	res, err := s.call(t, ProcedureGuilds, testToken, nil)
	require.NoError(t, err)
	assert.Empty(t, res.GetFields()["guilds"].GetListValue().GetValues())
}

func TestControlService_EnqueueAndQueue(t *testing.T) {
	s := newTestServer(t)

	res, err := s.call(t, ProcedureEnqueue, testToken, map[string]any{"guild_id": "g1", "query": "a", "requester_name": "cli"})
	require.NoError(t, err)
	assert.Equal(t, float64(1), res.GetFields()["added"].GetNumberValue())

	require.Eventually(t, func() bool {
		np, err := s.call(t, ProcedureNowPlaying, testToken, map[string]any{"guild_id": "g1"})
		return err == nil && np.GetFields()["state"].GetStringValue() == "playing"
	}, 2*time.Second, 10*time.Millisecond)

	for _, q := range []string{"b", "c"} {
		_, err := s.call(t, ProcedureEnqueue, testToken, map[string]any{"guild_id": "g1", "query": q})
		require.NoError(t, err)
	}
	_, err = s.call(t, ProcedureMove, testToken, map[string]any{"guild_id": "g1", "from": 1, "to": 0})
	require.NoError(t, err)

	page, err := s.call(t, ProcedureQueue, testToken, map[string]any{"guild_id": "g1"})
	require.NoError(t, err)
	items := page.GetFields()["items"].GetListValue().GetValues()
	require.Len(t, items, 2)
	assert.Equal(t, "Song c", items[0].GetStructValue().GetFields()["title"].GetStringValue())
	assert.Equal(t, float64(2), page.GetFields()["total"].GetNumberValue())

	guilds, err := s.call(t, ProcedureGuilds, testToken, nil)
	require.NoError(t, err)
	list := guilds.GetFields()["guilds"].GetListValue().GetValues()
	require.Len(t, list, 1)
	assert.Equal(t, "g1", list[0].GetStructValue().GetFields()["guild_id"].GetStringValue())
}

func TestControlService_ErrorCodes(t *testing.T) {
	s := newTestServer(t)

	_, err := s.call(t, ProcedureSkip, testToken, map[string]any{"guild_id": "nope"})
	require.Error(t, err)
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
	var ce *connect.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, notification.KeyNotConnected, ce.Meta().Get(MessageKeyHeader))

	_, err = s.call(t, ProcedureEnqueue, testToken, map[string]any{"guild_id": "g1", "query": " "})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = s.call(t, ProcedureEnqueue, testToken, map[string]any{"guild_id": "g1", "query": "a"})
	require.NoError(t, err)
	_, err = s.call(t, ProcedureRemove, testToken, map[string]any{"guild_id": "g1", "start": 5})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = s.call(t, ProcedureSetSetting, testToken, map[string]any{"guild_id": "g1", "key": "volume", "value": "3"})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestControlService_Watch(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := connect.NewClient[structpb.Struct, structpb.Struct](
		http.DefaultClient, s.url+ProcedureWatch,
		connect.WithInterceptors(NewAdminAuthInterceptor(testToken)),
	)
	req, err := structpb.NewStruct(map[string]any{"guild_id": "g1"})
	require.NoError(t, err)
	stream, err := client.CallServerStream(ctx, connect.NewRequest(req))
	require.NoError(t, err)
	defer stream.Close()

	require.Eventually(t, func() bool {
		return s.manager.Notifier().SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err = s.call(t, ProcedureEnqueue, testToken, map[string]any{"guild_id": "g1", "query": "a"})
	require.NoError(t, err)

	for stream.Receive() {
		fields := stream.Msg().GetFields()
		assert.Equal(t, "g1", fields["guild_id"].GetStringValue())
		if fields["type"].GetStringValue() == "track_started" {
			assert.Equal(t, "Song a", fields["title"].GetStringValue())
			return
		}
	}
	t.Fatalf("stream ended without track_started: %v", stream.Err())
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want connect.Code
	}{
		{"not connected", session.ErrNotConnected, connect.CodeNotFound},
		{"rejected", &session.RejectedError{Code: "too_long"}, connect.CodePermissionDenied},
		{"rate limited", session.ErrRateLimited, connect.CodeResourceExhausted},
		{"no channel", session.ErrNoVoiceChannel, connect.CodeUnavailable},
		{"canceled", context.Canceled, connect.CodeCanceled},
		{"unknown", assert.AnError, connect.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, codeOf(tt.err))
		})
	}
}
