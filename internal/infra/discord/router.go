package discord

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildplay/internal/app/notification"
	"github.com/osa030/guildplay/internal/app/playback"
	"github.com/osa030/guildplay/internal/app/session"
	"github.com/osa030/guildplay/internal/app/voice"
	"github.com/osa030/guildplay/internal/domain/track"
)

// skipAll is the count used for "skip all".
const skipAll = 1 << 20

var errUsage = errors.New("bad command usage")

// Commands is the command boundary driven by chat messages.
type Commands interface {
	Enqueue(ctx context.Context, req session.EnqueueRequest) (*session.EnqueueResult, error)
	Skip(ctx context.Context, guildID string, n int) (*session.SkipResult, error)
	VoteSkip(ctx context.Context, guildID, userID string) (*playback.VoteResult, error)
	Move(ctx context.Context, guildID string, from, to int) error
	Remove(ctx context.Context, guildID string, start, end int) ([]track.QueuedTrack, error)
	Shuffle(ctx context.Context, guildID string) error
	QueueSnapshot(ctx context.Context, guildID string, offset int) (*playback.Page, error)
	NowPlaying(ctx context.Context, guildID string) (*playback.Status, error)
	Reset(ctx context.Context, guildID string) error
	Pause(ctx context.Context, guildID string) error
	Resume(ctx context.Context, guildID string) error
	Again(ctx context.Context, guildID string) (int, error)
	SetSetting(ctx context.Context, guildID, key, value string) error
}

var _ Commands = (*session.Manager)(nil)

// Message is a chat message addressed to the bot.
type Message struct {
	GuildID    string
	ChannelID  string
	AuthorID   string
	AuthorName string
	Roles      []string // role names of the author
	Content    string
}

type command struct {
	usage      string
	privileged bool
	run        func(ctx context.Context, r *Router, msg Message, args []string) error
}

var commands = map[string]*command{
	"play": {usage: "play <url or search>", run: func(ctx context.Context, r *Router, msg Message, args []string) error {
		if len(args) == 0 {
			return errUsage
		}
		_, err := r.commands.Enqueue(ctx, session.EnqueueRequest{
			GuildID:       msg.GuildID,
			ChannelID:     msg.ChannelID,
			RequesterID:   msg.AuthorID,
			RequesterName: msg.AuthorName,
			Query:         strings.Join(args, " "),
		})
		return err
	}},
	"skip": {usage: "skip [count|all]", privileged: true, run: func(ctx context.Context, r *Router, msg Message, args []string) error {
		n := 1
		if len(args) > 0 {
			if args[0] == "all" {
				n = skipAll
			} else if v, err := strconv.Atoi(args[0]); err == nil && v > 0 {
				n = v
			}
		}
		_, err := r.commands.Skip(ctx, msg.GuildID, n)
		return err
	}},
	"voteskip": {usage: "voteskip", run: func(ctx context.Context, r *Router, msg Message, args []string) error {
		_, err := r.commands.VoteSkip(ctx, msg.GuildID, msg.AuthorID)
		return err
	}},
	"move": {usage: "move <from> <to>", run: func(ctx context.Context, r *Router, msg Message, args []string) error {
		pos, err := positions(args, 2, 2)
		if err != nil {
			return err
		}
		return r.commands.Move(ctx, msg.GuildID, pos[0], pos[1])
	}},
	"remove": {usage: "remove <start> [end]", privileged: true, run: func(ctx context.Context, r *Router, msg Message, args []string) error {
		pos, err := positions(args, 1, 2)
		if err != nil {
			return err
		}
		end := pos[len(pos)-1]
		_, err = r.commands.Remove(ctx, msg.GuildID, pos[0], end)
		return err
	}},
	"shuffle": {usage: "shuffle", privileged: true, run: func(ctx context.Context, r *Router, msg Message, args []string) error {
		return r.commands.Shuffle(ctx, msg.GuildID)
	}},
	"queue": {usage: "queue [start]", run: func(ctx context.Context, r *Router, msg Message, args []string) error {
		offset := 0
		if len(args) > 0 {
			pos, err := positions(args[:1], 1, 1)
			if err != nil {
				return err
			}
			offset = pos[0]
		}
		_, err := r.commands.QueueSnapshot(ctx, msg.GuildID, offset)
		return err
	}},
	"np": {usage: "np", run: func(ctx context.Context, r *Router, msg Message, args []string) error {
		_, err := r.commands.NowPlaying(ctx, msg.GuildID)
		return err
	}},
	"reset": {usage: "reset", privileged: true, run: func(ctx context.Context, r *Router, msg Message, args []string) error {
		return r.commands.Reset(ctx, msg.GuildID)
	}},
	"pause": {usage: "pause", privileged: true, run: func(ctx context.Context, r *Router, msg Message, args []string) error {
		return r.commands.Pause(ctx, msg.GuildID)
	}},
	"resume": {usage: "resume", privileged: true, run: func(ctx context.Context, r *Router, msg Message, args []string) error {
		return r.commands.Resume(ctx, msg.GuildID)
	}},
	"again": {usage: "again", run: func(ctx context.Context, r *Router, msg Message, args []string) error {
		_, err := r.commands.Again(ctx, msg.GuildID)
		return err
	}},
	"set": {usage: "set <key> <value>", privileged: true, run: func(ctx context.Context, r *Router, msg Message, args []string) error {
		if len(args) < 2 {
			return errUsage
		}
		return r.commands.SetSetting(ctx, msg.GuildID, args[0], strings.Join(args[1:], " "))
	}},
}

var aliases = map[string]string{
	"p":          "play",
	"playyt":     "play",
	"queued":     "queue",
	"nowplaying": "np",
	"disconnect": "reset",
}

// Router turns prefixed chat messages into command calls.
type Router struct {
	commands  Commands
	messenger voice.Messenger
	prefix    string
	roles     []string
}

// NewRouter creates a router. Privileged commands need one of roles; an
// empty roles list allows everyone.
func NewRouter(c Commands, messenger voice.Messenger, prefix string, roles []string) *Router {
	return &Router{commands: c, messenger: messenger, prefix: prefix, roles: roles}
}

// Dispatch runs the command in msg. Messages without the prefix are ignored.
// Command failures have already been replied to and are returned for logging.
func (r *Router) Dispatch(ctx context.Context, msg Message) error {
	if msg.GuildID == "" || !strings.HasPrefix(msg.Content, r.prefix) {
		return nil
	}
	fields := strings.Fields(strings.TrimPrefix(msg.Content, r.prefix))
	if len(fields) == 0 {
		return nil
	}
	name := strings.ToLower(fields[0])
	if alias, ok := aliases[name]; ok {
		name = alias
	}

	ctx = session.WithReplyChannel(ctx, msg.ChannelID)
	if name == "help" {
		r.reply(ctx, msg, notification.KeyHelp, map[string]any{"commands": r.help()})
		return nil
	}
	cmd, ok := commands[name]
	if !ok {
		return nil
	}
	if cmd.privileged && !r.allowed(msg.Roles) {
		r.reply(ctx, msg, notification.KeyForbidden, map[string]any{"command": name})
		return nil
	}

	zlog.Debug().Msgf("discord: command: guild=%s user=%s command=%s", msg.GuildID, msg.AuthorID, name)
	err := cmd.run(ctx, r, msg, fields[1:])
	if errors.Is(err, errUsage) {
		r.reply(ctx, msg, notification.KeyUsage, map[string]any{"usage": r.prefix + cmd.usage})
		return nil
	}
	return err
}

func (r *Router) allowed(have []string) bool {
	if len(r.roles) == 0 {
		return true
	}
	for _, want := range r.roles {
		for _, h := range have {
			if strings.EqualFold(want, h) {
				return true
			}
		}
	}
	return false
}

func (r *Router) help() string {
	names := make([]string, 0, len(commands))
	for _, c := range commands {
		names = append(names, "`"+r.prefix+c.usage+"`")
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func (r *Router) reply(ctx context.Context, msg Message, key string, params map[string]any) {
	if r.messenger == nil {
		return
	}
	if err := r.messenger.Reply(ctx, msg.ChannelID, key, params); err != nil {
		zlog.Warn().Err(err).Msgf("discord: reply failed: channel=%s key=%s", msg.ChannelID, key)
	}
}

// positions parses 1-based positions into 0-based indices.
func positions(args []string, minN, maxN int) ([]int, error) {
	if len(args) < minN || len(args) > maxN {
		return nil, errUsage
	}
	out := make([]int, len(args))
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return nil, errUsage
		}
		out[i] = v - 1
	}
	return out, nil
}
