// Package main provides the admin CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"google.golang.org/protobuf/types/known/structpb"

	apiconnect "github.com/osa030/guildplay/internal/api/connect"
)

var (
	app    = kingpin.New("guildplay-admincli", "guildplay admin client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()

	guildsCmd = app.Command("guilds", "List guilds with live playback state")

	playCmd   = app.Command("play", "Queue a URL or search").Alias("p")
	playGuild = playCmd.Arg("guild-id", "Guild ID").Required().String()
	playQuery = playCmd.Arg("query", "URL or search terms").Required().Strings()
	playAs    = playCmd.Flag("as", "Requester display name").Default("admincli").String()

	statusCmd   = app.Command("status", "Show what is playing").Alias("np")
	statusGuild = statusCmd.Arg("guild-id", "Guild ID").Required().String()

	queueCmd   = app.Command("queue", "Show the queue")
	queueGuild = queueCmd.Arg("guild-id", "Guild ID").Required().String()
	queueStart = queueCmd.Arg("start", "First position to show").Default("1").Int()

	skipCmd   = app.Command("skip", "Skip tracks")
	skipGuild = skipCmd.Arg("guild-id", "Guild ID").Required().String()
	skipCount = skipCmd.Arg("count", "Number of tracks to skip").Default("1").Int()

	moveCmd   = app.Command("move", "Move a queued track")
	moveGuild = moveCmd.Arg("guild-id", "Guild ID").Required().String()
	moveFrom  = moveCmd.Arg("from", "Position to move").Required().Int()
	moveTo    = moveCmd.Arg("to", "Target position").Required().Int()

	removeCmd   = app.Command("remove", "Remove queued tracks")
	removeGuild = removeCmd.Arg("guild-id", "Guild ID").Required().String()
	removeStart = removeCmd.Arg("start", "First position to remove").Required().Int()
	removeEnd   = removeCmd.Arg("end", "Last position to remove").Int()

	shuffleCmd   = app.Command("shuffle", "Shuffle the queue")
	shuffleGuild = shuffleCmd.Arg("guild-id", "Guild ID").Required().String()

	pauseCmd   = app.Command("pause", "Pause playback")
	pauseGuild = pauseCmd.Arg("guild-id", "Guild ID").Required().String()

	resumeCmd   = app.Command("resume", "Resume playback")
	resumeGuild = resumeCmd.Arg("guild-id", "Guild ID").Required().String()

	againCmd   = app.Command("again", "Queue the current or last track again")
	againGuild = againCmd.Arg("guild-id", "Guild ID").Required().String()

	resetCmd   = app.Command("reset", "Stop playback, clear the queue and leave voice")
	resetGuild = resetCmd.Arg("guild-id", "Guild ID").Required().String()

	setCmd   = app.Command("set", "Change a guild setting")
	setGuild = setCmd.Arg("guild-id", "Guild ID").Required().String()
	setKey   = setCmd.Arg("key", "Setting key (max_queue, voice_channel)").Required().String()
	setValue = setCmd.Arg("value", "Setting value").Required().String()

	watchCmd   = app.Command("watch", "Stream playback events")
	watchGuild = watchCmd.Arg("guild-id", "Guild ID (all guilds when omitted)").String()
)

var (
	bold  = color.New(color.Bold).SprintFunc()
	green = color.New(color.FgGreen).SprintFunc()
	faint = color.New(color.Faint).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
)

type client struct {
	base string
	opts []connect.ClientOption
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *token == "" {
		fmt.Println("Error: admin token is required (use --token or ADMIN_TOKEN env)")
		os.Exit(1)
	}

	c := &client{
		base: *server,
		opts: []connect.ClientOption{connect.WithInterceptors(apiconnect.NewAdminAuthInterceptor(*token))},
	}
	ctx := context.Background()

	switch command {
	case guildsCmd.FullCommand():
		guilds(ctx, c)
	case playCmd.FullCommand():
		play(ctx, c)
	case statusCmd.FullCommand():
		printStatus(c.call(ctx, apiconnect.ProcedureNowPlaying, map[string]any{"guild_id": *statusGuild}))
	case queueCmd.FullCommand():
		printQueue(c.call(ctx, apiconnect.ProcedureQueue, map[string]any{"guild_id": *queueGuild, "offset": *queueStart - 1}))
	case skipCmd.FullCommand():
		res := c.call(ctx, apiconnect.ProcedureSkip, map[string]any{"guild_id": *skipGuild, "count": *skipCount})
		if res.GetFields()["end_of_queue"].GetBoolValue() {
			fmt.Println(green("Skipped to the end of the queue"))
		} else {
			fmt.Println(green("Skipped"))
		}
	case moveCmd.FullCommand():
		c.call(ctx, apiconnect.ProcedureMove, map[string]any{"guild_id": *moveGuild, "from": *moveFrom - 1, "to": *moveTo - 1})
		fmt.Println(green("Moved"))
	case removeCmd.FullCommand():
		end := *removeEnd
		if end == 0 {
			end = *removeStart
		}
		res := c.call(ctx, apiconnect.ProcedureRemove, map[string]any{"guild_id": *removeGuild, "start": *removeStart - 1, "end": end - 1})
		for _, v := range res.GetFields()["removed"].GetListValue().GetValues() {
			fmt.Printf("Removed %s\n", bold(field(v.GetStructValue(), "title")))
		}
	case shuffleCmd.FullCommand():
		c.call(ctx, apiconnect.ProcedureShuffle, map[string]any{"guild_id": *shuffleGuild})
		fmt.Println(green("Shuffled"))
	case pauseCmd.FullCommand():
		c.call(ctx, apiconnect.ProcedurePause, map[string]any{"guild_id": *pauseGuild})
		fmt.Println(green("Paused"))
	case resumeCmd.FullCommand():
		c.call(ctx, apiconnect.ProcedureResume, map[string]any{"guild_id": *resumeGuild})
		fmt.Println(green("Resumed"))
	case againCmd.FullCommand():
		res := c.call(ctx, apiconnect.ProcedureAgain, map[string]any{"guild_id": *againGuild})
		fmt.Printf("%s at position %d\n", green("Queued again"), int(res.GetFields()["position"].GetNumberValue()))
	case resetCmd.FullCommand():
		c.call(ctx, apiconnect.ProcedureReset, map[string]any{"guild_id": *resetGuild})
		fmt.Println(green("Reset"))
	case setCmd.FullCommand():
		c.call(ctx, apiconnect.ProcedureSetSetting, map[string]any{"guild_id": *setGuild, "key": *setKey, "value": *setValue})
		fmt.Printf("%s %s = %s\n", green("Set"), *setKey, *setValue)
	case watchCmd.FullCommand():
		watch(ctx, c, *watchGuild)
	}
}

func (c *client) call(ctx context.Context, procedure string, fields map[string]any) *structpb.Struct {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		fail(err)
	}
	rpc := connect.NewClient[structpb.Struct, structpb.Struct](http.DefaultClient, c.base+procedure, c.opts...)
	resp, err := rpc.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		fail(err)
	}
	return resp.Msg
}

func fail(err error) {
	var ce *connect.Error
	if errors.As(err, &ce) {
		fmt.Printf("%s %s (%s)\n", red("Error:"), ce.Message(), ce.Code())
		if key := ce.Meta().Get(apiconnect.MessageKeyHeader); key != "" {
			fmt.Printf("  %s\n", faint("message key: "+key))
		}
	} else {
		fmt.Printf("%s %v\n", red("Error:"), err)
	}
	os.Exit(1)
}

func play(ctx context.Context, c *client) {
	query := strings.Join(*playQuery, " ")
	res := c.call(ctx, apiconnect.ProcedureEnqueue, map[string]any{
		"guild_id":       *playGuild,
		"query":          query,
		"requester_id":   "admincli",
		"requester_name": *playAs,
	})
	f := res.GetFields()
	added := int(f["added"].GetNumberValue())
	if f["playlist"].GetStringValue() != "" {
		fmt.Printf("%s %d tracks from %s\n", green("Queued"), added, bold(f["playlist"].GetStringValue()))
	} else {
		for _, t := range f["titles"].GetListValue().GetValues() {
			fmt.Printf("%s %s at position %d\n", green("Queued"), bold(t.GetStringValue()), int(f["position"].GetNumberValue()))
		}
	}
	if dropped := int(f["dropped"].GetNumberValue()); dropped > 0 {
		fmt.Printf("  %d tracks did not fit in the queue\n", dropped)
	}
	if rejected := int(f["rejected"].GetNumberValue()); rejected > 0 {
		fmt.Printf("  %d tracks were rejected by filters\n", rejected)
	}
}

func guilds(ctx context.Context, c *client) {
	res := c.call(ctx, apiconnect.ProcedureGuilds, nil)
	list := res.GetFields()["guilds"].GetListValue().GetValues()
	fmt.Printf("Guilds (%d):\n", len(list))
	for _, v := range list {
		g := v.GetStructValue()
		line := fmt.Sprintf("  %s: %s, %d/%d queued",
			bold(field(g, "guild_id")), field(g, "state"),
			int(g.GetFields()["queue_length"].GetNumberValue()), int(g.GetFields()["capacity"].GetNumberValue()))
		if cur := g.GetFields()["current"].GetStructValue(); cur != nil {
			line += fmt.Sprintf(", playing %s", field(cur, "title"))
		}
		if !g.GetFields()["consumer_alive"].GetBoolValue() {
			line += faint(" (no consumer)")
		}
		fmt.Println(line)
	}
}

func printStatus(s *structpb.Struct) {
	f := s.GetFields()
	fmt.Printf("State: %s\n", bold(field(s, "state")))
	cur := f["current"].GetStructValue()
	if cur == nil {
		fmt.Println("No track currently playing")
		return
	}
	elapsed := seconds(f["elapsed_sec"])
	fmt.Printf("Now playing: %s [%s/%s]\n", bold(field(cur, "title")), elapsed, seconds(cur.GetFields()["duration_sec"]))
	fmt.Printf("  Requested by: %s\n", field(cur, "requester"))
	if u := field(cur, "page_url"); u != "" {
		fmt.Printf("  URL: %s\n", u)
	}
	if votes := int(f["votes"].GetNumberValue()); votes > 0 {
		fmt.Printf("  Skip votes: %d\n", votes)
	}
}

func printQueue(s *structpb.Struct) {
	f := s.GetFields()
	total := int(f["total"].GetNumberValue())
	fmt.Printf("Queued: %d/%d [%s]\n", total, int(f["capacity"].GetNumberValue()), seconds(f["total_duration_sec"]))
	offset := int(f["offset"].GetNumberValue())
	for i, v := range f["items"].GetListValue().GetValues() {
		t := v.GetStructValue()
		fmt.Printf("%3d. %s %s %s\n", offset+i+1, bold(field(t, "title")), faint("["+seconds(t.GetFields()["duration_sec"])+"]"), faint(field(t, "requester")))
	}
	if omitted := int(f["omitted"].GetNumberValue()); omitted > 0 {
		fmt.Printf("(%d more)\n", omitted)
	}
}

func watch(ctx context.Context, c *client, guildID string) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	msg, err := structpb.NewStruct(map[string]any{"guild_id": guildID})
	if err != nil {
		fail(err)
	}
	rpc := connect.NewClient[structpb.Struct, structpb.Struct](http.DefaultClient, c.base+apiconnect.ProcedureWatch, c.opts...)
	stream, err := rpc.CallServerStream(ctx, connect.NewRequest(msg))
	if err != nil {
		fail(err)
	}
	defer stream.Close()

	fmt.Println("Watching playback events. Press Ctrl+C to exit.")
	for stream.Receive() {
		printNotification(stream.Msg())
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		fmt.Printf("Stream error: %v\n", err)
	}
}

func printNotification(n *structpb.Struct) {
	line := fmt.Sprintf("[%d] %s %s %s",
		int(n.GetFields()["sequence_no"].GetNumberValue()),
		faint(field(n, "at")), field(n, "guild_id"), bold(field(n, "type")))
	if title := field(n, "title"); title != "" {
		line += " " + title
	}
	if state := field(n, "state"); state != "" {
		line += faint(" (" + state + ")")
	}
	if e := field(n, "error"); e != "" {
		line += " " + red(e)
	}
	fmt.Println(line)
}

func field(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func seconds(v *structpb.Value) string {
	d := time.Duration(v.GetNumberValue()) * time.Second
	if d <= 0 {
		return "??:??"
	}
	d = d.Round(time.Second)
	h, m, s := int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
