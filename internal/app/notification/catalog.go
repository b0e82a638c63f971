package notification

import (
	"fmt"
	"sort"
	"strings"
)

// Message keys used by the command boundary.
const (
	KeyQueued           = "playback.queued"
	KeyPlaylistAdded    = "playback.playlist_added"
	KeyPlaylistWarning  = "playback.playlist_warning"
	KeyQueueFull        = "playback.queue_full"
	KeyWaiting          = "playback.waiting"
	KeyTimeout          = "playback.timeout"
	KeyResolveError     = "playback.resolve_error"
	KeyNoChannel        = "playback.no_channel"
	KeyConnectionError  = "playback.connection_error"
	KeyRejected         = "playback.rejected"
	KeyRateLimited      = "playback.rate_limited"
	KeyNowPlaying       = "playback.now_playing"
	KeyTrackStarted     = "playback.track_started"
	KeyTrackFailed      = "playback.track_failed"
	KeyNothingPlaying   = "playback.nothing_playing"
	KeyAgain            = "playback.again"
	KeyNothingPlayed    = "playback.nothing_played"
	KeyPaused           = "playback.paused"
	KeyResumed          = "playback.resumed"
	KeyNotPaused        = "playback.not_paused"
	KeySkipped          = "skip.current"
	KeySkippedItems     = "skip.items"
	KeyEndOfQueue       = "skip.end_of_queue"
	KeyAlreadyVoted     = "voteskip.already_voted"
	KeyVoteAcknowledged = "voteskip.acknowledged"
	KeyVoteSkipped      = "voteskip.skipped"
	KeyNotListening     = "voteskip.not_listening"
	KeyQueuePage        = "queue.page"
	KeyQueueEmpty       = "queue.empty"
	KeyIndex            = "queue.bad_index"
	KeyMoved            = "queue.moved"
	KeyRemovedOne       = "queue.removed_one"
	KeyRemoved          = "queue.removed"
	KeyShuffled         = "queue.shuffled"
	KeyReset            = "voice.reset"
	KeyNotConnected     = "voice.not_connected"
	KeyInconsistent     = "voice.inconsistent_state"
	KeySettingUpdated   = "settings.updated"
	KeySettingInvalid   = "settings.invalid"
	KeyUsage            = "command.usage"
	KeyForbidden        = "command.forbidden"
	KeyHelp             = "command.help"
)

var defaultMessages = map[string]string{
	KeyQueued:           ":heavy_check_mark: Queued `{title}` at position {position}.",
	KeyPlaylistAdded:    ":heavy_check_mark: Added {added} tracks from `{title}`.",
	KeyPlaylistWarning:  ":warning: This is a playlist. Only the first {limit} tracks will be queued.",
	KeyQueueFull:        ":x: Queue is full.",
	KeyWaiting:          ":hourglass: Another request is being resolved, please wait.",
	KeyTimeout:          ":x: Timed out while looking up `{query}`.",
	KeyResolveError:     ":x: Could not find anything playable for `{query}`.",
	KeyNoChannel:        ":x: Could not find a voice channel to join.",
	KeyConnectionError:  ":x: Could not connect to the voice channel.",
	KeyRejected:         ":x: Request rejected ({code}).",
	KeyRateLimited:      ":x: Too many requests, slow down.",
	KeyNowPlaying:       ":musical_note: Now playing `{title}` [{elapsed}/{duration}], requested by {requester}.",
	KeyTrackStarted:     ":musical_note: Playing `{title}`, requested by {requester}.",
	KeyTrackFailed:      ":x: Could not play `{title}`, skipping.",
	KeyNothingPlaying:   ":x: No song is currently playing.",
	KeyAgain:            ":heavy_check_mark: Playing `{title}` again.",
	KeyNothingPlayed:    ":x: Nothing has been played yet.",
	KeyPaused:           ":pause_button: Paused.",
	KeyResumed:          ":arrow_forward: Resumed.",
	KeyNotPaused:        ":x: Playback is not paused.",
	KeySkipped:          ":heavy_check_mark: Skipped current song.",
	KeySkippedItems:     ":heavy_check_mark: Skipped {count} items.",
	KeyEndOfQueue:       ":heavy_check_mark: Reached end of queue.",
	KeyAlreadyVoted:     ":x: You have already voted.",
	KeyVoteAcknowledged: ":heavy_check_mark: Voteskip acknowledged. `{remaining}` more votes required.",
	KeyVoteSkipped:      ":heavy_check_mark: Skipped current track.",
	KeyNotListening:     ":x: You must be listening in the voice channel to vote.",
	KeyQueuePage:        "{lines}",
	KeyQueueEmpty:       ":x: The queue is empty.",
	KeyIndex:            ":x: Queue is not as long as `{index}`.",
	KeyMoved:            ":heavy_check_mark: Moved item `{title}` to position `{position}`.",
	KeyRemovedOne:       ":heavy_check_mark: Deleted item {start} `({title})`.",
	KeyRemoved:          ":heavy_check_mark: Deleted items {start} to {end}.",
	KeyShuffled:         ":heavy_check_mark: Shuffled queue.",
	KeyReset:            ":heavy_check_mark: Voice state reset.",
	KeyNotConnected:     ":x: Not currently playing on this server.",
	KeyInconsistent:     ":x: Inconsistent internal state, resetting connection. Please try again.",
	KeySettingUpdated:   ":heavy_check_mark: Set `{key}` to `{value}`.",
	KeySettingInvalid:   ":x: Invalid value for `{key}`.",
	KeyUsage:            ":x: Usage: `{usage}`",
	KeyForbidden:        ":x: You are not allowed to use `{command}`.",
	KeyHelp:             "**Commands:** {commands}",
}

// Catalog renders message keys into text.
type Catalog struct {
	messages map[string]string
}

// NewCatalog creates a catalog of the default messages with overrides applied.
func NewCatalog(overrides map[string]string) *Catalog {
	messages := make(map[string]string, len(defaultMessages)+len(overrides))
	for k, v := range defaultMessages {
		messages[k] = v
	}
	for k, v := range overrides {
		messages[k] = v
	}
	return &Catalog{messages: messages}
}

// Render returns the message for key with {name} placeholders replaced from
// params. Unknown keys render as the key itself.
func (c *Catalog) Render(key string, params map[string]any) string {
	msg, ok := c.messages[key]
	if !ok {
		msg = key
	}
	if len(params) == 0 {
		return msg
	}

	pairs := make([]string, 0, len(params)*2)
	for name, v := range params {
		pairs = append(pairs, "{"+name+"}", fmt.Sprint(v))
	}
	return strings.NewReplacer(pairs...).Replace(msg)
}

// Keys returns all known keys in sorted order.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.messages))
	for k := range c.messages {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
