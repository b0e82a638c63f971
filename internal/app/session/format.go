package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/osa030/guildplay/internal/app/playback"
)

// FormatDuration renders d as mm:ss, or hh:mm:ss past an hour.
// Unknown and live durations render as ??:??.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "??:??"
	}
	total := int(d.Truncate(time.Second).Seconds())
	h, m, s := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// FormatPage renders a queue page with 1-based positions.
func FormatPage(p playback.Page) string {
	var b strings.Builder

	total := int(p.TotalDuration.Truncate(time.Second).Seconds())
	fmt.Fprintf(&b, "**Currently queued: (%d/%d)** `[%02d:%02d:%02d]`",
		p.Total, p.Capacity, total/3600, (total/60)%60, total%60)

	if p.Total == 0 {
		b.WriteString("\n`Nothing is queued.`")
		return b.String()
	}
	for i, qt := range p.Items {
		fmt.Fprintf(&b, "\n%d. `%s` `[%s]`", p.Offset+i+1, qt.Track.Title, FormatDuration(qt.Track.Duration))
	}
	if p.Omitted > 0 {
		fmt.Fprintf(&b, "\n(Omitted %d queued items.)", p.Omitted)
	}
	return b.String()
}
