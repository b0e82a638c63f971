package filter

import (
	"context"
	"regexp"
	"strings"

	"github.com/osa030/guildplay/internal/domain/track"
)

var (
	remasterPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*-?\s*\d{4}\s+remaster(ed)?`),      // "- 2011 Remaster"
		regexp.MustCompile(`\s*\(remaster(ed)?\s*\d{0,4}\)`),     // "(Remastered 2023)"
		regexp.MustCompile(`\s*\[remaster(ed)?\s*\d{0,4}\]`),     // "[Remastered]"
		regexp.MustCompile(`\s*-?\s*remaster(ed)?(\s+version)?`), // "- Remastered"
		regexp.MustCompile(`\s*\(.*?remaster.*?\)`),              // "(Any Remaster text)"
		regexp.MustCompile(`\s*\[.*?remaster.*?\]`),              // "[Any Remaster text]"
	}
	versionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*\(.*?version\)`),                          // "(Single Version)"
		regexp.MustCompile(`\s*\(.*?edit\)`),                             // "(Radio Edit)"
		regexp.MustCompile(`\s*\(official\s+(music\s+)?(video|audio)\)`), // "(Official Video)"
		regexp.MustCompile(`\s*\[official\s+(music\s+)?(video|audio)\]`), // "[Official Audio]"
		regexp.MustCompile(`\s*\(lyrics?\)`),                             // "(Lyrics)"
		regexp.MustCompile(`\s*-?\s*radio\s+edit`),                       // "- Radio Edit"
		regexp.MustCompile(`\s*-?\s*single\s+version`),                   // "- Single Version"
	}
	whitespace = regexp.MustCompile(`\s+`)
)

// DuplicateTrackFilter checks for duplicate tracks in the queue.
// Detects:
// - Exact track ID or page URL matches
// - Remasters and re-uploads (normalized title + same uploader)
// Excludes:
// - Covers (same title but different uploader)
type DuplicateTrackFilter struct{}

// NewDuplicateTrackFilter creates a new duplicate track filter.
func NewDuplicateTrackFilter() *DuplicateTrackFilter {
	return &DuplicateTrackFilter{}
}

// Name returns the filter name.
func (f *DuplicateTrackFilter) Name() string {
	return "duplicate_track_filter"
}

// Description returns the filter description.
func (f *DuplicateTrackFilter) Description() string {
	return "Rejects tracks already waiting in the queue, including remasters; covers are allowed"
}

// ReturnCodes returns possible return codes.
func (f *DuplicateTrackFilter) ReturnCodes() []string {
	return []string{"duplicate_track"}
}

// AppliesTo returns the stage this filter runs at.
func (f *DuplicateTrackFilter) AppliesTo(stage Stage) bool {
	return stage == StageTrack
}

// ValidateConfig validates the filter configuration.
func (f *DuplicateTrackFilter) ValidateConfig(config map[string]any) error {
	// No configuration needed
	return nil
}

// Check checks if the track is a duplicate.
func (f *DuplicateTrackFilter) Check(ctx context.Context, req Request, requested track.Track, q QueueView) Result {
	if q == nil {
		return Accept()
	}

	for _, queued := range q.Items() {
		// 1. Exact match
		if requested.ID != "" && queued.Track.ID == requested.ID {
			return Reject("duplicate_track")
		}
		if page := requested.Meta(track.MetaPageURL); page != "" && queued.Track.Meta(track.MetaPageURL) == page {
			return Reject("duplicate_track")
		}

		// 2. Remaster detection: normalized title + same uploader
		if f.isRemaster(queued.Track, requested) {
			return Reject("duplicate_track")
		}
	}

	return Accept()
}

// isRemaster checks if two tracks are the same song (remaster/different version).
func (f *DuplicateTrackFilter) isRemaster(track1, track2 track.Track) bool {
	if normalizeTrackName(track1.Title) != normalizeTrackName(track2.Title) {
		return false
	}

	// Same normalized name - if different uploaders, it's a cover (allowed)
	return isSameUploader(track1, track2)
}

// normalizeTrackName removes remaster information and version details.
func normalizeTrackName(name string) string {
	normalized := strings.ToLower(name)

	for _, pattern := range remasterPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}
	for _, pattern := range versionPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}

	normalized = strings.TrimSpace(normalized)
	normalized = whitespace.ReplaceAllString(normalized, " ")
	normalized = strings.TrimRight(normalized, " -")

	return normalized
}

// isSameUploader checks if two tracks share an uploader, case-insensitively.
func isSameUploader(track1, track2 track.Track) bool {
	u1 := track1.Meta(track.MetaUploader)
	u2 := track2.Meta(track.MetaUploader)
	if u1 == "" || u2 == "" {
		return false
	}
	return strings.EqualFold(u1, u2)
}

func init() {
	Register("duplicate_track_filter", func() Filter {
		return NewDuplicateTrackFilter()
	})
}
