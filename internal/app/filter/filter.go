// Package filter provides the admission filter chain for enqueue requests.
package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/guildplay/internal/domain/track"
)

// Request represents an enqueue request being admitted.
type Request struct {
	GuildID     string
	RequesterID string
	Query       string
}

// QueueView gives filters read access to the guild's pending tracks.
type QueueView interface {
	Items() []track.QueuedTrack
}

// Stage selects when a filter runs.
type Stage int

const (
	StageQuery Stage = iota // Before resolution, on the raw query
	StageTrack              // After resolution, once per resolved track
)

// Result represents the result of a filter check.
type Result struct {
	Accepted bool
	Code     string // e.g., "url_not_allowed", "duplicate_track"
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Accepted: false, Code: code}
}

// Filter is the interface for admission filters.
type Filter interface {
	// Name returns the filter name (used in config).
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ReturnCodes returns the codes this filter can return.
	ReturnCodes() []string
	// ValidateConfig validates and stores the filter configuration.
	ValidateConfig(settings map[string]any) error
	// AppliesTo returns true if this filter runs at the given stage.
	AppliesTo(stage Stage) bool
	// Check performs the filter check. t is the zero Track at StageQuery.
	Check(ctx context.Context, req Request, t track.Track, q QueueView) Result
}

// registry holds registered filter factories.
var registry = make(map[string]func() Filter)

// Register registers a filter factory.
func Register(name string, factory func() Filter) {
	registry[name] = factory
}

// GetRegistered returns all registered filter factories.
func GetRegistered() map[string]func() Filter {
	return registry
}

// decodeSettings decodes settings into out, applies defaults and validates.
func decodeSettings(settings map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}

	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}

	if err := defaults.Set(out); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}

	validate := validator.New()
	if err := validate.Struct(out); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}
