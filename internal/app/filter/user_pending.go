package filter

import (
	"context"

	"github.com/osa030/guildplay/internal/domain/track"
)

// UserPendingConfig represents the configuration for UserPendingFilter.
type UserPendingConfig struct {
	MaxPending int `yaml:"max_pending" mapstructure:"max_pending" default:"10" validate:"gte=1"`
}

// UserPendingFilter limits how many tracks one requester may have waiting.
type UserPendingFilter struct {
	maxPending int
}

func (f *UserPendingFilter) Name() string {
	return "user_pending_filter"
}

func (f *UserPendingFilter) Description() string {
	return "Checks how many tracks the requester already has waiting to be played"
}

func (f *UserPendingFilter) ReturnCodes() []string {
	return []string{"user_pending"}
}

func (f *UserPendingFilter) ValidateConfig(settings map[string]any) error {
	var config UserPendingConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.maxPending = config.MaxPending
	return nil
}

func (f *UserPendingFilter) AppliesTo(stage Stage) bool {
	return stage == StageTrack
}

func (f *UserPendingFilter) Check(ctx context.Context, req Request, t track.Track, q QueueView) Result {
	if q == nil || f.maxPending <= 0 {
		return Accept()
	}

	pending := 0
	for _, queued := range q.Items() {
		if queued.Requester.ID == req.RequesterID {
			pending++
		}
	}
	if pending >= f.maxPending {
		return Reject("user_pending")
	}
	return Accept()
}

func init() {
	Register("user_pending_filter", func() Filter {
		return &UserPendingFilter{}
	})
}
