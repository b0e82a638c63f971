package filter

import (
	"context"

	"github.com/osa030/guildplay/internal/domain/track"
)

// BlockedUserConfig represents the configuration for BlockedUserFilter.
type BlockedUserConfig struct {
	UserIDs []string `yaml:"user_ids" mapstructure:"user_ids"`
}

// BlockedUserFilter rejects requests from blocked users.
type BlockedUserFilter struct {
	blocked map[string]bool
}

func (f *BlockedUserFilter) Name() string {
	return "blocked_user_filter"
}

func (f *BlockedUserFilter) Description() string {
	return "Checks if the requester is blocked from queueing music"
}

func (f *BlockedUserFilter) ReturnCodes() []string {
	return []string{"user_blocked"}
}

func (f *BlockedUserFilter) ValidateConfig(settings map[string]any) error {
	var config BlockedUserConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.blocked = make(map[string]bool, len(config.UserIDs))
	for _, id := range config.UserIDs {
		f.blocked[id] = true
	}
	return nil
}

func (f *BlockedUserFilter) AppliesTo(stage Stage) bool {
	return stage == StageQuery
}

func (f *BlockedUserFilter) Check(ctx context.Context, req Request, t track.Track, q QueueView) Result {
	if f.blocked[req.RequesterID] {
		return Reject("user_blocked")
	}
	return Accept()
}

func init() {
	Register("blocked_user_filter", func() Filter {
		return &BlockedUserFilter{}
	})
}
