package filter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/guildplay/internal/domain/track"
)

func TestDurationLimitFilter_Check(t *testing.T) {
	tests := []struct {
		name          string
		settings      map[string]any
		trackDuration time.Duration
		shouldReject  bool
		wantCode      string
	}{
		{
			name:          "Within limits",
			settings:      map[string]any{"min_minutes": 2.0, "max_minutes": 5.0},
			trackDuration: 3 * time.Minute,
		},
		{
			name:          "Too short",
			settings:      map[string]any{"min_minutes": 3.0},
			trackDuration: 2 * time.Minute,
			shouldReject:  true,
			wantCode:      "duration_limit_exceeded",
		},
		{
			name:          "Too long",
			settings:      map[string]any{"max_minutes": 5},
			trackDuration: 6 * time.Minute,
			shouldReject:  true,
			wantCode:      "duration_limit_exceeded",
		},
		{
			name:          "Exact max",
			settings:      map[string]any{"min_minutes": 1.0, "max_minutes": 5.0},
			trackDuration: 5 * time.Minute,
		},
		{
			name:          "Live stream allowed by default",
			settings:      map[string]any{"max_minutes": 5.0},
			trackDuration: 0,
		},
		{
			name:          "Live stream rejected",
			settings:      map[string]any{"max_minutes": 5.0, "reject_live": true},
			trackDuration: 0,
			shouldReject:  true,
			wantCode:      "live_not_allowed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewDurationLimitFilter()
			require.NoError(t, f.ValidateConfig(tt.settings))

			trk := track.New("id", "title", "", tt.trackDuration, nil)
			result := f.Check(context.Background(), Request{}, trk, nil)

			assert.Equal(t, !tt.shouldReject, result.Accepted)
			assert.Equal(t, tt.wantCode, result.Code)
		})
	}
}

func TestDurationLimitFilter_NoConfigAcceptsAll(t *testing.T) {
	f := NewDurationLimitFilter()
	result := f.Check(context.Background(), Request{}, track.New("id", "t", "", 10*time.Hour, nil), nil)
	assert.True(t, result.Accepted)
}

func TestDurationLimitFilter_ValidateConfig(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
		wantErr  bool
	}{
		{
			name:     "Valid config",
			settings: map[string]any{"min_minutes": 2.5, "max_minutes": 5.0},
		},
		{
			name:     "Valid integers",
			settings: map[string]any{"min_minutes": 2, "max_minutes": 5},
		},
		{
			name:     "Invalid min > max",
			settings: map[string]any{"min_minutes": 10.0, "max_minutes": 5.0},
			wantErr:  true,
		},
		{
			name:     "Invalid negative min",
			settings: map[string]any{"min_minutes": -1.0},
			wantErr:  true,
		},
		{
			name:     "Zero max (allowed, means no limit)",
			settings: map[string]any{"max_minutes": 0.0},
		},
		{
			name:     "Invalid negative max",
			settings: map[string]any{"max_minutes": -1.0},
			wantErr:  true,
		},
		{
			name:     "Empty settings",
			settings: map[string]any{},
		},
		{
			name:     "Nil settings",
			settings: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewDurationLimitFilter()
			err := f.ValidateConfig(tt.settings)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
