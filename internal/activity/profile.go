// Package activity supplies user activity profiles and the notification timing
// rules derived from them.
package activity

import (
	"context"
	"sync"

	engineerrors "plantcare-engine/internal/errors"
	"plantcare-engine/pkg/types"
)

// Provider returns a user's activity profile
type Provider interface {
	Get(ctx context.Context, userID string) (*types.ActivityProfile, error)
}

// DefaultProfile is used for users without a stored profile: quiet from 22:00 to 07:00 UTC
func DefaultProfile(userID string) *types.ActivityProfile {
	return &types.ActivityProfile{
		UserID:          userID,
		PreferredTimes:  []types.TimeOfDay{{Hour: 9}, {Hour: 18}},
		QuietHoursStart: types.TimeOfDay{Hour: 22},
		QuietHoursEnd:   types.TimeOfDay{Hour: 7},
		MostActiveHours: []int{8, 9, 18, 19, 20},
	}
}

// StaticProvider serves profiles from memory and falls back to DefaultProfile
type StaticProvider struct {
	mu       sync.RWMutex
	profiles map[string]types.ActivityProfile
}

// NewStaticProvider creates a provider seeded with profiles
func NewStaticProvider(profiles ...types.ActivityProfile) *StaticProvider {
	p := &StaticProvider{profiles: make(map[string]types.ActivityProfile, len(profiles))}
	for _, profile := range profiles {
		p.profiles[profile.UserID] = profile
	}
	return p
}

// Put stores or replaces a profile
func (p *StaticProvider) Put(profile types.ActivityProfile) error {
	if profile.UserID == "" {
		return engineerrors.NewValidationError("user_id", "required")
	}
	if err := ValidateProfile(&profile); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles[profile.UserID] = profile
	return nil
}

// Get implements Provider
func (p *StaticProvider) Get(ctx context.Context, userID string) (*types.ActivityProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	profile, ok := p.profiles[userID]
	p.mu.RUnlock()
	if !ok {
		return DefaultProfile(userID), nil
	}
	return copyProfile(&profile), nil
}

// ValidateProfile checks hour ranges
func ValidateProfile(profile *types.ActivityProfile) error {
	for _, h := range profile.MostActiveHours {
		if h < 0 || h > 23 {
			return engineerrors.NewValidationError("most_active_hours", "hours must be within 0..23")
		}
	}
	for _, t := range append([]types.TimeOfDay{profile.QuietHoursStart, profile.QuietHoursEnd}, profile.PreferredTimes...) {
		if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
			return engineerrors.NewValidationError("time_of_day", "invalid time "+t.String())
		}
	}
	return nil
}

func copyProfile(p *types.ActivityProfile) *types.ActivityProfile {
	c := *p
	c.PreferredTimes = append([]types.TimeOfDay(nil), p.PreferredTimes...)
	c.MostActiveHours = append([]int(nil), p.MostActiveHours...)
	return &c
}
