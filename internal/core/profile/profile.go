// Package profile defines the application-level user record and the row
// store contract it is persisted through.
package profile

import (
	"context"
	"time"
)

// Profile is the application record keyed by user id.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	AvatarURL string    `json:"avatar_url"`
	Bio       string    `json:"bio"`
	Level     int       `json:"level"`
	TotalXP   int       `json:"total_xp"`
	EcoCoins  int       `json:"eco_coins"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName returns the best human-readable name for the profile.
func (p *Profile) DisplayName() string {
	switch {
	case p.FullName != "":
		return p.FullName
	case p.Username != "":
		return p.Username
	default:
		return p.Email
	}
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Username  *string `json:"username,omitempty"`
	FullName  *string `json:"full_name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	Bio       *string `json:"bio,omitempty"`
	Level     *int    `json:"level,omitempty"`
	TotalXP   *int    `json:"total_xp,omitempty"`
	EcoCoins  *int    `json:"eco_coins,omitempty"`

	// UpdatedAt is stamped by the session manager before the write.
	UpdatedAt time.Time `json:"updated_at"`
}

// Empty reports whether the patch changes no user-editable field.
func (p Patch) Empty() bool {
	return p.Username == nil && p.FullName == nil && p.AvatarURL == nil && p.Bio == nil &&
		p.Level == nil && p.TotalXP == nil && p.EcoCoins == nil
}

// Apply returns a copy of base with the patch applied.
func (p Patch) Apply(base Profile) Profile {
	out := base
	if p.Username != nil {
		out.Username = *p.Username
	}
	if p.FullName != nil {
		out.FullName = *p.FullName
	}
	if p.AvatarURL != nil {
		out.AvatarURL = *p.AvatarURL
	}
	if p.Bio != nil {
		out.Bio = *p.Bio
	}
	if p.Level != nil {
		out.Level = *p.Level
	}
	if p.TotalXP != nil {
		out.TotalXP = *p.TotalXP
	}
	if p.EcoCoins != nil {
		out.EcoCoins = *p.EcoCoins
	}
	if !p.UpdatedAt.IsZero() {
		out.UpdatedAt = p.UpdatedAt
	}
	return out
}

// Store is the row-based profile collaborator. A missing row is reported as a
// *fault.Error of kind NotFound carrying code PGRST116.
type Store interface {
	Select(ctx context.Context, id string) (*Profile, error)
	Insert(ctx context.Context, p Profile) (*Profile, error)
	Update(ctx context.Context, id string, patch Patch) (*Profile, error)
}
