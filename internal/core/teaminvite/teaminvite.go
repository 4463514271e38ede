// Package teaminvite defines team invitations and the collaborator that
// tracks which ones the inbox has already announced.
package teaminvite

import (
	"context"
	"time"
)

// Invite is an invitation for a user to join a team.
type Invite struct {
	ID        string    `json:"id"`
	TeamName  string    `json:"teamName"`
	Inviter   string    `json:"inviter"`
	Message   string    `json:"message,omitempty"`
	Notified  bool      `json:"notified"`
	CreatedAt time.Time `json:"createdAt"`
}

// Collaborator is the team-invite source consumed by the inbox.
type Collaborator interface {
	// SeedDemoInvites creates demo invites the first time userID is seen and
	// returns every invite not yet notified.
	SeedDemoInvites(ctx context.Context, userID string) ([]Invite, error)
	// MarkNotified flags the given invites so they are not delivered again.
	MarkNotified(ctx context.Context, userID string, inviteIDs []string) error
}

// StorageKey is the persisted key of a user's invites.
func StorageKey(userID string) string {
	return "eco-team-invites-" + userID
}

// Pending returns the invites that have not been notified, oldest first.
func Pending(invites []Invite) []Invite {
	var out []Invite
	for _, inv := range invites {
		if !inv.Notified {
			out = append(out, inv)
		}
	}
	return out
}
