package stores

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/kartik102005/ecolearn/internal/core/kv"
	"github.com/kartik102005/ecolearn/internal/core/teaminvite"
	"github.com/kartik102005/ecolearn/pkg/randid"
)

// InviteStore keeps each user's team invites in the KV store under
// eco-team-invites-<userId>.
type InviteStore struct {
	kv  kv.KV
	now func() time.Time

	mu sync.Mutex
}

var _ teaminvite.Collaborator = (*InviteStore)(nil)

func NewInviteStore(store kv.KV) *InviteStore {
	return &InviteStore{kv: store, now: time.Now}
}

type inviteDoc struct {
	Seeded  bool                `json:"seeded"`
	Invites []teaminvite.Invite `json:"invites"`
}

func (s *InviteStore) load(ctx context.Context, userID string) (inviteDoc, error) {
	var doc inviteDoc
	err := s.kv.Get(ctx, teaminvite.StorageKey(userID), &doc)
	if err != nil && !kv.IsNotFound(err) {
		return inviteDoc{}, fmt.Errorf("load invites: %w", err)
	}
	return doc, nil
}

func (s *InviteStore) save(ctx context.Context, userID string, doc inviteDoc) error {
	if err := s.kv.Set(ctx, teaminvite.StorageKey(userID), doc); err != nil {
		return fmt.Errorf("save invites: %w", err)
	}
	return nil
}

// SeedDemoInvites creates two demo invites the first time userID is seen.
func (s *InviteStore) SeedDemoInvites(ctx context.Context, userID string) ([]teaminvite.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !doc.Seeded {
		now := s.now()
		doc.Seeded = true
		doc.Invites = append(doc.Invites,
			teaminvite.Invite{
				ID:        "demo-" + randid.Generate(8),
				TeamName:  "Green Guardians",
				Inviter:   "Maya Patel",
				Message:   "We're planting 100 trees this month, join us!",
				CreatedAt: now.Add(-2 * time.Hour),
			},
			teaminvite.Invite{
				ID:        "demo-" + randid.Generate(8),
				TeamName:  "Ocean Allies",
				Inviter:   "Leo Martins",
				CreatedAt: now.Add(-30 * time.Minute),
			},
		)
		if err := s.save(ctx, userID, doc); err != nil {
			return nil, err
		}
	}

	return teaminvite.Pending(doc.Invites), nil
}

// Add stores a new invite for userID, used when a team_invite event is published
// from the CLI so the invite can be listed later.
func (s *InviteStore) Add(ctx context.Context, userID string, inv teaminvite.Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if slices.ContainsFunc(doc.Invites, func(i teaminvite.Invite) bool { return i.ID == inv.ID }) {
		return nil
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = s.now()
	}
	doc.Invites = append(doc.Invites, inv)
	return s.save(ctx, userID, doc)
}

// List returns every invite for userID.
func (s *InviteStore) List(ctx context.Context, userID string) ([]teaminvite.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(ctx, userID)
	return doc.Invites, err
}

// MarkNotified flags invites as delivered. Unknown ids are ignored.
func (s *InviteStore) MarkNotified(ctx context.Context, userID string, inviteIDs []string) error {
	if len(inviteIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx, userID)
	if err != nil {
		return err
	}

	changed := false
	for i := range doc.Invites {
		if !doc.Invites[i].Notified && slices.Contains(inviteIDs, doc.Invites[i].ID) {
			doc.Invites[i].Notified = true
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.save(ctx, userID, doc)
}
