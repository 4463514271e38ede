// Package notify holds the notification inbox model and the pure
// transitions applied to it.
package notify

import (
	"context"
	"maps"
	"slices"
	"time"
)

// MaxEntries caps a user's store. Older entries are evicted first.
const MaxEntries = 50

// Category groups notifications for display and counting.
type Category string

const (
	CategoryCourse Category = "course"
	CategoryTeam   Category = "team"
	CategoryStreak Category = "streak"
	CategorySystem Category = "system"
)

// Categories lists every category in display order.
var Categories = []Category{CategoryCourse, CategoryTeam, CategoryStreak, CategorySystem}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return slices.Contains(Categories, c)
}

// Notification is one inbox entry.
type Notification struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Category  Category       `json:"category"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"createdAt"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Store is a user's inbox. Order holds exactly the keys of Entities,
// newest first by CreatedAt. Values are treated as immutable; every
// transition returns a new Store.
type Store struct {
	Entities map[string]Notification `json:"entities"`
	Order    []string                `json:"order"`
}

// New returns an empty store.
func New() Store {
	return Store{Entities: map[string]Notification{}, Order: []string{}}
}

// Len returns the number of entries.
func (s Store) Len() int { return len(s.Order) }

// Get returns the entry with id.
func (s Store) Get(id string) (Notification, bool) {
	n, ok := s.Entities[id]
	return n, ok
}

func (s Store) clone() Store {
	out := Store{
		Entities: maps.Clone(s.Entities),
		Order:    slices.Clone(s.Order),
	}
	if out.Entities == nil {
		out.Entities = map[string]Notification{}
	}
	if out.Order == nil {
		out.Order = []string{}
	}
	return out
}

// sortOrder orders ids newest first. The sort is stable so an id moved to the
// front keeps precedence over an older arrival with the same timestamp.
func (s *Store) sortOrder() {
	slices.SortStableFunc(s.Order, func(a, b string) int {
		return s.Entities[b].CreatedAt.Compare(s.Entities[a].CreatedAt)
	})
}

func (s *Store) truncate(limit int) {
	if limit <= 0 || len(s.Order) <= limit {
		return
	}
	for _, id := range s.Order[limit:] {
		delete(s.Entities, id)
	}
	s.Order = s.Order[:limit]
}

// Repository persists a user's store. Load returns the sanitized store plus a
// description of every repair applied to persisted data.
type Repository interface {
	Load(ctx context.Context, userID string) (Store, []string, error)
	Save(ctx context.Context, userID string, s Store) error
}

// StorageKey is the persisted key of a user's store.
func StorageKey(userID string) string {
	return "eco-notifications-" + userID
}

// Welcome is the notification synthesized for a user with an empty store.
// Its id is derived from the user id so it can never be duplicated.
func Welcome(userID string, now time.Time) Notification {
	return Notification{
		ID:        "welcome-" + userID,
		Type:      "welcome",
		Category:  CategorySystem,
		Title:     "Welcome to EcoLearn!",
		Message:   "Start your first course to earn XP and eco-coins.",
		CreatedAt: now,
	}
}
