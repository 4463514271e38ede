package notify

import (
	"slices"
	"strings"
)

// TypeGeneric replaces event types that would collide with a CountsByType key.
const TypeGeneric = "generic"

// ReservedType reports whether t cannot be used as an entity type because
// CountsByType already uses it for a category, an unread total or an unread
// per-type key.
func ReservedType(t string) bool {
	return t == "unread" || strings.HasSuffix(t, "-unread") || Category(t).Valid()
}

// UnreadCount returns the number of unread entries.
func UnreadCount(s Store) int {
	count := 0
	for _, n := range s.Entities {
		if !n.Read {
			count++
		}
	}
	return count
}

// CountsByType returns totals keyed by type, by "<type>-unread", by category
// name, and an overall "unread" total.
func CountsByType(s Store) map[string]int {
	counts := map[string]int{"unread": 0}
	for _, n := range s.Entities {
		counts[n.Type]++
		counts[string(n.Category)]++
		if !n.Read {
			counts[n.Type+"-unread"]++
			counts["unread"]++
		}
	}
	return counts
}

// List returns the entries in display order.
func List(s Store) []Notification {
	out := make([]Notification, 0, len(s.Order))
	for _, id := range s.Order {
		if n, ok := s.Entities[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Equal reports whether a and b hold the same entries in the same order.
func Equal(a, b Store) bool {
	if !slices.Equal(a.Order, b.Order) {
		return false
	}
	for _, id := range a.Order {
		if !equal(a.Entities[id], b.Entities[id]) {
			return false
		}
	}
	return true
}
