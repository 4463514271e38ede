package notify

import (
	"reflect"
	"slices"
)

// Ingest upserts n by id. An existing entry keeps read only if both the
// stored and the incoming copy are read. The order is re-sorted newest first
// and the store truncated to limit. changed is false when the result equals s.
func Ingest(s Store, n Notification, limit int) (Store, bool) {
	if n.ID == "" {
		return s, false
	}

	existing, exists := s.Entities[n.ID]
	if exists {
		n.Read = existing.Read && n.Read
		if equal(existing, n) {
			return s, false
		}
	}

	out := s.clone()
	out.Entities[n.ID] = n
	out.Order = slices.DeleteFunc(out.Order, func(id string) bool { return id == n.ID })
	out.Order = slices.Insert(out.Order, 0, n.ID)
	out.sortOrder()
	out.truncate(limit)

	if !exists {
		if _, kept := out.Entities[n.ID]; !kept {
			// Older than everything in a full store.
			return s, false
		}
	}
	return out, true
}

// MarkAsRead marks a single entry read.
func MarkAsRead(s Store, id string) (Store, bool) {
	return SetReadState(s, []string{id}, true)
}

// MarkAllAsRead marks every entry read. Calling it on a fully read store is a no-op.
func MarkAllAsRead(s Store) (Store, bool) {
	return SetReadState(s, s.Order, true)
}

// SetReadState sets read on every listed id. Unknown ids are ignored.
func SetReadState(s Store, ids []string, read bool) (Store, bool) {
	var out Store
	changed := false
	for _, id := range ids {
		n, ok := s.Entities[id]
		if !ok || n.Read == read {
			continue
		}
		if !changed {
			out = s.clone()
			changed = true
		}
		n.Read = read
		out.Entities[id] = n
	}
	if !changed {
		return s, false
	}
	return out, true
}

// Dismiss removes an entry permanently.
func Dismiss(s Store, id string) (Store, bool) {
	if _, ok := s.Entities[id]; !ok {
		return s, false
	}
	out := s.clone()
	delete(out.Entities, id)
	out.Order = slices.DeleteFunc(out.Order, func(o string) bool { return o == id })
	return out, true
}

func equal(a, b Notification) bool {
	return a.ID == b.ID &&
		a.Type == b.Type &&
		a.Category == b.Category &&
		a.Title == b.Title &&
		a.Message == b.Message &&
		a.Read == b.Read &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		((len(a.Meta) == 0 && len(b.Meta) == 0) || reflect.DeepEqual(a.Meta, b.Meta))
}
