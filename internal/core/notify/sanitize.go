package notify

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Sanitize decodes a persisted store and repairs it. It never fails: input that
// is not a JSON object yields an empty store. The returned problems describe
// every repair so callers can log them.
//
// Repairs applied:
//   - entities missing a required field, or stored under a key other than their id, are dropped
//   - order entries that reference no entity, or repeat, are dropped
//   - entities absent from order are added back
//   - order is re-sorted newest first and the store truncated to limit
func Sanitize(raw []byte, limit int) (Store, []string) {
	var problems []string

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil || top == nil {
		return New(), []string{"persisted store is not an object"}
	}

	out := New()

	var rawEntities map[string]json.RawMessage
	if err := json.Unmarshal(top["entities"], &rawEntities); err != nil {
		problems = append(problems, "entities is not an object")
	}
	for key, v := range rawEntities {
		var n Notification
		if err := json.Unmarshal(v, &n); err != nil {
			problems = append(problems, fmt.Sprintf("entity %q: %v", key, err))
			continue
		}
		if reason := invalid(n); reason != "" {
			problems = append(problems, fmt.Sprintf("entity %q: %s", key, reason))
			continue
		}
		if n.ID != key {
			problems = append(problems, fmt.Sprintf("entity %q: stored under wrong key", key))
			continue
		}
		if !n.Category.Valid() {
			n.Category = CategorySystem
		}
		out.Entities[key] = n
	}

	var rawOrder []json.RawMessage
	if err := json.Unmarshal(top["order"], &rawOrder); err != nil && len(top["order"]) > 0 {
		problems = append(problems, "order is not a list")
	}
	seen := make(map[string]bool, len(rawOrder))
	for _, v := range rawOrder {
		var id string
		if err := json.Unmarshal(v, &id); err != nil {
			problems = append(problems, "order entry is not a string")
			continue
		}
		if _, ok := out.Entities[id]; !ok || seen[id] {
			problems = append(problems, fmt.Sprintf("order entry %q is dangling", id))
			continue
		}
		seen[id] = true
		out.Order = append(out.Order, id)
	}
	for id := range out.Entities {
		if !seen[id] {
			problems = append(problems, fmt.Sprintf("entity %q missing from order", id))
			out.Order = append(out.Order, id)
		}
	}

	out.sortOrder()
	if limit > 0 && len(out.Order) > limit {
		problems = append(problems, fmt.Sprintf("store has %d entries, truncated to %d", len(out.Order), limit))
		out.truncate(limit)
	}

	return out, problems
}

func invalid(n Notification) string {
	switch {
	case strings.TrimSpace(n.ID) == "":
		return "missing id"
	case n.Type == "":
		return "missing type"
	case n.Title == "":
		return "missing title"
	case n.Message == "":
		return "missing message"
	case n.CreatedAt.IsZero():
		return "missing createdAt"
	}
	return ""
}

// Check verifies the order/entities invariant.
func Check(s Store) error {
	if len(s.Order) != len(s.Entities) {
		return fmt.Errorf("order has %d ids, entities has %d", len(s.Order), len(s.Entities))
	}
	seen := make(map[string]bool, len(s.Order))
	for i, id := range s.Order {
		n, ok := s.Entities[id]
		if !ok {
			return fmt.Errorf("order[%d] %q is dangling", i, id)
		}
		if seen[id] {
			return fmt.Errorf("order[%d] %q is repeated", i, id)
		}
		seen[id] = true
		if i > 0 && s.Entities[s.Order[i-1]].CreatedAt.Before(n.CreatedAt) {
			return fmt.Errorf("order[%d] %q is newer than its predecessor", i, id)
		}
	}
	return nil
}
