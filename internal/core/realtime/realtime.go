// Package realtime defines the push-subscription contract for row changes.
package realtime

import (
	"context"
	"fmt"
)

// Filter scopes a subscription to rows of one table.
type Filter struct {
	Schema string
	Table  string
	// Expr is a PostgREST-style filter such as "id=eq.<userId>".
	Expr string
}

// ProfileRow returns the filter for a single user's profile row.
func ProfileRow(userID string) Filter {
	return Filter{Schema: "public", Table: "profiles", Expr: "id=eq." + userID}
}

// Topic is the channel name used for the filter.
func (f Filter) Topic() string {
	return fmt.Sprintf("realtime:%s:%s:%s", f.Schema, f.Table, f.Expr)
}

// Change is a generic row-change notification. Subscribers do not inspect the
// record, they refetch.
type Change struct {
	Type   string // INSERT, UPDATE or DELETE
	Table  string
	Record map[string]any
}

// Subscription is a live channel. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe() error
}

// Channel opens subscriptions.
type Channel interface {
	Subscribe(ctx context.Context, f Filter, handler func(Change)) (Subscription, error)
}

// SubscriptionFunc adapts a plain function to Subscription.
type SubscriptionFunc func() error

func (fn SubscriptionFunc) Unsubscribe() error { return fn() }
