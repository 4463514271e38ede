// Package auth defines the identity types and the contract of the remote
// auth provider consumed by the session manager.
package auth

import (
	"context"
	"time"
)

// User is the identity record owned by the auth provider.
type User struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// Session is the credential bundle issued by the provider. The core treats it
// as opaque apart from clearing it on sign-out.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Expired reports whether the access token has passed its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// SignUpOptions carries user metadata stored alongside the identity.
type SignUpOptions struct {
	Data map[string]any
}

// ChangeEvent names an auth state transition pushed by the provider.
type ChangeEvent string

const (
	EventInitialSession ChangeEvent = "INITIAL_SESSION"
	EventSignedIn       ChangeEvent = "SIGNED_IN"
	EventSignedOut      ChangeEvent = "SIGNED_OUT"
	EventTokenRefreshed ChangeEvent = "TOKEN_REFRESHED"
	EventUserUpdated    ChangeEvent = "USER_UPDATED"
)

// Change is delivered to OnAuthStateChange handlers. Session is nil for SIGNED_OUT.
type Change struct {
	Event   ChangeEvent
	Session *Session
}

// ChangeHandler receives auth state changes. Handlers may be invoked from any goroutine.
type ChangeHandler func(Change)

// Provider is the remote auth provider. Every method returns errors already
// classified as *fault.Error.
type Provider interface {
	// GetSession returns the current session, or nil when signed out.
	GetSession(ctx context.Context) (*Session, error)
	// SignInWithPassword authenticates and returns the new session.
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	// SignUp registers a user. The session is nil when the provider requires
	// confirmation before issuing one.
	SignUp(ctx context.Context, email, password string, opts SignUpOptions) (*User, *Session, error)
	// SignOut revokes the current session.
	SignOut(ctx context.Context) error
	// OnAuthStateChange registers h and returns a function that removes it.
	OnAuthStateChange(h ChangeHandler) (unsubscribe func())
}
