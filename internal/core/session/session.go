// Package session defines the session manager's state machine and the
// read-only snapshot it exposes to the CLI, the TUI and the inbox.
package session

import (
	"fmt"

	"github.com/kartik102005/ecolearn/internal/core/auth"
	"github.com/kartik102005/ecolearn/internal/core/profile"
)

// Phase is the single authoritative state of the session manager.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseInitializing  Phase = "initializing"
	PhaseAuthenticated Phase = "authenticated"
	PhaseAnonymous     Phase = "anonymous"
	PhaseInitFailed    Phase = "init_failed"
)

// transitions lists the permitted edges. Self-edges on authenticated cover
// token refreshes and profile updates.
var transitions = map[Phase][]Phase{
	PhaseUninitialized: {PhaseInitializing},
	PhaseInitializing:  {PhaseAuthenticated, PhaseAnonymous, PhaseInitFailed},
	PhaseAuthenticated: {PhaseAuthenticated, PhaseAnonymous},
	PhaseAnonymous:     {PhaseAuthenticated, PhaseAnonymous},
	PhaseInitFailed:    {PhaseAuthenticated, PhaseAnonymous},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// ErrIllegalTransition is returned when a caller asks for an edge not in the table.
type ErrIllegalTransition struct {
	From, To Phase
}

func (e ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal session transition %s -> %s", e.From, e.To)
}

// Loading reports whether the phase still blocks the UI.
func (p Phase) Loading() bool {
	return p == PhaseUninitialized || p == PhaseInitializing
}

// State is an immutable snapshot of the session manager.
type State struct {
	Phase   Phase
	Loading bool
	Session *auth.Session
	User    *auth.User
	Profile *profile.Profile
	// Error is a user-visible message; empty unless the failure is actionable.
	Error string
}

// UserID returns the authenticated user's id or "".
func (s State) UserID() string {
	if s.User == nil {
		return ""
	}
	return s.User.ID
}

// Authenticated reports whether a user is signed in.
func (s State) Authenticated() bool {
	return s.Phase == PhaseAuthenticated && s.User != nil
}
